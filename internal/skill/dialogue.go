package skill

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aea-network/aea/internal/aeaerr"
	"github.com/aea-network/aea/internal/dialogue"
	"github.com/aea-network/aea/internal/protocol"
)

// DialogueAware wraps next so that, for any decoded message that also
// implements dialogue.AddressedMessage, the message is validated against
// dialogues (sequencing, valid-reply graph, terminal states) before next
// runs; a handler error due to an invalid message is reported with
// aeaerr.KindDecoding so it reaches the Dispatcher's ReasonHandlerError path
// like any other handler failure. Messages whose codec does not implement
// AddressedMessage (most protocols don't track dialogues) pass straight
// through to next, unexamined, matching spec.md §4.5's handler contract.
func DialogueAware(dialogues *dialogue.Dialogues, logger zerolog.Logger, next Handler) Handler {
	l := logger.With().Str("package", "DialogueAware").Logger()
	return func(ctx context.Context, env *protocol.Envelope, message protocol.Message) error {
		addressed, ok := message.(dialogue.AddressedMessage)
		if !ok {
			return next(ctx, env, message)
		}
		if _, err := dialogues.Update(addressed); err != nil {
			l.Warn().Str("sender", env.Sender).Str("performative", addressed.Performative()).Str("err", err.Error()).
				Msg("rejecting out-of-sequence dialogue message")
			return aeaerr.Wrap(aeaerr.KindDecoding, err, "message does not validly continue its dialogue")
		}
		return next(ctx, env, message)
	}
}
