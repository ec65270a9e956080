package dialogue

import "github.com/aea-network/aea/internal/helpers"

// Rules describes which performatives may open a dialogue, which end it,
// and which performatives validly reply to which, per the teacher's Rules
// (dialogue.go). initialPerformatives/terminalPerformatives are kept as
// helpers.Set rather than a map[string]struct{} so Contains reads the same
// way the teacher's Rules does.
type Rules struct {
	initialPerformatives  helpers.Set
	terminalPerformatives helpers.Set
	validReplies          map[string]helpers.Set
}

// NewRules builds a Rules from a valid-reply graph: validReplies maps a
// performative to the set of performatives that may legally reply to it.
// initial/terminal name the performatives that may start or end a dialogue.
func NewRules(initial, terminal []string, validReplies map[string][]string) Rules {
	r := Rules{
		initialPerformatives:  helpers.NewSet(),
		terminalPerformatives: helpers.NewSet(),
		validReplies:          make(map[string]helpers.Set, len(validReplies)),
	}
	for _, p := range initial {
		r.initialPerformatives.Add(p)
	}
	for _, p := range terminal {
		r.terminalPerformatives.Add(p)
	}
	for performative, replies := range validReplies {
		set := helpers.NewSet()
		set.AddFromArray(toGeneric(replies))
		r.validReplies[performative] = set
	}
	return r
}

func toGeneric(in []string) []helpers.Generic {
	out := make([]helpers.Generic, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

func (r Rules) isInitial(performative string) bool  { return r.initialPerformatives.Contains(performative) }
func (r Rules) isTerminal(performative string) bool { return r.terminalPerformatives.Contains(performative) }

// isValidReply reports whether reply may legally follow a message whose
// performative was target.
func (r Rules) isValidReply(target, reply string) bool {
	set, ok := r.validReplies[target]
	if !ok {
		return false
	}
	return set.Contains(reply)
}
