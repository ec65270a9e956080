package connection

import (
	"context"

	"github.com/aea-network/aea/internal/protocol"
)

// Connection is the polymorphic transport the Multiplexer owns, matching
// spec.md §4.3's `{connect(), disconnect(), send(env), receive() → env,
// is_connected}` capability, generalizing the teacher's per-transport
// clients (P2PClientApi, the libp2p DHT peer) behind one interface.
type Connection interface {
	ID() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Send(ctx context.Context, env *protocol.Envelope) error
	Receive(ctx context.Context) (*protocol.Envelope, error)
	IsConnected() bool
}

// ExceptionPolicy is a per-connection error-handling policy, per spec.md
// §4.3.
type ExceptionPolicy string

const (
	PolicyPropagate   ExceptionPolicy = "propagate"
	PolicyStopAndExit ExceptionPolicy = "stop_and_exit"
	PolicyJustLog     ExceptionPolicy = "just_log"
)
