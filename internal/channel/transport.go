package channel

import (
	"context"

	"github.com/samueldurantes/chesu-client/internal/wire"
)

// ConnState is the lifecycle of one realtime connection. It is scoped to
// a single mounted game view; there is no automatic reconnect, re-mount
// is the recovery path.
type ConnState string

const (
	StateConnecting ConnState = "connecting"
	StateOpen       ConnState = "open"
	StateClosed     ConnState = "closed"
)

type EventHandler func(wire.Event)

type StateHandler func(ConnState)

// Transport is one bidirectional event stream bound to a session. The
// websocket implementation is the primary; the polling implementation is
// a degraded fallback behind the same interface. Handlers must be
// registered before Connect; events are delivered strictly in arrival
// order from a single goroutine.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, ev wire.Event) error
	State() ConnState
	OnEvent(EventHandler)
	OnStateChange(StateHandler)
	Close(ctx context.Context) error
}
