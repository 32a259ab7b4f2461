package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/samueldurantes/chesu-client/internal/domain"
	"github.com/samueldurantes/chesu-client/internal/obslog"
	"github.com/samueldurantes/chesu-client/internal/wire"
)

// WebSocket binds one connection to one session for the lifetime of a
// game view. The join handshake is the server's: the first client frame
// is the bare session id, everything after is an {event, data} envelope.
type WebSocket struct {
	wsURL     string
	sessionID uuid.UUID

	conn   *websocket.Conn
	state  ConnState
	stateM sync.RWMutex

	onEvent EventHandler
	onState StateHandler
	cbM     sync.RWMutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func NewWebSocket(wsURL string, sessionID uuid.UUID) *WebSocket {
	return &WebSocket{
		wsURL:     wsURL,
		sessionID: sessionID,
		state:     StateClosed,
		stopCh:    make(chan struct{}),
	}
}

func (ws *WebSocket) Connect(ctx context.Context) error {
	ws.stateM.Lock()
	if ws.state == StateOpen || ws.state == StateConnecting {
		ws.stateM.Unlock()
		return nil
	}
	ws.stateM.Unlock()

	ws.rootCtx, ws.rootCancel = context.WithCancel(context.Background())
	ws.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, ws.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		ws.rootCancel()
		ws.setState(StateClosed)
		return fmt.Errorf("dial %s: %w", ws.wsURL, err)
	}

	// Join handshake: bind this connection to the session.
	if err := conn.Write(dialCtx, websocket.MessageText, []byte(ws.sessionID.String())); err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "handshake")
		ws.rootCancel()
		ws.setState(StateClosed)
		return fmt.Errorf("join handshake: %w", err)
	}

	ws.conn = conn
	ws.setState(StateOpen)

	ws.wg.Add(1)
	go ws.listen()
	return nil
}

func (ws *WebSocket) listen() {
	defer ws.wg.Done()
	for {
		select {
		case <-ws.stopCh:
			return
		default:
		}

		_, raw, err := ws.conn.Read(ws.rootCtx)
		if err != nil {
			if ws.isStopping() {
				return
			}
			obslog.L().Warn("ws_read_error", zap.String("game_id", ws.sessionID.String()), zap.Error(err))
			ws.setState(StateClosed)
			return
		}

		ev, err := wire.Decode(raw)
		if err != nil {
			// Malformed or unrecognized frames are dropped, never fatal.
			obslog.L().Warn("ws_frame_dropped", zap.String("game_id", ws.sessionID.String()), zap.Error(err))
			continue
		}

		ws.cbM.RLock()
		handler := ws.onEvent
		ws.cbM.RUnlock()
		if handler != nil {
			handler(ev)
		}
	}
}

func (ws *WebSocket) Send(ctx context.Context, ev wire.Event) error {
	if ws.State() != StateOpen {
		return domain.ErrChannelClosed
	}
	raw, err := ev.Encode()
	if err != nil {
		return err
	}
	if err := ws.conn.Write(ctx, websocket.MessageText, raw); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrChannelClosed, err)
	}
	return nil
}

func (ws *WebSocket) State() ConnState {
	ws.stateM.RLock()
	defer ws.stateM.RUnlock()
	return ws.state
}

func (ws *WebSocket) OnEvent(cb EventHandler) {
	ws.cbM.Lock()
	ws.onEvent = cb
	ws.cbM.Unlock()
}

func (ws *WebSocket) OnStateChange(cb StateHandler) {
	ws.cbM.Lock()
	ws.onState = cb
	ws.cbM.Unlock()
}

func (ws *WebSocket) setState(state ConnState) {
	ws.stateM.Lock()
	if ws.state == state {
		ws.stateM.Unlock()
		return
	}
	ws.state = state
	ws.stateM.Unlock()

	ws.cbM.RLock()
	handler := ws.onState
	ws.cbM.RUnlock()
	if handler != nil {
		handler(state)
	}
}

// Close tears the connection down and waits for the listener to drain.
// Callers send their Disconnect notice before calling Close; Close
// itself only releases the resource.
func (ws *WebSocket) Close(ctx context.Context) error {
	ws.stopOnce.Do(func() { close(ws.stopCh) })
	if ws.conn != nil {
		_ = ws.conn.Close(websocket.StatusNormalClosure, "view unmounted")
	}
	ws.setState(StateClosed)

	done := make(chan struct{})
	go func() {
		ws.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		if ws.rootCancel != nil {
			ws.rootCancel()
		}
		return nil
	}
}

func (ws *WebSocket) isStopping() bool {
	select {
	case <-ws.stopCh:
		return true
	default:
		return false
	}
}
