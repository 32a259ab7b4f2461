package channel

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/samueldurantes/chesu-client/internal/domain"
	"github.com/samueldurantes/chesu-client/internal/obslog"
	"github.com/samueldurantes/chesu-client/internal/wire"
)

// SnapshotFunc fetches the authoritative session detail.
type SnapshotFunc func(ctx context.Context, id uuid.UUID) (*domain.Session, error)

// SubmitFunc pushes a move over REST, used when no websocket is
// available.
type SubmitFunc func(ctx context.Context, id uuid.UUID, san string) (*domain.Session, error)

// Poller is the degraded fallback transport: it re-fetches the session
// periodically and synthesizes the events a websocket would have
// delivered, so the synchronizer runs unchanged on top of it.
type Poller struct {
	sessionID uuid.UUID
	fetch     SnapshotFunc
	submit    SubmitFunc
	interval  time.Duration
	clock     clockwork.Clock

	state  ConnState
	stateM sync.RWMutex

	onEvent EventHandler
	onState StateHandler
	cbM     sync.RWMutex

	last  *domain.Session
	lastM sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPoller(sessionID uuid.UUID, fetch SnapshotFunc, submit SubmitFunc, interval time.Duration) *Poller {
	return NewPollerWithClock(sessionID, fetch, submit, interval, clockwork.NewRealClock())
}

// NewPollerWithClock injects the clock; tests drive it with a fake.
func NewPollerWithClock(sessionID uuid.UUID, fetch SnapshotFunc, submit SubmitFunc, interval time.Duration, clock clockwork.Clock) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{
		sessionID: sessionID,
		fetch:     fetch,
		submit:    submit,
		interval:  interval,
		clock:     clock,
		state:     StateClosed,
		stopCh:    make(chan struct{}),
	}
}

func (p *Poller) Connect(ctx context.Context) error {
	p.stateM.Lock()
	if p.state == StateOpen {
		p.stateM.Unlock()
		return nil
	}
	p.stateM.Unlock()

	p.setState(StateConnecting)

	// Baseline observation; ticks diff against it. Failing here is the
	// polling equivalent of a failed dial.
	baseline, err := p.fetch(ctx, p.sessionID)
	if err != nil {
		p.setState(StateClosed)
		return err
	}
	p.lastM.Lock()
	p.last = baseline
	p.lastM.Unlock()

	p.setState(StateOpen)
	p.wg.Add(1)
	go p.loop()
	return nil
}

func (p *Poller) loop() {
	defer p.wg.Done()
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.Chan():
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.interval*3)
		cur, err := p.fetch(ctx, p.sessionID)
		cancel()
		if err != nil {
			failures++
			obslog.L().Warn("poll_fetch_error", zap.String("game_id", p.sessionID.String()), zap.Int("failures", failures), zap.Error(err))
			if failures >= 5 {
				p.setState(StateClosed)
				return
			}
			continue
		}
		failures = 0
		p.diff(cur)
	}
}

// diff synthesizes Join / PlayMove / GameChangeState events from two
// consecutive snapshots, in that order, so a checkmate tick grows the
// log before the terminal state locks it.
func (p *Poller) diff(cur *domain.Session) {
	p.lastM.Lock()
	defer p.lastM.Unlock()

	prev := p.last
	p.last = cur
	if prev == nil {
		// First observation; the snapshot loader covers initial state.
		return
	}

	if seatFilled(prev.White, cur.White) || seatFilled(prev.Black, cur.Black) {
		p.deliver(wire.Event{Kind: wire.KindJoin})
	}

	for i := len(prev.Moves); i < len(cur.Moves); i++ {
		playerID := uuid.Nil
		if mover := cur.Mover(i); mover != nil {
			playerID = mover.ID
		}
		p.deliver(wire.NewPlayMove(cur.ID, playerID, cur.Moves[i]))
	}

	if prev.State != cur.State {
		p.deliver(wire.Event{Kind: wire.KindGameChangeState, State: cur.State})
	}
}

func seatFilled(prev, cur *domain.Player) bool {
	return prev == nil && cur != nil
}

func (p *Poller) deliver(ev wire.Event) {
	p.cbM.RLock()
	handler := p.onEvent
	p.cbM.RUnlock()
	if handler != nil {
		handler(ev)
	}
}

func (p *Poller) Send(ctx context.Context, ev wire.Event) error {
	if p.State() != StateOpen {
		return domain.ErrChannelClosed
	}
	switch ev.Kind {
	case wire.KindPlayMove:
		if p.submit == nil {
			return domain.ErrChannelClosed
		}
		cur, err := p.submit(ctx, ev.Move.GameID, ev.Move.MovePlayed)
		if err != nil {
			return err
		}
		// The next tick would pick the move up anyway; diffing now keeps
		// the echo-back latency close to the websocket path.
		p.diff(cur)
		return nil
	case wire.KindDisconnect:
		// Nothing to notify; polling holds no server-side presence.
		return nil
	}
	return nil
}

func (p *Poller) State() ConnState {
	p.stateM.RLock()
	defer p.stateM.RUnlock()
	return p.state
}

func (p *Poller) OnEvent(cb EventHandler) {
	p.cbM.Lock()
	p.onEvent = cb
	p.cbM.Unlock()
}

func (p *Poller) OnStateChange(cb StateHandler) {
	p.cbM.Lock()
	p.onState = cb
	p.cbM.Unlock()
}

func (p *Poller) setState(state ConnState) {
	p.stateM.Lock()
	if p.state == state {
		p.stateM.Unlock()
		return
	}
	p.state = state
	p.stateM.Unlock()

	p.cbM.RLock()
	handler := p.onState
	p.cbM.RUnlock()
	if handler != nil {
		handler(state)
	}
}

func (p *Poller) Close(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.setState(StateClosed)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
