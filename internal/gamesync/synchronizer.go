package gamesync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/samueldurantes/chesu-client/internal/board"
	"github.com/samueldurantes/chesu-client/internal/channel"
	"github.com/samueldurantes/chesu-client/internal/domain"
	"github.com/samueldurantes/chesu-client/internal/obslog"
	"github.com/samueldurantes/chesu-client/internal/wire"
)

// Phase is the synchronizer's own lifecycle, distinct from the game
// state the server declares.
type Phase string

const (
	// PhaseInitializing means the snapshot has not been applied yet;
	// every inbound event is buffered and move submission is refused.
	PhaseInitializing Phase = "initializing"
	PhaseSynced       Phase = "synced"
	// PhaseTerminal is sticky: once the game is decided the session
	// never accepts another move, whatever arrives afterwards.
	PhaseTerminal Phase = "terminal"
)

const joinRefetchTimeout = 5 * time.Second

// Synchronizer keeps one game session coherent: it loads the
// authoritative snapshot, folds streamed events into the move log, and
// derives everything a view needs from the log alone. Moves are never
// appended optimistically; a submitted move only enters the log when
// the server echoes it back.
type Synchronizer struct {
	sessionID uuid.UUID
	viewer    domain.Player
	snapshot  channel.SnapshotFunc
	transport channel.Transport

	mu        sync.Mutex
	session   *domain.Session
	pos       *board.Position
	phase     Phase
	corrupt   bool
	connState channel.ConnState
	wasOpen   bool
	oppGone   bool
	pending   []wire.Event

	onChange func(View)
}

func New(sessionID uuid.UUID, viewer domain.Player, snapshot channel.SnapshotFunc, transport channel.Transport) *Synchronizer {
	start, _ := board.Reconstruct(nil)
	return &Synchronizer{
		sessionID: sessionID,
		viewer:    viewer,
		snapshot:  snapshot,
		transport: transport,
		pos:       start,
		phase:     PhaseInitializing,
		connState: channel.StateClosed,
	}
}

// OnChange registers the view callback. Register before Start; the
// callback fires after every applied change, outside the internal lock.
func (s *Synchronizer) OnChange(cb func(View)) {
	s.mu.Lock()
	s.onChange = cb
	s.mu.Unlock()
}

// Start connects the transport, then loads and applies the snapshot.
// Connecting first means no gap where a move could slip past both the
// snapshot and the stream; events that race the snapshot are buffered
// and replayed, where the duplicate check absorbs any overlap.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.transport.OnEvent(s.handleEvent)
	s.transport.OnStateChange(s.handleConnState)

	if err := s.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect session channel: %w", err)
	}

	snap, err := s.snapshot(ctx, s.sessionID)
	if err != nil {
		_ = s.transport.Close(ctx)
		return fmt.Errorf("load session %s: %w", s.sessionID, err)
	}

	s.mu.Lock()
	s.applySnapshot(snap)
	if s.phase != PhaseTerminal {
		s.phase = PhaseSynced
	}
	buffered := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, ev := range buffered {
		s.handleEvent(ev)
	}
	s.notify()
	return nil
}

// applySnapshot replaces session state wholesale and rebuilds the
// position. Caller holds s.mu.
func (s *Synchronizer) applySnapshot(snap *domain.Session) {
	s.session = snap
	if snap.State.Terminal() {
		s.phase = PhaseTerminal
	}

	pos, err := board.Reconstruct(snap.Moves)
	if err != nil {
		obslog.L().Error("move_log_corrupt",
			zap.String("game_id", snap.ID.String()),
			zap.Int("moves", len(snap.Moves)),
			zap.Error(err))
		s.corrupt = true
		return
	}
	s.pos = pos
}

func (s *Synchronizer) handleEvent(ev wire.Event) {
	s.mu.Lock()
	if s.session == nil {
		s.pending = append(s.pending, ev)
		s.mu.Unlock()
		return
	}

	if ev.Kind == wire.KindJoin {
		// The re-fetch is a network call; it must not hold the lock.
		s.mu.Unlock()
		if s.refreshFromServer() {
			s.notify()
		}
		return
	}

	changed := false
	switch ev.Kind {
	case wire.KindPlayMove:
		if ev.Move != nil {
			changed = s.applyMove(*ev.Move)
		}
	case wire.KindGameChangeState:
		changed = s.applyState(ev.State)
	case wire.KindDisconnect:
		if ev.Disconnect != nil && ev.Disconnect.PlayerID != s.viewer.ID {
			s.oppGone = true
			changed = true
		}
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// applyMove folds an echoed move into the log. Caller holds s.mu.
func (s *Synchronizer) applyMove(mv wire.MoveInfo) bool {
	if mv.GameID != uuid.Nil && mv.GameID != s.session.ID {
		obslog.L().Warn("move_for_other_game",
			zap.String("game_id", s.session.ID.String()),
			zap.String("event_game_id", mv.GameID.String()))
		return false
	}
	if s.phase == PhaseTerminal {
		obslog.L().Warn("move_after_terminal",
			zap.String("game_id", s.session.ID.String()),
			zap.String("move", mv.MovePlayed))
		return false
	}
	if s.corrupt {
		return false
	}
	// Redelivery of the newest move is a no-op, so double echoes and
	// snapshot/stream overlap cannot double-append. Matching SAN alone
	// is not enough: consecutive identical notations happen in real
	// games (a recapture on the same square), so the event only counts
	// as a duplicate when its player already holds the last entry's
	// parity slot.
	if n := len(s.session.Moves); n > 0 && s.session.Moves[n-1] == mv.MovePlayed {
		if mover := s.session.Mover(n - 1); mover != nil && mover.ID == mv.PlayerID {
			return false
		}
	}

	moves := append(s.session.Moves, mv.MovePlayed)
	pos, err := board.Reconstruct(moves)
	if err != nil {
		obslog.L().Error("move_log_corrupt",
			zap.String("game_id", s.session.ID.String()),
			zap.String("move", mv.MovePlayed),
			zap.Error(err))
		s.session.Moves = moves
		s.corrupt = true
		return true
	}
	s.session.Moves = moves
	s.pos = pos
	return true
}

// refreshFromServer re-fetches the snapshot on a Join notification.
// Seats and lifecycle are replaced wholesale; the move log is kept,
// since streamed moves may be ahead of what the snapshot recorded.
// Called without s.mu; the fetch is slow and must not block View or
// the other event kinds.
func (s *Synchronizer) refreshFromServer() bool {
	ctx, cancel := context.WithTimeout(context.Background(), joinRefetchTimeout)
	snap, err := s.snapshot(ctx, s.sessionID)
	cancel()
	if err != nil {
		obslog.L().Warn("join_refetch_failed",
			zap.String("game_id", s.sessionID.String()),
			zap.Error(err))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || snap.ID != s.session.ID {
		return false
	}
	s.session.White = snap.White
	s.session.Black = snap.Black
	s.session.BetValue = snap.BetValue
	s.session.TimeControl = snap.TimeControl
	s.applyState(snap.State)
	return true
}

// applyState records the server-declared lifecycle state. Caller holds
// s.mu.
func (s *Synchronizer) applyState(st domain.State) bool {
	if s.session.State == st {
		return false
	}
	s.session.State = st
	if st.Terminal() {
		s.phase = PhaseTerminal
	}
	return true
}

func (s *Synchronizer) handleConnState(st channel.ConnState) {
	s.mu.Lock()
	s.connState = st
	if st == channel.StateOpen {
		s.wasOpen = true
	}
	s.mu.Unlock()
	s.notify()
}

// AttemptMove validates a candidate move locally and submits it over
// the channel. The local log is not touched: the move appears on the
// board only when the server echoes it back, keeping every client
// convergent on the same authoritative order.
func (s *Synchronizer) AttemptMove(ctx context.Context, san string) error {
	s.mu.Lock()

	if s.phase == PhaseTerminal {
		s.mu.Unlock()
		return fmt.Errorf("%w: game is %s", domain.ErrGameOver, s.session.State)
	}
	if s.phase == PhaseInitializing {
		s.mu.Unlock()
		return fmt.Errorf("%w: session still loading", domain.ErrIllegalMove)
	}
	if s.corrupt {
		s.mu.Unlock()
		return fmt.Errorf("%w: move log is corrupt", domain.ErrIllegalMove)
	}

	role := s.session.RoleOf(s.viewer.ID)
	color, seated := role.Color()
	if !seated {
		s.mu.Unlock()
		return fmt.Errorf("%w: spectators cannot move", domain.ErrIllegalMove)
	}
	if s.session.SideToMove() != color {
		s.mu.Unlock()
		return fmt.Errorf("%w: not your turn", domain.ErrIllegalMove)
	}

	canonical, _, err := board.Apply(s.session.Moves, san)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	ev := wire.NewPlayMove(s.session.ID, s.viewer.ID, canonical)
	s.mu.Unlock()

	// Sent outside the lock: a slow channel must not block the event
	// handlers, and the echo of this very move may arrive concurrently.
	if err := s.transport.Send(ctx, ev); err != nil {
		return err
	}
	return nil
}

// Close notifies the server that this viewer is leaving, then releases
// the channel. Both steps are best effort; a dead channel cannot carry
// the notice anyway.
func (s *Synchronizer) Close(ctx context.Context) error {
	if s.transport.State() == channel.StateOpen {
		if err := s.transport.Send(ctx, wire.NewDisconnect(s.sessionID, s.viewer.ID)); err != nil {
			obslog.L().Debug("disconnect_notice_failed",
				zap.String("game_id", s.sessionID.String()),
				zap.Error(err))
		}
	}
	return s.transport.Close(ctx)
}

func (s *Synchronizer) notify() {
	s.mu.Lock()
	cb := s.onChange
	view := s.viewLocked()
	s.mu.Unlock()
	if cb != nil {
		cb(view)
	}
}
