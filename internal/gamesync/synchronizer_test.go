package gamesync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/samueldurantes/chesu-client/internal/channel"
	"github.com/samueldurantes/chesu-client/internal/domain"
	"github.com/samueldurantes/chesu-client/internal/wire"
)

type fakeTransport struct {
	mu      sync.Mutex
	state   channel.ConnState
	onEvent channel.EventHandler
	onState channel.StateHandler
	sent    []wire.Event
	sendErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{state: channel.StateClosed}
}

func (f *fakeTransport) Connect(context.Context) error {
	f.setState(channel.StateOpen)
	return nil
}

func (f *fakeTransport) Send(_ context.Context, ev wire.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, ev)
	return nil
}

func (f *fakeTransport) State() channel.ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) OnEvent(cb channel.EventHandler) {
	f.mu.Lock()
	f.onEvent = cb
	f.mu.Unlock()
}

func (f *fakeTransport) OnStateChange(cb channel.StateHandler) {
	f.mu.Lock()
	f.onState = cb
	f.mu.Unlock()
}

func (f *fakeTransport) Close(context.Context) error {
	f.setState(channel.StateClosed)
	return nil
}

func (f *fakeTransport) setState(st channel.ConnState) {
	f.mu.Lock()
	f.state = st
	cb := f.onState
	f.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

// deliver pushes an event through the registered handler, the way the
// websocket listener would.
func (f *fakeTransport) deliver(t *testing.T, ev wire.Event) {
	t.Helper()
	f.mu.Lock()
	cb := f.onEvent
	f.mu.Unlock()
	if cb == nil {
		t.Error("no event handler registered")
		return
	}
	cb(ev)
}

func (f *fakeTransport) sentEvents() []wire.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wire.Event(nil), f.sent...)
}

type fixture struct {
	sync      *Synchronizer
	transport *fakeTransport
}

// newFixture builds a synchronizer whose snapshot loader serves the
// given sessions in order, repeating the last one.
func newFixture(t *testing.T, viewer domain.Player, snapshots ...*domain.Session) *fixture {
	t.Helper()
	var (
		mu  sync.Mutex
		idx int
	)
	load := func(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
		mu.Lock()
		defer mu.Unlock()
		snap := snapshots[idx]
		if idx < len(snapshots)-1 {
			idx++
		}
		cp := *snap
		cp.Moves = append([]string(nil), snap.Moves...)
		return &cp, nil
	}
	tr := newFakeTransport()
	return &fixture{
		sync:      New(snapshots[0].ID, viewer, load, tr),
		transport: tr,
	}
}

func runningSession(id uuid.UUID, white, black domain.Player, moves ...string) *domain.Session {
	return &domain.Session{
		ID:    id,
		White: &domain.Player{ID: white.ID, Username: white.Username},
		Black: &domain.Player{ID: black.ID, Username: black.Username},
		Moves: moves,
		State: domain.StateRunning,
	}
}

func TestStart_AppliesSnapshot(t *testing.T) {
	id := uuid.New()
	white := domain.Player{ID: uuid.New(), Username: "anna"}
	black := domain.Player{ID: uuid.New(), Username: "boris"}
	fx := newFixture(t, white, runningSession(id, white, black, "e4", "e5"))

	if err := fx.sync.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = fx.sync.Close(context.Background()) })

	v := fx.sync.View()
	if v.Phase != PhaseSynced {
		t.Fatalf("phase = %s, want synced", v.Phase)
	}
	if v.Role != domain.RoleWhite || v.Orientation != domain.White {
		t.Fatalf("role/orientation = %s/%s", v.Role, v.Orientation)
	}
	if v.SideToMove != domain.White || !v.CanMove {
		t.Fatalf("turn gate wrong: sideToMove=%s canMove=%v", v.SideToMove, v.CanMove)
	}
	if v.OpponentName != "boris" {
		t.Fatalf("opponent = %q", v.OpponentName)
	}
	if len(v.MoveLog) != 2 {
		t.Fatalf("move log = %v", v.MoveLog)
	}
}

func TestAttemptMove_EchoAppends(t *testing.T) {
	id := uuid.New()
	white := domain.Player{ID: uuid.New(), Username: "anna"}
	black := domain.Player{ID: uuid.New(), Username: "boris"}
	fx := newFixture(t, white, runningSession(id, white, black))

	if err := fx.sync.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := fx.sync.AttemptMove(context.Background(), "e4"); err != nil {
		t.Fatalf("AttemptMove: %v", err)
	}

	sent := fx.transport.sentEvents()
	if len(sent) != 1 || sent[0].Kind != wire.KindPlayMove || sent[0].Move.MovePlayed != "e4" {
		t.Fatalf("sent = %+v", sent)
	}
	if sent[0].Move.PlayerID != white.ID || sent[0].Move.GameID != id {
		t.Fatalf("attribution = %+v", sent[0].Move)
	}

	// Not appended until the server echoes it back.
	if v := fx.sync.View(); len(v.MoveLog) != 0 {
		t.Fatalf("move appended before echo: %v", v.MoveLog)
	}

	fx.transport.deliver(t, sent[0])
	v := fx.sync.View()
	if len(v.MoveLog) != 1 || v.MoveLog[0] != "e4" {
		t.Fatalf("echo not applied: %v", v.MoveLog)
	}
	if v.SideToMove != domain.Black || v.CanMove {
		t.Fatalf("turn did not flip: sideToMove=%s canMove=%v", v.SideToMove, v.CanMove)
	}
	if !strings.Contains(v.FEN, " b ") {
		t.Fatalf("position not advanced: %s", v.FEN)
	}
}

func TestPlayMove_DuplicateEchoIsNoOp(t *testing.T) {
	id := uuid.New()
	white := domain.Player{ID: uuid.New(), Username: "anna"}
	black := domain.Player{ID: uuid.New(), Username: "boris"}
	fx := newFixture(t, white, runningSession(id, white, black))

	if err := fx.sync.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ev := wire.NewPlayMove(id, white.ID, "e4")
	fx.transport.deliver(t, ev)
	fx.transport.deliver(t, ev)

	if v := fx.sync.View(); len(v.MoveLog) != 1 {
		t.Fatalf("duplicate echo appended: %v", v.MoveLog)
	}
}

func TestPlayMove_ConsecutiveIdenticalNotationAppends(t *testing.T) {
	id := uuid.New()
	white := domain.Player{ID: uuid.New(), Username: "anna"}
	black := domain.Player{ID: uuid.New(), Username: "boris"}
	// Black just recaptured on d5; white's knight takes back with the
	// same notation. Two adjacent Nxd5 entries are both legal moves.
	fx := newFixture(t, white, runningSession(id, white, black,
		"e4", "d5", "exd5", "Nf6", "Nc3", "Nxd5"))

	if err := fx.sync.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fx.transport.deliver(t, wire.NewPlayMove(id, white.ID, "Nxd5"))

	v := fx.sync.View()
	if len(v.MoveLog) != 7 {
		t.Fatalf("recapture dropped as duplicate: %v", v.MoveLog)
	}
	if v.SideToMove != domain.Black {
		t.Fatalf("turn not advanced: %s", v.SideToMove)
	}

	// The same event again is a true duplicate: same player, same slot.
	fx.transport.deliver(t, wire.NewPlayMove(id, white.ID, "Nxd5"))
	if v := fx.sync.View(); len(v.MoveLog) != 7 {
		t.Fatalf("duplicate echo appended: %v", v.MoveLog)
	}
}

func TestPlayMove_OtherGameDropped(t *testing.T) {
	id := uuid.New()
	white := domain.Player{ID: uuid.New(), Username: "anna"}
	black := domain.Player{ID: uuid.New(), Username: "boris"}
	fx := newFixture(t, white, runningSession(id, white, black))

	if err := fx.sync.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fx.transport.deliver(t, wire.NewPlayMove(uuid.New(), black.ID, "e4"))
	if v := fx.sync.View(); len(v.MoveLog) != 0 {
		t.Fatalf("foreign move applied: %v", v.MoveLog)
	}
}

func TestTerminalState_LocksSession(t *testing.T) {
	id := uuid.New()
	white := domain.Player{ID: uuid.New(), Username: "anna"}
	black := domain.Player{ID: uuid.New(), Username: "boris"}
	fx := newFixture(t, white, runningSession(id, white, black, "e4", "e5"))

	if err := fx.sync.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fx.transport.deliver(t, wire.Event{Kind: wire.KindGameChangeState, State: domain.StateWhiteWin})

	v := fx.sync.View()
	if v.Phase != PhaseTerminal || v.Lifecycle != domain.StateWhiteWin {
		t.Fatalf("terminal not applied: phase=%s state=%s", v.Phase, v.Lifecycle)
	}
	if v.CanMove {
		t.Fatal("CanMove after terminal")
	}

	if err := fx.sync.AttemptMove(context.Background(), "Nf3"); !errors.Is(err, domain.ErrGameOver) {
		t.Fatalf("want ErrGameOver, got %v", err)
	}

	// Late echoes after the verdict are ignored.
	fx.transport.deliver(t, wire.NewPlayMove(id, white.ID, "Nf3"))
	if v := fx.sync.View(); len(v.MoveLog) != 2 {
		t.Fatalf("move applied after terminal: %v", v.MoveLog)
	}
}

func TestAttemptMove_TurnAndSeatEnforcement(t *testing.T) {
	id := uuid.New()
	white := domain.Player{ID: uuid.New(), Username: "anna"}
	black := domain.Player{ID: uuid.New(), Username: "boris"}
	spectator := domain.Player{ID: uuid.New(), Username: "carol"}

	cases := []struct {
		name   string
		viewer domain.Player
		moves  []string
		ok     bool
	}{
		{"white on white's turn", white, nil, true},
		{"white on black's turn", white, []string{"e4"}, false},
		{"black on white's turn", black, nil, false},
		{"black on black's turn", black, []string{"e4"}, true},
		{"spectator", spectator, nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t, tc.viewer, runningSession(id, white, black, tc.moves...))
			if err := fx.sync.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}

			err := fx.sync.AttemptMove(context.Background(), "Nf3")
			if tc.ok {
				if err != nil {
					t.Fatalf("AttemptMove: %v", err)
				}
				return
			}
			if !errors.Is(err, domain.ErrIllegalMove) {
				t.Fatalf("want ErrIllegalMove, got %v", err)
			}
			if len(fx.transport.sentEvents()) != 0 {
				t.Fatal("rejected move was still sent")
			}
		})
	}
}

func TestAttemptMove_IllegalMoveNeverSent(t *testing.T) {
	id := uuid.New()
	white := domain.Player{ID: uuid.New(), Username: "anna"}
	black := domain.Player{ID: uuid.New(), Username: "boris"}
	fx := newFixture(t, white, runningSession(id, white, black))

	if err := fx.sync.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := fx.sync.AttemptMove(context.Background(), "Ke2"); !errors.Is(err, domain.ErrIllegalMove) {
		t.Fatalf("want ErrIllegalMove, got %v", err)
	}
	if len(fx.transport.sentEvents()) != 0 {
		t.Fatal("illegal move was sent")
	}
}

func TestJoin_RefetchesSeatsKeepsLog(t *testing.T) {
	id := uuid.New()
	white := domain.Player{ID: uuid.New(), Username: "anna"}
	black := domain.Player{ID: uuid.New(), Username: "boris"}

	waiting := &domain.Session{
		ID:    id,
		White: &domain.Player{ID: white.ID, Username: white.Username},
		State: domain.StateWaiting,
	}
	// The re-fetched snapshot lags the stream: it has the new seat but
	// not the move that already arrived.
	joined := &domain.Session{
		ID:    id,
		White: &domain.Player{ID: white.ID, Username: white.Username},
		Black: &domain.Player{ID: black.ID, Username: black.Username},
		State: domain.StateRunning,
	}
	fx := newFixture(t, white, waiting, joined)

	if err := fx.sync.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if v := fx.sync.View(); v.OpponentName != WaitingForOpponent {
		t.Fatalf("opponent = %q", v.OpponentName)
	}

	fx.transport.deliver(t, wire.NewPlayMove(id, white.ID, "e4"))
	fx.transport.deliver(t, wire.Event{Kind: wire.KindJoin})

	v := fx.sync.View()
	if v.OpponentName != "boris" || v.Lifecycle != domain.StateRunning {
		t.Fatalf("join not applied: opponent=%q state=%s", v.OpponentName, v.Lifecycle)
	}
	if len(v.MoveLog) != 1 || v.MoveLog[0] != "e4" {
		t.Fatalf("move log lost on join: %v", v.MoveLog)
	}
}

func TestJoin_SlowRefetchDoesNotBlockView(t *testing.T) {
	id := uuid.New()
	white := domain.Player{ID: uuid.New(), Username: "anna"}
	black := domain.Player{ID: uuid.New(), Username: "boris"}

	var (
		mu       sync.Mutex
		calls    int
		fetching = make(chan struct{})
		release  = make(chan struct{})
	)
	load := func(ctx context.Context, gid uuid.UUID) (*domain.Session, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return runningSession(id, white, black, "e4"), nil
		}
		close(fetching)
		<-release
		return runningSession(id, white, black, "e4"), nil
	}

	tr := newFakeTransport()
	s := New(id, white, load, tr)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	go tr.deliver(t, wire.Event{Kind: wire.KindJoin})
	select {
	case <-fetching:
	case <-time.After(2 * time.Second):
		t.Fatal("join re-fetch never started")
	}

	viewed := make(chan struct{})
	go func() {
		_ = s.View()
		close(viewed)
	}()
	select {
	case <-viewed:
	case <-time.After(2 * time.Second):
		t.Fatal("View blocked behind the join re-fetch")
	}
	close(release)
}

func TestStart_CorruptLogFreezesBoard(t *testing.T) {
	id := uuid.New()
	white := domain.Player{ID: uuid.New(), Username: "anna"}
	black := domain.Player{ID: uuid.New(), Username: "boris"}
	fx := newFixture(t, white, runningSession(id, white, black, "e4", "c5", "Ra7"))

	if err := fx.sync.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	v := fx.sync.View()
	if !v.Corrupt || v.CanMove {
		t.Fatalf("corrupt log not frozen: %+v", v)
	}
	if err := fx.sync.AttemptMove(context.Background(), "e4"); !errors.Is(err, domain.ErrIllegalMove) {
		t.Fatalf("want ErrIllegalMove, got %v", err)
	}
}

func TestChannelDrop_BlocksMoves(t *testing.T) {
	id := uuid.New()
	white := domain.Player{ID: uuid.New(), Username: "anna"}
	black := domain.Player{ID: uuid.New(), Username: "boris"}
	fx := newFixture(t, white, runningSession(id, white, black))

	if err := fx.sync.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fx.transport.setState(channel.StateClosed)

	v := fx.sync.View()
	if !v.ChannelClosed || v.CanMove {
		t.Fatalf("closed channel not surfaced: %+v", v)
	}
}

func TestOpponentDisconnect_Surfaced(t *testing.T) {
	id := uuid.New()
	white := domain.Player{ID: uuid.New(), Username: "anna"}
	black := domain.Player{ID: uuid.New(), Username: "boris"}
	fx := newFixture(t, white, runningSession(id, white, black, "e4"))

	if err := fx.sync.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fx.transport.deliver(t, wire.NewDisconnect(id, black.ID))
	if v := fx.sync.View(); !v.OpponentGone {
		t.Fatal("opponent disconnect not surfaced")
	}
}

func TestClose_SendsDisconnectNotice(t *testing.T) {
	id := uuid.New()
	white := domain.Player{ID: uuid.New(), Username: "anna"}
	black := domain.Player{ID: uuid.New(), Username: "boris"}
	fx := newFixture(t, white, runningSession(id, white, black))

	if err := fx.sync.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := fx.sync.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sent := fx.transport.sentEvents()
	if len(sent) != 1 || sent[0].Kind != wire.KindDisconnect {
		t.Fatalf("sent = %+v", sent)
	}
	if sent[0].Disconnect.PlayerID != white.ID || sent[0].Disconnect.GameID != id {
		t.Fatalf("notice attribution = %+v", sent[0].Disconnect)
	}
	if fx.transport.State() != channel.StateClosed {
		t.Fatal("transport left open")
	}
}

func TestEventBeforeSnapshot_ReplayedOnce(t *testing.T) {
	id := uuid.New()
	white := domain.Player{ID: uuid.New(), Username: "anna"}
	black := domain.Player{ID: uuid.New(), Username: "boris"}

	tr := newFakeTransport()
	load := func(ctx context.Context, gid uuid.UUID) (*domain.Session, error) {
		// A move races the snapshot fetch and lands first; the snapshot
		// already includes it.
		tr.deliver(t, wire.NewPlayMove(id, white.ID, "e4"))
		return runningSession(id, white, black, "e4"), nil
	}
	s := New(id, white, load, tr)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if v := s.View(); len(v.MoveLog) != 1 || v.MoveLog[0] != "e4" {
		t.Fatalf("overlap not absorbed: %v", v.MoveLog)
	}
}

func TestAttemptMove_WhileInitializing(t *testing.T) {
	id := uuid.New()
	white := domain.Player{ID: uuid.New(), Username: "anna"}
	s := New(id, white, nil, newFakeTransport())

	if err := s.AttemptMove(context.Background(), "e4"); !errors.Is(err, domain.ErrIllegalMove) {
		t.Fatalf("want ErrIllegalMove, got %v", err)
	}
}
