package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// Role is the viewer's relation to a session, derived from the seat
// assignments and never stored.
type Role string

const (
	RoleWhite     Role = "white"
	RoleBlack     Role = "black"
	RoleSpectator Role = "spectator"
)

// Color returns the seated color for a playing role.
func (r Role) Color() (Color, bool) {
	switch r {
	case RoleWhite:
		return White, true
	case RoleBlack:
		return Black, true
	}
	return "", false
}

// State is a session lifecycle state as the server declares it.
type State string

const (
	StateWaiting  State = "Waiting"
	StateRunning  State = "Running"
	StateDraw     State = "Draw"
	StateWhiteWin State = "WhiteWin"
	StateBlackWin State = "BlackWin"
)

// Terminal reports whether no further moves may be recorded.
func (s State) Terminal() bool {
	return s == StateDraw || s == StateWhiteWin || s == StateBlackWin
}

// ParseState accepts both spellings the server emits: variant names over
// the websocket ("WhiteWin") and snake_case from the persistence layer
// ("white_win").
func ParseState(raw string) (State, error) {
	switch strings.TrimSpace(raw) {
	case "Waiting", "waiting":
		return StateWaiting, nil
	case "Running", "running":
		return StateRunning, nil
	case "Draw", "draw":
		return StateDraw, nil
	case "WhiteWin", "white_win":
		return StateWhiteWin, nil
	case "BlackWin", "black_win":
		return StateBlackWin, nil
	}
	return "", fmt.Errorf("unknown game state %q", raw)
}

// Player is a platform user referenced by a session seat. Identity is
// compared by ID only; the struct is never mutated by the client.
type Player struct {
	ID       uuid.UUID
	Username string
}

// Session is one chess match as the client sees it: the authoritative
// snapshot merged with streamed deltas. The move log is the sole source
// of truth for the board position.
type Session struct {
	ID    uuid.UUID
	White *Player
	Black *Player
	// Moves is append-only SAN, insertion order = play order.
	Moves    []string
	State    State
	BetValue int
	// TimeControl is display metadata, opaque to the synchronizer.
	TimeControl string
}

// SideToMove follows the parity invariant: an even log length means
// white is to move.
func (s *Session) SideToMove() Color {
	if len(s.Moves)%2 == 0 {
		return White
	}
	return Black
}

// RoleOf resolves the viewer's role from the seat assignments.
func (s *Session) RoleOf(viewer uuid.UUID) Role {
	if s.White != nil && s.White.ID == viewer {
		return RoleWhite
	}
	if s.Black != nil && s.Black.ID == viewer {
		return RoleBlack
	}
	return RoleSpectator
}

// Seat returns the player occupying the given color, if any.
func (s *Session) Seat(c Color) *Player {
	if c == White {
		return s.White
	}
	return s.Black
}

// Mover returns the seat that played the move at the given log index.
func (s *Session) Mover(index int) *Player {
	if index%2 == 0 {
		return s.White
	}
	return s.Black
}
