package board

import (
	"fmt"

	nchess "github.com/corentings/chess/v2"

	"github.com/samueldurantes/chesu-client/internal/domain"
)

// Position is the derived board state after replaying a move log. It is
// a pure function of the log; nothing here is kept between calls so the
// optimistic local check and the authoritative replay can never alias.
type Position struct {
	FEN      string
	Board    *nchess.Board
	LastMove *nchess.Move
	// SideToMove is derived from the replayed position, which by
	// construction agrees with the log length parity.
	SideToMove domain.Color
	// Outcome is the state the position itself implies. The server's
	// declared lifecycle state stays authoritative; this only feeds
	// display hints.
	Outcome domain.State
}

// Reconstruct replays an ordered SAN move log from the canonical start
// position. It fails fast with domain.ErrCorruptLog on the first move
// that cannot be legally applied; there is no partial recovery.
func Reconstruct(moves []string) (*Position, error) {
	game := nchess.NewGame()
	for i, san := range moves {
		if err := game.PushNotationMove(san, nchess.AlgebraicNotation{}, nil); err != nil {
			return nil, fmt.Errorf("%w: move %d (%q): %v", domain.ErrCorruptLog, i+1, san, err)
		}
	}
	return snapshot(game, len(moves)), nil
}

// Apply checks a candidate move against the position implied by the log
// and returns its canonical notation together with the resulting
// position. The log itself is never mutated; appending is the
// synchronizer's job once the move echoes back.
func Apply(moves []string, candidate string) (string, *Position, error) {
	game := nchess.NewGame()
	for i, san := range moves {
		if err := game.PushNotationMove(san, nchess.AlgebraicNotation{}, nil); err != nil {
			return "", nil, fmt.Errorf("%w: move %d (%q): %v", domain.ErrCorruptLog, i+1, san, err)
		}
	}

	before := game.Position()
	if err := game.PushNotationMove(candidate, nchess.AlgebraicNotation{}, nil); err != nil {
		return "", nil, fmt.Errorf("%w: %q: %v", domain.ErrIllegalMove, candidate, err)
	}

	played := lastMove(game)
	if played == nil {
		return "", nil, fmt.Errorf("%w: %q", domain.ErrIllegalMove, candidate)
	}
	canonical := nchess.AlgebraicNotation{}.Encode(before, played)
	return canonical, snapshot(game, len(moves)+1), nil
}

func snapshot(game *nchess.Game, plies int) *Position {
	pos := game.Position()
	return &Position{
		FEN:        game.FEN(),
		Board:      pos.Board(),
		LastMove:   lastMove(game),
		SideToMove: colorFrom(pos.Turn()),
		Outcome:    impliedState(game, plies),
	}
}

// impliedState mirrors the server's rule: a decisive or drawn outcome
// wins, otherwise the game counts as running once both sides have moved.
func impliedState(game *nchess.Game, plies int) domain.State {
	switch game.Outcome() {
	case nchess.WhiteWon:
		return domain.StateWhiteWin
	case nchess.BlackWon:
		return domain.StateBlackWin
	case nchess.Draw:
		return domain.StateDraw
	}
	if plies >= 2 {
		return domain.StateRunning
	}
	return domain.StateWaiting
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

func colorFrom(c nchess.Color) domain.Color {
	if c == nchess.White {
		return domain.White
	}
	return domain.Black
}
