package gamesync

import (
	"github.com/samueldurantes/chesu-client/internal/channel"
	"github.com/samueldurantes/chesu-client/internal/domain"
)

// WaitingForOpponent is shown in an empty seat until someone joins.
const WaitingForOpponent = "Waiting for opponent..."

// View is everything a renderer needs for one frame, derived on demand
// and never stored. Fields are plain values; mutating a View affects
// nothing.
type View struct {
	GameID      string
	FEN         string
	MoveLog     []string
	Phase       Phase
	Lifecycle   domain.State
	Role        domain.Role
	Orientation domain.Color
	SideToMove  domain.Color
	// OpponentName is the seat facing the viewer, or facing white for a
	// spectator.
	OpponentName string
	ViewerName   string
	BetValue     int
	TimeControl  string
	// CanMove folds phase, seat, turn and channel health into a single
	// gate for the input layer.
	CanMove       bool
	ChannelClosed bool
	Corrupt       bool
	OpponentGone  bool
}

// View renders the current state. Safe to call from any goroutine.
func (s *Synchronizer) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Synchronizer) viewLocked() View {
	v := View{
		GameID:       s.sessionID.String(),
		Phase:        s.phase,
		Role:         domain.RoleSpectator,
		Orientation:  domain.White,
		SideToMove:   domain.White,
		Corrupt:      s.corrupt,
		OpponentGone: s.oppGone,
		ViewerName:   s.viewer.Username,
	}
	if s.pos != nil {
		v.FEN = s.pos.FEN
	}
	v.ChannelClosed = s.wasOpen && s.connState == channel.StateClosed

	if s.session == nil {
		return v
	}

	v.MoveLog = append([]string(nil), s.session.Moves...)
	v.Lifecycle = s.session.State
	v.SideToMove = s.session.SideToMove()
	v.BetValue = s.session.BetValue
	v.TimeControl = s.session.TimeControl

	v.Role = s.session.RoleOf(s.viewer.ID)
	color, seated := v.Role.Color()
	if seated {
		v.Orientation = color
	}

	opposite := domain.Black
	if seated {
		opposite = color.Other()
	}
	if opp := s.session.Seat(opposite); opp != nil {
		v.OpponentName = opp.Username
	} else {
		v.OpponentName = WaitingForOpponent
	}

	v.CanMove = s.phase == PhaseSynced &&
		!s.corrupt &&
		seated &&
		v.SideToMove == color &&
		s.connState == channel.StateOpen

	return v
}
