package api

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/samueldurantes/chesu-client/internal/domain"
)

type userBody struct {
	User userDTO `json:"user"`
}

type userDTO struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
}

type credentialsBody struct {
	User credentialsDTO `json:"user"`
}

type credentialsDTO struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type gameBody struct {
	Game gameDTO `json:"game"`
}

type gameIDBody struct {
	GameID uuid.UUID `json:"game_id"`
}

type gameDTO struct {
	ID             uuid.UUID       `json:"id"`
	WhitePlayer    json.RawMessage `json:"white_player"`
	BlackPlayer    json.RawMessage `json:"black_player"`
	BetValue       int             `json:"bet_value"`
	Time           int             `json:"time"`
	AdditionalTime int             `json:"additional_time"`
	State          string          `json:"state"`
	Moves          []string        `json:"moves"`
}

type playerDTO struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}

type amountBody struct {
	Amount int `json:"amount"`
}

type invoiceBody struct {
	Invoice string `json:"invoice"`
}

type invoiceResponseBody struct {
	PaymentRequest string `json:"payment_request"`
}

type newMoveBody struct {
	Game newMoveDTO `json:"game"`
}

type newMoveDTO struct {
	NewMove string `json:"new_move"`
}

// toSession converts the wire shape into the domain session. Seats are
// tolerated as full player objects, bare uuid strings (older server
// versions), or null.
func (g gameDTO) toSession() (*domain.Session, error) {
	white, err := decodeSeat(g.WhitePlayer)
	if err != nil {
		return nil, fmt.Errorf("white seat: %w", err)
	}
	black, err := decodeSeat(g.BlackPlayer)
	if err != nil {
		return nil, fmt.Errorf("black seat: %w", err)
	}

	state := domain.StateWaiting
	if g.State != "" {
		state, err = domain.ParseState(g.State)
		if err != nil {
			return nil, err
		}
	}

	timeControl := ""
	if g.Time > 0 {
		timeControl = fmt.Sprintf("%d+%d", g.Time, g.AdditionalTime)
	}

	return &domain.Session{
		ID:          g.ID,
		White:       white,
		Black:       black,
		Moves:       g.Moves,
		State:       state,
		BetValue:    g.BetValue,
		TimeControl: timeControl,
	}, nil
}

func decodeSeat(raw json.RawMessage) (*domain.Player, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var full playerDTO
	if err := json.Unmarshal(raw, &full); err == nil && full.ID != uuid.Nil {
		return &domain.Player{ID: full.ID, Username: full.Username}, nil
	}
	var id uuid.UUID
	if err := json.Unmarshal(raw, &id); err == nil {
		if id == uuid.Nil {
			return nil, nil
		}
		return &domain.Player{ID: id}, nil
	}
	return nil, fmt.Errorf("unrecognized seat payload %s", raw)
}
