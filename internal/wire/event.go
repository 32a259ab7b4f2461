package wire

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/samueldurantes/chesu-client/internal/domain"
)

// EventKind discriminates envelope payloads. The envelope layout matches
// the server: {"event": <kind>, "data": <payload>}.
type EventKind string

const (
	KindJoin            EventKind = "Join"
	KindPlayMove        EventKind = "PlayMove"
	KindDisconnect      EventKind = "Disconnect"
	KindGameChangeState EventKind = "GameChangeState"
)

// MoveInfo is the PlayMove payload. Field names are the server's
// snake_case wire names.
type MoveInfo struct {
	GameID     uuid.UUID `json:"game_id"`
	PlayerID   uuid.UUID `json:"player_id"`
	MovePlayed string    `json:"move_played"`
}

// DisconnectInfo is the Disconnect payload.
type DisconnectInfo struct {
	GameID   uuid.UUID `json:"game_id"`
	PlayerID uuid.UUID `json:"player_id"`
}

// JoinInfo is the Join payload. Some server versions send the joining
// player, some send nothing; either way the synchronizer re-fetches the
// snapshot instead of trusting these fields.
type JoinInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Event is the decoded tagged union. Exactly the payload matching Kind
// is set.
type Event struct {
	Kind       EventKind
	Move       *MoveInfo
	Disconnect *DisconnectInfo
	Join       *JoinInfo
	State      domain.State
}

type envelope struct {
	Event EventKind       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode is the single validating boundary for inbound frames. It
// rejects unknown kinds and malformed payloads; callers drop (and log)
// whatever it rejects.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Event {
	case KindJoin:
		ev := Event{Kind: KindJoin}
		if len(env.Data) > 0 && string(env.Data) != "null" {
			var info JoinInfo
			// Payload shape varies between server versions; a decode
			// failure here is not fatal because the payload is advisory.
			if err := json.Unmarshal(env.Data, &info); err == nil {
				ev.Join = &info
			}
		}
		return ev, nil

	case KindPlayMove:
		var info MoveInfo
		if err := json.Unmarshal(env.Data, &info); err != nil {
			return Event{}, fmt.Errorf("decode PlayMove: %w", err)
		}
		if info.MovePlayed == "" {
			return Event{}, fmt.Errorf("decode PlayMove: empty move")
		}
		return Event{Kind: KindPlayMove, Move: &info}, nil

	case KindDisconnect:
		var info DisconnectInfo
		if err := json.Unmarshal(env.Data, &info); err != nil {
			return Event{}, fmt.Errorf("decode Disconnect: %w", err)
		}
		return Event{Kind: KindDisconnect, Disconnect: &info}, nil

	case KindGameChangeState:
		var raw string
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return Event{}, fmt.Errorf("decode GameChangeState: %w", err)
		}
		state, err := domain.ParseState(raw)
		if err != nil {
			return Event{}, fmt.Errorf("decode GameChangeState: %w", err)
		}
		return Event{Kind: KindGameChangeState, State: state}, nil
	}

	return Event{}, fmt.Errorf("unknown event kind %q", env.Event)
}

// Encode serializes an event into its wire envelope.
func (e Event) Encode() ([]byte, error) {
	env := envelope{Event: e.Kind}

	var payload any
	switch e.Kind {
	case KindJoin:
		if e.Join != nil {
			payload = e.Join
		}
	case KindPlayMove:
		if e.Move == nil {
			return nil, fmt.Errorf("encode PlayMove: missing payload")
		}
		payload = e.Move
	case KindDisconnect:
		if e.Disconnect == nil {
			return nil, fmt.Errorf("encode Disconnect: missing payload")
		}
		payload = e.Disconnect
	case KindGameChangeState:
		payload = string(e.State)
	default:
		return nil, fmt.Errorf("encode: unknown event kind %q", e.Kind)
	}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", e.Kind, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// NewPlayMove builds the outbound move event.
func NewPlayMove(gameID, playerID uuid.UUID, san string) Event {
	return Event{Kind: KindPlayMove, Move: &MoveInfo{GameID: gameID, PlayerID: playerID, MovePlayed: san}}
}

// NewDisconnect builds the best-effort leave notification.
func NewDisconnect(gameID, playerID uuid.UUID) Event {
	return Event{Kind: KindDisconnect, Disconnect: &DisconnectInfo{GameID: gameID, PlayerID: playerID}}
}
