package authstore

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/samueldurantes/chesu-client/internal/domain"
)

// Sessions outlive the process so a restarted client can skip the login
// round trip while the server-side token is still valid.
const ttlSession = 72 * time.Hour

// Credentials is what a headless client needs to resume as the same
// user: the auth token cookie and the identity it belongs to.
type Credentials struct {
	Token    string    `json:"token"`
	PlayerID uuid.UUID `json:"player_id"`
	Username string    `json:"username"`
}

// Store persists per-profile client state in redis. A profile is a
// named login, so one machine can run several accounts side by side.
type Store struct{ rdb *redis.Client }

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

// Open connects to the redis instance at the given URL and pings it.
func Open(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return NewStore(rdb), nil
}

func (s *Store) keySession(profile string) string {
	return "chesu:session:" + strings.TrimSpace(profile)
}

func (s *Store) keyLastGame(profile string) string {
	return "chesu:lastgame:" + strings.TrimSpace(profile)
}

func (s *Store) SaveCredentials(ctx context.Context, profile string, cred *Credentials) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.keySession(profile), raw, ttlSession).Err()
}

// LoadCredentials returns nil without error when no session is stored;
// the caller falls back to a fresh login.
func (s *Store) LoadCredentials(ctx context.Context, profile string) (*Credentials, error) {
	raw, err := s.rdb.Get(ctx, s.keySession(profile)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var c Credentials
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ClearCredentials drops the stored session, forcing a login next run.
// Used when the server answers with an auth failure.
func (s *Store) ClearCredentials(ctx context.Context, profile string) error {
	return s.rdb.Del(ctx, s.keySession(profile)).Err()
}

// SaveLastGame remembers the game this profile was attached to, so an
// interrupted client can offer to resume it.
func (s *Store) SaveLastGame(ctx context.Context, profile string, gameID uuid.UUID) error {
	return s.rdb.Set(ctx, s.keyLastGame(profile), gameID.String(), ttlSession).Err()
}

func (s *Store) LastGame(ctx context.Context, profile string) (uuid.UUID, error) {
	raw, err := s.rdb.Get(ctx, s.keyLastGame(profile)).Result()
	if err == redis.Nil {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, nil
	}
	return id, nil
}

func (s *Store) ClearLastGame(ctx context.Context, profile string) error {
	return s.rdb.Del(ctx, s.keyLastGame(profile)).Err()
}

// ResumeOrNil resolves stored credentials when present and still valid
// per the server; anything else yields nil so the caller logs in fresh.
func (s *Store) ResumeOrNil(ctx context.Context, profile string, verify func(context.Context, string) (*domain.Player, error)) (*Credentials, error) {
	cred, err := s.LoadCredentials(ctx, profile)
	if err != nil || cred == nil {
		return nil, err
	}
	if _, err := verify(ctx, cred.Token); err != nil {
		_ = s.ClearCredentials(ctx, profile)
		return nil, nil
	}
	return cred, nil
}

func (s *Store) Close() error { return s.rdb.Close() }
