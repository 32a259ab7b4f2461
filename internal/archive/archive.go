package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/samueldurantes/chesu-client/internal/domain"
)

// Repository keeps a local record of finished games in Postgres, so
// history survives independently of the platform.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts one finished session. Re-archiving the same game
// is harmless, which matters because a re-mounted client may see the
// same terminal event twice.
func (r *Repository) SaveResult(ctx context.Context, s *domain.Session, endedAt time.Time) error {
	if r == nil || r.db == nil || s == nil {
		return nil
	}

	pgn := BuildPGN(s, endedAt)

	q := `INSERT INTO chesu_games (
	    game_id, white_name, black_name, bet_value, time_control,
	    state, moves, pgn, ended_at
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9
	  ) ON CONFLICT (game_id) DO UPDATE SET
	    white_name=EXCLUDED.white_name,
	    black_name=EXCLUDED.black_name,
	    bet_value=EXCLUDED.bet_value,
	    time_control=EXCLUDED.time_control,
	    state=EXCLUDED.state,
	    moves=EXCLUDED.moves,
	    pgn=EXCLUDED.pgn,
	    ended_at=EXCLUDED.ended_at`

	_, err := r.db.ExecContext(ctx, q,
		s.ID.String(),
		seatName(s.White), seatName(s.Black),
		s.BetValue, s.TimeControl,
		string(s.State), strings.Join(s.Moves, " "), pgn,
		endedAt,
	)
	return err
}

// Recent returns the newest archived PGNs, most recent first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT pgn FROM chesu_games ORDER BY ended_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var pgn string
		if err := rows.Scan(&pgn); err != nil {
			return nil, err
		}
		out = append(out, pgn)
	}
	return out, rows.Err()
}

func seatName(p *domain.Player) string {
	if p == nil {
		return "?"
	}
	return p.Username
}

func resultToken(st domain.State) string {
	switch st {
	case domain.StateWhiteWin:
		return "1-0"
	case domain.StateBlackWin:
		return "0-1"
	case domain.StateDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

// BuildPGN renders a session as PGN text with numbered SAN moves.
func BuildPGN(s *domain.Session, endedAt time.Time) string {
	if s == nil {
		return ""
	}
	date := endedAt
	if date.IsZero() {
		date = time.Now()
	}
	result := resultToken(s.State)

	var b strings.Builder
	b.WriteString("[Event \"Chesu\"]\n")
	b.WriteString("[Site \"chesu\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(seatName(s.White))))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(seatName(s.Black))))
	if strings.TrimSpace(s.TimeControl) != "" {
		b.WriteString(fmt.Sprintf("[TimeControl \"%s\"]\n", sanitizePGN(s.TimeControl)))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", result))

	for i := 0; i < len(s.Moves); i += 2 {
		turn := (i / 2) + 1
		b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(s.Moves[i])))
		if i+1 < len(s.Moves) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(s.Moves[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
