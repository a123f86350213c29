// Package archive writes finished matches to Postgres for later inspection.
// Archiving is best-effort: the live flow in Redis never depends on it.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/wildcogs/chessmatch/internal/match"
	"github.com/wildcogs/chessmatch/internal/rules"
)

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

// Entry is everything the archive stores about one finished match.
type Entry struct {
	Channel    string
	Name       string
	Match      *match.Match
	Result     *match.Result
	WinnerSide rules.Side
}

// Save upserts a finished match keyed by its record id, so retries after a
// partial failure are safe.
func (r *Repository) Save(ctx context.Context, e *Entry) error {
	if r == nil || r.db == nil || e == nil || e.Match == nil || e.Result == nil {
		return nil
	}
	m := e.Match
	pgnResult := pgnResultToken(e.WinnerSide, e.Result)
	pgn := buildPGN(e, pgnResult)

	movesSANRaw, _ := json.Marshal(m.MovesSAN())
	movesUCIRaw, _ := json.Marshal(m.MovesUCI())
	duration := m.UpdatedAt().Sub(m.CreatedAt()).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO chess_matches (
        match_id, channel, match_name, variant,
        white_id, black_id,
        winner_id, loser_id, classification,
        moves_san, moves_uci, pgn,
        started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
      ) ON CONFLICT (match_id) DO UPDATE SET
        channel=EXCLUDED.channel,
        match_name=EXCLUDED.match_name,
        variant=EXCLUDED.variant,
        white_id=EXCLUDED.white_id,
        black_id=EXCLUDED.black_id,
        winner_id=EXCLUDED.winner_id,
        loser_id=EXCLUDED.loser_id,
        classification=EXCLUDED.classification,
        moves_san=EXCLUDED.moves_san,
        moves_uci=EXCLUDED.moves_uci,
        pgn=EXCLUDED.pgn,
        started_at=EXCLUDED.started_at,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		m.ID(), e.Channel, e.Name, m.Variant().ID,
		m.WhiteID(), m.BlackID(),
		e.Result.WinnerID, e.Result.LoserID, e.Result.Classification,
		string(movesSANRaw), string(movesUCIRaw), pgn,
		m.CreatedAt(), m.UpdatedAt(), duration,
	)
	return err
}

func pgnResultToken(winner rules.Side, res *match.Result) string {
	switch winner {
	case rules.White:
		return "1-0"
	case rules.Black:
		return "0-1"
	}
	if res != nil && res.WinnerID == "" {
		return "1/2-1/2"
	}
	return "*"
}

func buildPGN(e *Entry, pgnResult string) string {
	m := e.Match
	var b strings.Builder
	date := m.UpdatedAt()
	if date.IsZero() {
		date = time.Now()
	}
	// headers
	b.WriteString("[Event \"Casual match\"]\n")
	b.WriteString(fmt.Sprintf("[Site \"%s\"]\n", sanitizePGN(e.Channel)))
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(m.WhiteID())))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(m.BlackID())))
	if m.Variant().ID != "standard" {
		b.WriteString(fmt.Sprintf("[Variant \"%s\"]\n", sanitizePGN(m.Variant().DisplayName())))
	}
	if e.Result != nil && strings.TrimSpace(e.Result.Classification) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(e.Result.Classification)))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	// moves from SAN with numbering
	san := m.MovesSAN()
	for i := 0; i < len(san); i += 2 {
		turn := (i / 2) + 1
		b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(san[i])))
		if i+1 < len(san) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(san[i+1]))
		}
		b.WriteString(" ")
	}
	if pgnResult != "" {
		b.WriteString(pgnResult)
	}
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
