// Package rating keeps per-guild Elo ratings and win/loss/tie tallies.
package rating

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/wildcogs/chessmatch/internal/kv"
)

const keyPrefix = "chess:score:"

var ErrBadSortKey = staticErr("unknown scoreboard sort key")

type staticErr string

func (e staticErr) Error() string { return string(e) }

// PlayerRecord is one player's standing in a guild.
type PlayerRecord struct {
	Elo    int `json:"elo"`
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Ties   int `json:"ties"`
}

// Row is a scoreboard line.
type Row struct {
	PlayerID string
	PlayerRecord
}

// Ledger stores player records under chess:score:{guild}:{player}. Updates to
// a single player are serialized with a per-player lock; the Elo snapshot for
// a pairing is taken once before either side is adjusted.
type Ledger struct {
	kv kv.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(kvs kv.Store) *Ledger {
	return &Ledger{kv: kvs, locks: make(map[string]*sync.Mutex)}
}

func key(guild, player string) string { return keyPrefix + guild + ":" + player }

func guildPrefix(guild string) string { return keyPrefix + guild + ":" }

func (l *Ledger) lockFor(k string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[k]
	if !ok {
		m = &sync.Mutex{}
		l.locks[k] = m
	}
	return m
}

// Get returns the player's record, or a fresh baseline record when the player
// has never been rated.
func (l *Ledger) Get(ctx context.Context, guild, player string) (*PlayerRecord, error) {
	raw, err := l.kv.Get(ctx, key(guild, player))
	if errors.Is(err, kv.ErrNotFound) {
		return &PlayerRecord{Elo: DefaultElo}, nil
	}
	if err != nil {
		return nil, err
	}
	var rec PlayerRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode rating record %s/%s: %w", guild, player, err)
	}
	return &rec, nil
}

func (l *Ledger) put(ctx context.Context, guild, player string, rec *PlayerRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return l.kv.Set(ctx, key(guild, player), raw)
}

// update applies fn to the player's record under the player's lock.
func (l *Ledger) update(ctx context.Context, guild, player string, fn func(*PlayerRecord)) error {
	lk := l.lockFor(key(guild, player))
	lk.Lock()
	defer lk.Unlock()
	rec, err := l.Get(ctx, guild, player)
	if err != nil {
		return err
	}
	fn(rec)
	return l.put(ctx, guild, player, rec)
}

// RecordWin rates a decisive result and tallies a win and a loss. Both deltas
// come from the same pre-game rating snapshot. Self-play is a no-op.
func (l *Ledger) RecordWin(ctx context.Context, guild, winner, loser string) (winDelta, loseDelta int, err error) {
	if winner == loser {
		return 0, 0, nil
	}
	wRec, err := l.Get(ctx, guild, winner)
	if err != nil {
		return 0, 0, err
	}
	lRec, err := l.Get(ctx, guild, loser)
	if err != nil {
		return 0, 0, err
	}
	winDelta = eloDelta(wRec.Elo, lRec.Elo, 1)
	loseDelta = eloDelta(lRec.Elo, wRec.Elo, 0)

	if err := l.update(ctx, guild, winner, func(r *PlayerRecord) {
		r.Elo += winDelta
		r.Wins++
	}); err != nil {
		return 0, 0, err
	}
	if err := l.update(ctx, guild, loser, func(r *PlayerRecord) {
		r.Elo += loseDelta
		r.Losses++
	}); err != nil {
		return winDelta, 0, err
	}
	return winDelta, loseDelta, nil
}

// RecordTie rates a drawn result and tallies a tie for both players.
// Self-play is a no-op.
func (l *Ledger) RecordTie(ctx context.Context, guild, a, b string) (aDelta, bDelta int, err error) {
	if a == b {
		return 0, 0, nil
	}
	aRec, err := l.Get(ctx, guild, a)
	if err != nil {
		return 0, 0, err
	}
	bRec, err := l.Get(ctx, guild, b)
	if err != nil {
		return 0, 0, err
	}
	aDelta = eloDelta(aRec.Elo, bRec.Elo, 0.5)
	bDelta = eloDelta(bRec.Elo, aRec.Elo, 0.5)

	if err := l.update(ctx, guild, a, func(r *PlayerRecord) {
		r.Elo += aDelta
		r.Ties++
	}); err != nil {
		return 0, 0, err
	}
	if err := l.update(ctx, guild, b, func(r *PlayerRecord) {
		r.Elo += bDelta
		r.Ties++
	}); err != nil {
		return aDelta, 0, err
	}
	return aDelta, bDelta, nil
}

// Scoreboard returns all rated players of a guild sorted descending by the
// given column: elo, wins, losses, or ties. Ties in the column break on
// player id for a stable listing.
func (l *Ledger) Scoreboard(ctx context.Context, guild, sortKey string) ([]Row, error) {
	sortKey = strings.ToLower(strings.TrimSpace(sortKey))
	if sortKey == "" {
		sortKey = "elo"
	}
	var field func(Row) int
	switch sortKey {
	case "elo":
		field = func(r Row) int { return r.Elo }
	case "wins":
		field = func(r Row) int { return r.Wins }
	case "losses":
		field = func(r Row) int { return r.Losses }
	case "ties":
		field = func(r Row) int { return r.Ties }
	default:
		return nil, fmt.Errorf("%w: %s", ErrBadSortKey, sortKey)
	}

	prefix := guildPrefix(guild)
	keys, err := l.kv.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var rows []Row
	for _, k := range keys {
		raw, err := l.kv.Get(ctx, k)
		if err != nil {
			continue
		}
		var rec PlayerRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		rows = append(rows, Row{PlayerID: strings.TrimPrefix(k, prefix), PlayerRecord: rec})
	}
	sort.Slice(rows, func(i, j int) bool {
		if field(rows[i]) != field(rows[j]) {
			return field(rows[i]) > field(rows[j])
		}
		return rows[i].PlayerID < rows[j].PlayerID
	})
	return rows, nil
}

// ClearPlayer removes one player's record.
func (l *Ledger) ClearPlayer(ctx context.Context, guild, player string) error {
	return l.kv.Delete(ctx, key(guild, player))
}

// Clear removes every record of a guild.
func (l *Ledger) Clear(ctx context.Context, guild string) error {
	keys, err := l.kv.Keys(ctx, guildPrefix(guild))
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := l.kv.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}
