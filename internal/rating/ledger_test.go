package rating

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/wildcogs/chessmatch/internal/kv"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(kv.NewRedisStore(rdb))
}

func TestGetUnratedPlayer(t *testing.T) {
	l := newTestLedger(t)
	rec, err := l.Get(context.Background(), "g1", "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Elo != DefaultElo || rec.Wins != 0 || rec.Losses != 0 || rec.Ties != 0 {
		t.Fatalf("baseline record = %+v", rec)
	}
}

func TestRecordWinEqualRatings(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	winDelta, loseDelta, err := l.RecordWin(ctx, "g1", "alice", "bob")
	if err != nil {
		t.Fatalf("record win: %v", err)
	}
	if winDelta != 16 || loseDelta != -16 {
		t.Fatalf("deltas = %d/%d", winDelta, loseDelta)
	}

	alice, _ := l.Get(ctx, "g1", "alice")
	bob, _ := l.Get(ctx, "g1", "bob")
	if alice.Elo != 1016 || alice.Wins != 1 || alice.Losses != 0 {
		t.Fatalf("alice = %+v", alice)
	}
	if bob.Elo != 984 || bob.Losses != 1 || bob.Wins != 0 {
		t.Fatalf("bob = %+v", bob)
	}
}

func TestRecordWinUsesSharedSnapshot(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	// Build a rating gap first.
	for i := 0; i < 3; i++ {
		if _, _, err := l.RecordWin(ctx, "g1", "alice", "bob"); err != nil {
			t.Fatalf("record win: %v", err)
		}
	}
	alice, _ := l.Get(ctx, "g1", "alice")
	bob, _ := l.Get(ctx, "g1", "bob")
	if alice.Elo <= DefaultElo || bob.Elo >= DefaultElo {
		t.Fatalf("gap not built: %d vs %d", alice.Elo, bob.Elo)
	}

	// The favored side gains less than 16 against a weaker opponent.
	winDelta, loseDelta, err := l.RecordWin(ctx, "g1", "alice", "bob")
	if err != nil {
		t.Fatalf("record win: %v", err)
	}
	if winDelta >= 16 || winDelta <= 0 {
		t.Fatalf("favored win delta = %d", winDelta)
	}
	if loseDelta >= 0 {
		t.Fatalf("loser delta = %d", loseDelta)
	}
}

func TestRecordTie(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	aDelta, bDelta, err := l.RecordTie(ctx, "g1", "alice", "bob")
	if err != nil {
		t.Fatalf("record tie: %v", err)
	}
	if aDelta != 0 || bDelta != 0 {
		t.Fatalf("equal-rating tie deltas = %d/%d", aDelta, bDelta)
	}
	alice, _ := l.Get(ctx, "g1", "alice")
	bob, _ := l.Get(ctx, "g1", "bob")
	if alice.Ties != 1 || bob.Ties != 1 {
		t.Fatalf("ties = %d/%d", alice.Ties, bob.Ties)
	}

	// After a gap opens, a tie moves points toward the underdog.
	for i := 0; i < 5; i++ {
		if _, _, err := l.RecordWin(ctx, "g1", "alice", "bob"); err != nil {
			t.Fatalf("record win: %v", err)
		}
	}
	aDelta, bDelta, err = l.RecordTie(ctx, "g1", "alice", "bob")
	if err != nil {
		t.Fatalf("record tie: %v", err)
	}
	if aDelta >= 0 || bDelta <= 0 {
		t.Fatalf("gap tie deltas = %d/%d", aDelta, bDelta)
	}
}

func TestSelfPlayIsNoOp(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if w, lo, err := l.RecordWin(ctx, "g1", "solo", "solo"); err != nil || w != 0 || lo != 0 {
		t.Fatalf("self win = %d/%d, %v", w, lo, err)
	}
	if a, b, err := l.RecordTie(ctx, "g1", "solo", "solo"); err != nil || a != 0 || b != 0 {
		t.Fatalf("self tie = %d/%d, %v", a, b, err)
	}
	rows, err := l.Scoreboard(ctx, "g1", "elo")
	if err != nil {
		t.Fatalf("scoreboard: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("self-play wrote records: %v", rows)
	}
}

func TestScoreboardSorting(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	// alice beats bob twice, carol beats alice once.
	for i := 0; i < 2; i++ {
		if _, _, err := l.RecordWin(ctx, "g1", "alice", "bob"); err != nil {
			t.Fatalf("record win: %v", err)
		}
	}
	if _, _, err := l.RecordWin(ctx, "g1", "carol", "alice"); err != nil {
		t.Fatalf("record win: %v", err)
	}

	rows, err := l.Scoreboard(ctx, "g1", "wins")
	if err != nil {
		t.Fatalf("scoreboard: %v", err)
	}
	if len(rows) != 3 || rows[0].PlayerID != "alice" || rows[0].Wins != 2 {
		t.Fatalf("wins board = %+v", rows)
	}

	rows, err = l.Scoreboard(ctx, "g1", "losses")
	if err != nil {
		t.Fatalf("scoreboard: %v", err)
	}
	if rows[0].PlayerID != "bob" || rows[0].Losses != 2 {
		t.Fatalf("losses board = %+v", rows)
	}

	// Default sort is elo.
	rows, err = l.Scoreboard(ctx, "g1", "")
	if err != nil {
		t.Fatalf("scoreboard: %v", err)
	}
	for i := 1; i < len(rows); i++ {
		if rows[i-1].Elo < rows[i].Elo {
			t.Fatalf("elo board out of order: %+v", rows)
		}
	}

	if _, err := l.Scoreboard(ctx, "g1", "stamina"); !errors.Is(err, ErrBadSortKey) {
		t.Fatalf("bad sort key err = %v", err)
	}
}

func TestClear(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if _, _, err := l.RecordWin(ctx, "g1", "alice", "bob"); err != nil {
		t.Fatalf("record win: %v", err)
	}
	if _, _, err := l.RecordWin(ctx, "g2", "carol", "dave"); err != nil {
		t.Fatalf("record win: %v", err)
	}

	if err := l.ClearPlayer(ctx, "g1", "alice"); err != nil {
		t.Fatalf("clear player: %v", err)
	}
	rec, _ := l.Get(ctx, "g1", "alice")
	if rec.Elo != DefaultElo || rec.Wins != 0 {
		t.Fatalf("cleared player = %+v", rec)
	}

	if err := l.Clear(ctx, "g1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	rows, _ := l.Scoreboard(ctx, "g1", "elo")
	if len(rows) != 0 {
		t.Fatalf("g1 not cleared: %+v", rows)
	}
	rows, _ = l.Scoreboard(ctx, "g2", "elo")
	if len(rows) != 2 {
		t.Fatalf("g2 affected: %+v", rows)
	}
}
