package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/wildcogs/chessmatch/internal/archive"
	"github.com/wildcogs/chessmatch/internal/config"
	"github.com/wildcogs/chessmatch/internal/kv"
	"github.com/wildcogs/chessmatch/internal/match"
	"github.com/wildcogs/chessmatch/internal/matchstore"
	"github.com/wildcogs/chessmatch/internal/migrate"
	"github.com/wildcogs/chessmatch/internal/msgcat"
	"github.com/wildcogs/chessmatch/internal/rating"
	"github.com/wildcogs/chessmatch/internal/rules"
	"github.com/wildcogs/chessmatch/internal/variant"
)

type fakeArchiver struct {
	mu      sync.Mutex
	entries []*archive.Entry
}

func (f *fakeArchiver) Save(_ context.Context, e *archive.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeArchiver) saved() []*archive.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*archive.Entry(nil), f.entries...)
}

func newTestService(t *testing.T) (*Service, *fakeArchiver) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	kvs := kv.NewRedisStore(rdb)
	reg, err := variant.New()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if err := migrate.NewRunner(kvs).Run(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	gate := migrate.NewGate()
	gate.MarkReady()

	arch := &fakeArchiver{}
	svc := New(Deps{
		Config: &config.AppConfig{
			DefaultMatchName: "game",
			DrawOfferTimeout: 50 * time.Millisecond,
		},
		Store:    matchstore.New(kvs, reg),
		Ratings:  rating.New(kvs),
		Gate:     gate,
		Variants: reg,
		Catalog:  cat,
		Renderer: nil, // board images are exercised in the render package
		Archiver: arch,
	})
	return svc, arch
}

func TestGateBlocksCommands(t *testing.T) {
	svc, _ := newTestService(t)
	svc.gate = migrate.NewGate()
	ctx := context.Background()

	if _, err := svc.Start(ctx, "c1", "bob", "alice", "", ""); !errors.Is(err, migrate.ErrNotReady) {
		t.Fatalf("start err = %v", err)
	}
	svc.gate.MarkDegraded()
	if _, err := svc.List(ctx, "c1"); !errors.Is(err, migrate.ErrDegraded) {
		t.Fatalf("list err = %v", err)
	}
}

func TestStartAssignsUniqueNames(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Start(ctx, "c1", "bob", "alice", "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if first.Name != "game" {
		t.Fatalf("first name = %q", first.Name)
	}
	second, err := svc.Start(ctx, "c1", "dan", "carol", "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if second.Name != "game1" {
		t.Fatalf("second name = %q", second.Name)
	}

	entries, err := svc.List(ctx, "c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d", len(entries))
	}
}

func TestStartUnknownVariant(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Start(context.Background(), "c1", "b", "w", "", "atomic"); !errors.Is(err, variant.ErrUnknownVariant) {
		t.Fatalf("start err = %v", err)
	}
}

func TestMoveFlowToCheckmate(t *testing.T) {
	svc, arch := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Start(ctx, "c1", "bob", "alice", "", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, mv := range []struct{ actor, san string }{
		{"alice", "f3"}, {"bob", "e5"}, {"alice", "g4"},
	} {
		res, err := svc.Move(ctx, "c1", "g1", "game", mv.actor, mv.san)
		if err != nil {
			t.Fatalf("move %s: %v", mv.san, err)
		}
		if res.Outcome.GameOver {
			t.Fatalf("premature game over after %s", mv.san)
		}
	}
	res, err := svc.Move(ctx, "c1", "g1", "game", "bob", "Qh4#")
	if err != nil {
		t.Fatalf("mating move: %v", err)
	}
	if !res.Outcome.GameOver || res.Outcome.Classification != string(rules.Checkmate) {
		t.Fatalf("outcome = %+v", res.Outcome)
	}
	if len(res.Ratings) != 2 || res.Ratings[0].PlayerID != "bob" || res.Ratings[0].Delta != 16 {
		t.Fatalf("ratings = %+v", res.Ratings)
	}

	// The record is gone, the archive has the match.
	if _, err := svc.Show(ctx, "c1", "game"); !errors.Is(err, matchstore.ErrNotFound) {
		t.Fatalf("show after finish err = %v", err)
	}
	saved := arch.saved()
	if len(saved) != 1 || saved[0].Result.Classification != string(rules.Checkmate) {
		t.Fatalf("archive = %+v", saved)
	}
	if saved[0].WinnerSide != rules.Black {
		t.Fatalf("archived winner side = %v", saved[0].WinnerSide)
	}
}

func TestMoveValidationErrors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Start(ctx, "c1", "bob", "alice", "", ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := svc.Move(ctx, "c1", "g1", "missing", "alice", "e4"); !errors.Is(err, matchstore.ErrNotFound) {
		t.Fatalf("missing match err = %v", err)
	}
	if _, err := svc.Move(ctx, "c1", "g1", "game", "mallory", "e4"); !errors.Is(err, match.ErrNotAPlayer) {
		t.Fatalf("outsider err = %v", err)
	}
	if _, err := svc.Move(ctx, "c1", "g1", "game", "bob", "e5"); !errors.Is(err, match.ErrNotYourTurn) {
		t.Fatalf("turn err = %v", err)
	}
	if _, err := svc.Move(ctx, "c1", "g1", "game", "alice", "Qd5"); !errors.Is(err, rules.ErrIllegalMove) {
		t.Fatalf("illegal err = %v", err)
	}
}

func TestDrawOfferAcceptRatesTie(t *testing.T) {
	svc, arch := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Start(ctx, "c1", "bob", "alice", "", ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := svc.OfferDraw(ctx, "c1", "game", "alice"); err != nil {
		t.Fatalf("offer: %v", err)
	}
	res, err := svc.RespondDraw(ctx, "c1", "g1", "game", "bob", true)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !res.Accepted || !res.Match.Finished() {
		t.Fatalf("respond result = %+v", res)
	}
	// Equal ratings, tie: zero delta but both tallied.
	if len(res.Ratings) != 2 {
		t.Fatalf("ratings = %+v", res.Ratings)
	}
	rows, err := svc.Scoreboard(ctx, "g1", "ties")
	if err != nil {
		t.Fatalf("scoreboard: %v", err)
	}
	if len(rows) != 2 || rows[0].Ties != 1 {
		t.Fatalf("rows = %+v", rows)
	}
	if len(arch.saved()) != 1 {
		t.Fatalf("archive = %+v", arch.saved())
	}
}

func TestDrawRespondValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Start(ctx, "c1", "bob", "alice", "", ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := svc.RespondDraw(ctx, "c1", "g1", "game", "bob", true); !errors.Is(err, match.ErrNoDrawOffer) {
		t.Fatalf("respond without offer err = %v", err)
	}
	if _, err := svc.OfferDraw(ctx, "c1", "game", "alice"); err != nil {
		t.Fatalf("offer: %v", err)
	}
	if _, err := svc.RespondDraw(ctx, "c1", "g1", "game", "alice", true); !errors.Is(err, match.ErrAlreadyOffered) {
		t.Fatalf("self respond err = %v", err)
	}
	res, err := svc.RespondDraw(ctx, "c1", "g1", "game", "bob", false)
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if res.Accepted || res.Match.Finished() {
		t.Fatalf("decline result = %+v", res)
	}
	// A declined offer can be made again.
	if _, err := svc.OfferDraw(ctx, "c1", "game", "bob"); err != nil {
		t.Fatalf("re-offer: %v", err)
	}
}

func TestDrawOfferExpires(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Start(ctx, "c1", "bob", "alice", "", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.OfferDraw(ctx, "c1", "game", "alice"); err != nil {
		t.Fatalf("offer: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		m, err := svc.store.Get(ctx, "c1", "game")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if m.DrawOfferBy() == "" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("draw offer never expired")
		}
		time.Sleep(10 * time.Millisecond)
	}
	// The match itself is untouched.
	m, err := svc.store.Get(ctx, "c1", "game")
	if err != nil || m.Finished() {
		t.Fatalf("match after expiry: %v, finished=%v", err, m.Finished())
	}
}

func TestClaimDraw(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Start(ctx, "c1", "bob", "alice", "", ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := svc.ClaimDraw(ctx, "c1", "g1", "game", "alice", match.ClaimThreefold); !errors.Is(err, match.ErrClaimNotEligible) {
		t.Fatalf("early claim err = %v", err)
	}

	shuffle := []struct{ actor, san string }{
		{"alice", "Nf3"}, {"bob", "Nf6"},
		{"alice", "Ng1"}, {"bob", "Ng8"},
		{"alice", "Nf3"}, {"bob", "Nf6"},
		{"alice", "Ng1"}, {"bob", "Ng8"},
	}
	for _, mv := range shuffle {
		if _, err := svc.Move(ctx, "c1", "g1", "game", mv.actor, mv.san); err != nil {
			t.Fatalf("move %s: %v", mv.san, err)
		}
	}
	// Black just moved, so only white may claim.
	if _, err := svc.ClaimDraw(ctx, "c1", "g1", "game", "bob", match.ClaimThreefold); !errors.Is(err, match.ErrNotYourTurn) {
		t.Fatalf("off-turn claim err = %v", err)
	}
	res, err := svc.ClaimDraw(ctx, "c1", "g1", "game", "alice", match.ClaimThreefold)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !res.Match.Finished() || len(res.Ratings) != 2 {
		t.Fatalf("claim result = %+v", res)
	}
	if _, err := svc.Show(ctx, "c1", "game"); !errors.Is(err, matchstore.ErrNotFound) {
		t.Fatalf("record survived claim, err = %v", err)
	}
}

func TestCloseSkipsRating(t *testing.T) {
	svc, arch := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Start(ctx, "c1", "bob", "alice", "", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Move(ctx, "c1", "g1", "game", "alice", "e4"); err != nil {
		t.Fatalf("move: %v", err)
	}

	if _, err := svc.Close(ctx, "c1", "game"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := svc.Show(ctx, "c1", "game"); !errors.Is(err, matchstore.ErrNotFound) {
		t.Fatalf("show after close err = %v", err)
	}
	rows, err := svc.Scoreboard(ctx, "g1", "elo")
	if err != nil {
		t.Fatalf("scoreboard: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("close touched ratings: %+v", rows)
	}
	if len(arch.saved()) != 0 {
		t.Fatalf("close archived: %+v", arch.saved())
	}
	if _, err := svc.Close(ctx, "c1", "game"); !errors.Is(err, matchstore.ErrNotFound) {
		t.Fatalf("double close err = %v", err)
	}
}

func TestVariantWinKingOfTheHill(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Start(ctx, "c1", "bob", "alice", "hill", "koth"); err != nil {
		t.Fatalf("start: %v", err)
	}

	// March the white king to d4.
	moves := []struct{ actor, san string }{
		{"alice", "e4"}, {"bob", "a6"},
		{"alice", "Ke2"}, {"bob", "a5"},
		{"alice", "Ke3"}, {"bob", "a4"},
		{"alice", "Kd4"},
	}
	var last *MoveResult
	for _, mv := range moves {
		res, err := svc.Move(ctx, "c1", "g1", "hill", mv.actor, mv.san)
		if err != nil {
			t.Fatalf("move %s: %v", mv.san, err)
		}
		last = res
	}
	if !last.Outcome.GameOver || last.Outcome.Classification != string(rules.VariantWin) {
		t.Fatalf("outcome = %+v", last.Outcome)
	}
	if last.Outcome.WinnerID != "alice" {
		t.Fatalf("winner = %s", last.Outcome.WinnerID)
	}
}

func TestSelfPlayFinishLeavesRatingsAlone(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Start(ctx, "c1", "solo", "solo", "", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, san := range []string{"f3", "e5", "g4", "Qh4#"} {
		if _, err := svc.Move(ctx, "c1", "g1", "game", "solo", san); err != nil {
			t.Fatalf("move %s: %v", san, err)
		}
	}
	rows, err := svc.Scoreboard(ctx, "g1", "elo")
	if err != nil {
		t.Fatalf("scoreboard: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("self-play rated: %+v", rows)
	}
}

func TestClearScores(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Start(ctx, "c1", "bob", "alice", "", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, mv := range []struct{ actor, san string }{
		{"alice", "f3"}, {"bob", "e5"}, {"alice", "g4"}, {"bob", "Qh4#"},
	} {
		if _, err := svc.Move(ctx, "c1", "g1", "game", mv.actor, mv.san); err != nil {
			t.Fatalf("move %s: %v", mv.san, err)
		}
	}
	rows, err := svc.Scoreboard(ctx, "g1", "elo")
	if err != nil {
		t.Fatalf("scoreboard: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %+v", rows)
	}

	res, err := svc.ClearScores(ctx, "g1", "bob")
	if err != nil {
		t.Fatalf("clear player: %v", err)
	}
	if res.Message == "" {
		t.Fatal("empty clear message")
	}
	rows, err = svc.Scoreboard(ctx, "g1", "elo")
	if err != nil {
		t.Fatalf("scoreboard: %v", err)
	}
	if len(rows) != 1 || rows[0].PlayerID != "alice" {
		t.Fatalf("rows after player clear = %+v", rows)
	}

	if _, err := svc.ClearScores(ctx, "g1", ""); err != nil {
		t.Fatalf("clear guild: %v", err)
	}
	rows, err = svc.Scoreboard(ctx, "g1", "elo")
	if err != nil {
		t.Fatalf("scoreboard: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows after guild clear = %+v", rows)
	}
}

func TestClearScoresGated(t *testing.T) {
	svc, _ := newTestService(t)
	svc.gate = migrate.NewGate()
	if _, err := svc.ClearScores(context.Background(), "g1", ""); !errors.Is(err, migrate.ErrNotReady) {
		t.Fatalf("clear err = %v", err)
	}
}
