// Package migrate brings the stored schema up to the current version before
// the service starts handling commands. The version is a single global
// counter; migrations apply one step at a time in order.
package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/wildcogs/chessmatch/internal/kv"
	"github.com/wildcogs/chessmatch/internal/match"
	"github.com/wildcogs/chessmatch/internal/obslog"
	"go.uber.org/zap"
)

const (
	// VersionKey holds the global schema version as a decimal string.
	VersionKey = "chess:schema:version"
	// Latest is the schema version this build reads and writes.
	Latest = match.RecordSchema

	matchPrefix = "chess:match:"
)

var (
	ErrNotReady   = staticErr("storage schema not migrated yet")
	ErrDegraded   = staticErr("storage schema migration failed")
	ErrOutOfOrder = staticErr("migration steps out of order")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }

// Migration is one schema step. Apply must be idempotent so a crashed run can
// be repeated safely.
type Migration struct {
	Version int
	Name    string
	Apply   func(ctx context.Context, kvs kv.Store) error
}

// Runner applies pending migrations against a store.
type Runner struct {
	kv         kv.Store
	migrations []Migration
}

func NewRunner(kvs kv.Store) *Runner {
	return &Runner{kv: kvs, migrations: builtin()}
}

// Version reads the stored schema version; a missing key means version 0.
func (r *Runner) Version(ctx context.Context) (int, error) {
	raw, err := r.kv.Get(ctx, VersionKey)
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("bad schema version %q: %w", raw, err)
	}
	return n, nil
}

func (r *Runner) setVersion(ctx context.Context, v int) error {
	return r.kv.Set(ctx, VersionKey, []byte(strconv.Itoa(v)))
}

// Run applies every migration above the stored version, bumping the version
// after each step. Steps must be numbered consecutively from the stored
// version, otherwise Run fails with ErrOutOfOrder before touching data.
func (r *Runner) Run(ctx context.Context) error {
	current, err := r.Version(ctx)
	if err != nil {
		return err
	}
	for _, m := range r.migrations {
		if m.Version <= current {
			continue
		}
		if m.Version != current+1 {
			return fmt.Errorf("%w: at %d, next step is %d", ErrOutOfOrder, current, m.Version)
		}
		obslog.L().Info("applying schema migration",
			zap.Int("version", m.Version), zap.String("name", m.Name))
		if err := m.Apply(ctx, r.kv); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if err := r.setVersion(ctx, m.Version); err != nil {
			return err
		}
		current = m.Version
	}
	if current < Latest {
		return fmt.Errorf("%w: stopped at %d, want %d", ErrOutOfOrder, current, Latest)
	}
	return nil
}

// Gate publishes migration progress to command handlers. Commands are
// rejected until the runner reports success, and permanently rejected with
// ErrDegraded when it fails.
type Gate struct {
	mu    sync.RWMutex
	state error
}

func NewGate() *Gate { return &Gate{state: ErrNotReady} }

// Ready reports nil once migrations completed.
func (g *Gate) Ready() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

func (g *Gate) MarkReady() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = nil
}

func (g *Gate) MarkDegraded() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = ErrDegraded
}

func builtin() []Migration {
	return []Migration{
		{Version: 1, Name: "split channel blobs", Apply: splitChannelBlobs},
		{Version: 2, Name: "stamp record ids", Apply: stampRecordIDs},
	}
}

// splitChannelBlobs rewrites the v0 layout, one JSON object per channel
// keyed chess:match:{channel} mapping name to record, into one key per match.
func splitChannelBlobs(ctx context.Context, kvs kv.Store) error {
	keys, err := kvs.Keys(ctx, matchPrefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		suffix := strings.TrimPrefix(k, matchPrefix)
		if strings.Contains(suffix, ":") {
			continue // already per-match
		}
		raw, err := kvs.Get(ctx, k)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return err
		}
		var blob map[string]json.RawMessage
		if err := json.Unmarshal(raw, &blob); err != nil {
			return fmt.Errorf("channel blob %s: %w", k, err)
		}
		for name, rec := range blob {
			if err := kvs.Set(ctx, k+":"+name, rec); err != nil {
				return err
			}
		}
		if err := kvs.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// stampRecordIDs gives every match record a uuid and a schema field.
func stampRecordIDs(ctx context.Context, kvs kv.Store) error {
	keys, err := kvs.Keys(ctx, matchPrefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		raw, err := kvs.Get(ctx, k)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return err
		}
		var rec map[string]any
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("match record %s: %w", k, err)
		}
		if id, _ := rec["id"].(string); id == "" {
			rec["id"] = uuid.NewString()
		}
		rec["schema"] = 2
		out, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := kvs.Set(ctx, k, out); err != nil {
			return err
		}
	}
	return nil
}
