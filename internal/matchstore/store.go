// Package matchstore persists in-progress matches, one record per
// (channel, name), and serializes read-modify-write cycles per match.
package matchstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/wildcogs/chessmatch/internal/kv"
	"github.com/wildcogs/chessmatch/internal/match"
	"github.com/wildcogs/chessmatch/internal/variant"
)

const keyPrefix = "chess:match:"

var (
	ErrNotFound = staticErr("no such match")
	ErrExists   = staticErr("match name already in use")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }

// Entry pairs a match with its channel-scoped name.
type Entry struct {
	Name  string
	Match *match.Match
}

// Store loads and saves match records. All mutation goes through Update so
// concurrent commands against the same match are applied one at a time.
type Store struct {
	kv  kv.Store
	reg *variant.Registry

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(kvs kv.Store, reg *variant.Registry) *Store {
	return &Store{kv: kvs, reg: reg, locks: make(map[string]*sync.Mutex)}
}

// Key returns the record key for a (channel, name) pair.
func Key(channel, name string) string {
	return keyPrefix + channel + ":" + name
}

func channelPrefix(channel string) string {
	return keyPrefix + channel + ":"
}

func (s *Store) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Get loads one match.
func (s *Store) Get(ctx context.Context, channel, name string) (*match.Match, error) {
	raw, err := s.kv.Get(ctx, Key(channel, name))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, channel, name)
	}
	if err != nil {
		return nil, err
	}
	return match.Unmarshal(raw, s.reg)
}

// Put persists a match under (channel, name), overwriting any existing record.
func (s *Store) Put(ctx context.Context, channel, name string, m *match.Match) error {
	raw, err := m.Marshal()
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, Key(channel, name), raw)
}

// Create persists a new match and fails when the name is taken.
func (s *Store) Create(ctx context.Context, channel, name string, m *match.Match) error {
	key := Key(channel, name)
	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()
	if _, err := s.kv.Get(ctx, key); err == nil {
		return fmt.Errorf("%w: %s/%s", ErrExists, channel, name)
	} else if !errors.Is(err, kv.ErrNotFound) {
		return err
	}
	return s.Put(ctx, channel, name, m)
}

// Remove deletes a match record. Removing an absent record is not an error.
func (s *Store) Remove(ctx context.Context, channel, name string) error {
	return s.kv.Delete(ctx, Key(channel, name))
}

// List returns the channel's matches sorted by name. Records that no longer
// decode are skipped rather than failing the whole listing.
func (s *Store) List(ctx context.Context, channel string) ([]Entry, error) {
	prefix := channelPrefix(channel)
	keys, err := s.kv.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	var out []Entry
	for _, k := range keys {
		name := strings.TrimPrefix(k, prefix)
		raw, err := s.kv.Get(ctx, k)
		if err != nil {
			continue
		}
		m, err := match.Unmarshal(raw, s.reg)
		if err != nil {
			continue
		}
		out = append(out, Entry{Name: name, Match: m})
	}
	return out, nil
}

// CreateUniqueName returns base if free, otherwise base with the first unused
// numeric suffix appended (game, game1, game2, ...).
func (s *Store) CreateUniqueName(ctx context.Context, channel, base string) (string, error) {
	base = strings.TrimSpace(base)
	candidate := base
	for i := 1; ; i++ {
		_, err := s.kv.Get(ctx, Key(channel, candidate))
		if errors.Is(err, kv.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = base + strconv.Itoa(i)
	}
}

// Update loads the match, applies fn, and persists the result, all under the
// match's lock. A finished match is removed from the store instead of saved;
// any error from fn leaves the stored record untouched.
func (s *Store) Update(ctx context.Context, channel, name string, fn func(*match.Match) error) (*match.Match, error) {
	key := Key(channel, name)
	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()

	m, err := s.Get(ctx, channel, name)
	if err != nil {
		return nil, err
	}
	if err := fn(m); err != nil {
		return m, err
	}
	if m.Finished() {
		if err := s.kv.Delete(ctx, key); err != nil {
			return m, err
		}
		return m, nil
	}
	if err := s.Put(ctx, channel, name, m); err != nil {
		return m, err
	}
	return m, nil
}
