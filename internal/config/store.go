package config

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ChangeFunc is called with the key path that changed.
type ChangeFunc func(path string)

type subscription struct {
	id      uint64
	pattern *regexp.Regexp
	fn      ChangeFunc
}

// Store is a key path view over the layered configuration.
//
// Writes notify subscribers whose pattern matches the written path. Callbacks run
// synchronously in registration order, after the store lock has been released, so
// a callback may read the store again.
type Store struct {
	mu   sync.RWMutex
	k    *koanf.Koanf
	path string

	subsMu sync.Mutex
	subs   []subscription
	nextID uint64
}

// NewStore returns an empty in-memory store. Useful for tests and tools that do
// not read a file.
func NewStore() *Store {
	return newStore(koanf.New("."), "")
}

func newStore(k *koanf.Koanf, path string) *Store {
	return &Store{k: k, path: path}
}

// Path returns the backing file path, empty when the store is not file backed.
func (s *Store) Path() string { return s.path }

// Config decodes the full tree on top of the defaults and validates it.
func (s *Store) Config() (*Config, error) {
	cfg := New()
	s.mu.RLock()
	err := s.k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"})
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Get returns the raw value at path. Parent paths return a nested map.
func (s *Store) Get(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.k.Exists(path) {
		return nil, false
	}
	return s.k.Get(path), true
}

// Keys returns the direct child keys below path, sorted. An empty path lists the roots.
func (s *Store) Keys(path string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var m map[string]any
	if path == "" {
		m = s.k.Raw()
	} else {
		m = s.k.Cut(path).Raw()
	}
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Unmarshal decodes the subtree at path into dst using koanf tags.
func (s *Store) Unmarshal(path string, dst any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if path != "" && !s.k.Exists(path) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err := s.k.UnmarshalWithConf(path, dst, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	return nil
}

// Set replaces the value at path and notifies subscribers.
func (s *Store) Set(path string, value any) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidConfig)
	}
	s.mu.Lock()
	s.k.Delete(path)
	err := s.k.Set(path, value)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	s.notify(path)
	return nil
}

// Delete removes path and notifies subscribers.
func (s *Store) Delete(path string) {
	s.mu.Lock()
	existed := s.k.Exists(path)
	s.k.Delete(path)
	s.mu.Unlock()
	if existed {
		s.notify(path)
	}
}

// Subscribe registers fn for every changed path matching pattern. The returned
// func removes the subscription.
func (s *Store) Subscribe(pattern string, fn ChangeFunc) (func(), error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: pattern %q: %w", ErrInvalidConfig, pattern, err)
	}

	s.subsMu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription{id: id, pattern: re, fn: fn})
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}, nil
}

func (s *Store) notify(path string) {
	s.subsMu.Lock()
	matched := make([]ChangeFunc, 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.pattern.MatchString(path) {
			matched = append(matched, sub.fn)
		}
	}
	s.subsMu.Unlock()

	for _, fn := range matched {
		fn(path)
	}
}

// Reload re-reads the file and env layers, swaps the tree and notifies every
// changed path. Changes inside a group collapse to its "groups.<key>" path.
// It returns the notified paths.
func (s *Store) Reload() ([]string, error) {
	next, err := readLayers(s.path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	prev := s.k
	s.k = next
	s.mu.Unlock()

	changed := diffPaths(prev.All(), next.All())
	for _, p := range changed {
		s.notify(p)
	}
	return changed, nil
}

// Watch reloads the store whenever the backing file changes, until ctx is done.
// onErr receives reload failures; the previous tree stays active in that case.
func (s *Store) Watch(ctx context.Context, onErr func(error)) error {
	if s.path == "" {
		return fmt.Errorf("%w: store is not file backed", ErrLoadConfig)
	}
	f := file.Provider(s.path)
	err := f.Watch(func(_ interface{}, werr error) {
		if werr == nil {
			_, werr = s.Reload()
		}
		if werr != nil && onErr != nil {
			onErr(werr)
		}
	})
	if err != nil {
		return fmt.Errorf("%w: watch %s: %w", ErrLoadConfig, s.path, err)
	}
	go func() {
		<-ctx.Done()
		_ = f.Unwatch()
	}()
	return nil
}

// diffPaths compares two flattened trees and returns the sorted set of changed paths.
func diffPaths(prev, next map[string]any) []string {
	set := make(map[string]struct{})
	mark := func(key string) {
		set[collapse(key)] = struct{}{}
	}
	for key, pv := range prev {
		nv, ok := next[key]
		if !ok || !cmp.Equal(pv, nv) {
			mark(key)
		}
	}
	for key := range next {
		if _, ok := prev[key]; !ok {
			mark(key)
		}
	}

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func collapse(key string) string {
	parts := strings.SplitN(key, ".", 3)
	if len(parts) >= 2 && parts[0] == "groups" {
		return parts[0] + "." + parts[1]
	}
	return key
}
