package admission

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps admission windows in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*window
	idleTTL time.Duration
}

type window struct {
	mu         sync.Mutex
	timestamps []time.Time
	lastSeen   time.Time
	removed    bool // set by Cleanup once the window leaves entries
}

type MemoryOption func(*MemoryStore)

// WithIdleTTL sets how long an untouched window is kept before Cleanup drops it.
func WithIdleTTL(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.idleTTL = d }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*window),
		idleTTL: 15 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) get(key string, now time.Time) *window {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.entries[key]; ok {
		return w
	}
	w := &window{lastSeen: now}
	s.entries[key] = w
	return w
}

// acquire returns the live window for key with its lock held.
func (s *MemoryStore) acquire(key string, now time.Time) *window {
	for {
		w := s.get(key, now)
		w.mu.Lock()
		if !w.removed {
			return w
		}
		w.mu.Unlock()
	}
}

// TryAdmit implements Store.
func (s *MemoryStore) TryAdmit(_ context.Context, key string, now time.Time, limit int, span time.Duration) (Decision, error) {
	w := s.acquire(key, now)
	defer w.mu.Unlock()

	w.lastSeen = now
	cutoff := now.Add(-span)
	kept := w.timestamps[:0]
	for _, ts := range w.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.timestamps = kept

	if len(w.timestamps) >= limit {
		return Decision{
			Allowed:    false,
			Count:      len(w.timestamps),
			RetryAfter: w.timestamps[0].Add(span).Sub(now),
		}, nil
	}
	w.timestamps = append(w.timestamps, now)
	return Decision{Allowed: true, Count: len(w.timestamps)}, nil
}

// Cleanup drops windows untouched for longer than the idle TTL.
func (s *MemoryStore) Cleanup(now time.Time) int {
	cutoff := now.Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, w := range s.entries {
		w.mu.Lock()
		if w.lastSeen.Before(cutoff) {
			w.removed = true
			delete(s.entries, k)
			removed++
		}
		w.mu.Unlock()
	}
	return removed
}

// StartJanitor periodically removes idle windows until ctx is done.
func (s *MemoryStore) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				s.Cleanup(now.UTC())
			}
		}
	}()
}
