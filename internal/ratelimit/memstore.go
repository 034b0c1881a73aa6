package ratelimit

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// MemStore is an in-memory CounterStore. Each Admit runs inside the map's
// per-key Compute, so the reset-check-increment sequence is atomic without a
// global lock. Counters do not survive a restart; the bolt-backed store is
// the durable option.
type MemStore struct {
	windows *xsync.MapOf[Key, Window]
}

var _ CounterStore = (*MemStore)(nil)

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{windows: xsync.NewMapOf[Key, Window]()}
}

func (s *MemStore) Admit(_ context.Context, key Key, cfg Config, now time.Time) (Window, bool, error) {
	var admitted bool
	win, _ := s.windows.Compute(key, func(old Window, loaded bool) (Window, bool) {
		start := windowStart(now, cfg.Window)
		if !loaded || now.Sub(old.Start) >= cfg.Window {
			old = Window{Start: start}
		}
		if old.Count < cfg.Limit {
			old.Count++
			admitted = true
		} else {
			admitted = false
		}
		return old, false
	})
	return win, admitted, nil
}

func (s *MemStore) Peek(_ context.Context, key Key, cfg Config, now time.Time) (Window, error) {
	win, ok := s.windows.Load(key)
	if !ok || now.Sub(win.Start) >= cfg.Window {
		return Window{Start: windowStart(now, cfg.Window)}, nil
	}
	return win, nil
}

func (s *MemStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	removed := 0
	s.windows.Range(func(key Key, win Window) bool {
		if win.Start.Before(cutoff) {
			s.windows.Delete(key)
			removed++
		}
		return true
	})
	return removed, nil
}

// Len returns the number of tracked windows, for gauges and tests.
func (s *MemStore) Len() int {
	return s.windows.Size()
}
