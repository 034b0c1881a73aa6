package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vigil/internal/ratelimit"

	bolt "go.etcd.io/bbolt"
)

// RateLimitStore is a durable ratelimit.CounterStore. Bolt write transactions
// are fully serialized, so the reset-check-increment sequence inside Admit is
// atomic per key without any extra locking; counters survive process
// restarts, which keeps limits honest across deploys.
type RateLimitStore struct {
	db *bolt.DB
}

var _ ratelimit.CounterStore = (*RateLimitStore)(nil)

func windowKey(key ratelimit.Key) []byte {
	return []byte(key.UserID + "/" + string(key.Action))
}

// Admit resets the window if expired, then increments if below limit.
func (s *RateLimitStore) Admit(ctx context.Context, key ratelimit.Key, cfg ratelimit.Config, now time.Time) (ratelimit.Window, bool, error) {
	var win ratelimit.Window
	var admitted bool

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketRateLimitWindows)
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", BucketRateLimitWindows)
		}

		k := windowKey(key)
		if data := bucket.Get(k); data != nil {
			if err := json.Unmarshal(data, &win); err != nil {
				// A malformed window resets rather than wedging the user.
				win = ratelimit.Window{}
			}
		}

		if win.Start.IsZero() || now.Sub(win.Start) >= cfg.Window {
			win = ratelimit.Window{Start: windowStartFor(now, cfg.Window)}
		}

		if win.Count < cfg.Limit {
			win.Count++
			admitted = true
		}

		data, err := json.Marshal(win)
		if err != nil {
			return fmt.Errorf("failed to marshal rate limit window: %w", err)
		}
		return bucket.Put(k, data)
	})
	if err != nil {
		return ratelimit.Window{}, false, err
	}
	return win, admitted, nil
}

// Peek returns the current window state without mutating it.
func (s *RateLimitStore) Peek(ctx context.Context, key ratelimit.Key, cfg ratelimit.Config, now time.Time) (ratelimit.Window, error) {
	var win ratelimit.Window

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketRateLimitWindows)
		if bucket == nil {
			return nil
		}

		data := bucket.Get(windowKey(key))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &win)
	})
	if err != nil {
		return ratelimit.Window{}, err
	}

	if win.Start.IsZero() || now.Sub(win.Start) >= cfg.Window {
		return ratelimit.Window{Start: windowStartFor(now, cfg.Window)}, nil
	}
	return win, nil
}

// Sweep deletes windows whose start is before cutoff.
func (s *RateLimitStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketRateLimitWindows)
		if bucket == nil {
			return nil
		}

		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var win ratelimit.Window
			if err := json.Unmarshal(v, &win); err != nil || win.Start.Before(cutoff) {
				if err := cursor.Delete(); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})

	return removed, err
}

// windowStartFor floors t to the window boundary, matching the limiter's
// epoch-based flooring so all stores agree on window identity.
func windowStartFor(t time.Time, window time.Duration) time.Time {
	ws := int64(window / time.Second)
	return time.Unix(t.Unix()/ws*ws, 0).UTC()
}
