// Package ratelimit implements fixed-window per-user action limits. Windows
// are floored to epoch boundaries, so all processes agree on where a window
// starts; the known consequence is that a user can burst up to twice the
// nominal limit across a window edge, which is an accepted trade-off for
// bounded memory and a trivially correct reset rule.
package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Action is a rate-limited action type.
type Action string

const (
	ActionImageUpload Action = "image_upload"
	ActionTextMessage Action = "text_message"
	ActionReport      Action = "report"
)

// Actions returns every known action type, in a fixed order.
func Actions() []Action {
	return []Action{ActionImageUpload, ActionTextMessage, ActionReport}
}

// Config is the limit for one action type.
type Config struct {
	Limit  int
	Window time.Duration
}

// Limits maps action types to their configuration.
type Limits map[Action]Config

// DefaultLimits returns the production defaults: 20 image uploads per hour,
// 60 text messages per minute, 10 reports per hour.
func DefaultLimits() Limits {
	return Limits{
		ActionImageUpload: {Limit: 20, Window: time.Hour},
		ActionTextMessage: {Limit: 60, Window: time.Minute},
		ActionReport:      {Limit: 10, Window: time.Hour},
	}
}

// Key identifies one counter.
type Key struct {
	UserID string
	Action Action
}

// Window is the stored counter state for one key.
type Window struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}

// Snapshot is the caller-visible state of one counter.
type Snapshot struct {
	Action        Action    `json:"action"`
	Current       int       `json:"current"`
	Limit         int       `json:"limit"`
	Remaining     int       `json:"remaining"`
	ResetAt       time.Time `json:"reset_at"`
	WindowSeconds int       `json:"window_seconds"`
}

// CounterStore is the atomic counter primitive behind the limiter. Admit must
// be atomic per key under concurrent calls: either a conditional
// increment-below-limit in one locked/serialized step, or an equivalent
// compare-and-swap. A plain read-then-write is not an acceptable
// implementation.
type CounterStore interface {
	// Admit resets the window if expired, then increments the counter if it
	// is below limit. It returns the post-call window state and whether the
	// action was admitted. A rejected action is not counted.
	Admit(ctx context.Context, key Key, cfg Config, now time.Time) (Window, bool, error)

	// Peek returns the current window state without mutating it. An expired
	// or absent window reads as zero in the current window.
	Peek(ctx context.Context, key Key, cfg Config, now time.Time) (Window, error)

	// Sweep removes windows whose start is before cutoff, returning how many
	// were removed.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// windowStart floors t to the window boundary, matching across processes.
func windowStart(t time.Time, window time.Duration) time.Time {
	ws := int64(window / time.Second)
	return time.Unix(t.Unix()/ws*ws, 0).UTC()
}

// Limiter enforces fixed-window limits over a CounterStore.
type Limiter struct {
	store  CounterStore
	limits Limits

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Limiter. Nil limits fall back to DefaultLimits.
func New(store CounterStore, limits Limits) *Limiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Limiter{store: store, limits: limits, now: time.Now}
}

// Admit checks and counts one action. The returned snapshot reflects the
// state after the call; on rejection, ResetAt tells the caller when the
// window rolls over.
func (l *Limiter) Admit(ctx context.Context, userID string, action Action) (Snapshot, bool, error) {
	cfg, ok := l.limits[action]
	if !ok {
		// Unknown actions are never limited; this only happens on programmer
		// error and is logged rather than failed.
		log.Warn().Str("action", string(action)).Msg("ratelimit: admit for unconfigured action")
		return Snapshot{Action: action}, true, nil
	}

	now := l.now()
	win, admitted, err := l.store.Admit(ctx, Key{UserID: userID, Action: action}, cfg, now)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snapshotOf(action, cfg, win), admitted, nil
}

// Status returns the current state of every configured action for a user
// without consuming quota.
func (l *Limiter) Status(ctx context.Context, userID string) (map[Action]Snapshot, error) {
	now := l.now()
	out := make(map[Action]Snapshot, len(l.limits))
	for _, action := range Actions() {
		cfg, ok := l.limits[action]
		if !ok {
			continue
		}
		win, err := l.store.Peek(ctx, Key{UserID: userID, Action: action}, cfg, now)
		if err != nil {
			return nil, err
		}
		out[action] = snapshotOf(action, cfg, win)
	}
	return out, nil
}

// StartSweeper launches a goroutine that periodically garbage-collects stale
// windows. A window is stale once it is several window lengths old; retain
// controls that horizon. Runs until ctx is cancelled.
func (l *Limiter) StartSweeper(ctx context.Context, interval, retain time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := l.store.Sweep(ctx, l.now().Add(-retain))
				if err != nil {
					log.Error().Err(err).Msg("ratelimit: sweep failed")
					continue
				}
				if removed > 0 {
					log.Info().Int("removed", removed).Msg("ratelimit: swept stale windows")
				}
			}
		}
	}()

	log.Info().Dur("interval", interval).Dur("retain", retain).Msg("ratelimit: sweeper started")
}

func snapshotOf(action Action, cfg Config, win Window) Snapshot {
	remaining := cfg.Limit - win.Count
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{
		Action:        action,
		Current:       win.Count,
		Limit:         cfg.Limit,
		Remaining:     remaining,
		ResetAt:       win.Start.Add(cfg.Window),
		WindowSeconds: int(cfg.Window / time.Second),
	}
}
