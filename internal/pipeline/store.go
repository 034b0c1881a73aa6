package pipeline

import (
	"context"
	"time"
)

// ContentStore persists content items. Transition is the only mutation path
// after creation.
type ContentStore interface {
	// Put creates a content item record.
	Put(ctx context.Context, item *ContentItem) error

	// Get returns an item by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*ContentItem, error)

	// Transition atomically mutates an item: it reads the record, verifies
	// the current status is one of from, applies fn, and writes the result,
	// all as a single serialized read-modify-write. Returns
	// ErrStaleTransition when the status check fails, leaving the record
	// untouched.
	Transition(ctx context.Context, id string, from []Status, fn func(*ContentItem) error) (*ContentItem, error)

	// ListByStatus returns up to limit items in the given status, oldest
	// transition first.
	ListByStatus(ctx context.Context, status Status, limit int) ([]ContentItem, error)

	// CountByStatus returns item counts per status, for gauges.
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// DecisionStore is the append-only decision log.
type DecisionStore interface {
	Append(ctx context.Context, d *Decision) error
	ListByContent(ctx context.Context, contentID string) ([]Decision, error)
}

// AuditStore records every transition, including decision-free retry attempts.
type AuditStore interface {
	Log(ctx context.Context, entry *AuditEntry) error
	ListRecent(ctx context.Context, limit int) ([]AuditEntry, error)
}

// ReportStore persists user reports.
type ReportStore interface {
	Create(ctx context.Context, r *Report) error
	Get(ctx context.Context, id string) (*Report, error)
	ListByContent(ctx context.Context, contentID string) ([]Report, error)
	ListRecent(ctx context.Context, limit int) ([]Report, error)

	// HasReported reports whether reporterID already filed a report against
	// contentID.
	HasReported(ctx context.Context, reporterID, contentID string) (bool, error)
}

// ViolationStore tracks per-owner blocked-content counts. Informational
// signal for operator tooling, not an input to any decision.
type ViolationStore interface {
	Increment(ctx context.Context, ownerID string) (int, error)
	Count(ctx context.Context, ownerID string) (int, error)
}

// Analytics mirrors decisions and reports into a queryable store for the
// operator stats endpoint. Best-effort: failures are logged, never block the
// pipeline, and the record store remains the source of truth.
type Analytics interface {
	RecordDecision(ctx context.Context, d *Decision) error
	RecordReport(ctx context.Context, r *Report) error
}

// nowFunc is swappable in tests.
type nowFunc func() time.Time
