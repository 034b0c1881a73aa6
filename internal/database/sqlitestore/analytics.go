// Package sqlitestore provides the SQLite-backed analytics mirror. Decisions
// and reports are copied here as they happen so the operator stats endpoint
// can run aggregate queries without scanning the record store. The mirror is
// best-effort and rebuildable; bolt remains the source of truth.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"vigil/internal/pipeline"

	"github.com/XSAM/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id           TEXT PRIMARY KEY,
	content_id   TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	reason_code  TEXT NOT NULL,
	decided_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_outcome ON decisions(outcome);
CREATE INDEX IF NOT EXISTS idx_decisions_decided_at ON decisions(decided_at);

CREATE TABLE IF NOT EXISTS reports (
	id           TEXT PRIMARY KEY,
	content_id   TEXT NOT NULL,
	reporter_id  TEXT NOT NULL,
	category     TEXT NOT NULL,
	submitted_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_category ON reports(category);
`

// Analytics implements pipeline.Analytics over a SQLite database.
type Analytics struct {
	db *sql.DB
}

var _ pipeline.Analytics = (*Analytics)(nil)

// Open opens (or creates) the analytics database and applies the schema.
// The connection is instrumented with otelsql so queries show up in traces.
func Open(path string) (*Analytics, error) {
	db, err := otelsql.Open("sqlite", path,
		otelsql.WithAttributes(semconv.DBSystemSqlite))
	if err != nil {
		return nil, fmt.Errorf("failed to open analytics database: %w", err)
	}

	// modernc sqlite does not tolerate concurrent writers on one file.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply analytics schema: %w", err)
	}

	return &Analytics{db: db}, nil
}

// Close closes the database connection.
func (a *Analytics) Close() error {
	return a.db.Close()
}

// RecordDecision mirrors a decision. Replaying the same decision is a no-op
// thanks to the upsert, which makes the mirror safe to rebuild.
func (a *Analytics) RecordDecision(ctx context.Context, d *pipeline.Decision) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO decisions (id, content_id, outcome, reason_code, decided_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			outcome     = excluded.outcome,
			reason_code = excluded.reason_code,
			decided_at  = excluded.decided_at
	`, d.ID, d.ContentID, string(d.Outcome), d.ReasonCode, d.DecidedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

// RecordReport mirrors a report.
func (a *Analytics) RecordReport(ctx context.Context, r *pipeline.Report) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO reports (id, content_id, reporter_id, category, submitted_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			category     = excluded.category,
			submitted_at = excluded.submitted_at
	`, r.ID, r.ContentID, r.ReporterID, string(r.Category), r.SubmittedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record report: %w", err)
	}
	return nil
}

// Stats is the aggregate view served by the operator stats endpoint.
type Stats struct {
	DecisionsByOutcome    map[string]int `json:"decisions_by_outcome"`
	DecisionsByReasonCode map[string]int `json:"decisions_by_reason_code"`
	ReportsByCategory     map[string]int `json:"reports_by_category"`
	DecisionsLast24h      int            `json:"decisions_last_24h"`
}

// Stats aggregates the mirror into counters.
func (a *Analytics) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		DecisionsByOutcome:    make(map[string]int),
		DecisionsByReasonCode: make(map[string]int),
		ReportsByCategory:     make(map[string]int),
	}

	if err := a.countGroups(ctx, `SELECT outcome, COUNT(*) FROM decisions GROUP BY outcome`, stats.DecisionsByOutcome); err != nil {
		return nil, err
	}
	if err := a.countGroups(ctx, `SELECT reason_code, COUNT(*) FROM decisions GROUP BY reason_code`, stats.DecisionsByReasonCode); err != nil {
		return nil, err
	}
	if err := a.countGroups(ctx, `SELECT category, COUNT(*) FROM reports GROUP BY category`, stats.ReportsByCategory); err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-24 * time.Hour).Format(time.RFC3339Nano)
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decisions WHERE decided_at > ?`, cutoff).Scan(&stats.DecisionsLast24h)
	if err != nil {
		return nil, fmt.Errorf("count recent decisions: %w", err)
	}

	return stats, nil
}

func (a *Analytics) countGroups(ctx context.Context, query string, into map[string]int) error {
	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			continue
		}
		into[key] = count
	}
	return rows.Err()
}
