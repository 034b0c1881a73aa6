// Package boltstore provides persistent storage using BoltDB (bbolt).
// It implements the pipeline record store interfaces (content items,
// decisions, audit log, reports) and the rate limiter's counter store.
package boltstore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names for organizing data
var (
	// BucketContentItems stores content item records keyed by item ID
	BucketContentItems = []byte("content_items")

	// BucketDecisions stores moderation decisions keyed by "timestampNano:decisionID"
	// for chronological ordering; append-only
	BucketDecisions = []byte("decisions")

	// BucketDecisionsByContent indexes decisions by content item:
	// "contentID:decisionID" -> decisions bucket key
	BucketDecisionsByContent = []byte("decisions_by_content")

	// BucketAuditLog stores transition audit entries keyed by "timestampNano:entryID"
	BucketAuditLog = []byte("audit_log")

	// BucketReports stores user reports keyed by report ID
	BucketReports = []byte("reports")

	// BucketReportsByContent indexes reports by content item: "contentID:reportID" -> reportID
	BucketReportsByContent = []byte("reports_by_content")

	// BucketReportsByReporter indexes reports for duplicate detection:
	// "reporterID:contentID" -> reportID
	BucketReportsByReporter = []byte("reports_by_reporter")

	// BucketRateLimitWindows stores fixed-window counters keyed by "userID/action"
	BucketRateLimitWindows = []byte("rate_limit_windows")

	// BucketUserViolations stores per-owner blocked-content counts keyed by user ID
	BucketUserViolations = []byte("user_violations")
)

// Store wraps a BoltDB database and provides access to specialized stores.
type Store struct {
	db *bolt.DB
}

// Options configures the BoltDB store.
type Options struct {
	// Path to the database file. Parent directories will be created if needed.
	Path string

	// Timeout for obtaining a file lock on the database.
	// If zero, a default of 5 seconds is used.
	Timeout time.Duration

	// FileMode for creating the database file.
	// If zero, 0600 is used.
	FileMode os.FileMode
}

// DefaultOptions returns sensible defaults for development.
func DefaultOptions() Options {
	return Options{
		Path:     "vigil.db",
		Timeout:  5 * time.Second,
		FileMode: 0600,
	}
}

// Open creates or opens a BoltDB database at the specified path.
// It creates all necessary buckets if they don't exist.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		opts.Path = "vigil.db"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.FileMode == 0 {
		opts.FileMode = 0600
	}

	// Ensure parent directory exists
	dir := filepath.Dir(opts.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := bolt.Open(opts.Path, opts.FileMode, &bolt.Options{
		Timeout: opts.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			BucketContentItems,
			BucketDecisions,
			BucketDecisionsByContent,
			BucketAuditLog,
			BucketReports,
			BucketReportsByContent,
			BucketReportsByReporter,
			BucketRateLimitWindows,
			BucketUserViolations,
		}

		for _, bucket := range buckets {
			_, err := tx.CreateBucketIfNotExists(bucket)
			if err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the underlying BoltDB instance for advanced operations.
func (s *Store) DB() *bolt.DB {
	return s.db
}

// ContentStore returns a content item store backed by this database.
func (s *Store) ContentStore() *ContentStore {
	return &ContentStore{db: s.db}
}

// DecisionStore returns a decision log store backed by this database.
func (s *Store) DecisionStore() *DecisionStore {
	return &DecisionStore{db: s.db}
}

// AuditStore returns a transition audit store backed by this database.
func (s *Store) AuditStore() *AuditStore {
	return &AuditStore{db: s.db}
}

// ReportStore returns a report store backed by this database.
func (s *Store) ReportStore() *ReportStore {
	return &ReportStore{db: s.db}
}

// RateLimitStore returns a rate-limit counter store backed by this database.
func (s *Store) RateLimitStore() *RateLimitStore {
	return &RateLimitStore{db: s.db}
}

// ViolationStore returns a per-user violation counter store backed by this database.
func (s *Store) ViolationStore() *ViolationStore {
	return &ViolationStore{db: s.db}
}

// Stats returns database statistics.
func (s *Store) Stats() bolt.Stats {
	return s.db.Stats()
}

// hasPrefix checks if a byte slice has a given prefix.
func hasPrefix(s, prefix []byte) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i, b := range prefix {
		if s[i] != b {
			return false
		}
	}
	return true
}
