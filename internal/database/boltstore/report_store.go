package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"vigil/internal/pipeline"

	bolt "go.etcd.io/bbolt"
)

// ReportStore provides persistent storage for user reports. Reports are an
// audit trail: created once, never mutated, never deleted.
type ReportStore struct {
	db *bolt.DB
}

var _ pipeline.ReportStore = (*ReportStore)(nil)

// Create stores a new report and its lookup indexes.
func (s *ReportStore) Create(ctx context.Context, report *pipeline.Report) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketReports)
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", BucketReports)
		}

		data, err := json.Marshal(report)
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}

		if err := bucket.Put([]byte(report.ID), data); err != nil {
			return err
		}

		// Index by content item
		contentIndex := tx.Bucket(BucketReportsByContent)
		if contentIndex != nil {
			key := []byte(report.ContentID + ":" + report.ID)
			if err := contentIndex.Put(key, []byte(report.ID)); err != nil {
				return err
			}
		}

		// Index by (reporter, content) for duplicate detection
		reporterIndex := tx.Bucket(BucketReportsByReporter)
		if reporterIndex != nil {
			key := []byte(report.ReporterID + ":" + report.ContentID)
			if err := reporterIndex.Put(key, []byte(report.ID)); err != nil {
				return err
			}
		}

		return nil
	})
}

// Get retrieves a report by ID, or nil if absent.
func (s *ReportStore) Get(ctx context.Context, id string) (*pipeline.Report, error) {
	var report *pipeline.Report

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketReports)
		if bucket == nil {
			return nil
		}

		data := bucket.Get([]byte(id))
		if data == nil {
			return nil
		}

		report = &pipeline.Report{}
		return json.Unmarshal(data, report)
	})

	return report, err
}

// ListByContent returns all reports filed against a content item.
func (s *ReportStore) ListByContent(ctx context.Context, contentID string) ([]pipeline.Report, error) {
	var reports []pipeline.Report

	err := s.db.View(func(tx *bolt.Tx) error {
		index := tx.Bucket(BucketReportsByContent)
		bucket := tx.Bucket(BucketReports)
		if index == nil || bucket == nil {
			return nil
		}

		cursor := index.Cursor()
		prefix := []byte(contentID + ":")

		for k, v := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cursor.Next() {
			data := bucket.Get(v)
			if data == nil {
				continue
			}
			var r pipeline.Report
			if err := json.Unmarshal(data, &r); err != nil {
				continue
			}
			reports = append(reports, r)
		}

		return nil
	})

	return reports, err
}

// ListRecent returns the most recently submitted reports, newest first.
func (s *ReportStore) ListRecent(ctx context.Context, limit int) ([]pipeline.Report, error) {
	var all []pipeline.Report

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketReports)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var r pipeline.Report
			if err := json.Unmarshal(v, &r); err != nil {
				return nil // Skip malformed entries
			}
			all = append(all, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// Reports are keyed by ID, not time; sort newest first here.
	sort.Slice(all, func(i, j int) bool {
		return all[i].SubmittedAt.After(all[j].SubmittedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// HasReported checks whether a reporter has already reported a content item.
func (s *ReportStore) HasReported(ctx context.Context, reporterID, contentID string) (bool, error) {
	var found bool

	err := s.db.View(func(tx *bolt.Tx) error {
		index := tx.Bucket(BucketReportsByReporter)
		if index == nil {
			return nil
		}

		found = index.Get([]byte(reporterID+":"+contentID)) != nil
		return nil
	})

	return found, err
}
