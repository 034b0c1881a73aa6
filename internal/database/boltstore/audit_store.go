package boltstore

import (
	"context"
	"encoding/json"
	"fmt"

	"vigil/internal/pipeline"

	bolt "go.etcd.io/bbolt"
)

// AuditStore records every state transition, including retry attempts that
// carry no decision.
type AuditStore struct {
	db *bolt.DB
}

var _ pipeline.AuditStore = (*AuditStore)(nil)

// Log stores an audit entry under a timestamp-ordered key.
func (s *AuditStore) Log(ctx context.Context, entry *pipeline.AuditEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketAuditLog)
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", BucketAuditLog)
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal audit entry: %w", err)
		}

		key := fmt.Sprintf("%d:%s", entry.At.UnixNano(), entry.ID)
		return bucket.Put([]byte(key), data)
	})
}

// ListRecent returns the most recent audit entries, newest first.
func (s *AuditStore) ListRecent(ctx context.Context, limit int) ([]pipeline.AuditEntry, error) {
	var entries []pipeline.AuditEntry

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketAuditLog)
		if bucket == nil {
			return nil
		}

		cursor := bucket.Cursor()
		for k, v := cursor.Last(); k != nil && len(entries) < limit; k, v = cursor.Prev() {
			var entry pipeline.AuditEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})

	return entries, err
}

// ListByContent returns all audit entries for one content item, oldest first.
func (s *AuditStore) ListByContent(ctx context.Context, contentID string) ([]pipeline.AuditEntry, error) {
	var entries []pipeline.AuditEntry

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketAuditLog)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var entry pipeline.AuditEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return nil // Skip malformed entries
			}
			if entry.ContentID == contentID {
				entries = append(entries, entry)
			}
			return nil
		})
	})

	return entries, err
}
