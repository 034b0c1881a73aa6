package boltstore

import (
	"context"
	"encoding/json"
	"fmt"

	"vigil/internal/pipeline"

	bolt "go.etcd.io/bbolt"
)

// DecisionStore is the append-only moderation decision log. Decisions are
// never updated or deleted once written.
type DecisionStore struct {
	db *bolt.DB
}

var _ pipeline.DecisionStore = (*DecisionStore)(nil)

// Append stores a decision and indexes it by content item.
func (s *DecisionStore) Append(ctx context.Context, d *pipeline.Decision) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketDecisions)
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", BucketDecisions)
		}

		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to marshal decision: %w", err)
		}

		// Timestamp-based key for chronological ordering, ID suffix for uniqueness
		key := fmt.Sprintf("%d:%s", d.DecidedAt.UnixNano(), d.ID)
		if err := bucket.Put([]byte(key), data); err != nil {
			return err
		}

		index := tx.Bucket(BucketDecisionsByContent)
		if index == nil {
			return fmt.Errorf("bucket not found: %s", BucketDecisionsByContent)
		}
		indexKey := []byte(d.ContentID + ":" + d.ID)
		return index.Put(indexKey, []byte(key))
	})
}

// ListByContent returns all decisions for a content item, oldest first.
func (s *DecisionStore) ListByContent(ctx context.Context, contentID string) ([]pipeline.Decision, error) {
	var decisions []pipeline.Decision

	err := s.db.View(func(tx *bolt.Tx) error {
		index := tx.Bucket(BucketDecisionsByContent)
		bucket := tx.Bucket(BucketDecisions)
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
			var d pipeline.Decision
			if err := json.Unmarshal(data, &d); err != nil {
				continue
			}
			decisions = append(decisions, d)
		}

		return nil
	})

	return decisions, err
}

// ListRecent returns the most recent decisions, newest first.
func (s *DecisionStore) ListRecent(ctx context.Context, limit int) ([]pipeline.Decision, error) {
	var decisions []pipeline.Decision

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketDecisions)
		if bucket == nil {
			return nil
		}

		cursor := bucket.Cursor()
		for k, v := cursor.Last(); k != nil && len(decisions) < limit; k, v = cursor.Prev() {
			var d pipeline.Decision
			if err := json.Unmarshal(v, &d); err != nil {
				continue
			}
			decisions = append(decisions, d)
		}
		return nil
	})

	return decisions, err
}
