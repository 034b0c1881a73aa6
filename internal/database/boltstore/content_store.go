package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"vigil/internal/pipeline"

	bolt "go.etcd.io/bbolt"
)

// ContentStore provides persistent storage for content items.
type ContentStore struct {
	db *bolt.DB
}

var _ pipeline.ContentStore = (*ContentStore)(nil)

// Put creates a content item record.
func (s *ContentStore) Put(ctx context.Context, item *pipeline.ContentItem) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketContentItems)
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", BucketContentItems)
		}

		if bucket.Get([]byte(item.ID)) != nil {
			return fmt.Errorf("%w: %s", pipeline.ErrAlreadyExists, item.ID)
		}

		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal content item: %w", err)
		}

		return bucket.Put([]byte(item.ID), data)
	})
}

// Get retrieves a content item by ID.
func (s *ContentStore) Get(ctx context.Context, id string) (*pipeline.ContentItem, error) {
	var item *pipeline.ContentItem

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketContentItems)
		if bucket == nil {
			return nil
		}

		data := bucket.Get([]byte(id))
		if data == nil {
			return nil
		}

		item = &pipeline.ContentItem{}
		return json.Unmarshal(data, item)
	})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, pipeline.ErrNotFound
	}
	return item, nil
}

// Transition performs a conditional read-modify-write on an item. The whole
// sequence runs inside a single bolt write transaction, so concurrent
// transitions on the same item serialize and exactly one of two racing
// workers wins; the loser gets ErrStaleTransition.
func (s *ContentStore) Transition(ctx context.Context, id string, from []pipeline.Status, fn func(*pipeline.ContentItem) error) (*pipeline.ContentItem, error) {
	var updated *pipeline.ContentItem

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketContentItems)
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", BucketContentItems)
		}

		data := bucket.Get([]byte(id))
		if data == nil {
			return pipeline.ErrNotFound
		}

		var item pipeline.ContentItem
		if err := json.Unmarshal(data, &item); err != nil {
			return fmt.Errorf("failed to unmarshal content item: %w", err)
		}

		ok := false
		for _, status := range from {
			if item.Status == status {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%w: %s is %s", pipeline.ErrStaleTransition, id, item.Status)
		}

		if err := fn(&item); err != nil {
			return err
		}

		newData, err := json.Marshal(&item)
		if err != nil {
			return fmt.Errorf("failed to marshal content item: %w", err)
		}
		if err := bucket.Put([]byte(id), newData); err != nil {
			return err
		}

		updated = &item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListByStatus returns up to limit items in the given status, ordered by
// oldest transition first so the retry scheduler drains fairly.
func (s *ContentStore) ListByStatus(ctx context.Context, status pipeline.Status, limit int) ([]pipeline.ContentItem, error) {
	var items []pipeline.ContentItem

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketContentItems)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var item pipeline.ContentItem
			if err := json.Unmarshal(v, &item); err != nil {
				return nil // Skip malformed entries
			}
			if item.Status == status {
				items = append(items, item)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].LastTransitionAt.Before(items[j].LastTransitionAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// CountByStatus returns the number of items in each status.
func (s *ContentStore) CountByStatus(ctx context.Context) (map[pipeline.Status]int, error) {
	counts := make(map[pipeline.Status]int)

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketContentItems)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var item pipeline.ContentItem
			if err := json.Unmarshal(v, &item); err != nil {
				return nil
			}
			counts[item.Status]++
			return nil
		})
	})

	return counts, err
}
