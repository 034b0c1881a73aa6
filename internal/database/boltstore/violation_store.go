package boltstore

import (
	"context"
	"encoding/binary"
	"fmt"

	"vigil/internal/pipeline"

	bolt "go.etcd.io/bbolt"
)

// ViolationStore tracks how many of each owner's items were blocked.
type ViolationStore struct {
	db *bolt.DB
}

var _ pipeline.ViolationStore = (*ViolationStore)(nil)

// Increment bumps the owner's violation count and returns the new value.
func (s *ViolationStore) Increment(ctx context.Context, ownerID string) (int, error) {
	var count uint64

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketUserViolations)
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", BucketUserViolations)
		}

		if data := bucket.Get([]byte(ownerID)); len(data) == 8 {
			count = binary.BigEndian.Uint64(data)
		}
		count++

		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], count)
		return bucket.Put([]byte(ownerID), buf[:])
	})
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// Count returns the owner's current violation count.
func (s *ViolationStore) Count(ctx context.Context, ownerID string) (int, error) {
	var count uint64

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketUserViolations)
		if bucket == nil {
			return nil
		}

		if data := bucket.Get([]byte(ownerID)); len(data) == 8 {
			count = binary.BigEndian.Uint64(data)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(count), nil
}
