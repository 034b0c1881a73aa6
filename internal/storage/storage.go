// Package storage is the object-store boundary. The pipeline never touches
// image bytes beyond fetching them for classification; it signals publish or
// delete and the store does the moving.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrObjectNotFound is returned when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore abstracts the bucket holding uploaded images. Uploads land
// under pending/ and are invisible to other users until Publish moves them
// under approved/.
type ObjectStore interface {
	// Fetch returns the raw bytes at key, or ErrObjectNotFound.
	Fetch(ctx context.Context, key string) ([]byte, error)

	// Publish moves a pending object to its approved location.
	Publish(ctx context.Context, pendingKey string) error

	// Delete removes an object. Deleting a missing key is not an error;
	// blocked items may already be gone.
	Delete(ctx context.Context, key string) error
}

// PendingKey returns the upload location for an owner's content item.
func PendingKey(ownerID, contentID string) string {
	return "pending/" + ownerID + "/" + contentID
}

// ApprovedKey returns the public location for an owner's content item.
func ApprovedKey(ownerID, contentID string) string {
	return "approved/" + ownerID + "/" + contentID
}

// ParsePendingKey extracts (ownerID, contentID) from a pending/ key.
func ParsePendingKey(key string) (ownerID, contentID string, err error) {
	rest, ok := strings.CutPrefix(key, "pending/")
	if !ok {
		return "", "", fmt.Errorf("not a pending key: %s", key)
	}
	ownerID, contentID, ok = strings.Cut(rest, "/")
	if !ok || ownerID == "" || contentID == "" || strings.Contains(contentID, "/") {
		return "", "", fmt.Errorf("malformed pending key: %s", key)
	}
	return ownerID, contentID, nil
}
