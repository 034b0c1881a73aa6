package intake

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"vigil/internal/blocklist"
	"vigil/internal/classifier"
	"vigil/internal/database/boltstore"
	"vigil/internal/pipeline"
	"vigil/internal/policy"
	"vigil/internal/ratelimit"
	"vigil/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClassifier struct {
	scores classifier.Scores
}

func (c *stubClassifier) Classify(ctx context.Context, image []byte) (classifier.Scores, error) {
	return c.scores, nil
}

func setupTestConsumer(t *testing.T, limits ratelimit.Limits) (*Consumer, *storage.FSStore) {
	t.Helper()

	store, err := boltstore.Open(boltstore.Options{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	objects, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)

	svc := pipeline.NewService(pipeline.Config{
		Contents:   store.ContentStore(),
		Decisions:  store.DecisionStore(),
		Audit:      store.AuditStore(),
		Reports:    store.ReportStore(),
		Violations: store.ViolationStore(),
		Matcher:    blocklist.New(nil),
		Classifier: &stubClassifier{scores: classifier.Scores{
			classifier.CategoryAdult: classifier.LikelihoodVeryUnlikely,
			classifier.CategoryRacy:  classifier.LikelihoodVeryUnlikely,
		}},
		Policy:  policy.Default(),
		Objects: objects,
	})

	limiter := ratelimit.New(ratelimit.NewMemStore(), limits)
	consumer := NewConsumer(DefaultConfig(), svc, limiter, objects)
	t.Cleanup(func() {
		if consumer.zstdDecoder != nil {
			consumer.zstdDecoder.Close()
		}
	})

	return consumer, objects
}

func finalizedEvent(key, contentType string) *StorageEvent {
	return &StorageEvent{
		Kind:        "object_finalized",
		Bucket:      "uploads",
		Key:         key,
		ContentType: contentType,
		TimeUS:      1234567890,
	}
}

func TestHandleEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("image upload enters the pipeline", func(t *testing.T) {
		consumer, objects := setupTestConsumer(t, nil)
		key := storage.PendingKey("user-1", "img-1")
		require.NoError(t, objects.Put(ctx, key, []byte("image bytes")))

		err := consumer.handleEvent(ctx, finalizedEvent(key, "image/jpeg"))
		require.NoError(t, err)

		item, _, err := consumer.service.GetItem(ctx, "img-1")
		require.NoError(t, err)
		assert.Equal(t, pipeline.StatusApproved, item.Status)
		assert.True(t, objects.Exists(storage.ApprovedKey("user-1", "img-1")))
	})

	t.Run("non-finalized events ignored", func(t *testing.T) {
		consumer, _ := setupTestConsumer(t, nil)
		event := finalizedEvent(storage.PendingKey("user-1", "img-1"), "image/jpeg")
		event.Kind = "object_deleted"

		require.NoError(t, consumer.handleEvent(ctx, event))

		_, _, err := consumer.service.GetItem(ctx, "img-1")
		assert.ErrorIs(t, err, pipeline.ErrNotFound)
	})

	t.Run("objects outside pending ignored", func(t *testing.T) {
		consumer, _ := setupTestConsumer(t, nil)
		err := consumer.handleEvent(ctx, finalizedEvent("approved/user-1/img-1", "image/jpeg"))
		require.NoError(t, err)
	})

	t.Run("non-image content ignored", func(t *testing.T) {
		consumer, _ := setupTestConsumer(t, nil)
		key := storage.PendingKey("user-1", "doc-1")

		require.NoError(t, consumer.handleEvent(ctx, finalizedEvent(key, "application/pdf")))

		_, _, err := consumer.service.GetItem(ctx, "doc-1")
		assert.ErrorIs(t, err, pipeline.ErrNotFound)
	})

	t.Run("malformed pending key errors", func(t *testing.T) {
		consumer, _ := setupTestConsumer(t, nil)
		err := consumer.handleEvent(ctx, finalizedEvent("pending/only-owner", "image/png"))
		assert.Error(t, err)
	})

	t.Run("redelivered event charges quota once", func(t *testing.T) {
		limits := ratelimit.Limits{
			ratelimit.ActionImageUpload: {Limit: 2, Window: time.Hour},
		}
		consumer, objects := setupTestConsumer(t, limits)

		key := storage.PendingKey("user-1", "img-1")
		require.NoError(t, objects.Put(ctx, key, []byte("a")))
		require.NoError(t, consumer.handleEvent(ctx, finalizedEvent(key, "image/jpeg")))

		// The cursor rewinds on reconnect, so the same event comes in again
		// after the item is already terminal. Not an error, no new attempt.
		require.NoError(t, consumer.handleEvent(ctx, finalizedEvent(key, "image/jpeg")))

		item, decisions, err := consumer.service.GetItem(ctx, "img-1")
		require.NoError(t, err)
		assert.Equal(t, pipeline.StatusApproved, item.Status)
		assert.Len(t, decisions, 1)

		// Only one of the two quota units is spent, so a second upload
		// still fits.
		key2 := storage.PendingKey("user-1", "img-2")
		require.NoError(t, objects.Put(ctx, key2, []byte("b")))
		require.NoError(t, consumer.handleEvent(ctx, finalizedEvent(key2, "image/jpeg")))

		item, _, err = consumer.service.GetItem(ctx, "img-2")
		require.NoError(t, err)
		assert.Equal(t, pipeline.StatusApproved, item.Status)
	})

	t.Run("rate limited upload is deleted, not moderated", func(t *testing.T) {
		limits := ratelimit.Limits{
			ratelimit.ActionImageUpload: {Limit: 1, Window: time.Hour},
		}
		consumer, objects := setupTestConsumer(t, limits)

		key1 := storage.PendingKey("user-1", "img-1")
		require.NoError(t, objects.Put(ctx, key1, []byte("a")))
		require.NoError(t, consumer.handleEvent(ctx, finalizedEvent(key1, "image/jpeg")))

		key2 := storage.PendingKey("user-1", "img-2")
		require.NoError(t, objects.Put(ctx, key2, []byte("b")))
		require.NoError(t, consumer.handleEvent(ctx, finalizedEvent(key2, "image/jpeg")))

		// Second upload: bytes gone, no content item created.
		assert.False(t, objects.Exists(key2))
		_, _, err := consumer.service.GetItem(ctx, "img-2")
		assert.ErrorIs(t, err, pipeline.ErrNotFound)
	})
}

func TestProcessMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("parses event and advances cursor", func(t *testing.T) {
		consumer, objects := setupTestConsumer(t, nil)
		key := storage.PendingKey("user-1", "img-1")
		require.NoError(t, objects.Put(ctx, key, []byte("image bytes")))

		data, err := json.Marshal(finalizedEvent(key, "image/jpeg"))
		require.NoError(t, err)

		require.NoError(t, consumer.processMessage(ctx, data))
		assert.Equal(t, int64(1234567890), consumer.cursor.Load())

		received, _ := consumer.Stats()
		assert.Equal(t, int64(1), received)
	})

	t.Run("rejects malformed payloads", func(t *testing.T) {
		consumer, _ := setupTestConsumer(t, nil)
		assert.Error(t, consumer.processMessage(ctx, []byte("not json")))
	})
}
