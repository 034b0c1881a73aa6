package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"vigil/internal/blocklist"
	"vigil/internal/classifier"
	"vigil/internal/database/boltstore"
	"vigil/internal/database/sqlitestore"
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

func setupTestHandler(t *testing.T, limits ratelimit.Limits, analytics *sqlitestore.Analytics) (*Handler, *pipeline.Service) {
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
		Matcher:    blocklist.New([]string{"hate"}),
		Classifier: &stubClassifier{scores: classifier.Scores{
			classifier.CategoryAdult: classifier.LikelihoodVeryUnlikely,
			classifier.CategoryRacy:  classifier.LikelihoodVeryUnlikely,
		}},
		Policy:  policy.Default(),
		Objects: objects,
	})

	limiter := ratelimit.New(ratelimit.NewMemStore(), limits)
	return NewHandler(svc, limiter, analytics), svc
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, target, userID, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHandleValidateText(t *testing.T) {
	t.Run("clean text allowed", func(t *testing.T) {
		h, _ := setupTestHandler(t, nil, nil)
		rec := doJSON(t, h.HandleValidateText, "POST", "/api/validate-text", "user-1",
			`{"text":"hello there"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeBody[validateTextResponse](t, rec)
		assert.True(t, resp.Allowed)
		assert.NotEmpty(t, resp.ContentID)
		assert.Empty(t, resp.Reason)
	})

	t.Run("blocked text rejected without leaking terms", func(t *testing.T) {
		h, _ := setupTestHandler(t, nil, nil)
		rec := doJSON(t, h.HandleValidateText, "POST", "/api/validate-text", "user-1",
			`{"text":"so much h4te here"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeBody[validateTextResponse](t, rec)
		assert.False(t, resp.Allowed)
		assert.Equal(t, pipeline.ReasonBlocklistMatch, resp.Reason)
		assert.NotContains(t, rec.Body.String(), "matched_terms")
	})

	t.Run("missing user header", func(t *testing.T) {
		h, _ := setupTestHandler(t, nil, nil)
		rec := doJSON(t, h.HandleValidateText, "POST", "/api/validate-text", "",
			`{"text":"hello"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid JSON body", func(t *testing.T) {
		h, _ := setupTestHandler(t, nil, nil)
		rec := doJSON(t, h.HandleValidateText, "POST", "/api/validate-text", "user-1", `{`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty text rejected", func(t *testing.T) {
		h, _ := setupTestHandler(t, nil, nil)
		rec := doJSON(t, h.HandleValidateText, "POST", "/api/validate-text", "user-1",
			`{"text":"   "}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("over limit returns 429 with reset", func(t *testing.T) {
		limits := ratelimit.Limits{
			ratelimit.ActionTextMessage: {Limit: 1, Window: time.Minute},
		}
		h, _ := setupTestHandler(t, limits, nil)

		rec := doJSON(t, h.HandleValidateText, "POST", "/api/validate-text", "user-1",
			`{"text":"first"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, h.HandleValidateText, "POST", "/api/validate-text", "user-1",
			`{"text":"second"}`)
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Contains(t, rec.Body.String(), "reset_at")

		// Retry-After counts down to the window rollover; it can never
		// exceed the window length.
		retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, retryAfter, 1)
		assert.LessOrEqual(t, retryAfter, 60)

		// A different user is unaffected.
		rec = doJSON(t, h.HandleValidateText, "POST", "/api/validate-text", "user-2",
			`{"text":"first"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestHandleReportSubmit(t *testing.T) {
	ctx := context.Background()

	submitItem := func(t *testing.T, svc *pipeline.Service, owner string) string {
		item, _, err := svc.SubmitText(ctx, owner, "perfectly fine message")
		require.NoError(t, err)
		return item.ID
	}

	t.Run("valid report created", func(t *testing.T) {
		h, svc := setupTestHandler(t, nil, nil)
		contentID := submitItem(t, svc, "author-1")

		rec := doJSON(t, h.HandleReportSubmit, "POST", "/api/reports", "reporter-1",
			`{"content_id":"`+contentID+`","category":"spam","description":"unwanted ads"}`)

		require.Equal(t, http.StatusCreated, rec.Code)
		resp := decodeBody[submitReportResponse](t, rec)
		assert.True(t, resp.Success)
		assert.NotEmpty(t, resp.ReportID)
	})

	t.Run("duplicate report conflicts", func(t *testing.T) {
		h, svc := setupTestHandler(t, nil, nil)
		contentID := submitItem(t, svc, "author-1")
		body := `{"content_id":"` + contentID + `","category":"spam"}`

		rec := doJSON(t, h.HandleReportSubmit, "POST", "/api/reports", "reporter-1", body)
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = doJSON(t, h.HandleReportSubmit, "POST", "/api/reports", "reporter-1", body)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("self report rejected", func(t *testing.T) {
		h, svc := setupTestHandler(t, nil, nil)
		contentID := submitItem(t, svc, "author-1")

		rec := doJSON(t, h.HandleReportSubmit, "POST", "/api/reports", "author-1",
			`{"content_id":"`+contentID+`","category":"spam"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown category rejected", func(t *testing.T) {
		h, svc := setupTestHandler(t, nil, nil)
		contentID := submitItem(t, svc, "author-1")

		rec := doJSON(t, h.HandleReportSubmit, "POST", "/api/reports", "reporter-1",
			`{"content_id":"`+contentID+`","category":"dislike"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing content item", func(t *testing.T) {
		h, _ := setupTestHandler(t, nil, nil)
		rec := doJSON(t, h.HandleReportSubmit, "POST", "/api/reports", "reporter-1",
			`{"content_id":"no-such-item","category":"spam"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleContentGet(t *testing.T) {
	ctx := context.Background()

	get := func(t *testing.T, h *Handler, id string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/api/contents/"+id, nil)
		req.SetPathValue("id", id)
		req.Header.Set(UserHeader, "operator-1")
		rec := httptest.NewRecorder()
		h.HandleContentGet(rec, req)
		return rec
	}

	t.Run("approved item with decision history", func(t *testing.T) {
		h, svc := setupTestHandler(t, nil, nil)
		item, _, err := svc.SubmitText(ctx, "author-1", "hello")
		require.NoError(t, err)

		rec := get(t, h, item.ID)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeBody[contentResponse](t, rec)
		assert.Equal(t, pipeline.StatusApproved, resp.Item.Status)
		assert.Equal(t, "hello", resp.Item.Text)
		require.Len(t, resp.Decisions, 1)
		assert.Equal(t, pipeline.OutcomeAllow, resp.Decisions[0].Outcome)
	})

	t.Run("blocked text is not returned", func(t *testing.T) {
		h, svc := setupTestHandler(t, nil, nil)
		item, _, err := svc.SubmitText(ctx, "author-1", "h4te speech")
		require.NoError(t, err)

		rec := get(t, h, item.ID)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeBody[contentResponse](t, rec)
		assert.Equal(t, pipeline.StatusBlocked, resp.Item.Status)
		assert.Empty(t, resp.Item.Text)
	})

	t.Run("unknown id", func(t *testing.T) {
		h, _ := setupTestHandler(t, nil, nil)
		rec := get(t, h, "no-such-item")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleRateLimits(t *testing.T) {
	h, _ := setupTestHandler(t, nil, nil)

	req := httptest.NewRequest("GET", "/api/rate-limits", nil)
	req.Header.Set(UserHeader, "user-1")
	rec := httptest.NewRecorder()
	h.HandleRateLimits(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[map[ratelimit.Action]ratelimit.Snapshot](t, rec)
	require.Len(t, status, 3)
	assert.Equal(t, 60, status[ratelimit.ActionTextMessage].Limit)
	assert.Equal(t, 60, status[ratelimit.ActionTextMessage].Remaining)
}

func TestHandleStats(t *testing.T) {
	ctx := context.Background()

	t.Run("unconfigured analytics", func(t *testing.T) {
		h, _ := setupTestHandler(t, nil, nil)
		req := httptest.NewRequest("GET", "/api/stats", nil)
		req.Header.Set(UserHeader, "operator-1")
		rec := httptest.NewRecorder()
		h.HandleStats(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("aggregates mirrored decisions", func(t *testing.T) {
		analytics, err := sqlitestore.Open(filepath.Join(t.TempDir(), "analytics.db"))
		require.NoError(t, err)
		t.Cleanup(func() { analytics.Close() })

		h, svc := setupTestHandler(t, nil, analytics)
		// The handler's service was built without the mirror; record directly.
		item, decision, err := svc.SubmitText(ctx, "author-1", "hello")
		require.NoError(t, err)
		require.NotNil(t, item)
		require.NoError(t, analytics.RecordDecision(ctx, decision))

		req := httptest.NewRequest("GET", "/api/stats", nil)
		req.Header.Set(UserHeader, "operator-1")
		rec := httptest.NewRecorder()
		h.HandleStats(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		stats := decodeBody[sqlitestore.Stats](t, rec)
		assert.Equal(t, 1, stats.DecisionsByOutcome["allow"])
	})
}

func TestHandleAuditRecent(t *testing.T) {
	ctx := context.Background()
	h, svc := setupTestHandler(t, nil, nil)

	_, _, err := svc.SubmitText(ctx, "author-1", "hello")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/audit?limit=10", nil)
	req.Header.Set(UserHeader, "operator-1")
	rec := httptest.NewRecorder()
	h.HandleAuditRecent(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Entries []pipeline.AuditEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, pipeline.StatusPending, resp.Entries[0].From)
	assert.Equal(t, pipeline.StatusApproved, resp.Entries[0].To)
}
