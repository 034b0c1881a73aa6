package classifier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *SafeSearch {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSafeSearch(SafeSearchOptions{
		Endpoint: srv.URL,
		Timeout:  5 * time.Second,
		RetryMax: 1,
	})
}

func annotateBody(annotation map[string]string) string {
	body, _ := json.Marshal(map[string]any{
		"responses": []map[string]any{{"safeSearchAnnotation": annotation}},
	})
	return string(body)
}

func TestSafeSearchClassify(t *testing.T) {
	ctx := context.Background()

	t.Run("parses likelihoods per category", func(t *testing.T) {
		var gotBody []byte
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			var req annotateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			gotBody, _ = json.Marshal(req)

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(annotateBody(map[string]string{
				"adult":    "VERY_UNLIKELY",
				"racy":     "POSSIBLE",
				"violence": "UNLIKELY",
			})))
		})

		image := []byte("fake image bytes")
		scores, err := client.Classify(ctx, image)
		require.NoError(t, err)

		assert.Equal(t, LikelihoodVeryUnlikely, scores[CategoryAdult])
		assert.Equal(t, LikelihoodPossible, scores[CategoryRacy])
		assert.Equal(t, LikelihoodUnlikely, scores[CategoryViolence])

		// The request carries the image base64-encoded with the SafeSearch feature.
		assert.Contains(t, string(gotBody), base64.StdEncoding.EncodeToString(image))
		assert.Contains(t, string(gotBody), "SAFE_SEARCH_DETECTION")
	})

	t.Run("api key appended as query parameter", func(t *testing.T) {
		var gotKey string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotKey = r.URL.Query().Get("key")
			w.Write([]byte(annotateBody(map[string]string{"adult": "VERY_UNLIKELY"})))
		}))
		t.Cleanup(srv.Close)

		client := NewSafeSearch(SafeSearchOptions{Endpoint: srv.URL, APIKey: "secret", RetryMax: 1})
		_, err := client.Classify(ctx, []byte("img"))
		require.NoError(t, err)
		assert.Equal(t, "secret", gotKey)
	})

	t.Run("unrecognized level maps to unknown", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(annotateBody(map[string]string{"adult": "MAYBE"})))
		})

		scores, err := client.Classify(ctx, []byte("img"))
		require.NoError(t, err)
		assert.Equal(t, LikelihoodUnknown, scores[CategoryAdult])
	})

	t.Run("in-body error surfaces as APIError", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"responses":[{"error":{"code":7,"message":"permission denied"}}]}`))
		})

		_, err := client.Classify(ctx, []byte("img"))
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 7, apiErr.Status)
	})

	t.Run("missing annotation is an error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"responses":[{}]}`))
		})

		_, err := client.Classify(ctx, []byte("img"))
		var apiErr *APIError
		assert.ErrorAs(t, err, &apiErr)
	})

	t.Run("http failure after retries is an error", func(t *testing.T) {
		calls := 0
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusBadGateway)
		})

		_, err := client.Classify(ctx, []byte("img"))
		require.Error(t, err)
		// One original attempt plus one in-call retry.
		assert.Equal(t, 2, calls)
	})
}

func TestParseLikelihood(t *testing.T) {
	tests := []struct {
		in    string
		level Likelihood
		ok    bool
	}{
		{"VERY_LIKELY", LikelihoodVeryLikely, true},
		{"possible", LikelihoodPossible, true},
		{" LIKELY ", LikelihoodLikely, true},
		{"UNKNOWN", LikelihoodUnknown, true},
		{"NOPE", LikelihoodUnknown, false},
		{"", LikelihoodUnknown, false},
	}

	for _, tt := range tests {
		level, ok := ParseLikelihood(tt.in)
		assert.Equal(t, tt.level, level, "input %q", tt.in)
		assert.Equal(t, tt.ok, ok, "input %q", tt.in)
	}
}
