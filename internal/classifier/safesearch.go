package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
)

// DefaultAnnotateEndpoint is the Vision-style annotate endpoint used when no
// endpoint is configured.
const DefaultAnnotateEndpoint = "https://vision.googleapis.com/v1/images:annotate"

// SafeSearchOptions configures the SafeSearch HTTP client.
type SafeSearchOptions struct {
	// Endpoint is the annotate URL. Defaults to DefaultAnnotateEndpoint.
	Endpoint string

	// APIKey is appended as the `key` query parameter when set.
	APIKey string

	// Timeout bounds a single Classify call, including in-call retries.
	// Defaults to 30 seconds.
	Timeout time.Duration

	// RetryMax is the number of in-call HTTP retries for transient failures.
	// Retries beyond this are the retry scheduler's job, not the client's.
	// Defaults to 2.
	RetryMax int
}

// SafeSearch calls a SafeSearch-style annotate API over HTTP.
type SafeSearch struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	http     *retryablehttp.Client
}

var _ Classifier = (*SafeSearch)(nil)

// NewSafeSearch creates a SafeSearch client.
func NewSafeSearch(opts SafeSearchOptions) *SafeSearch {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultAnnotateEndpoint
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryMax == 0 {
		opts.RetryMax = 2
	}

	client := retryablehttp.NewClient()
	client.RetryMax = opts.RetryMax
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = nil

	return &SafeSearch{
		endpoint: opts.Endpoint,
		apiKey:   opts.APIKey,
		timeout:  opts.Timeout,
		http:     client,
	}
}

// APIError is a non-transport failure reported by the annotate API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("safesearch API error (status %d): %s", e.Status, e.Message)
}

// annotateRequest mirrors the Vision images:annotate request body.
type annotateRequest struct {
	Requests []struct {
		Image struct {
			Content string `json:"content"`
		} `json:"image"`
		Features []struct {
			Type string `json:"type"`
		} `json:"features"`
	} `json:"requests"`
}

type annotateResponse struct {
	Responses []struct {
		SafeSearchAnnotation map[string]string `json:"safeSearchAnnotation"`
		Error                *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"responses"`
}

// Classify sends the image to the annotate endpoint and returns per-category
// likelihoods. Any error is transient from the caller's perspective: the
// pipeline queues the item for retry instead of deciding.
func (c *SafeSearch) Classify(ctx context.Context, image []byte) (Scores, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody annotateRequest
	reqBody.Requests = make([]struct {
		Image struct {
			Content string `json:"content"`
		} `json:"image"`
		Features []struct {
			Type string `json:"type"`
		} `json:"features"`
	}, 1)
	reqBody.Requests[0].Image.Content = base64.StdEncoding.EncodeToString(image)
	reqBody.Requests[0].Features = []struct {
		Type string `json:"type"`
	}{{Type: "SAFE_SEARCH_DETECTION"}}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode annotate request: %w", err)
	}

	url := c.endpoint
	if c.apiKey != "" {
		url += "?key=" + c.apiKey
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build annotate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("annotate request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read annotate response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Message: string(body)}
	}

	var annotated annotateResponse
	if err := json.Unmarshal(body, &annotated); err != nil {
		return nil, fmt.Errorf("failed to decode annotate response: %w", err)
	}

	if len(annotated.Responses) == 0 {
		return nil, &APIError{Status: resp.StatusCode, Message: "empty annotate response"}
	}
	first := annotated.Responses[0]
	if first.Error != nil {
		return nil, &APIError{Status: first.Error.Code, Message: first.Error.Message}
	}
	if first.SafeSearchAnnotation == nil {
		return nil, &APIError{Status: resp.StatusCode, Message: "missing safeSearchAnnotation"}
	}

	scores := make(Scores, len(first.SafeSearchAnnotation))
	for category, name := range first.SafeSearchAnnotation {
		level, ok := ParseLikelihood(name)
		if !ok {
			log.Warn().Str("category", category).Str("level", name).Msg("classifier: unrecognized likelihood level")
		}
		scores[Category(category)] = level
	}

	log.Debug().
		Dur("duration", time.Since(start)).
		Int("categories", len(scores)).
		Msg("classifier: safesearch annotate completed")

	return scores, nil
}
