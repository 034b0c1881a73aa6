package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"vigil/internal/metrics"
	"vigil/internal/pipeline"
	"vigil/internal/ratelimit"
	"vigil/internal/storage"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// StorageEvent is one notification from the object store.
type StorageEvent struct {
	Kind        string `json:"kind"` // "object_finalized", "object_deleted"
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
	TimeUS      int64  `json:"time_us"`
}

// Consumer consumes storage events and feeds image uploads into the pipeline.
type Consumer struct {
	config  *Config
	service *pipeline.Service
	limiter *ratelimit.Limiter
	objects storage.ObjectStore

	// Connection state
	conn               *websocket.Conn
	connMu             sync.Mutex
	currentEndpointIdx int

	// Zstd decoder for compressed messages
	zstdDecoder *zstd.Decoder

	// Cursor for resume
	cursor atomic.Int64

	// Stats
	eventsReceived atomic.Int64
	bytesReceived  atomic.Int64

	// Control
	connected atomic.Bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewConsumer creates a storage event consumer.
func NewConsumer(config *Config, service *pipeline.Service, limiter *ratelimit.Limiter, objects storage.ObjectStore) *Consumer {
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		log.Fatal().Err(err).Msg("intake: failed to create zstd decoder")
	}

	return &Consumer{
		config:      config,
		service:     service,
		limiter:     limiter,
		objects:     objects,
		stopCh:      make(chan struct{}),
		zstdDecoder: decoder,
	}
}

// Start begins consuming events in a background goroutine.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
}

// Stop gracefully stops the consumer.
func (c *Consumer) Stop() {
	close(c.stopCh)
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()
	c.wg.Wait()

	if c.zstdDecoder != nil {
		c.zstdDecoder.Close()
	}
}

// IsConnected returns true if currently connected to the event stream.
func (c *Consumer) IsConnected() bool {
	return c.connected.Load()
}

// Stats returns consumer statistics.
func (c *Consumer) Stats() (eventsReceived, bytesReceived int64) {
	return c.eventsReceived.Load(), c.bytesReceived.Load()
}

func (c *Consumer) run(ctx context.Context) {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("intake: context cancelled, stopping consumer")
			return
		case <-c.stopCh:
			log.Info().Msg("intake: stop requested, stopping consumer")
			return
		default:
		}

		endpoint := c.config.Endpoints[c.currentEndpointIdx]
		err := c.connectAndConsume(ctx, endpoint)

		if err != nil {
			c.connected.Store(false)
			log.Warn().Err(err).Str("endpoint", endpoint).Msg("intake: connection error")

			// Rotate to next endpoint
			c.currentEndpointIdx = (c.currentEndpointIdx + 1) % len(c.config.Endpoints)

			// Backoff before retry
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-time.After(backoff):
			}

			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		} else {
			backoff = time.Second
		}
	}
}

func (c *Consumer) connectAndConsume(ctx context.Context, endpoint string) error {
	wsURL, err := c.buildWebSocketURL(endpoint)
	if err != nil {
		return fmt.Errorf("failed to build WebSocket URL: %w", err)
	}

	log.Info().Str("url", wsURL).Msg("intake: connecting to storage event stream")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.connected.Store(true)
	metrics.IntakeConnectionState.Set(1)
	log.Info().Str("endpoint", endpoint).Msg("intake: connected")

	defer func() {
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()
		c.connected.Store(false)
		metrics.IntakeConnectionState.Set(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}

		c.bytesReceived.Add(int64(len(message)))

		if err := c.processMessage(ctx, message); err != nil {
			metrics.IntakeErrorsTotal.Inc()
			log.Warn().Err(err).Msg("intake: failed to process message")
		}
	}
}

func (c *Consumer) buildWebSocketURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()

	if c.config.Compress {
		q.Set("compress", "true")
	}

	// Resume from cursor if we have one (rewind slightly for safety)
	cursor := c.cursor.Load()
	if cursor > 0 {
		cursor -= 5 * time.Second.Microseconds()
		q.Set("cursor", fmt.Sprintf("%d", cursor))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Consumer) processMessage(ctx context.Context, data []byte) error {
	// Zstd compressed data starts with magic number 0x28 0xB5 0x2F 0xFD
	if c.config.Compress && len(data) >= 4 && data[0] == 0x28 && data[1] == 0xB5 && data[2] == 0x2F && data[3] == 0xFD {
		decompressed, err := c.zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return fmt.Errorf("failed to decompress message: %w", err)
		}
		data = decompressed
	}

	var event StorageEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	c.eventsReceived.Add(1)

	if event.TimeUS > 0 {
		c.cursor.Store(event.TimeUS)
	}

	return c.handleEvent(ctx, &event)
}

// handleEvent routes one storage event. Only image objects finalized under
// the pending location enter the pipeline; everything else is ignored.
func (c *Consumer) handleEvent(ctx context.Context, event *StorageEvent) error {
	if event.Kind != "object_finalized" {
		metrics.IntakeEventsTotal.WithLabelValues("ignored").Inc()
		return nil
	}
	if !strings.HasPrefix(event.Key, "pending/") {
		metrics.IntakeEventsTotal.WithLabelValues("ignored").Inc()
		return nil
	}
	if !strings.HasPrefix(event.ContentType, "image/") {
		metrics.IntakeEventsTotal.WithLabelValues("ignored").Inc()
		log.Debug().Str("key", event.Key).Str("content_type", event.ContentType).
			Msg("intake: non-image object in pending location")
		return nil
	}

	ownerID, contentID, err := storage.ParsePendingKey(event.Key)
	if err != nil {
		metrics.IntakeEventsTotal.WithLabelValues("malformed").Inc()
		return err
	}

	// Redelivered events are routine: the cursor rewinds on reconnect. An
	// existing record means this upload already paid its quota, so only
	// resubmit, which resumes a first attempt that never reached a verdict
	// and no-ops on anything further along.
	if _, _, err := c.service.GetItem(ctx, contentID); err == nil {
		if _, err := c.service.SubmitImage(ctx, ownerID, contentID); err != nil {
			metrics.IntakeEventsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("failed to resubmit image: %w", err)
		}
		metrics.IntakeEventsTotal.WithLabelValues("redelivered").Inc()
		log.Debug().Str("content_id", contentID).Msg("intake: redelivered event")
		return nil
	} else if !errors.Is(err, pipeline.ErrNotFound) {
		return err
	}

	snapshot, admitted, err := c.limiter.Admit(ctx, ownerID, ratelimit.ActionImageUpload)
	if err != nil {
		return fmt.Errorf("rate limit check failed: %w", err)
	}
	if !admitted {
		metrics.IntakeEventsTotal.WithLabelValues("rate_limited").Inc()
		metrics.RateLimitRejectionsTotal.WithLabelValues(string(ratelimit.ActionImageUpload)).Inc()
		log.Info().Str("owner_id", ownerID).Time("reset_at", snapshot.ResetAt).
			Msg("intake: upload rate limited, deleting object")

		// The upload never becomes a content item; the bytes must not stay.
		if err := c.objects.Delete(ctx, event.Key); err != nil {
			return fmt.Errorf("failed to delete rate-limited object: %w", err)
		}
		return nil
	}

	if _, err := c.service.SubmitImage(ctx, ownerID, contentID); err != nil {
		metrics.IntakeEventsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to submit image: %w", err)
	}

	metrics.IntakeEventsTotal.WithLabelValues("submitted").Inc()
	log.Debug().Str("owner_id", ownerID).Str("content_id", contentID).
		Msg("intake: image submitted for moderation")
	return nil
}
