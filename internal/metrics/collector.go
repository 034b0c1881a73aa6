package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// StatsSource provides functions to retrieve current counts for gauge metrics.
// Nil fields are skipped.
type StatsSource struct {
	ContentCountsByStatus func() map[string]int
	IntakeConnected       func() bool
}

// StartCollector launches a goroutine that periodically updates gauge metrics.
// It runs every interval until the context is cancelled.
func StartCollector(ctx context.Context, src StatsSource, interval time.Duration) {
	// Do an initial collection immediately
	collect(src)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collect(src)
			}
		}
	}()

	log.Info().Dur("interval", interval).Msg("Metrics collector started")
}

func collect(src StatsSource) {
	if src.ContentCountsByStatus != nil {
		for status, count := range src.ContentCountsByStatus() {
			ContentItemsByStatus.WithLabelValues(status).Set(float64(count))
		}
	}
	if src.IntakeConnected != nil {
		if src.IntakeConnected() {
			IntakeConnectionState.Set(1)
		} else {
			IntakeConnectionState.Set(0)
		}
	}
}
