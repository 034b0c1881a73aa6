package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"vigil/internal/blocklist"
	"vigil/internal/classifier"
	"vigil/internal/database/boltstore"
	"vigil/internal/database/sqlitestore"
	"vigil/internal/handlers"
	"vigil/internal/intake"
	"vigil/internal/metrics"
	"vigil/internal/pipeline"
	"vigil/internal/policy"
	"vigil/internal/ratelimit"
	"vigil/internal/routing"
	"vigil/internal/storage"
	"vigil/internal/tracing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Configure zerolog
	// Set log level from environment (default: info)
	logLevel := os.Getenv("LOG_LEVEL")
	switch logLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info", "":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Use pretty console logging in development, JSON in production
	if os.Getenv("LOG_FORMAT") == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	log.Info().Msg("Starting Vigil content moderation service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing is best-effort; the service runs without a collector.
	tp, err := tracing.Init(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing")
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Tracer shutdown failed")
			}
		}()
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "18920"
	}

	dbPath := os.Getenv("VIGIL_DB_PATH")
	if dbPath == "" {
		dataDir := os.Getenv("XDG_DATA_HOME")
		if dataDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to get home directory")
			}
			dataDir = filepath.Join(home, ".local", "share")
		}
		dbPath = filepath.Join(dataDir, "vigil", "vigil.db")
	}

	store, err := boltstore.Open(boltstore.Options{Path: dbPath})
	if err != nil {
		log.Fatal().Err(err).Str("path", dbPath).Msg("Failed to open database")
	}
	defer store.Close()
	log.Info().Str("path", dbPath).Msg("Database opened")

	// Analytics mirror is optional; without it the stats endpoint returns 503.
	var analytics *sqlitestore.Analytics
	if path := os.Getenv("VIGIL_ANALYTICS_DB_PATH"); path != "" {
		analytics, err = sqlitestore.Open(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("Failed to open analytics database")
		}
		defer analytics.Close()
		log.Info().Str("path", path).Msg("Analytics database opened")
	}

	// Blocklist: a file of one term per line, or built-in defaults.
	var matcher *blocklist.Matcher
	if path := os.Getenv("BLOCKLIST_PATH"); path != "" {
		matcher, err = blocklist.Load(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("Failed to load blocklist")
		}
		log.Info().Str("path", path).Msg("Blocklist loaded")
	} else {
		matcher = blocklist.New(nil)
		log.Warn().Msg("BLOCKLIST_PATH not set, text matching disabled")
	}

	pol := policyFromEnv()

	safesearch := classifier.NewSafeSearch(classifier.SafeSearchOptions{
		Endpoint: os.Getenv("CLASSIFIER_ENDPOINT"),
		APIKey:   os.Getenv("CLASSIFIER_API_KEY"),
		Timeout:  durationEnv("CLASSIFIER_TIMEOUT", 30*time.Second),
	})

	storageRoot := os.Getenv("VIGIL_STORAGE_ROOT")
	if storageRoot == "" {
		storageRoot = filepath.Join(filepath.Dir(dbPath), "objects")
	}
	objects, err := storage.NewFSStore(storageRoot)
	if err != nil {
		log.Fatal().Err(err).Str("root", storageRoot).Msg("Failed to open object store")
	}

	limiter := ratelimit.New(store.RateLimitStore(), limitsFromEnv())
	limiter.StartSweeper(ctx, time.Hour, 24*time.Hour)

	svc := pipeline.NewService(pipeline.Config{
		Contents:        store.ContentStore(),
		Decisions:       store.DecisionStore(),
		Audit:           store.AuditStore(),
		Reports:         store.ReportStore(),
		Violations:      store.ViolationStore(),
		Analytics:       analyticsOrNil(analytics),
		Matcher:         matcher,
		Classifier:      safesearch,
		Policy:          pol,
		Objects:         objects,
		ClassifyTimeout: durationEnv("CLASSIFIER_TIMEOUT", pipeline.DefaultClassifyTimeout),
	})

	schedCfg := pipeline.DefaultSchedulerConfig()
	schedCfg.Interval = durationEnv("RETRY_INTERVAL", schedCfg.Interval)
	schedCfg.MaxAttempts = intEnv("RETRY_MAX_ATTEMPTS", schedCfg.MaxAttempts)
	scheduler := pipeline.NewScheduler(svc, schedCfg)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// Image intake is event-driven; without a stream URL only the text path runs.
	var consumer *intake.Consumer
	if eventsURL := os.Getenv("STORAGE_EVENTS_URL"); eventsURL != "" {
		consumerCfg := intake.DefaultConfig()
		consumerCfg.Endpoints = []string{eventsURL}
		consumerCfg.Compress = os.Getenv("STORAGE_EVENTS_COMPRESS") == "true"
		consumer = intake.NewConsumer(consumerCfg, svc, limiter, objects)
		consumer.Start(ctx)
		defer consumer.Stop()
		log.Info().Str("url", eventsURL).Msg("Storage event consumer started")
	} else {
		log.Warn().Msg("STORAGE_EVENTS_URL not set, image intake disabled")
	}

	metrics.StartCollector(ctx, metrics.StatsSource{
		ContentCountsByStatus: func() map[string]int {
			counts, err := svc.StatusCounts(context.Background())
			if err != nil {
				log.Warn().Err(err).Msg("Failed to count content items")
				return nil
			}
			out := make(map[string]int, len(counts))
			for status, n := range counts {
				out[string(status)] = n
			}
			return out
		},
		IntakeConnected: func() bool {
			return consumer != nil && consumer.IsConnected()
		},
	}, 30*time.Second)

	h := handlers.NewHandler(svc, limiter, analytics)
	handler := routing.SetupRouter(routing.Config{
		Handlers: h,
		Logger:   log.Logger,
	})

	server := &http.Server{
		Addr:              "0.0.0.0:" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("address", server.Addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
	log.Info().Msg("Server stopped")
}

func analyticsOrNil(a *sqlitestore.Analytics) pipeline.Analytics {
	if a == nil {
		return nil
	}
	return a
}

// policyFromEnv builds the image verdict policy, honoring an optional
// IMAGE_MODERATION_THRESHOLD override (a likelihood name such as POSSIBLE).
func policyFromEnv() policy.Policy {
	pol := policy.Default()
	if raw := os.Getenv("IMAGE_MODERATION_THRESHOLD"); raw != "" {
		level, ok := classifier.ParseLikelihood(raw)
		if !ok {
			log.Warn().Str("value", raw).Msg("Invalid IMAGE_MODERATION_THRESHOLD, using default")
		} else {
			pol.Threshold = level
		}
	}
	return pol
}

func durationEnv(name string, def time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Warn().Str("var", name).Str("value", raw).Msg("Invalid duration, using default")
		return def
	}
	return d
}

func intEnv(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		log.Warn().Str("var", name).Str("value", raw).Msg("Invalid integer, using default")
		return def
	}
	return n
}

func limitsFromEnv() ratelimit.Limits {
	limits := ratelimit.DefaultLimits()
	overrides := map[ratelimit.Action]string{
		ratelimit.ActionImageUpload: "RATE_LIMIT_IMAGES_PER_HOUR",
		ratelimit.ActionTextMessage: "RATE_LIMIT_TEXTS_PER_MINUTE",
		ratelimit.ActionReport:      "RATE_LIMIT_REPORTS_PER_HOUR",
	}
	for action, name := range overrides {
		if n := intEnv(name, 0); n > 0 {
			cfg := limits[action]
			cfg.Limit = n
			limits[action] = cfg
		}
	}
	return limits
}
