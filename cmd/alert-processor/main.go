// Package main is the entrypoint for the alert processor.
//
// The alert processor drains alert lanes from the shared Redis bus and
// delivers them to configured destinations (Telegram, Discord) through the
// delivery pipeline: deduplication, per-destination admission control,
// bounded-retry dispatch, dead-letter quarantine, and audit recording.
//
// Startup:
//  1. Load configuration from the environment (optionally seeded from .env).
//  2. Initialize the structured logger.
//  3. Connect the Redis client and, when configured, the history database.
//  4. Build the sender registry (stubs in test mode).
//  5. Run the requested mode: --health, --stats, or the driver loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"chainalert/internal/config"
	"chainalert/internal/dedup"
	"chainalert/internal/delivery"
	"chainalert/internal/history"
	"chainalert/internal/queue"
	"chainalert/internal/ratelimit"
	"chainalert/internal/types"
)

const version = "2.0.0"

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog.Logger satisfies Info/Warn/Error directly but With returns
// *slog.Logger, not types.Logger, so an adapter is necessary.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

var _ types.Logger = (*slogAdapter)(nil)

func main() {
	healthMode := flag.Bool("health", false, "print a connectivity health report and exit")
	statsMode := flag.Bool("stats", false, "print point-in-time counters and lane depths and exit")
	flag.Parse()

	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	typedLogger := &slogAdapter{logger: logger}

	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr(),
		Password:    cfg.Redis.Password.Unmask(),
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
		ReadTimeout: cfg.Redis.ReadTimeout,
	})
	lanes := queue.NewLaneStore(rdb)

	registry, err := buildRegistry(cfg, typedLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sender configuration error: %v\n", err)
		os.Exit(1)
	}
	destinations := registry.Destinations()

	switch {
	case *healthMode:
		printHealth(lanes, destinations, cfg.Pipeline)
	case *statsMode:
		printStatsReport(lanes, destinations, delivery.NewStats())
	default:
		runPipeline(cfg, rdb, lanes, registry, typedLogger, logger)
	}
}

// buildRegistry constructs the sender registry. Test mode and unconfigured
// deployments get stub senders so the pipeline can run without credentials,
// mirroring the local-development mode of the rest of the platform.
func buildRegistry(cfg *config.Config, logger types.Logger) (*delivery.Registry, error) {
	if cfg.IsTestMode {
		logger.Info("initializing senders in STUB mode", "is_test_mode", true)
		return delivery.NewRegistry(
			delivery.NewStubSender("telegram", logger),
			delivery.NewStubSender("discord", logger),
		)
	}

	var senders []delivery.Sender
	if cfg.Telegram.Enabled() {
		senders = append(senders, delivery.NewTelegramSender(cfg.Telegram, logger))
	}
	if cfg.Discord.Enabled() {
		senders = append(senders, delivery.NewDiscordSender(cfg.Discord, logger))
	}

	if len(senders) == 0 {
		logger.Warn("no destination credentials configured, falling back to stub senders")
		return delivery.NewRegistry(
			delivery.NewStubSender("telegram", logger),
			delivery.NewStubSender("discord", logger),
		)
	}

	return delivery.NewRegistry(senders...)
}

// runPipeline wires the full driver and blocks until interrupted.
func runPipeline(
	cfg *config.Config,
	rdb *redis.Client,
	lanes *queue.LaneStore,
	registry *delivery.Registry,
	typedLogger types.Logger,
	logger *slog.Logger,
) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats := delivery.NewStats()

	deduper := dedup.New(dedup.NewRedisMarkerStore(rdb), cfg.Pipeline.DedupTTL)
	limiter := ratelimit.New(ratelimit.NewRedisAdmissionStore(rdb), cfg.Pipeline.RateLimitFor)

	var historyWriter history.HistoryWriter
	if cfg.Database.Enabled() {
		pool, err := pgxpool.New(ctx, cfg.Database.URL.Unmask())
		if err != nil {
			typedLogger.Error("failed to initialize history database, continuing without audit trail",
				"error", err.Error())
		} else {
			defer pool.Close()
			repo := history.NewRepository(pool)
			schemaCtx, cancel := context.WithTimeout(ctx, cfg.Database.Timeout)
			if err := repo.EnsureSchema(schemaCtx); err != nil {
				typedLogger.Error("failed to ensure history schema", "error", err.Error())
			}
			cancel()
			historyWriter = repo
		}
	} else {
		typedLogger.Warn("no history database configured, audit trail disabled")
	}

	stream := queue.NewStreamPublisher(rdb, cfg.Stream.Name, cfg.Stream.MaxLen, cfg.Stream.PublishStatus)
	recorder := history.NewRecorder(historyWriter, stream, typedLogger)

	dispatcher := delivery.NewDispatcher(registry, delivery.RetryPolicy{
		MaxRetries: cfg.Pipeline.MaxRetries,
		BaseDelay:  cfg.Pipeline.RetryBaseDelay,
		MaxDelay:   cfg.Pipeline.RetryMaxDelay,
	}, stats, typedLogger)

	driver := delivery.NewDriver(
		delivery.DriverConfig{
			Destinations:  registry.Destinations(),
			BatchSize:     cfg.Pipeline.BatchSize,
			CheckInterval: cfg.Pipeline.CheckInterval,
			DLQThreshold:  cfg.Pipeline.DLQThreshold,
		},
		lanes,
		delivery.LaneKeys{Critical: queue.CriticalLane, Normal: queue.NormalLane},
		deduper,
		limiter,
		dispatcher,
		recorder,
		delivery.NewRouter(lanes, stats, typedLogger),
		dedup.Fingerprint,
		stats,
		typedLogger,
	)

	logger.Info("alert processor starting",
		"version", version,
		"destinations", registry.Destinations(),
	)

	if err := driver.Run(ctx); err != nil {
		typedLogger.Error("driver stopped with error", "error", err.Error())
	}

	printFinalStats(lanes, registry.Destinations(), stats)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// storeTimeout bounds every store call made by the CLI report modes.
const storeTimeout = 5 * time.Second
