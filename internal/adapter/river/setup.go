package river

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riversqlite"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/gip-inclusion/immersion-facile-sub021/internal/domain"
)

// Config tunes the queue and the dispatch policy. Zero values fall back
// to the defaults below.
type Config struct {
	MaxWorkers     int
	MaxAttempts    int
	SweepInterval  time.Duration
	SweepBatchSize int
}

const (
	defaultMaxWorkers     = 2
	defaultSweepInterval  = time.Minute
	defaultSweepBatchSize = 50
)

// ConfigFromEnv builds Config from environment variables with sensible defaults.
func ConfigFromEnv() Config {
	return Config{
		MaxWorkers:     envInt("DISPATCH_MAX_WORKERS", defaultMaxWorkers),
		MaxAttempts:    envInt("DISPATCH_MAX_ATTEMPTS", DefaultMaxAttempts),
		SweepInterval:  envDuration("DISPATCH_SWEEP_INTERVAL", defaultSweepInterval),
		SweepBatchSize: envInt("DISPATCH_SWEEP_BATCH", defaultSweepBatchSize),
	}
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// Setup creates a River client with the dispatch and sweep workers
// registered and runs River's internal migrations. The caller must call
// client.Start() to begin processing jobs and client.Stop() for graceful
// shutdown.
func Setup(ctx context.Context, db *sql.DB, dispatcher *Dispatcher, outbox domain.OutboxStore, logger *slog.Logger, cfg Config) (*Client, error) {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = defaultMaxWorkers
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.SweepBatchSize < 1 {
		cfg.SweepBatchSize = defaultSweepBatchSize
	}

	driver := riversqlite.New(db)

	// Run River's own migrations (creates river_job, river_leader, etc.).
	// These are separate from the app's goose migrations.
	migrator, err := rivermigrate.New(driver, nil)
	if err != nil {
		return nil, fmt.Errorf("creating river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return nil, fmt.Errorf("running river migrations: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, NewDispatchWorker(dispatcher))
	river.AddWorker(workers, NewSweepWorker(outbox, logger, cfg.SweepBatchSize))

	client, err := river.NewClient(driver, &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.MaxWorkers},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.SweepInterval),
				func() (river.JobArgs, *river.InsertOpts) {
					return SweepJobArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating river client: %w", err)
	}

	return client, nil
}
