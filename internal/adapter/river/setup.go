package river

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riversqlite"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Handlers are the operations the workers dispatch to.
type Handlers struct {
	Pipeline     TenantRunner
	Orchestrator TenantRunner
	Notifier     domain.Notifier
	Sweeper      Sweeper
}

// Options tune the worker client.
type Options struct {
	// MaxWorkers bounds concurrently running jobs across all tenants.
	MaxWorkers int
	// SweepInterval is the period of the expiry sweep; zero disables it.
	SweepInterval time.Duration
	// Grace is how long a suspended tenant waits before decommission.
	Grace time.Duration
}

// Migrate runs River's own migrations (river_job, river_leader, etc.).
// These are separate from the store's goose migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	migrator, err := rivermigrate.New(riversqlite.New(db), nil)
	if err != nil {
		return fmt.Errorf("creating river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("running river migrations: %w", err)
	}
	return nil
}

// Setup migrates River's tables and creates a client with every worker
// registered. The caller must call client.Start() to begin processing jobs
// and client.Stop() for graceful shutdown.
func Setup(ctx context.Context, db *sql.DB, h Handlers, opts Options) (*Client, error) {
	if err := Migrate(ctx, db); err != nil {
		return nil, err
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &ProvisionWorker{Pipeline: h.Pipeline})
	river.AddWorker(workers, &DecommissionWorker{Orchestrator: h.Orchestrator})
	river.AddWorker(workers, &NotifyWorker{Notifier: h.Notifier})
	river.AddWorker(workers, &ExpiryWorker{Sweeper: h.Sweeper, Grace: opts.Grace})

	var periodic []*river.PeriodicJob
	if opts.SweepInterval > 0 {
		periodic = append(periodic, river.NewPeriodicJob(
			river.PeriodicInterval(opts.SweepInterval),
			func() (river.JobArgs, *river.InsertOpts) { return ExpirySweepArgs{}, nil },
			&river.PeriodicJobOpts{RunOnStart: true},
		))
	}

	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 2
	}

	client, err := river.NewClient(riversqlite.New(db), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxWorkers},
		},
		Workers:      workers,
		PeriodicJobs: periodic,
	})
	if err != nil {
		return nil, fmt.Errorf("creating river client: %w", err)
	}

	return client, nil
}

// NewInsertOnlyClient returns a client that can enqueue jobs for a running
// server but works none itself.
func NewInsertOnlyClient(ctx context.Context, db *sql.DB) (*Client, error) {
	if err := Migrate(ctx, db); err != nil {
		return nil, err
	}

	client, err := river.NewClient(riversqlite.New(db), &river.Config{})
	if err != nil {
		return nil, fmt.Errorf("creating river client: %w", err)
	}
	return client, nil
}
