package cli

import (
	"database/sql"
	"fmt"

	"github.com/neomorfeo/tenantops/internal/adapter/docker"
	"github.com/neomorfeo/tenantops/internal/adapter/fsm"
	"github.com/neomorfeo/tenantops/internal/adapter/git"
	"github.com/neomorfeo/tenantops/internal/adapter/health"
	"github.com/neomorfeo/tenantops/internal/adapter/host"
	"github.com/neomorfeo/tenantops/internal/adapter/otel"
	"github.com/neomorfeo/tenantops/internal/adapter/resend"
	riveradapter "github.com/neomorfeo/tenantops/internal/adapter/river"
	"github.com/neomorfeo/tenantops/internal/adapter/routing"
	"github.com/neomorfeo/tenantops/internal/adapter/shell"
	"github.com/neomorfeo/tenantops/internal/adapter/sqlite"
	"github.com/neomorfeo/tenantops/internal/adapter/tenantdb"
	"github.com/neomorfeo/tenantops/internal/app"
	"github.com/neomorfeo/tenantops/internal/config"
	"github.com/neomorfeo/tenantops/internal/decommission"
	"github.com/neomorfeo/tenantops/internal/domain"
	"github.com/neomorfeo/tenantops/internal/provision"
)

// stack is the assembled service. The queue has no client until the caller
// attaches a worker or an insert-only one.
type stack struct {
	store        *sqlite.Store
	queue        *riveradapter.Queue
	intake       *app.IntakeService
	mgmt         *app.Management
	pipeline     *provision.Pipeline
	orchestrator *decommission.Orchestrator
	// delivery sends quarantine notices; the lifecycle only enqueues them.
	delivery domain.Notifier
}

// openDB opens the orchestrator database with SQL tracing.
func openDB(cfg *config.Config) (*sql.DB, error) {
	return otel.OpenDB(cfg.Database.Path)
}

func buildStack(cfg *config.Config, db *sql.DB) (*stack, error) {
	store, err := sqlite.NewFromDB(db)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	// --- Adapters (out) ---
	repo := otel.NewTracingRepository(sqlite.NewTenantRepository(store))
	attempts := sqlite.NewAttemptStore(store)
	allocator := sqlite.NewAllocator(store, cfg.Allocator.PortBase, cfg.Allocator.PortMax)
	ledger := sqlite.NewLedger(store)

	queue := riveradapter.NewQueue(nil)
	notices := otel.NewTracingNotifier(riveradapter.NewQueueNotifier(queue))
	delivery := otel.NewTracingNotifier(resend.New(cfg.Notify.ResendAPIKey, cfg.Notify.From, cfg.Notify.To))

	// No single command outlives the longest stage bound.
	runner := shell.Exec{Timeout: cfg.Timeouts.Runtime}
	runtime := docker.New(runner, cfg.Runtime.Binary)
	router := &routing.FileRouter{
		Dir:          cfg.Routing.Dir,
		EntryPoint:   cfg.Routing.EntryPoint,
		CertResolver: cfg.Routing.CertResolver,
	}

	// --- Application ---
	lifecycle := app.NewLifecycle(repo, fsm.New(), attempts, notices)
	intake := app.NewIntakeService(store, ledger, allocator, repo, queue)
	mgmt := app.NewManagement(store, repo, attempts, allocator, lifecycle, queue)

	stages := otel.TraceStages([]provision.Stage{
		&provision.FetchTemplate{
			Fetcher:    git.New(runner),
			Repository: cfg.Template.Repository,
			Ref:        cfg.Template.Ref,
			Timeout:    cfg.Timeouts.Fetch,
		},
		&provision.GenerateConfig{Domain: cfg.Routing.Domain},
		&provision.InitSchema{Migrator: tenantdb.Migrator{}, Timeout: cfg.Timeouts.Migrate},
		&provision.RegisterIdentity{Registrar: tenantdb.Registrar{}, Timeout: cfg.Timeouts.Registry},
		&provision.BuildAndStart{
			Runtime:       runtime,
			ImagePrefix:   cfg.Runtime.ImagePrefix,
			ContainerPort: cfg.Runtime.ContainerPort,
			Timeout:       cfg.Timeouts.Runtime,
		},
		&provision.VerifyHealth{
			Checker:  health.New(cfg.Health.Path, cfg.Health.Interval),
			Router:   router,
			Interval: cfg.Health.Interval,
			Deadline: cfg.Health.Deadline,
		},
	})
	pipeline := provision.NewPipeline(repo, lifecycle, store, queue, stages, cfg.Retry.Policy(), cfg.Workspace.Root)

	hostTools := host.New(runner)
	orchestrator := decommission.NewOrchestrator(decommission.Deps{
		Repo:       repo,
		Lifecycle:  lifecycle,
		Tx:         store,
		Allocator:  allocator,
		Attempts:   attempts,
		Router:     router,
		Runtime:    runtime,
		Host:       hostTools,
		Strategies: otel.TraceStrategies(decommission.Strategies(runtime, hostTools, cfg.Runtime.HelperImage)),
		Policy:     cfg.Retry.Policy(),
		Timeout:    cfg.Timeouts.Teardown,
		Root:       cfg.Workspace.Root,
	})

	return &stack{
		store:        store,
		queue:        queue,
		intake:       intake,
		mgmt:         mgmt,
		pipeline:     pipeline,
		orchestrator: orchestrator,
		delivery:     delivery,
	}, nil
}
