package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"
	"github.com/spf13/cobra"

	handler "github.com/neomorfeo/tenantops/internal/adapter/http"
	"github.com/neomorfeo/tenantops/internal/adapter/otel"
	riveradapter "github.com/neomorfeo/tenantops/internal/adapter/river"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the management API and the job workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg := opts.cfg

	providers, err := otel.Setup(ctx, otel.ConfigFromEnv(Version))
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown", "error", err)
		}
	}()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	s, err := buildStack(cfg, db)
	if err != nil {
		return err
	}

	client, err := riveradapter.Setup(ctx, db, riveradapter.Handlers{
		Pipeline:     s.pipeline,
		Orchestrator: s.orchestrator,
		Notifier:     s.delivery,
		Sweeper:      s.mgmt,
	}, riveradapter.Options{
		MaxWorkers:    cfg.River.Workers,
		SweepInterval: cfg.Expiry.Interval,
		Grace:         cfg.Expiry.Grace,
	})
	if err != nil {
		return err
	}
	s.queue.Attach(client)

	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("starting job workers: %w", err)
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler:           newRouter(s),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("tenantops listening", "addr", srv.Addr, "docs", fmt.Sprintf("http://localhost:%d/docs", cfg.HTTP.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	// Running jobs finish their current stage; the rest resume on restart.
	if err := client.Stop(shutdownCtx); err != nil {
		slog.Error("job workers shutdown", "error", err)
	}

	slog.Info("stopped")
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}

// newRouter mounts the management API.
func newRouter(s *stack) http.Handler {
	router := chi.NewMux()
	router.Use(otelchi.Middleware("tenantops", otelchi.WithChiRoutes(router)))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	api := humachi.New(router, huma.DefaultConfig("tenantops", Version))
	handler.Register(api, s.intake, s.mgmt)

	return router
}
