// Package cli holds the tenantops command tree: the orchestrator server and
// the operator commands that act on its database.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	riveradapter "github.com/neomorfeo/tenantops/internal/adapter/river"
	"github.com/neomorfeo/tenantops/internal/config"
	"github.com/neomorfeo/tenantops/internal/logging"
)

// Version is stamped at build time.
var Version = "0.1.0"

type rootOptions struct {
	configFile string
	cfg        *config.Config
	logCloser  io.Closer
}

// NewRootCommand returns the tenantops command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "tenantops",
		Short: "Tenant instance lifecycle orchestrator",
		Long: `tenantops turns confirmed payments into running, routed tenant instances
and tears them down again, keeping a durable audit trail of every step.

Settings come from tenantops.yaml (or --config) and TENANTOPS_* environment
variables, e.g. TENANTOPS_HTTP_PORT for http.port.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}

			logger, closer, err := logging.New(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			opts.cfg = cfg
			opts.logCloser = closer
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if opts.logCloser != nil {
				return opts.logCloser.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (default ./tenantops.yaml or /etc/tenantops/tenantops.yaml)")

	root.AddCommand(
		newServeCommand(opts),
		newTenantsCommand(opts),
		newEventsCommand(opts),
	)
	return root
}

// withStack opens the database, builds the services with an insert-only job
// client, and runs fn. Enqueued work is picked up by a running server.
func (o *rootOptions) withStack(ctx context.Context, fn func(ctx context.Context, s *stack) error) error {
	db, err := openDB(o.cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	s, err := buildStack(o.cfg, db)
	if err != nil {
		return err
	}

	client, err := riveradapter.NewInsertOnlyClient(ctx, db)
	if err != nil {
		return fmt.Errorf("creating job client: %w", err)
	}
	s.queue.Attach(client)

	return fn(ctx, s)
}
