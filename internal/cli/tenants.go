package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/neomorfeo/tenantops/internal/app"
	"github.com/neomorfeo/tenantops/internal/domain"
)

func newTenantsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "Inspect and operate tenants",
	}

	cmd.AddCommand(
		newTenantsListCommand(opts),
		newTenantsShowCommand(opts),
		newTenantCommand(opts, "suspend", "Suspend an active tenant", (*app.Management).Suspend),
		newTenantCommand(opts, "retry", "Retry a quarantined provisioning after its last completed stage", (*app.Management).RetryProvisioning),
		newTenantCommand(opts, "abort", "Abort a provisioning tenant at its next stage boundary", (*app.Management).Abort),
		newTenantsDecommissionCommand(opts),
	)
	return cmd
}

func newTenantsListCommand(opts *rootOptions) *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := domain.ListFilter{Limit: limit}
			if status != "" {
				s := domain.Status(status)
				if !s.Valid() {
					return fmt.Errorf("unknown status %q", status)
				}
				filter.Status = &s
			}

			return opts.withStack(cmd.Context(), func(ctx context.Context, s *stack) error {
				tenants, err := s.mgmt.List(ctx, filter)
				if err != nil {
					return err
				}
				return printTenants(cmd.OutOrStdout(), tenants)
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only tenants in this state")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of tenants")
	return cmd
}

func newTenantsShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show a tenant with its allocations and decommission attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStack(cmd.Context(), func(ctx context.Context, s *stack) error {
				detail, err := s.mgmt.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printDetail(cmd.OutOrStdout(), detail)
			})
		},
	}
}

func newTenantCommand(opts *rootOptions, use, short string, op func(*app.Management, context.Context, string) (domain.Tenant, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStack(cmd.Context(), func(ctx context.Context, s *stack) error {
				t, err := op(s.mgmt, ctx, args[0])
				if err != nil {
					return err
				}
				printOutcome(cmd.OutOrStdout(), t)
				return nil
			})
		},
	}
}

func newTenantsDecommissionCommand(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "decommission <name>",
		Short: "Request removal of a tenant",
		Long: `Request removal of a tenant. Active and suspended tenants move to
decommissioning at once. With --force, quarantined tenants are admitted too
and provisioning tenants are aborted at their next stage boundary.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStack(cmd.Context(), func(ctx context.Context, s *stack) error {
				t, err := s.mgmt.RequestDecommission(ctx, args[0], force)
				if err != nil {
					return err
				}
				printOutcome(cmd.OutOrStdout(), t)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "admit quarantined tenants and abort provisioning ones")
	return cmd
}

func printTenants(w io.Writer, tenants []domain.Tenant) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tPORT\tTIER\tSUBSCRIPTION END\tLAST STAGE")
	for _, t := range tenants {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			t.Name, t.Status, t.Port, t.PlanTier, t.SubscriptionEnd.Format(time.DateOnly), dash(t.LastStage))
	}
	return tw.Flush()
}

func printDetail(w io.Writer, d app.TenantDetail) error {
	t := d.Tenant
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", t.ID)
	fmt.Fprintf(tw, "Name:\t%s\n", t.Name)
	fmt.Fprintf(tw, "Organization:\t%s\n", t.Organization)
	fmt.Fprintf(tw, "Status:\t%s\n", t.Status)
	fmt.Fprintf(tw, "Port:\t%d\n", t.Port)
	fmt.Fprintf(tw, "Plan:\ttier %d, %s\n", t.PlanTier, t.BillingFrequency)
	fmt.Fprintf(tw, "Subscription:\t%s to %s\n", t.SubscriptionStart.Format(time.DateOnly), t.SubscriptionEnd.Format(time.DateOnly))
	fmt.Fprintf(tw, "Last stage:\t%s\n", dash(t.LastStage))
	if t.AbortRequested {
		fmt.Fprintln(tw, "Abort:\trequested")
	}
	if t.Status == domain.StatusQuarantined {
		fmt.Fprintf(tw, "Quarantined from:\t%s\n", t.QuarantinedFrom)
		fmt.Fprintf(tw, "Failed step:\t%s\n", dash(t.FailedStep))
		fmt.Fprintf(tw, "Reason:\t%s\n", dash(t.FailureReason))
	}
	if t.Handles.RouteHost != "" {
		fmt.Fprintf(tw, "Host:\t%s\n", t.Handles.RouteHost)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(d.Allocations) > 0 {
		fmt.Fprintln(w, "\nAllocations:")
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PORT\tALLOCATED\tRELEASED")
		for _, a := range d.Allocations {
			released := "-"
			if a.ReleasedAt != nil {
				released = a.ReleasedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\n", a.Port, a.AllocatedAt.Format(time.RFC3339), released)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(d.Attempts) > 0 {
		fmt.Fprintln(w, "\nDecommission attempts:")
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STRATEGY\tAT\tRESOLVED\tREMAINING\tOUTCOME\tDETAIL")
		for _, a := range d.Attempts {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
				a.Strategy, a.AttemptedAt.Format(time.RFC3339), a.ItemsResolved, a.ItemsRemaining, a.Outcome, dash(a.Detail))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func printOutcome(w io.Writer, t domain.Tenant) {
	if t.AbortRequested && t.Status == domain.StatusProvisioning {
		fmt.Fprintf(w, "%s: abort requested\n", t.Name)
		return
	}
	fmt.Fprintf(w, "%s: %s\n", t.Name, t.Status)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
