package river

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/tenantops/internal/app"
	"github.com/neomorfeo/tenantops/internal/domain"
)

// TenantRunner runs one per-tenant operation to completion.
type TenantRunner interface {
	Run(ctx context.Context, tenantID string) error
}

// Sweeper applies subscription expiry.
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time, grace time.Duration) (app.SweepResult, error)
}

// ProvisionWorker runs the provisioning pipeline. A quarantined tenant is
// a handled outcome, not a job failure.
type ProvisionWorker struct {
	river.WorkerDefaults[ProvisionJobArgs]
	Pipeline TenantRunner
}

// Timeout is disabled; every stage bounds its own external calls.
func (w *ProvisionWorker) Timeout(*river.Job[ProvisionJobArgs]) time.Duration { return -1 }

func (w *ProvisionWorker) Work(ctx context.Context, job *river.Job[ProvisionJobArgs]) error {
	slog.InfoContext(ctx, "provisioning tenant",
		"tenant_id", job.Args.TenantID,
		"job_id", job.ID,
		"attempt", job.Attempt,
	)

	err := w.Pipeline.Run(ctx, job.Args.TenantID)
	var partial *domain.PartialProvisioningFailure
	if errors.As(err, &partial) {
		slog.WarnContext(ctx, "tenant quarantined", "tenant", partial.Tenant, "stage", partial.Stage, "error", partial.Err)
		return nil
	}
	return settle(err)
}

// DecommissionWorker runs the decommission orchestrator.
type DecommissionWorker struct {
	river.WorkerDefaults[DecommissionJobArgs]
	Orchestrator TenantRunner
}

// Timeout is disabled; the orchestrator bounds every strategy attempt and
// inventory call.
func (w *DecommissionWorker) Timeout(*river.Job[DecommissionJobArgs]) time.Duration { return -1 }

func (w *DecommissionWorker) Work(ctx context.Context, job *river.Job[DecommissionJobArgs]) error {
	slog.InfoContext(ctx, "decommissioning tenant",
		"tenant_id", job.Args.TenantID,
		"job_id", job.ID,
		"attempt", job.Attempt,
	)

	err := w.Orchestrator.Run(ctx, job.Args.TenantID)
	var residual *domain.DecommissionResidual
	if errors.As(err, &residual) {
		slog.WarnContext(ctx, "decommission left residuals", "tenant", residual.Tenant, "remaining", residual.Remaining)
		return nil
	}
	return settle(err)
}

// settle cancels jobs for tenants that no longer exist instead of retrying.
func settle(err error) error {
	if errors.Is(err, domain.ErrTenantNotFound) {
		return river.JobCancel(err)
	}
	return err
}

// NotifyWorker delivers quarantine notices.
type NotifyWorker struct {
	river.WorkerDefaults[NotifyJobArgs]
	Notifier domain.Notifier
}

func (w *NotifyWorker) Work(ctx context.Context, job *river.Job[NotifyJobArgs]) error {
	return w.Notifier.Notify(ctx, job.Args.Notice)
}

// ExpiryWorker runs the subscription expiry sweep.
type ExpiryWorker struct {
	river.WorkerDefaults[ExpirySweepArgs]
	Sweeper Sweeper
	Grace   time.Duration
}

func (w *ExpiryWorker) Work(ctx context.Context, _ *river.Job[ExpirySweepArgs]) error {
	_, err := w.Sweeper.SweepExpired(ctx, time.Now().UTC(), w.Grace)
	return err
}
