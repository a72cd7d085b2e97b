package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/neomorfeo/tenantops/internal/domain"
	"github.com/neomorfeo/tenantops/internal/retry"
)

// Lifecycle is the state writer the pipeline reports through.
type Lifecycle interface {
	Fire(ctx context.Context, t domain.Tenant, event domain.Event, mutate ...func(*domain.Tenant)) (domain.Tenant, error)
	Save(ctx context.Context, t domain.Tenant) error
}

// Pipeline runs the provisioning stages of one tenant in order. Progress is
// persisted after every stage so a crashed run resumes after the last
// completed one.
type Pipeline struct {
	repo      domain.TenantRepository
	lifecycle Lifecycle
	tx        domain.Transactor
	queue     domain.JobQueue
	stages    []Stage
	policy    retry.Policy
	root      string
}

// NewPipeline creates a pipeline over stages. Workspaces live under root.
func NewPipeline(repo domain.TenantRepository, lifecycle Lifecycle, tx domain.Transactor, queue domain.JobQueue, stages []Stage, policy retry.Policy, root string) *Pipeline {
	return &Pipeline{
		repo:      repo,
		lifecycle: lifecycle,
		tx:        tx,
		queue:     queue,
		stages:    stages,
		policy:    policy,
		root:      root,
	}
}

// Run provisions tenantID from the stage after its last completed one.
// A permanent stage failure quarantines the tenant and is returned as a
// *domain.PartialProvisioningFailure. Cancellation of ctx leaves the tenant
// in Provisioning so a later run resumes it.
func (p *Pipeline) Run(ctx context.Context, tenantID string) error {
	t, err := p.repo.GetByID(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("loading tenant %s: %w", tenantID, err)
	}
	if t.Status != domain.StatusProvisioning {
		slog.InfoContext(ctx, "skipping provisioning", "tenant", t.Name, "state", string(t.Status))
		return nil
	}

	run := &Run{Tenant: t, Workspace: NewWorkspace(p.root, t.Name)}

	plan, err := domain.LookupPlan(t.PlanTier)
	if err != nil {
		return p.quarantine(ctx, run, "plan", err)
	}
	run.Plan = plan

	for i := p.resumeFrom(t.LastStage); i <= len(p.stages); i++ {
		stop, err := p.boundary(ctx, run, i)
		if stop || err != nil {
			return err
		}
		if i == len(p.stages) {
			break
		}

		stage := p.stages[i]
		log := slog.With("tenant", t.Name, "stage", string(stage.Name()))
		log.InfoContext(ctx, "stage started")

		attempts, err := retry.Do(ctx, p.policy, func(ctx context.Context) error {
			return stage.Run(ctx, run)
		})
		if err != nil {
			if ctx.Err() != nil {
				log.WarnContext(ctx, "stage interrupted", "attempt", attempts)
				return ctx.Err()
			}
			log.ErrorContext(ctx, "stage failed", "attempt", attempts, "error", err)
			return p.quarantine(ctx, run, string(stage.Name()), err)
		}

		run.Tenant.LastStage = string(stage.Name())
		if err := p.lifecycle.Save(ctx, run.Tenant); err != nil {
			return fmt.Errorf("saving progress after %s: %w", stage.Name(), err)
		}
		log.InfoContext(ctx, "stage completed", "attempt", attempts)
	}

	if _, err := p.lifecycle.Fire(ctx, run.Tenant, domain.EventProvisionSucceeded); err != nil {
		return fmt.Errorf("activating tenant: %w", err)
	}
	slog.InfoContext(ctx, "tenant active", "tenant", t.Name, "port", t.Port, "host", run.Tenant.Handles.RouteHost)
	return nil
}

// resumeFrom returns the index of the stage after last.
func (p *Pipeline) resumeFrom(last string) int {
	if last == "" {
		return 0
	}
	for i, s := range p.stages {
		if string(s.Name()) == last {
			return i + 1
		}
	}
	return 0
}

// boundary re-reads the tenant before stage next and honors an abort. It
// reports stop when the run must not continue.
func (p *Pipeline) boundary(ctx context.Context, run *Run, next int) (bool, error) {
	cur, err := p.repo.GetByID(ctx, run.Tenant.ID)
	if err != nil {
		return true, fmt.Errorf("reloading tenant: %w", err)
	}
	if cur.Status != domain.StatusProvisioning {
		slog.WarnContext(ctx, "tenant left provisioning during run", "tenant", cur.Name, "state", string(cur.Status))
		return true, nil
	}
	if !cur.AbortRequested {
		return false, nil
	}

	run.Tenant.AbortRequested = false
	return true, p.abort(ctx, run, next)
}

// AbortedStep is the failed step recorded when an abort after build and
// start routes the tenant through quarantine into teardown.
const AbortedStep = "aborted"

// abort stops the run before stage next. Once the instance is built and
// started, the tenant is quarantined and force-decommissioned in one
// transaction, so teardown goes through the decommission orchestrator.
// Before that, the tenant is quarantined with its artifacts intact.
func (p *Pipeline) abort(ctx context.Context, run *Run, next int) error {
	if !p.completed(run.Tenant.LastStage, StageBuildAndStart) {
		pending := "end"
		if next < len(p.stages) {
			pending = string(p.stages[next].Name())
		}
		_, err := p.lifecycle.Fire(ctx, run.Tenant, domain.EventProvisionFailed, func(t *domain.Tenant) {
			t.FailedStep = pending
			t.FailureReason = "aborted by operator"
		})
		if err != nil {
			return fmt.Errorf("quarantining aborted tenant: %w", err)
		}
		slog.InfoContext(ctx, "provisioning aborted", "tenant", run.Tenant.Name, "stage", pending)
		return nil
	}

	err := p.tx.WithTx(ctx, func(ctx context.Context) error {
		quarantined, err := p.lifecycle.Fire(ctx, run.Tenant, domain.EventProvisionFailed, func(t *domain.Tenant) {
			t.FailedStep = AbortedStep
			t.FailureReason = "aborted by operator"
		})
		if err != nil {
			return err
		}
		teardown, err := p.lifecycle.Fire(ctx, quarantined, domain.EventForceDecommission)
		if err != nil {
			return err
		}
		return p.queue.EnqueueDecommission(ctx, teardown.ID)
	})
	if err != nil {
		return fmt.Errorf("routing aborted tenant to teardown: %w", err)
	}
	slog.InfoContext(ctx, "provisioning aborted, teardown enqueued", "tenant", run.Tenant.Name)
	return nil
}

// completed reports whether stage is at or before last in pipeline order.
func (p *Pipeline) completed(last string, stage StageName) bool {
	lastIdx := p.resumeFrom(last) - 1
	for i, s := range p.stages {
		if s.Name() == stage {
			return lastIdx >= i
		}
	}
	return false
}

func (p *Pipeline) quarantine(ctx context.Context, run *Run, step string, cause error) error {
	_, err := p.lifecycle.Fire(ctx, run.Tenant, domain.EventProvisionFailed, func(t *domain.Tenant) {
		t.FailedStep = step
		t.FailureReason = cause.Error()
	})
	if err != nil {
		return errors.Join(
			&domain.PartialProvisioningFailure{Tenant: run.Tenant.Name, Stage: step, Err: cause},
			fmt.Errorf("quarantining tenant: %w", err),
		)
	}
	return &domain.PartialProvisioningFailure{Tenant: run.Tenant.Name, Stage: step, Err: cause}
}
