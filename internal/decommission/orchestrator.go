package decommission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neomorfeo/tenantops/internal/domain"
	"github.com/neomorfeo/tenantops/internal/provision"
	"github.com/neomorfeo/tenantops/internal/retry"
)

// Lifecycle is the state writer the orchestrator reports through.
type Lifecycle interface {
	Fire(ctx context.Context, t domain.Tenant, event domain.Event, mutate ...func(*domain.Tenant)) (domain.Tenant, error)
}

// Orchestrator is the only code path that deletes tenant resources.
type Orchestrator struct {
	repo       domain.TenantRepository
	lifecycle  Lifecycle
	tx         domain.Transactor
	allocator  domain.PortAllocator
	attempts   domain.AttemptStore
	router     domain.Router
	runtime    domain.ContainerRuntime
	host       Host
	strategies []Strategy
	policy     retry.Policy
	timeout    time.Duration
	root       string
	now        func() time.Time
}

// Deps holds the collaborators of an Orchestrator.
type Deps struct {
	Repo       domain.TenantRepository
	Lifecycle  Lifecycle
	Tx         domain.Transactor
	Allocator  domain.PortAllocator
	Attempts   domain.AttemptStore
	Router     domain.Router
	Runtime    domain.ContainerRuntime
	Host       Host
	Strategies []Strategy
	Policy     retry.Policy
	// Timeout bounds each strategy attempt and each inventory call.
	Timeout time.Duration
	// Root is the workspace root, used when a tenant never recorded its storage path.
	Root string
}

// NewOrchestrator creates an orchestrator from deps.
func NewOrchestrator(deps Deps) *Orchestrator {
	return &Orchestrator{
		repo:       deps.Repo,
		lifecycle:  deps.Lifecycle,
		tx:         deps.Tx,
		allocator:  deps.Allocator,
		attempts:   deps.Attempts,
		router:     deps.Router,
		runtime:    deps.Runtime,
		host:       deps.Host,
		strategies: deps.Strategies,
		policy:     deps.Policy,
		timeout:    deps.Timeout,
		root:       deps.Root,
		now:        time.Now,
	}
}

// InventoryStep names the trail row and failed step recorded when the
// tracked resources could not be counted before any strategy ran.
const InventoryStep = "inventory"

// Run tears tenantID down. Strategies run in order until an inventory finds
// nothing left. The port is released and the tenant removed only then;
// otherwise the tenant is quarantined and a *domain.DecommissionResidual is
// returned.
func (o *Orchestrator) Run(ctx context.Context, tenantID string) error {
	t, err := o.repo.GetByID(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("loading tenant %s: %w", tenantID, err)
	}
	if t.Status != domain.StatusDecommissioning {
		slog.InfoContext(ctx, "skipping decommission", "tenant", t.Name, "state", string(t.Status))
		return nil
	}

	target := o.target(t)
	remaining, err := o.inventory(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempt := o.attempt(t, InventoryStep, 0, 0)
		attempt.Outcome = domain.AttemptFailed
		attempt.Detail = err.Error()
		return o.abandon(ctx, t, attempt, 0, err)
	}
	if remaining == 0 {
		slog.InfoContext(ctx, "nothing tracked, completing decommission", "tenant", t.Name)
		return o.finish(ctx, t)
	}
	slog.InfoContext(ctx, "decommission started", "tenant", t.Name, "tracked", remaining)

	last := ""
	for i, s := range o.strategies {
		last = s.Name()
		before := remaining

		var res AttemptResult
		_, attemptErr := retry.Do(ctx, o.policy, func(ctx context.Context) error {
			return retry.WithTimeout(ctx, o.timeout, s.Name(), func(ctx context.Context) error {
				var err error
				res, err = s.Attempt(ctx, target)
				return err
			})
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}

		remaining, err = o.inventory(ctx, target)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt := o.attempt(t, s.Name(), 0, before)
			attempt.Outcome = domain.AttemptFailed
			attempt.Detail = detail(res, errors.Join(attemptErr, err))
			return o.abandon(ctx, t, attempt, i+1, err)
		}

		attempt := o.attempt(t, s.Name(), max(before-remaining, 0), remaining)
		attempt.Outcome = outcome(res, remaining)
		attempt.Detail = detail(res, attemptErr)
		if err := o.attempts.Record(ctx, attempt); err != nil {
			return err
		}

		slog.InfoContext(ctx, "decommission strategy finished",
			"tenant", t.Name,
			"strategy", s.Name(),
			"resolved", attempt.ItemsResolved,
			"remaining", remaining,
			"outcome", string(attempt.Outcome),
		)

		if remaining == 0 {
			return o.finish(ctx, t)
		}
	}

	if err := o.quarantine(ctx, t, last, fmt.Sprintf("%d tracked resources remain", remaining)); err != nil {
		return err
	}
	return &domain.DecommissionResidual{Tenant: t.Name, Remaining: remaining, Attempts: len(o.strategies)}
}

func (o *Orchestrator) attempt(t domain.Tenant, strategy string, resolved, remaining int) domain.DecommissionAttempt {
	return domain.DecommissionAttempt{
		TenantID:       t.ID,
		TenantName:     t.Name,
		Strategy:       strategy,
		AttemptedAt:    o.now(),
		ItemsResolved:  resolved,
		ItemsRemaining: remaining,
	}
}

// abandon records the attempt whose inventory failed and quarantines the
// tenant with that failure.
func (o *Orchestrator) abandon(ctx context.Context, t domain.Tenant, attempt domain.DecommissionAttempt, ran int, err error) error {
	slog.WarnContext(ctx, "counting tracked resources failed",
		"tenant", t.Name,
		"strategy", attempt.Strategy,
		"error", err,
	)
	if recErr := o.attempts.Record(ctx, attempt); recErr != nil {
		return recErr
	}
	if qErr := o.quarantine(ctx, t, attempt.Strategy, "counting tracked resources: "+err.Error()); qErr != nil {
		return qErr
	}
	return &domain.DecommissionResidual{Tenant: t.Name, Remaining: attempt.ItemsRemaining, Attempts: ran, Err: err}
}

func (o *Orchestrator) quarantine(ctx context.Context, t domain.Tenant, step, reason string) error {
	_, err := o.lifecycle.Fire(ctx, t, domain.EventDecommissionFailed, func(t *domain.Tenant) {
		t.FailedStep = step
		t.FailureReason = reason
	})
	if err != nil {
		return fmt.Errorf("quarantining tenant: %w", err)
	}
	return nil
}

// finish runs once the instance and storage are confirmed gone.
func (o *Orchestrator) finish(ctx context.Context, t domain.Tenant) error {
	if err := o.router.Remove(ctx, t.Name); err != nil {
		return fmt.Errorf("removing route: %w", err)
	}

	err := o.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := o.allocator.Release(ctx, t.Name); err != nil {
			return err
		}
		_, err := o.lifecycle.Fire(ctx, t, domain.EventDecommissionSucceeded)
		return err
	})
	if err != nil {
		return fmt.Errorf("removing tenant: %w", err)
	}

	slog.InfoContext(ctx, "tenant removed", "tenant", t.Name, "port", t.Port)
	return nil
}

func (o *Orchestrator) target(t domain.Tenant) Target {
	target := Target{
		Tenant:   t,
		Path:     t.Handles.StoragePath,
		Instance: t.Handles.Instance,
		Image:    t.Handles.Image,
	}
	if target.Path == "" {
		target.Path = provision.NewWorkspace(o.root, t.Name).Dir()
	}
	if target.Instance == "" {
		target.Instance = provision.InstanceName(t.Name)
	}
	return target
}

// inventory counts the tracked resources still present: the instance and
// every entry under the storage path. Failures are retried under the
// orchestrator's policy.
func (o *Orchestrator) inventory(ctx context.Context, target Target) (int, error) {
	var count int
	_, err := retry.Do(ctx, o.policy, func(ctx context.Context) error {
		return retry.WithTimeout(ctx, o.timeout, InventoryStep, func(ctx context.Context) error {
			n, err := o.count(ctx, target)
			if err != nil {
				return domain.Transient(InventoryStep, err)
			}
			count = n
			return nil
		})
	})
	return count, err
}

func (o *Orchestrator) count(ctx context.Context, target Target) (int, error) {
	count := 0

	exists, err := o.runtime.Exists(ctx, target.Instance)
	if err != nil {
		return 0, fmt.Errorf("inspecting instance %s: %w", target.Instance, err)
	}
	if exists {
		count++
	}

	residuals, err := o.host.Residuals(ctx, target.Path)
	if err != nil {
		return 0, fmt.Errorf("listing residual files: %w", err)
	}
	return count + len(residuals), nil
}

func outcome(res AttemptResult, remaining int) domain.AttemptOutcome {
	switch {
	case remaining == 0:
		return domain.AttemptSucceeded
	case res.Skipped:
		return domain.AttemptSkipped
	default:
		return domain.AttemptFailed
	}
}

func detail(res AttemptResult, err error) string {
	switch {
	case err == nil:
		return res.Detail
	case res.Detail == "":
		return err.Error()
	default:
		return res.Detail + ": " + err.Error()
	}
}
