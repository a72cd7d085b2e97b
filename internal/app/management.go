package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Management implements the operator-facing commands.
type Management struct {
	tx        domain.Transactor
	repo      domain.TenantRepository
	attempts  domain.AttemptStore
	allocator domain.PortAllocator
	lifecycle *Lifecycle
	queue     domain.JobQueue
}

// NewManagement creates the operator service.
func NewManagement(tx domain.Transactor, repo domain.TenantRepository, attempts domain.AttemptStore, allocator domain.PortAllocator, lifecycle *Lifecycle, queue domain.JobQueue) *Management {
	return &Management{
		tx:        tx,
		repo:      repo,
		attempts:  attempts,
		allocator: allocator,
		lifecycle: lifecycle,
		queue:     queue,
	}
}

// TenantDetail is a tenant together with its audit trails.
type TenantDetail struct {
	Tenant      domain.Tenant
	Attempts    []domain.DecommissionAttempt
	Allocations []domain.PortAllocation
}

// List returns tenants matching filter.
func (m *Management) List(ctx context.Context, filter domain.ListFilter) ([]domain.Tenant, error) {
	return m.repo.List(ctx, filter)
}

// Get returns the tenant holding name, or the last removed one, with its trails.
func (m *Management) Get(ctx context.Context, name string) (TenantDetail, error) {
	t, err := m.repo.GetByName(ctx, name)
	if err != nil {
		return TenantDetail{}, err
	}

	attempts, err := m.attempts.ListByTenant(ctx, t.ID)
	if err != nil {
		return TenantDetail{}, fmt.Errorf("loading attempts: %w", err)
	}

	allocs, err := m.allocator.List(ctx, t.Name)
	if err != nil {
		return TenantDetail{}, fmt.Errorf("loading allocations: %w", err)
	}

	return TenantDetail{Tenant: t, Attempts: attempts, Allocations: allocs}, nil
}

// Suspend moves an active tenant to suspended.
func (m *Management) Suspend(ctx context.Context, name string) (domain.Tenant, error) {
	t, err := m.repo.GetByName(ctx, name)
	if err != nil {
		return domain.Tenant{}, err
	}
	return m.lifecycle.Fire(ctx, t, domain.EventSuspend)
}

// RequestDecommission moves the tenant to decommissioning and enqueues the
// teardown. With force, a quarantined tenant is admitted too, and a
// provisioning tenant is aborted at its next stage boundary instead.
func (m *Management) RequestDecommission(ctx context.Context, name string, force bool) (domain.Tenant, error) {
	t, err := m.repo.GetByName(ctx, name)
	if err != nil {
		return domain.Tenant{}, err
	}

	event := domain.EventDecommission
	switch t.Status {
	case domain.StatusProvisioning:
		if !force {
			return domain.Tenant{}, &domain.TransitionError{Event: event, Current: t.Status}
		}
		return m.Abort(ctx, name)
	case domain.StatusQuarantined:
		if !force {
			return domain.Tenant{}, &domain.TransitionError{Event: event, Current: t.Status}
		}
		event = domain.EventForceDecommission
	}

	return m.fireAndEnqueue(ctx, t, event, m.queue.EnqueueDecommission)
}

// RetryProvisioning resumes a quarantined provisioning after its last
// completed stage.
func (m *Management) RetryProvisioning(ctx context.Context, name string) (domain.Tenant, error) {
	t, err := m.repo.GetByName(ctx, name)
	if err != nil {
		return domain.Tenant{}, err
	}

	if t.Status == domain.StatusQuarantined && t.QuarantinedFrom == domain.StatusDecommissioning {
		return domain.Tenant{}, &domain.TransitionError{Event: domain.EventRetryProvisioning, Current: t.Status}
	}

	return m.fireAndEnqueue(ctx, t, domain.EventRetryProvisioning, m.queue.EnqueueProvision, func(t *domain.Tenant) {
		t.FailedStep = ""
		t.FailureReason = ""
		t.QuarantinedFrom = ""
		t.AbortRequested = false
	})
}

// Abort flags a provisioning tenant. The pipeline honors it at the next
// stage boundary.
func (m *Management) Abort(ctx context.Context, name string) (domain.Tenant, error) {
	t, err := m.repo.GetByName(ctx, name)
	if err != nil {
		return domain.Tenant{}, err
	}

	if err := m.repo.RequestAbort(ctx, t.ID); err != nil {
		if errors.Is(err, domain.ErrStaleState) {
			return domain.Tenant{}, &domain.TransitionError{Event: domain.EventAbort, Current: t.Status}
		}
		return domain.Tenant{}, err
	}

	slog.InfoContext(ctx, "abort requested", "tenant", t.Name)
	t.AbortRequested = true
	return t, nil
}

func (m *Management) fireAndEnqueue(ctx context.Context, t domain.Tenant, event domain.Event, enqueue func(context.Context, string) error, mutate ...func(*domain.Tenant)) (domain.Tenant, error) {
	var out domain.Tenant
	err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		next, err := m.lifecycle.Fire(ctx, t, event, mutate...)
		if err != nil {
			return err
		}
		if err := enqueue(ctx, next.ID); err != nil {
			return fmt.Errorf("enqueuing %s work: %w", event, err)
		}
		out = next
		return nil
	})
	return out, err
}

// SweepResult counts what one expiry sweep changed.
type SweepResult struct {
	Suspended       int
	Decommissioning int
}

// SweepExpired suspends active tenants whose subscription window has ended
// and requests decommission of suspended tenants past the grace period.
// Tenants changed concurrently are skipped.
func (m *Management) SweepExpired(ctx context.Context, now time.Time, grace time.Duration) (SweepResult, error) {
	var result SweepResult

	active := domain.StatusActive
	lapsed, err := m.repo.List(ctx, domain.ListFilter{Status: &active})
	if err != nil {
		return result, fmt.Errorf("listing active tenants: %w", err)
	}
	for _, t := range lapsed {
		if !now.After(t.SubscriptionEnd) {
			continue
		}
		if _, err := m.lifecycle.Fire(ctx, t, domain.EventSuspend); err != nil {
			if errors.Is(err, domain.ErrStaleState) {
				continue
			}
			return result, err
		}
		result.Suspended++
	}

	suspended := domain.StatusSuspended
	overdue, err := m.repo.List(ctx, domain.ListFilter{Status: &suspended})
	if err != nil {
		return result, fmt.Errorf("listing suspended tenants: %w", err)
	}
	for _, t := range overdue {
		if !now.After(t.SubscriptionEnd.Add(grace)) {
			continue
		}
		if _, err := m.fireAndEnqueue(ctx, t, domain.EventDecommission, m.queue.EnqueueDecommission); err != nil {
			if errors.Is(err, domain.ErrStaleState) {
				continue
			}
			return result, err
		}
		result.Decommissioning++
	}

	if result.Suspended > 0 || result.Decommissioning > 0 {
		slog.InfoContext(ctx, "expiry sweep",
			"suspended", result.Suspended,
			"decommissioning", result.Decommissioning,
		)
	}
	return result, nil
}
