package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// IntakeService turns payment confirmation events into provisioning tenants.
type IntakeService struct {
	tx        domain.Transactor
	ledger    domain.Ledger
	allocator domain.PortAllocator
	repo      domain.TenantRepository
	queue     domain.JobQueue
	now       func() time.Time
}

// NewIntakeService creates an intake service with the given adapters.
func NewIntakeService(tx domain.Transactor, ledger domain.Ledger, allocator domain.PortAllocator, repo domain.TenantRepository, queue domain.JobQueue) *IntakeService {
	return &IntakeService{
		tx:        tx,
		ledger:    ledger,
		allocator: allocator,
		repo:      repo,
		queue:     queue,
		now:       time.Now,
	}
}

// TriggerResult reports what intake did with one delivery.
type TriggerResult struct {
	Admission domain.Admission
	// Tenant is set only when the delivery was admitted.
	Tenant domain.Tenant
}

// HandleTrigger admits req at most once per event id. An admitted event
// reserves a port, creates the tenant in Provisioning, and enqueues the
// pipeline in one transaction. A duplicate delivery returns success without
// side effects.
func (s *IntakeService) HandleTrigger(ctx context.Context, req domain.ProvisionRequest) (TriggerResult, error) {
	if err := req.Validate(); err != nil {
		if req.EventID == "" {
			return TriggerResult{}, err
		}
		if dup := s.reject(ctx, req, err); dup {
			return TriggerResult{Admission: domain.Duplicate}, nil
		}
		return TriggerResult{}, err
	}

	var result TriggerResult
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		admission, err := s.ledger.Admit(ctx, req.EventID, req.EventType, domain.OutcomeSucceeded)
		if err != nil {
			return err
		}
		if admission == domain.Duplicate {
			result = TriggerResult{Admission: domain.Duplicate}
			return nil
		}

		if existing, err := s.repo.GetByName(ctx, req.TenantName); err == nil && existing.Holds() {
			return &domain.ResourceConflictError{Resource: "name", Value: req.TenantName}
		} else if err != nil && !errors.Is(err, domain.ErrTenantNotFound) {
			return fmt.Errorf("looking up tenant name: %w", err)
		}

		alloc, err := s.allocator.Reserve(ctx, req.TenantName)
		if err != nil {
			return err
		}

		tenant := domain.NewTenant(newTenantID(), req, alloc.Port, s.now())
		if err := s.repo.Create(ctx, tenant); err != nil {
			return err
		}

		if err := s.queue.EnqueueProvision(ctx, tenant.ID); err != nil {
			return fmt.Errorf("enqueuing provisioning: %w", err)
		}

		result = TriggerResult{Admission: domain.Admitted, Tenant: tenant}
		return nil
	})
	if err != nil {
		var conflict *domain.ResourceConflictError
		if errors.As(err, &conflict) {
			if dup := s.reject(ctx, req, err); dup {
				return TriggerResult{Admission: domain.Duplicate}, nil
			}
		}
		return TriggerResult{}, err
	}

	if result.Admission == domain.Duplicate {
		slog.InfoContext(ctx, "duplicate trigger event ignored", "event_id", req.EventID)
	} else {
		slog.InfoContext(ctx, "tenant admitted",
			"event_id", req.EventID,
			"tenant", result.Tenant.Name,
			"port", result.Tenant.Port,
			"tier", result.Tenant.PlanTier,
		)
	}

	return result, nil
}

// reject records a rejected outcome for req. It reports whether the event
// had already been recorded, in which case the delivery is a duplicate.
func (s *IntakeService) reject(ctx context.Context, req domain.ProvisionRequest, cause error) bool {
	admission, err := s.ledger.Admit(ctx, req.EventID, req.EventType, domain.OutcomeRejected)
	if err != nil {
		slog.ErrorContext(ctx, "recording rejected event", "event_id", req.EventID, "error", err)
		return false
	}
	if admission == domain.Duplicate {
		return true
	}

	slog.WarnContext(ctx, "trigger event rejected",
		"event_id", req.EventID,
		"tenant", req.TenantName,
		"reason", cause.Error(),
	)
	return false
}
