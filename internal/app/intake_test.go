package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/neomorfeo/tenantops/internal/domain"
)

func TestHandleTrigger_AdmitsAndEnqueues(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tenant := h.admit(t, "E1", "acme")

	if tenant.Status != domain.StatusProvisioning {
		t.Errorf("Status = %q, want %q", tenant.Status, domain.StatusProvisioning)
	}
	if tenant.Port != 9100 {
		t.Errorf("Port = %d, want 9100", tenant.Port)
	}
	if len(tenant.ID) != 26 {
		t.Errorf("ID %q is not a ULID", tenant.ID)
	}

	stored, err := h.repo.GetByName(ctx, "acme")
	if err != nil {
		t.Fatalf("tenant not persisted: %v", err)
	}
	if stored.ID != tenant.ID {
		t.Errorf("stored ID = %q, want %q", stored.ID, tenant.ID)
	}

	if len(h.queue.provision) != 1 || h.queue.provision[0] != tenant.ID {
		t.Errorf("provision jobs = %v, want [%s]", h.queue.provision, tenant.ID)
	}

	entry, err := h.ledger.Get(ctx, "E1")
	if err != nil {
		t.Fatalf("ledger entry missing: %v", err)
	}
	if entry.Outcome != domain.OutcomeSucceeded {
		t.Errorf("Outcome = %q, want %q", entry.Outcome, domain.OutcomeSucceeded)
	}
}

func TestHandleTrigger_DuplicateDelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.admit(t, "E1", "acme")

	res, err := h.intake.HandleTrigger(ctx, testRequest("E1", "acme"))
	if err != nil {
		t.Fatalf("duplicate delivery should succeed, got %v", err)
	}
	if res.Admission != domain.Duplicate {
		t.Errorf("Admission = %q, want %q", res.Admission, domain.Duplicate)
	}

	tenants, _ := h.repo.List(ctx, domain.ListFilter{})
	if len(tenants) != 1 {
		t.Errorf("got %d tenants, want 1", len(tenants))
	}
	if len(h.queue.provision) != 1 {
		t.Errorf("got %d provision jobs, want 1", len(h.queue.provision))
	}
}

func TestHandleTrigger_ConcurrentDuplicates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.intake.HandleTrigger(ctx, testRequest("E1", "acme"))
			if err != nil {
				t.Errorf("HandleTrigger failed: %v", err)
				return
			}
			if res.Admission == domain.Admitted {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Errorf("admitted %d deliveries, want 1", admitted)
	}
	tenants, _ := h.repo.List(ctx, domain.ListFilter{})
	if len(tenants) != 1 {
		t.Errorf("got %d tenants, want 1", len(tenants))
	}
}

func TestHandleTrigger_InvalidPayload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := testRequest("E1", "Not A Slug")
	_, err := h.intake.HandleTrigger(ctx, req)

	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	entry, err := h.ledger.Get(ctx, "E1")
	if err != nil {
		t.Fatalf("rejection not recorded: %v", err)
	}
	if entry.Outcome != domain.OutcomeRejected {
		t.Errorf("Outcome = %q, want %q", entry.Outcome, domain.OutcomeRejected)
	}

	allocs, _ := h.allocator.List(ctx, "Not A Slug")
	if len(allocs) != 0 {
		t.Error("a rejected event must not reserve a port")
	}
	if len(h.queue.provision) != 0 {
		t.Error("a rejected event must not enqueue work")
	}
}

func TestHandleTrigger_UnknownTier(t *testing.T) {
	h := newHarness(t)

	req := testRequest("E1", "acme")
	req.PlanTier = 7

	_, err := h.intake.HandleTrigger(context.Background(), req)
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "planTier" {
		t.Fatalf("expected planTier ValidationError, got %v", err)
	}
}

func TestHandleTrigger_NameHeldByActiveTenant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	existing := h.admit(t, "E1", "acme")
	h.force(t, existing, domain.EventProvisionSucceeded)

	_, err := h.intake.HandleTrigger(ctx, testRequest("E2", "acme"))
	var conflict *domain.ResourceConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ResourceConflictError, got %v", err)
	}

	tenants, _ := h.repo.List(ctx, domain.ListFilter{})
	if len(tenants) != 1 {
		t.Errorf("got %d tenants, want 1", len(tenants))
	}

	allocs, _ := h.allocator.List(ctx, "acme")
	if len(allocs) != 1 {
		t.Errorf("got %d allocations for acme, want 1 (no port consumed)", len(allocs))
	}

	// The next tenant still gets the next port: nothing was burned.
	next := h.admit(t, "E3", "globex")
	if next.Port != 9101 {
		t.Errorf("next Port = %d, want 9101", next.Port)
	}

	entry, err := h.ledger.Get(ctx, "E2")
	if err != nil {
		t.Fatalf("conflicting event not recorded: %v", err)
	}
	if entry.Outcome != domain.OutcomeRejected {
		t.Errorf("Outcome = %q, want %q", entry.Outcome, domain.OutcomeRejected)
	}
}

func TestHandleTrigger_EnqueueFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.queue.err = errors.New("queue unavailable")

	if _, err := h.intake.HandleTrigger(ctx, testRequest("E1", "acme")); err == nil {
		t.Fatal("expected an error when the job cannot be enqueued")
	}

	if _, err := h.ledger.Get(ctx, "E1"); !errors.Is(err, domain.ErrEventNotFound) {
		t.Errorf("ledger entry should be rolled back so redelivery retries, got %v", err)
	}
	if _, err := h.repo.GetByName(ctx, "acme"); !errors.Is(err, domain.ErrTenantNotFound) {
		t.Errorf("tenant should be rolled back, got %v", err)
	}

	h.queue.err = nil
	tenant := h.admit(t, "E1", "acme")
	if tenant.Port != 9100 {
		t.Errorf("Port = %d, want 9100 after rollback", tenant.Port)
	}
}
