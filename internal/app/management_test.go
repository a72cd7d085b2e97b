package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neomorfeo/tenantops/internal/domain"
)

func TestSuspend(t *testing.T) {
	h := newHarness(t)

	tenant := h.admit(t, "E1", "acme")
	h.force(t, tenant, domain.EventProvisionSucceeded)

	got, err := h.management.Suspend(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}
	if got.Status != domain.StatusSuspended {
		t.Errorf("Status = %q, want %q", got.Status, domain.StatusSuspended)
	}
}

func TestSuspend_NotActive(t *testing.T) {
	h := newHarness(t)
	h.admit(t, "E1", "acme")

	_, err := h.management.Suspend(context.Background(), "acme")
	var tErr *domain.TransitionError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
}

func TestRequestDecommission_Active(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tenant := h.force(t, h.admit(t, "E1", "acme"), domain.EventProvisionSucceeded)

	got, err := h.management.RequestDecommission(ctx, "acme", false)
	if err != nil {
		t.Fatalf("RequestDecommission failed: %v", err)
	}
	if got.Status != domain.StatusDecommissioning {
		t.Errorf("Status = %q, want %q", got.Status, domain.StatusDecommissioning)
	}
	if len(h.queue.decommission) != 1 || h.queue.decommission[0] != tenant.ID {
		t.Errorf("decommission jobs = %v, want [%s]", h.queue.decommission, tenant.ID)
	}
}

func TestRequestDecommission_QuarantinedNeedsForce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tenant := h.admit(t, "E1", "acme")
	h.force(t, tenant, domain.EventProvisionFailed)

	if _, err := h.management.RequestDecommission(ctx, "acme", false); err == nil {
		t.Fatal("decommissioning a quarantined tenant without force should fail")
	}

	got, err := h.management.RequestDecommission(ctx, "acme", true)
	if err != nil {
		t.Fatalf("forced RequestDecommission failed: %v", err)
	}
	if got.Status != domain.StatusDecommissioning {
		t.Errorf("Status = %q, want %q", got.Status, domain.StatusDecommissioning)
	}
}

func TestRequestDecommission_ProvisioningIsAborted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.admit(t, "E1", "acme")

	got, err := h.management.RequestDecommission(ctx, "acme", true)
	if err != nil {
		t.Fatalf("RequestDecommission failed: %v", err)
	}
	if got.Status != domain.StatusProvisioning || !got.AbortRequested {
		t.Errorf("got %q abort=%v, want provisioning with abort flagged", got.Status, got.AbortRequested)
	}
	if len(h.queue.decommission) != 0 {
		t.Error("an aborted provisioning must not enqueue a teardown directly")
	}
}

func TestRetryProvisioning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tenant := h.admit(t, "E1", "acme")
	h.force(t, tenant, domain.EventProvisionFailed)

	got, err := h.management.RetryProvisioning(ctx, "acme")
	if err != nil {
		t.Fatalf("RetryProvisioning failed: %v", err)
	}
	if got.Status != domain.StatusProvisioning {
		t.Errorf("Status = %q, want %q", got.Status, domain.StatusProvisioning)
	}
	if got.QuarantinedFrom != "" {
		t.Errorf("QuarantinedFrom = %q, want it cleared", got.QuarantinedFrom)
	}
	if len(h.queue.provision) != 2 {
		t.Errorf("got %d provision jobs, want 2", len(h.queue.provision))
	}

	// Entering and leaving quarantine each notify once.
	if len(h.notifier.notices) != 2 {
		t.Fatalf("got %d notices, want 2", len(h.notifier.notices))
	}
	if !h.notifier.notices[0].Entered || h.notifier.notices[1].Entered {
		t.Error("notices should be enter then exit")
	}
}

func TestRetryProvisioning_RejectsFailedTeardown(t *testing.T) {
	h := newHarness(t)

	tenant := h.admit(t, "E1", "acme")
	h.force(t, tenant,
		domain.EventProvisionSucceeded,
		domain.EventDecommission,
		domain.EventDecommissionFailed,
	)

	_, err := h.management.RetryProvisioning(context.Background(), "acme")
	var tErr *domain.TransitionError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
}

func TestAbort_NotProvisioning(t *testing.T) {
	h := newHarness(t)
	h.force(t, h.admit(t, "E1", "acme"), domain.EventProvisionSucceeded)

	_, err := h.management.Abort(context.Background(), "acme")
	var tErr *domain.TransitionError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
}

func TestGet_IncludesTrails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tenant := h.admit(t, "E1", "acme")
	if err := h.attempts.Record(ctx, domain.DecommissionAttempt{
		TenantID:   tenant.ID,
		TenantName: tenant.Name,
		Strategy:   "graceful_stop",
		Outcome:    domain.AttemptSucceeded,
	}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	detail, err := h.management.Get(ctx, "acme")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(detail.Attempts) != 1 {
		t.Errorf("got %d attempts, want 1", len(detail.Attempts))
	}
	if len(detail.Allocations) != 1 || detail.Allocations[0].Port != tenant.Port {
		t.Errorf("allocations = %+v, want the reserved port", detail.Allocations)
	}
}

func TestGet_NotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.management.Get(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrTenantNotFound) {
		t.Errorf("expected ErrTenantNotFound, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	lapsing := h.force(t, h.admit(t, "E1", "acme"), domain.EventProvisionSucceeded)

	annual := testRequest("E2", "globex")
	annual.BillingFrequency = "annual"
	res, err := h.intake.HandleTrigger(ctx, annual)
	if err != nil {
		t.Fatalf("HandleTrigger(E2) failed: %v", err)
	}
	h.force(t, res.Tenant, domain.EventProvisionSucceeded)

	// acme's month ran out; globex's year has not.
	past := lapsing.SubscriptionEnd.Add(time.Hour)
	grace := 7 * 24 * time.Hour

	swept, err := h.management.SweepExpired(ctx, past, grace)
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if swept.Suspended != 1 || swept.Decommissioning != 0 {
		t.Fatalf("result = %+v, want 1 suspended", swept)
	}

	swept, err = h.management.SweepExpired(ctx, past.Add(grace+time.Hour), grace)
	if err != nil {
		t.Fatalf("second SweepExpired failed: %v", err)
	}
	if swept.Decommissioning != 1 {
		t.Errorf("Decommissioning = %d, want 1", swept.Decommissioning)
	}

	got, _ := h.repo.GetByName(ctx, "acme")
	if got.Status != domain.StatusDecommissioning {
		t.Errorf("acme Status = %q, want %q", got.Status, domain.StatusDecommissioning)
	}
	other, _ := h.repo.GetByName(ctx, "globex")
	if other.Status != domain.StatusActive {
		t.Errorf("globex Status = %q, want %q", other.Status, domain.StatusActive)
	}
	if len(h.queue.decommission) != 1 || h.queue.decommission[0] != lapsing.ID {
		t.Errorf("decommission jobs = %v, want [%s]", h.queue.decommission, lapsing.ID)
	}
}

func TestSweepExpired_KeepsCurrentSubscriptions(t *testing.T) {
	h := newHarness(t)
	tenant := h.force(t, h.admit(t, "E1", "acme"), domain.EventProvisionSucceeded)

	res, err := h.management.SweepExpired(context.Background(), tenant.SubscriptionStart.Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if res.Suspended != 0 {
		t.Errorf("Suspended = %d, want 0", res.Suspended)
	}
}

func TestLifecycle_NotificationFailureDoesNotAffectState(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("mail relay down")

	tenant := h.admit(t, "E1", "acme")
	got, err := h.lifecycle.Fire(context.Background(), tenant, domain.EventProvisionFailed, func(t *domain.Tenant) {
		t.FailedStep = "init_schema"
	})
	if err != nil {
		t.Fatalf("Fire should ignore notifier errors, got %v", err)
	}
	if got.Status != domain.StatusQuarantined {
		t.Errorf("Status = %q, want %q", got.Status, domain.StatusQuarantined)
	}
	if got.QuarantinedFrom != domain.StatusProvisioning {
		t.Errorf("QuarantinedFrom = %q, want %q", got.QuarantinedFrom, domain.StatusProvisioning)
	}
	if len(h.notifier.notices) != 1 || h.notifier.notices[0].Step != "init_schema" {
		t.Errorf("notices = %+v, want one for init_schema", h.notifier.notices)
	}
}

func TestLifecycle_StaleWrite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tenant := h.admit(t, "E1", "acme")
	h.force(t, tenant, domain.EventProvisionSucceeded)

	// tenant still believes it is provisioning.
	_, err := h.lifecycle.Fire(ctx, tenant, domain.EventProvisionFailed)
	if !errors.Is(err, domain.ErrStaleState) {
		t.Errorf("expected ErrStaleState, got %v", err)
	}
}
