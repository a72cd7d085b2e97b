package app_test

import (
	"context"
	"sync"
	"testing"

	"github.com/neomorfeo/tenantops/internal/adapter/fsm"
	"github.com/neomorfeo/tenantops/internal/adapter/sqlite"
	"github.com/neomorfeo/tenantops/internal/app"
	"github.com/neomorfeo/tenantops/internal/domain"
)

// --- Fakes ---

type fakeQueue struct {
	mu           sync.Mutex
	provision    []string
	decommission []string
	err          error
}

func (q *fakeQueue) EnqueueProvision(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.provision = append(q.provision, id)
	return nil
}

func (q *fakeQueue) EnqueueDecommission(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.decommission = append(q.decommission, id)
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []domain.Notice
	err     error
}

func (n *fakeNotifier) Notify(_ context.Context, notice domain.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.err
}

// --- Harness ---

type harness struct {
	store      *sqlite.Store
	repo       *sqlite.TenantRepository
	ledger     *sqlite.Ledger
	allocator  *sqlite.Allocator
	attempts   *sqlite.AttemptStore
	queue      *fakeQueue
	notifier   *fakeNotifier
	lifecycle  *app.Lifecycle
	intake     *app.IntakeService
	management *app.Management
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := &harness{
		store:     store,
		repo:      sqlite.NewTenantRepository(store),
		ledger:    sqlite.NewLedger(store),
		allocator: sqlite.NewAllocator(store, 9100, 9199),
		attempts:  sqlite.NewAttemptStore(store),
		queue:     &fakeQueue{},
		notifier:  &fakeNotifier{},
	}
	h.lifecycle = app.NewLifecycle(h.repo, fsm.New(), h.attempts, h.notifier)
	h.intake = app.NewIntakeService(store, h.ledger, h.allocator, h.repo, h.queue)
	h.management = app.NewManagement(store, h.repo, h.attempts, h.allocator, h.lifecycle, h.queue)
	return h
}

func testRequest(eventID, name string) domain.ProvisionRequest {
	return domain.ProvisionRequest{
		EventID:          eventID,
		EventType:        domain.EventTypePaymentConfirmed,
		TenantName:       name,
		OrganizationName: "Org " + name,
		AdminIdentity:    domain.AdminIdentity{Email: "admin@" + name + ".test"},
		PlanTier:         2,
		BillingFrequency: "monthly",
		PaymentReference: "pay-" + eventID,
	}
}

// admit runs intake for a fresh event and returns the created tenant.
func (h *harness) admit(t *testing.T, eventID, name string) domain.Tenant {
	t.Helper()
	res, err := h.intake.HandleTrigger(context.Background(), testRequest(eventID, name))
	if err != nil {
		t.Fatalf("HandleTrigger(%s) failed: %v", eventID, err)
	}
	if res.Admission != domain.Admitted {
		t.Fatalf("HandleTrigger(%s) = %q, want admitted", eventID, res.Admission)
	}
	return res.Tenant
}

// force moves a tenant along events without any side work.
func (h *harness) force(t *testing.T, tenant domain.Tenant, events ...domain.Event) domain.Tenant {
	t.Helper()
	for _, e := range events {
		next, err := h.lifecycle.Fire(context.Background(), tenant, e)
		if err != nil {
			t.Fatalf("Fire(%s) failed: %v", e, err)
		}
		tenant = next
	}
	return tenant
}
