package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/neomorfeo/tenantops/internal/adapter/fsm"
	adapter "github.com/neomorfeo/tenantops/internal/adapter/http"
	"github.com/neomorfeo/tenantops/internal/adapter/sqlite"
	"github.com/neomorfeo/tenantops/internal/app"
	"github.com/neomorfeo/tenantops/internal/domain"
)

// memQueue records enqueued work.
type memQueue struct {
	mu           sync.Mutex
	provision    []string
	decommission []string
}

func (q *memQueue) EnqueueProvision(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.provision = append(q.provision, id)
	return nil
}

func (q *memQueue) EnqueueDecommission(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.decommission = append(q.decommission, id)
	return nil
}

func (q *memQueue) jobs() (provision, decommission []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.provision...), append([]string(nil), q.decommission...)
}

type testServer struct {
	*httptest.Server
	repo      *sqlite.TenantRepository
	lifecycle *app.Lifecycle
	queue     *memQueue
}

// newTestServer creates a full-stack httptest.Server with SQLite in-memory.
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	repo := sqlite.NewTenantRepository(store)
	attempts := sqlite.NewAttemptStore(store)
	allocator := sqlite.NewAllocator(store, 9100, 9199)
	queue := &memQueue{}
	lifecycle := app.NewLifecycle(repo, fsm.New(), attempts, nil)

	intake := app.NewIntakeService(store, sqlite.NewLedger(store), allocator, repo, queue)
	mgmt := app.NewManagement(store, repo, attempts, allocator, lifecycle, queue)

	router := chi.NewMux()
	api := humachi.New(router, huma.DefaultConfig("tenantops", "0.1.0"))
	adapter.Register(api, intake, mgmt)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, repo: repo, lifecycle: lifecycle, queue: queue}
}

// doRequest performs an HTTP request with context (avoids noctx linter).
func doRequest(t *testing.T, method, url, body string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, reader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}

	return resp
}

func eventBody(eventID, name string, tier int) string {
	return fmt.Sprintf(`{"eventId":%q,"eventType":"payment.confirmed","tenantName":%q,"organizationName":"Org %s",`+
		`"adminIdentity":{"email":"admin@%s.test"},"planTier":%d,"billingFrequency":"monthly","paymentReference":"pay-%s"}`,
		eventID, name, name, name, tier, eventID)
}

type eventResponse struct {
	Admission string                  `json:"admission"`
	Tenant    *adapter.TenantResponse `json:"tenant"`
}

// mustTrigger delivers an event and returns the created tenant.
func mustTrigger(t *testing.T, srv *testServer, eventID, name string) adapter.TenantResponse {
	t.Helper()

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/events", eventBody(eventID, name, 2))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("trigger: status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}

	var out eventResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode event response: %v", err)
	}
	if out.Tenant == nil {
		t.Fatal("admitted event returned no tenant")
	}
	return *out.Tenant
}

// fire moves a stored tenant along the given events.
func fire(t *testing.T, srv *testServer, id string, events ...domain.Event) {
	t.Helper()
	ctx := context.Background()

	for _, e := range events {
		tenant, err := srv.repo.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("loading tenant: %v", err)
		}
		if _, err := srv.lifecycle.Fire(ctx, tenant, e); err != nil {
			t.Fatalf("firing %s: %v", e, err)
		}
	}
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

// --- Events ---

func TestTriggerEvent_Admitted(t *testing.T) {
	srv := newTestServer(t)
	tenant := mustTrigger(t, srv, "E1", "acme")

	if tenant.Name != "acme" {
		t.Errorf("Name = %q, want %q", tenant.Name, "acme")
	}
	if tenant.Status != "provisioning" {
		t.Errorf("Status = %q, want %q", tenant.Status, "provisioning")
	}
	if tenant.Port != 9100 {
		t.Errorf("Port = %d, want 9100", tenant.Port)
	}
	if provision, _ := srv.queue.jobs(); len(provision) != 1 {
		t.Errorf("provision jobs = %d, want 1", len(provision))
	}
}

func TestTriggerEvent_Duplicate(t *testing.T) {
	srv := newTestServer(t)
	mustTrigger(t, srv, "E1", "acme")

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/events", eventBody("E1", "acme", 2))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	out := decode[eventResponse](t, resp)
	if out.Admission != "duplicate" || out.Tenant != nil {
		t.Errorf("response = %+v, want a bare duplicate", out)
	}
	if provision, _ := srv.queue.jobs(); len(provision) != 1 {
		t.Errorf("provision jobs = %d, want 1", len(provision))
	}
}

func TestTriggerEvent_UnknownTier(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/events", eventBody("E1", "acme", 9))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestTriggerEvent_InvalidBillingFrequency(t *testing.T) {
	srv := newTestServer(t)

	body := strings.Replace(eventBody("E1", "acme", 1), "monthly", "weekly", 1)
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/events", body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestTriggerEvent_NameConflict(t *testing.T) {
	srv := newTestServer(t)
	mustTrigger(t, srv, "E1", "acme")

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/events", eventBody("E2", "acme", 2))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
}

// --- Get ---

func TestGet(t *testing.T) {
	srv := newTestServer(t)
	created := mustTrigger(t, srv, "E1", "acme")

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/tenants/acme", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	detail := decode[adapter.TenantDetailResponse](t, resp)
	if detail.Tenant.ID != created.ID {
		t.Errorf("ID = %q, want %q", detail.Tenant.ID, created.ID)
	}
	if len(detail.Allocations) != 1 || detail.Allocations[0].Port != 9100 || detail.Allocations[0].ReleasedAt != "" {
		t.Errorf("allocations = %+v, want one live allocation of 9100", detail.Allocations)
	}
}

func TestGet_NotFound(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/tenants/nonexistent", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

// --- List ---

func TestList_FilterByStatus(t *testing.T) {
	srv := newTestServer(t)
	acme := mustTrigger(t, srv, "E1", "acme")
	mustTrigger(t, srv, "E2", "globex")
	fire(t, srv, acme.ID, domain.EventProvisionSucceeded)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/tenants?status=active", "")
	defer resp.Body.Close()

	tenants := decode[[]adapter.TenantResponse](t, resp)
	if len(tenants) != 1 {
		t.Fatalf("got %d tenants, want 1", len(tenants))
	}
	if tenants[0].Name != "acme" || tenants[0].Status != "active" {
		t.Errorf("tenant = %+v, want active acme", tenants[0])
	}
}

func TestList_InvalidStatus(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/tenants?status=bogus", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
}

// --- Commands ---

func TestSuspend(t *testing.T) {
	srv := newTestServer(t)
	acme := mustTrigger(t, srv, "E1", "acme")
	fire(t, srv, acme.ID, domain.EventProvisionSucceeded)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/tenants/acme/suspend", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if got := decode[adapter.TenantResponse](t, resp).Status; got != "suspended" {
		t.Errorf("Status = %q, want %q", got, "suspended")
	}
}

func TestSuspend_InvalidTransition(t *testing.T) {
	srv := newTestServer(t)
	mustTrigger(t, srv, "E1", "acme")

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/tenants/acme/suspend", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestDecommission_Active(t *testing.T) {
	srv := newTestServer(t)
	acme := mustTrigger(t, srv, "E1", "acme")
	fire(t, srv, acme.ID, domain.EventProvisionSucceeded)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/tenants/acme/decommission", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if got := decode[adapter.TenantResponse](t, resp).Status; got != "decommissioning" {
		t.Errorf("Status = %q, want %q", got, "decommissioning")
	}
	if _, jobs := srv.queue.jobs(); len(jobs) != 1 || jobs[0] != acme.ID {
		t.Errorf("decommission jobs = %q, want [%s]", jobs, acme.ID)
	}
}

func TestDecommission_QuarantinedNeedsForce(t *testing.T) {
	srv := newTestServer(t)
	acme := mustTrigger(t, srv, "E1", "acme")
	fire(t, srv, acme.ID, domain.EventProvisionFailed)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/tenants/acme/decommission", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("without force: status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/v1/tenants/acme/decommission?force=true", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("with force: status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if got := decode[adapter.TenantResponse](t, resp).Status; got != "decommissioning" {
		t.Errorf("Status = %q, want %q", got, "decommissioning")
	}
}

func TestRetryProvisioning(t *testing.T) {
	srv := newTestServer(t)
	acme := mustTrigger(t, srv, "E1", "acme")
	fire(t, srv, acme.ID, domain.EventProvisionFailed)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/tenants/acme/retry", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if got := decode[adapter.TenantResponse](t, resp).Status; got != "provisioning" {
		t.Errorf("Status = %q, want %q", got, "provisioning")
	}
	if provision, _ := srv.queue.jobs(); len(provision) != 2 {
		t.Errorf("provision jobs = %d, want 2", len(provision))
	}
}

func TestAbort(t *testing.T) {
	srv := newTestServer(t)
	mustTrigger(t, srv, "E1", "acme")

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/tenants/acme/abort", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if !decode[adapter.TenantResponse](t, resp).AbortRequested {
		t.Error("abort flag not reported")
	}
}
