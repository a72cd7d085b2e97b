package domain

import "context"

// TenantRepository defines the persistence contract for tenant records.
type TenantRepository interface {
	Create(ctx context.Context, tenant Tenant) error
	GetByID(ctx context.Context, id string) (Tenant, error)
	// GetByName returns the record currently holding name, or the most
	// recently removed one when none holds it.
	GetByName(ctx context.Context, name string) (Tenant, error)
	List(ctx context.Context, filter ListFilter) ([]Tenant, error)
	// CompareAndSwap writes every mutable field of tenant only if the stored
	// row is still in state expected. It returns ErrStaleState otherwise.
	// A write that keeps the state never clears a raised abort flag.
	CompareAndSwap(ctx context.Context, tenant Tenant, expected Status) error
	// RequestAbort raises the abort flag of a provisioning tenant.
	RequestAbort(ctx context.Context, id string) error
}

// ListFilter holds optional criteria for listing tenants.
type ListFilter struct {
	Status *Status
	Limit  int
	Offset int
}

// Ledger is the idempotency ledger. Entries are never mutated.
type Ledger interface {
	// Admit records eventID with outcome, or reports Duplicate if it was seen before.
	Admit(ctx context.Context, eventID, eventType string, outcome Outcome) (Admission, error)
	Get(ctx context.Context, eventID string) (IdempotencyEntry, error)
}

// PortAllocator hands out unique ports to tenant names.
type PortAllocator interface {
	Reserve(ctx context.Context, tenantName string) (PortAllocation, error)
	Release(ctx context.Context, tenantName string) error
	List(ctx context.Context, tenantName string) ([]PortAllocation, error)
}

// AttemptStore persists the decommission audit trail.
type AttemptStore interface {
	Record(ctx context.Context, attempt DecommissionAttempt) error
	ListByTenant(ctx context.Context, tenantID string) ([]DecommissionAttempt, error)
}

// Transactor runs fn inside one database transaction carried by ctx.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TransitionValidator checks lifecycle events against the state machine.
type TransitionValidator interface {
	Apply(ctx context.Context, current Status, event Event) (Status, error)
}

// Notifier delivers quarantine notices. Callers treat it as fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, notice Notice) error
}

// JobQueue schedules per-tenant background work.
type JobQueue interface {
	EnqueueProvision(ctx context.Context, tenantID string) error
	EnqueueDecommission(ctx context.Context, tenantID string) error
}
