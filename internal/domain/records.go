package domain

import "time"

// Outcome is the recorded result of admitting a trigger event.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeRejected  Outcome = "rejected"
)

// Admission is the answer of the idempotency ledger for one delivery.
type Admission string

const (
	Admitted  Admission = "admitted"
	Duplicate Admission = "duplicate"
)

// IdempotencyEntry is one append-only ledger row per distinct event id.
type IdempotencyEntry struct {
	EventID     string
	EventType   string
	Outcome     Outcome
	ProcessedAt time.Time
}

// PortAllocation binds a port to a tenant name until it is released.
type PortAllocation struct {
	Port        int
	TenantName  string
	AllocatedAt time.Time
	ReleasedAt  *time.Time
}

// AttemptOutcome is the result of one decommission strategy invocation.
type AttemptOutcome string

const (
	AttemptSucceeded AttemptOutcome = "succeeded"
	AttemptFailed    AttemptOutcome = "failed"
	AttemptSkipped   AttemptOutcome = "skipped"
)

// DecommissionAttempt is one row of the teardown audit trail.
type DecommissionAttempt struct {
	TenantID       string
	TenantName     string
	Strategy       string
	AttemptedAt    time.Time
	ItemsResolved  int
	ItemsRemaining int
	Outcome        AttemptOutcome
	Detail         string
}

// Notice is sent when a tenant enters or leaves quarantine.
type Notice struct {
	Tenant   Tenant
	Entered  bool
	Step     string
	Reason   string
	Attempts []DecommissionAttempt
}

// Route maps a public hostname to a tenant's local port.
type Route struct {
	Tenant string
	Host   string
	Port   int
}
