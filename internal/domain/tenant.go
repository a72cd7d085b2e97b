package domain

import (
	"slices"
	"time"
)

// Status represents the lifecycle state of a tenant.
type Status string

const (
	StatusProvisioning    Status = "provisioning"
	StatusActive          Status = "active"
	StatusSuspended       Status = "suspended"
	StatusDecommissioning Status = "decommissioning"
	StatusRemoved         Status = "removed"
	StatusQuarantined     Status = "quarantined"
)

// Statuses lists every lifecycle state in declaration order.
var Statuses = []Status{
	StatusProvisioning,
	StatusActive,
	StatusSuspended,
	StatusDecommissioning,
	StatusRemoved,
	StatusQuarantined,
}

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool { return slices.Contains(Statuses, s) }

// Event represents an action that triggers a state transition.
type Event string

const (
	EventProvisionSucceeded    Event = "provision_succeeded"
	EventProvisionFailed       Event = "provision_failed"
	EventAbort                 Event = "abort"
	EventSuspend               Event = "suspend"
	EventDecommission          Event = "decommission"
	EventDecommissionSucceeded Event = "decommission_succeeded"
	EventDecommissionFailed    Event = "decommission_failed"
	EventRetryProvisioning     Event = "retry_provisioning"
	EventForceDecommission     Event = "force_decommission"
)

// Transition defines a valid state change: an event moves a tenant from Src to Dst.
type Transition struct {
	Event Event
	Src   Status
	Dst   Status
}

// Transitions defines all valid state changes in the tenant lifecycle.
// This is domain knowledge consumed by the FSM adapter. Provisioning only
// leaves to active or quarantined; every teardown passes through
// decommissioning. EventAbort has no edge: the pipeline honors it at a
// stage boundary through provision_failed.
var Transitions = []Transition{
	{Event: EventProvisionSucceeded, Src: StatusProvisioning, Dst: StatusActive},
	{Event: EventProvisionFailed, Src: StatusProvisioning, Dst: StatusQuarantined},
	{Event: EventSuspend, Src: StatusActive, Dst: StatusSuspended},
	{Event: EventDecommission, Src: StatusActive, Dst: StatusDecommissioning},
	{Event: EventDecommission, Src: StatusSuspended, Dst: StatusDecommissioning},
	{Event: EventDecommissionSucceeded, Src: StatusDecommissioning, Dst: StatusRemoved},
	{Event: EventDecommissionFailed, Src: StatusDecommissioning, Dst: StatusQuarantined},
	{Event: EventRetryProvisioning, Src: StatusQuarantined, Dst: StatusProvisioning},
	{Event: EventForceDecommission, Src: StatusQuarantined, Dst: StatusDecommissioning},
}

// BillingFrequency is how often a subscription renews.
type BillingFrequency string

const (
	BillingMonthly BillingFrequency = "monthly"
	BillingAnnual  BillingFrequency = "annual"
)

// ResourceHandles are opaque references to what provisioning created for a tenant.
type ResourceHandles struct {
	StoragePath   string `json:"storage_path,omitempty"`
	SourceDir     string `json:"source_dir,omitempty"`
	SourceRev     string `json:"source_rev,omitempty"`
	EnvFile       string `json:"env_file,omitempty"`
	DatabasePath  string `json:"database_path,omitempty"`
	SchemaVersion int64  `json:"schema_version,omitempty"`
	Image         string `json:"image,omitempty"`
	Instance      string `json:"instance,omitempty"`
	ContainerID   string `json:"container_id,omitempty"`
	RouteHost     string `json:"route_host,omitempty"`
}

// Tenant is one isolated customer instance and its lifecycle record.
type Tenant struct {
	ID                string
	Name              string
	Organization      string
	AdminEmail        string
	Port              int
	PlanTier          int
	BillingFrequency  BillingFrequency
	SubscriptionStart time.Time
	SubscriptionEnd   time.Time
	Status            Status
	Handles           ResourceHandles

	// LastStage is the last provisioning stage that completed successfully.
	LastStage string
	// FailedStep names the stage or strategy that sent the tenant to quarantine.
	FailedStep    string
	FailureReason string
	// QuarantinedFrom is the state the tenant was in when it was quarantined.
	QuarantinedFrom Status
	// AbortRequested is honored by the pipeline at the next stage boundary.
	AbortRequested bool

	EventID          string
	PaymentReference string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewTenant creates a tenant in the initial "provisioning" state bound to the given port.
func NewTenant(id string, req ProvisionRequest, port int, now time.Time) Tenant {
	now = now.UTC()
	return Tenant{
		ID:                id,
		Name:              req.TenantName,
		Organization:      req.OrganizationName,
		AdminEmail:        req.AdminIdentity.Email,
		Port:              port,
		PlanTier:          req.PlanTier,
		BillingFrequency:  BillingFrequency(req.BillingFrequency),
		SubscriptionStart: now,
		SubscriptionEnd:   SubscriptionEnd(now, BillingFrequency(req.BillingFrequency)),
		Status:            StatusProvisioning,
		EventID:           req.EventID,
		PaymentReference:  req.PaymentReference,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// SubscriptionEnd returns the end of the first subscription window.
func SubscriptionEnd(start time.Time, freq BillingFrequency) time.Time {
	if freq == BillingAnnual {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

// Holds reports whether the tenant still owns its name and port.
func (t Tenant) Holds() bool {
	return t.Status != StatusRemoved
}
