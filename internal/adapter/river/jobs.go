package river

import (
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// liveStates deduplicate tenant jobs while one is still pending or running.
// Completed jobs are left out so a retried tenant gets a fresh job.
var liveStates = []rivertype.JobState{
	rivertype.JobStateAvailable,
	rivertype.JobStatePending,
	rivertype.JobStateRetryable,
	rivertype.JobStateRunning,
	rivertype.JobStateScheduled,
}

// ProvisionJobArgs runs the provisioning pipeline for one tenant.
type ProvisionJobArgs struct {
	TenantID string `json:"tenant_id"`
}

func (ProvisionJobArgs) Kind() string { return "tenant.provision" }

func (ProvisionJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		UniqueOpts: river.UniqueOpts{ByArgs: true, ByState: liveStates},
	}
}

// DecommissionJobArgs runs the decommission orchestrator for one tenant.
type DecommissionJobArgs struct {
	TenantID string `json:"tenant_id"`
}

func (DecommissionJobArgs) Kind() string { return "tenant.decommission" }

func (DecommissionJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		UniqueOpts: river.UniqueOpts{ByArgs: true, ByState: liveStates},
	}
}

// NotifyJobArgs carries a quarantine notice. It holds a snapshot of the
// tenant and its attempt trail so delivery never reads the registry.
type NotifyJobArgs struct {
	Notice domain.Notice `json:"notice"`
}

func (NotifyJobArgs) Kind() string { return "tenant.notify" }

func (NotifyJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 5}
}

// ExpirySweepArgs triggers the subscription expiry sweep.
type ExpirySweepArgs struct{}

func (ExpirySweepArgs) Kind() string { return "tenant.expiry_sweep" }
