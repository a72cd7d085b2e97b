package domain

import "fmt"

// PlanProfile is the resource and quota profile of a plan tier.
type PlanProfile struct {
	Tier           int
	Name           string
	MaxUsers       int
	StorageQuotaMB int
	MemoryMB       int
	CPUs           float64
}

// Plans holds the known tier profiles, keyed by tier number.
var Plans = map[int]PlanProfile{
	1: {Tier: 1, Name: "starter", MaxUsers: 5, StorageQuotaMB: 1024, MemoryMB: 512, CPUs: 0.5},
	2: {Tier: 2, Name: "team", MaxUsers: 25, StorageQuotaMB: 5120, MemoryMB: 1024, CPUs: 1},
	3: {Tier: 3, Name: "business", MaxUsers: 250, StorageQuotaMB: 51200, MemoryMB: 4096, CPUs: 2},
}

// LookupPlan returns the profile for tier or a *ValidationError if the tier is unknown.
func LookupPlan(tier int) (PlanProfile, error) {
	p, ok := Plans[tier]
	if !ok {
		return PlanProfile{}, &ValidationError{
			Field:  "planTier",
			Reason: fmt.Sprintf("unknown plan tier %d", tier),
		}
	}
	return p, nil
}
