package app

import "github.com/oklog/ulid/v2"

// newTenantID returns a lexically sortable identifier for a tenant record.
// Isolated here so the ID strategy can evolve independently.
func newTenantID() string {
	return ulid.Make().String()
}
