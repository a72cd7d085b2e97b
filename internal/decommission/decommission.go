// Package decommission tears tenant instances down through an ordered list
// of escalating strategies and verifies what is left after each one.
package decommission

import (
	"context"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Target is what one teardown must reclaim.
type Target struct {
	Tenant   domain.Tenant
	Path     string
	Instance string
	Image    string
}

// AttemptResult is what a strategy reports about its own run. Whether it
// worked is decided by the inventory taken afterwards, not by the strategy.
type AttemptResult struct {
	Skipped bool
	Detail  string
}

// Strategy is one reclamation technique.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, target Target) (AttemptResult, error)
}

// Residual is one file or directory still present under a target path.
type Residual struct {
	Path string
	// Foreign is set when the entry belongs to another principal.
	Foreign bool
	// Writable is set when the current principal may modify the entry.
	Writable bool
}

// Process is an operating system process holding a file open.
type Process struct {
	PID     int
	Command string
	User    string
	Path    string
}

// Host is the local filesystem and process table.
type Host interface {
	// Residuals lists every entry under path. A missing path has none.
	Residuals(ctx context.Context, path string) ([]Residual, error)
	RemoveAll(ctx context.Context, path string) error
	// RepairOwnership takes back entries and restores write permission.
	// It returns how many entries it changed.
	RepairOwnership(ctx context.Context, entries []Residual) (int, error)
	// Attributed returns the paths carrying immutable or append-only
	// attributes. On error it still returns the paths it could read.
	Attributed(ctx context.Context, paths []string) ([]string, error)
	ClearAttributes(ctx context.Context, paths []string) error
	// ElevatedAvailable reports whether a passwordless elevated channel exists.
	ElevatedAvailable(ctx context.Context) bool
	ElevatedRemove(ctx context.Context, path string) error
	HoldingProcesses(ctx context.Context, path string) ([]Process, error)
}
