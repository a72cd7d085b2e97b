package decommission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Strategy names, in escalation order.
const (
	NameGracefulStop      = "graceful_stop"
	NameOwnershipRepair   = "ownership_repair"
	NameAttributeClear    = "attribute_clear"
	NameIsolatedRuntime   = "isolated_runtime"
	NameElevatedPrivilege = "elevated_privilege"
	NameBusyDiagnosis     = "busy_diagnosis"
)

// Strategies returns the six strategies in escalation order.
func Strategies(runtime domain.ContainerRuntime, host Host, helperImage string) []Strategy {
	r := remover{runtime: runtime, host: host}
	return []Strategy{
		&GracefulStop{remover: r},
		&OwnershipRepair{remover: r},
		&AttributeClear{remover: r},
		&IsolatedRuntime{remover: r, HelperImage: helperImage},
		&ElevatedPrivilege{remover: r},
		&BusyDiagnosis{remover: r},
	}
}

// remover is the plain removal every strategy retries after its fix.
type remover struct {
	runtime domain.ContainerRuntime
	host    Host
}

func (r remover) removeInstance(ctx context.Context, t Target) error {
	if t.Instance == "" {
		return nil
	}
	exists, err := r.runtime.Exists(ctx, t.Instance)
	if err != nil {
		return fmt.Errorf("inspecting instance: %w", err)
	}
	if !exists {
		return nil
	}
	if err := r.runtime.Stop(ctx, t.Instance); err != nil && !errors.Is(err, domain.ErrInstanceNotFound) {
		return fmt.Errorf("stopping instance: %w", err)
	}
	if err := r.runtime.Remove(ctx, t.Instance); err != nil && !errors.Is(err, domain.ErrInstanceNotFound) {
		return fmt.Errorf("removing instance: %w", err)
	}
	return nil
}

func (r remover) removeAll(ctx context.Context, t Target) error {
	return errors.Join(
		r.removeInstance(ctx, t),
		r.host.RemoveAll(ctx, t.Path),
	)
}

// GracefulStop stops and removes the instance, its image, and its storage.
type GracefulStop struct{ remover }

func (s *GracefulStop) Name() string { return NameGracefulStop }

func (s *GracefulStop) Attempt(ctx context.Context, t Target) (AttemptResult, error) {
	if err := s.removeInstance(ctx, t); err != nil {
		return AttemptResult{}, err
	}
	if t.Image != "" {
		if err := s.runtime.RemoveImage(ctx, t.Image); err != nil {
			slog.WarnContext(ctx, "removing tenant image", "tenant", t.Tenant.Name, "image", t.Image, "error", err)
		}
	}
	return AttemptResult{}, s.host.RemoveAll(ctx, t.Path)
}

// OwnershipRepair takes back entries owned by another principal or missing
// write permission, then removes again.
type OwnershipRepair struct{ remover }

func (s *OwnershipRepair) Name() string { return NameOwnershipRepair }

func (s *OwnershipRepair) Attempt(ctx context.Context, t Target) (AttemptResult, error) {
	residuals, err := s.host.Residuals(ctx, t.Path)
	if err != nil {
		return AttemptResult{}, err
	}

	var blocked []Residual
	for _, r := range residuals {
		if r.Foreign || !r.Writable {
			blocked = append(blocked, r)
		}
	}
	if len(blocked) == 0 {
		return AttemptResult{Detail: "no ownership or permission obstacles"}, s.removeAll(ctx, t)
	}

	repaired, err := s.host.RepairOwnership(ctx, blocked)
	if err != nil {
		slog.WarnContext(ctx, "repairing ownership", "tenant", t.Tenant.Name, "error", err)
	}

	detail := fmt.Sprintf("repaired %d of %d blocked entries", repaired, len(blocked))
	return AttemptResult{Detail: detail}, s.removeAll(ctx, t)
}

// AttributeClear clears immutable and append-only attributes, then removes again.
type AttributeClear struct{ remover }

func (s *AttributeClear) Name() string { return NameAttributeClear }

func (s *AttributeClear) Attempt(ctx context.Context, t Target) (AttemptResult, error) {
	residuals, err := s.host.Residuals(ctx, t.Path)
	if err != nil {
		return AttemptResult{}, err
	}

	paths := make([]string, 0, len(residuals))
	for _, r := range residuals {
		paths = append(paths, r.Path)
	}

	flagged, err := s.host.Attributed(ctx, paths)
	if err != nil {
		slog.WarnContext(ctx, "reading attributes", "tenant", t.Tenant.Name, "error", err)
	}
	if len(flagged) > 0 {
		if err := s.host.ClearAttributes(ctx, flagged); err != nil {
			slog.WarnContext(ctx, "clearing attributes", "tenant", t.Tenant.Name, "error", err)
		}
	}

	return AttemptResult{Detail: fmt.Sprintf("%d entries carried blocking attributes", len(flagged))}, s.removeAll(ctx, t)
}

// reclaimMount is where the parent of the target is mounted in the helper container.
const reclaimMount = "/reclaim"

// IsolatedRuntime deletes the target from inside a disposable container
// that mounts its parent directory, regardless of which UID owns the files.
type IsolatedRuntime struct {
	remover
	HelperImage string
}

func (s *IsolatedRuntime) Name() string { return NameIsolatedRuntime }

func (s *IsolatedRuntime) Attempt(ctx context.Context, t Target) (AttemptResult, error) {
	if t.Path == "" || s.HelperImage == "" {
		return AttemptResult{Skipped: true, Detail: "no helper image or path"}, nil
	}

	parent, base := filepath.Split(filepath.Clean(t.Path))
	spec := domain.DisposableSpec{
		Image:       s.HelperImage,
		MountSource: filepath.Clean(parent),
		MountTarget: reclaimMount,
		Command:     []string{"rm", "-rf", reclaimMount + "/" + base},
	}
	if err := s.runtime.RunDisposable(ctx, spec); err != nil {
		return AttemptResult{}, err
	}

	// The helper only touches files; a stuck instance is retried here too.
	return AttemptResult{Detail: "removed from " + s.HelperImage}, s.removeAll(ctx, t)
}

// ElevatedPrivilege removes the target through a passwordless elevated
// channel when the host offers one.
type ElevatedPrivilege struct{ remover }

func (s *ElevatedPrivilege) Name() string { return NameElevatedPrivilege }

func (s *ElevatedPrivilege) Attempt(ctx context.Context, t Target) (AttemptResult, error) {
	if !s.host.ElevatedAvailable(ctx) {
		return AttemptResult{Skipped: true, Detail: "no passwordless elevated channel"}, nil
	}
	if err := s.host.ElevatedRemove(ctx, t.Path); err != nil {
		return AttemptResult{}, err
	}
	return AttemptResult{}, s.removeInstance(ctx, t)
}

// BusyDiagnosis logs the processes still holding target files open, then
// makes one final removal attempt.
type BusyDiagnosis struct{ remover }

func (s *BusyDiagnosis) Name() string { return NameBusyDiagnosis }

func (s *BusyDiagnosis) Attempt(ctx context.Context, t Target) (AttemptResult, error) {
	procs, err := s.host.HoldingProcesses(ctx, t.Path)
	if err != nil {
		slog.WarnContext(ctx, "listing processes holding tenant files", "tenant", t.Tenant.Name, "error", err)
	}

	holders := make([]string, 0, len(procs))
	for _, p := range procs {
		slog.WarnContext(ctx, "tenant file held open",
			"tenant", t.Tenant.Name,
			"pid", p.PID,
			"command", p.Command,
			"user", p.User,
			"path", p.Path,
		)
		holders = append(holders, fmt.Sprintf("%s[%d]", p.Command, p.PID))
	}

	detail := "no holding processes"
	if len(holders) > 0 {
		detail = "held by " + strings.Join(holders, ", ")
	}
	return AttemptResult{Detail: detail}, s.removeAll(ctx, t)
}
