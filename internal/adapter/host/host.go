//go:build unix

// Package host inspects and reclaims tenant storage on the local machine.
package host

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/neomorfeo/tenantops/internal/adapter/shell"
	"github.com/neomorfeo/tenantops/internal/decommission"
	"github.com/neomorfeo/tenantops/internal/domain"
)

// Compile-time check: Host implements decommission.Host.
var _ decommission.Host = (*Host)(nil)

// lsattrBatch bounds the number of paths passed to one lsattr call.
const lsattrBatch = 256

// Host uses the filesystem directly and chattr, lsattr, sudo, and lsof
// through runner.
type Host struct {
	runner shell.Runner
	uid    int
	gid    int
}

func New(runner shell.Runner) *Host {
	return &Host{runner: runner, uid: os.Geteuid(), gid: os.Getegid()}
}

// Residuals walks path, the root included. Directories that cannot be read
// are reported without their children.
func (h *Host) Residuals(ctx context.Context, path string) ([]decommission.Residual, error) {
	if path == "" {
		return nil, nil
	}

	var out []decommission.Residual
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if p == path && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		out = append(out, h.residual(p, info))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", path, err)
	}
	return out, nil
}

func (h *Host) residual(path string, info fs.FileInfo) decommission.Residual {
	r := decommission.Residual{Path: path}
	if st, ok := info.Sys().(*syscall.Stat_t); ok && int(st.Uid) != h.uid {
		r.Foreign = true
	}

	need := fs.FileMode(0o200)
	if info.IsDir() {
		need = 0o300
	}
	r.Writable = !r.Foreign && info.Mode().Perm()&need == need
	return r
}

func (h *Host) RemoveAll(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		if errors.Is(err, syscall.EBUSY) {
			return domain.Transient("remove storage", err)
		}
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// RepairOwnership chowns foreign entries back and adds owner write
// permission. Entries that cannot be changed are skipped.
func (h *Host) RepairOwnership(_ context.Context, entries []decommission.Residual) (int, error) {
	var (
		changed int
		errs    []error
	)
	for _, e := range entries {
		info, err := os.Lstat(e.Path)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if e.Foreign {
			if err := os.Lchown(e.Path, h.uid, h.gid); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		if info.Mode()&fs.ModeSymlink == 0 {
			mode := info.Mode().Perm() | 0o200
			if info.IsDir() {
				mode |= 0o100
			}
			if err := os.Chmod(e.Path, mode); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		changed++
	}
	return changed, errors.Join(errs...)
}

// Attributed reports paths whose lsattr flags include immutable (i) or
// append-only (a). Only regular files and directories are read; lsattr
// rejects the whole call for any other entry. A host without lsattr has
// none. A failed batch does not stop the others.
func (h *Host) Attributed(ctx context.Context, paths []string) ([]string, error) {
	paths = attributable(paths)

	var (
		flagged []string
		errs    []error
	)
	for start := 0; start < len(paths); start += lsattrBatch {
		end := min(start+lsattrBatch, len(paths))

		args := append([]string{"-d", "--"}, paths[start:end]...)
		out, err := h.runner.Run(ctx, "lsattr", args...)
		if errors.Is(err, exec.ErrNotFound) {
			slog.DebugContext(ctx, "lsattr not available, assuming no attributes")
			return nil, nil
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("reading attributes: %w", err))
			continue
		}
		flagged = append(flagged, parseLsattr(out)...)
	}
	return flagged, errors.Join(errs...)
}

// attributable keeps the paths that are regular files or directories.
func attributable(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		info, err := os.Lstat(p)
		if err != nil {
			continue
		}
		if mode := info.Mode(); mode.IsRegular() || mode.IsDir() {
			out = append(out, p)
		}
	}
	return out
}

func parseLsattr(out string) []string {
	var flagged []string
	for _, line := range strings.Split(out, "\n") {
		flags, path, ok := strings.Cut(strings.TrimSpace(line), " ")
		if !ok {
			continue
		}
		if strings.ContainsAny(flags, "ia") {
			flagged = append(flagged, strings.TrimSpace(path))
		}
	}
	return flagged
}

func (h *Host) ClearAttributes(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	name, args := "chattr", append([]string{"-i", "-a", "--"}, paths...)
	if h.uid != 0 && h.ElevatedAvailable(ctx) {
		name, args = "sudo", append([]string{"-n", "chattr"}, args...)
	}
	if _, err := h.runner.Run(ctx, name, args...); err != nil {
		return fmt.Errorf("clearing attributes: %w", err)
	}
	return nil
}

func (h *Host) ElevatedAvailable(ctx context.Context) bool {
	_, err := h.runner.Run(ctx, "sudo", "-n", "true")
	return err == nil
}

func (h *Host) ElevatedRemove(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	if _, err := h.runner.Run(ctx, "sudo", "-n", "rm", "-rf", "--", path); err != nil {
		return fmt.Errorf("elevated removal of %s: %w", path, err)
	}
	return nil
}

// HoldingProcesses lists open files under path with lsof.
func (h *Host) HoldingProcesses(ctx context.Context, path string) ([]decommission.Process, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	out, err := h.runner.Run(ctx, "lsof", "-F", "pcLn", "+D", path)
	if err != nil {
		// lsof exits 1 without output when nothing is open.
		var cmdErr *shell.CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 && strings.TrimSpace(cmdErr.Stderr) == "" {
			return nil, nil
		}
		return nil, fmt.Errorf("listing open files: %w", err)
	}
	return parseLsof(out), nil
}

// parseLsof reads lsof field output: process sets (p, c, L) followed by
// one n line per open file.
func parseLsof(out string) []decommission.Process {
	var (
		procs []decommission.Process
		cur   decommission.Process
	)
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		field, value := line[0], line[1:]
		switch field {
		case 'p':
			pid, _ := strconv.Atoi(value)
			cur = decommission.Process{PID: pid}
		case 'c':
			cur.Command = value
		case 'L':
			cur.User = value
		case 'n':
			p := cur
			p.Path = value
			procs = append(procs, p)
		}
	}
	return procs
}
