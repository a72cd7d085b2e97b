// Package shell runs external command-line tools with a per-call timeout
// and classifies their failures.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// Exec runs commands on the local host.
type Exec struct {
	// Timeout bounds each call. Zero means no bound beyond ctx.
	Timeout time.Duration
	// Dir is the working directory; empty means the current one.
	Dir string
}

// CommandError is a command that exited unsuccessfully.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Command, e.ExitCode, msg)
}

// transientMarkers are stderr fragments of failures worth retrying.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"temporarily unavailable",
	"temporary failure",
	"could not resolve host",
	"tls handshake",
	"too many requests",
	"service unavailable",
	"resource busy",
	"text file busy",
}

// Run executes name with args and returns its trimmed stdout. Timeouts and
// network-flavored failures come back as *domain.TransientInfraError.
func (e Exec) Run(ctx context.Context, name string, args ...string) (string, error) {
	callCtx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(callCtx, name, args...)
	cmd.Dir = e.Dir
	// Children that keep the output pipes open must not outlive the call.
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	slog.DebugContext(ctx, "command finished",
		"command", name,
		"args", strings.Join(args, " "),
		"duration", time.Since(start),
		"error", err,
	)
	if err == nil {
		return strings.TrimSpace(stdout.String()), nil
	}

	op := name
	if len(args) > 0 {
		op = name + " " + args[0]
	}

	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return "", domain.Transient(op, fmt.Errorf("no result within %s: %w", e.Timeout, context.DeadlineExceeded))
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return "", fmt.Errorf("running %s: %w", name, err)
	}

	cmdErr := &CommandError{Command: op, ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}
	if IsTransientOutput(cmdErr.Stderr) {
		return "", domain.Transient(op, cmdErr)
	}
	return "", cmdErr
}

// IsTransientOutput reports whether stderr describes a retryable failure.
func IsTransientOutput(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, m := range transientMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
