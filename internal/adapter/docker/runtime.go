// Package docker drives the docker CLI as the tenant container runtime.
package docker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/neomorfeo/tenantops/internal/adapter/shell"
	"github.com/neomorfeo/tenantops/internal/domain"
)

// Compile-time check: Runtime implements domain.ContainerRuntime.
var _ domain.ContainerRuntime = (*Runtime)(nil)

// Runtime runs tenant instances with the docker CLI.
type Runtime struct {
	runner shell.Runner
	binary string
}

// New returns a runtime that invokes binary ("docker" when empty) through runner.
func New(runner shell.Runner, binary string) *Runtime {
	if binary == "" {
		binary = "docker"
	}
	return &Runtime{runner: runner, binary: binary}
}

func (r *Runtime) Build(ctx context.Context, contextDir, image string) error {
	_, err := r.runner.Run(ctx, r.binary, "build", "--tag", image, contextDir)
	return err
}

// Start runs spec detached. An instance that already exists is started if
// needed and its id returned.
func (r *Runtime) Start(ctx context.Context, spec domain.InstanceSpec) (string, error) {
	id, running, err := r.inspect(ctx, spec.Name)
	switch {
	case err == nil && running:
		return id, nil
	case err == nil:
		if _, err := r.runner.Run(ctx, r.binary, "start", spec.Name); err != nil {
			return "", err
		}
		return id, nil
	case !errors.Is(err, domain.ErrInstanceNotFound):
		return "", err
	}

	return r.runner.Run(ctx, r.binary, runArgs(spec)...)
}

func runArgs(spec domain.InstanceSpec) []string {
	args := []string{
		"run", "--detach",
		"--name", spec.Name,
		"--restart", "unless-stopped",
		"--publish", fmt.Sprintf("127.0.0.1:%d:%d", spec.Port, spec.ContainerPort),
	}
	if spec.EnvFile != "" {
		args = append(args, "--env-file", spec.EnvFile)
	}
	if spec.DataDir != "" {
		args = append(args, "--volume", spec.DataDir+":"+spec.DataTarget)
	}
	if spec.MemoryMB > 0 {
		args = append(args, "--memory", strconv.Itoa(spec.MemoryMB)+"m")
	}
	if spec.CPUs > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(spec.CPUs, 'f', -1, 64))
	}

	keys := make([]string, 0, len(spec.Labels))
	for k := range spec.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--label", k+"="+spec.Labels[k])
	}

	return append(args, spec.Image)
}

func (r *Runtime) Exists(ctx context.Context, name string) (bool, error) {
	_, _, err := r.inspect(ctx, name)
	if errors.Is(err, domain.ErrInstanceNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *Runtime) Stop(ctx context.Context, name string) error {
	_, err := r.runner.Run(ctx, r.binary, "stop", name)
	return notFound(err)
}

func (r *Runtime) Remove(ctx context.Context, name string) error {
	_, err := r.runner.Run(ctx, r.binary, "rm", "--force", "--volumes", name)
	return notFound(err)
}

func (r *Runtime) RemoveImage(ctx context.Context, image string) error {
	_, err := r.runner.Run(ctx, r.binary, "rmi", image)
	if errors.Is(notFound(err), domain.ErrInstanceNotFound) {
		return nil
	}
	return err
}

// RunDisposable runs a root helper container that is removed on exit.
func (r *Runtime) RunDisposable(ctx context.Context, spec domain.DisposableSpec) error {
	args := []string{
		"run", "--rm",
		"--user", "0:0",
		"--network", "none",
		"--volume", spec.MountSource + ":" + spec.MountTarget,
		spec.Image,
	}
	_, err := r.runner.Run(ctx, r.binary, append(args, spec.Command...)...)
	return err
}

// inspect returns the id of name and whether it is running.
func (r *Runtime) inspect(ctx context.Context, name string) (string, bool, error) {
	out, err := r.runner.Run(ctx, r.binary, "inspect", "--type", "container", "--format", "{{.Id}} {{.State.Running}}", name)
	if err != nil {
		return "", false, notFound(err)
	}

	id, running, ok := strings.Cut(out, " ")
	if !ok {
		return "", false, fmt.Errorf("unexpected inspect output %q", out)
	}
	return id, running == "true", nil
}

// notFound maps "no such ..." failures to domain.ErrInstanceNotFound.
func notFound(err error) error {
	var cmdErr *shell.CommandError
	if errors.As(err, &cmdErr) && strings.Contains(strings.ToLower(cmdErr.Stderr), "no such") {
		return fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, strings.TrimSpace(cmdErr.Stderr))
	}
	return err
}
