package domain

import "context"

// InstanceSpec describes how to start a tenant instance.
type InstanceSpec struct {
	Name          string
	Image         string
	Port          int
	ContainerPort int
	EnvFile       string
	DataDir       string
	DataTarget    string
	MemoryMB      int
	CPUs          float64
	Labels        map[string]string
}

// DisposableSpec describes a short-lived helper container with one bind mount.
type DisposableSpec struct {
	Image       string
	MountSource string
	MountTarget string
	Command     []string
}

// ContainerRuntime builds, starts, and stops tenant instances.
type ContainerRuntime interface {
	Build(ctx context.Context, contextDir, image string) error
	// Start runs the instance, or returns the id of the one already running.
	Start(ctx context.Context, spec InstanceSpec) (string, error)
	Exists(ctx context.Context, name string) (bool, error)
	Stop(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) error
	RemoveImage(ctx context.Context, image string) error
	RunDisposable(ctx context.Context, spec DisposableSpec) error
}

// Router publishes hostname to port mappings for the reverse proxy.
type Router interface {
	Register(ctx context.Context, route Route) error
	Remove(ctx context.Context, tenant string) error
}
