package provision

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/neomorfeo/tenantops/internal/domain"
	"github.com/neomorfeo/tenantops/internal/retry"
)

// FetchTemplate checks out the application template into the tenant workspace.
type FetchTemplate struct {
	Fetcher    SourceFetcher
	Repository string
	Ref        string
	Timeout    time.Duration
}

func (s *FetchTemplate) Name() StageName { return StageFetchTemplate }

func (s *FetchTemplate) Run(ctx context.Context, run *Run) error {
	if err := os.MkdirAll(run.Workspace.Dir(), 0o750); err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}
	run.Tenant.Handles.StoragePath = run.Workspace.Dir()

	var rev string
	err := retry.WithTimeout(ctx, s.Timeout, "template fetch", func(ctx context.Context) error {
		var err error
		rev, err = s.Fetcher.Fetch(ctx, s.Repository, s.Ref, run.Workspace.SourceDir())
		return err
	})
	if err != nil {
		return err
	}

	run.Tenant.Handles.SourceDir = run.Workspace.SourceDir()
	run.Tenant.Handles.SourceRev = rev
	return nil
}

// Keys of the environment descriptor read back by later stages.
const (
	envAdminPassword = "ADMIN_PASSWORD"
	envSecretKey     = "SECRET_KEY"
)

// ContainerDataDir is where the tenant data directory is mounted inside the instance.
const ContainerDataDir = "/data"

// GenerateConfig writes the tier-specific environment descriptor into the
// build context. Credentials generated by an earlier run are kept.
type GenerateConfig struct {
	// Domain is the parent zone of tenant hostnames.
	Domain string
}

func (s *GenerateConfig) Name() StageName { return StageGenerateConfig }

func (s *GenerateConfig) Run(ctx context.Context, run *Run) error {
	path := run.Workspace.EnvFile()

	previous, err := godotenv.Read(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading existing descriptor: %w", err)
	}

	password, err := keepOrGenerate(previous, envAdminPassword)
	if err != nil {
		return err
	}
	secret, err := keepOrGenerate(previous, envSecretKey)
	if err != nil {
		return err
	}

	t := run.Tenant
	host := t.Name + "." + s.Domain
	env := map[string]string{
		"TENANT_NAME":       t.Name,
		"ORGANIZATION_NAME": t.Organization,
		"TIER":              strconv.Itoa(run.Plan.Tier),
		"PLAN":              run.Plan.Name,
		"BILLING_FREQUENCY": string(t.BillingFrequency),
		"SUBSCRIPTION_END":  t.SubscriptionEnd.UTC().Format(time.RFC3339),
		"MAX_USERS":         strconv.Itoa(run.Plan.MaxUsers),
		"STORAGE_QUOTA_MB":  strconv.Itoa(run.Plan.StorageQuotaMB),
		"ADMIN_EMAIL":       t.AdminEmail,
		envAdminPassword:    password,
		envSecretKey:        secret,
		"ROUTING_HOSTNAME":  host,
		"PORT":              strconv.Itoa(t.Port),
		"DATABASE_PATH":     ContainerDataDir + "/tenant.db",
	}

	if err := os.MkdirAll(run.Workspace.SourceDir(), 0o750); err != nil {
		return fmt.Errorf("creating build context: %w", err)
	}
	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("writing descriptor: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("restricting descriptor: %w", err)
	}

	run.Tenant.Handles.EnvFile = path
	run.Tenant.Handles.RouteHost = host
	slog.DebugContext(ctx, "environment descriptor written", "tenant", t.Name, "path", path)
	return nil
}

func keepOrGenerate(previous map[string]string, key string) (string, error) {
	if v := previous[key]; v != "" {
		return v, nil
	}
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating %s: %w", key, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// InitSchema creates or upgrades the tenant's private data store.
type InitSchema struct {
	Migrator SchemaMigrator
	Timeout  time.Duration
}

func (s *InitSchema) Name() StageName { return StageInitSchema }

func (s *InitSchema) Run(ctx context.Context, run *Run) error {
	if err := os.MkdirAll(run.Workspace.DataDir(), 0o750); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := run.Workspace.DatabasePath()
	var version int64
	err := retry.WithTimeout(ctx, s.Timeout, "schema migration", func(ctx context.Context) error {
		var err error
		version, err = s.Migrator.Migrate(ctx, dbPath)
		return err
	})
	if err != nil {
		return err
	}

	run.Tenant.Handles.DatabasePath = dbPath
	run.Tenant.Handles.SchemaVersion = version
	return nil
}

// RegisterIdentity creates the first administrator and the organization record.
type RegisterIdentity struct {
	Registrar IdentityRegistrar
	Timeout   time.Duration
}

func (s *RegisterIdentity) Name() StageName { return StageRegisterIdentity }

func (s *RegisterIdentity) Run(ctx context.Context, run *Run) error {
	env, err := godotenv.Read(run.Workspace.EnvFile())
	if err != nil {
		return fmt.Errorf("reading descriptor: %w", err)
	}

	id := Identity{
		Organization: run.Tenant.Organization,
		Email:        run.Tenant.AdminEmail,
		Password:     env[envAdminPassword],
		MaxUsers:     run.Plan.MaxUsers,
	}
	if id.Password == "" {
		return fmt.Errorf("descriptor has no %s", envAdminPassword)
	}

	return retry.WithTimeout(ctx, s.Timeout, "identity registration", func(ctx context.Context) error {
		return s.Registrar.Register(ctx, run.Workspace.DatabasePath(), id)
	})
}

// BuildAndStart builds the instance image and starts it on the tenant's port.
type BuildAndStart struct {
	Runtime       domain.ContainerRuntime
	ImagePrefix   string
	ContainerPort int
	Timeout       time.Duration
}

func (s *BuildAndStart) Name() StageName { return StageBuildAndStart }

// InstanceName is the runtime name of a tenant's instance.
func InstanceName(tenant string) string { return "tenant-" + tenant }

func (s *BuildAndStart) Run(ctx context.Context, run *Run) error {
	t := run.Tenant
	image := s.ImagePrefix + t.Name + ":latest"

	err := retry.WithTimeout(ctx, s.Timeout, "instance build", func(ctx context.Context) error {
		return s.Runtime.Build(ctx, run.Workspace.SourceDir(), image)
	})
	if err != nil {
		return err
	}
	run.Tenant.Handles.Image = image

	spec := domain.InstanceSpec{
		Name:          InstanceName(t.Name),
		Image:         image,
		Port:          t.Port,
		ContainerPort: s.ContainerPort,
		EnvFile:       run.Workspace.EnvFile(),
		DataDir:       run.Workspace.DataDir(),
		DataTarget:    ContainerDataDir,
		MemoryMB:      run.Plan.MemoryMB,
		CPUs:          run.Plan.CPUs,
		Labels: map[string]string{
			"tenantops.tenant": t.Name,
			"tenantops.id":     t.ID,
			"tenantops.tier":   strconv.Itoa(t.PlanTier),
		},
	}

	var id string
	err = retry.WithTimeout(ctx, s.Timeout, "instance start", func(ctx context.Context) error {
		var err error
		id, err = s.Runtime.Start(ctx, spec)
		return err
	})
	if err != nil {
		return err
	}

	run.Tenant.Handles.Instance = spec.Name
	run.Tenant.Handles.ContainerID = id
	return nil
}

// VerifyHealth polls the instance until it answers or the deadline passes,
// then publishes its routing entry.
type VerifyHealth struct {
	Checker  HealthChecker
	Router   domain.Router
	Interval time.Duration
	Deadline time.Duration
}

func (s *VerifyHealth) Name() StageName { return StageVerifyHealth }

func (s *VerifyHealth) Run(ctx context.Context, run *Run) error {
	t := run.Tenant

	deadline, cancel := context.WithTimeout(ctx, s.Deadline)
	defer cancel()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	var lastErr error
	for {
		lastErr = s.Checker.Check(deadline, t.Port)
		if lastErr == nil {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.Done():
			return fmt.Errorf("instance on port %d not healthy within %s: %v", t.Port, s.Deadline, lastErr)
		case <-ticker.C:
		}
	}

	route := domain.Route{Tenant: t.Name, Host: t.Handles.RouteHost, Port: t.Port}
	if err := s.Router.Register(ctx, route); err != nil {
		return fmt.Errorf("registering route: %w", err)
	}
	return nil
}
