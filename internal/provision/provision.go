// Package provision runs the ordered stages that turn an admitted tenant
// into a running, routed instance.
package provision

import (
	"context"
	"path/filepath"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// StageName identifies a pipeline stage. It is persisted as the tenant's
// last completed stage.
type StageName string

const (
	StageFetchTemplate    StageName = "fetch_template"
	StageGenerateConfig   StageName = "generate_config"
	StageInitSchema       StageName = "init_schema"
	StageRegisterIdentity StageName = "register_identity"
	StageBuildAndStart    StageName = "build_and_start"
	StageVerifyHealth     StageName = "verify_health"
)

// Stage is one idempotent step of the pipeline. Run may be called again
// after a crash or a transient failure and must converge.
type Stage interface {
	Name() StageName
	Run(ctx context.Context, run *Run) error
}

// Run is the state shared by the stages of one pipeline execution.
// Stages record what they create in Tenant.Handles.
type Run struct {
	Tenant    domain.Tenant
	Plan      domain.PlanProfile
	Workspace Workspace
}

// Workspace is the on-disk storage location of one tenant.
type Workspace struct {
	dir string
}

// NewWorkspace returns the workspace of tenant under root.
func NewWorkspace(root, tenant string) Workspace {
	return Workspace{dir: filepath.Join(root, "tenants", tenant)}
}

func (w Workspace) Dir() string          { return w.dir }
func (w Workspace) SourceDir() string    { return filepath.Join(w.dir, "src") }
func (w Workspace) EnvFile() string      { return filepath.Join(w.dir, "src", ".env") }
func (w Workspace) DataDir() string      { return filepath.Join(w.dir, "data") }
func (w Workspace) DatabasePath() string { return filepath.Join(w.dir, "data", "tenant.db") }

// SourceFetcher retrieves a versioned application source tree.
type SourceFetcher interface {
	// Fetch makes dir a checkout of ref and returns the resolved revision.
	Fetch(ctx context.Context, repository, ref, dir string) (string, error)
}

// SchemaMigrator brings a tenant data store to the current schema version.
type SchemaMigrator interface {
	Migrate(ctx context.Context, dbPath string) (int64, error)
}

// Identity is the first administrator and organization of an instance.
type Identity struct {
	Organization string
	Email        string
	Password     string
	MaxUsers     int
}

// IdentityRegistrar creates the initial administrative account.
type IdentityRegistrar interface {
	// Register is a no-op when the account already exists.
	Register(ctx context.Context, dbPath string, id Identity) error
}

// HealthChecker probes a running instance once.
type HealthChecker interface {
	Check(ctx context.Context, port int) error
}
