// Package config loads tenantops settings from defaults, an optional YAML
// file, and TENANTOPS_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/neomorfeo/tenantops/internal/retry"
)

// EnvPrefix prefixes every environment override, e.g. TENANTOPS_HTTP_PORT
// for http.port.
const EnvPrefix = "TENANTOPS"

// Config is the complete service configuration.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Allocator AllocatorConfig `mapstructure:"allocator"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Template  TemplateConfig  `mapstructure:"template"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Health    HealthConfig    `mapstructure:"health"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Log       LogConfig       `mapstructure:"log"`
	River     RiverConfig     `mapstructure:"river"`
	Expiry    ExpiryConfig    `mapstructure:"expiry"`
}

// HTTPConfig controls the management API listener.
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig locates the orchestrator database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// AllocatorConfig bounds the port range handed to tenants.
type AllocatorConfig struct {
	PortBase int `mapstructure:"port_base"`
	PortMax  int `mapstructure:"port_max"`
}

// WorkspaceConfig holds the root under which tenant storage lives.
type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
}

// TemplateConfig names the application source every tenant is built from.
type TemplateConfig struct {
	Repository string `mapstructure:"repository"`
	// Ref is a branch, a tag, or a full commit SHA.
	Ref string `mapstructure:"ref"`
}

// RoutingConfig controls the reverse proxy entries.
type RoutingConfig struct {
	// Domain is the parent zone of tenant hostnames.
	Domain       string `mapstructure:"domain"`
	Dir          string `mapstructure:"dir"`
	EntryPoint   string `mapstructure:"entry_point"`
	CertResolver string `mapstructure:"cert_resolver"`
}

// RuntimeConfig selects the container runtime.
type RuntimeConfig struct {
	Binary        string `mapstructure:"binary"`
	HelperImage   string `mapstructure:"helper_image"`
	ImagePrefix   string `mapstructure:"image_prefix"`
	ContainerPort int    `mapstructure:"container_port"`
}

// TimeoutsConfig bounds each external call.
type TimeoutsConfig struct {
	Fetch    time.Duration `mapstructure:"fetch"`
	Migrate  time.Duration `mapstructure:"migrate"`
	Runtime  time.Duration `mapstructure:"runtime"`
	Registry time.Duration `mapstructure:"registry"`
	// Teardown bounds each decommission strategy attempt and inventory.
	Teardown time.Duration `mapstructure:"teardown"`
}

// RetryConfig bounds transient retries.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// Policy returns the retry policy described by c.
func (c RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     c.MaxAttempts,
		InitialInterval: c.InitialInterval,
		MaxInterval:     c.MaxInterval,
	}
}

// HealthConfig controls instance readiness probing.
type HealthConfig struct {
	Path     string        `mapstructure:"path"`
	Interval time.Duration `mapstructure:"interval"`
	Deadline time.Duration `mapstructure:"deadline"`
}

// NotifyConfig configures quarantine emails. An empty API key only logs.
type NotifyConfig struct {
	ResendAPIKey string   `mapstructure:"resend_api_key"`
	From         string   `mapstructure:"from"`
	To           []string `mapstructure:"to"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Format is json or text.
	Format string `mapstructure:"format"`
	// File enables a rotated copy of the log when set.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// RiverConfig tunes the job workers.
type RiverConfig struct {
	Workers int `mapstructure:"workers"`
}

// ExpiryConfig controls the subscription expiry sweep.
type ExpiryConfig struct {
	// Interval is the sweep period; zero disables the sweep.
	Interval time.Duration `mapstructure:"interval"`
	// Grace is how long a suspended tenant is kept before decommission.
	Grace time.Duration `mapstructure:"grace"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTP:      HTTPConfig{Port: 8080},
		Database:  DatabaseConfig{Path: "tenantops.db"},
		Allocator: AllocatorConfig{PortBase: 20000, PortMax: 20999},
		Workspace: WorkspaceConfig{Root: "/var/lib/tenantops"},
		Template:  TemplateConfig{Ref: "main"},
		Routing: RoutingConfig{
			Domain:     "localhost",
			Dir:        "/etc/traefik/dynamic",
			EntryPoint: "websecure",
		},
		Runtime: RuntimeConfig{
			Binary:        "docker",
			HelperImage:   "busybox:stable",
			ImagePrefix:   "tenantops/tenant",
			ContainerPort: 8080,
		},
		Timeouts: TimeoutsConfig{
			Fetch:    2 * time.Minute,
			Migrate:  time.Minute,
			Runtime:  10 * time.Minute,
			Registry: 30 * time.Second,
			Teardown: 2 * time.Minute,
		},
		Retry: RetryConfig{
			MaxAttempts:     retry.DefaultPolicy.MaxAttempts,
			InitialInterval: retry.DefaultPolicy.InitialInterval,
			MaxInterval:     retry.DefaultPolicy.MaxInterval,
		},
		Health: HealthConfig{
			Path:     "/healthz",
			Interval: 2 * time.Second,
			Deadline: 2 * time.Minute,
		},
		Notify: NotifyConfig{From: "tenantops@localhost", To: []string{}},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		River:  RiverConfig{Workers: 2},
		Expiry: ExpiryConfig{Interval: time.Hour, Grace: 7 * 24 * time.Hour},
	}
}

// SetDefaults registers every key of Default on v, so environment
// overrides apply even to keys absent from the config file.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("http.port", d.HTTP.Port)

	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("allocator.port_base", d.Allocator.PortBase)
	v.SetDefault("allocator.port_max", d.Allocator.PortMax)

	v.SetDefault("workspace.root", d.Workspace.Root)

	v.SetDefault("template.repository", d.Template.Repository)
	v.SetDefault("template.ref", d.Template.Ref)

	v.SetDefault("routing.domain", d.Routing.Domain)
	v.SetDefault("routing.dir", d.Routing.Dir)
	v.SetDefault("routing.entry_point", d.Routing.EntryPoint)
	v.SetDefault("routing.cert_resolver", d.Routing.CertResolver)

	v.SetDefault("runtime.binary", d.Runtime.Binary)
	v.SetDefault("runtime.helper_image", d.Runtime.HelperImage)
	v.SetDefault("runtime.image_prefix", d.Runtime.ImagePrefix)
	v.SetDefault("runtime.container_port", d.Runtime.ContainerPort)

	v.SetDefault("timeouts.fetch", d.Timeouts.Fetch)
	v.SetDefault("timeouts.migrate", d.Timeouts.Migrate)
	v.SetDefault("timeouts.runtime", d.Timeouts.Runtime)
	v.SetDefault("timeouts.registry", d.Timeouts.Registry)
	v.SetDefault("timeouts.teardown", d.Timeouts.Teardown)

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.initial_interval", d.Retry.InitialInterval)
	v.SetDefault("retry.max_interval", d.Retry.MaxInterval)

	v.SetDefault("health.path", d.Health.Path)
	v.SetDefault("health.interval", d.Health.Interval)
	v.SetDefault("health.deadline", d.Health.Deadline)

	v.SetDefault("notify.resend_api_key", d.Notify.ResendAPIKey)
	v.SetDefault("notify.from", d.Notify.From)
	v.SetDefault("notify.to", d.Notify.To)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)

	v.SetDefault("river.workers", d.River.Workers)

	v.SetDefault("expiry.interval", d.Expiry.Interval)
	v.SetDefault("expiry.grace", d.Expiry.Grace)
}

// Load reads the configuration. When file is empty, tenantops.yaml is looked
// up in the working directory and /etc/tenantops and may be absent. A file
// named explicitly must exist.
func Load(file string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("tenantops")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tenantops")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.HTTP.Port < 1 || c.HTTP.Port > 65535:
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	case c.Allocator.PortBase < 1 || c.Allocator.PortMax > 65535:
		return fmt.Errorf("allocator port range %d-%d out of range", c.Allocator.PortBase, c.Allocator.PortMax)
	case c.Allocator.PortBase > c.Allocator.PortMax:
		return fmt.Errorf("allocator.port_base %d above allocator.port_max %d", c.Allocator.PortBase, c.Allocator.PortMax)
	case c.Database.Path == "":
		return errors.New("database.path is required")
	case c.Workspace.Root == "":
		return errors.New("workspace.root is required")
	case c.Retry.MaxAttempts < 1:
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	case c.River.Workers < 1:
		return fmt.Errorf("river.workers must be at least 1, got %d", c.River.Workers)
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	return nil
}
