// Package routing publishes tenant routes as dynamic configuration files
// watched by the reverse proxy (Traefik file provider format).
package routing

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Compile-time check: FileRouter implements domain.Router.
var _ domain.Router = (*FileRouter)(nil)

// FileRouter keeps one file per tenant in Dir.
type FileRouter struct {
	Dir string
	// EntryPoint is the proxy entry point the routers attach to.
	EntryPoint string
	// CertResolver obtains TLS certificates; empty disables TLS on the route.
	CertResolver string
}

type dynamicConfig struct {
	HTTP httpConfig `yaml:"http"`
}

type httpConfig struct {
	Routers  map[string]router  `yaml:"routers"`
	Services map[string]service `yaml:"services"`
}

type router struct {
	Rule        string     `yaml:"rule"`
	Service     string     `yaml:"service"`
	EntryPoints []string   `yaml:"entryPoints,omitempty"`
	TLS         *tlsConfig `yaml:"tls,omitempty"`
}

type tlsConfig struct {
	CertResolver string `yaml:"certResolver"`
}

type service struct {
	LoadBalancer loadBalancer `yaml:"loadBalancer"`
}

type loadBalancer struct {
	Servers []server `yaml:"servers"`
}

type server struct {
	URL string `yaml:"url"`
}

func (r *FileRouter) path(tenant string) string {
	return filepath.Join(r.Dir, "tenant-"+tenant+".yml")
}

// Register writes the route file. The proxy never sees a partial file.
func (r *FileRouter) Register(_ context.Context, route domain.Route) error {
	name := "tenant-" + route.Tenant
	rt := router{
		Rule:    fmt.Sprintf("Host(`%s`)", route.Host),
		Service: name,
	}
	if r.EntryPoint != "" {
		rt.EntryPoints = []string{r.EntryPoint}
	}
	if r.CertResolver != "" {
		rt.TLS = &tlsConfig{CertResolver: r.CertResolver}
	}

	cfg := dynamicConfig{HTTP: httpConfig{
		Routers: map[string]router{name: rt},
		Services: map[string]service{name: {LoadBalancer: loadBalancer{
			Servers: []server{{URL: fmt.Sprintf("http://127.0.0.1:%d", route.Port)}},
		}}},
	}}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding route: %w", err)
	}

	if err := os.MkdirAll(r.Dir, 0o750); err != nil {
		return fmt.Errorf("creating routing directory: %w", err)
	}

	tmp, err := os.CreateTemp(r.Dir, ".route-*")
	if err != nil {
		return fmt.Errorf("creating route file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing route file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing route file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("setting route file mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path(route.Tenant)); err != nil {
		return fmt.Errorf("publishing route: %w", err)
	}
	return nil
}

// Remove deletes the route file. Removing a missing route succeeds.
func (r *FileRouter) Remove(_ context.Context, tenant string) error {
	if err := os.Remove(r.path(tenant)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing route: %w", err)
	}
	return nil
}
