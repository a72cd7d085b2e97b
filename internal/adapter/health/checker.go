// Package health probes tenant instances over HTTP.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/neomorfeo/tenantops/internal/domain"
	"github.com/neomorfeo/tenantops/internal/provision"
)

// Compile-time check: Checker implements provision.HealthChecker.
var _ provision.HealthChecker = (*Checker)(nil)

// Checker issues one GET against the loopback port of an instance.
type Checker struct {
	client *http.Client
	path   string
	host   string
}

// New returns a checker for path (e.g. "/healthz") with a per-probe timeout.
func New(path string, timeout time.Duration) *Checker {
	return &Checker{
		client: &http.Client{Timeout: timeout},
		path:   path,
		host:   "127.0.0.1",
	}
}

// Check succeeds on any 2xx answer. Every failure is transient; the caller
// owns the overall deadline.
func (c *Checker) Check(ctx context.Context, port int) error {
	url := fmt.Sprintf("http://%s:%d%s", c.host, port, c.path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.Transient("health probe", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Transient("health probe", fmt.Errorf("%s answered %d", url, resp.StatusCode))
	}
	return nil
}
