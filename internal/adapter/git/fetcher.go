// Package git checks out application templates with the git CLI.
package git

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/neomorfeo/tenantops/internal/adapter/shell"
	"github.com/neomorfeo/tenantops/internal/provision"
)

// Compile-time check: Fetcher implements provision.SourceFetcher.
var _ provision.SourceFetcher = (*Fetcher)(nil)

// commitPattern matches a full SHA-1 or SHA-256 object name.
var commitPattern = regexp.MustCompile(`^([0-9a-f]{40}|[0-9a-f]{64})$`)

// Fetcher makes shallow checkouts of one ref: a branch, a tag, or a full
// commit SHA.
type Fetcher struct {
	runner shell.Runner
}

func New(runner shell.Runner) *Fetcher {
	return &Fetcher{runner: runner}
}

// Fetch clones repository at ref into dir, or updates an existing checkout
// in place, and returns the checked out commit.
func (f *Fetcher) Fetch(ctx context.Context, repository, ref, dir string) (string, error) {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := f.clone(ctx, repository, ref, dir); err != nil {
			return "", err
		}
	case err != nil:
		return "", fmt.Errorf("inspecting checkout: %w", err)
	default:
		if err := f.update(ctx, repository, ref, dir); err != nil {
			return "", err
		}
	}

	rev, err := f.runner.Run(ctx, "git", "-C", dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolving checked out revision: %w", err)
	}
	return rev, nil
}

func (f *Fetcher) clone(ctx context.Context, repository, ref, dir string) error {
	// A clone interrupted by a crash leaves a partial directory behind.
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clearing partial checkout: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o750); err != nil {
		return fmt.Errorf("creating checkout parent: %w", err)
	}

	// clone --branch takes only branch and tag names; a commit is fetched.
	if commitPattern.MatchString(ref) {
		if _, err := f.runner.Run(ctx, "git", "init", "--quiet", dir); err != nil {
			return fmt.Errorf("initializing checkout: %w", err)
		}
		return f.update(ctx, repository, ref, dir)
	}

	args := []string{"clone", "--depth", "1"}
	if ref != "" {
		args = append(args, "--branch", ref)
	}
	if _, err := f.runner.Run(ctx, "git", append(args, repository, dir)...); err != nil {
		return fmt.Errorf("cloning %s: %w", repository, err)
	}
	return nil
}

// update fetches ref straight from repository, so a checkout without a
// configured remote still updates.
func (f *Fetcher) update(ctx context.Context, repository, ref, dir string) error {
	if ref == "" {
		ref = "HEAD"
	}
	if _, err := f.runner.Run(ctx, "git", "-C", dir, "fetch", "--depth", "1", repository, ref); err != nil {
		return fmt.Errorf("fetching %s: %w", ref, err)
	}
	// Files written into the checkout by later stages are untracked and kept.
	if _, err := f.runner.Run(ctx, "git", "-C", dir, "reset", "--hard", "FETCH_HEAD"); err != nil {
		return fmt.Errorf("resetting to %s: %w", ref, err)
	}
	return nil
}
