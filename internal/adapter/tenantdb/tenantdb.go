// Package tenantdb prepares the private SQLite database of a tenant instance.
package tenantdb

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	"golang.org/x/crypto/bcrypt"

	"github.com/neomorfeo/tenantops/internal/provision"

	_ "modernc.org/sqlite" // Register SQLite driver.
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	_ provision.SchemaMigrator    = (*Migrator)(nil)
	_ provision.IdentityRegistrar = (*Registrar)(nil)
)

func open(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening tenant database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// Migrator applies the instance schema with goose.
type Migrator struct{}

// Migrate applies pending migrations and returns the resulting version.
// A database already at the latest version is left untouched.
func (Migrator) Migrate(ctx context.Context, dbPath string) (int64, error) {
	db, err := open(dbPath)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return 0, fmt.Errorf("opening migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return 0, fmt.Errorf("creating migration provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return 0, fmt.Errorf("applying migrations: %w", err)
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

const timeFormat = "2006-01-02T15:04:05Z"

// Registrar creates the organization row and the first admin account.
type Registrar struct {
	// Cost is the bcrypt cost; zero means bcrypt.DefaultCost.
	Cost int
}

func (r Registrar) Register(ctx context.Context, dbPath string, id provision.Identity) error {
	cost := r.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	db, err := open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeFormat)

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO organization (id, name, max_users, created_at) VALUES (1, ?, ?, ?)`,
		id.Organization, id.MaxUsers, now,
	); err != nil {
		return fmt.Errorf("creating organization: %w", err)
	}

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE email = ?)`, id.Email,
	).Scan(&exists); err != nil {
		return fmt.Errorf("checking admin account: %w", err)
	}

	if !exists {
		hash, err := bcrypt.GenerateFromPassword([]byte(id.Password), cost)
		if err != nil {
			return fmt.Errorf("hashing admin password: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (email, password_hash, role, created_at) VALUES (?, ?, 'admin', ?)`,
			id.Email, string(hash), now,
		); err != nil {
			return fmt.Errorf("creating admin account: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing identity: %w", err)
	}
	return nil
}
