package tenantdb_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/neomorfeo/tenantops/internal/adapter/tenantdb"
	"github.com/neomorfeo/tenantops/internal/provision"
)

func TestMigrate_IsNoOpWhenCurrent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "tenant.db")

	first, err := tenantdb.Migrator{}.Migrate(ctx, path)
	if err != nil {
		t.Fatalf("first Migrate failed: %v", err)
	}
	if first != 2 {
		t.Errorf("version = %d, want 2", first)
	}

	second, err := tenantdb.Migrator{}.Migrate(ctx, path)
	if err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
	if second != first {
		t.Errorf("version changed from %d to %d on a current schema", first, second)
	}
}

func TestRegister_Idempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tenant.db")
	if _, err := (tenantdb.Migrator{}).Migrate(ctx, path); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	reg := tenantdb.Registrar{Cost: bcrypt.MinCost}
	id := provision.Identity{Organization: "Acme Corp", Email: "admin@acme.test", Password: "s3cret", MaxUsers: 25}

	for i := 0; i < 2; i++ {
		if err := reg.Register(ctx, path, id); err != nil {
			t.Fatalf("Register #%d failed: %v", i+1, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var users int
	var hash string
	if err := db.QueryRow(`SELECT COUNT(*), MAX(password_hash) FROM users`).Scan(&users, &hash); err != nil {
		t.Fatalf("counting users: %v", err)
	}
	if users != 1 {
		t.Errorf("users = %d, want 1", users)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")); err != nil {
		t.Errorf("stored hash does not match password: %v", err)
	}

	var org string
	var maxUsers int
	if err := db.QueryRow(`SELECT name, max_users FROM organization`).Scan(&org, &maxUsers); err != nil {
		t.Fatalf("reading organization: %v", err)
	}
	if org != "Acme Corp" || maxUsers != 25 {
		t.Errorf("organization = (%q, %d), want (Acme Corp, 25)", org, maxUsers)
	}
}
