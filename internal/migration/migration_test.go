package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/smallbiznis/fintrack/pkg/db"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file %s", name)
		}
	}
	if len(ups) == 0 {
		t.Fatalf("expected migrations")
	}
	for version := range ups {
		if !downs[version] {
			t.Fatalf("missing down migration for %s", version)
		}
	}
}

func TestMigrateSqliteUsesModels(t *testing.T) {
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, table := range []string{"users", "sessions", "auth_links", "user_profiles", "categories", "payment_methods", "user_categories", "user_payment_methods"} {
		if !conn.Migrator().HasTable(table) {
			t.Fatalf("expected table %s", table)
		}
	}
	// idempotent
	if err := Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
