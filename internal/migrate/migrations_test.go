package migrate_test

import (
	"context"
	"testing"

	"pmsim/internal/db"
	"pmsim/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if v, err := migrate.Version(ctx, conn); err != nil || v != 0 {
		t.Fatalf("fresh version = %d, %v", v, err)
	}
	for i := 0; i < 2; i++ {
		if err := migrate.Migrate(ctx, conn); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}
	all, err := migrate.Migrations()
	if err != nil || len(all) == 0 {
		t.Fatalf("migrations: %v", err)
	}
	v, err := migrate.Version(ctx, conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if want := all[len(all)-1].Version; v != want {
		t.Fatalf("version = %d, want %d", v, want)
	}
	for _, table := range []string{"players", "games", "sprints", "reviews", "ticket_templates", "event_catalog", "narrative_templates", "events"} {
		var n int
		if err := conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n); err != nil || n != 1 {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}
