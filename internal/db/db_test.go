package db

import (
	"path/filepath"
	"testing"

	"github.com/relaydesk/relaydesk/internal/models"
)

func TestOpenSelectsSQLiteForFileDSN(t *testing.T) {
	conn, err := Open("file:" + filepath.Join(t.TempDir(), "relaydesk-test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !IsSQLite(conn) {
		t.Fatalf("expected sqlite dialect, got %q", DialectName(conn))
	}
}

func TestOpenRejectsEmptyDSN(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := Open("file:" + filepath.Join(t.TempDir(), "relaydesk-test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	for i := 0; i < 2; i++ {
		if errMigrate := Migrate(conn); errMigrate != nil {
			t.Fatalf("migrate #%d: %v", i+1, errMigrate)
		}
	}

	migrator := conn.Migrator()
	for _, table := range []string{"admins", "relay_stations", "relay_station_tokens"} {
		if !migrator.HasTable(table) {
			t.Fatalf("expected table %s", table)
		}
	}
	if !migrator.HasColumn(&models.RelayStation{}, "user_id") {
		t.Fatal("expected relay_stations.user_id column")
	}
}

func TestMigrateAddsMissingUserIDColumn(t *testing.T) {
	conn, err := Open("file:" + filepath.Join(t.TempDir(), "relaydesk-test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// Simulate a pre-existing database created before the column shipped.
	if errCreate := conn.Exec(
		`CREATE TABLE relay_stations (id text PRIMARY KEY, name text, description text,
		 api_url text, adapter text, auth_method text, system_token text,
		 adapter_config text, enabled numeric, created_at integer, updated_at integer)`,
	).Error; errCreate != nil {
		t.Fatalf("create legacy table: %v", errCreate)
	}

	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	if !conn.Migrator().HasColumn(&models.RelayStation{}, "user_id") {
		t.Fatal("expected user_id column to be added")
	}
}
