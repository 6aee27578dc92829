package app

import (
	"path/filepath"
	"testing"

	"github.com/relaydesk/relaydesk/internal/db"
	"github.com/relaydesk/relaydesk/internal/models"
	"github.com/relaydesk/relaydesk/internal/security"
)

func TestEnsureAdmin_CreatesBootstrapAccount(t *testing.T) {
	t.Setenv(EnvAdminUsername, "operator")
	t.Setenv(EnvAdminPassword, "hunter22")

	dsn := "file:" + filepath.Join(t.TempDir(), "relaydesk-test.db")
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	if errEnsure := EnsureAdmin(conn); errEnsure != nil {
		t.Fatalf("EnsureAdmin: %v", errEnsure)
	}

	var admin models.Admin
	if errFind := conn.First(&admin).Error; errFind != nil {
		t.Fatalf("find admin: %v", errFind)
	}
	if admin.Username != "operator" {
		t.Fatalf("expected username %q, got %q", "operator", admin.Username)
	}
	if !security.CheckPassword(admin.Password, "hunter22") {
		t.Fatal("expected stored password hash to match")
	}

	// A second call must not create a duplicate account.
	if errEnsure := EnsureAdmin(conn); errEnsure != nil {
		t.Fatalf("EnsureAdmin again: %v", errEnsure)
	}
	var count int64
	if errCount := conn.Model(&models.Admin{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count admins: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected 1 admin, got %d", count)
	}
}
