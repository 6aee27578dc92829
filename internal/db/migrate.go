package db

import (
	"fmt"

	"github.com/relaydesk/relaydesk/internal/models"
	"gorm.io/gorm"
)

// Migrate applies the schema idempotently. Earlier releases shipped the
// relay_stations table without the user_id column, so its addition is
// checked explicitly rather than relying on a swallowed ALTER failure.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.Admin{},
		&models.RelayStation{},
		&models.StationToken{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errLegacy := ensureStationUserIDColumn(conn); errLegacy != nil {
		return errLegacy
	}

	if errIndexes := ensureTokenIndexes(conn); errIndexes != nil {
		return errIndexes
	}

	return nil
}

// ensureStationUserIDColumn adds the legacy user_id column when a pre-existing
// database lacks it.
func ensureStationUserIDColumn(conn *gorm.DB) error {
	migrator := conn.Migrator()
	if migrator.HasColumn(&models.RelayStation{}, "user_id") {
		return nil
	}
	if errAdd := migrator.AddColumn(&models.RelayStation{}, "UserID"); errAdd != nil {
		return fmt.Errorf("db: add relay_stations.user_id: %w", errAdd)
	}
	return nil
}

// ensureTokenIndexes creates the token lookup indexes used by list paths.
func ensureTokenIndexes(conn *gorm.DB) error {
	if errStation := conn.Exec(
		`CREATE INDEX IF NOT EXISTS idx_station_tokens_station_id ON relay_station_tokens(station_id)`,
	).Error; errStation != nil {
		return fmt.Errorf("db: create station_id index: %w", errStation)
	}
	if errEnabled := conn.Exec(
		`CREATE INDEX IF NOT EXISTS idx_station_tokens_enabled ON relay_station_tokens(enabled)`,
	).Error; errEnabled != nil {
		return fmt.Errorf("db: create enabled index: %w", errEnabled)
	}
	return nil
}
