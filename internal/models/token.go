package models

import "gorm.io/datatypes"

// StationToken stores a user-facing credential issued by a relay station.
// Token rows are only reachable through their owning station; deleting the
// station cascades to its tokens.
type StationToken struct {
	ID        string `gorm:"type:text;primaryKey"`        // Opaque unique identifier.
	StationID string `gorm:"type:text;not null;index"`    // Owning station id.
	Name      string `gorm:"type:text;not null"`          // Display name.
	Token     string `gorm:"type:text;not null"`          // Credential string.
	UserID    string `gorm:"type:text"`                   // Optional upstream user id.
	Enabled   bool   `gorm:"not null;default:true;index"` // Whether the token is usable.

	// ExpiresAt is nil for non-expiring tokens. The remote "-1 means never"
	// sentinel is normalized to nil before rows are written.
	ExpiresAt *int64 `gorm:""`

	Metadata datatypes.JSON `gorm:"type:jsonb"` // Remote fields not modeled explicitly.

	CreatedAt int64 `gorm:"not null"` // Creation time, epoch seconds.
}

// TableName keeps the legacy table name used by earlier releases.
func (StationToken) TableName() string { return "relay_station_tokens" }
