package models

import "gorm.io/datatypes"

// StationAdapter identifies the protocol dialect a relay station speaks.
type StationAdapter string

// Supported station dialects.
const (
	// AdapterNewAPI targets NewAPI-compatible backends.
	AdapterNewAPI StationAdapter = "newapi"
	// AdapterOneAPI targets OneAPI-compatible backends.
	AdapterOneAPI StationAdapter = "oneapi"
	// AdapterCustom marks a station with a non-standard backend.
	AdapterCustom StationAdapter = "custom"
)

// ParseStationAdapter normalizes a stored dialect string, defaulting unknown
// values to the NewAPI dialect.
func ParseStationAdapter(raw string) StationAdapter {
	switch StationAdapter(raw) {
	case AdapterNewAPI, AdapterOneAPI, AdapterCustom:
		return StationAdapter(raw)
	default:
		return AdapterNewAPI
	}
}

// AuthMethod identifies how a station authenticates administrative calls.
type AuthMethod string

// Supported station auth methods.
const (
	// AuthBearerToken sends the system token as an Authorization bearer.
	AuthBearerToken AuthMethod = "bearer_token"
	// AuthAPIKey sends the system token as an API key.
	AuthAPIKey AuthMethod = "api_key"
	// AuthCustom marks a station with non-standard authentication.
	AuthCustom AuthMethod = "custom"
)

// ParseAuthMethod normalizes a stored auth method string, defaulting unknown
// values to bearer token auth.
func ParseAuthMethod(raw string) AuthMethod {
	switch AuthMethod(raw) {
	case AuthBearerToken, AuthAPIKey, AuthCustom:
		return AuthMethod(raw)
	default:
		return AuthBearerToken
	}
}

// RelayStation stores a configured relay station endpoint.
type RelayStation struct {
	ID string `gorm:"type:text;primaryKey"` // Opaque unique identifier.

	Name        string `gorm:"type:text;not null"` // Display name.
	Description string `gorm:"type:text"`          // Optional description.
	APIURL      string `gorm:"type:text;not null"` // Base API URL.

	Adapter    string `gorm:"type:text;not null"` // Protocol dialect (StationAdapter).
	AuthMethod string `gorm:"type:text;not null"` // Auth method (AuthMethod).

	SystemToken string `gorm:"type:text;not null"` // Administrative credential.
	UserID      string `gorm:"type:text"`          // Optional upstream user id.

	AdapterConfig datatypes.JSON `gorm:"type:jsonb"` // Dialect-specific settings.

	Enabled bool `gorm:"not null;default:true"` // Whether the station is active.

	Tokens []StationToken `gorm:"foreignKey:StationID;constraint:OnDelete:CASCADE"` // Owned tokens.

	CreatedAt int64 `gorm:"not null"` // Creation time, epoch seconds.
	UpdatedAt int64 `gorm:"not null"` // Last update time, epoch seconds.
}

// TableName keeps the legacy table name used by earlier releases.
func (RelayStation) TableName() string { return "relay_stations" }
