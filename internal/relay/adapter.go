// Package relay normalizes the heterogeneous REST APIs of relay station
// backends behind one adapter contract. Remote payloads are treated as
// untrusted: top-level protocol violations are errors, missing optional
// fields are defaulted.
package relay

import (
	"context"

	"github.com/relaydesk/relaydesk/internal/models"
)

// StationInfo is the normalized station status/metadata view.
type StationInfo struct {
	Name         string         `json:"name"`
	Announcement string         `json:"announcement,omitempty"`
	APIURL       string         `json:"api_url"`
	Version      string         `json:"version,omitempty"`
	QuotaPerUnit int64          `json:"quota_per_unit,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// UserInfo is the normalized upstream account view. Balance fields are
// currency amounts derived from the raw quota unit.
type UserInfo struct {
	UserID           string         `json:"user_id"`
	Username         string         `json:"username,omitempty"`
	Email            string         `json:"email,omitempty"`
	BalanceRemaining *float64       `json:"balance_remaining,omitempty"`
	AmountUsed       *float64       `json:"amount_used,omitempty"`
	RequestCount     *int64         `json:"request_count,omitempty"`
	Status           string         `json:"status,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// LogEntry is one normalized relay usage log record.
type LogEntry struct {
	ID               string         `json:"id"`
	Timestamp        int64          `json:"timestamp"`
	Level            string         `json:"level"`
	Message          string         `json:"message"`
	UserID           string         `json:"user_id,omitempty"`
	RequestID        string         `json:"request_id,omitempty"`
	ModelName        string         `json:"model_name,omitempty"`
	PromptTokens     *int64         `json:"prompt_tokens,omitempty"`
	CompletionTokens *int64         `json:"completion_tokens,omitempty"`
	Quota            *int64         `json:"quota,omitempty"`
	TokenName        string         `json:"token_name,omitempty"`
	UseTime          *int64         `json:"use_time,omitempty"`
	IsStream         *bool          `json:"is_stream,omitempty"`
	Channel          *int64         `json:"channel,omitempty"`
	Group            string         `json:"group,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// LogPage is one page of normalized log entries.
type LogPage struct {
	Items    []LogEntry `json:"items"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
	Total    int64      `json:"total"`
}

// ConnectionTestResult reports the outcome of a station reachability probe.
// Transport failures are carried here as success=false, never as an error.
type ConnectionTestResult struct {
	Success        bool           `json:"success"`
	ResponseTimeMS *int64         `json:"response_time,omitempty"`
	Message        string         `json:"message"`
	StatusCode     *int           `json:"status_code,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

// CreateTokenRequest carries the fields for creating a remote token. Nil
// fields fall back to dialect defaults.
type CreateTokenRequest struct {
	Name               string  `json:"name"`
	RemainQuota        *int64  `json:"remain_quota"`
	ExpiredTime        *int64  `json:"expired_time"`
	UnlimitedQuota     *bool   `json:"unlimited_quota"`
	ModelLimitsEnabled *bool   `json:"model_limits_enabled"`
	ModelLimits        *string `json:"model_limits"`
	Group              *string `json:"group"`
	AllowIPs           *string `json:"allow_ips"`
}

// UpdateTokenRequest carries a sparse remote token update. Only non-nil
// fields are sent, plus the mandatory numeric id.
type UpdateTokenRequest struct {
	ID                 int64   `json:"id"`
	Name               *string `json:"name"`
	RemainQuota        *int64  `json:"remain_quota"`
	ExpiredTime        *int64  `json:"expired_time"`
	UnlimitedQuota     *bool   `json:"unlimited_quota"`
	ModelLimitsEnabled *bool   `json:"model_limits_enabled"`
	ModelLimits        *string `json:"model_limits"`
	Group              *string `json:"group"`
	AllowIPs           *string `json:"allow_ips"`
}

// Adapter is the capability contract every station dialect implements.
// Remote token operations act on the station's own token store, not the
// local database.
type Adapter interface {
	GetStationInfo(ctx context.Context, station *models.RelayStation) (*StationInfo, error)
	GetUserInfo(ctx context.Context, station *models.RelayStation, userID string) (*UserInfo, error)
	GetLogs(ctx context.Context, station *models.RelayStation, page, pageSize int) (*LogPage, error)
	TestConnection(ctx context.Context, station *models.RelayStation) *ConnectionTestResult

	ListTokens(ctx context.Context, station *models.RelayStation, page, size int) ([]models.StationToken, error)
	CreateToken(ctx context.Context, station *models.RelayStation, req *CreateTokenRequest) (*models.StationToken, error)
	UpdateToken(ctx context.Context, station *models.RelayStation, tokenID string, req *UpdateTokenRequest) (*models.StationToken, error)
	DeleteToken(ctx context.Context, station *models.RelayStation, tokenID string) error
}

// defaultAdapter serves every dialect until dedicated implementations
// exist. OneAPI backends are wire-compatible with NewAPI; custom dialects
// are not yet differentiated and degrade to the same client.
var defaultAdapter = NewNewAPIClient()

// ForDialect resolves the adapter for a station dialect. The mapping is
// total: unknown dialects fall back to the NewAPI client rather than
// failing.
func ForDialect(dialect models.StationAdapter) Adapter {
	switch dialect {
	case models.AdapterNewAPI, models.AdapterOneAPI, models.AdapterCustom:
		return defaultAdapter
	default:
		return defaultAdapter
	}
}
