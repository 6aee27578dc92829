package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/relaydesk/relaydesk/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const (
	// quotaPerUnit converts raw NewAPI quota units to a currency amount.
	// The divisor is specific to the NewAPI dialect, not universal; other
	// dialects must define their own conversion.
	quotaPerUnit = 500000.0

	// userScopeHeader carries the effective upstream user id.
	userScopeHeader = "New-API-User"
	// defaultUpstreamUser is the protocol default when neither the call
	// nor the station configures an upstream user id.
	defaultUpstreamUser = "1"

	defaultLogPage     = 1
	defaultLogPageSize = 10

	// defaultTokenGroup labels tokens created without an explicit group.
	defaultTokenGroup = "default"

	// connectionTestTimeout bounds the reachability probe round trip.
	connectionTestTimeout = 10 * time.Second

	defaultRequestTimeout = 30 * time.Second
)

// NewAPIClient talks to NewAPI-compatible relay station backends. It is
// stateless with respect to stations and safe for concurrent use.
type NewAPIClient struct {
	client *http.Client
	now    func() time.Time
}

// NewNewAPIClient constructs a client with the default request timeout.
func NewNewAPIClient() *NewAPIClient {
	return &NewAPIClient{
		client: &http.Client{Timeout: defaultRequestTimeout},
		now:    time.Now,
	}
}

// effectiveUserID resolves the upstream user id: explicit argument, then the
// station's configured id, then the protocol default.
func effectiveUserID(station *models.RelayStation, userID string) string {
	if userID != "" {
		return userID
	}
	if station != nil && station.UserID != "" {
		return station.UserID
	}
	return defaultUpstreamUser
}

// GetStationInfo fetches /api/status and normalizes the result. A missing
// remote name falls back to the station's configured name.
func (c *NewAPIClient) GetStationInfo(ctx context.Context, station *models.RelayStation) (*StationInfo, error) {
	data, err := c.getJSON(ctx, station, station.APIURL+"/api/status", "", false)
	if err != nil {
		return nil, fmt.Errorf("relay: get station info: %w", err)
	}
	obj, ok := asObject(data["data"])
	if !ok {
		return nil, fmt.Errorf("relay: get station info: invalid response format")
	}

	info := &StationInfo{
		Name:         stringField(obj, "system_name"),
		APIURL:       station.APIURL,
		Version:      stringField(obj, "version"),
		Metadata:     map[string]any{"response": data["data"]},
		Announcement: firstAnnouncement(obj),
	}
	if info.Name == "" {
		info.Name = station.Name
	}
	if quota, ok := int64Field(obj, "quota_per_unit"); ok {
		info.QuotaPerUnit = quota
	}
	return info, nil
}

// firstAnnouncement extracts the content of the first announcement entry.
func firstAnnouncement(obj map[string]any) string {
	list, ok := obj["announcements"].([]any)
	if !ok || len(list) == 0 {
		return ""
	}
	first, ok := asObject(list[0])
	if !ok {
		return ""
	}
	return stringField(first, "content")
}

// GetUserInfo fetches /api/user/self for the effective upstream user and
// normalizes balances and status.
func (c *NewAPIClient) GetUserInfo(ctx context.Context, station *models.RelayStation, userID string) (*UserInfo, error) {
	actualUser := effectiveUserID(station, userID)
	data, err := c.getJSON(ctx, station, station.APIURL+"/api/user/self", actualUser, true)
	if err != nil {
		return nil, fmt.Errorf("relay: get user info: %w", err)
	}
	obj, ok := asObject(data["data"])
	if !ok {
		return nil, fmt.Errorf("relay: get user info: invalid response format")
	}

	info := &UserInfo{
		UserID:   userID,
		Username: stringField(obj, "username"),
		Email:    stringField(obj, "email"),
		Status:   userStatus(obj),
		Metadata: map[string]any{"response": data["data"]},
	}
	if id, ok := int64Field(obj, "id"); ok {
		info.UserID = strconv.FormatInt(id, 10)
	}
	if quota, ok := int64Field(obj, "quota"); ok {
		balance := float64(quota) / quotaPerUnit
		info.BalanceRemaining = &balance
	}
	if used, ok := int64Field(obj, "used_quota"); ok {
		amount := float64(used) / quotaPerUnit
		info.AmountUsed = &amount
	}
	if count, ok := int64Field(obj, "request_count"); ok {
		info.RequestCount = &count
	}
	return info, nil
}

// userStatus maps the numeric account status to a normalized label.
func userStatus(obj map[string]any) string {
	status, ok := int64Field(obj, "status")
	if !ok {
		return "unknown"
	}
	switch status {
	case 1:
		return "active"
	case 0:
		return "disabled"
	default:
		return "unknown"
	}
}

// GetLogs fetches one page of usage logs. Page defaults to 1 and page size
// to 10 when zero.
func (c *NewAPIClient) GetLogs(ctx context.Context, station *models.RelayStation, page, pageSize int) (*LogPage, error) {
	if page <= 0 {
		page = defaultLogPage
	}
	if pageSize <= 0 {
		pageSize = defaultLogPageSize
	}

	url := fmt.Sprintf(
		"%s/api/log/self?p=%d&page_size=%d&type=0&token_name=&model_name=&start_timestamp=0&end_timestamp=%d&group=",
		station.APIURL, page, pageSize, c.clock().Unix(),
	)
	data, err := c.getJSON(ctx, station, url, "", true)
	if err != nil {
		return nil, fmt.Errorf("relay: get logs: %w", err)
	}
	obj, ok := asObject(data["data"])
	if !ok {
		return nil, fmt.Errorf("relay: get logs: invalid response format")
	}

	items, _ := obj["items"].([]any)
	entries := make([]LogEntry, 0, len(items))
	for _, item := range items {
		logObj, _ := asObject(item)
		if logObj == nil {
			logObj = map[string]any{}
		}
		entries = append(entries, logEntryFromObject(logObj, item))
	}

	result := &LogPage{Items: entries, Page: page, PageSize: pageSize}
	if total, ok := int64Field(obj, "total"); ok {
		result.Total = total
	}
	return result, nil
}

// logEntryFromObject normalizes one raw log object. The nested "other"
// field is a JSON-encoded string; parse failures leave it nil rather than
// failing the entry.
func logEntryFromObject(obj map[string]any, raw any) LogEntry {
	var other any
	if encoded := stringField(obj, "other"); encoded != "" {
		var parsed any
		if errParse := json.Unmarshal([]byte(encoded), &parsed); errParse == nil {
			other = parsed
		}
	}

	entry := LogEntry{
		Level:     logLevel(obj),
		ModelName: stringField(obj, "model_name"),
		TokenName: stringField(obj, "token_name"),
		Group:     stringField(obj, "group"),
		Metadata:  map[string]any{"raw": raw, "other": other},
	}
	if id, ok := int64Field(obj, "id"); ok {
		entry.ID = strconv.FormatInt(id, 10)
		entry.RequestID = entry.ID
	}
	if created, ok := int64Field(obj, "created_at"); ok {
		entry.Timestamp = created
	}
	if userID, ok := int64Field(obj, "user_id"); ok {
		entry.UserID = strconv.FormatInt(userID, 10)
	}
	if v, ok := int64Field(obj, "prompt_tokens"); ok {
		entry.PromptTokens = &v
	}
	if v, ok := int64Field(obj, "completion_tokens"); ok {
		entry.CompletionTokens = &v
	}
	if v, ok := int64Field(obj, "quota"); ok {
		entry.Quota = &v
	}
	if v, ok := int64Field(obj, "use_time"); ok {
		entry.UseTime = &v
	}
	if v, ok := obj["is_stream"].(bool); ok {
		entry.IsStream = &v
	}
	if v, ok := int64Field(obj, "channel"); ok {
		entry.Channel = &v
	}

	model := entry.ModelName
	if model == "" {
		model = "unknown"
	}
	entry.Message = fmt.Sprintf(
		"API call - model: %s | prompt: %d | completion: %d | cost: %d",
		model, int64Value(entry.PromptTokens), int64Value(entry.CompletionTokens), int64Value(entry.Quota),
	)
	return entry
}

// logLevel maps the numeric log type to a normalized level label.
func logLevel(obj map[string]any) string {
	kind, _ := int64Field(obj, "type")
	switch kind {
	case 2:
		return "api"
	case 3:
		return "warn"
	case 4:
		return "error"
	default:
		return "info"
	}
}

// TestConnection probes /api/status with a bounded timeout. Transport
// failures produce a success=false result, never an error, so callers can
// render the outcome uniformly.
func (c *NewAPIClient) TestConnection(ctx context.Context, station *models.RelayStation) *ConnectionTestResult {
	probeCtx, cancel := context.WithTimeout(ctx, connectionTestTimeout)
	defer cancel()

	start := c.clock()
	req, errBuild := http.NewRequestWithContext(probeCtx, http.MethodGet, station.APIURL+"/api/status", nil)
	if errBuild != nil {
		return &ConnectionTestResult{Success: false, Message: fmt.Sprintf("Connection failed: %v", errBuild)}
	}
	req.Header.Set(userScopeHeader, effectiveUserID(station, ""))

	resp, errDo := c.httpClient().Do(req)
	if errDo != nil {
		return &ConnectionTestResult{Success: false, Message: fmt.Sprintf("Connection failed: %v", errDo)}
	}
	defer closeBody(resp)

	elapsed := c.clock().Sub(start).Milliseconds()
	statusCode := resp.StatusCode
	result := &ConnectionTestResult{
		ResponseTimeMS: &elapsed,
		StatusCode:     &statusCode,
	}
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		result.Success = true
		result.Message = "Connection successful"
	} else {
		result.Success = false
		result.Message = fmt.Sprintf("HTTP %d", statusCode)
	}
	return result
}

// ListTokens fetches one page of the station's own tokens.
func (c *NewAPIClient) ListTokens(ctx context.Context, station *models.RelayStation, page, size int) ([]models.StationToken, error) {
	if page <= 0 {
		page = defaultLogPage
	}
	if size <= 0 {
		size = defaultLogPageSize
	}

	url := fmt.Sprintf("%s/api/token/?p=%d&size=%d", station.APIURL, page, size)
	data, err := c.getJSON(ctx, station, url, "", true)
	if err != nil {
		return nil, fmt.Errorf("relay: list tokens: %w", err)
	}
	obj, ok := asObject(data["data"])
	if !ok {
		return nil, fmt.Errorf("relay: list tokens: invalid response format")
	}

	items, _ := obj["items"].([]any)
	tokens := make([]models.StationToken, 0, len(items))
	for _, item := range items {
		tokenObj, _ := asObject(item)
		if tokenObj == nil {
			tokenObj = map[string]any{}
		}
		tokens = append(tokens, remoteToken(station, tokenObj, item, ""))
	}
	return tokens, nil
}

// CreateToken creates a remote token, filling dialect defaults for omitted
// fields: finite quota 500000, never expiring, unlimited, no model or IP
// restrictions, default group.
func (c *NewAPIClient) CreateToken(ctx context.Context, station *models.RelayStation, req *CreateTokenRequest) (*models.StationToken, error) {
	if req == nil {
		return nil, fmt.Errorf("relay: create token: nil request")
	}

	body := map[string]any{
		"name":                 req.Name,
		"remain_quota":         int64OrDefault(req.RemainQuota, 500000),
		"expired_time":         int64OrDefault(req.ExpiredTime, -1),
		"unlimited_quota":      boolOrDefault(req.UnlimitedQuota, true),
		"model_limits_enabled": boolOrDefault(req.ModelLimitsEnabled, false),
		"model_limits":         stringOrDefault(req.ModelLimits, ""),
		"group":                stringOrDefault(req.Group, defaultTokenGroup),
		"allow_ips":            stringOrDefault(req.AllowIPs, ""),
	}

	data, err := c.sendJSON(ctx, station, http.MethodPost, station.APIURL+"/api/token/", body)
	if err != nil {
		return nil, fmt.Errorf("relay: create token: %w", err)
	}
	obj, ok := asObject(data["data"])
	if !ok {
		return nil, fmt.Errorf("relay: create token: invalid response format")
	}
	token := remoteToken(station, obj, data["data"], "")
	if token.CreatedAt == 0 {
		token.CreatedAt = c.clock().Unix()
	}
	return &token, nil
}

// UpdateToken sends a sparse PATCH-style update: only fields present in the
// request are included, plus the mandatory numeric id.
func (c *NewAPIClient) UpdateToken(ctx context.Context, station *models.RelayStation, tokenID string, req *UpdateTokenRequest) (*models.StationToken, error) {
	if req == nil {
		return nil, fmt.Errorf("relay: update token: nil request")
	}

	body := map[string]any{"id": req.ID}
	if req.Name != nil {
		body["name"] = *req.Name
	}
	if req.RemainQuota != nil {
		body["remain_quota"] = *req.RemainQuota
	}
	if req.ExpiredTime != nil {
		body["expired_time"] = *req.ExpiredTime
	}
	if req.UnlimitedQuota != nil {
		body["unlimited_quota"] = *req.UnlimitedQuota
	}
	if req.ModelLimitsEnabled != nil {
		body["model_limits_enabled"] = *req.ModelLimitsEnabled
	}
	if req.ModelLimits != nil {
		body["model_limits"] = *req.ModelLimits
	}
	if req.Group != nil {
		body["group"] = *req.Group
	}
	if req.AllowIPs != nil {
		body["allow_ips"] = *req.AllowIPs
	}

	data, err := c.sendJSON(ctx, station, http.MethodPut, station.APIURL+"/api/token/", body)
	if err != nil {
		return nil, fmt.Errorf("relay: update token: %w", err)
	}
	obj, ok := asObject(data["data"])
	if !ok {
		return nil, fmt.Errorf("relay: update token: invalid response format")
	}
	token := remoteToken(station, obj, data["data"], tokenID)
	return &token, nil
}

// DeleteToken removes a remote token by id.
func (c *NewAPIClient) DeleteToken(ctx context.Context, station *models.RelayStation, tokenID string) error {
	req, errBuild := http.NewRequestWithContext(ctx, http.MethodDelete, station.APIURL+"/api/token/"+tokenID, nil)
	if errBuild != nil {
		return fmt.Errorf("relay: delete token: %w", errBuild)
	}
	c.applyHeaders(req, station, "", true)

	resp, errDo := c.httpClient().Do(req)
	if errDo != nil {
		return fmt.Errorf("relay: delete token: %w", errDo)
	}
	defer closeBody(resp)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("relay: delete token: status %d", resp.StatusCode)
	}
	return nil
}

// remoteToken normalizes one raw remote token object. The remote "-1 means
// never" expiry sentinel becomes a nil expiry.
func remoteToken(station *models.RelayStation, obj map[string]any, raw any, fallbackID string) models.StationToken {
	token := models.StationToken{
		StationID: station.ID,
		Name:      stringField(obj, "name"),
		Token:     stringField(obj, "key"),
	}
	if id, ok := int64Field(obj, "id"); ok {
		token.ID = strconv.FormatInt(id, 10)
	} else {
		token.ID = fallbackID
	}
	if userID, ok := int64Field(obj, "user_id"); ok {
		token.UserID = strconv.FormatInt(userID, 10)
	}
	if status, ok := int64Field(obj, "status"); ok {
		token.Enabled = status == 1
	}
	if expires, ok := int64Field(obj, "expired_time"); ok && expires != -1 {
		token.ExpiresAt = &expires
	}
	if created, ok := int64Field(obj, "created_time"); ok {
		token.CreatedAt = created
	}

	meta := map[string]any{
		"raw":          raw,
		"used_quota":   obj["used_quota"],
		"remain_quota": obj["remain_quota"],
		"group":        obj["group"],
	}
	if encoded, errMarshal := json.Marshal(meta); errMarshal == nil {
		token.Metadata = datatypes.JSON(encoded)
	}
	return token
}

// getJSON issues an authenticated GET and decodes the top-level object.
func (c *NewAPIClient) getJSON(ctx context.Context, station *models.RelayStation, url, userID string, authed bool) (map[string]any, error) {
	req, errBuild := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if errBuild != nil {
		return nil, fmt.Errorf("build request: %w", errBuild)
	}
	c.applyHeaders(req, station, userID, authed)
	return c.do(req)
}

// sendJSON issues an authenticated request with a JSON body and decodes the
// top-level object.
func (c *NewAPIClient) sendJSON(ctx context.Context, station *models.RelayStation, method, url string, body map[string]any) (map[string]any, error) {
	payload, errMarshal := json.Marshal(body)
	if errMarshal != nil {
		return nil, fmt.Errorf("marshal request: %w", errMarshal)
	}
	req, errBuild := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if errBuild != nil {
		return nil, fmt.Errorf("build request: %w", errBuild)
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyHeaders(req, station, "", true)
	return c.do(req)
}

func (c *NewAPIClient) do(req *http.Request) (map[string]any, error) {
	resp, errDo := c.httpClient().Do(req)
	if errDo != nil {
		return nil, fmt.Errorf("request failed: %w", errDo)
	}
	defer closeBody(resp)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	raw, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return nil, fmt.Errorf("read response: %w", errRead)
	}
	var data map[string]any
	if errDecode := json.Unmarshal(raw, &data); errDecode != nil {
		return nil, fmt.Errorf("decode response: %w", errDecode)
	}
	return data, nil
}

// applyHeaders sets the user-scoping header and, when requested, the bearer
// credential for administrative calls.
func (c *NewAPIClient) applyHeaders(req *http.Request, station *models.RelayStation, userID string, authed bool) {
	req.Header.Set(userScopeHeader, effectiveUserID(station, userID))
	if authed {
		req.Header.Set("Authorization", "Bearer "+station.SystemToken)
	}
}

func (c *NewAPIClient) httpClient() *http.Client {
	if c != nil && c.client != nil {
		return c.client
	}
	return &http.Client{Timeout: defaultRequestTimeout}
}

func (c *NewAPIClient) clock() time.Time {
	if c != nil && c.now != nil {
		return c.now()
	}
	return time.Now()
}

func closeBody(resp *http.Response) {
	if errClose := resp.Body.Close(); errClose != nil {
		log.WithError(errClose).Warn("relay: close response body failed")
	}
}

// asObject narrows a decoded JSON value to an object.
func asObject(v any) (map[string]any, bool) {
	obj, ok := v.(map[string]any)
	return obj, ok
}

// stringField returns the string value of a key, or "" when absent or of
// another type.
func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// int64Field returns the integer value of a key. Decoded JSON numbers are
// float64; integral values convert losslessly at the magnitudes involved.
func int64Field(obj map[string]any, key string) (int64, bool) {
	switch v := obj[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
	}
	return 0, false
}

func int64Value(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func int64OrDefault(v *int64, fallback int64) int64 {
	if v == nil {
		return fallback
	}
	return *v
}

func boolOrDefault(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func stringOrDefault(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}
