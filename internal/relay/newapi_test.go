package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/relaydesk/relaydesk/internal/models"
)

func testStation(apiURL string) *models.RelayStation {
	return &models.RelayStation{
		ID:          "station-1",
		Name:        "Configured Name",
		APIURL:      apiURL,
		Adapter:     string(models.AdapterNewAPI),
		AuthMethod:  string(models.AuthBearerToken),
		SystemToken: "sk-system",
		Enabled:     true,
	}
}

func testClient(server *httptest.Server) *NewAPIClient {
	c := NewNewAPIClient()
	c.client = server.Client()
	return c
}

func TestGetStationInfo_Normalizes(t *testing.T) {
	var gotUser string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		gotUser = r.Header.Get("New-API-User")
		_, _ = w.Write([]byte(`{"data":{"system_name":"Remote","version":"v1.2","quota_per_unit":500000,"announcements":[{"content":"maintenance"}]}}`))
	}))
	defer server.Close()

	info, err := testClient(server).GetStationInfo(context.Background(), testStation(server.URL))
	if err != nil {
		t.Fatalf("get station info: %v", err)
	}
	if info.Name != "Remote" || info.Version != "v1.2" || info.QuotaPerUnit != 500000 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.Announcement != "maintenance" {
		t.Fatalf("expected announcement, got %q", info.Announcement)
	}
	if gotUser != "1" {
		t.Fatalf("expected default upstream user header, got %q", gotUser)
	}
}

func TestGetStationInfo_NameFallsBackToConfigured(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer server.Close()

	info, err := testClient(server).GetStationInfo(context.Background(), testStation(server.URL))
	if err != nil {
		t.Fatalf("get station info: %v", err)
	}
	if info.Name != "Configured Name" {
		t.Fatalf("expected configured name fallback, got %q", info.Name)
	}
}

func TestGetStationInfo_SurfacesHTTPStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := testClient(server).GetStationInfo(context.Background(), testStation(server.URL))
	if err == nil {
		t.Fatalf("expected error on non-2xx")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestGetStationInfo_MalformedTopLevelJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	if _, err := testClient(server).GetStationInfo(context.Background(), testStation(server.URL)); err == nil {
		t.Fatalf("expected error for malformed body")
	}
}

func TestGetUserInfo_ConvertsQuotaAndStatus(t *testing.T) {
	var gotAuth, gotUser string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/user/self" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotUser = r.Header.Get("New-API-User")
		_, _ = w.Write([]byte(`{"data":{"id":42,"username":"alice","email":"a@example.com","quota":1000000,"used_quota":250000,"request_count":7,"status":1}}`))
	}))
	defer server.Close()

	station := testStation(server.URL)
	station.UserID = "9"
	info, err := testClient(server).GetUserInfo(context.Background(), station, "")
	if err != nil {
		t.Fatalf("get user info: %v", err)
	}
	if gotAuth != "Bearer sk-system" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if gotUser != "9" {
		t.Fatalf("expected station user id fallback, got %q", gotUser)
	}
	if info.UserID != "42" || info.Username != "alice" {
		t.Fatalf("unexpected identity: %+v", info)
	}
	if info.BalanceRemaining == nil || *info.BalanceRemaining != 2.0 {
		t.Fatalf("expected balance 2.0, got %v", info.BalanceRemaining)
	}
	if info.AmountUsed == nil || *info.AmountUsed != 0.5 {
		t.Fatalf("expected used 0.5, got %v", info.AmountUsed)
	}
	if info.RequestCount == nil || *info.RequestCount != 7 {
		t.Fatalf("expected request count 7, got %v", info.RequestCount)
	}
	if info.Status != "active" {
		t.Fatalf("expected active status, got %q", info.Status)
	}
}

func TestGetUserInfo_UnknownStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"id":1,"status":5}}`))
	}))
	defer server.Close()

	info, err := testClient(server).GetUserInfo(context.Background(), testStation(server.URL), "1")
	if err != nil {
		t.Fatalf("get user info: %v", err)
	}
	if info.Status != "unknown" {
		t.Fatalf("expected unknown status, got %q", info.Status)
	}
}

func TestGetLogs_DefaultsAndMessage(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"data":{"total":2,"items":[
			{"id":11,"created_at":1700000000,"type":2,"model_name":"claude-3","prompt_tokens":100,"completion_tokens":50,"quota":1234,"token_name":"t","use_time":3,"is_stream":true,"channel":5,"group":"g","other":"{\"first\":true}"},
			{"id":12,"type":9,"other":"{broken"}
		]}}`))
	}))
	defer server.Close()

	page, err := testClient(server).GetLogs(context.Background(), testStation(server.URL), 0, 0)
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	if !strings.Contains(gotQuery, "p=1") || !strings.Contains(gotQuery, "page_size=10") {
		t.Fatalf("expected default pagination, got %q", gotQuery)
	}
	if page.Page != 1 || page.PageSize != 10 || page.Total != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(page.Items))
	}

	first := page.Items[0]
	if first.Level != "api" || first.ModelName != "claude-3" {
		t.Fatalf("unexpected entry: %+v", first)
	}
	if first.Message != "API call - model: claude-3 | prompt: 100 | completion: 50 | cost: 1234" {
		t.Fatalf("unexpected message: %q", first.Message)
	}
	other, ok := first.Metadata["other"].(map[string]any)
	if !ok || other["first"] != true {
		t.Fatalf("expected parsed other field, got %v", first.Metadata["other"])
	}

	second := page.Items[1]
	if second.Level != "info" {
		t.Fatalf("expected unknown type to default to info, got %q", second.Level)
	}
	if second.Metadata["other"] != nil {
		t.Fatalf("expected nil other on parse failure, got %v", second.Metadata["other"])
	}
	if !strings.Contains(second.Message, "model: unknown") {
		t.Fatalf("expected unknown model in message, got %q", second.Message)
	}
}

func TestTestConnection_UnreachableIsNotAnError(t *testing.T) {
	client := NewNewAPIClient()
	station := testStation("http://127.0.0.1:1")

	result := client.TestConnection(context.Background(), station)
	if result.Success {
		t.Fatalf("expected failure for unreachable host")
	}
	if result.Message == "" {
		t.Fatalf("expected populated failure message")
	}
	if result.StatusCode != nil {
		t.Fatalf("expected absent status code, got %d", *result.StatusCode)
	}
}

func TestTestConnection_ResponseTimeUsesClientClock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := testClient(server)
	ticks := []time.Time{time.Unix(100, 0), time.Unix(100, 250_000_000)}
	client.now = func() time.Time {
		next := ticks[0]
		if len(ticks) > 1 {
			ticks = ticks[1:]
		}
		return next
	}

	result := client.TestConnection(context.Background(), testStation(server.URL))
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.ResponseTimeMS == nil || *result.ResponseTimeMS != 250 {
		t.Fatalf("expected response time 250ms from the injected clock, got %+v", result.ResponseTimeMS)
	}
}

func TestTestConnection_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	result := testClient(server).TestConnection(context.Background(), testStation(server.URL))
	if result.Success {
		t.Fatalf("expected failure for 502")
	}
	if result.StatusCode == nil || *result.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %v", result.StatusCode)
	}
	if result.Message != "HTTP 502" {
		t.Fatalf("unexpected message %q", result.Message)
	}
}

func TestListTokens_NormalizesExpiryAndStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/token/" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":{"items":[
			{"id":3,"name":"forever","key":"sk-a","user_id":42,"status":1,"expired_time":-1,"created_time":1700000000,"remain_quota":100,"used_quota":5,"group":"vip"},
			{"id":4,"name":"expiring","key":"sk-b","status":2,"expired_time":1800000000}
		]}}`))
	}))
	defer server.Close()

	tokens, err := testClient(server).ListTokens(context.Background(), testStation(server.URL), 0, 0)
	if err != nil {
		t.Fatalf("list tokens: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}

	forever := tokens[0]
	if forever.ID != "3" || forever.Token != "sk-a" || forever.UserID != "42" || !forever.Enabled {
		t.Fatalf("unexpected token: %+v", forever)
	}
	if forever.ExpiresAt != nil {
		t.Fatalf("expected nil expiry for -1 sentinel, got %d", *forever.ExpiresAt)
	}
	if forever.StationID != "station-1" {
		t.Fatalf("expected station id stamped, got %q", forever.StationID)
	}
	var meta map[string]any
	if errMeta := json.Unmarshal(forever.Metadata, &meta); errMeta != nil {
		t.Fatalf("metadata: %v", errMeta)
	}
	if meta["group"] != "vip" {
		t.Fatalf("expected group in metadata, got %v", meta["group"])
	}

	expiring := tokens[1]
	if expiring.Enabled {
		t.Fatalf("expected status 2 to be disabled")
	}
	if expiring.ExpiresAt == nil || *expiring.ExpiresAt != 1800000000 {
		t.Fatalf("expected expiry carried through, got %v", expiring.ExpiresAt)
	}
}

func TestCreateToken_AppliesDefaults(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/token/" {
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		if errDecode := json.Unmarshal(raw, &body); errDecode != nil {
			t.Fatalf("decode body: %v", errDecode)
		}
		_, _ = w.Write([]byte(`{"data":{"id":8,"name":"new","key":"sk-new","status":1,"expired_time":-1,"created_time":1700000001}}`))
	}))
	defer server.Close()

	token, err := testClient(server).CreateToken(context.Background(), testStation(server.URL), &CreateTokenRequest{Name: "new"})
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	if token.ID != "8" || token.Token != "sk-new" || !token.Enabled {
		t.Fatalf("unexpected token: %+v", token)
	}
	if body["remain_quota"] != float64(500000) || body["expired_time"] != float64(-1) {
		t.Fatalf("unexpected quota defaults: %v", body)
	}
	if body["unlimited_quota"] != true || body["model_limits_enabled"] != false {
		t.Fatalf("unexpected flag defaults: %v", body)
	}
	if body["group"] != "default" || body["model_limits"] != "" || body["allow_ips"] != "" {
		t.Fatalf("unexpected string defaults: %v", body)
	}
}

func TestUpdateToken_SendsOnlyPresentFields(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Fatalf("unexpected method %s", r.Method)
		}
		raw, _ := io.ReadAll(r.Body)
		if errDecode := json.Unmarshal(raw, &body); errDecode != nil {
			t.Fatalf("decode body: %v", errDecode)
		}
		_, _ = w.Write([]byte(`{"data":{"id":8,"name":"renamed","key":"sk","status":1}}`))
	}))
	defer server.Close()

	name := "renamed"
	token, err := testClient(server).UpdateToken(context.Background(), testStation(server.URL), "8", &UpdateTokenRequest{ID: 8, Name: &name})
	if err != nil {
		t.Fatalf("update token: %v", err)
	}
	if token.Name != "renamed" {
		t.Fatalf("unexpected token: %+v", token)
	}
	if len(body) != 2 {
		t.Fatalf("expected sparse body with id and name only, got %v", body)
	}
	if body["id"] != float64(8) || body["name"] != "renamed" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestDeleteToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/token/8" {
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	if err := testClient(server).DeleteToken(context.Background(), testStation(server.URL), "8"); err != nil {
		t.Fatalf("delete token: %v", err)
	}
}

func TestForDialect_TotalMapping(t *testing.T) {
	for _, dialect := range []models.StationAdapter{
		models.AdapterNewAPI,
		models.AdapterOneAPI,
		models.AdapterCustom,
		models.StationAdapter("something-else"),
	} {
		if ForDialect(dialect) == nil {
			t.Fatalf("expected adapter for dialect %q", dialect)
		}
	}
}
