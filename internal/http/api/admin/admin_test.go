package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/db"
	"github.com/relaydesk/relaydesk/internal/models"
	"github.com/relaydesk/relaydesk/internal/provider"
	"github.com/relaydesk/relaydesk/internal/security"
	"github.com/relaydesk/relaydesk/internal/station"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, errOpen := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	hash, errHash := security.HashPassword("secret123")
	if errHash != nil {
		t.Fatalf("hash password: %v", errHash)
	}
	if errCreate := conn.Create(&models.Admin{Username: "root", Password: hash}).Error; errCreate != nil {
		t.Fatalf("create admin: %v", errCreate)
	}

	jwtCfg := config.JWTConfig{Secret: "test-secret", Expiry: time.Hour}
	store := station.NewStore(conn)
	settingsPath := filepath.Join(t.TempDir(), "settings.json")
	presets := provider.NewPresetStore(filepath.Join(t.TempDir(), "presets.json"))
	switcher := provider.NewSwitcher(settingsPath, store, presets, nil)

	engine := gin.New()
	RegisterAdminRoutes(engine, conn, jwtCfg, store, switcher, presets, nil)
	return engine, conn
}

func doJSON(t *testing.T, engine *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, errMarshal := json.Marshal(body)
		if errMarshal != nil {
			t.Fatalf("marshal body: %v", errMarshal)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, engine *gin.Engine) string {
	t.Helper()
	rec := doJSON(t, engine, http.MethodPost, "/v0/admin/login", "", gin.H{
		"username": "root",
		"password": "secret123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode login response: %v", errDecode)
	}
	if resp.Token == "" {
		t.Fatal("expected a token")
	}
	return resp.Token
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	engine, _ := newTestRouter(t)

	rec := doJSON(t, engine, http.MethodPost, "/v0/admin/login", "", gin.H{
		"username": "root",
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddlewareBlocksUnauthenticated(t *testing.T) {
	engine, _ := newTestRouter(t)

	rec := doJSON(t, engine, http.MethodGet, "/v0/admin/stations", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	rec = doJSON(t, engine, http.MethodGet, "/v0/admin/stations", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestStationLifecycleOverHTTP(t *testing.T) {
	engine, _ := newTestRouter(t)
	token := login(t, engine)

	rec := doJSON(t, engine, http.MethodPost, "/v0/admin/stations", token, gin.H{
		"name":         "primary",
		"api_url":      "https://relay.example/",
		"adapter":      "newapi",
		"auth_method":  "bearer_token",
		"system_token": "sk-station",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Station struct {
			ID     string `json:"id"`
			APIURL string `json:"api_url"`
		} `json:"station"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &created); errDecode != nil {
		t.Fatalf("decode create response: %v", errDecode)
	}
	if created.Station.ID == "" {
		t.Fatal("expected generated station id")
	}
	if created.Station.APIURL != "https://relay.example" {
		t.Fatalf("expected trailing slash trimmed, got %q", created.Station.APIURL)
	}

	rec = doJSON(t, engine, http.MethodPut, "/v0/admin/stations/"+created.Station.ID, token, gin.H{
		"name": "renamed",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, engine, http.MethodGet, "/v0/admin/stations/"+created.Station.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var fetched struct {
		Station struct {
			Name        string `json:"name"`
			SystemToken string `json:"system_token"`
		} `json:"station"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &fetched); errDecode != nil {
		t.Fatalf("decode get response: %v", errDecode)
	}
	if fetched.Station.Name != "renamed" {
		t.Fatalf("name = %q, want renamed", fetched.Station.Name)
	}
	if fetched.Station.SystemToken != "sk-station" {
		t.Fatalf("system token = %q", fetched.Station.SystemToken)
	}

	rec = doJSON(t, engine, http.MethodDelete, "/v0/admin/stations/"+created.Station.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, engine, http.MethodGet, "/v0/admin/stations/"+created.Station.ID, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestUpdateStatusDistinguishesMissingFromStorageFailure(t *testing.T) {
	engine, conn := newTestRouter(t)
	token := login(t, engine)

	rec := doJSON(t, engine, http.MethodPut, "/v0/admin/stations/missing", token, gin.H{
		"name": "x",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing station status = %d, want 404", rec.Code)
	}

	if errDrop := conn.Exec(`DROP TABLE relay_stations`).Error; errDrop != nil {
		t.Fatalf("drop table: %v", errDrop)
	}
	rec = doJSON(t, engine, http.MethodPut, "/v0/admin/stations/missing", token, gin.H{
		"name": "x",
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("storage failure status = %d, want 500", rec.Code)
	}
}

func TestProviderSwitchOverHTTP(t *testing.T) {
	engine, _ := newTestRouter(t)
	token := login(t, engine)

	rec := doJSON(t, engine, http.MethodPost, "/v0/admin/stations", token, gin.H{
		"name":         "primary",
		"api_url":      "https://relay.example",
		"system_token": "sk-station",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create station status = %d", rec.Code)
	}
	var created struct {
		Station struct {
			ID string `json:"id"`
		} `json:"station"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &created); errDecode != nil {
		t.Fatalf("decode create response: %v", errDecode)
	}

	rec = doJSON(t, engine, http.MethodPost, "/v0/admin/provider/switch/station/"+created.Station.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("switch status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, engine, http.MethodGet, "/v0/admin/provider/status", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status status = %d", rec.Code)
	}
	var status struct {
		Current string `json:"current"`
		Applied bool   `json:"applied"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &status); errDecode != nil {
		t.Fatalf("decode status response: %v", errDecode)
	}
	if status.Current != created.Station.ID {
		t.Fatalf("current = %q, want station id", status.Current)
	}
	if !status.Applied {
		t.Fatal("expected override applied")
	}

	rec = doJSON(t, engine, http.MethodPost, "/v0/admin/provider/clear", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rec.Code)
	}
	rec = doJSON(t, engine, http.MethodGet, "/v0/admin/provider/status", token, nil)
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &status); errDecode != nil {
		t.Fatalf("decode status response: %v", errDecode)
	}
	if status.Applied || status.Current != "" {
		t.Fatalf("expected cleared state, got %+v", status)
	}
}
