package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/relaydesk/relaydesk/internal/models"
	"github.com/relaydesk/relaydesk/internal/station"
	"gorm.io/datatypes"
)

// StationHandler manages relay station and stored token endpoints.
type StationHandler struct {
	store *station.Store
}

// NewStationHandler constructs a StationHandler.
func NewStationHandler(store *station.Store) *StationHandler {
	return &StationHandler{store: store}
}

// stationView is the wire representation of a stored station.
type stationView struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	APIURL        string          `json:"api_url"`
	Adapter       string          `json:"adapter"`
	AuthMethod    string          `json:"auth_method"`
	SystemToken   string          `json:"system_token,omitempty"`
	UserID        string          `json:"user_id,omitempty"`
	AdapterConfig json.RawMessage `json:"adapter_config,omitempty"`
	Enabled       bool            `json:"enabled"`
	CreatedAt     int64           `json:"created_at"`
	UpdatedAt     int64           `json:"updated_at"`
}

func stationToView(s models.RelayStation) stationView {
	return stationView{
		ID:            s.ID,
		Name:          s.Name,
		Description:   s.Description,
		APIURL:        s.APIURL,
		Adapter:       s.Adapter,
		AuthMethod:    s.AuthMethod,
		SystemToken:   s.SystemToken,
		UserID:        s.UserID,
		AdapterConfig: json.RawMessage(s.AdapterConfig),
		Enabled:       s.Enabled,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

// createStationRequest defines the request body for station creation.
type createStationRequest struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	APIURL        string          `json:"api_url"`
	Adapter       string          `json:"adapter"`
	AuthMethod    string          `json:"auth_method"`
	SystemToken   string          `json:"system_token"`
	UserID        string          `json:"user_id"`
	AdapterConfig json.RawMessage `json:"adapter_config"`
	Enabled       *bool           `json:"enabled"`
}

// updateStationRequest captures optional fields for sparse updates.
type updateStationRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	APIURL      *string `json:"api_url"`
	SystemToken *string `json:"system_token"`
	UserID      *string `json:"user_id"`
	Enabled     *bool   `json:"enabled"`
}

// Create validates and inserts a relay station record.
func (h *StationHandler) Create(c *gin.Context) {
	var body createStationRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name"})
		return
	}
	if strings.TrimSpace(body.APIURL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing api_url"})
		return
	}

	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}

	record := models.RelayStation{
		ID:            strings.TrimSpace(body.ID),
		Name:          strings.TrimSpace(body.Name),
		Description:   body.Description,
		APIURL:        strings.TrimRight(strings.TrimSpace(body.APIURL), "/"),
		Adapter:       string(models.ParseStationAdapter(body.Adapter)),
		AuthMethod:    string(models.ParseAuthMethod(body.AuthMethod)),
		SystemToken:   body.SystemToken,
		UserID:        strings.TrimSpace(body.UserID),
		AdapterConfig: datatypes.JSON(body.AdapterConfig),
		Enabled:       enabled,
	}

	if errAdd := h.store.AddStation(c.Request.Context(), &record); errAdd != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create station failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"station": stationToView(record)})
}

// List returns all stations, newest first.
func (h *StationHandler) List(c *gin.Context) {
	stations, errList := h.store.ListStations(c.Request.Context())
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list stations failed"})
		return
	}
	out := make([]stationView, 0, len(stations))
	for _, s := range stations {
		out = append(out, stationToView(s))
	}
	c.JSON(http.StatusOK, gin.H{"stations": out})
}

// Get returns one station by id.
func (h *StationHandler) Get(c *gin.Context) {
	record, errGet := h.store.GetStation(c.Request.Context(), c.Param("id"))
	if errGet != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get station failed"})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "station not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"station": stationToView(*record)})
}

// Update applies a sparse patch to a station.
func (h *StationHandler) Update(c *gin.Context) {
	var body updateStationRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	patch := station.StationPatch{
		Name:        body.Name,
		Description: body.Description,
		APIURL:      body.APIURL,
		SystemToken: body.SystemToken,
		UserID:      body.UserID,
		Enabled:     body.Enabled,
	}
	if errUpdate := h.store.UpdateStation(c.Request.Context(), c.Param("id"), patch); errUpdate != nil {
		if errors.Is(errUpdate, station.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "station not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update station failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Delete removes a station and all of its stored tokens.
func (h *StationHandler) Delete(c *gin.Context) {
	if errDelete := h.store.DeleteStation(c.Request.Context(), c.Param("id")); errDelete != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete station failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// tokenView is the wire representation of a stored token.
type tokenView struct {
	ID        string          `json:"id"`
	StationID string          `json:"station_id"`
	Name      string          `json:"name"`
	Token     string          `json:"token"`
	UserID    string          `json:"user_id,omitempty"`
	Enabled   bool            `json:"enabled"`
	ExpiresAt *int64          `json:"expires_at,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt int64           `json:"created_at"`
}

func tokenToView(t models.StationToken) tokenView {
	return tokenView{
		ID:        t.ID,
		StationID: t.StationID,
		Name:      t.Name,
		Token:     t.Token,
		UserID:    t.UserID,
		Enabled:   t.Enabled,
		ExpiresAt: t.ExpiresAt,
		Metadata:  json.RawMessage(t.Metadata),
		CreatedAt: t.CreatedAt,
	}
}

// createTokenRequest defines the request body for stored token creation.
type createTokenRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Token     string          `json:"token"`
	UserID    string          `json:"user_id"`
	Enabled   *bool           `json:"enabled"`
	ExpiresAt *int64          `json:"expires_at"`
	Metadata  json.RawMessage `json:"metadata"`
}

// updateTokenRequest captures optional fields for sparse token updates.
type updateTokenRequest struct {
	Name    *string `json:"name"`
	Token   *string `json:"token"`
	UserID  *string `json:"user_id"`
	Enabled *bool   `json:"enabled"`
}

// CreateToken stores a token under a station.
func (h *StationHandler) CreateToken(c *gin.Context) {
	var body createTokenRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}

	owner, errGet := h.store.GetStation(c.Request.Context(), c.Param("id"))
	if errGet != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get station failed"})
		return
	}
	if owner == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "station not found"})
		return
	}

	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}

	record := models.StationToken{
		ID:        strings.TrimSpace(body.ID),
		StationID: owner.ID,
		Name:      strings.TrimSpace(body.Name),
		Token:     body.Token,
		UserID:    strings.TrimSpace(body.UserID),
		Enabled:   enabled,
		ExpiresAt: body.ExpiresAt,
		Metadata:  datatypes.JSON(body.Metadata),
	}

	if errAdd := h.store.AddToken(c.Request.Context(), &record); errAdd != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tokenToView(record)})
}

// ListTokens returns the stored tokens of a station.
func (h *StationHandler) ListTokens(c *gin.Context) {
	tokens, errList := h.store.ListTokens(c.Request.Context(), c.Param("id"))
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list tokens failed"})
		return
	}
	out := make([]tokenView, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, tokenToView(t))
	}
	c.JSON(http.StatusOK, gin.H{"tokens": out})
}

// UpdateToken applies a sparse patch to a stored token.
func (h *StationHandler) UpdateToken(c *gin.Context) {
	var body updateTokenRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	patch := station.TokenPatch{
		Name:    body.Name,
		Token:   body.Token,
		UserID:  body.UserID,
		Enabled: body.Enabled,
	}
	if errUpdate := h.store.UpdateToken(c.Request.Context(), c.Param("tokenId"), patch); errUpdate != nil {
		if errors.Is(errUpdate, station.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DeleteToken removes a stored token.
func (h *StationHandler) DeleteToken(c *gin.Context) {
	if errDelete := h.store.DeleteToken(c.Request.Context(), c.Param("tokenId")); errDelete != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
