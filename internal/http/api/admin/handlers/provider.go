package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/relaydesk/relaydesk/internal/models"
	"github.com/relaydesk/relaydesk/internal/provider"
	"github.com/relaydesk/relaydesk/internal/station"
)

// ProviderHandler exposes the provider switch coordinator and preset store.
type ProviderHandler struct {
	store    *station.Store
	switcher *provider.Switcher
	presets  *provider.PresetStore
}

// NewProviderHandler constructs a ProviderHandler.
func NewProviderHandler(store *station.Store, switcher *provider.Switcher, presets *provider.PresetStore) *ProviderHandler {
	return &ProviderHandler{store: store, switcher: switcher, presets: presets}
}

// switchStationRequest selects the credential applied when switching to a
// stored station. Without a token id the station's system token is used.
type switchStationRequest struct {
	TokenID string `json:"token_id"`
	Model   string `json:"model"`
}

// SwitchStation applies a stored station's credentials.
func (h *ProviderHandler) SwitchStation(c *gin.Context) {
	var body switchStationRequest
	if c.Request.ContentLength > 0 {
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	record, errGet := h.store.GetStation(c.Request.Context(), c.Param("id"))
	if errGet != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get station failed"})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "station not found"})
		return
	}

	credential := record.SystemToken
	if strings.TrimSpace(body.TokenID) != "" {
		token, errToken := h.store.GetToken(c.Request.Context(), body.TokenID)
		if errToken != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "get token failed"})
			return
		}
		if token == nil || token.StationID != record.ID {
			c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
			return
		}
		credential = token.Token
	}
	if strings.TrimSpace(credential) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "station has no credential"})
		return
	}

	cfg := provider.SwitchConfig{
		BaseURL: record.APIURL,
		Model:   strings.TrimSpace(body.Model),
	}
	if models.ParseAuthMethod(record.AuthMethod) == models.AuthAPIKey {
		cfg.APIKey = credential
	} else {
		cfg.AuthToken = credential
	}

	outcomes, errSwitch := h.switcher.Switch(c.Request.Context(), cfg)
	if errSwitch != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errSwitch.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "terminated": outcomes})
}

// SwitchPreset applies a stored preset's credentials.
func (h *ProviderHandler) SwitchPreset(c *gin.Context) {
	preset, errGet := h.presets.Get(c.Param("id"))
	if errGet != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get preset failed"})
		return
	}
	if preset == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "preset not found"})
		return
	}

	outcomes, errSwitch := h.switcher.Switch(c.Request.Context(), provider.SwitchConfig{
		BaseURL:   preset.BaseURL,
		AuthToken: preset.AuthToken,
		APIKey:    preset.APIKey,
		Model:     preset.Model,
	})
	if errSwitch != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errSwitch.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "terminated": outcomes})
}

// Switch applies an explicit credential configuration.
func (h *ProviderHandler) Switch(c *gin.Context) {
	var body provider.SwitchConfig
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	outcomes, errSwitch := h.switcher.Switch(c.Request.Context(), body)
	if errSwitch != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errSwitch.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "terminated": outcomes})
}

// Clear removes all managed env keys from the settings document.
func (h *ProviderHandler) Clear(c *gin.Context) {
	outcomes, errClear := h.switcher.Clear(c.Request.Context())
	if errClear != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errClear.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "terminated": outcomes})
}

// Current reports the managed env keys currently in effect.
func (h *ProviderHandler) Current(c *gin.Context) {
	current, errCurrent := h.switcher.Current()
	if errCurrent != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errCurrent.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": current})
}

// Status reports which provider the settings document points at and
// whether an override is applied.
func (h *ProviderHandler) Status(c *gin.Context) {
	current, errDetect := h.switcher.DetectCurrent(c.Request.Context())
	if errDetect != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errDetect.Error()})
		return
	}
	applied, errApplied := h.switcher.IsApplied()
	if errApplied != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errApplied.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"current": current, "applied": applied})
}

// ListPresets returns all stored presets.
func (h *ProviderHandler) ListPresets(c *gin.Context) {
	presets, errList := h.presets.List()
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list presets failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"presets": presets})
}

// CreatePreset stores a new preset.
func (h *ProviderHandler) CreatePreset(c *gin.Context) {
	var body provider.Preset
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name"})
		return
	}
	if strings.TrimSpace(body.BaseURL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing base_url"})
		return
	}

	created, errAdd := h.presets.Add(body)
	if errAdd != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errAdd.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"preset": created})
}

// UpdatePreset replaces a stored preset.
func (h *ProviderHandler) UpdatePreset(c *gin.Context) {
	var body provider.Preset
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	body.ID = c.Param("id")

	if errUpdate := h.presets.Update(body); errUpdate != nil {
		if errors.Is(errUpdate, provider.ErrPresetNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "preset not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update preset failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DeletePreset removes a stored preset.
func (h *ProviderHandler) DeletePreset(c *gin.Context) {
	if errDelete := h.presets.Delete(c.Param("id")); errDelete != nil {
		if errors.Is(errDelete, provider.ErrPresetNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "preset not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete preset failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
