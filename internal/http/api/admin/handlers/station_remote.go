package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/relaydesk/relaydesk/internal/models"
	"github.com/relaydesk/relaydesk/internal/relay"
	"github.com/relaydesk/relaydesk/internal/station"
)

// RemoteHandler proxies operations against a station's own REST API through
// the dialect adapter. The station record is loaded first, then released;
// no store state is held across the network call.
type RemoteHandler struct {
	store *station.Store
}

// NewRemoteHandler constructs a RemoteHandler.
func NewRemoteHandler(store *station.Store) *RemoteHandler {
	return &RemoteHandler{store: store}
}

// loadStation resolves the station for the request or writes the error
// response and returns nil.
func (h *RemoteHandler) loadStation(c *gin.Context) *models.RelayStation {
	record, errGet := h.store.GetStation(c.Request.Context(), c.Param("id"))
	if errGet != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get station failed"})
		return nil
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "station not found"})
		return nil
	}
	return record
}

// Info fetches the station's status and metadata.
func (h *RemoteHandler) Info(c *gin.Context) {
	record := h.loadStation(c)
	if record == nil {
		return
	}

	info, errInfo := relay.ForDialect(models.ParseStationAdapter(record.Adapter)).GetStationInfo(c.Request.Context(), record)
	if errInfo != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": errInfo.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"info": info})
}

// UserInfo fetches the upstream account view, optionally for an explicit
// user id passed as a query parameter.
func (h *RemoteHandler) UserInfo(c *gin.Context) {
	record := h.loadStation(c)
	if record == nil {
		return
	}

	info, errInfo := relay.ForDialect(models.ParseStationAdapter(record.Adapter)).GetUserInfo(c.Request.Context(), record, c.Query("user_id"))
	if errInfo != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": errInfo.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": info})
}

// Logs fetches a page of the station's usage logs.
func (h *RemoteHandler) Logs(c *gin.Context) {
	record := h.loadStation(c)
	if record == nil {
		return
	}

	page, _ := strconv.Atoi(c.Query("page"))
	pageSize, _ := strconv.Atoi(c.Query("page_size"))

	logs, errLogs := relay.ForDialect(models.ParseStationAdapter(record.Adapter)).GetLogs(c.Request.Context(), record, page, pageSize)
	if errLogs != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": errLogs.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// Test probes station reachability. The probe result is always 200; failure
// is carried inside the result body.
func (h *RemoteHandler) Test(c *gin.Context) {
	record := h.loadStation(c)
	if record == nil {
		return
	}

	result := relay.ForDialect(models.ParseStationAdapter(record.Adapter)).TestConnection(c.Request.Context(), record)
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// ListTokens lists tokens held by the station itself.
func (h *RemoteHandler) ListTokens(c *gin.Context) {
	record := h.loadStation(c)
	if record == nil {
		return
	}

	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("size"))

	tokens, errList := relay.ForDialect(models.ParseStationAdapter(record.Adapter)).ListTokens(c.Request.Context(), record, page, size)
	if errList != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": errList.Error()})
		return
	}
	out := make([]tokenView, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, tokenToView(t))
	}
	c.JSON(http.StatusOK, gin.H{"tokens": out})
}

// CreateToken creates a token on the station's own token store.
func (h *RemoteHandler) CreateToken(c *gin.Context) {
	record := h.loadStation(c)
	if record == nil {
		return
	}

	var body relay.CreateTokenRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name"})
		return
	}

	created, errCreate := relay.ForDialect(models.ParseStationAdapter(record.Adapter)).CreateToken(c.Request.Context(), record, &body)
	if errCreate != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": errCreate.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tokenToView(*created)})
}

// UpdateToken applies a sparse update to a remote token.
func (h *RemoteHandler) UpdateToken(c *gin.Context) {
	record := h.loadStation(c)
	if record == nil {
		return
	}

	var body relay.UpdateTokenRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	updated, errUpdate := relay.ForDialect(models.ParseStationAdapter(record.Adapter)).UpdateToken(c.Request.Context(), record, c.Param("tokenId"), &body)
	if errUpdate != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": errUpdate.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tokenToView(*updated)})
}

// DeleteToken deletes a remote token by its station-side id.
func (h *RemoteHandler) DeleteToken(c *gin.Context) {
	record := h.loadStation(c)
	if record == nil {
		return
	}

	if errDelete := relay.ForDialect(models.ParseStationAdapter(record.Adapter)).DeleteToken(c.Request.Context(), record, c.Param("tokenId")); errDelete != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": errDelete.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
