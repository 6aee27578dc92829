// Package admin wires the administrative HTTP surface: station and token
// management, remote station operations, and the provider switch endpoints.
package admin

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/relaydesk/relaydesk/internal/config"
	handlers "github.com/relaydesk/relaydesk/internal/http/api/admin/handlers"
	"github.com/relaydesk/relaydesk/internal/models"
	"github.com/relaydesk/relaydesk/internal/provider"
	"github.com/relaydesk/relaydesk/internal/ratelimit"
	"github.com/relaydesk/relaydesk/internal/security"
	"github.com/relaydesk/relaydesk/internal/station"
	"gorm.io/gorm"
)

// loginAttemptLimit caps login attempts per client address per window.
const loginAttemptLimit = 10

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig, store *station.Store, switcher *provider.Switcher, presets *provider.PresetStore, limiter ratelimit.Limiter) {
	if r == nil || db == nil {
		return
	}
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter()
	}

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/healthz", healthHandler.Healthz)

	adminGroup := r.Group("/v0/admin")

	authHandler := handlers.NewAuthHandler(db, jwtCfg)
	adminGroup.POST("/login", loginRateLimitMiddleware(limiter), authHandler.Login)

	authed := adminGroup.Group("")
	authed.Use(adminAuthMiddleware(db, jwtCfg))

	stationHandler := handlers.NewStationHandler(store)
	authed.POST("/stations", stationHandler.Create)
	authed.GET("/stations", stationHandler.List)
	authed.GET("/stations/:id", stationHandler.Get)
	authed.PUT("/stations/:id", stationHandler.Update)
	authed.DELETE("/stations/:id", stationHandler.Delete)
	authed.POST("/stations/:id/tokens", stationHandler.CreateToken)
	authed.GET("/stations/:id/tokens", stationHandler.ListTokens)
	authed.PUT("/stations/:id/tokens/:tokenId", stationHandler.UpdateToken)
	authed.DELETE("/stations/:id/tokens/:tokenId", stationHandler.DeleteToken)

	remoteHandler := handlers.NewRemoteHandler(store)
	authed.GET("/stations/:id/remote/info", remoteHandler.Info)
	authed.GET("/stations/:id/remote/user", remoteHandler.UserInfo)
	authed.GET("/stations/:id/remote/logs", remoteHandler.Logs)
	authed.POST("/stations/:id/remote/test", remoteHandler.Test)
	authed.GET("/stations/:id/remote/tokens", remoteHandler.ListTokens)
	authed.POST("/stations/:id/remote/tokens", remoteHandler.CreateToken)
	authed.PUT("/stations/:id/remote/tokens/:tokenId", remoteHandler.UpdateToken)
	authed.DELETE("/stations/:id/remote/tokens/:tokenId", remoteHandler.DeleteToken)

	providerHandler := handlers.NewProviderHandler(store, switcher, presets)
	authed.POST("/provider/switch", providerHandler.Switch)
	authed.POST("/provider/switch/station/:id", providerHandler.SwitchStation)
	authed.POST("/provider/switch/preset/:id", providerHandler.SwitchPreset)
	authed.POST("/provider/clear", providerHandler.Clear)
	authed.GET("/provider/current", providerHandler.Current)
	authed.GET("/provider/status", providerHandler.Status)
	authed.GET("/provider/presets", providerHandler.ListPresets)
	authed.POST("/provider/presets", providerHandler.CreatePreset)
	authed.PUT("/provider/presets/:id", providerHandler.UpdatePreset)
	authed.DELETE("/provider/presets/:id", providerHandler.DeletePreset)
}

// loginRateLimitMiddleware throttles login attempts per client address.
func loginRateLimitMiddleware(limiter ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, errAllow := limiter.Allow(c.Request.Context(), c.ClientIP(), loginAttemptLimit, time.Now())
		if errAllow != nil {
			// Limiter backend errors fail open.
			c.Next()
			return
		}
		if !result.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many login attempts"})
			return
		}
		c.Next()
	}
}

// adminAuthMiddleware validates admin JWTs and loads admin context.
func adminAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var admin models.Admin
		if errFind := db.WithContext(c.Request.Context()).First(&admin, claims.AdminID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
			return
		}
		if admin.Disabled {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin disabled"})
			return
		}

		c.Set("adminID", admin.ID)
		c.Set("adminUsername", admin.Username)
		c.Next()
	}
}
