// Package app boots the admin API server: configuration, database,
// stores, the provider switch coordinator, and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/db"
	adminapi "github.com/relaydesk/relaydesk/internal/http/api/admin"
	"github.com/relaydesk/relaydesk/internal/models"
	"github.com/relaydesk/relaydesk/internal/provider"
	"github.com/relaydesk/relaydesk/internal/ratelimit"
	"github.com/relaydesk/relaydesk/internal/security"
	"github.com/relaydesk/relaydesk/internal/station"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// EnvAdminUsername overrides the bootstrap admin username.
	EnvAdminUsername = "ADMIN_USERNAME"
	// EnvAdminPassword sets the bootstrap admin password.
	EnvAdminPassword = "ADMIN_PASSWORD"

	defaultAdminUsername = "admin"
	shutdownTimeout      = 10 * time.Second
)

// ConfigExists reports whether the config file is present.
func ConfigExists(configPath string) bool {
	info, err := os.Stat(configPath)
	return err == nil && !info.IsDir()
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the admin API server and blocks until ctx is cancelled
// or the listener fails.
func RunServer(ctx context.Context, cfg config.AppConfig, port int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	jwtCfg, _ := config.LoadJWTConfig(configPath)
	if strings.TrimSpace(jwtCfg.Secret) == "" {
		secret, errSecret := security.GenerateRandomString(32)
		if errSecret != nil {
			return fmt.Errorf("generate jwt secret: %w", errSecret)
		}
		jwtCfg.Secret = secret
		log.Warn("jwt secret not configured, using an ephemeral secret; sessions will not survive restarts")
	}

	if errAdmin := EnsureAdmin(conn); errAdmin != nil {
		return errAdmin
	}

	providerCfg, errProvider := config.LoadProviderConfig(configPath)
	if errProvider != nil {
		return errProvider
	}

	store := station.NewStore(conn)
	presets := provider.NewPresetStore(providerCfg.PresetsPath)
	switcher := provider.NewSwitcher(providerCfg.SettingsPath, store, presets, nil)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	adminapi.RegisterAdminRoutes(engine, conn, jwtCfg, store, switcher, presets, newLoginLimiter())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("admin server listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			return errShutdown
		}
		return nil
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}

// newLoginLimiter selects the login limiter backend. With REDIS_URL set the
// counter is shared across instances; otherwise it is process local.
func newLoginLimiter() ratelimit.Limiter {
	redisURL := strings.TrimSpace(os.Getenv("REDIS_URL"))
	if redisURL == "" {
		return ratelimit.NewMemoryLimiter()
	}
	opts, errParse := redis.ParseURL(redisURL)
	if errParse != nil {
		log.WithError(errParse).Warn("invalid REDIS_URL, falling back to in-memory login limiter")
		return ratelimit.NewMemoryLimiter()
	}
	return ratelimit.NewRedisLimiter(redis.NewClient(opts), "login")
}

// EnsureAdmin creates the bootstrap admin account when none exists. The
// credentials come from the environment; without a configured password a
// random one is generated and logged once.
func EnsureAdmin(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("open database: nil connection")
	}

	var count int64
	if errCount := conn.Model(&models.Admin{}).Count(&count).Error; errCount != nil {
		return fmt.Errorf("count admins: %w", errCount)
	}
	if count > 0 {
		return nil
	}

	username := strings.TrimSpace(os.Getenv(EnvAdminUsername))
	if username == "" {
		username = defaultAdminUsername
	}

	password := os.Getenv(EnvAdminPassword)
	generated := false
	if strings.TrimSpace(password) == "" {
		random, errRandom := security.GenerateRandomString(12)
		if errRandom != nil {
			return fmt.Errorf("generate admin password: %w", errRandom)
		}
		password = random
		generated = true
	}

	if errCreate := CreateAdmin(conn, username, password); errCreate != nil {
		return errCreate
	}
	if generated {
		log.Infof("created bootstrap admin %q with password %s", username, password)
	} else {
		log.Infof("created bootstrap admin %q", username)
	}
	return nil
}

// CreateAdmin creates an admin account with a bcrypt-hashed password.
func CreateAdmin(conn *gorm.DB, username, password string) error {
	if conn == nil {
		return fmt.Errorf("open database: nil connection")
	}

	hashed, errHash := security.HashPassword(password)
	if errHash != nil {
		return fmt.Errorf("hash password: %w", errHash)
	}

	now := time.Now().UTC()
	admin := models.Admin{
		Username:  username,
		Password:  hashed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if errCreate := conn.Create(&admin).Error; errCreate != nil {
		return fmt.Errorf("create admin: %w", errCreate)
	}
	return nil
}
