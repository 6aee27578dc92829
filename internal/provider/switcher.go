package provider

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/relaydesk/relaydesk/internal/models"
	log "github.com/sirupsen/logrus"
)

// Detection results for DetectCurrent when no stored record matches.
const (
	// DetectOfficial means the base URL is the canonical public endpoint.
	DetectOfficial = "official"
	// DetectCustom means a base URL is set that matches nothing known.
	DetectCustom = "custom"
)

// SwitchConfig carries the credentials applied by a switch. Empty optional
// fields remove the corresponding env key.
type SwitchConfig struct {
	BaseURL   string `json:"base_url"`
	AuthToken string `json:"auth_token,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
	Model     string `json:"model,omitempty"`
}

// CurrentConfig reports the managed env keys currently in effect.
type CurrentConfig struct {
	BaseURL   string `json:"anthropic_base_url,omitempty"`
	AuthToken string `json:"anthropic_auth_token,omitempty"`
	APIKey    string `json:"anthropic_api_key,omitempty"`
	Model     string `json:"anthropic_model,omitempty"`
}

// Session describes one running dependent agent process.
type Session struct {
	RunID     uint64
	PID       uint32
	SessionID string
}

// SessionRegistry is the external process registry: it enumerates running
// agent sessions and terminates them.
type SessionRegistry interface {
	RunningSessions() ([]Session, error)
	Kill(ctx context.Context, runID uint64) (bool, error)
	KillByPID(runID uint64, pid uint32) error
}

// KillOutcome reports one termination attempt. Failures never fail the
// surrounding switch; they are logged and reported here.
type KillOutcome struct {
	RunID  uint64 `json:"run_id"`
	PID    uint32 `json:"pid"`
	Forced bool   `json:"forced"`
	Error  string `json:"error,omitempty"`
}

// StationLister resolves stored stations for provider detection.
type StationLister interface {
	ListStations(ctx context.Context) ([]models.RelayStation, error)
}

// Switcher rewrites the active-credential settings document and coordinates
// termination of dependent agent processes around the rewrite.
type Switcher struct {
	settingsPath string
	stations     StationLister
	presets      *PresetStore
	registry     SessionRegistry
}

// NewSwitcher constructs a switcher. The registry may be nil, in which case
// no processes are terminated.
func NewSwitcher(settingsPath string, stations StationLister, presets *PresetStore, registry SessionRegistry) *Switcher {
	return &Switcher{
		settingsPath: settingsPath,
		stations:     stations,
		presets:      presets,
		registry:     registry,
	}
}

// Switch applies the config to the settings document in a single
// read-modify-write, then terminates dependent sessions. The document is
// never left partially updated: a failure before the write leaves the prior
// content intact, and the write replaces the whole file once.
func (s *Switcher) Switch(ctx context.Context, cfg SwitchConfig) ([]KillOutcome, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("provider: switch: base url is required")
	}

	doc, errRead := ReadDocument(s.settingsPath)
	if errRead != nil {
		return nil, errRead
	}

	doc.SetEnv(EnvBaseURL, cfg.BaseURL)
	doc.setOrRemove(EnvAuthToken, cfg.AuthToken)
	doc.setOrRemove(EnvAPIKey, cfg.APIKey)
	doc.setOrRemove(EnvModel, cfg.Model)

	if errWrite := WriteDocument(s.settingsPath, doc); errWrite != nil {
		return nil, errWrite
	}

	return s.terminateSessions(ctx), nil
}

// Clear removes all managed env keys. Clearing an already-clear document is
// a no-op, so repeated calls converge on the same state.
func (s *Switcher) Clear(ctx context.Context) ([]KillOutcome, error) {
	doc, errRead := ReadDocument(s.settingsPath)
	if errRead != nil {
		return nil, errRead
	}

	for _, key := range []string{EnvBaseURL, EnvAuthToken, EnvAPIKey, EnvModel} {
		doc.RemoveEnv(key)
	}

	if errWrite := WriteDocument(s.settingsPath, doc); errWrite != nil {
		return nil, errWrite
	}

	return s.terminateSessions(ctx), nil
}

// Current reports the managed env keys, falling back to process env vars
// when the document omits them.
func (s *Switcher) Current() (CurrentConfig, error) {
	doc, errRead := ReadDocument(s.settingsPath)
	if errRead != nil {
		return CurrentConfig{}, errRead
	}
	return CurrentConfig{
		BaseURL:   envOrOS(doc, EnvBaseURL),
		AuthToken: envOrOS(doc, EnvAuthToken),
		APIKey:    envOrOS(doc, EnvAPIKey),
		Model:     envOrOS(doc, EnvModel),
	}, nil
}

func envOrOS(doc *Document, key string) string {
	if value := doc.EnvString(key); value != "" {
		return value
	}
	return os.Getenv(key)
}

// DetectCurrent identifies which provider the settings document points at:
// a stored station id, a preset id, "official", "custom", or "" when no
// base URL or auth material is present.
func (s *Switcher) DetectCurrent(ctx context.Context) (string, error) {
	doc, errRead := ReadDocument(s.settingsPath)
	if errRead != nil {
		return "", errRead
	}

	baseURL := doc.EnvString(EnvBaseURL)
	hasAuth := doc.EnvString(EnvAuthToken) != "" || doc.EnvString(EnvAPIKey) != ""
	if baseURL == "" || !hasAuth {
		return "", nil
	}

	if s.stations != nil {
		stations, errList := s.stations.ListStations(ctx)
		if errList != nil {
			log.WithError(errList).Warn("provider: station lookup failed during detection")
		}
		for _, station := range stations {
			if station.APIURL == baseURL {
				return station.ID, nil
			}
		}
	}

	if s.presets != nil {
		presets, errList := s.presets.List()
		if errList != nil {
			log.WithError(errList).Warn("provider: preset lookup failed during detection")
		}
		for _, preset := range presets {
			if preset.BaseURL == baseURL {
				return preset.ID, nil
			}
		}
	}

	if baseURL == OfficialBaseURL {
		return DetectOfficial, nil
	}
	return DetectCustom, nil
}

// IsApplied reports whether a provider override is in effect: a base URL
// differing from the official endpoint, or any auth material.
func (s *Switcher) IsApplied() (bool, error) {
	doc, errRead := ReadDocument(s.settingsPath)
	if errRead != nil {
		return false, errRead
	}

	baseURL := doc.EnvString(EnvBaseURL)
	hasAuth := doc.EnvString(EnvAuthToken) != "" || doc.EnvString(EnvAPIKey) != ""
	return baseURL != "" && (baseURL != OfficialBaseURL || hasAuth), nil
}

// terminateSessions kills all running dependent sessions: graceful first by
// run id, forced by pid when the graceful attempt fails or reports false.
// Failures are logged and reported, never escalated.
func (s *Switcher) terminateSessions(ctx context.Context) []KillOutcome {
	if s.registry == nil {
		return nil
	}

	sessions, errList := s.registry.RunningSessions()
	if errList != nil {
		log.WithError(errList).Error("provider: list running sessions failed")
		return nil
	}

	outcomes := make([]KillOutcome, 0, len(sessions))
	for _, session := range sessions {
		outcome := KillOutcome{RunID: session.RunID, PID: session.PID}

		killed, errKill := s.registry.Kill(ctx, session.RunID)
		if errKill == nil && killed {
			outcomes = append(outcomes, outcome)
			continue
		}
		if errKill != nil {
			log.WithError(errKill).Warnf("provider: graceful kill of session %d failed", session.RunID)
		} else {
			log.Warnf("provider: graceful kill of session %d returned false", session.RunID)
		}

		outcome.Forced = true
		if errForce := s.registry.KillByPID(session.RunID, session.PID); errForce != nil {
			log.WithError(errForce).Errorf("provider: forced kill of pid %d failed", session.PID)
			outcome.Error = errForce.Error()
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}
