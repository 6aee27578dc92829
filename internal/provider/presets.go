package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrPresetNotFound marks operations targeting a preset id that does not
// exist, distinguishing it from file access failures.
var ErrPresetNotFound = errors.New("provider: preset not found")

// Preset is a named credential configuration that can be switched to.
type Preset struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	BaseURL     string `json:"base_url"`
	AuthToken   string `json:"auth_token,omitempty"`
	APIKey      string `json:"api_key,omitempty"`
	Model       string `json:"model,omitempty"`
}

// PresetStore persists presets as a JSON array file beside the settings
// document. File access is serialized.
type PresetStore struct {
	path string
	mu   sync.Mutex
}

// NewPresetStore constructs a preset store at the given file path.
func NewPresetStore(path string) *PresetStore {
	return &PresetStore{path: path}
}

// List returns all presets. A missing or empty file yields an empty list.
func (s *PresetStore) List() ([]Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Get returns the preset with the given id, or nil when absent.
func (s *PresetStore) Get(id string) (*Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	presets, errLoad := s.load()
	if errLoad != nil {
		return nil, errLoad
	}
	for i := range presets {
		if presets[i].ID == id {
			return &presets[i], nil
		}
	}
	return nil, nil
}

// Add appends a preset, generating an id when missing and rejecting
// duplicate ids.
func (s *PresetStore) Add(preset Preset) (Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	presets, errLoad := s.load()
	if errLoad != nil {
		return Preset{}, errLoad
	}

	if strings.TrimSpace(preset.ID) == "" {
		preset.ID = uuid.NewString()
	}
	for i := range presets {
		if presets[i].ID == preset.ID {
			return Preset{}, fmt.Errorf("provider: preset id %q already exists", preset.ID)
		}
	}

	presets = append(presets, preset)
	if errSave := s.save(presets); errSave != nil {
		return Preset{}, errSave
	}
	return preset, nil
}

// Update replaces the preset with the matching id.
func (s *PresetStore) Update(preset Preset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	presets, errLoad := s.load()
	if errLoad != nil {
		return errLoad
	}
	for i := range presets {
		if presets[i].ID == preset.ID {
			presets[i] = preset
			return s.save(presets)
		}
	}
	return fmt.Errorf("%w: %q", ErrPresetNotFound, preset.ID)
}

// Delete removes the preset with the given id.
func (s *PresetStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	presets, errLoad := s.load()
	if errLoad != nil {
		return errLoad
	}
	for i := range presets {
		if presets[i].ID == id {
			presets = append(presets[:i], presets[i+1:]...)
			return s.save(presets)
		}
	}
	return fmt.Errorf("%w: %q", ErrPresetNotFound, id)
}

func (s *PresetStore) load() ([]Preset, error) {
	data, errRead := os.ReadFile(s.path)
	if os.IsNotExist(errRead) {
		return []Preset{}, nil
	}
	if errRead != nil {
		return nil, fmt.Errorf("provider: read presets: %w", errRead)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return []Preset{}, nil
	}

	var presets []Preset
	if errDecode := json.Unmarshal(data, &presets); errDecode != nil {
		return nil, fmt.Errorf("provider: parse presets: %w", errDecode)
	}
	return presets, nil
}

func (s *PresetStore) save(presets []Preset) error {
	data, errMarshal := json.MarshalIndent(presets, "", "  ")
	if errMarshal != nil {
		return fmt.Errorf("provider: marshal presets: %w", errMarshal)
	}
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if errMkdir := os.MkdirAll(dir, 0o755); errMkdir != nil {
			return fmt.Errorf("provider: create presets dir: %w", errMkdir)
		}
	}
	if errWrite := os.WriteFile(s.path, data, 0o644); errWrite != nil {
		return fmt.Errorf("provider: write presets: %w", errWrite)
	}
	return nil
}
