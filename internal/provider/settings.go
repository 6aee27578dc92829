// Package provider coordinates which upstream credentials dependent agent
// processes use. It owns only four env keys inside an external settings
// document and must preserve every other key in that document untouched.
package provider

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Env keys managed inside the settings document.
const (
	EnvBaseURL   = "ANTHROPIC_BASE_URL"
	EnvAuthToken = "ANTHROPIC_AUTH_TOKEN"
	EnvAPIKey    = "ANTHROPIC_API_KEY"
	EnvModel     = "ANTHROPIC_MODEL"
)

// OfficialBaseURL is the canonical public endpoint; a base URL equal to it
// means no third-party relay is in effect.
const OfficialBaseURL = "https://api.anthropic.com"

// Document is the external settings file holding an env-like key/value
// sub-map. Unmanaged keys, both top-level and inside env, are held as raw
// JSON so a read-modify-write cycle never alters their values.
type Document struct {
	top map[string]json.RawMessage
	env map[string]json.RawMessage
}

// ReadDocument loads the settings document. A missing file yields an empty
// document; a file that cannot be parsed is an error.
func ReadDocument(path string) (*Document, error) {
	doc := &Document{
		top: map[string]json.RawMessage{},
		env: map[string]json.RawMessage{},
	}

	data, errRead := os.ReadFile(path)
	if os.IsNotExist(errRead) {
		return doc, nil
	}
	if errRead != nil {
		return nil, fmt.Errorf("provider: read settings: %w", errRead)
	}

	if errTop := json.Unmarshal(data, &doc.top); errTop != nil {
		return nil, fmt.Errorf("provider: parse settings: %w", errTop)
	}
	if rawEnv, ok := doc.top["env"]; ok {
		if errEnv := json.Unmarshal(rawEnv, &doc.env); errEnv != nil {
			return nil, fmt.Errorf("provider: parse settings env: %w", errEnv)
		}
	}
	return doc, nil
}

// WriteDocument persists the document as one whole-file replacement.
func WriteDocument(path string, doc *Document) error {
	if doc == nil {
		return fmt.Errorf("provider: nil document")
	}

	envData, errEnv := json.Marshal(doc.env)
	if errEnv != nil {
		return fmt.Errorf("provider: marshal settings env: %w", errEnv)
	}
	doc.top["env"] = envData

	data, errMarshal := json.MarshalIndent(doc.top, "", "  ")
	if errMarshal != nil {
		return fmt.Errorf("provider: marshal settings: %w", errMarshal)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if errMkdir := os.MkdirAll(dir, 0o755); errMkdir != nil {
			return fmt.Errorf("provider: create settings dir: %w", errMkdir)
		}
	}
	if errWrite := os.WriteFile(path, data, 0o644); errWrite != nil {
		return fmt.Errorf("provider: write settings: %w", errWrite)
	}
	return nil
}

// EnvString returns the string value of a managed env key, or "" when the
// key is absent or not a string.
func (d *Document) EnvString(key string) string {
	if d == nil {
		return ""
	}
	raw, ok := d.env[key]
	if !ok {
		return ""
	}
	var value string
	if errDecode := json.Unmarshal(raw, &value); errDecode != nil {
		return ""
	}
	return value
}

// SetEnv stores a string value under a managed env key.
func (d *Document) SetEnv(key, value string) {
	data, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return
	}
	d.env[key] = data
}

// RemoveEnv drops a managed env key. Removing an absent key is a no-op.
func (d *Document) RemoveEnv(key string) {
	delete(d.env, key)
}

// setOrRemove writes the key when value is non-empty and removes it
// otherwise.
func (d *Document) setOrRemove(key, value string) {
	if value != "" {
		d.SetEnv(key, value)
		return
	}
	d.RemoveEnv(key)
}
