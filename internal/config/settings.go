package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Settings is the user-editable configuration overlay written by the
// settings API. It sits below environment variables in priority:
// anything set in the environment wins over the file.
//
// The file is shared with any other process pointed at the same config
// directory, so reads and writes go through an advisory file lock.
type Settings struct {
	// ProviderKind overrides Config.ProviderKind when non-empty.
	ProviderKind string `json:"provider_kind,omitempty"`
	// CloudModel overrides Config.CloudModel when non-empty.
	CloudModel string `json:"cloud_model,omitempty"`
	// Connectors maps connector name to enablement. Connectors absent
	// from the map use their default enablement.
	Connectors map[string]bool `json:"connectors,omitempty"`
}

// SettingsStore persists Settings to a JSON file guarded by a file lock.
type SettingsStore struct {
	path string
}

// NewSettingsStore returns a store backed by the file at path.
func NewSettingsStore(path string) *SettingsStore {
	return &SettingsStore{path: path}
}

// Load reads the current settings. A missing file yields empty settings,
// not an error.
func (s *SettingsStore) Load() (Settings, error) {
	lock := flock.New(s.path + ".lock")
	if err := lock.RLock(); err != nil {
		return Settings{}, fmt.Errorf("locking settings file: %w", err)
	}
	defer lock.Unlock() //nolint:errcheck

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Settings{}, nil
		}
		return Settings{}, fmt.Errorf("reading settings file: %w", err)
	}

	var out Settings
	if err := json.Unmarshal(data, &out); err != nil {
		return Settings{}, fmt.Errorf("parsing settings file: %w", err)
	}
	return out, nil
}

// Update applies fn to the current settings and persists the result
// atomically. The lock is held across the read-modify-write so concurrent
// updates cannot lose each other's changes.
func (s *SettingsStore) Update(fn func(*Settings)) (Settings, error) {
	lock := flock.New(s.path + ".lock")
	if err := lock.Lock(); err != nil {
		return Settings{}, fmt.Errorf("locking settings file: %w", err)
	}
	defer lock.Unlock() //nolint:errcheck

	var cur Settings
	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cur); err != nil {
			return Settings{}, fmt.Errorf("parsing settings file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// first write
	default:
		return Settings{}, fmt.Errorf("reading settings file: %w", err)
	}

	fn(&cur)

	out, err := json.MarshalIndent(cur, "", "  ")
	if err != nil {
		return Settings{}, fmt.Errorf("encoding settings: %w", err)
	}

	// Write-then-rename so readers never observe a partial file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return Settings{}, fmt.Errorf("writing settings file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return Settings{}, fmt.Errorf("replacing settings file: %w", err)
	}
	return cur, nil
}

// Dir returns the directory holding the settings file.
func (s *SettingsStore) Dir() string {
	return filepath.Dir(s.path)
}
