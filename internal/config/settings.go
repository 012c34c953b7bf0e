package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// Settings is what the player remembers between runs.
type Settings struct {
	LastFolder string `json:"lastFolder"`
}

// SettingsStore persists Settings as a small JSON file. It is advisory:
// callers log failures and carry on.
type SettingsStore struct {
	mu   sync.Mutex
	path string
}

func NewSettingsStore(path string) *SettingsStore {
	return &SettingsStore{path: path}
}

func (s *SettingsStore) Path() string { return s.path }

// Load returns the stored settings, or zero settings if the file does not
// exist yet.
func (s *SettingsStore) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var settings Settings
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return settings, nil
	}
	if err != nil {
		return settings, err
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func (s *SettingsStore) Save(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}

// LastFolder returns the remembered folder if it still exists as a directory.
func (s *SettingsStore) LastFolder() (string, bool) {
	settings, err := s.Load()
	if err != nil || settings.LastFolder == "" {
		return "", false
	}
	info, err := os.Stat(settings.LastFolder)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return settings.LastFolder, true
}

func (s *SettingsStore) SetLastFolder(folder string) error {
	settings, err := s.Load()
	if err != nil {
		settings = Settings{}
	}
	settings.LastFolder = folder
	return s.Save(settings)
}
