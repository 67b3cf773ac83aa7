// Package userconfig keeps the per-user preferences of the propertyhub CLI
// in ~/.config/propertyhub/config.json: which API endpoint commands talk to
// when none is given, and which credential backend holds the sessions.
// Sessions themselves never live here; see credstore.
package userconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	configDirName  = "propertyhub"
	configFileName = "config.json"
)

// UserConfig is the decoded preferences file. Zero values mean "not chosen".
type UserConfig struct {
	// SelectedAPIURL is the normalized endpoint picked with `propertyhub use`
	SelectedAPIURL string `json:"selected_api_url"`
	// CredentialBackend is one of keyring, file or memory; empty means keyring
	CredentialBackend string `json:"credential_backend,omitempty"`
}

// Path returns where the preferences file lives for the current user
func Path() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", configDirName, configFileName), nil
}

// Load reads the preferences. A missing file is an empty UserConfig.
func Load() (*UserConfig, error) {
	configPath, err := Path()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return &UserConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user config file: %w", err)
	}

	var cfg UserConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse user config file %s: %w", configPath, err)
	}
	return &cfg, nil
}

// Save replaces the preferences file. The write goes through a temp file so
// a crash never leaves a truncated config behind.
func Save(cfg *UserConfig) error {
	configPath, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal user config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(configPath), configFileName+".*")
	if err != nil {
		return fmt.Errorf("failed to write user config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write user config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write user config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), configPath); err != nil {
		return fmt.Errorf("failed to write user config file: %w", err)
	}
	return nil
}

// Update loads the preferences, applies fn and saves the result, keeping
// whatever fn did not touch
func Update(fn func(*UserConfig)) error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	fn(cfg)
	return Save(cfg)
}

// SetSelectedAPI remembers apiURL as the default endpoint
func SetSelectedAPI(apiURL string) error {
	return Update(func(c *UserConfig) { c.SelectedAPIURL = apiURL })
}

// GetSelectedAPI returns the remembered endpoint, or "" if none was picked
func GetSelectedAPI() (string, error) {
	cfg, err := Load()
	if err != nil {
		return "", err
	}
	return cfg.SelectedAPIURL, nil
}

// SetCredentialBackend remembers which credential backend sessions use.
// The name is not checked here; credstore.Open rejects unknown ones.
func SetCredentialBackend(name string) error {
	return Update(func(c *UserConfig) { c.CredentialBackend = name })
}
