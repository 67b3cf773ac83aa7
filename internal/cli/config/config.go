package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const ConfigFileName = "propertyhub.yaml"

// ErrNotFound is returned when no project file exists up the directory tree
var ErrNotFound = errors.New("propertyhub.yaml not found")

// Endpoint is a named propertyhub API
type Endpoint struct {
	Alias string `yaml:"alias"`
	URL   string `yaml:"url"`
}

// Config represents the CLI project file
type Config struct {
	Endpoints []Endpoint `yaml:"endpoints"`
}

// DefaultConfig returns a configuration with a local development endpoint
func DefaultConfig() *Config {
	return &Config{
		Endpoints: []Endpoint{
			{Alias: "local", URL: "http://localhost:8080"},
		},
	}
}

// FindConfigFile searches for propertyhub.yaml in the current directory and its parents
func FindConfigFile() (string, error) {
	currentDir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	dir := currentDir
	for {
		configPath := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("%w in %s or any parent directory", ErrNotFound, currentDir)
}

// Load reads and validates the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return &cfg, nil
}

// LoadFromCurrentDir loads config from current directory or parent directories
func LoadFromCurrentDir() (*Config, error) {
	configPath, err := FindConfigFile()
	if err != nil {
		return nil, err
	}

	return Load(configPath)
}

// Save writes the configuration to a file
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks aliases are unique and every URL parses
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		if ep.Alias == "" {
			return fmt.Errorf("endpoint %d has no alias", i+1)
		}
		if seen[ep.Alias] {
			return fmt.Errorf("duplicate endpoint alias '%s'", ep.Alias)
		}
		seen[ep.Alias] = true

		if ep.URL == "" {
			continue
		}
		if _, err := url.Parse(NormalizeURL(ep.URL)); err != nil {
			return fmt.Errorf("endpoint '%s': invalid url: %w", ep.Alias, err)
		}
	}
	return nil
}

// GetEndpointByAlias returns an endpoint by its alias
func (c *Config) GetEndpointByAlias(alias string) (*Endpoint, error) {
	for i := range c.Endpoints {
		if c.Endpoints[i].Alias == alias {
			return &c.Endpoints[i], nil
		}
	}
	return nil, fmt.Errorf("endpoint with alias '%s' not found", alias)
}

// GetEndpointByURLOrAlias finds an endpoint by URL first, then alias
func (c *Config) GetEndpointByURLOrAlias(urlOrAlias string) (*Endpoint, error) {
	normalized := NormalizeURL(urlOrAlias)
	for i := range c.Endpoints {
		if NormalizeURL(c.Endpoints[i].URL) == normalized {
			return &c.Endpoints[i], nil
		}
	}
	return c.GetEndpointByAlias(urlOrAlias)
}

// NormalizeURL applies the defaults the API client uses: HTTPS when no
// scheme is given and no trailing slash
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	return strings.TrimRight(raw, "/")
}
