package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"hawser/pkg/helper/errors"
)

// LoadFromFile loads configuration from an optional YAML file, then the
// environment, and validates the result.
func LoadFromFile(configPath string) (*Config, error) {
	config := NewDefaultConfig()

	if configPath != "" {
		expandedPath := ExpandHomeDir(configPath)

		if _, err := os.Stat(expandedPath); os.IsNotExist(err) {
			return nil, errors.NotFoundf("configuration file not found: %s", expandedPath)
		}

		data, err := os.ReadFile(expandedPath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read configuration file")
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, errors.Wrap(err, "failed to parse configuration file")
		}
	}

	loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// loadFromEnv overrides string fields from the environment.
func loadFromEnv(config *Config) {
	envVars := map[string]*string{
		"HAWSER_LOG_LEVEL":      &config.LogLevel,
		"HAWSER_PROXY":          &config.Proxy.URL,
		"HAWSER_PROXY_USER":     &config.Proxy.Username,
		"HAWSER_PROXY_PASSWORD": &config.Proxy.Password,
		"HAWSER_FINGERPRINT":    &config.TLS.Fingerprint,
		"HAWSER_DNS_FAMILY":     &config.DNS.Family,
		"HAWSER_LISTEN":         &config.Server.ListenAddr,
	}

	for env, field := range envVars {
		if value, exists := os.LookupEnv(env); exists && value != "" {
			*field = value
		}
	}
}

// ExpandHomeDir expands a leading ~ to the user's home directory.
func ExpandHomeDir(path string) string {
	if path == "" || !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
