// Package config loads the service configuration and auth files, and
// refreshes the remote configuration (user configs, supported wikis,
// global overrides) from the configuration wiki.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the service configuration file.
type Config struct {
	WikidotUsername    string `toml:"wikidot_username"`
	ConfigWiki         string `toml:"config_wiki"`
	UserConfigCategory string `toml:"user_config_category"`
	WikiConfigCategory string `toml:"wiki_config_category"`
	OverridesURL       string `toml:"overrides_url"`
	GmailUsername      string `toml:"gmail_username"`

	Database struct {
		Driver       string `toml:"driver"`
		DatabaseName string `toml:"database_name"`
	} `toml:"database"`

	Path struct {
		Lang string `toml:"lang"`
	} `toml:"path"`
}

// Auth is the database credentials file.
type Auth struct {
	MySQLHost     string `toml:"mysql_host"`
	MySQLUsername string `toml:"mysql_username"`
	MySQLPassword string `toml:"mysql_password"`
}

// Load reads and validates the service configuration. Path values are
// resolved relative to the program root ("@" prefix) or the config file's
// directory ("?" prefix).
func Load(path, programRoot string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	for name, val := range map[string]string{
		"wikidot_username":     cfg.WikidotUsername,
		"config_wiki":          cfg.ConfigWiki,
		"user_config_category": cfg.UserConfigCategory,
		"wiki_config_category": cfg.WikiConfigCategory,
		"overrides_url":        cfg.OverridesURL,
		"database.driver":      cfg.Database.Driver,
		"database.database_name": cfg.Database.DatabaseName,
		"path.lang":            cfg.Path.Lang,
	} {
		if val == "" {
			return nil, fmt.Errorf("config key %s is required", name)
		}
	}

	configDir := filepath.Dir(path)
	cfg.Path.Lang = ResolvePath(cfg.Path.Lang, programRoot, configDir)
	return &cfg, nil
}

// LoadAuth reads the credentials file.
func LoadAuth(path string) (*Auth, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read auth file: %w", err)
	}
	var auth Auth
	if err := toml.Unmarshal(data, &auth); err != nil {
		return nil, fmt.Errorf("parse auth file: %w", err)
	}
	return &auth, nil
}

// ResolvePath expands the path-alias prefixes: "@" resolves against the
// program root, "?" against the config file's directory. Other values
// pass through untouched.
func ResolvePath(value, programRoot, configDir string) string {
	switch {
	case strings.HasPrefix(value, "@"):
		return filepath.Join(programRoot, strings.TrimPrefix(value, "@"))
	case strings.HasPrefix(value, "?"):
		return filepath.Join(configDir, strings.TrimPrefix(value, "?"))
	default:
		return value
	}
}
