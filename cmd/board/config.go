package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
)

const (
	xdgAppName     = "sticky-board"
	configFile     = "config.json"
	defaultDBFile  = "board.db"
	defaultAPIURL  = "http://localhost:8080"
	envAPIURL      = "BOARD_API_URL"
	envDBPath      = "BOARD_DB_PATH"
	envBoardToken  = "BOARD_TOKEN"
	configDirPerm  = 0o700
	configFilePerm = 0o600
)

// Config is the CLI state persisted between runs. Token is the bearer
// credential of the signed-in user; empty means the board works locally.
type Config struct {
	APIURL string `json:"apiUrl"`
	Token  string `json:"token,omitempty"`
	DBPath string `json:"dbPath"`
}

// ConfigPath returns the default config file location.
func ConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName, configFile), nil
}

// LoadConfig reads the config at path, filling defaults for missing fields.
// A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := sonic.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(filepath.Dir(path), defaultDBFile)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path, creating the directory when needed.
func SaveConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := sonic.ConfigStd.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), configFilePerm)
}

// withEnv returns a copy of cfg with environment overrides applied.
// Overrides are never written back to disk.
func (c Config) withEnv() Config {
	if v := os.Getenv(envAPIURL); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(envBoardToken); v != "" {
		c.Token = v
	}
	return c
}
