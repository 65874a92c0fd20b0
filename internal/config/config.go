// Package config loads the optional roasteries.jsonc file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// FileName is the config file looked up in the working directory.
const FileName = "roasteries.jsonc"

var (
	errConfigFileRead = errors.New("cannot read config file")
	errConfigInvalid  = errors.New("invalid config")
	errDataDirEmpty   = errors.New("data_dir must not be empty")
	errPortRange      = errors.New("port must be between 0 and 65535")
	errLogFormat      = errors.New(`log_format must be "console" or "json"`)
)

// Config holds the settings shared by every command.
type Config struct {
	DataDir    string `json:"data_dir,omitempty"`
	LegacyFile string `json:"legacy_file,omitempty"`
	PublicDir  string `json:"public_dir,omitempty"`
	Port       int    `json:"port,omitempty"`
	LogLevel   string `json:"log_level,omitempty"`
	LogFormat  string `json:"log_format,omitempty"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DataDir:    ".roasteries",
		LegacyFile: "localStorage.json",
		PublicDir:  "public",
		Port:       8080,
		LogLevel:   "info",
		LogFormat:  "console",
	}
}

// Load returns the defaults overlaid with the config file at path.
// A missing file is only an error when mustExist is set.
func Load(path string, mustExist bool) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("%w: %s: %v", errConfigFileRead, path, err)
	}

	fileCfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	cfg = Merge(cfg, fileCfg)
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}
	return cfg, nil
}

// Parse decodes JSONC (JSON with comments and trailing commas).
func Parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	// An explicit empty data_dir would put the store in the working directory root.
	var raw map[string]any
	_ = json.Unmarshal(standardized, &raw)
	if v, ok := raw["data_dir"].(string); ok && v == "" {
		return Config{}, errDataDirEmpty
	}

	return cfg, nil
}

// Merge overlays the non-zero fields of overlay onto base.
func Merge(base, overlay Config) Config {
	if overlay.DataDir != "" {
		base.DataDir = overlay.DataDir
	}
	if overlay.LegacyFile != "" {
		base.LegacyFile = overlay.LegacyFile
	}
	if overlay.PublicDir != "" {
		base.PublicDir = overlay.PublicDir
	}
	if overlay.Port != 0 {
		base.Port = overlay.Port
	}
	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}
	if overlay.LogFormat != "" {
		base.LogFormat = overlay.LogFormat
	}
	return base
}

// Validate checks a merged config.
func Validate(cfg Config) error {
	if cfg.DataDir == "" {
		return errDataDirEmpty
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return errPortRange
	}
	if cfg.LogFormat != "console" && cfg.LogFormat != "json" {
		return errLogFormat
	}
	return nil
}

// Format returns the config as indented JSON.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}
	return string(data), nil
}
