// Package config handles the optional tool configuration file and its
// location resolution. The file may be written in YAML, TOML or JSON; the
// format is detected from the extension or, for extensionless files, from
// the content.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/appimage-tools/appimageupdate/internal/updateinfo"
)

// Config carries the tool-level settings.
type Config struct {
	// UpdateInformation overrides the hint embedded in the AppImage,
	// enabling custom update servers or channels.
	UpdateInformation string `yaml:"update_information" toml:"update_information" json:"update_information"`

	// CABundle points at a CA certificate bundle used for TLS
	// verification, equivalent to setting SSL_CERT_FILE.
	CABundle string `yaml:"ca_bundle" toml:"ca_bundle" json:"ca_bundle"`

	// RemoveOld deletes the old AppImage after a successful, validated
	// update.
	RemoveOld bool `yaml:"remove_old" toml:"remove_old" json:"remove_old"`

	// Overwrite rewrites the AppImage in place instead of creating a new
	// file next to it.
	Overwrite bool `yaml:"overwrite" toml:"overwrite" json:"overwrite"`
}

// Format represents the file format of a configuration file.
type Format int

const (
	FormatUnknown Format = iota
	FormatYAML
	FormatTOML
	FormatJSON
)

// Find locates the configuration file: an explicit path wins, then
// $XDG_CONFIG_HOME/appimageupdatetool/config.{yaml,toml,json}. An empty
// return value with a nil error means no configuration exists, which is
// fine.
func Find(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", nil
		}
		configDir = filepath.Join(home, ".config")
	}

	base := filepath.Join(configDir, "appimageupdatetool")
	for _, name := range []string{"config.yaml", "config.yml", "config.toml", "config.json"} {
		path := filepath.Join(base, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", nil
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	format := detectFormat(path, content)
	cfg, err := parse(content, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// detectFormat determines the file format based on extension or content.
func detectFormat(path string, content []byte) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	case ".json":
		return FormatJSON
	}
	return sniffFormat(content)
}

// sniffFormat attempts to detect the format from content: JSON starts
// with a brace, TOML uses "key = value", YAML uses "key: value".
func sniffFormat(content []byte) Format {
	trimmed := strings.TrimSpace(string(content))

	if strings.HasPrefix(trimmed, "{") {
		return FormatJSON
	}

	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.Contains(line, " = ") || strings.HasPrefix(line, "[") {
			return FormatTOML
		}
		if strings.Contains(line, ":") {
			return FormatYAML
		}
	}

	return FormatUnknown
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns in content.
func expandEnvVars(content []byte) []byte {
	return envVarPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		parts := envVarPattern.FindSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		value := os.Getenv(string(parts[1]))
		if value == "" && len(parts) >= 3 && len(parts[2]) > 0 {
			value = string(parts[2])
		}
		return []byte(value)
	})
}

func parse(content []byte, format Format) (*Config, error) {
	content = expandEnvVars(content)

	var cfg Config
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("YAML parse error: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("TOML parse error: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("JSON parse error: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file format")
	}

	return &cfg, nil
}

// validate checks field values that have constraints beyond their types.
func (c *Config) validate() error {
	if c.UpdateInformation != "" {
		if _, err := updateinfo.Parse(c.UpdateInformation); err != nil {
			return fmt.Errorf("invalid update_information: %w", err)
		}
	}
	if c.CABundle != "" {
		if _, err := os.Stat(c.CABundle); err != nil {
			return fmt.Errorf("ca_bundle does not exist: %s", c.CABundle)
		}
	}
	return nil
}
