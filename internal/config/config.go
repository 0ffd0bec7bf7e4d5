// ABOUTME: Configuration loading for the chat core
// ABOUTME: YAML or TOML by file extension, with env var expansion and defaults

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration surface of the chat core
type Config struct {
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Chat     ChatConfig     `yaml:"chat" toml:"chat"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path" validate:"required"`
}

// ChatConfig governs conversation behavior
type ChatConfig struct {
	// AutoPublicThreshold is the participant count at which a private
	// conversation automatically becomes public
	AutoPublicThreshold int `yaml:"auto_public_threshold" toml:"auto_public_threshold" validate:"gte=2"`
	// AutoPublicEnabled turns the auto-public rule on or off
	AutoPublicEnabled bool `yaml:"auto_public_enabled" toml:"auto_public_enabled"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" toml:"format" validate:"omitempty,oneof=text json"`
}

// Default returns the configuration defaults applied before file values
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "chat.db"},
		Chat: ChatConfig{
			AutoPublicThreshold: 3,
			AutoPublicEnabled:   true,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file and returns the parsed Config. The format
// is chosen by extension: .toml parses as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	switch filepath.Ext(path) {
	case ".toml":
		if err := toml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing TOML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks the config against its struct tags
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	return nil
}
