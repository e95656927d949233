package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Default configuration values
const (
	DefaultSessionTimeoutMinutes = 15
	DefaultLogLevel              = "info"
)

// Config holds the application configuration
type Config struct {
	// VaultDir is the directory holding the encrypted database and blobs
	VaultDir string `yaml:"vault_dir" validate:"required"`

	// InstallID is the stable identifier used for key derivation. It is
	// generated on first setup and must never change afterwards.
	InstallID string `yaml:"install_id"`

	// CredentialDir holds the PIN salt, verifier and session counters
	// (auto-derived from VaultDir when empty)
	CredentialDir string `yaml:"credential_dir"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// SessionTimeoutMinutes is the inactivity timeout (1-60 minutes)
	SessionTimeoutMinutes int `yaml:"session_timeout_minutes" validate:"gte=1,lte=60"`

	Backup BackupConfig `yaml:"backup"`
}

// BackupConfig holds backup target settings
type BackupConfig struct {
	// Dir is where local artifacts and record sidecars are written
	// (auto-derived from VaultDir when empty)
	Dir string `yaml:"dir"`

	// S3Bucket, when set, uploads artifacts to this bucket after a
	// successful local write
	S3Bucket string `yaml:"s3_bucket"`

	// RemotePrefix is prepended to artifact names on the remote target
	RemotePrefix string `yaml:"remote_prefix"`
}

var validate = validator.New()

// Default returns a configuration rooted at dir with all defaults set
func Default(dir string) *Config {
	cfg := &Config{VaultDir: dir}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML configuration file, fills defaults and validates it
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration as YAML with owner-only permissions
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration against its constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// SessionTimeout returns the inactivity timeout as a duration
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutMinutes) * time.Minute
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.SessionTimeoutMinutes == 0 {
		c.SessionTimeoutMinutes = DefaultSessionTimeoutMinutes
	}
	if c.CredentialDir == "" && c.VaultDir != "" {
		c.CredentialDir = filepath.Join(c.VaultDir, "credentials")
	}
	if c.Backup.Dir == "" && c.VaultDir != "" {
		c.Backup.Dir = filepath.Join(c.VaultDir, "backups")
	}
}
