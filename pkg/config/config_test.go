package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default("/data/vault")

	if cfg.SessionTimeoutMinutes != DefaultSessionTimeoutMinutes {
		t.Errorf("timeout = %d", cfg.SessionTimeoutMinutes)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
	if cfg.CredentialDir != filepath.Join("/data/vault", "credentials") {
		t.Errorf("credential dir = %q", cfg.CredentialDir)
	}
	if cfg.Backup.Dir != filepath.Join("/data/vault", "backups") {
		t.Errorf("backup dir = %q", cfg.Backup.Dir)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default(t.TempDir())
	cfg.InstallID = "install-1"
	cfg.SessionTimeoutMinutes = 30
	cfg.Backup.S3Bucket = "vault-backups"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.InstallID != "install-1" || loaded.SessionTimeoutMinutes != 30 {
		t.Errorf("loaded config: %+v", loaded)
	}
	if loaded.Backup.S3Bucket != "vault-backups" {
		t.Errorf("backup config: %+v", loaded.Backup)
	}
	if loaded.SessionTimeout() != 30*time.Minute {
		t.Errorf("timeout duration = %v", loaded.SessionTimeout())
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("vault_dir: /data/vault\n"), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.SessionTimeoutMinutes != DefaultSessionTimeoutMinutes || cfg.LogLevel != "info" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing vault dir", func(c *Config) { c.VaultDir = "" }},
		{"timeout too low", func(c *Config) { c.SessionTimeoutMinutes = 0; c.SessionTimeoutMinutes = -1 }},
		{"timeout too high", func(c *Config) { c.SessionTimeoutMinutes = 61 }},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default("/data/vault")
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("vault_dir: [unclosed"), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "parse") {
		t.Errorf("expected parse error, got %v", err)
	}
}
