package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
service:
  id: "test-fleet"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
api:
  host: "0.0.0.0"
  port: 8080
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.ID != "test-fleet" {
		t.Errorf("Service.ID = %q, want %q", cfg.Service.ID, "test-fleet")
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}

	// Defaults should survive a partial file
	if cfg.API.Timeouts.Read != 30 {
		t.Errorf("API.Timeouts.Read = %d, want default 30", cfg.API.Timeouts.Read)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	content := `
service:
  id: "test-fleet"
database:
  path: "/tmp/test.db"
api:
  port: 8080
security:
  jwt:
    secret: "file-secret-that-is-long-enough-0123"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	t.Setenv("BROLLY_JWT_SECRET", "env-secret-that-is-also-long-enough!")
	t.Setenv("BROLLY_DATABASE_PATH", "/tmp/override.db")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Security.JWT.Secret != "env-secret-that-is-also-long-enough!" {
		t.Errorf("JWT.Secret = %q, want env override", cfg.Security.JWT.Secret)
	}
	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
}

func TestConfig_Validate(t *testing.T) {
	validJWTSecret := "test-secret-key-at-least-32-chars!"

	valid := func() *Config {
		return &Config{
			Service:  ServiceConfig{ID: "brolly-001"},
			Database: DatabaseConfig{Path: "/data/brolly.db"},
			API:      APIConfig{Port: 8080},
			Security: SecurityConfig{JWT: JWTConfig{Secret: validJWTSecret}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}, wantErr: false},
		{name: "missing service id", mutate: func(c *Config) { c.Service.ID = "" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid port", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "missing jwt secret", mutate: func(c *Config) { c.Security.JWT.Secret = "" }, wantErr: true},
		{name: "short jwt secret", mutate: func(c *Config) { c.Security.JWT.Secret = "too-short" }, wantErr: true},
		{name: "invalid qos when mqtt enabled", mutate: func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.QoS = 3
		}, wantErr: true},
		{name: "invalid qos ignored when mqtt disabled", mutate: func(c *Config) {
			c.MQTT.QoS = 3
		}, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}
