package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	// Server defaults
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected default host '0.0.0.0', got %q", cfg.Server.Host)
	}

	// Interception defaults
	if !cfg.Interception.ThrowOnMissingRegistration {
		t.Error("Expected throwOnMissingRegistration to default to true")
	}
	if cfg.Interception.Passthrough {
		t.Error("Expected passthrough to default to false")
	}
	if len(cfg.Bundles) != 0 {
		t.Errorf("Expected no default bundles, got %v", cfg.Bundles)
	}

	// Tracing defaults
	if cfg.Tracing.MaxTraces != 1000 {
		t.Errorf("Expected default max traces 1000, got %d", cfg.Tracing.MaxTraces)
	}

	// Logging defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected default log level 'info', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected default log format 'json', got %q", cfg.Logging.Format)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return configPath
}

func loadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	SetDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return Load(v)
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
server:
  port: 9090
  host: localhost
bundles:
  - bundles/*.json
  - bundles/**/*.yaml
interception:
  throwOnMissingRegistration: false
  passthrough: true
tracing:
  maxTraces: 500
logging:
  level: debug
  format: text
`)

	cfg, err := loadFile(configPath)
	if err != nil {
		t.Fatalf("loadFile() failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "localhost" {
		t.Errorf("Expected host 'localhost', got %q", cfg.Server.Host)
	}
	if cfg.Server.Addr() != "localhost:9090" {
		t.Errorf("Expected addr 'localhost:9090', got %q", cfg.Server.Addr())
	}
	if len(cfg.Bundles) != 2 || cfg.Bundles[1] != "bundles/**/*.yaml" {
		t.Errorf("Unexpected bundles %v", cfg.Bundles)
	}
	if cfg.Interception.ThrowOnMissingRegistration {
		t.Error("Expected throwOnMissingRegistration false")
	}
	if !cfg.Interception.Passthrough {
		t.Error("Expected passthrough true")
	}
	if cfg.Tracing.MaxTraces != 500 {
		t.Errorf("Expected max traces 500, got %d", cfg.Tracing.MaxTraces)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level 'debug', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected log format 'text', got %q", cfg.Logging.Format)
	}
}

func TestLoad_PartialConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  port: 3000
`)

	cfg, err := loadFile(configPath)
	if err != nil {
		t.Fatalf("loadFile() failed: %v", err)
	}

	// Verify overridden value
	if cfg.Server.Port != 3000 {
		t.Errorf("Expected port 3000, got %d", cfg.Server.Port)
	}

	// Verify defaults are preserved
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected default host '0.0.0.0', got %q", cfg.Server.Host)
	}
	if !cfg.Interception.ThrowOnMissingRegistration {
		t.Error("Expected default throwOnMissingRegistration to be preserved")
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := loadFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Expected error for non-existent file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `
server:
  port: [invalid yaml
`)

	_, err := loadFile(configPath)
	if err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"port too large", "server:\n  port: 70000\n", "server.port"},
		{"negative traces", "tracing:\n  maxTraces: -1\n", "tracing.maxTraces"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadFile(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := loadFile(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("loadFile() failed: %v", err)
	}

	// Should have defaults
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Bundles = []string{"a.json"}

	data, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	loaded, err := loadFile(writeConfig(t, string(data)))
	if err != nil {
		t.Fatalf("loadFile() failed: %v", err)
	}
	if loaded.Server != cfg.Server || loaded.Interception != cfg.Interception || len(loaded.Bundles) != 1 {
		t.Errorf("Round trip changed config: %+v", loaded)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("INTERCEPT_SERVER_PORT", "7070")

	v := viper.New()
	v.SetEnvPrefix("INTERCEPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Expected port 7070 from the environment, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected default log format, got %q", cfg.Logging.Format)
	}
}
