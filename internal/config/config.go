// Package config holds the settings of the intercept stub server.
package config

import (
	"fmt"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Bundles      []string           `yaml:"bundles" mapstructure:"bundles"`
	Interception InterceptionConfig `yaml:"interception" mapstructure:"interception"`
	Tracing      TracingConfig      `yaml:"tracing" mapstructure:"tracing"`
	Logging      LoggingConfig      `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port" mapstructure:"port"`
	Host string `yaml:"host" mapstructure:"host"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// InterceptionConfig controls what happens to requests no rule matches
type InterceptionConfig struct {
	ThrowOnMissingRegistration bool `yaml:"throwOnMissingRegistration" mapstructure:"throwOnMissingRegistration"`
	// Passthrough sends unmatched requests to the network
	Passthrough bool `yaml:"passthrough" mapstructure:"passthrough"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	MaxTraces int `yaml:"maxTraces" mapstructure:"maxTraces"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Interception: InterceptionConfig{
			ThrowOnMissingRegistration: true,
		},
		Tracing: TracingConfig{
			MaxTraces: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// SetDefaults registers the default settings with v, so keys absent from
// the config file and environment keep them
func SetDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("server.host", def.Server.Host)
	v.SetDefault("bundles", def.Bundles)
	v.SetDefault("interception.throwOnMissingRegistration", def.Interception.ThrowOnMissingRegistration)
	v.SetDefault("interception.passthrough", def.Interception.Passthrough)
	v.SetDefault("tracing.maxTraces", def.Tracing.MaxTraces)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)
}

// Load decodes and validates the settings merged by v
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Tracing.MaxTraces < 0 {
		return fmt.Errorf("tracing.maxTraces must not be negative")
	}
	return nil
}

// Marshal renders the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
