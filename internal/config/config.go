// Package config provides configuration loading and validation for the
// authorization server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Option defines the interface for configuration options.
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration.
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file.
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure.
type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Database    *DatabaseConfig    `yaml:"database,omitempty"`
	Token       TokenConfig        `yaml:"token"`
	Cache       CacheConfig        `yaml:"cache,omitempty"`
	Connections []ConnectionConfig `yaml:"connections,omitempty"`
	Seed        *SeedConfig        `yaml:"seed,omitempty"`
}

// ServerConfig defines the HTTP listener settings.
type ServerConfig struct {
	Address string `yaml:"address,omitempty"`
}

// DatabaseConfig defines the PostgreSQL connection settings. When absent the
// server runs on the in-memory store (development and tests only).
type DatabaseConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	Password        string `yaml:"password,omitempty"`
	Database        string `yaml:"database"`
	SSLMode         string `yaml:"sslMode,omitempty"`
	MaxOpenConns    int    `yaml:"maxOpenConns,omitempty"`
	MaxIdleConns    int    `yaml:"maxIdleConns,omitempty"`
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// TokenConfig defines token signing and lifetime settings.
type TokenConfig struct {
	// ClientSecret signs every token the server mints or validates.
	ClientSecret string `yaml:"clientSecret"`

	// ClientSecretIsBase64 marks the secret as base64-encoded.
	ClientSecretIsBase64 bool `yaml:"clientSecretIsBase64,omitempty"`

	// Expiration is the normal token lifetime, e.g. "1h".
	Expiration string `yaml:"expiration,omitempty"`

	// LongTermExpiration is the long-term token lifetime, e.g. "720h".
	LongTermExpiration string `yaml:"longTermExpiration,omitempty"`

	// MaxSessionLength bounds a login session, e.g. "8h".
	MaxSessionLength string `yaml:"maxSessionLength,omitempty"`
}

// CacheConfig bounds the per-user caches.
type CacheConfig struct {
	RuleCacheSize int `yaml:"ruleCacheSize,omitempty"`
}

// ConnectionConfig declares an identity-provider connection. A strict
// connection removes all implicit trust from the authorization path: users
// from it are denied when no privileges or rules apply.
type ConnectionConfig struct {
	Label     string `yaml:"label"`
	ID        string `yaml:"id"`
	Subprefix string `yaml:"subprefix,omitempty"`
	Strict    bool   `yaml:"strict,omitempty"`
}

// SeedConfig declares the baseline entities the seed command provisions.
// Missing baseline configuration aborts startup reconciliation.
type SeedConfig struct {
	Applications []SeedApplication `yaml:"applications,omitempty"`
	Roles        []SeedRole        `yaml:"roles,omitempty"`
}

// SeedApplication declares a registered client application.
type SeedApplication struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	URL         string `yaml:"url,omitempty"`
}

// SeedRole declares a role with its privileges.
type SeedRole struct {
	Name       string   `yaml:"name"`
	Privileges []string `yaml:"privileges,omitempty"`
}

const (
	defaultAddress            = ":8080"
	defaultTokenExpiration    = time.Hour
	defaultLongTermExpiration = 30 * 24 * time.Hour
	defaultMaxSessionLength   = 8 * time.Hour
)

// NewConfig loads a configuration with the given options.
func NewConfig(opts ...Option) (*Config, error) {
	loader := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loader); err != nil {
			return nil, err
		}
	}
	if loader.path == "" {
		return nil, fmt.Errorf("no configuration source provided")
	}

	data, err := os.ReadFile(loader.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for completeness and well-formed values.
func (c *Config) Validate() error {
	if c.Token.ClientSecret == "" {
		return fmt.Errorf("token.clientSecret is required")
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"token.expiration", c.Token.Expiration},
		{"token.longTermExpiration", c.Token.LongTermExpiration},
		{"token.maxSessionLength", c.Token.MaxSessionLength},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("invalid %s: %w", field.name, err)
		}
	}
	if c.Database != nil {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required")
		}
		if c.Database.Port == 0 {
			return fmt.Errorf("database.port is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database.database is required")
		}
		if c.Database.ConnMaxLifetime != "" {
			if _, err := time.ParseDuration(c.Database.ConnMaxLifetime); err != nil {
				return fmt.Errorf("invalid database.connMaxLifetime: %w", err)
			}
		}
	}
	seen := make(map[string]struct{})
	for _, conn := range c.Connections {
		if conn.Label == "" || conn.ID == "" {
			return fmt.Errorf("every connection needs a label and an id")
		}
		if _, ok := seen[conn.ID]; ok {
			return fmt.Errorf("duplicate connection id %q", conn.ID)
		}
		seen[conn.ID] = struct{}{}
	}
	return nil
}

// Address returns the configured listen address or the default.
func (c *Config) Address() string {
	if c.Server.Address == "" {
		return defaultAddress
	}
	return c.Server.Address
}

func (c *Config) duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// TokenExpiration returns the normal token lifetime.
func (c *Config) TokenExpiration() time.Duration {
	return c.duration(c.Token.Expiration, defaultTokenExpiration)
}

// LongTermTokenExpiration returns the long-term token lifetime.
func (c *Config) LongTermTokenExpiration() time.Duration {
	return c.duration(c.Token.LongTermExpiration, defaultLongTermExpiration)
}

// MaxSessionLength returns the maximum session duration.
func (c *Config) MaxSessionLength() time.Duration {
	return c.duration(c.Token.MaxSessionLength, defaultMaxSessionLength)
}
