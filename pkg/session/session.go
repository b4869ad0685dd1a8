// Package session provides engine and connection configuration for PolyORM.
package session

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Engine kinds a session can target.
const (
	EngineSQL      = "sql"
	EngineDocument = "document"
)

// Config holds the configuration for a PolyORM session.
type Config struct {
	// Engine selects the backend: "sql" or "document".
	Engine string `yaml:"engine"`
	// DSN is the SQL connection string (sql engine).
	DSN string `yaml:"dsn"`
	// URI is the document-store connection string (document engine).
	URI string `yaml:"uri"`
	// Database is the document-store database name.
	Database string `yaml:"database"`
	// MaxPerPage caps Paginate page sizes.
	MaxPerPage int `yaml:"max_per_page"`
	// LogLevel is one of debug, info, warn, error, disabled.
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine:     EngineSQL,
		MaxPerPage: 100,
		LogLevel:   "warn",
	}
}

// LoadConfig reads a YAML config file, filling unset fields with defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Engine {
	case EngineSQL, EngineDocument:
	default:
		return fmt.Errorf("unknown engine %q", c.Engine)
	}
	if c.MaxPerPage <= 0 {
		c.MaxPerPage = 100
	}
	return nil
}
