/*
Package configs is responsible for loading and parsing the application's
configuration settings.

All values come from environment variables, parsed into the AppConfig struct
via caarlos0/env tags, with validation of the few fields that have hard
operational constraints.
*/
package configs

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// AppConfig contains all configuration parameters required for the application to run.
type AppConfig struct {
	// General Server Settings
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Port        int    `env:"PORT" envDefault:"8080"`

	// Security Settings
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	// Presence Engine Settings
	MaxConnsPerOrigin int           `env:"MAX_CONNS_PER_ORIGIN" envDefault:"10"`
	MoveCooldown      time.Duration `env:"MOVE_COOLDOWN" envDefault:"100ms"`
	InactivityTimeout time.Duration `env:"INACTIVITY_TIMEOUT" envDefault:"5m"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"60s"`

	// Handshake Rate Limiting
	HandshakeRate  float64 `env:"HANDSHAKE_RATE" envDefault:"0.2"`
	HandshakeBurst int     `env:"HANDSHAKE_BURST" envDefault:"5"`
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// LoadConfig reads and validates the application configuration from
// environment variables. It returns a pointer to the AppConfig struct and any
// error encountered.
func LoadConfig() (*AppConfig, error) {
	cfg := &AppConfig{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.Port < 1024 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", cfg.Port, 1024, 65535)
	}

	if cfg.MaxConnsPerOrigin < 1 {
		return nil, fmt.Errorf("MAX_CONNS_PER_ORIGIN must be at least 1, got %d", cfg.MaxConnsPerOrigin)
	}

	if cfg.MoveCooldown < 0 || cfg.InactivityTimeout <= 0 || cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("presence timing settings must be positive")
	}

	return cfg, nil
}
