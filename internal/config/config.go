// Package config loads arena server configuration from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Server holds all configuration for the arena server.
type Server struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// Auth
	TokenSecret      string `yaml:"token_secret"`
	TokenExpiryHours int    `yaml:"token_expiry_hours"`

	// Database
	Database DatabaseConfig `yaml:"database"`

	// Event feed (optional; empty URL disables publishing)
	NATSUrl string `yaml:"nats_url"`

	// Battle tuning
	BattleDuration   int     `yaml:"battle_duration"`    // seconds
	BattleGrace      int     `yaml:"battle_grace"`       // seconds battle record survives after finishing
	DamageRatePerSec float64 `yaml:"damage_rate_per_sec"` // max tower_damage reports per second per side
	DamageRateBurst  int     `yaml:"damage_rate_burst"`
	DamageCapPerSec  int     `yaml:"damage_cap_per_sec"`  // max cumulative HP per second per side

	// Challenge tuning
	ChallengeExpiry int `yaml:"challenge_expiry"` // seconds

	// Session tuning
	SendQueueSize int `yaml:"send_queue_size"`
	WriteTimeout  int `yaml:"write_timeout"` // seconds
	ReadTimeout   int `yaml:"read_timeout"`  // seconds

	// Logging
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
// An empty Host selects the in-memory store.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// Default returns Server config with sensible defaults.
func Default() Server {
	return Server{
		BindAddress:      "0.0.0.0",
		Port:             5004,
		TokenSecret:      "arena-royale-secret-change-in-production",
		TokenExpiryHours: 24 * 7,
		BattleDuration:   180,
		BattleGrace:      30,
		DamageRatePerSec: 10,
		DamageRateBurst:  30,
		DamageCapPerSec:  1200,
		ChallengeExpiry:  60,
		SendQueueSize:    256,
		WriteTimeout:     5,
		ReadTimeout:      120,
		LogLevel:         "info",
		Database: DatabaseConfig{
			Port:     5432,
			User:     "arena",
			Password: "arena",
			DBName:   "arena",
			SSLMode:  "disable",
		},
	}
}

// Load reads server config from a YAML file.
// If the file doesn't exist, returns defaults.
func Load(path string) (Server, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
