package common

import (
	"fmt"
	"os"
	"time"

	"github.com/YanshiShield/YanshiShield-sub000/services"
	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration of an ssa-node process.
//
//	http_addr: ":8080"
//	admin_token: "admin:secret"
//	log_level: "info"
//	log_json: false
//	allowed_origins: ["http://localhost:3000"]
//	enable_pprof: false
//	shutdown_timeout: 10s
//	snapshot_retention: 24h
//	round_retention: 10m
//	keys:
//	  signing_key: ""      # hex Ed25519 seed or private key, generated if empty
//	  sealing_secret: ""   # hex, generated if empty
//	postgres:              # omit to keep snapshots in memory
//	  host: "localhost"
//	  port: 5432
//	  user: "ssa"
//	  password: "ssa"
//	  database: "ssa"
//	peers:
//	  - participant_id: "server"
//	    endpoint: "http://node-a:8080"
//	    public_key: "..."
type Config struct {
	HTTPAddr        string        `yaml:"http_addr"`
	AdminToken      string        `yaml:"admin_token"`
	LogLevel        string        `yaml:"log_level"`
	LogJSON         bool          `yaml:"log_json"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	EnablePprof     bool          `yaml:"enable_pprof"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// SnapshotRetention bounds how long sealed snapshots stay in Postgres.
	SnapshotRetention time.Duration `yaml:"snapshot_retention"`

	// RoundRetention is how long finished rounds stay queryable on the node.
	RoundRetention time.Duration `yaml:"round_retention"`

	Keys     KeysConfig               `yaml:"keys"`
	Postgres *services.PostgresConfig `yaml:"postgres"`
	Peers    []*services.PeerInfo     `yaml:"peers"`
}

// KeysConfig holds hex-encoded key material.
type KeysConfig struct {
	SigningKey    string `yaml:"signing_key"`
	SealingSecret string `yaml:"sealing_secret"`
}

// DefaultConfig returns the settings used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:          ":8080",
		LogLevel:          "info",
		ShutdownTimeout:   10 * time.Second,
		SnapshotRetention: 24 * time.Hour,
		RoundRetention:    services.DefaultRoundRetention,
	}
}

// LoadConfig reads a YAML file over DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields a node cannot start without.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	if c.Postgres != nil && c.Postgres.Host == "" {
		return fmt.Errorf("postgres.host is required when postgres is configured")
	}
	for i, p := range c.Peers {
		if p == nil || p.ParticipantID == "" {
			return fmt.Errorf("peers[%d]: participant_id is required", i)
		}
	}
	return nil
}
