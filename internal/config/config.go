package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full server configuration, sourced from the environment
// with an optional .env file underneath.
type Config struct {
	// Database
	CassandraHost string        `env:"CASSANDRA_HOST" envDefault:"127.0.0.1"`
	CassandraPort int           `env:"CASSANDRA_PORT" envDefault:"9042"`
	MaxDBBuckets  int           `env:"MAX_DB_BUCKETS" envDefault:"0"`
	BucketReclaim time.Duration `env:"BUCKET_RECLAIM" envDefault:"120s"`

	// Listeners
	ControlAddr string `env:"CONTROL_ADDR" envDefault:":3000"`
	FilesAddr   string `env:"FILES_ADDR" envDefault:":8080"`
	QUICAddr    string `env:"QUIC_ADDR"`
	OpsAddr     string `env:"OPS_ADDR" envDefault:":8000"`

	// TLS (PEM pair; QUIC falls back to a self-signed certificate)
	TLSCert string `env:"TLS_CERT"`
	TLSKey  string `env:"TLS_KEY"`

	// File store
	FilesDir string `env:"FILES_DIR" envDefault:"/server_data"`

	// Accept admission
	AcceptRate  float64 `env:"ACCEPT_RATE" envDefault:"64"`
	AcceptBurst int     `env:"ACCEPT_BURST" envDefault:"128"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// Load reads the optional .env file, then the environment. Environment
// variables win over .env entries.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.CassandraHost == "" {
		return fmt.Errorf("CASSANDRA_HOST must not be empty")
	}
	if c.ControlAddr == "" || c.FilesAddr == "" {
		return fmt.Errorf("CONTROL_ADDR and FILES_ADDR must not be empty")
	}
	if c.FilesDir == "" {
		return fmt.Errorf("FILES_DIR must not be empty")
	}
	if c.AcceptRate <= 0 || c.AcceptBurst <= 0 {
		return fmt.Errorf("ACCEPT_RATE and ACCEPT_BURST must be positive")
	}
	if c.BucketReclaim < 0 {
		return fmt.Errorf("BUCKET_RECLAIM must not be negative")
	}
	if c.MaxDBBuckets < 0 {
		return fmt.Errorf("MAX_DB_BUCKETS must not be negative")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("TLS_CERT and TLS_KEY must be set together")
	}
	return nil
}
