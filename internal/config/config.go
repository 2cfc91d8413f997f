package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Events     EventsConfig     `yaml:"events"`
	Identity   IdentityConfig   `yaml:"identity"`
	Assignment AssignmentConfig `yaml:"assignment"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	AdminToken  string `yaml:"admin_token"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type EventsConfig struct {
	URL string `yaml:"url"`
}

type IdentityConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type AssignmentConfig struct {
	MaxBatchSize        int `yaml:"max_batch_size"`
	ClaimTimeoutMinutes int `yaml:"claim_timeout_minutes"`
}

func (c *Config) ClaimTimeout() time.Duration {
	return time.Duration(c.Assignment.ClaimTimeoutMinutes) * time.Minute
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8700,
			MetricsPort: 8701,
		},
		Events: EventsConfig{
			URL: "nats://localhost:4222",
		},
		Identity: IdentityConfig{
			URL: "http://localhost:9190",
		},
		Assignment: AssignmentConfig{
			MaxBatchSize:        10,
			ClaimTimeoutMinutes: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CASEFLOW_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("CASEFLOW_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = n
		}
	}
	if v := os.Getenv("CASEFLOW_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("CASEFLOW_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("CASEFLOW_EVENTS_URL"); v != "" {
		cfg.Events.URL = v
	}
	if v := os.Getenv("CASEFLOW_IDENTITY_URL"); v != "" {
		cfg.Identity.URL = v
	}
	if v := os.Getenv("CASEFLOW_IDENTITY_TOKEN"); v != "" {
		cfg.Identity.Token = v
	}
	if v := os.Getenv("CASEFLOW_MAX_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Assignment.MaxBatchSize = n
		}
	}
	if v := os.Getenv("CASEFLOW_CLAIM_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Assignment.ClaimTimeoutMinutes = n
		}
	}
	if v := os.Getenv("CASEFLOW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
