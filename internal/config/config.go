// Package config loads client configuration from a YAML file, an optional
// .env file and CLINIC_CHAT_* environment variables, in that precedence
// order (env wins).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/medisync/clinic-chat/internal/api"
)

// Config holds everything the client needs to reach the server.
type Config struct {
	API struct {
		BaseURL        string `yaml:"base_url"`
		SessionID      string `yaml:"session_id"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"api"`
	WS struct {
		URL string `yaml:"url"`
	} `yaml:"ws"`
	Role string `yaml:"role"`
	Log  struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	// InstanceID identifies this client run in the logs. Generated, never
	// read from file.
	InstanceID string `yaml:"-"`
}

func defaults() *Config {
	cfg := &Config{}
	cfg.API.BaseURL = "http://localhost:8000"
	cfg.API.TimeoutSeconds = 10
	cfg.WS.URL = "ws://localhost:8000/ws"
	cfg.Role = string(api.RoleDoctor)
	cfg.Log.Level = "info"
	return cfg
}

// Load reads the config file at path (a missing file falls back to
// defaults), merges environment overrides and validates the result.
func Load(path string) (*Config, error) {
	// .env is a convenience for local runs; absence is fine
	_ = godotenv.Load()

	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// run on defaults + env
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	cfg.InstanceID = uuid.NewString()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CLINIC_CHAT_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("CLINIC_CHAT_SESSION_ID"); v != "" {
		cfg.API.SessionID = v
	}
	if v := os.Getenv("CLINIC_CHAT_API_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.API.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("CLINIC_CHAT_WS_URL"); v != "" {
		cfg.WS.URL = v
	}
	if v := os.Getenv("CLINIC_CHAT_ROLE"); v != "" {
		cfg.Role = v
	}
	if v := os.Getenv("CLINIC_CHAT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func (c *Config) validate() error {
	if !api.Role(c.Role).Valid() {
		return fmt.Errorf("invalid role %q: must be %q or %q", c.Role, api.RoleDoctor, api.RolePatient)
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url must be set")
	}
	if c.WS.URL == "" {
		return fmt.Errorf("ws.url must be set")
	}
	return nil
}

// APITimeout returns the request timeout as a duration.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}
