// Package config loads the process configuration from defaults, an optional
// YAML file, and environment variable overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Broker      BrokerConfig      `yaml:"broker"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Auth        AuthConfig        `yaml:"auth"`
	Seed        SeedConfig        `yaml:"seed"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

type BrokerConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Port         int    `yaml:"port"`
	DataDir      string `yaml:"data_dir"`
	MaxMemory    int64  `yaml:"max_memory"`
	MaxFileStore int64  `yaml:"max_file_store"`
	Domain       string `yaml:"domain"`
}

type BridgeConfig struct {
	LocationRatePerSec float64 `yaml:"location_rate_per_sec"`
	LocationBurst      int     `yaml:"location_burst"`
}

type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

type AuthConfig struct {
	Token string `yaml:"token"` // empty disables bearer auth
}

type SeedConfig struct {
	Demo bool `yaml:"demo"` // seed sample vehicles/zones/missions at boot
}

func Load(configPath string) (*Config, error) {
	config := &Config{}
	config.setDefaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.loadFromEnv()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func (c *Config) setDefaults() {
	c.Server.Port = 8080
	c.Server.ReadTimeout = 15 * time.Second
	c.Server.WriteTimeout = 15 * time.Second
	c.Server.IdleTimeout = 60 * time.Second

	c.Broker.Enabled = true
	c.Broker.Port = 4222
	c.Broker.DataDir = "./data/nats"
	c.Broker.MaxMemory = 256 * 1024 * 1024
	c.Broker.MaxFileStore = 1024 * 1024 * 1024
	c.Broker.Domain = "groundctl"

	c.Bridge.LocationRatePerSec = 5
	c.Bridge.LocationBurst = 10

	c.Persistence.Enabled = false
	c.Persistence.DBPath = "./data/groundctl.db"

	c.Seed.Demo = false
}

func (c *Config) loadFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if port := os.Getenv("GROUNDCTL_NATS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Broker.Port = p
		}
	}
	if v := os.Getenv("GROUNDCTL_NATS_ENABLED"); v != "" {
		c.Broker.Enabled = v == "true" || v == "1"
	}
	if dir := os.Getenv("GROUNDCTL_NATS_DATA_DIR"); dir != "" {
		c.Broker.DataDir = dir
	}
	if v := os.Getenv("GROUNDCTL_PERSISTENCE_ENABLED"); v != "" {
		c.Persistence.Enabled = v == "true" || v == "1"
	}
	if path := os.Getenv("GROUNDCTL_DB_PATH"); path != "" {
		c.Persistence.DBPath = path
	}
	if token := os.Getenv("GROUNDCTL_API_TOKEN"); token != "" {
		c.Auth.Token = token
	}
	if v := os.Getenv("GROUNDCTL_SEED_DEMO"); v != "" {
		c.Seed.Demo = v == "true" || v == "1"
	}
	if rate := os.Getenv("GROUNDCTL_LOCATION_RATE"); rate != "" {
		if r, err := strconv.ParseFloat(rate, 64); err == nil {
			c.Bridge.LocationRatePerSec = r
		}
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	if c.Broker.Enabled && (c.Broker.Port <= 0 || c.Broker.Port > 65535) {
		return fmt.Errorf("broker port out of range: %d", c.Broker.Port)
	}
	if c.Bridge.LocationRatePerSec <= 0 {
		return fmt.Errorf("location rate must be positive: %v", c.Bridge.LocationRatePerSec)
	}
	if c.Bridge.LocationBurst <= 0 {
		return fmt.Errorf("location burst must be positive: %d", c.Bridge.LocationBurst)
	}
	if c.Persistence.Enabled && c.Persistence.DBPath == "" {
		return fmt.Errorf("persistence enabled but db_path is empty")
	}
	return nil
}
