// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts Go duration strings like "30s" or "15m" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Logging struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"logging"`

	Auth struct {
		JWKSURL         string   `yaml:"jwks_url"`
		Issuer          string   `yaml:"issuer"`
		Audience        string   `yaml:"audience"`
		RefreshInterval Duration `yaml:"refresh_interval"`
		KeyTTL          Duration `yaml:"key_ttl"`
	} `yaml:"auth"`

	Storage struct {
		// Driver selects the backend: "postgres" or "bolt".
		Driver   string `yaml:"driver"`
		Postgres struct {
			URL string `yaml:"url"`
		} `yaml:"postgres"`
		Bolt struct {
			Path string `yaml:"path"`
		} `yaml:"bolt"`
	} `yaml:"storage"`

	RabbitMQ struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"rabbitmq"`

	Publisher struct {
		Buffer      int      `yaml:"buffer"`
		MaxAttempts uint64   `yaml:"max_attempts"`
		MaxInterval Duration `yaml:"max_interval"`
	} `yaml:"publisher"`

	Consumers struct {
		Workers int `yaml:"workers"`
	} `yaml:"consumers"`
}

func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "postgres"
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "task.events"
	}
	if c.Auth.KeyTTL <= 0 {
		c.Auth.KeyTTL = Duration(time.Hour)
	}
	if c.Auth.RefreshInterval <= 0 {
		c.Auth.RefreshInterval = Duration(15 * time.Minute)
	}
	if c.Publisher.Buffer <= 0 {
		c.Publisher.Buffer = 1024
	}
	if c.Publisher.MaxAttempts == 0 {
		c.Publisher.MaxAttempts = 5
	}
	if c.Publisher.MaxInterval <= 0 {
		c.Publisher.MaxInterval = Duration(30 * time.Second)
	}
	if c.Consumers.Workers <= 0 {
		c.Consumers.Workers = 4
	}
}
