package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models examline.yml.
type Config struct {
	Service struct {
		Name    string `yaml:"name"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"service"`
	Queue struct {
		UploadWindowMinutes  int `yaml:"upload_window_minutes"`
		SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
	} `yaml:"queue"`
	Uploads struct {
		MaxBytes     int64    `yaml:"max_bytes"`
		AllowedTypes []string `yaml:"allowed_types"`
	} `yaml:"uploads"`
	Notifications struct {
		Timezone string `yaml:"timezone"`
		Mail     struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			From     string `yaml:"from"`
			Username string `yaml:"username"`
		} `yaml:"mail"`
		WhatsApp struct {
			BaseURL     string `yaml:"base_url"`
			CountryCode string `yaml:"country_code"`
		} `yaml:"whatsapp"`
	} `yaml:"notifications"`
	Payments struct {
		Currency string `yaml:"currency"`
	} `yaml:"payments"`
}

// UploadWindow returns the proof upload window as a duration.
func (c *Config) UploadWindow() time.Duration {
	return time.Duration(c.Queue.UploadWindowMinutes) * time.Minute
}

// SweepInterval returns the expiry sweeper cadence.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Queue.SweepIntervalSeconds) * time.Second
}

// Location resolves the configured notification timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Notifications.Timezone)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with exl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("config.service.name is required")
	}
	if c.Queue.UploadWindowMinutes <= 0 {
		return fmt.Errorf("config.queue.upload_window_minutes must be positive")
	}
	if c.Queue.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("config.queue.sweep_interval_seconds must be positive")
	}
	if c.Uploads.MaxBytes <= 0 {
		return fmt.Errorf("config.uploads.max_bytes must be positive")
	}
	if len(c.Uploads.AllowedTypes) == 0 {
		return fmt.Errorf("config.uploads.allowed_types is required")
	}
	for _, t := range c.Uploads.AllowedTypes {
		if t == "" {
			return fmt.Errorf("config.uploads.allowed_types contains an empty entry")
		}
	}
	if c.Notifications.Timezone != "" {
		if _, err := time.LoadLocation(c.Notifications.Timezone); err != nil {
			return fmt.Errorf("config.notifications.timezone: %w", err)
		}
	}
	if c.Notifications.WhatsApp.BaseURL == "" {
		return fmt.Errorf("config.notifications.whatsapp.base_url is required")
	}
	if c.Payments.Currency == "" {
		return fmt.Errorf("config.payments.currency is required")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "examline.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

const defaultTemplate = `service:
  name: examline
  base_url: http://localhost:8080

queue:
  upload_window_minutes: 60
  sweep_interval_seconds: 120

uploads:
  max_bytes: 10485760
  allowed_types:
    - application/pdf
    - image/jpeg
    - image/png

notifications:
  timezone: America/Sao_Paulo
  mail:
    host: ""
    port: 587
    from: ""
    username: ""
  whatsapp:
    base_url: https://wa.me
    country_code: "55"

payments:
  currency: BRL
`
