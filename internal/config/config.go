package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models swapline.yml.
type Config struct {
	Exchange struct {
		DefaultSessionMinutes int `yaml:"default_session_minutes"`
		MaxCommentLength      int `yaml:"max_comment_length"`
	} `yaml:"exchange"`
	Reminders struct {
		CronSpec        string `yaml:"cron_spec"`
		LeadTimeMinutes int    `yaml:"lead_time_minutes"`
	} `yaml:"reminders"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Exchange.DefaultSessionMinutes = 60
	cfg.Exchange.MaxCommentLength = 1000
	cfg.Reminders.CronSpec = "* * * * *"
	cfg.Reminders.LeadTimeMinutes = 30
	return cfg
}

// Path returns the config file location for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "swapline.yml")
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates a config document. Omitted fields take
// their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Exchange.DefaultSessionMinutes <= 0 {
		return fmt.Errorf("exchange.default_session_minutes must be positive")
	}
	if c.Exchange.MaxCommentLength <= 0 {
		return fmt.Errorf("exchange.max_comment_length must be positive")
	}
	if c.Reminders.CronSpec == "" {
		return fmt.Errorf("reminders.cron_spec is required")
	}
	if c.Reminders.LeadTimeMinutes <= 0 {
		return fmt.Errorf("reminders.lead_time_minutes must be positive")
	}
	return nil
}

// LeadTime returns the reminder look-ahead window as a duration.
func (c *Config) LeadTime() time.Duration {
	return time.Duration(c.Reminders.LeadTimeMinutes) * time.Minute
}

// ToYAML renders the config document.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}
