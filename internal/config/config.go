package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models missionline.yml.
type Config struct {
	Guild    string `yaml:"guild"`
	Channels struct {
		TradeCategory    string `yaml:"trade_category"`
		Operator         string `yaml:"operator"`
		TradeAlerts      string `yaml:"trade_alerts"`
		RestrictedAlerts string `yaml:"restricted_alerts"`
	} `yaml:"channels"`
	Roles struct {
		Owner   string `yaml:"owner"`
		Reserve string `yaml:"reserve"`
	} `yaml:"roles"`
	Timeouts struct {
		LockSeconds   int `yaml:"lock_seconds"`
		UploadSeconds int `yaml:"upload_seconds"`
	} `yaml:"timeouts"`
	Teardown struct {
		CompletedSeconds int `yaml:"completed_seconds"`
		AbandonedSeconds int `yaml:"abandoned_seconds"`
	} `yaml:"teardown"`
	Maintenance struct {
		InactivityDays int `yaml:"inactivity_days"`
		IntervalHours  int `yaml:"interval_hours"`
	} `yaml:"maintenance"`
	Commodities struct {
		Restricted string `yaml:"restricted"`
	} `yaml:"commodities"`
	Discussion struct {
		Enabled      bool   `yaml:"enabled"`
		StoppedLabel string `yaml:"stopped_label"`
	} `yaml:"discussion"`
	Webhooks struct {
		TimeoutSeconds int        `yaml:"timeout_seconds"`
		Feeds          []FeedHook `yaml:"feeds"`
	} `yaml:"webhooks"`
	Server struct {
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
}

// FeedHook subscribes an external URL to the audit event stream.
type FeedHook struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Channels.TradeCategory) == "" {
		return fmt.Errorf("config.channels.trade_category is required")
	}
	if strings.TrimSpace(c.Channels.Operator) == "" {
		return fmt.Errorf("config.channels.operator is required")
	}
	if strings.TrimSpace(c.Channels.TradeAlerts) == "" {
		return fmt.Errorf("config.channels.trade_alerts is required")
	}
	if strings.TrimSpace(c.Roles.Owner) == "" || strings.TrimSpace(c.Roles.Reserve) == "" {
		return fmt.Errorf("config.roles.owner and config.roles.reserve are required")
	}
	if c.Roles.Owner == c.Roles.Reserve {
		return fmt.Errorf("config.roles.owner and config.roles.reserve must differ")
	}
	for name, v := range map[string]int{
		"timeouts.lock_seconds":       c.Timeouts.LockSeconds,
		"timeouts.upload_seconds":     c.Timeouts.UploadSeconds,
		"teardown.completed_seconds":  c.Teardown.CompletedSeconds,
		"teardown.abandoned_seconds":  c.Teardown.AbandonedSeconds,
		"maintenance.inactivity_days": c.Maintenance.InactivityDays,
		"maintenance.interval_hours":  c.Maintenance.IntervalHours,
	} {
		if v <= 0 {
			return fmt.Errorf("config.%s must be positive", name)
		}
	}
	if c.Teardown.AbandonedSeconds > c.Teardown.CompletedSeconds {
		return fmt.Errorf("config.teardown.abandoned_seconds must not exceed completed_seconds")
	}
	if c.Webhooks.TimeoutSeconds < 0 {
		return fmt.Errorf("config.webhooks.timeout_seconds must not be negative")
	}
	for i, hook := range c.Webhooks.Feeds {
		if !strings.HasPrefix(hook.URL, "http://") && !strings.HasPrefix(hook.URL, "https://") {
			return fmt.Errorf("config.webhooks.feeds[%d].url must be http(s)", i)
		}
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	return nil
}

func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Timeouts.LockSeconds) * time.Second
}

func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.Timeouts.UploadSeconds) * time.Second
}

func (c *Config) CompletedDelay() time.Duration {
	return time.Duration(c.Teardown.CompletedSeconds) * time.Second
}

func (c *Config) AbandonedDelay() time.Duration {
	return time.Duration(c.Teardown.AbandonedSeconds) * time.Second
}

func (c *Config) InactivityThreshold() time.Duration {
	return time.Duration(c.Maintenance.InactivityDays) * 24 * time.Hour
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Maintenance.IntervalHours) * time.Hour
}

// AlertChannel is where a chat alert for commodity goes.
func (c *Config) AlertChannel(commodity string) string {
	if c.Channels.RestrictedAlerts != "" && strings.EqualFold(commodity, c.Commodities.Restricted) {
		return c.Channels.RestrictedAlerts
	}
	return c.Channels.TradeAlerts
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with ml init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "missionline.yml")
}

// GenerateDefault returns default config YAML for a guild.
func GenerateDefault(guild string) string {
	return fmt.Sprintf(defaultTemplate, guild)
}

// Default returns the default Config for a guild.
func Default(guild string) *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(GenerateDefault(guild)), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses config over the defaults and validates it, so a file only
// needs the keys it changes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `guild: "%s"

channels:
  trade_category: trade
  operator: bot-spam
  trade_alerts: trade-alerts
  restricted_alerts: wine-alerts

roles:
  owner: carrier-owner
  reserve: reserve-carrier

timeouts:
  lock_seconds: 120
  upload_seconds: 30

teardown:
  completed_seconds: 900
  abandoned_seconds: 120

maintenance:
  inactivity_days: 28
  interval_hours: 24

commodities:
  restricted: Wine

discussion:
  enabled: true
  stopped_label: stopped

webhooks:
  timeout_seconds: 5
  feeds: []

server:
  base_path: /v1
`
