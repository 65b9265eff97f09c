package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models foiadesk.yml.
type Config struct {
	Service struct {
		Name        string `yaml:"name"`
		ReplyDomain string `yaml:"reply_domain"`
	} `yaml:"service"`
	Quota struct {
		MonthlyByTier map[string]int `yaml:"monthly_by_tier"`
	} `yaml:"quota"`
	Embargo struct {
		ExpireDays int `yaml:"expire_days"`
	} `yaml:"embargo"`
	Stale struct {
		DefaultDays   int            `yaml:"default_days"`
		Jurisdictions map[string]int `yaml:"jurisdictions"`
	} `yaml:"stale"`
	Channels struct {
		FromAddress string                `yaml:"from_address"`
		Email       ChannelProviderConfig `yaml:"email"`
		Fax         ChannelProviderConfig `yaml:"fax"`
		Portal      ChannelProviderConfig `yaml:"portal"`
	} `yaml:"channels"`
	Classifier struct {
		URL            string `yaml:"url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"classifier"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type ChannelProviderConfig struct {
	URL            string `yaml:"url"`
	Token          string `yaml:"token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate with fdk config init", path)
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
	if c.Service.ReplyDomain == "" {
		return fmt.Errorf("config.service.reply_domain is required")
	}
	if c.Embargo.ExpireDays <= 0 {
		return fmt.Errorf("config.embargo.expire_days must be positive")
	}
	if c.Stale.DefaultDays <= 0 {
		return fmt.Errorf("config.stale.default_days must be positive")
	}
	for jur, days := range c.Stale.Jurisdictions {
		if jur == "" {
			return fmt.Errorf("config.stale.jurisdictions contains empty jurisdiction")
		}
		if days <= 0 {
			return fmt.Errorf("stale override for %s must be positive", jur)
		}
	}
	for tier, n := range c.Quota.MonthlyByTier {
		if tier == "" {
			return fmt.Errorf("config.quota.monthly_by_tier contains empty tier")
		}
		if n < 0 {
			return fmt.Errorf("monthly quota for tier %s cannot be negative", tier)
		}
	}
	return nil
}

// StaleDays returns the stale threshold for a jurisdiction, falling back to the default.
func (c *Config) StaleDays(jurisdiction string) int {
	if days, ok := c.Stale.Jurisdictions[jurisdiction]; ok {
		return days
	}
	return c.Stale.DefaultDays
}

// MonthlyQuota returns the monthly allowance for an account tier.
func (c *Config) MonthlyQuota(tier string) int {
	if n, ok := c.Quota.MonthlyByTier[tier]; ok {
		return n
	}
	return c.Quota.MonthlyByTier["basic"]
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "foiadesk.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(serviceName string) string {
	return fmt.Sprintf(defaultTemplate, serviceName)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default(serviceName string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, serviceName))).Decode(&cfg)
	return &cfg
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

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `service:
  name: %s
  reply_domain: requests.foiadesk.example

quota:
  monthly_by_tier:
    basic: 4
    pro: 20
    org: 50

embargo:
  expire_days: 30

stale:
  default_days: 45
  jurisdictions:
    federal: 60
    ny: 30
    ca: 40

channels:
  from_address: requests@foiadesk.example
  email:
    url: ""
    timeout_seconds: 10
  fax:
    url: ""
    timeout_seconds: 15
  portal:
    url: ""
    timeout_seconds: 15

classifier:
  url: ""
  timeout_seconds: 10
`
