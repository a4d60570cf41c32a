package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config models gigline.yml. The active config is stored in the database
// (marketplace_configs) and imported explicitly; Default seeds a workspace
// that has none.
type Config struct {
	Marketplace struct {
		ID         string `yaml:"id" json:"id"`
		Currency   string `yaml:"currency" json:"currency"`
		OrderLabel string `yaml:"order_label" json:"order_label"`
	} `yaml:"marketplace" json:"marketplace"`
	Limits struct {
		// MaxPendingPerApplicant caps open proposals a single freelancer may
		// hold across all jobs. Zero means unlimited.
		MaxPendingPerApplicant int `yaml:"max_pending_per_applicant" json:"max_pending_per_applicant"`
	} `yaml:"limits" json:"limits"`
	Auth struct {
		AllowLegacyActorHeader bool `yaml:"allow_legacy_actor_header" json:"allow_legacy_actor_header"`
	} `yaml:"auth" json:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// Default returns the seed configuration for a marketplace id.
func Default(id string) *Config {
	cfg := &Config{}
	cfg.Marketplace.ID = id
	cfg.Marketplace.Currency = "USD"
	cfg.Marketplace.OrderLabel = "Job assignment"
	cfg.Limits.MaxPendingPerApplicant = 20
	return cfg
}

// FromYAML parses and validates a config document.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Marketplace.ID == "" {
		return fmt.Errorf("config.marketplace.id is required")
	}
	if c.Marketplace.Currency == "" {
		return fmt.Errorf("config.marketplace.currency is required")
	}
	if c.Marketplace.OrderLabel == "" {
		return fmt.Errorf("config.marketplace.order_label is required")
	}
	if c.Limits.MaxPendingPerApplicant < 0 {
		return fmt.Errorf("config.limits.max_pending_per_applicant must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}
