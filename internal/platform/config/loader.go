package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Load reads configuration from a YAML file and environment variables.
// Priority: ENV > YAML > defaults (via env-default tags).
// The YAML path comes from CONFIG_PATH (fallback "./config.yaml"). When the
// fallback file is absent, configuration comes from ENV and defaults only.
func Load() (*Config, error) {
	var cfg Config

	path := os.Getenv("CONFIG_PATH")
	explicitPath := path != ""
	if !explicitPath {
		path = "./config.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if explicitPath {
		return nil, fmt.Errorf("config: file %s: %w", path, err)
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}

	cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// Endpoint budgets. Token validation tolerates more attempts than account
// creation because users retype codes.
var (
	defaultInvitePolicy        = PolicyConfig{Window: time.Hour, MaxAttempts: 20}
	defaultValidateTokenPolicy = PolicyConfig{Window: 15 * time.Minute, MaxAttempts: 10}
	defaultCreateAccountPolicy = PolicyConfig{Window: 15 * time.Minute, MaxAttempts: 5}
)

// WithDefaults fills unset rate limit policies and derived notification values.
func (c *Config) WithDefaults() {
	c.RateLimit.Invite = c.RateLimit.Invite.orDefault(defaultInvitePolicy)
	c.RateLimit.ValidateToken = c.RateLimit.ValidateToken.orDefault(defaultValidateTokenPolicy)
	c.RateLimit.CreateAccount = c.RateLimit.CreateAccount.orDefault(defaultCreateAccountPolicy)
	if c.Notification.InlineAttempts <= 0 || c.Notification.InlineAttempts > c.Notification.MaxAttempts {
		c.Notification.InlineAttempts = c.Notification.MaxAttempts
	}
}

func (p PolicyConfig) orDefault(def PolicyConfig) PolicyConfig {
	if p.Window <= 0 {
		p.Window = def.Window
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	return p
}
