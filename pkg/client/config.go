package client

import (
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/small-frappuccino/gatecore/pkg/discord"
)

// Config is the full client configuration. Zero values fall back to sane
// defaults in New, so a Config with just a Token is usable.
type Config struct {
	// Token is the bot token. Required.
	Token string `env:"DISCORD_BOT_TOKEN"`

	// Intents select which event groups the gateway delivers. Zero means
	// the default unprivileged set.
	Intents discord.Intents `env:"GATEWAY_INTENTS"`

	// ShardCount of 0 uses the server's recommendation.
	ShardCount int `env:"GATEWAY_SHARD_COUNT"`

	// GatewayURL overrides endpoint discovery, mainly for tests.
	GatewayURL string `env:"GATEWAY_URL"`

	// APIBaseURL overrides the REST root, mainly for tests.
	APIBaseURL string `env:"API_BASE_URL"`

	// MessageWindowCap bounds per-channel message retention. 0 means the
	// default of 1000; negative disables message caching.
	MessageWindowCap int `env:"MESSAGE_WINDOW_CAP"`

	// SessionDBPath, when set, persists resume state in SQLite so restarts
	// resume instead of re-identifying.
	SessionDBPath string `env:"SESSION_DB_PATH"`

	// MetricsAddr, when set, serves Prometheus metrics on this address.
	MetricsAddr string `env:"METRICS_ADDR"`

	// LogDir, when set, rotates JSON logs into this directory.
	LogDir string `env:"LOG_DIR"`

	// LogLevel is debug, info, warn, or error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadConfig reads configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Token == "" {
		return fmt.Errorf("client: token is required")
	}
	return nil
}
