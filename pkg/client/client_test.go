package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/small-frappuccino/gatecore/pkg/discord"
)

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNewDefaultsIntents(t *testing.T) {
	c, err := New(Config{Token: "tok"})
	require.NoError(t, err)
	assert.NotNil(t, c.Cache())
	assert.NotNil(t, c.Rest())
	assert.NotNil(t, c.Bus())
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "envtoken")
	t.Setenv("GATEWAY_SHARD_COUNT", "3")
	t.Setenv("GATEWAY_INTENTS", "513")
	t.Setenv("MESSAGE_WINDOW_CAP", "250")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "envtoken", cfg.Token)
	assert.Equal(t, 3, cfg.ShardCount)
	assert.Equal(t, discord.IntentGuilds|discord.IntentGuildMessages, cfg.Intents)
	assert.Equal(t, 250, cfg.MessageWindowCap)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestListenerRegistration(t *testing.T) {
	c, err := New(Config{Token: "tok"})
	require.NoError(t, err)

	h := c.On(discord.EventReady, func(ctx context.Context, payload any) error { return nil })
	assert.Equal(t, 1, c.Bus().ListenerCount(discord.EventReady))
	assert.True(t, c.Off(h))
	assert.Equal(t, 0, c.Bus().ListenerCount(discord.EventReady))
}
