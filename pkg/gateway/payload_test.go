package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/small-frappuccino/gatecore/pkg/discord"
)

func TestCloseCodeClassification(t *testing.T) {
	fatal := []int{4004, 4010, 4011, 4012, 4013, 4014}
	for _, code := range fatal {
		assert.True(t, isFatalCloseCode(code), "code %d must be fatal", code)
	}
	retryable := []int{1000, 1001, 1006, 4000, 4001, 4002, 4003, 4005, 4007, 4008, 4009}
	for _, code := range retryable {
		assert.False(t, isFatalCloseCode(code), "code %d must be retryable", code)
	}

	assert.True(t, invalidatesSession(4007))
	assert.True(t, invalidatesSession(4009))
	assert.False(t, invalidatesSession(4008))
	assert.False(t, invalidatesSession(4004), "fatal codes end the shard, not just the session")
}

func TestShardForGuild(t *testing.T) {
	// The shard key uses only the timestamp bits above the low 22.
	a := discord.Snowflake(1 << 22)
	b := discord.Snowflake(2 << 22)
	assert.Equal(t, 1, ShardForGuild(a, 2))
	assert.Equal(t, 0, ShardForGuild(b, 2))
	assert.Equal(t, 0, ShardForGuild(a, 1))
	assert.Equal(t, 0, ShardForGuild(a, 0), "zero shard count degrades to shard 0")

	// The low increment bits never influence routing.
	assert.Equal(t, ShardForGuild(a, 16), ShardForGuild(a|0x3FFFFF, 16))
}
