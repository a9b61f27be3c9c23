package discord

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSnowflake(t *testing.T) {
	s, err := ParseSnowflake("175928847299117063")
	require.NoError(t, err)
	assert.Equal(t, Snowflake(175928847299117063), s)

	s, err = ParseSnowflake("")
	require.NoError(t, err)
	assert.True(t, s.IsZero())

	_, err = ParseSnowflake("not-a-number")
	assert.Error(t, err)
}

func TestSnowflakeTime(t *testing.T) {
	// The reference snowflake from the API documentation.
	s := Snowflake(175928847299117063)
	want := time.Date(2016, time.April, 30, 11, 18, 25, 796*int(time.Millisecond), time.UTC)
	assert.Equal(t, want, s.Time())
}

func TestSnowflakeJSON(t *testing.T) {
	type wrapper struct {
		ID Snowflake `json:"id"`
	}

	data, err := json.Marshal(wrapper{ID: 42})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": "42"}`, string(data))

	data, err = json.Marshal(wrapper{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": null}`, string(data))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"id": "42"}`), &w))
	assert.Equal(t, Snowflake(42), w.ID)
	require.NoError(t, json.Unmarshal([]byte(`{"id": null}`), &w))
	assert.True(t, w.ID.IsZero())
}

func TestIntents(t *testing.T) {
	i := IntentGuilds | IntentGuildMessages
	assert.True(t, i.Has(IntentGuilds))
	assert.False(t, i.Has(IntentGuildMembers))
	assert.True(t, IntentsAll().Has(IntentGuildScheduledEvents))
	assert.False(t, IntentsUnprivileged().Has(IntentGuildMembers))
}
