package discord

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// Epoch is the Discord epoch: the first second of 2015, in milliseconds
// since the Unix epoch. Snowflake timestamps are offsets from it.
const Epoch = 1420070400000

// Snowflake is a 64-bit unique identifier assigned by Discord. The upper 42
// bits embed the creation timestamp; the rest identify the worker/process and
// a per-process increment. The wire representation is a decimal string.
type Snowflake uint64

// ParseSnowflake parses the decimal string form used on the wire.
func ParseSnowflake(s string) (Snowflake, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse snowflake %q: %w", s, err)
	}
	return Snowflake(v), nil
}

// IsZero reports whether the snowflake is unset.
func (s Snowflake) IsZero() bool { return s == 0 }

// Time returns the creation time embedded in the snowflake.
func (s Snowflake) Time() time.Time {
	ms := int64(s>>22) + Epoch
	return time.UnixMilli(ms).UTC()
}

func (s Snowflake) String() string {
	if s == 0 {
		return ""
	}
	return strconv.FormatUint(uint64(s), 10)
}

// MarshalJSON encodes the snowflake as a JSON string, or null when unset,
// matching how the API transmits ids.
func (s Snowflake) MarshalJSON() ([]byte, error) {
	if s == 0 {
		return []byte("null"), nil
	}
	return []byte(`"` + strconv.FormatUint(uint64(s), 10) + `"`), nil
}

// UnmarshalJSON accepts a JSON string, number, or null.
func (s *Snowflake) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = 0
		return nil
	}
	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("unmarshal snowflake: %w", err)
	}
	*s = Snowflake(v)
	return nil
}
