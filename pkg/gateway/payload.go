package gateway

import (
	"encoding/json"

	"github.com/small-frappuccino/gatecore/pkg/discord"
)

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11
)

// Close codes the server uses for terminal conditions. These are fatal: the
// session must not retry.
const (
	closeAuthenticationFailed = 4004
	closeInvalidShard         = 4010
	closeShardingRequired     = 4011
	closeInvalidAPIVersion    = 4012
	closeInvalidIntents       = 4013
	closeDisallowedIntents    = 4014
)

// Close codes after which the session id is no longer resumable.
const (
	closeInvalidSeq     = 4007
	closeSessionTimeout = 4009
)

func isFatalCloseCode(code int) bool {
	switch code {
	case closeAuthenticationFailed, closeInvalidShard, closeShardingRequired,
		closeInvalidAPIVersion, closeInvalidIntents, closeDisallowedIntents:
		return true
	}
	return false
}

func invalidatesSession(code int) bool {
	switch code {
	case closeInvalidSeq, closeSessionTimeout:
		return true
	}
	return false
}

// frame is the wire envelope of every gateway message.
type frame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // milliseconds
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    discord.Intents    `json:"intents"`
	Shard      [2]int             `json:"shard"`
	Compress   bool               `json:"compress,omitempty"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

// readyData is the payload of the READY dispatch.
type readyData struct {
	Version          int                `json:"v"`
	User             *discord.User      `json:"user"`
	Guilds           []unavailableGuild `json:"guilds"`
	SessionID        string             `json:"session_id"`
	ResumeGatewayURL string             `json:"resume_gateway_url"`
}

type unavailableGuild struct {
	ID          discord.Snowflake `json:"id"`
	Unavailable bool              `json:"unavailable"`
}
