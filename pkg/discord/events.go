package discord

// Wire dispatch names (the `t` field of an opcode-0 frame).
const (
	DispatchReady                = "READY"
	DispatchResumed              = "RESUMED"
	DispatchGuildCreate          = "GUILD_CREATE"
	DispatchGuildUpdate          = "GUILD_UPDATE"
	DispatchGuildDelete          = "GUILD_DELETE"
	DispatchGuildMemberAdd       = "GUILD_MEMBER_ADD"
	DispatchGuildMemberUpdate    = "GUILD_MEMBER_UPDATE"
	DispatchGuildMemberRemove    = "GUILD_MEMBER_REMOVE"
	DispatchGuildRoleCreate      = "GUILD_ROLE_CREATE"
	DispatchGuildRoleUpdate      = "GUILD_ROLE_UPDATE"
	DispatchGuildRoleDelete      = "GUILD_ROLE_DELETE"
	DispatchGuildEmojisUpdate    = "GUILD_EMOJIS_UPDATE"
	DispatchChannelCreate        = "CHANNEL_CREATE"
	DispatchChannelUpdate        = "CHANNEL_UPDATE"
	DispatchChannelDelete        = "CHANNEL_DELETE"
	DispatchMessageCreate        = "MESSAGE_CREATE"
	DispatchMessageUpdate        = "MESSAGE_UPDATE"
	DispatchMessageDelete        = "MESSAGE_DELETE"
	DispatchUserUpdate           = "USER_UPDATE"
	DispatchTypingStart          = "TYPING_START"
	DispatchScheduledEventCreate = "GUILD_SCHEDULED_EVENT_CREATE"
	DispatchScheduledEventUpdate = "GUILD_SCHEDULED_EVENT_UPDATE"
	DispatchScheduledEventDelete = "GUILD_SCHEDULED_EVENT_DELETE"
	DispatchStageInstanceCreate  = "STAGE_INSTANCE_CREATE"
	DispatchStageInstanceUpdate  = "STAGE_INSTANCE_UPDATE"
	DispatchStageInstanceDelete  = "STAGE_INSTANCE_DELETE"
)

// Listener-facing event names. Creations carry a single entity; updates carry
// a before/after pair (before may be nil when the entity was not cached).
const (
	EventConnect              = "connect"
	EventReady                = "ready"
	EventResumed              = "resumed"
	EventShardDisconnect      = "shard_disconnect"
	EventGuildJoin            = "guild_join"
	EventGuildUpdate          = "guild_update"
	EventGuildLeave           = "guild_leave"
	EventGuildUnavailable     = "guild_unavailable"
	EventMemberJoin           = "member_join"
	EventMemberUpdate         = "member_update"
	EventMemberLeave          = "member_leave"
	EventRoleCreate           = "role_create"
	EventRoleUpdate           = "role_update"
	EventRoleDelete           = "role_delete"
	EventEmojisUpdate         = "emojis_update"
	EventChannelCreate        = "channel_create"
	EventChannelUpdate        = "channel_update"
	EventChannelDelete        = "channel_delete"
	EventMessageCreate        = "message_create"
	EventMessageUpdate        = "message_update"
	EventMessageDelete        = "message_delete"
	EventUserUpdate           = "user_update"
	EventTypingStart          = "typing_start"
	EventScheduledEventCreate = "scheduled_event_create"
	EventScheduledEventUpdate = "scheduled_event_update"
	EventScheduledEventDelete = "scheduled_event_delete"
	EventStageInstanceCreate  = "stage_instance_create"
	EventStageInstanceUpdate  = "stage_instance_update"
	EventStageInstanceDelete  = "stage_instance_delete"
)

// ReadyEvent fires once per shard after the initial GUILD_CREATE burst drains.
type ReadyEvent struct {
	ShardID   int
	SessionID string
	User      *User
	Guilds    []Snowflake
}

// ConnectEvent fires as soon as a shard receives READY, before guild state
// has been replayed.
type ConnectEvent struct {
	ShardID int
	User    *User
}

// ResumedEvent fires when a shard successfully resumes a prior session.
type ResumedEvent struct {
	ShardID  int
	Sequence int64
}

// ShardDisconnectEvent fires when a shard loses its socket; Reconnecting
// distinguishes a retryable drop from a terminal close.
type ShardDisconnectEvent struct {
	ShardID      int
	Code         int
	Reconnecting bool
}

// GuildJoinEvent carries the freshly loaded guild snapshot.
type GuildJoinEvent struct{ Guild *Guild }

// GuildUpdateEvent carries before/after guild snapshots.
type GuildUpdateEvent struct{ Before, After *Guild }

// GuildLeaveEvent carries the last known snapshot of a removed guild.
// Unavailable is true when the guild went down rather than the bot leaving.
type GuildLeaveEvent struct {
	Guild       *Guild
	Unavailable bool
}

// MemberJoinEvent carries a new member and its canonical user snapshot.
type MemberJoinEvent struct {
	Member *Member
	User   *User
}

// MemberUpdateEvent carries before/after member snapshots.
type MemberUpdateEvent struct {
	GuildID       Snowflake
	Before, After *Member
}

// MemberLeaveEvent carries the last cached member snapshot, which may be nil
// when the member intent is disabled.
type MemberLeaveEvent struct {
	GuildID Snowflake
	UserID  Snowflake
	Member  *Member
}

// RoleCreateEvent, RoleUpdateEvent, RoleDeleteEvent follow the same shape.
type RoleCreateEvent struct{ Role *Role }

type RoleUpdateEvent struct{ Before, After *Role }

type RoleDeleteEvent struct {
	GuildID Snowflake
	Role    *Role
}

// EmojisUpdateEvent carries the full before/after emoji sets of a guild;
// the wire replays the complete list on every change.
type EmojisUpdateEvent struct {
	GuildID       Snowflake
	Before, After []Emoji
}

type ChannelCreateEvent struct{ Channel *Channel }

type ChannelUpdateEvent struct{ Before, After *Channel }

type ChannelDeleteEvent struct{ Channel *Channel }

// MessageCreateEvent carries the new message snapshot.
type MessageCreateEvent struct{ Message *Message }

// MessageUpdateEvent carries the prior snapshot when the message was still in
// the channel's window; Before is nil once it has been evicted.
type MessageUpdateEvent struct{ Before, After *Message }

// MessageDeleteEvent carries the last cached snapshot, or just ids when the
// message had already left the window.
type MessageDeleteEvent struct {
	ID        Snowflake
	ChannelID Snowflake
	GuildID   Snowflake
	Message   *Message
}

type UserUpdateEvent struct{ Before, After *User }

// TypingStartEvent passes through without touching the cache.
type TypingStartEvent struct {
	ChannelID Snowflake `json:"channel_id"`
	GuildID   Snowflake `json:"guild_id,omitempty"`
	UserID    Snowflake `json:"user_id"`
	Timestamp int64     `json:"timestamp"`
}

type ScheduledEventCreateEvent struct{ Event *ScheduledEvent }

type ScheduledEventUpdateEvent struct{ Before, After *ScheduledEvent }

type ScheduledEventDeleteEvent struct{ Event *ScheduledEvent }

type StageInstanceCreateEvent struct{ Stage *StageInstance }

type StageInstanceUpdateEvent struct{ Before, After *StageInstance }

type StageInstanceDeleteEvent struct{ Stage *StageInstance }
