// Package discord holds the wire-level data model shared by the gateway,
// the REST client, and the entity cache. Entities are value-like snapshots:
// the cache never hands out live references into its own storage, so a
// snapshot delivered to a listener stays valid as a historical view.
package discord

import "time"

// EntityKind enumerates the cacheable entity classes. The cache and the
// event pipeline treat entities as a closed tagged variant over these kinds.
type EntityKind int

const (
	KindUser EntityKind = iota
	KindMember
	KindRole
	KindChannel
	KindGuild
	KindMessage
	KindEmoji
	KindScheduledEvent
	KindStageInstance
)

func (k EntityKind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindMember:
		return "member"
	case KindRole:
		return "role"
	case KindChannel:
		return "channel"
	case KindGuild:
		return "guild"
	case KindMessage:
		return "message"
	case KindEmoji:
		return "emoji"
	case KindScheduledEvent:
		return "scheduled_event"
	case KindStageInstance:
		return "stage_instance"
	default:
		return "unknown"
	}
}

// ChannelType is the numeric channel class from the API.
type ChannelType int

const (
	ChannelTypeGuildText     ChannelType = 0
	ChannelTypeDM            ChannelType = 1
	ChannelTypeGuildVoice    ChannelType = 2
	ChannelTypeGroupDM       ChannelType = 3
	ChannelTypeGuildCategory ChannelType = 4
	ChannelTypeGuildNews     ChannelType = 5
	ChannelTypeGuildStage    ChannelType = 13
)

// User is the globally deduplicated account entity. Members reference users
// by id; they never embed a private copy of these fields.
type User struct {
	ID            Snowflake `json:"id"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator"`
	Avatar        string    `json:"avatar,omitempty"`
	Banner        string    `json:"banner,omitempty"`
	AccentColor   int       `json:"accent_color,omitempty"`
	Bot           bool      `json:"bot,omitempty"`
	System        bool      `json:"system,omitempty"`
	PublicFlags   int       `json:"public_flags,omitempty"`
}

// Member is a user's per-guild state. UserID is derived from the embedded
// user object on the wire; the canonical User lives in the global partition.
type Member struct {
	GuildID      Snowflake   `json:"guild_id,omitempty"`
	UserID       Snowflake   `json:"-"`
	Nick         string      `json:"nick,omitempty"`
	Avatar       string      `json:"avatar,omitempty"`
	Roles        []Snowflake `json:"roles,omitempty"`
	JoinedAt     time.Time   `json:"joined_at,omitzero"`
	PremiumSince *time.Time  `json:"premium_since,omitempty"`
	Deaf         bool        `json:"deaf,omitempty"`
	Mute         bool        `json:"mute,omitempty"`
	Pending      bool        `json:"pending,omitempty"`
}

// Role is a guild role. Iteration order of cached roles follows Position,
// which is the API's hierarchy order.
type Role struct {
	ID           Snowflake `json:"id"`
	GuildID      Snowflake `json:"guild_id,omitempty"`
	Name         string    `json:"name"`
	Color        int       `json:"color,omitempty"`
	Hoist        bool      `json:"hoist,omitempty"`
	Position     int       `json:"position"`
	Permissions  string    `json:"permissions,omitempty"`
	Managed      bool      `json:"managed,omitempty"`
	Mentionable  bool      `json:"mentionable,omitempty"`
	UnicodeEmoji string    `json:"unicode_emoji,omitempty"`
}

// Channel covers every channel class; Type discriminates. DM channels have a
// zero GuildID and live in the global partition.
type Channel struct {
	ID               Snowflake   `json:"id"`
	GuildID          Snowflake   `json:"guild_id,omitempty"`
	Type             ChannelType `json:"type"`
	Name             string      `json:"name,omitempty"`
	Topic            string      `json:"topic,omitempty"`
	Position         int         `json:"position,omitempty"`
	ParentID         Snowflake   `json:"parent_id,omitempty"`
	NSFW             bool        `json:"nsfw,omitempty"`
	LastMessageID    Snowflake   `json:"last_message_id,omitempty"`
	RateLimitPerUser int         `json:"rate_limit_per_user,omitempty"`
	Bitrate          int         `json:"bitrate,omitempty"`
	UserLimit        int         `json:"user_limit,omitempty"`
	Recipients       []User      `json:"recipients,omitempty"`
}

// Guild is the guild-level snapshot. Bulk collections (members, channels,
// roles) are not stored here; they live in the guild's cache partition.
type Guild struct {
	ID                Snowflake `json:"id"`
	Name              string    `json:"name,omitempty"`
	Icon              string    `json:"icon,omitempty"`
	Description       string    `json:"description,omitempty"`
	OwnerID           Snowflake `json:"owner_id,omitempty"`
	AFKChannelID      Snowflake `json:"afk_channel_id,omitempty"`
	AFKTimeout        int       `json:"afk_timeout,omitempty"`
	SystemChannelID   Snowflake `json:"system_channel_id,omitempty"`
	RulesChannelID    Snowflake `json:"rules_channel_id,omitempty"`
	VerificationLevel int       `json:"verification_level,omitempty"`
	PreferredLocale   string    `json:"preferred_locale,omitempty"`
	MemberCount       int       `json:"member_count,omitempty"`
	Large             bool      `json:"large,omitempty"`
	Unavailable       bool      `json:"unavailable,omitempty"`
	Features          []string  `json:"features,omitempty"`
	JoinedAt          time.Time `json:"joined_at,omitzero"`
}

// Message is a single chat message. Author carries the wire payload's user
// object; the cache upserts it into the global partition on apply.
type Message struct {
	ID              Snowflake   `json:"id"`
	ChannelID       Snowflake   `json:"channel_id"`
	GuildID         Snowflake   `json:"guild_id,omitempty"`
	Author          *User       `json:"author,omitempty"`
	Content         string      `json:"content,omitempty"`
	Timestamp       time.Time   `json:"timestamp,omitzero"`
	EditedTimestamp *time.Time  `json:"edited_timestamp,omitempty"`
	TTS             bool        `json:"tts,omitempty"`
	Pinned          bool        `json:"pinned,omitempty"`
	MentionEveryone bool        `json:"mention_everyone,omitempty"`
	MentionRoles    []Snowflake `json:"mention_roles,omitempty"`
	Type            int         `json:"type,omitempty"`
	WebhookID       Snowflake   `json:"webhook_id,omitempty"`
}

// Emoji is a guild custom emoji.
type Emoji struct {
	ID        Snowflake   `json:"id"`
	GuildID   Snowflake   `json:"guild_id,omitempty"`
	Name      string      `json:"name"`
	Roles     []Snowflake `json:"roles,omitempty"`
	Managed   bool        `json:"managed,omitempty"`
	Animated  bool        `json:"animated,omitempty"`
	Available bool        `json:"available,omitempty"`
}

// ScheduledEvent is a guild scheduled event.
type ScheduledEvent struct {
	ID          Snowflake  `json:"id"`
	GuildID     Snowflake  `json:"guild_id"`
	ChannelID   Snowflake  `json:"channel_id,omitempty"`
	CreatorID   Snowflake  `json:"creator_id,omitempty"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	StartTime   time.Time  `json:"scheduled_start_time,omitzero"`
	EndTime     *time.Time `json:"scheduled_end_time,omitempty"`
	Status      int        `json:"status,omitempty"`
	EntityType  int        `json:"entity_type,omitempty"`
}

// StageInstance is a live stage in a stage channel.
type StageInstance struct {
	ID                   Snowflake `json:"id"`
	GuildID              Snowflake `json:"guild_id"`
	ChannelID            Snowflake `json:"channel_id"`
	Topic                string    `json:"topic,omitempty"`
	PrivacyLevel         int       `json:"privacy_level,omitempty"`
	DiscoverableDisabled bool      `json:"discoverable_disabled,omitempty"`
}
