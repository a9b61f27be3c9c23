package discord

// Intents is the bitmask negotiated at identify time. Each bit gates a
// category of dispatch events; the cache only populates entity classes whose
// intent is present.
type Intents uint64

const (
	IntentGuilds                 Intents = 1 << 0
	IntentGuildMembers           Intents = 1 << 1
	IntentGuildBans              Intents = 1 << 2
	IntentGuildEmojis            Intents = 1 << 3
	IntentGuildIntegrations      Intents = 1 << 4
	IntentGuildWebhooks          Intents = 1 << 5
	IntentGuildInvites           Intents = 1 << 6
	IntentGuildVoiceStates       Intents = 1 << 7
	IntentGuildPresences         Intents = 1 << 8
	IntentGuildMessages          Intents = 1 << 9
	IntentGuildMessageReactions  Intents = 1 << 10
	IntentGuildMessageTyping     Intents = 1 << 11
	IntentDirectMessages         Intents = 1 << 12
	IntentDirectMessageReactions Intents = 1 << 13
	IntentDirectMessageTyping    Intents = 1 << 14
	IntentMessageContent         Intents = 1 << 15
	IntentGuildScheduledEvents   Intents = 1 << 16
)

// IntentsAll enables every intent, privileged ones included.
func IntentsAll() Intents {
	var all Intents
	for bit := Intents(1); bit <= IntentGuildScheduledEvents; bit <<= 1 {
		all |= bit
	}
	return all
}

// IntentsUnprivileged enables everything except members and presences, which
// require explicit enablement in the developer portal.
func IntentsUnprivileged() Intents {
	return IntentsAll() &^ (IntentGuildMembers | IntentGuildPresences)
}

// IntentsDefault covers guilds, messages, and scheduled events; enough for a
// typical bot that does not need member or presence tracking.
func IntentsDefault() Intents {
	return IntentGuilds | IntentGuildMessages | IntentDirectMessages | IntentGuildScheduledEvents
}

// Has reports whether every bit in flag is set.
func (i Intents) Has(flag Intents) bool { return i&flag == flag }
