// Package cache is the shared entity cache. It turns raw dispatch payloads
// into immutable before/after snapshot pairs: every upsert constructs a fresh
// snapshot by merging the delta over the prior one, stores the new value, and
// returns both. Callers never receive live references into cache storage.
//
// Partitioning follows entity ownership: one partition per guild (members,
// roles, channels, emojis, scheduled events, stage instances), a global
// deduplicated user partition, global DM channels, and a bounded FIFO message
// window per channel. Writes within one guild are serialized; unrelated
// guilds never block each other.
package cache

import (
	"encoding/json"
	"sync"

	"github.com/small-frappuccino/gatecore/pkg/discord"
)

// DefaultMessageWindowCap bounds each channel's message window unless
// configured otherwise.
const DefaultMessageWindowCap = 1000

// Config controls cache behavior.
type Config struct {
	// MessageWindowCap is the per-channel message window capacity.
	// Zero means DefaultMessageWindowCap; negative disables message caching.
	MessageWindowCap int

	// Intents gates which entity classes populate. Dispatches for an absent
	// intent still decode (so events can fire with payload-only data) but are
	// never stored, and lookups for that class return absent.
	Intents discord.Intents
}

// Cache is safe for concurrent use by multiple shards and REST handlers.
type Cache struct {
	cfg Config

	mu           sync.RWMutex
	guilds       map[discord.Snowflake]*partition
	channelIndex map[discord.Snowflake]discord.Snowflake // channel id -> owning guild (0 for DM)

	dmMu sync.Mutex
	dms  map[discord.Snowflake]*discord.Channel

	msgMu   sync.Mutex
	windows map[discord.Snowflake]*messageWindow

	users *userPartition

	selfMu sync.RWMutex
	self   *discord.User
}

// New creates an empty cache.
func New(cfg Config) *Cache {
	if cfg.MessageWindowCap == 0 {
		cfg.MessageWindowCap = DefaultMessageWindowCap
	}
	return &Cache{
		cfg:          cfg,
		guilds:       make(map[discord.Snowflake]*partition),
		channelIndex: make(map[discord.Snowflake]discord.Snowflake),
		dms:          make(map[discord.Snowflake]*discord.Channel),
		windows:      make(map[discord.Snowflake]*messageWindow),
		users:        newUserPartition(),
	}
}

// MemberPayload is the wire shape of a member object: per-guild fields plus
// an embedded user object that the cache normalizes into the global
// partition.
type MemberPayload struct {
	discord.Member
	User *discord.User `json:"user"`
}

// GuildCreateData is the bulk payload of a GUILD_CREATE dispatch.
type GuildCreateData struct {
	discord.Guild
	Members         []MemberPayload          `json:"members,omitempty"`
	Channels        []discord.Channel        `json:"channels,omitempty"`
	Roles           []discord.Role           `json:"roles,omitempty"`
	Emojis          []discord.Emoji          `json:"emojis,omitempty"`
	ScheduledEvents []discord.ScheduledEvent `json:"guild_scheduled_events,omitempty"`
	StageInstances  []discord.StageInstance  `json:"stage_instances,omitempty"`
}

// SetSelf pins the client's own account. The self user survives guild churn.
func (c *Cache) SetSelf(u *discord.User) {
	if u == nil {
		return
	}
	snapshot := *u
	c.selfMu.Lock()
	c.self = &snapshot
	c.selfMu.Unlock()
	c.users.setSelf(u)
}

// Self returns the client's own account snapshot, if known.
func (c *Cache) Self() *discord.User {
	c.selfMu.RLock()
	defer c.selfMu.RUnlock()
	return snapshotOf(c.self)
}

func (c *Cache) trackGuilds() bool   { return c.cfg.Intents.Has(discord.IntentGuilds) }
func (c *Cache) trackMembers() bool  { return c.cfg.Intents.Has(discord.IntentGuildMembers) }
func (c *Cache) trackEmojis() bool   { return c.cfg.Intents.Has(discord.IntentGuildEmojis) }
func (c *Cache) trackEvents() bool   { return c.cfg.Intents.Has(discord.IntentGuildScheduledEvents) }
func (c *Cache) trackMessages(guildID discord.Snowflake) bool {
	if c.cfg.MessageWindowCap < 0 {
		return false
	}
	if guildID.IsZero() {
		return c.cfg.Intents.Has(discord.IntentDirectMessages)
	}
	return c.cfg.Intents.Has(discord.IntentGuildMessages)
}

// partitionFor returns the guild's partition, or nil if the guild is unknown.
func (c *Cache) partitionFor(guildID discord.Snowflake) *partition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.guilds[guildID]
}

// --- guilds ---

// AddUnavailableGuild records a READY guild stub so the later GUILD_CREATE is
// classified as "became available" rather than "joined".
func (c *Cache) AddUnavailableGuild(id discord.Snowflake) {
	if !c.trackGuilds() || id.IsZero() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.guilds[id]; ok {
		return
	}
	c.guilds[id] = newPartition(&discord.Guild{ID: id, Unavailable: true})
}

// ApplyGuildCreate bulk-loads a GUILD_CREATE payload: the guild snapshot plus
// its members, roles, channels, emojis, scheduled events, and stage
// instances. Returns the prior guild snapshot (a READY stub for guilds that
// were unavailable, nil on a true join) and the new one.
func (c *Cache) ApplyGuildCreate(raw json.RawMessage) (before, after *discord.Guild, err error) {
	var data GuildCreateData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, nil, err
	}
	data.Unavailable = false
	guild := data.Guild

	if !c.trackGuilds() {
		return nil, &guild, nil
	}

	c.mu.Lock()
	p, existed := c.guilds[guild.ID]
	if !existed {
		p = newPartition(nil)
		c.guilds[guild.ID] = p
	}
	for i := range data.Channels {
		c.channelIndex[data.Channels[i].ID] = guild.ID
	}
	c.mu.Unlock()

	p.mu.Lock()
	before = p.guild
	p.guild = snapshotOf(&guild)

	for i := range data.Roles {
		r := data.Roles[i]
		r.GuildID = guild.ID
		p.roles[r.ID] = &r
	}
	for i := range data.Channels {
		ch := data.Channels[i]
		ch.GuildID = guild.ID
		p.channels[ch.ID] = &ch
	}
	p.emojis = append([]discord.Emoji(nil), data.Emojis...)
	for i := range data.ScheduledEvents {
		ev := data.ScheduledEvents[i]
		p.scheduledEvents[ev.ID] = &ev
	}
	for i := range data.StageInstances {
		st := data.StageInstances[i]
		p.stageInstances[st.ID] = &st
	}

	var retained []MemberPayload
	if c.trackMembers() {
		for i := range data.Members {
			m := data.Members[i]
			if m.User == nil {
				continue
			}
			m.GuildID = guild.ID
			m.UserID = m.User.ID
			if _, seen := p.members[m.UserID]; !seen {
				retained = append(retained, m)
			}
			member := m.Member
			p.members[m.UserID] = &member
		}
	}
	p.mu.Unlock()

	// User refcounts are taken after the partition lock is released; the
	// ordering rule is partition lock first, user lock second, never nested.
	for i := range retained {
		c.users.retain(retained[i].User)
	}
	return before, &guild, nil
}

// UpsertGuild merges a GUILD_UPDATE delta over the cached snapshot.
// Before is nil when the guild is not cached; the merged value is still
// returned so the event can fire with payload data.
func (c *Cache) UpsertGuild(raw json.RawMessage) (before, after *discord.Guild, err error) {
	var probe struct {
		ID discord.Snowflake `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, nil, err
	}
	p := c.partitionFor(probe.ID)
	if p == nil || !c.trackGuilds() {
		merged, err := mergeInto[discord.Guild](nil, raw)
		return nil, merged, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	merged, err := mergeInto(p.guild, raw)
	if err != nil {
		return nil, nil, err
	}
	before = p.guild
	p.guild = merged
	return before, snapshotOf(merged), nil
}

// RemoveGuild drops the guild partition in one operation. When unavailable is
// true the guild went down rather than the bot leaving: the partition is kept
// and only flagged, since membership did not change. A real removal evicts
// every member, role, and channel of the guild, drops the message windows of
// its channels, and releases one user reference per member.
func (c *Cache) RemoveGuild(id discord.Snowflake, unavailable bool) (*discord.Guild, bool) {
	c.mu.Lock()
	p, ok := c.guilds[id]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	if unavailable {
		c.mu.Unlock()
		p.mu.Lock()
		defer p.mu.Unlock()
		before := p.guild
		if before == nil {
			return nil, false
		}
		next := *before
		next.Unavailable = true
		p.guild = &next
		return before, true
	}

	delete(c.guilds, id)
	p.mu.Lock()
	channelIDs := make([]discord.Snowflake, 0, len(p.channels))
	for chID := range p.channels {
		channelIDs = append(channelIDs, chID)
		delete(c.channelIndex, chID)
	}
	c.mu.Unlock()

	snapshot := p.guild
	memberIDs := p.memberIDs()
	p.mu.Unlock()

	c.msgMu.Lock()
	for _, chID := range channelIDs {
		delete(c.windows, chID)
	}
	c.msgMu.Unlock()

	c.users.releaseAll(memberIDs)
	return snapshot, snapshot != nil
}

// Guild returns the cached guild snapshot.
func (c *Cache) Guild(id discord.Snowflake) (*discord.Guild, bool) {
	p := c.partitionFor(id)
	if p == nil {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.guild == nil {
		return nil, false
	}
	return snapshotOf(p.guild), true
}

// GuildIDs returns the ids of all cached guilds.
func (c *Cache) GuildIDs() []discord.Snowflake {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]discord.Snowflake, 0, len(c.guilds))
	for id := range c.guilds {
		out = append(out, id)
	}
	return out
}

// --- members ---

// UpsertMember merges a member payload (add or update) and returns the
// before/after pair. The embedded user object is normalized into the global
// partition; a brand-new member takes a reference on its user.
func (c *Cache) UpsertMember(guildID discord.Snowflake, raw json.RawMessage) (before, after *discord.Member, err error) {
	var payload MemberPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, err
	}
	if payload.User == nil || payload.User.ID.IsZero() {
		return nil, nil, errMissingUser
	}
	userID := payload.User.ID

	p := c.partitionFor(guildID)
	if p == nil || !c.trackMembers() {
		merged, err := c.decodeMemberDelta(nil, guildID, userID, raw)
		if err != nil {
			return nil, nil, err
		}
		return nil, merged, nil
	}

	p.mu.Lock()
	prior := p.members[userID]
	merged, err := c.decodeMemberDelta(prior, guildID, userID, raw)
	if err != nil {
		p.mu.Unlock()
		return nil, nil, err
	}
	p.members[userID] = merged
	p.mu.Unlock()

	if prior == nil {
		c.users.retain(payload.User)
	} else {
		c.users.upsert(payload.User)
	}
	return prior, snapshotOf(merged), nil
}

// decodeMemberDelta merges raw over prior and pins the identity fields that
// are not carried inside the member object itself.
func (c *Cache) decodeMemberDelta(prior *discord.Member, guildID, userID discord.Snowflake, raw json.RawMessage) (*discord.Member, error) {
	var env MemberPayload
	if prior != nil {
		env.Member = *prior
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	m := env.Member
	m.GuildID = guildID
	m.UserID = userID
	return &m, nil
}

// RemoveMember evicts a member and releases its user reference.
func (c *Cache) RemoveMember(guildID, userID discord.Snowflake) (*discord.Member, bool) {
	p := c.partitionFor(guildID)
	if p == nil {
		return nil, false
	}
	p.mu.Lock()
	m, ok := p.members[userID]
	if ok {
		delete(p.members, userID)
	}
	p.mu.Unlock()
	if !ok {
		return nil, false
	}
	c.users.release(userID)
	return m, true
}

// Member returns the cached member snapshot.
func (c *Cache) Member(guildID, userID discord.Snowflake) (*discord.Member, bool) {
	p := c.partitionFor(guildID)
	if p == nil {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.members[userID]
	return snapshotOf(m), ok
}

// MembersOf returns snapshots of every cached member of the guild.
func (c *Cache) MembersOf(guildID discord.Snowflake) []discord.Member {
	p := c.partitionFor(guildID)
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]discord.Member, 0, len(p.members))
	for _, m := range p.members {
		out = append(out, *m)
	}
	return out
}

// --- users ---

// UpsertUser merges a user delta (USER_UPDATE) over the canonical snapshot.
func (c *Cache) UpsertUser(raw json.RawMessage) (before, after *discord.User, err error) {
	var probe struct {
		ID discord.Snowflake `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, nil, err
	}
	prior, _ := c.users.get(probe.ID)
	merged, err := mergeInto(prior, raw)
	if err != nil {
		return nil, nil, err
	}
	before, after = c.users.upsert(merged)

	c.selfMu.Lock()
	if c.self != nil && c.self.ID == merged.ID {
		c.self = after
	}
	c.selfMu.Unlock()
	return before, snapshotOf(after), nil
}

// User returns the canonical user snapshot.
func (c *Cache) User(id discord.Snowflake) (*discord.User, bool) {
	u, ok := c.users.get(id)
	return snapshotOf(u), ok
}

// --- roles ---

// UpsertRole merges a role create/update delta.
func (c *Cache) UpsertRole(guildID discord.Snowflake, raw json.RawMessage) (before, after *discord.Role, err error) {
	var probe struct {
		ID discord.Snowflake `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, nil, err
	}
	p := c.partitionFor(guildID)
	if p == nil || !c.trackGuilds() {
		merged, err := mergeInto[discord.Role](nil, raw)
		if merged != nil {
			merged.GuildID = guildID
		}
		return nil, merged, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	prior := p.roles[probe.ID]
	merged, err := mergeInto(prior, raw)
	if err != nil {
		return nil, nil, err
	}
	merged.GuildID = guildID
	p.roles[probe.ID] = merged
	return prior, snapshotOf(merged), nil
}

// RemoveRole evicts a role.
func (c *Cache) RemoveRole(guildID, roleID discord.Snowflake) (*discord.Role, bool) {
	p := c.partitionFor(guildID)
	if p == nil {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.roles[roleID]
	if ok {
		delete(p.roles, roleID)
	}
	return r, ok
}

// Role returns the cached role snapshot.
func (c *Cache) Role(guildID, roleID discord.Snowflake) (*discord.Role, bool) {
	p := c.partitionFor(guildID)
	if p == nil {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.roles[roleID]
	return snapshotOf(r), ok
}

// RolesOf returns the guild's roles in hierarchy (position) order.
func (c *Cache) RolesOf(guildID discord.Snowflake) []discord.Role {
	p := c.partitionFor(guildID)
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rolesByPosition()
}

// --- channels ---

// UpsertChannel merges a channel create/update delta, routing to the owning
// guild partition or, for DMs, the global DM map.
func (c *Cache) UpsertChannel(raw json.RawMessage) (before, after *discord.Channel, err error) {
	var probe struct {
		ID      discord.Snowflake   `json:"id"`
		GuildID discord.Snowflake   `json:"guild_id"`
		Type    discord.ChannelType `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, nil, err
	}

	if probe.Type == discord.ChannelTypeDM || probe.Type == discord.ChannelTypeGroupDM {
		c.dmMu.Lock()
		defer c.dmMu.Unlock()
		prior := c.dms[probe.ID]
		merged, err := mergeInto(prior, raw)
		if err != nil {
			return nil, nil, err
		}
		c.dms[probe.ID] = merged
		for i := range merged.Recipients {
			if prior == nil {
				c.users.retain(&merged.Recipients[i])
			} else {
				c.users.upsert(&merged.Recipients[i])
			}
		}
		return prior, snapshotOf(merged), nil
	}

	p := c.partitionFor(probe.GuildID)
	if p == nil || !c.trackGuilds() {
		merged, err := mergeInto[discord.Channel](nil, raw)
		return nil, merged, err
	}

	c.mu.Lock()
	c.channelIndex[probe.ID] = probe.GuildID
	c.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	prior := p.channels[probe.ID]
	merged, err := mergeInto(prior, raw)
	if err != nil {
		return nil, nil, err
	}
	p.channels[probe.ID] = merged
	return prior, snapshotOf(merged), nil
}

// RemoveChannel evicts a channel and its message window.
func (c *Cache) RemoveChannel(guildID, channelID discord.Snowflake) (*discord.Channel, bool) {
	var (
		ch *discord.Channel
		ok bool
	)
	if guildID.IsZero() {
		c.dmMu.Lock()
		ch, ok = c.dms[channelID]
		if ok {
			delete(c.dms, channelID)
		}
		c.dmMu.Unlock()
		if ok {
			for i := range ch.Recipients {
				c.users.release(ch.Recipients[i].ID)
			}
		}
	} else {
		p := c.partitionFor(guildID)
		if p == nil {
			return nil, false
		}
		p.mu.Lock()
		ch, ok = p.channels[channelID]
		if ok {
			delete(p.channels, channelID)
		}
		p.mu.Unlock()
		c.mu.Lock()
		delete(c.channelIndex, channelID)
		c.mu.Unlock()
	}
	if !ok {
		return nil, false
	}
	c.msgMu.Lock()
	delete(c.windows, channelID)
	c.msgMu.Unlock()
	return ch, true
}

// Channel resolves a channel by id alone, searching the owning guild
// partition via the channel index and falling back to DM channels.
func (c *Cache) Channel(id discord.Snowflake) (*discord.Channel, bool) {
	c.mu.RLock()
	guildID, indexed := c.channelIndex[id]
	c.mu.RUnlock()
	if indexed {
		p := c.partitionFor(guildID)
		if p == nil {
			return nil, false
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		ch, ok := p.channels[id]
		return snapshotOf(ch), ok
	}
	c.dmMu.Lock()
	defer c.dmMu.Unlock()
	ch, ok := c.dms[id]
	return snapshotOf(ch), ok
}

// ChannelsOf returns snapshots of every cached channel of the guild.
func (c *Cache) ChannelsOf(guildID discord.Snowflake) []discord.Channel {
	p := c.partitionFor(guildID)
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]discord.Channel, 0, len(p.channels))
	for _, ch := range p.channels {
		out = append(out, *ch)
	}
	return out
}

// --- emojis ---

// SetGuildEmojis replaces the guild's emoji set (the wire replays the full
// list on every change) and returns the before/after sets.
func (c *Cache) SetGuildEmojis(guildID discord.Snowflake, emojis []discord.Emoji) (before, after []discord.Emoji) {
	after = append([]discord.Emoji(nil), emojis...)
	p := c.partitionFor(guildID)
	if p == nil || !c.trackEmojis() {
		return nil, after
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	before = p.emojis
	p.emojis = after
	return before, append([]discord.Emoji(nil), after...)
}

// EmojisOf returns the guild's cached emoji set.
func (c *Cache) EmojisOf(guildID discord.Snowflake) []discord.Emoji {
	p := c.partitionFor(guildID)
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]discord.Emoji(nil), p.emojis...)
}

// --- scheduled events ---

// UpsertScheduledEvent merges a scheduled event create/update delta.
func (c *Cache) UpsertScheduledEvent(raw json.RawMessage) (before, after *discord.ScheduledEvent, err error) {
	var probe struct {
		ID      discord.Snowflake `json:"id"`
		GuildID discord.Snowflake `json:"guild_id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, nil, err
	}
	p := c.partitionFor(probe.GuildID)
	if p == nil || !c.trackEvents() {
		merged, err := mergeInto[discord.ScheduledEvent](nil, raw)
		return nil, merged, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	prior := p.scheduledEvents[probe.ID]
	merged, err := mergeInto(prior, raw)
	if err != nil {
		return nil, nil, err
	}
	p.scheduledEvents[probe.ID] = merged
	return prior, snapshotOf(merged), nil
}

// RemoveScheduledEvent evicts a scheduled event.
func (c *Cache) RemoveScheduledEvent(guildID, eventID discord.Snowflake) (*discord.ScheduledEvent, bool) {
	p := c.partitionFor(guildID)
	if p == nil {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ev, ok := p.scheduledEvents[eventID]
	if ok {
		delete(p.scheduledEvents, eventID)
	}
	return ev, ok
}

// ScheduledEvent returns the cached scheduled event snapshot.
func (c *Cache) ScheduledEvent(guildID, eventID discord.Snowflake) (*discord.ScheduledEvent, bool) {
	p := c.partitionFor(guildID)
	if p == nil {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ev, ok := p.scheduledEvents[eventID]
	return snapshotOf(ev), ok
}

// --- stage instances ---

// UpsertStageInstance merges a stage instance create/update delta.
func (c *Cache) UpsertStageInstance(raw json.RawMessage) (before, after *discord.StageInstance, err error) {
	var probe struct {
		ID      discord.Snowflake `json:"id"`
		GuildID discord.Snowflake `json:"guild_id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, nil, err
	}
	p := c.partitionFor(probe.GuildID)
	if p == nil || !c.trackGuilds() {
		merged, err := mergeInto[discord.StageInstance](nil, raw)
		return nil, merged, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	prior := p.stageInstances[probe.ID]
	merged, err := mergeInto(prior, raw)
	if err != nil {
		return nil, nil, err
	}
	p.stageInstances[probe.ID] = merged
	return prior, snapshotOf(merged), nil
}

// RemoveStageInstance evicts a stage instance.
func (c *Cache) RemoveStageInstance(guildID, stageID discord.Snowflake) (*discord.StageInstance, bool) {
	p := c.partitionFor(guildID)
	if p == nil {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.stageInstances[stageID]
	if ok {
		delete(p.stageInstances, stageID)
	}
	return st, ok
}

// --- messages ---

// AddMessage inserts a new message into its channel's window, evicting the
// oldest entry at capacity. The author is upserted into the user partition
// without taking a reference; authorship alone does not pin a user.
func (c *Cache) AddMessage(raw json.RawMessage) (*discord.Message, error) {
	var msg discord.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	if msg.Author != nil && msg.WebhookID.IsZero() {
		c.users.upsert(msg.Author)
	}
	if !c.trackMessages(msg.GuildID) {
		return &msg, nil
	}
	c.msgMu.Lock()
	defer c.msgMu.Unlock()
	w, ok := c.windows[msg.ChannelID]
	if !ok {
		w = newMessageWindow(c.cfg.MessageWindowCap)
		c.windows[msg.ChannelID] = w
	}
	w.add(snapshotOf(&msg))
	return &msg, nil
}

// UpdateMessage merges an edit delta over the cached snapshot. Before is nil
// when the message already left the window; the merged payload is still
// returned so the event can fire with whatever fields the delta carried.
func (c *Cache) UpdateMessage(raw json.RawMessage) (before, after *discord.Message, err error) {
	var probe struct {
		ID        discord.Snowflake `json:"id"`
		ChannelID discord.Snowflake `json:"channel_id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, nil, err
	}
	c.msgMu.Lock()
	defer c.msgMu.Unlock()
	w, ok := c.windows[probe.ChannelID]
	if !ok {
		merged, err := mergeInto[discord.Message](nil, raw)
		return nil, merged, err
	}
	prior, _ := w.get(probe.ID)
	merged, err := mergeInto(prior, raw)
	if err != nil {
		return nil, nil, err
	}
	if prior != nil {
		w.replace(merged)
	}
	return prior, snapshotOf(merged), nil
}

// RemoveMessage evicts a message from its channel's window.
func (c *Cache) RemoveMessage(channelID, messageID discord.Snowflake) (*discord.Message, bool) {
	c.msgMu.Lock()
	defer c.msgMu.Unlock()
	w, ok := c.windows[channelID]
	if !ok {
		return nil, false
	}
	return w.remove(messageID)
}

// Message returns the cached message snapshot.
func (c *Cache) Message(channelID, messageID discord.Snowflake) (*discord.Message, bool) {
	c.msgMu.Lock()
	defer c.msgMu.Unlock()
	w, ok := c.windows[channelID]
	if !ok {
		return nil, false
	}
	m, ok := w.get(messageID)
	return snapshotOf(m), ok
}

// MessagesOf returns the channel's window contents, oldest first.
func (c *Cache) MessagesOf(channelID discord.Snowflake) []discord.Message {
	c.msgMu.Lock()
	defer c.msgMu.Unlock()
	w, ok := c.windows[channelID]
	if !ok {
		return nil
	}
	out := make([]discord.Message, 0, len(w.order))
	for _, id := range w.order {
		if m, ok := w.byID[id]; ok {
			out = append(out, *m)
		}
	}
	return out
}

// Stats is a size snapshot for logging and metrics.
type Stats struct {
	Guilds   int
	Users    int
	Messages int
}

// Size returns current entity counts.
func (c *Cache) Size() Stats {
	c.mu.RLock()
	guilds := len(c.guilds)
	c.mu.RUnlock()

	c.msgMu.Lock()
	messages := 0
	for _, w := range c.windows {
		messages += w.len()
	}
	c.msgMu.Unlock()

	return Stats{Guilds: guilds, Users: c.users.len(), Messages: messages}
}
