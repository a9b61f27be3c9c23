package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/small-frappuccino/gatecore/pkg/cache"
	"github.com/small-frappuccino/gatecore/pkg/discord"
	"github.com/small-frappuccino/gatecore/pkg/event"
	"github.com/small-frappuccino/gatecore/pkg/log"
)

// applier turns raw dispatch payloads into cache mutations and listener
// events. It also stages the ready signal: after READY announces the guild
// set, the ready event is held until every announced guild has replayed its
// GUILD_CREATE, so listeners observe a fully primed cache.
type applier struct {
	shardID int
	cache   *cache.Cache
	bus     *event.Bus

	mu        sync.Mutex
	pending   map[discord.Snowflake]struct{}
	readySent bool
	sessionID string
	self      *discord.User
	guilds    []discord.Snowflake
}

func newApplier(shardID int, c *cache.Cache, bus *event.Bus) *applier {
	return &applier{shardID: shardID, cache: c, bus: bus}
}

// onReady records the announced guild set and emits the early connect event.
// When the shard has no guilds the ready event fires immediately.
func (a *applier) onReady(ctx context.Context, self *discord.User, sessionID string, guildIDs []discord.Snowflake) {
	a.cache.SetSelf(self)
	for _, id := range guildIDs {
		a.cache.AddUnavailableGuild(id)
	}

	a.mu.Lock()
	a.sessionID = sessionID
	a.self = self
	a.guilds = guildIDs
	a.readySent = false
	a.pending = make(map[discord.Snowflake]struct{}, len(guildIDs))
	for _, id := range guildIDs {
		a.pending[id] = struct{}{}
	}
	a.mu.Unlock()

	a.bus.Publish(ctx, discord.EventConnect, discord.ConnectEvent{
		ShardID: a.shardID,
		User:    self,
	})
	if len(guildIDs) == 0 {
		a.fireReady(ctx)
	}
}

// markGuildArrived consumes one guild from the pending set; when the set
// drains the ready event fires. Returns true when the guild was part of the
// initial burst, in which case no join event should fire for it.
func (a *applier) markGuildArrived(ctx context.Context, id discord.Snowflake) bool {
	a.mu.Lock()
	_, wasPending := a.pending[id]
	if wasPending {
		delete(a.pending, id)
	}
	drained := wasPending && len(a.pending) == 0 && !a.readySent
	a.mu.Unlock()
	if drained {
		a.fireReady(ctx)
	}
	return wasPending
}

func (a *applier) fireReady(ctx context.Context) {
	a.mu.Lock()
	if a.readySent {
		a.mu.Unlock()
		return
	}
	a.readySent = true
	ev := discord.ReadyEvent{
		ShardID:   a.shardID,
		SessionID: a.sessionID,
		User:      a.self,
		Guilds:    a.guilds,
	}
	a.mu.Unlock()
	a.bus.Publish(ctx, discord.EventReady, ev)
}

// apply routes one dispatch to its cache mutation and event. Unknown
// dispatch types are logged at debug and skipped; the wire grows new types
// faster than clients do.
func (a *applier) apply(ctx context.Context, t string, d json.RawMessage) error {
	switch t {
	case discord.DispatchGuildCreate:
		return a.guildCreate(ctx, d)
	case discord.DispatchGuildUpdate:
		before, after, err := a.cache.UpsertGuild(d)
		if err != nil {
			return err
		}
		a.bus.Publish(ctx, discord.EventGuildUpdate, discord.GuildUpdateEvent{Before: before, After: after})
		return nil
	case discord.DispatchGuildDelete:
		return a.guildDelete(ctx, d)

	case discord.DispatchGuildMemberAdd:
		return a.memberAdd(ctx, d)
	case discord.DispatchGuildMemberUpdate:
		return a.memberUpdate(ctx, d)
	case discord.DispatchGuildMemberRemove:
		return a.memberRemove(ctx, d)

	case discord.DispatchGuildRoleCreate, discord.DispatchGuildRoleUpdate:
		return a.roleUpsert(ctx, t, d)
	case discord.DispatchGuildRoleDelete:
		return a.roleDelete(ctx, d)

	case discord.DispatchGuildEmojisUpdate:
		return a.emojisUpdate(ctx, d)

	case discord.DispatchChannelCreate, discord.DispatchChannelUpdate:
		return a.channelUpsert(ctx, t, d)
	case discord.DispatchChannelDelete:
		return a.channelDelete(ctx, d)

	case discord.DispatchMessageCreate:
		msg, err := a.cache.AddMessage(d)
		if err != nil {
			return err
		}
		a.bus.Publish(ctx, discord.EventMessageCreate, discord.MessageCreateEvent{Message: msg})
		return nil
	case discord.DispatchMessageUpdate:
		before, after, err := a.cache.UpdateMessage(d)
		if err != nil {
			return err
		}
		a.bus.Publish(ctx, discord.EventMessageUpdate, discord.MessageUpdateEvent{Before: before, After: after})
		return nil
	case discord.DispatchMessageDelete:
		return a.messageDelete(ctx, d)

	case discord.DispatchUserUpdate:
		before, after, err := a.cache.UpsertUser(d)
		if err != nil {
			return err
		}
		a.bus.Publish(ctx, discord.EventUserUpdate, discord.UserUpdateEvent{Before: before, After: after})
		return nil

	case discord.DispatchTypingStart:
		var ev discord.TypingStartEvent
		if err := json.Unmarshal(d, &ev); err != nil {
			return err
		}
		a.bus.Publish(ctx, discord.EventTypingStart, ev)
		return nil

	case discord.DispatchScheduledEventCreate, discord.DispatchScheduledEventUpdate:
		return a.scheduledEventUpsert(ctx, t, d)
	case discord.DispatchScheduledEventDelete:
		return a.scheduledEventDelete(ctx, d)

	case discord.DispatchStageInstanceCreate, discord.DispatchStageInstanceUpdate:
		return a.stageUpsert(ctx, t, d)
	case discord.DispatchStageInstanceDelete:
		return a.stageDelete(ctx, d)

	default:
		log.GatewayLogger().Debug("ignoring unhandled dispatch",
			"shard", a.shardID, "event", t)
		return nil
	}
}

func (a *applier) guildCreate(ctx context.Context, d json.RawMessage) error {
	before, after, err := a.cache.ApplyGuildCreate(d)
	if err != nil {
		return err
	}
	initial := a.markGuildArrived(ctx, after.ID)
	switch {
	case initial:
		// Replay of a guild announced at READY; no join event.
	case before != nil && before.Unavailable:
		// Outage recovery is surfaced as an update, not a join.
		a.bus.Publish(ctx, discord.EventGuildUpdate, discord.GuildUpdateEvent{Before: before, After: after})
	default:
		a.bus.Publish(ctx, discord.EventGuildJoin, discord.GuildJoinEvent{Guild: after})
	}
	return nil
}

func (a *applier) guildDelete(ctx context.Context, d json.RawMessage) error {
	var payload struct {
		ID          discord.Snowflake `json:"id"`
		Unavailable bool              `json:"unavailable"`
	}
	if err := json.Unmarshal(d, &payload); err != nil {
		return err
	}
	snapshot, _ := a.cache.RemoveGuild(payload.ID, payload.Unavailable)
	if snapshot == nil {
		snapshot = &discord.Guild{ID: payload.ID}
	}
	name := discord.EventGuildLeave
	if payload.Unavailable {
		name = discord.EventGuildUnavailable
	}
	a.bus.Publish(ctx, name, discord.GuildLeaveEvent{Guild: snapshot, Unavailable: payload.Unavailable})
	return nil
}

// memberEnvelope is the guild-scoped member dispatch shape: the member object
// inline with guild_id alongside.
type memberEnvelope struct {
	GuildID discord.Snowflake `json:"guild_id"`
	User    *discord.User     `json:"user"`
}

func (a *applier) memberAdd(ctx context.Context, d json.RawMessage) error {
	var env memberEnvelope
	if err := json.Unmarshal(d, &env); err != nil {
		return err
	}
	_, after, err := a.cache.UpsertMember(env.GuildID, d)
	if err != nil {
		return err
	}
	a.bus.Publish(ctx, discord.EventMemberJoin, discord.MemberJoinEvent{Member: after, User: env.User})
	return nil
}

func (a *applier) memberUpdate(ctx context.Context, d json.RawMessage) error {
	var env memberEnvelope
	if err := json.Unmarshal(d, &env); err != nil {
		return err
	}
	before, after, err := a.cache.UpsertMember(env.GuildID, d)
	if err != nil {
		return err
	}
	a.bus.Publish(ctx, discord.EventMemberUpdate, discord.MemberUpdateEvent{
		GuildID: env.GuildID,
		Before:  before,
		After:   after,
	})
	return nil
}

func (a *applier) memberRemove(ctx context.Context, d json.RawMessage) error {
	var env memberEnvelope
	if err := json.Unmarshal(d, &env); err != nil {
		return err
	}
	if env.User == nil {
		return fmt.Errorf("member remove without user")
	}
	snapshot, _ := a.cache.RemoveMember(env.GuildID, env.User.ID)
	a.bus.Publish(ctx, discord.EventMemberLeave, discord.MemberLeaveEvent{
		GuildID: env.GuildID,
		UserID:  env.User.ID,
		Member:  snapshot,
	})
	return nil
}

func (a *applier) roleUpsert(ctx context.Context, t string, d json.RawMessage) error {
	var env struct {
		GuildID discord.Snowflake `json:"guild_id"`
		Role    json.RawMessage   `json:"role"`
	}
	if err := json.Unmarshal(d, &env); err != nil {
		return err
	}
	before, after, err := a.cache.UpsertRole(env.GuildID, env.Role)
	if err != nil {
		return err
	}
	if t == discord.DispatchGuildRoleCreate {
		a.bus.Publish(ctx, discord.EventRoleCreate, discord.RoleCreateEvent{Role: after})
	} else {
		a.bus.Publish(ctx, discord.EventRoleUpdate, discord.RoleUpdateEvent{Before: before, After: after})
	}
	return nil
}

func (a *applier) roleDelete(ctx context.Context, d json.RawMessage) error {
	var env struct {
		GuildID discord.Snowflake `json:"guild_id"`
		RoleID  discord.Snowflake `json:"role_id"`
	}
	if err := json.Unmarshal(d, &env); err != nil {
		return err
	}
	snapshot, _ := a.cache.RemoveRole(env.GuildID, env.RoleID)
	if snapshot == nil {
		snapshot = &discord.Role{ID: env.RoleID, GuildID: env.GuildID}
	}
	a.bus.Publish(ctx, discord.EventRoleDelete, discord.RoleDeleteEvent{GuildID: env.GuildID, Role: snapshot})
	return nil
}

func (a *applier) emojisUpdate(ctx context.Context, d json.RawMessage) error {
	var env struct {
		GuildID discord.Snowflake `json:"guild_id"`
		Emojis  []discord.Emoji   `json:"emojis"`
	}
	if err := json.Unmarshal(d, &env); err != nil {
		return err
	}
	before, after := a.cache.SetGuildEmojis(env.GuildID, env.Emojis)
	a.bus.Publish(ctx, discord.EventEmojisUpdate, discord.EmojisUpdateEvent{
		GuildID: env.GuildID,
		Before:  before,
		After:   after,
	})
	return nil
}

func (a *applier) channelUpsert(ctx context.Context, t string, d json.RawMessage) error {
	before, after, err := a.cache.UpsertChannel(d)
	if err != nil {
		return err
	}
	if t == discord.DispatchChannelCreate {
		a.bus.Publish(ctx, discord.EventChannelCreate, discord.ChannelCreateEvent{Channel: after})
	} else {
		a.bus.Publish(ctx, discord.EventChannelUpdate, discord.ChannelUpdateEvent{Before: before, After: after})
	}
	return nil
}

func (a *applier) channelDelete(ctx context.Context, d json.RawMessage) error {
	var probe struct {
		ID      discord.Snowflake `json:"id"`
		GuildID discord.Snowflake `json:"guild_id"`
	}
	if err := json.Unmarshal(d, &probe); err != nil {
		return err
	}
	snapshot, ok := a.cache.RemoveChannel(probe.GuildID, probe.ID)
	if !ok {
		// Fall back to the payload so listeners still see the channel.
		var ch discord.Channel
		if err := json.Unmarshal(d, &ch); err != nil {
			return err
		}
		snapshot = &ch
	}
	a.bus.Publish(ctx, discord.EventChannelDelete, discord.ChannelDeleteEvent{Channel: snapshot})
	return nil
}

func (a *applier) messageDelete(ctx context.Context, d json.RawMessage) error {
	var env struct {
		ID        discord.Snowflake `json:"id"`
		ChannelID discord.Snowflake `json:"channel_id"`
		GuildID   discord.Snowflake `json:"guild_id"`
	}
	if err := json.Unmarshal(d, &env); err != nil {
		return err
	}
	snapshot, _ := a.cache.RemoveMessage(env.ChannelID, env.ID)
	a.bus.Publish(ctx, discord.EventMessageDelete, discord.MessageDeleteEvent{
		ID:        env.ID,
		ChannelID: env.ChannelID,
		GuildID:   env.GuildID,
		Message:   snapshot,
	})
	return nil
}

func (a *applier) scheduledEventUpsert(ctx context.Context, t string, d json.RawMessage) error {
	before, after, err := a.cache.UpsertScheduledEvent(d)
	if err != nil {
		return err
	}
	if t == discord.DispatchScheduledEventCreate {
		a.bus.Publish(ctx, discord.EventScheduledEventCreate, discord.ScheduledEventCreateEvent{Event: after})
	} else {
		a.bus.Publish(ctx, discord.EventScheduledEventUpdate, discord.ScheduledEventUpdateEvent{Before: before, After: after})
	}
	return nil
}

func (a *applier) scheduledEventDelete(ctx context.Context, d json.RawMessage) error {
	var ev discord.ScheduledEvent
	if err := json.Unmarshal(d, &ev); err != nil {
		return err
	}
	if snapshot, ok := a.cache.RemoveScheduledEvent(ev.GuildID, ev.ID); ok {
		a.bus.Publish(ctx, discord.EventScheduledEventDelete, discord.ScheduledEventDeleteEvent{Event: snapshot})
		return nil
	}
	a.bus.Publish(ctx, discord.EventScheduledEventDelete, discord.ScheduledEventDeleteEvent{Event: &ev})
	return nil
}

func (a *applier) stageUpsert(ctx context.Context, t string, d json.RawMessage) error {
	before, after, err := a.cache.UpsertStageInstance(d)
	if err != nil {
		return err
	}
	if t == discord.DispatchStageInstanceCreate {
		a.bus.Publish(ctx, discord.EventStageInstanceCreate, discord.StageInstanceCreateEvent{Stage: after})
	} else {
		a.bus.Publish(ctx, discord.EventStageInstanceUpdate, discord.StageInstanceUpdateEvent{Before: before, After: after})
	}
	return nil
}

func (a *applier) stageDelete(ctx context.Context, d json.RawMessage) error {
	var st discord.StageInstance
	if err := json.Unmarshal(d, &st); err != nil {
		return err
	}
	if snapshot, ok := a.cache.RemoveStageInstance(st.GuildID, st.ID); ok {
		a.bus.Publish(ctx, discord.EventStageInstanceDelete, discord.StageInstanceDeleteEvent{Stage: snapshot})
		return nil
	}
	a.bus.Publish(ctx, discord.EventStageInstanceDelete, discord.StageInstanceDeleteEvent{Stage: &st})
	return nil
}
