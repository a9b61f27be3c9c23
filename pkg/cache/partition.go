package cache

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/small-frappuccino/gatecore/pkg/discord"
)

// partition holds all per-guild entities. Every mutation of the same guild is
// serialized by mu, which keeps before/after pairs consistent with the real
// update order; distinct guilds never contend.
type partition struct {
	mu sync.Mutex

	guild           *discord.Guild
	members         map[discord.Snowflake]*discord.Member
	roles           map[discord.Snowflake]*discord.Role
	channels        map[discord.Snowflake]*discord.Channel
	emojis          []discord.Emoji
	scheduledEvents map[discord.Snowflake]*discord.ScheduledEvent
	stageInstances  map[discord.Snowflake]*discord.StageInstance
}

func newPartition(g *discord.Guild) *partition {
	return &partition{
		guild:           g,
		members:         make(map[discord.Snowflake]*discord.Member),
		roles:           make(map[discord.Snowflake]*discord.Role),
		channels:        make(map[discord.Snowflake]*discord.Channel),
		scheduledEvents: make(map[discord.Snowflake]*discord.ScheduledEvent),
		stageInstances:  make(map[discord.Snowflake]*discord.StageInstance),
	}
}

// memberIDs returns the user ids of every cached member, for reference-count
// release when the partition is dropped.
func (p *partition) memberIDs() []discord.Snowflake {
	ids := make([]discord.Snowflake, 0, len(p.members))
	for id := range p.members {
		ids = append(ids, id)
	}
	return ids
}

// rolesByPosition returns role snapshots in hierarchy order, which is the
// iteration order the API documents.
func (p *partition) rolesByPosition() []discord.Role {
	out := make([]discord.Role, 0, len(p.roles))
	for _, r := range p.roles {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// snapshotOf detaches a stored value before it crosses the cache boundary.
// Everything handed to a caller is a copy; mutating it never reaches storage.
func snapshotOf[T any](v *T) *T {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

// mergeInto produces a fresh snapshot: a copy of prior (or the zero value)
// with only the fields present in raw overwritten. Unspecified fields retain
// their previous values, which is exactly the partial-update contract the
// gateway's delta payloads assume.
func mergeInto[T any](prior *T, raw json.RawMessage) (*T, error) {
	var next T
	if prior != nil {
		next = *prior
	}
	if err := json.Unmarshal(raw, &next); err != nil {
		return nil, err
	}
	return &next, nil
}
