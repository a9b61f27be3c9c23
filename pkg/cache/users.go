package cache

import (
	"sync"

	"github.com/small-frappuccino/gatecore/pkg/discord"
)

// userPartition is the global, cross-guild user store. Users are
// deduplicated: a member references its user by id, and the user stays cached
// while at least one member in any guild, an open DM, or the client's own
// account references it.
type userPartition struct {
	mu    sync.Mutex
	users map[discord.Snowflake]*discord.User
	refs  map[discord.Snowflake]int
	self  discord.Snowflake
}

func newUserPartition() *userPartition {
	return &userPartition{
		users: make(map[discord.Snowflake]*discord.User),
		refs:  make(map[discord.Snowflake]int),
	}
}

// upsert merges a user payload into the canonical snapshot and returns the
// before/after pair. It does not change the reference count.
func (p *userPartition) upsert(u *discord.User) (before, after *discord.User) {
	if u == nil || u.ID.IsZero() {
		return nil, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.users[u.ID]
	next := *u
	p.users[u.ID] = &next
	return prev, &next
}

// retain upserts the user and takes one reference on it.
func (p *userPartition) retain(u *discord.User) (before, after *discord.User) {
	if u == nil || u.ID.IsZero() {
		return nil, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.users[u.ID]
	next := *u
	p.users[u.ID] = &next
	p.refs[u.ID]++
	return prev, &next
}

// retainID takes one reference on an already cached user, if present.
func (p *userPartition) retainID(id discord.Snowflake) {
	if id.IsZero() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.users[id]; ok {
		p.refs[id]++
	}
}

// release drops one reference; at zero the user is evicted unless it is the
// client's own account.
func (p *userPartition) release(id discord.Snowflake) {
	if id.IsZero() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked(id)
}

func (p *userPartition) releaseLocked(id discord.Snowflake) {
	n := p.refs[id] - 1
	if n > 0 {
		p.refs[id] = n
		return
	}
	delete(p.refs, id)
	if id != p.self {
		delete(p.users, id)
	}
}

// releaseAll drops one reference for each id; used when a guild partition is
// torn down in one operation.
func (p *userPartition) releaseAll(ids []discord.Snowflake) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		p.releaseLocked(id)
	}
}

func (p *userPartition) get(id discord.Snowflake) (*discord.User, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[id]
	return u, ok
}

// setSelf pins the client's own account so guild churn can never evict it.
func (p *userPartition) setSelf(u *discord.User) {
	if u == nil || u.ID.IsZero() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	next := *u
	p.users[u.ID] = &next
	p.self = u.ID
}

func (p *userPartition) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.users)
}
