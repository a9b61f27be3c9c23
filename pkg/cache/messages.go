package cache

import (
	"github.com/small-frappuccino/gatecore/pkg/discord"
)

// messageWindow is a bounded FIFO of recent messages for one channel. The
// oldest message is evicted first regardless of access pattern; message
// relevance is purely recency-based, so there is no LRU promotion.
type messageWindow struct {
	capacity int
	order    []discord.Snowflake
	byID     map[discord.Snowflake]*discord.Message
}

func newMessageWindow(capacity int) *messageWindow {
	return &messageWindow{
		capacity: capacity,
		byID:     make(map[discord.Snowflake]*discord.Message),
	}
}

// add inserts a new message, evicting the oldest entry when full. Re-adding
// an existing id replaces the snapshot without consuming extra capacity.
func (w *messageWindow) add(m *discord.Message) {
	if _, ok := w.byID[m.ID]; ok {
		w.byID[m.ID] = m
		return
	}
	if w.capacity > 0 && len(w.order) >= w.capacity {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.byID, oldest)
	}
	w.order = append(w.order, m.ID)
	w.byID[m.ID] = m
}

func (w *messageWindow) get(id discord.Snowflake) (*discord.Message, bool) {
	m, ok := w.byID[id]
	return m, ok
}

// replace swaps the snapshot for an id already in the window. Position in the
// eviction order is unchanged; an edit does not make a message newer.
func (w *messageWindow) replace(m *discord.Message) bool {
	if _, ok := w.byID[m.ID]; !ok {
		return false
	}
	w.byID[m.ID] = m
	return true
}

func (w *messageWindow) remove(id discord.Snowflake) (*discord.Message, bool) {
	m, ok := w.byID[id]
	if !ok {
		return nil, false
	}
	delete(w.byID, id)
	for i, v := range w.order {
		if v == id {
			w.order = append(w.order[:i:i], w.order[i+1:]...)
			break
		}
	}
	return m, true
}

func (w *messageWindow) len() int { return len(w.order) }
