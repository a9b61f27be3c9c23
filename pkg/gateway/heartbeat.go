package gateway

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/small-frappuccino/gatecore/pkg/log"
	"github.com/small-frappuccino/gatecore/pkg/metrics"
)

// heartbeater sends the periodic keepalive and watches for acknowledgements.
// Two consecutive unacknowledged beats mean the connection is a zombie: the
// socket is closed so the session reconnects and resumes.
type heartbeater struct {
	conn     Transport
	interval time.Duration
	seq      *atomicSeq

	mu       sync.Mutex
	acked    bool
	missed   int
	lastSent time.Time
}

func newHeartbeater(conn Transport, interval time.Duration, seq *atomicSeq) *heartbeater {
	return &heartbeater{conn: conn, interval: interval, seq: seq, acked: true}
}

// run beats until ctx is cancelled. The first beat is delayed by a random
// fraction of the interval so a fleet of shards does not beat in lockstep.
func (h *heartbeater) run(ctx context.Context, shardID int, m *metrics.Collector) {
	first := time.Duration(rand.Int63n(int64(h.interval)))
	t := time.NewTimer(first)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		h.mu.Lock()
		if !h.acked {
			h.missed++
		} else {
			h.missed = 0
		}
		missed := h.missed
		h.mu.Unlock()

		if missed >= 2 {
			log.GatewayLogger().Warn("two heartbeats unacknowledged, closing zombie connection",
				"shard", shardID)
			m.RecordZombie(shardID)
			// Non-1000 close keeps the session resumable server-side.
			_ = h.conn.Close(4000, "heartbeat ack timeout")
			return
		}

		if err := h.beat(); err != nil {
			// The read loop observes the same failure and tears down.
			return
		}
		t.Reset(h.interval)
	}
}

// beat sends one heartbeat carrying the latest dispatch sequence.
func (h *heartbeater) beat() error {
	seq := h.seq.load()
	var d json.RawMessage
	if seq == 0 {
		d = json.RawMessage("null")
	} else {
		var err error
		d, err = json.Marshal(seq)
		if err != nil {
			return err
		}
	}
	h.mu.Lock()
	h.acked = false
	h.lastSent = time.Now()
	h.mu.Unlock()
	return h.conn.WriteJSON(frame{Op: opHeartbeat, D: d})
}

// ack records the server acknowledgement and resets the missed counter.
func (h *heartbeater) ack() {
	h.mu.Lock()
	h.acked = true
	h.missed = 0
	h.mu.Unlock()
}

// latency returns the time since the last beat, meaningful right after ack.
func (h *heartbeater) sentAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastSent
}

// atomicSeq tracks the last dispatch sequence number.
type atomicSeq struct{ v atomic.Int64 }

func (a *atomicSeq) load() int64   { return a.v.Load() }
func (a *atomicSeq) store(n int64) { a.v.Store(n) }

// atomicState holds the session State for lock-free reads.
type atomicState struct{ v atomic.Int32 }

func (a *atomicState) load() State   { return State(a.v.Load()) }
func (a *atomicState) store(s State) { a.v.Store(int32(s)) }
