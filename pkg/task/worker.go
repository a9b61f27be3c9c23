// Package task provides a per-key serialized worker pool. Event listeners
// that do slow work (REST calls, database writes) hand it off here so the
// gateway read loop is never blocked, while work sharing a key (a guild, a
// channel) still runs one at a time in arrival order.
package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/small-frappuccino/gatecore/pkg/log"
)

// Fn is one unit of work.
type Fn func(ctx context.Context) error

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("task: pool is closed")

// ErrQueueFull is returned when a key's queue is at capacity.
var ErrQueueFull = errors.New("task: queue full")

// reapInterval is how often idle workers are swept. A variable so tests can
// shorten the cycle.
var reapInterval = 30 * time.Second

// Config tunes the pool.
type Config struct {
	// QueueSize bounds each key's pending work. Defaults to 128.
	QueueSize int
	// IdleTTL stops a key's worker after this long without work.
	// Defaults to 2 minutes.
	IdleTTL time.Duration
}

// Pool runs submitted work serially per key. Distinct keys run concurrently.
type Pool struct {
	cfg Config

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup

	stopOnce sync.Once
	stop     chan struct{}
}

type worker struct {
	ch         chan Fn
	busy       atomic.Bool
	lastActive atomic.Int64 // unix nanos
}

func (w *worker) touch() { w.lastActive.Store(time.Now().UnixNano()) }

// NewPool creates a running pool.
func NewPool(cfg Config) *Pool {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 2 * time.Minute
	}
	p := &Pool{
		cfg:     cfg,
		workers: make(map[string]*worker),
		stop:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.reapIdle()
	return p
}

// Submit queues fn under key. Work with the same key executes in submission
// order, one at a time. Returns ErrQueueFull rather than blocking when the
// key's queue is at capacity.
func (p *Pool) Submit(key string, fn Fn) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	w, ok := p.workers[key]
	if !ok {
		w = &worker{ch: make(chan Fn, p.cfg.QueueSize)}
		w.touch()
		p.workers[key] = w
		p.wg.Add(1)
		go p.run(key, w)
	}
	// The handoff stays under the lock so the reaper cannot close the
	// channel between the lookup and the send.
	select {
	case w.ch <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting work and waits for in-flight work to finish.
// Queued work not yet started is still drained.
func (p *Pool) Close() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		for _, w := range p.workers {
			close(w.ch)
		}
		p.mu.Unlock()
		close(p.stop)
		p.wg.Wait()
	})
}

// PendingKeys returns how many keys currently have a live worker.
func (p *Pool) PendingKeys() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

func (p *Pool) run(key string, w *worker) {
	defer p.wg.Done()
	for fn := range w.ch {
		w.busy.Store(true)
		w.touch()
		if err := safeRun(fn); err != nil {
			log.ApplicationLogger().Error("task failed", "key", key, "error", err)
		}
		w.touch()
		w.busy.Store(false)
	}
}

func safeRun(fn Fn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(context.Background())
}

// reapIdle stops workers whose queues have been empty past IdleTTL so
// short-lived keys (channels, users) do not accumulate goroutines.
func (p *Pool) reapIdle() {
	defer p.wg.Done()
	t := time.NewTicker(reapInterval)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-t.C:
			cutoff := time.Now().Add(-p.cfg.IdleTTL).UnixNano()
			p.mu.Lock()
			for key, w := range p.workers {
				if len(w.ch) == 0 && !w.busy.Load() && w.lastActive.Load() <= cutoff {
					close(w.ch)
					delete(p.workers, key)
				}
			}
			p.mu.Unlock()
		}
	}
}
