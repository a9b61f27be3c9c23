// Package event implements the in-process publish/subscribe bus that carries
// gateway events from the cache pipeline to user listeners. Delivery is
// synchronous and in registration order, so events published by one shard are
// observed by listeners in the exact order the shard received them.
package event

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/small-frappuccino/gatecore/pkg/log"
)

// HandlerFunc processes one published payload. A returned error is reported
// through the bus logger and never aborts delivery to other listeners.
type HandlerFunc func(ctx context.Context, payload any) error

// Handle identifies a registration for later removal.
type Handle uint64

type listener struct {
	handle Handle
	fn     HandlerFunc
	once   bool
}

// Bus is a typed event-name-keyed dispatcher. The zero value is not usable;
// construct with NewBus.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]*listener
	byHandle  map[Handle]string
	nextID    Handle
	closed    bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		listeners: make(map[string][]*listener),
		byHandle:  make(map[Handle]string),
	}
}

// On registers fn for the named event and returns a handle usable with Off.
func (b *Bus) On(name string, fn HandlerFunc) Handle {
	return b.register(name, fn, false)
}

// Once registers fn to fire a single time, then deregisters itself.
func (b *Bus) Once(name string, fn HandlerFunc) Handle {
	return b.register(name, fn, true)
}

func (b *Bus) register(name string, fn HandlerFunc, once bool) Handle {
	if fn == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	b.nextID++
	h := b.nextID
	b.listeners[name] = append(b.listeners[name], &listener{handle: h, fn: fn, once: once})
	b.byHandle[h] = name
	return h
}

// Off removes a registration. It reports whether the handle was still active.
func (b *Bus) Off(h Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, ok := b.byHandle[h]
	if !ok {
		return false
	}
	delete(b.byHandle, h)
	ls := b.listeners[name]
	for i, l := range ls {
		if l.handle == h {
			b.listeners[name] = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(b.listeners[name]) == 0 {
		delete(b.listeners, name)
	}
	return true
}

// Publish delivers payload to every listener registered for name, in
// registration order. Listener errors and panics are logged and isolated.
// After Close, Publish is a no-op.
func (b *Bus) Publish(ctx context.Context, name string, payload any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	ls := b.listeners[name]
	snapshot := make([]*listener, len(ls))
	copy(snapshot, ls)
	// Fire-once listeners are removed before invocation so a publish from
	// inside a handler cannot double-fire them.
	for _, l := range ls {
		if l.once {
			delete(b.byHandle, l.handle)
		}
	}
	kept := ls[:0]
	for _, l := range ls {
		if !l.once {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		delete(b.listeners, name)
	} else {
		b.listeners[name] = kept
	}
	b.mu.Unlock()

	for _, l := range snapshot {
		if err := safeInvoke(ctx, l.fn, payload); err != nil {
			log.ApplicationLogger().Error("event listener failed", "event", name, "error", err)
		}
	}
}

// Close stops all future publishing and drops every registration. Listeners
// already running are allowed to finish.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.listeners = make(map[string][]*listener)
	b.byHandle = make(map[Handle]string)
}

// ListenerCount returns the number of active listeners for name.
func (b *Bus) ListenerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[name])
}

func safeInvoke(ctx context.Context, fn HandlerFunc, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx, payload)
}

// OnTyped registers a handler for payloads of a concrete type. Payloads of a
// different type are skipped with a warning rather than crashing the pipeline.
func OnTyped[T any](b *Bus, name string, fn func(ctx context.Context, payload T) error) Handle {
	return b.On(name, typedWrapper(name, fn))
}

// OnceTyped is OnTyped with fire-once semantics.
func OnceTyped[T any](b *Bus, name string, fn func(ctx context.Context, payload T) error) Handle {
	return b.Once(name, typedWrapper(name, fn))
}

func typedWrapper[T any](name string, fn func(ctx context.Context, payload T) error) HandlerFunc {
	return func(ctx context.Context, payload any) error {
		typed, ok := payload.(T)
		if !ok {
			log.ApplicationLogger().Warn("event payload type mismatch",
				"event", name, "payload", fmt.Sprintf("%T", payload))
			return nil
		}
		return fn(ctx, typed)
	}
}
