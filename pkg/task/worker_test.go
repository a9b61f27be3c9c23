package task

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSameKeyRunsInOrder(t *testing.T) {
	p := NewPool(Config{})
	defer p.Close()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, p.Submit("guild-1", func(ctx context.Context) error {
			mu.Lock()
			got = append(got, i)
			if len(got) == 10 {
				close(done)
			}
			mu.Unlock()
			return nil
		}))
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("work did not drain")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestDistinctKeysRunConcurrently(t *testing.T) {
	p := NewPool(Config{})
	defer p.Close()

	release := make(chan struct{})
	arrived := make(chan string, 2)
	for _, key := range []string{"a", "b"} {
		key := key
		require.NoError(t, p.Submit(key, func(ctx context.Context) error {
			arrived <- key
			<-release
			return nil
		}))
	}

	timeout := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-arrived:
		case <-timeout:
			t.Fatal("distinct keys were serialized")
		}
	}
	close(release)
}

func TestQueueFull(t *testing.T) {
	p := NewPool(Config{QueueSize: 1})
	defer p.Close()

	block := make(chan struct{})
	require.NoError(t, p.Submit("k", func(ctx context.Context) error {
		<-block
		return nil
	}))
	// Fill the single queue slot, then overflow.
	deadline := time.Now().Add(time.Second)
	var err error
	for time.Now().Before(deadline) {
		if err = p.Submit("k", func(ctx context.Context) error { return nil }); err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, ErrQueueFull)
	close(block)
}

func TestPanicIsContained(t *testing.T) {
	p := NewPool(Config{})
	defer p.Close()

	done := make(chan struct{})
	require.NoError(t, p.Submit("k", func(ctx context.Context) error {
		panic("worker bug")
	}))
	require.NoError(t, p.Submit("k", func(ctx context.Context) error {
		close(done)
		return nil
	}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("panic killed the key's worker")
	}
}

func TestSubmitAfterClose(t *testing.T) {
	p := NewPool(Config{})
	p.Close()
	assert.ErrorIs(t, p.Submit("k", func(ctx context.Context) error { return nil }), ErrPoolClosed)
}

func TestIdleWorkerReapedAndKeyReusable(t *testing.T) {
	old := reapInterval
	reapInterval = 2 * time.Millisecond
	defer func() { reapInterval = old }()

	p := NewPool(Config{IdleTTL: time.Millisecond})
	defer p.Close()

	done := make(chan struct{})
	require.NoError(t, p.Submit("k", func(ctx context.Context) error {
		close(done)
		return nil
	}))
	<-done
	require.Eventually(t, func() bool { return p.PendingKeys() == 0 },
		2*time.Second, time.Millisecond, "idle worker was not reaped")

	// Submissions racing the reaper must never hit a closed channel; the key
	// keeps accepting work as its worker is torn down and respawned.
	stop := time.After(100 * time.Millisecond)
	var ran atomic.Int32
	for {
		select {
		case <-stop:
			require.Eventually(t, func() bool { return ran.Load() > 0 },
				2*time.Second, time.Millisecond)
			return
		default:
		}
		err := p.Submit("k", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
		if err != nil {
			require.ErrorIs(t, err, ErrQueueFull)
		}
	}
}

func TestBusyWorkerSurvivesReaper(t *testing.T) {
	old := reapInterval
	reapInterval = 2 * time.Millisecond
	defer func() { reapInterval = old }()

	p := NewPool(Config{IdleTTL: time.Millisecond})
	defer p.Close()

	release := make(chan struct{})
	first := make(chan struct{})
	require.NoError(t, p.Submit("k", func(ctx context.Context) error {
		close(first)
		<-release
		return nil
	}))
	<-first

	// Long-running work keeps its worker alive even past the idle TTL, so a
	// follow-up on the same key still runs serially behind it.
	time.Sleep(20 * time.Millisecond)
	done := make(chan struct{})
	require.NoError(t, p.Submit("k", func(ctx context.Context) error {
		close(done)
		return nil
	}))
	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queued work lost after reap cycle")
	}
}
