package event

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishInRegistrationOrder(t *testing.T) {
	b := NewBus()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		b.On("ping", func(ctx context.Context, payload any) error {
			order = append(order, i)
			return nil
		})
	}
	b.Publish(context.Background(), "ping", nil)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestOnceFiresExactlyOnce(t *testing.T) {
	b := NewBus()
	calls := 0
	b.Once("ping", func(ctx context.Context, payload any) error {
		calls++
		return nil
	})
	b.Publish(context.Background(), "ping", nil)
	b.Publish(context.Background(), "ping", nil)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.ListenerCount("ping"))
}

func TestOnceCanReRegisterItself(t *testing.T) {
	b := NewBus()
	calls := 0
	var register func()
	register = func() {
		b.Once("ping", func(ctx context.Context, payload any) error {
			calls++
			if calls < 2 {
				register()
			}
			return nil
		})
	}
	register()
	// The once listener is removed before invocation, so re-registering from
	// inside the handler must not fire again on the same publish.
	b.Publish(context.Background(), "ping", nil)
	assert.Equal(t, 1, calls)
	b.Publish(context.Background(), "ping", nil)
	assert.Equal(t, 2, calls)
}

func TestOffRemovesListener(t *testing.T) {
	b := NewBus()
	calls := 0
	h := b.On("ping", func(ctx context.Context, payload any) error {
		calls++
		return nil
	})
	require.True(t, b.Off(h))
	assert.False(t, b.Off(h), "double removal reports false")
	b.Publish(context.Background(), "ping", nil)
	assert.Equal(t, 0, calls)
}

func TestPanicIsolation(t *testing.T) {
	b := NewBus()
	reached := false
	b.On("ping", func(ctx context.Context, payload any) error {
		panic("listener bug")
	})
	b.On("ping", func(ctx context.Context, payload any) error {
		reached = true
		return nil
	})
	b.Publish(context.Background(), "ping", nil)
	assert.True(t, reached, "a panicking listener must not stop the fan-out")
}

func TestErrorDoesNotStopFanout(t *testing.T) {
	b := NewBus()
	reached := false
	b.On("ping", func(ctx context.Context, payload any) error {
		return errors.New("listener error")
	})
	b.On("ping", func(ctx context.Context, payload any) error {
		reached = true
		return nil
	})
	b.Publish(context.Background(), "ping", nil)
	assert.True(t, reached)
}

func TestTypedListenerSkipsMismatch(t *testing.T) {
	b := NewBus()
	var got []string
	OnTyped(b, "ping", func(ctx context.Context, payload string) error {
		got = append(got, payload)
		return nil
	})
	b.Publish(context.Background(), "ping", 42)
	b.Publish(context.Background(), "ping", "hello")
	assert.Equal(t, []string{"hello"}, got)
}

func TestCloseDropsListeners(t *testing.T) {
	b := NewBus()
	calls := 0
	b.On("ping", func(ctx context.Context, payload any) error {
		calls++
		return nil
	})
	b.Close()
	b.Publish(context.Background(), "ping", nil)
	assert.Equal(t, 0, calls)
}
