package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/small-frappuccino/gatecore/pkg/cache"
	"github.com/small-frappuccino/gatecore/pkg/discord"
	"github.com/small-frappuccino/gatecore/pkg/event"
	"github.com/small-frappuccino/gatecore/pkg/rest"
)

// autoDialer mints a fresh connection per dial, each greeting with Hello so
// sessions progress to identify on their own.
type autoDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials chan *fakeConn
}

func newAutoDialer() *autoDialer {
	return &autoDialer{dials: make(chan *fakeConn, 16)}
}

func (d *autoDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn := newFakeConn()
	conn.serveHello(60000)
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	d.dials <- conn
	return conn, nil
}

type staticResolver struct {
	info  *rest.GatewayBot
	calls int
}

func (r *staticResolver) GetGatewayBot(ctx context.Context) (*rest.GatewayBot, error) {
	r.calls++
	return r.info, nil
}

func TestCoordinatorSpawnsRecommendedShards(t *testing.T) {
	resolver := &staticResolver{info: &rest.GatewayBot{URL: "wss://gateway.example", Shards: 2}}
	dialer := newAutoDialer()
	coord := NewCoordinator(CoordinatorConfig{
		Token:            "tok",
		Intents:          discord.IntentsDefault(),
		Resolver:         resolver,
		Dialer:           dialer,
		Cache:            cache.New(cache.Config{Intents: discord.IntentsDefault()}),
		Bus:              event.NewBus(),
		IdentifyInterval: time.Millisecond,
		MaxBackoff:       20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx) }()

	shards := map[int]bool{}
	for i := 0; i < 2; i++ {
		select {
		case conn := <-dialer.dials:
			f := conn.expectWrite(t, opIdentify)
			var id identifyData
			require.NoError(t, json.Unmarshal(f.D, &id))
			assert.Equal(t, 2, id.Shard[1])
			shards[id.Shard[0]] = true
		case <-time.After(3 * time.Second):
			t.Fatal("expected two shard connections")
		}
	}
	assert.Equal(t, map[int]bool{0: true, 1: true}, shards)
	assert.Equal(t, 1, resolver.calls)
	assert.Equal(t, 2, coord.ShardCount())
	assert.NotNil(t, coord.Session(0))
	assert.Nil(t, coord.Session(5))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestCoordinatorExplicitCountSkipsResolverCount(t *testing.T) {
	resolver := &staticResolver{info: &rest.GatewayBot{URL: "wss://gateway.example", Shards: 4}}
	dialer := newAutoDialer()
	coord := NewCoordinator(CoordinatorConfig{
		Token:            "tok",
		Intents:          discord.IntentsDefault(),
		ShardCount:       1,
		Resolver:         resolver,
		Dialer:           dialer,
		Cache:            cache.New(cache.Config{Intents: discord.IntentsDefault()}),
		Bus:              event.NewBus(),
		IdentifyInterval: time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx) }()

	select {
	case conn := <-dialer.dials:
		conn.expectWrite(t, opIdentify)
	case <-time.After(3 * time.Second):
		t.Fatal("expected a shard connection")
	}
	assert.Equal(t, 1, coord.ShardCount(), "explicit count wins over the recommendation")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestCoordinatorFatalShardStopsFleet(t *testing.T) {
	resolver := &staticResolver{info: &rest.GatewayBot{URL: "wss://gateway.example", Shards: 2}}
	dialer := newAutoDialer()
	coord := NewCoordinator(CoordinatorConfig{
		Token:            "tok",
		Intents:          discord.IntentsDefault(),
		Resolver:         resolver,
		Dialer:           dialer,
		Cache:            cache.New(cache.Config{Intents: discord.IntentsDefault()}),
		Bus:              event.NewBus(),
		IdentifyInterval: time.Millisecond,
		MaxBackoff:       20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx) }()

	conn := <-dialer.dials
	conn.expectWrite(t, opIdentify)
	conn.fail(&CloseError{Code: 4004, Text: "Authentication failed"})

	select {
	case err := <-done:
		var fatal *FatalError
		require.ErrorAs(t, err, &fatal)
		assert.Equal(t, 4004, fatal.Code)
	case <-time.After(3 * time.Second):
		t.Fatal("fatal close did not stop the fleet")
	}
}
