// Package client assembles the library: one Client owns the entity cache,
// the event bus, the REST dispatcher, the shard coordinator, and the
// optional session store and metrics endpoint.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/small-frappuccino/gatecore/pkg/cache"
	"github.com/small-frappuccino/gatecore/pkg/discord"
	"github.com/small-frappuccino/gatecore/pkg/event"
	"github.com/small-frappuccino/gatecore/pkg/gateway"
	"github.com/small-frappuccino/gatecore/pkg/log"
	"github.com/small-frappuccino/gatecore/pkg/metrics"
	"github.com/small-frappuccino/gatecore/pkg/rest"
	"github.com/small-frappuccino/gatecore/pkg/storage"
)

// Client is the top-level handle. Create with New, register listeners, then
// Start. The zero Client is not usable.
type Client struct {
	cfg   Config
	bus   *event.Bus
	cache *cache.Cache
	rest  *rest.Client
	coord *gateway.Coordinator
	store *storage.Store

	registry   *prometheus.Registry
	collector  *metrics.Collector
	metricsSrv *http.Server

	cancel context.CancelFunc
	done   chan error
}

// New wires a client from cfg. Nothing connects until Start.
func New(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Intents == 0 {
		cfg.Intents = discord.IntentsDefault()
	}

	c := &Client{
		cfg:  cfg,
		bus:  event.NewBus(),
		done: make(chan error, 1),
	}
	c.cache = cache.New(cache.Config{
		MessageWindowCap: cfg.MessageWindowCap,
		Intents:          cfg.Intents,
	})

	c.registry = prometheus.NewRegistry()
	c.collector = metrics.NewCollector(c.registry)
	metrics.RegisterCacheGauges(c.registry, cacheSizer{c.cache})

	c.rest = rest.NewClient(rest.Config{
		Token:   cfg.Token,
		BaseURL: cfg.APIBaseURL,
		Metrics: c.collector,
	})

	if cfg.SessionDBPath != "" {
		c.store = storage.NewStore(cfg.SessionDBPath)
		if err := c.store.Init(); err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
	}

	var store gateway.SessionStore
	if c.store != nil {
		store = c.store
	}
	c.coord = gateway.NewCoordinator(gateway.CoordinatorConfig{
		Token:      cfg.Token,
		Intents:    cfg.Intents,
		ShardCount: cfg.ShardCount,
		GatewayURL: cfg.GatewayURL,
		Resolver:   c.rest,
		Cache:      c.cache,
		Bus:        c.bus,
		Store:      store,
		Metrics:    c.collector,
	})
	return c, nil
}

// Cache exposes the entity cache for reads.
func (c *Client) Cache() *cache.Cache { return c.cache }

// Rest exposes the rate-limited REST dispatcher.
func (c *Client) Rest() *rest.Client { return c.rest }

// Bus exposes the event bus; prefer On/Once/Off for registration.
func (c *Client) Bus() *event.Bus { return c.bus }

// On registers a listener for an event name.
func (c *Client) On(name string, fn event.HandlerFunc) event.Handle {
	return c.bus.On(name, fn)
}

// Once registers a listener removed after its first invocation.
func (c *Client) Once(name string, fn event.HandlerFunc) event.Handle {
	return c.bus.Once(name, fn)
}

// Off removes a listener by handle.
func (c *Client) Off(h event.Handle) bool { return c.bus.Off(h) }

// Start connects the shard fleet and returns once connection supervision is
// running. The fleet keeps reconnecting in the background until Shutdown or
// a fatal close.
func (c *Client) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if c.cfg.MetricsAddr != "" {
		c.metricsSrv = &http.Server{Addr: c.cfg.MetricsAddr, Handler: metricsMux(c.registry)}
		go func() {
			log.ApplicationLogger().Info("serving metrics", "addr", c.cfg.MetricsAddr)
			if err := c.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.ApplicationLogger().Error("metrics server failed", "error", err)
			}
		}()
	}

	go func() {
		c.done <- c.coord.Run(runCtx)
	}()
	return nil
}

// Wait blocks until the shard fleet stops, returning its terminal error.
func (c *Client) Wait() error { return <-c.done }

// Shutdown disconnects every shard with a bounded grace period, closes the
// bus, and releases the session store.
func (c *Client) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	var runErr error
	select {
	case runErr = <-c.done:
	case <-ctx.Done():
		runErr = ctx.Err()
	}
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	if c.metricsSrv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = c.metricsSrv.Shutdown(shutCtx)
	}
	c.bus.Close()
	if c.store != nil {
		if err := c.store.Close(); err != nil && runErr == nil {
			runErr = err
		}
	}
	log.ApplicationLogger().Info("client shut down")
	return runErr
}

func metricsMux(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	return mux
}

// cacheSizer adapts cache.Stats to the metrics gauge interface.
type cacheSizer struct{ c *cache.Cache }

func (s cacheSizer) Size() (guilds, users, messages int) {
	st := s.c.Size()
	return st.Guilds, st.Users, st.Messages
}
