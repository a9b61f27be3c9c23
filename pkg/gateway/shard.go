package gateway

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/small-frappuccino/gatecore/pkg/cache"
	"github.com/small-frappuccino/gatecore/pkg/discord"
	"github.com/small-frappuccino/gatecore/pkg/event"
	"github.com/small-frappuccino/gatecore/pkg/log"
	"github.com/small-frappuccino/gatecore/pkg/metrics"
	"github.com/small-frappuccino/gatecore/pkg/rest"
)

// GatewayResolver supplies the websocket URL and recommended shard count.
// Satisfied by the REST client.
type GatewayResolver interface {
	GetGatewayBot(ctx context.Context) (*rest.GatewayBot, error)
}

// CoordinatorConfig wires the shard fleet.
type CoordinatorConfig struct {
	Token   string
	Intents discord.Intents

	// ShardCount of 0 asks the server for its recommendation.
	ShardCount int

	// GatewayURL overrides discovery; normally left empty.
	GatewayURL string

	Resolver GatewayResolver
	Dialer   Dialer
	Cache    *cache.Cache
	Bus      *event.Bus
	Store    SessionStore
	Metrics  *metrics.Collector

	// IdentifyInterval spaces Identify calls across the fleet. The server
	// allows roughly one identify per five seconds per token.
	IdentifyInterval time.Duration

	MaxResumeAge time.Duration
	MaxBackoff   time.Duration
}

// Coordinator owns one session per shard and supervises them as a unit: all
// shards share the cache, the bus, and the identify limiter, and a fatal
// close on any shard brings the fleet down.
type Coordinator struct {
	cfg      CoordinatorConfig
	sessions []*Session
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.IdentifyInterval <= 0 {
		cfg.IdentifyInterval = 5 * time.Second
	}
	return &Coordinator{cfg: cfg}
}

// ShardCount returns the resolved fleet size, 0 before Run.
func (c *Coordinator) ShardCount() int { return len(c.sessions) }

// Session returns the running session for a shard id, nil when out of range.
func (c *Coordinator) Session(shardID int) *Session {
	if shardID < 0 || shardID >= len(c.sessions) {
		return nil
	}
	return c.sessions[shardID]
}

// Run resolves the gateway endpoint, spawns every shard session, and blocks
// until ctx is cancelled or a shard fails fatally. A fatal close cancels the
// remaining shards before returning.
func (c *Coordinator) Run(ctx context.Context) error {
	url := c.cfg.GatewayURL
	count := c.cfg.ShardCount
	if url == "" || count <= 0 {
		if c.cfg.Resolver == nil {
			return fmt.Errorf("gateway: no gateway url configured and no resolver available")
		}
		info, err := c.cfg.Resolver.GetGatewayBot(ctx)
		if err != nil {
			return fmt.Errorf("gateway: resolve endpoint: %w", err)
		}
		if url == "" {
			url = info.URL
		}
		if count <= 0 {
			count = info.Shards
		}
		log.GatewayLogger().Info("resolved gateway endpoint",
			"url", url, "recommended_shards", info.Shards,
			"session_starts_remaining", info.SessionStartLimit.Remaining)
	}
	if count <= 0 {
		count = 1
	}

	identify := rate.NewLimiter(rate.Every(c.cfg.IdentifyInterval), 1)
	c.sessions = make([]*Session, count)
	for i := 0; i < count; i++ {
		c.sessions[i] = NewSession(Config{
			Token:           c.cfg.Token,
			Intents:         c.cfg.Intents,
			ShardID:         i,
			ShardCount:      count,
			GatewayURL:      url,
			Dialer:          c.cfg.Dialer,
			Cache:           c.cfg.Cache,
			Bus:             c.cfg.Bus,
			IdentifyLimiter: identify,
			MaxResumeAge:    c.cfg.MaxResumeAge,
			MaxBackoff:      c.cfg.MaxBackoff,
			Store:           c.cfg.Store,
			Metrics:         c.cfg.Metrics,
		})
	}

	log.GatewayLogger().Info("starting shard fleet", "shards", count)
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range c.sessions {
		s := s
		g.Go(func() error { return s.Run(ctx) })
	}
	return g.Wait()
}

// ShardForGuild returns the shard index that receives a guild's events.
// Guild snowflakes embed a timestamp in the high bits; the shard key uses
// only those, so the low increment bits are shifted away.
func ShardForGuild(guildID discord.Snowflake, shardCount int) int {
	if shardCount <= 0 {
		return 0
	}
	return int((uint64(guildID) >> 22) % uint64(shardCount))
}
