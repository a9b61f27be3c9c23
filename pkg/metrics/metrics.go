// Package metrics collects Prometheus metrics for the gateway sessions, the
// REST dispatcher, and the entity cache. All Collector methods are safe on a
// nil receiver so instrumented code never has to guard the optional case.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records library activity into a Prometheus registry.
type Collector struct {
	dispatches       *prometheus.CounterVec
	decodeFailures   *prometheus.CounterVec
	reconnects       *prometheus.CounterVec
	zombies          *prometheus.CounterVec
	heartbeatLatency *prometheus.HistogramVec
	restStatus       *prometheus.CounterVec
	restRetries      prometheus.Counter
	ratelimitWaits   prometheus.Histogram
}

// NewCollector creates a Collector and registers its metrics.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatecore_dispatch_total",
			Help: "Gateway dispatch events received, by event type.",
		}, []string{"event"}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatecore_dispatch_decode_failures_total",
			Help: "Dispatch payloads dropped because they failed to decode.",
		}, []string{"event"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatecore_reconnects_total",
			Help: "Gateway reconnect attempts, by shard.",
		}, []string{"shard"}),
		zombies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatecore_zombie_connections_total",
			Help: "Connections closed after two unacknowledged heartbeats.",
		}, []string{"shard"}),
		heartbeatLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gatecore_heartbeat_latency_seconds",
			Help:    "Round trip between a heartbeat and its acknowledgement.",
			Buckets: prometheus.DefBuckets,
		}, []string{"shard"}),
		restStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatecore_rest_responses_total",
			Help: "REST responses by status code.",
		}, []string{"status_code"}),
		restRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatecore_rest_retries_total",
			Help: "REST requests reissued after a transient failure.",
		}),
		ratelimitWaits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatecore_ratelimit_wait_seconds",
			Help:    "Time requests spent parked waiting for rate limit quota.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.dispatches,
		c.decodeFailures,
		c.reconnects,
		c.zombies,
		c.heartbeatLatency,
		c.restStatus,
		c.restRetries,
		c.ratelimitWaits,
	)
	return c
}

// RecordDispatch counts one received dispatch event.
func (c *Collector) RecordDispatch(event string) {
	if c == nil {
		return
	}
	c.dispatches.WithLabelValues(event).Inc()
}

// RecordDecodeFailure counts a dispatch dropped for being undecodable.
func (c *Collector) RecordDecodeFailure(event string) {
	if c == nil {
		return
	}
	c.decodeFailures.WithLabelValues(event).Inc()
}

// RecordReconnect counts a shard reconnect attempt.
func (c *Collector) RecordReconnect(shardID int) {
	if c == nil {
		return
	}
	c.reconnects.WithLabelValues(strconv.Itoa(shardID)).Inc()
}

// RecordZombie counts a connection closed for missing heartbeat acks.
func (c *Collector) RecordZombie(shardID int) {
	if c == nil {
		return
	}
	c.zombies.WithLabelValues(strconv.Itoa(shardID)).Inc()
}

// RecordHeartbeatLatency records one heartbeat round trip.
func (c *Collector) RecordHeartbeatLatency(shardID int, d time.Duration) {
	if c == nil {
		return
	}
	c.heartbeatLatency.WithLabelValues(strconv.Itoa(shardID)).Observe(d.Seconds())
}

// RecordRESTStatus counts one REST response by status code.
func (c *Collector) RecordRESTStatus(statusCode int) {
	if c == nil {
		return
	}
	c.restStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRESTRetry counts a reissued REST request.
func (c *Collector) RecordRESTRetry() {
	if c == nil {
		return
	}
	c.restRetries.Inc()
}

// RecordRateLimitWait records time spent parked on rate limit quota.
func (c *Collector) RecordRateLimitWait(d time.Duration) {
	if c == nil {
		return
	}
	c.ratelimitWaits.Observe(d.Seconds())
}

// CacheSizer reports entity counts for gauge registration.
type CacheSizer interface {
	Size() (guilds, users, messages int)
}

// RegisterCacheGauges exposes live cache sizes through GaugeFuncs.
func RegisterCacheGauges(reg prometheus.Registerer, sizer CacheSizer) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "gatecore_cache_guilds",
			Help: "Guilds currently cached.",
		}, func() float64 { g, _, _ := sizer.Size(); return float64(g) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "gatecore_cache_users",
			Help: "Users currently cached.",
		}, func() float64 { _, u, _ := sizer.Size(); return float64(u) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "gatecore_cache_messages",
			Help: "Messages currently held across channel windows.",
		}, func() float64 { _, _, m := sizer.Size(); return float64(m) }),
	)
}

// Handler returns the Prometheus scrape handler for a gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
