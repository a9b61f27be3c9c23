package rest

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/small-frappuccino/gatecore/pkg/log"
)

// Rate limit response headers consumed by the registry.
const (
	headerRemaining  = "X-RateLimit-Remaining"
	headerResetAfter = "X-RateLimit-Reset-After"
	headerBucket     = "X-RateLimit-Bucket"
	headerGlobal     = "X-RateLimit-Global"
	headerRetryAfter = "Retry-After"
)

// bucket is one rate-limit accounting unit. Requests within a bucket run one
// at a time in strict submission order; remaining/reset mirror the server's
// view after the most recent response.
type bucket struct {
	mu        sync.Mutex
	key       string
	hash      string
	remaining int
	reset     time.Time

	busy    bool
	waiters []chan struct{}
}

// acquire takes the bucket's turn, queueing FIFO behind earlier callers.
func (b *bucket) acquire(ctx context.Context) error {
	b.mu.Lock()
	if !b.busy {
		b.busy = true
		b.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	b.waiters = append(b.waiters, ch)
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		for i, w := range b.waiters {
			if w == ch {
				b.waiters = append(b.waiters[:i:i], b.waiters[i+1:]...)
				b.mu.Unlock()
				return ctx.Err()
			}
		}
		b.mu.Unlock()
		// The turn was already handed to us; pass it on.
		<-ch
		b.release()
		return ctx.Err()
	}
}

// release hands the turn to the next queued caller, if any.
func (b *bucket) release() {
	b.mu.Lock()
	if len(b.waiters) > 0 {
		ch := b.waiters[0]
		b.waiters = b.waiters[1:]
		b.mu.Unlock()
		close(ch)
		return
	}
	b.busy = false
	b.mu.Unlock()
}

// waitQuota blocks until the bucket has quota: if the last response reported
// remaining == 0, sleep out the reset window before sending.
func (b *bucket) waitQuota(ctx context.Context) error {
	b.mu.Lock()
	wait := time.Duration(0)
	if b.remaining <= 0 && !b.reset.IsZero() {
		wait = time.Until(b.reset)
	}
	b.mu.Unlock()
	if wait <= 0 {
		return nil
	}
	log.RESTLogger().Debug("bucket exhausted, waiting for reset", "bucket", b.key, "wait", wait.String())
	return sleepCtx(ctx, wait)
}

// update reconciles bucket state from response headers.
func (b *bucket) update(resp *http.Response) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v := resp.Header.Get(headerRemaining); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			b.remaining = n
		}
	}
	if v := resp.Header.Get(headerResetAfter); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			b.reset = time.Now().Add(time.Duration(secs * float64(time.Second)))
		}
	}
}

// RateLimiter is the bucket registry shared by every outbound REST call. It
// tracks the route-template -> bucket-hash mapping the server assigns, the
// per-bucket quota state, and the account-wide global limit.
type RateLimiter struct {
	mu          sync.Mutex
	byKey       map[string]*bucket // provisional buckets, keyed by route template
	byHash      map[string]*bucket // reconciled buckets, keyed by server hash
	routeToHash map[string]string

	// global is a steady ceiling on request rate across all routes; the API
	// tolerates 50 requests per second account-wide.
	global *rate.Limiter

	globalMu    sync.Mutex
	globalUntil time.Time
}

// NewRateLimiter creates a registry with the given account-wide requests/sec
// ceiling. perSecond <= 0 uses the documented default of 50.
func NewRateLimiter(perSecond float64) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 50
	}
	return &RateLimiter{
		byKey:       make(map[string]*bucket),
		byHash:      make(map[string]*bucket),
		routeToHash: make(map[string]string),
		global:      rate.NewLimiter(rate.Limit(perSecond), int(perSecond)),
	}
}

// bucketFor resolves the bucket for a route key. Before the server has
// assigned a hash, calls to the same route template share one provisional
// bucket, which serializes them so an unknown limit cannot be burst past.
func (rl *RateLimiter) bucketFor(key string) *bucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if hash, ok := rl.routeToHash[key]; ok {
		if b, ok := rl.byHash[hash]; ok {
			return b
		}
	}
	if b, ok := rl.byKey[key]; ok {
		return b
	}
	b := &bucket{key: key}
	rl.byKey[key] = b
	return b
}

// reconcile records the route -> hash mapping from a response. When the hash
// is first learned, the provisional bucket is promoted so later calls to
// routes sharing the hash share its gate.
func (rl *RateLimiter) reconcile(key string, b *bucket, resp *http.Response) {
	b.update(resp)
	hash := resp.Header.Get(headerBucket)
	if hash == "" {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.routeToHash[key] = hash
	if existing, ok := rl.byHash[hash]; ok && existing != b {
		// Another route already owns this hash; future calls for key will
		// resolve to it via routeToHash. The provisional bucket is retired.
		delete(rl.byKey, key)
		return
	}
	rl.byHash[hash] = b
	b.mu.Lock()
	b.hash = hash
	b.mu.Unlock()
	delete(rl.byKey, key)
}

// waitGlobal blocks while the account-wide window is closed, then takes a
// token from the steady global limiter.
func (rl *RateLimiter) waitGlobal(ctx context.Context) error {
	for {
		rl.globalMu.Lock()
		wait := time.Until(rl.globalUntil)
		rl.globalMu.Unlock()
		if wait <= 0 {
			break
		}
		log.RESTLogger().Warn("global rate limit active, all buckets paused", "wait", wait.String())
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
	return rl.global.Wait(ctx)
}

// pauseGlobal closes the account-wide window for the given duration.
func (rl *RateLimiter) pauseGlobal(d time.Duration) {
	rl.globalMu.Lock()
	if until := time.Now().Add(d); until.After(rl.globalUntil) {
		rl.globalUntil = until
	}
	rl.globalMu.Unlock()
}

// retryAfter extracts the server-specified retry interval from a 429.
func retryAfter(resp *http.Response, body []byte) time.Duration {
	if v := resp.Header.Get(headerRetryAfter); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	// Fallback: the JSON body carries retry_after in seconds.
	if d, ok := retryAfterFromBody(body); ok {
		return d
	}
	return time.Second
}

func isGlobalRateLimit(resp *http.Response) bool {
	return strings.EqualFold(resp.Header.Get(headerGlobal), "true")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
