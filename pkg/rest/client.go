// Package rest is the rate-limited HTTP dispatcher. Every outbound call maps
// to a route template whose major parameters (guild/channel id) select a
// rate-limit bucket; calls within a bucket run strictly in submission order,
// 429s are absorbed transparently, and 5xx/network failures retry with
// exponential backoff up to a bounded attempt count.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/small-frappuccino/gatecore/pkg/log"
	"github.com/small-frappuccino/gatecore/pkg/metrics"
)

// APIVersion pins the REST API version the client speaks.
const APIVersion = "v9"

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://discord.com/api/" + APIVersion

const defaultUserAgent = "DiscordBot (https://github.com/small-frappuccino/gatecore, 0.1.0)"

// Config configures the dispatcher.
type Config struct {
	// Token is the bot token, sent as `Bot <token>`.
	Token string
	// BaseURL overrides the API root; tests point this at httptest servers.
	BaseURL string
	// HTTPClient overrides the underlying client.
	HTTPClient *http.Client
	// MaxRetries bounds retries for 5xx and network failures.
	MaxRetries int
	// GlobalPerSecond is the account-wide request ceiling.
	GlobalPerSecond float64
	// UserAgent overrides the default library identification.
	UserAgent string
	// Metrics, when set, records response codes, retries, and waits.
	Metrics *metrics.Collector
}

// Client executes logical REST requests under the shared rate-limit
// discipline.
type Client struct {
	token      string
	baseURL    string
	userAgent  string
	http       *http.Client
	limiter    *RateLimiter
	maxRetries int
	metrics    *metrics.Collector
}

// NewClient creates a dispatcher. The token is the only required field.
func NewClient(cfg Config) *Client {
	c := &Client{
		token:      cfg.Token,
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		http:       cfg.HTTPClient,
		limiter:    NewRateLimiter(cfg.GlobalPerSecond),
		maxRetries: cfg.MaxRetries,
		metrics:    cfg.Metrics,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 3
	}
	return c
}

// Request is one logical REST call.
type Request struct {
	// Method is the HTTP method.
	Method string
	// Route is the bucket key: the route template with only major parameters
	// substituted (e.g. "POST:/channels/123/messages").
	Route string
	// Path is the concrete request path appended to the base URL.
	Path string
	// Body, when non-nil, is JSON-encoded into the request.
	Body any
	// Reason, when set, is sent as the X-Audit-Log-Reason header.
	Reason string
}

// Do executes req and, when out is non-nil, decodes the JSON response into
// it. A single 429 never surfaces to the caller; it is parked and reissued
// after the server-specified interval.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	b := c.limiter.bucketFor(req.Route)
	if err := b.acquire(ctx); err != nil {
		return err
	}
	defer b.release()

	var lastErr error
	transientAttempts := 0
	for {
		if err := c.limiter.waitGlobal(ctx); err != nil {
			return err
		}
		quotaWait := time.Now()
		if err := b.waitQuota(ctx); err != nil {
			return err
		}
		if waited := time.Since(quotaWait); waited >= time.Millisecond {
			c.metrics.RecordRateLimitWait(waited)
		}

		resp, body, err := c.send(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			transientAttempts++
			c.metrics.RecordRESTRetry()
			if transientAttempts > c.maxRetries {
				return fmt.Errorf("%w: %s %s: %w", ErrRetriesExhausted, req.Method, req.Route, lastErr)
			}
			delay := backoffDelay(transientAttempts)
			log.RESTLogger().Warn("request failed, retrying",
				"route", req.Route, "attempt", transientAttempts, "backoff", delay.String(), "error", err)
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
			continue
		}

		c.limiter.reconcile(req.Route, b, resp)
		c.metrics.RecordRESTStatus(resp.StatusCode)

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			delay := retryAfter(resp, body)
			if isGlobalRateLimit(resp) {
				c.limiter.pauseGlobal(delay)
			}
			c.metrics.RecordRateLimitWait(delay)
			log.RESTLogger().Warn("rate limited, parking request",
				"route", req.Route, "retry_after", delay.String(), "global", isGlobalRateLimit(resp))
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
			continue

		case resp.StatusCode >= 500:
			lastErr = newAPIError(resp.StatusCode, body)
			transientAttempts++
			c.metrics.RecordRESTRetry()
			if transientAttempts > c.maxRetries {
				return fmt.Errorf("%w: %s %s: %w", ErrRetriesExhausted, req.Method, req.Route, lastErr)
			}
			delay := backoffDelay(transientAttempts)
			log.RESTLogger().Warn("server error, retrying",
				"route", req.Route, "status", resp.StatusCode, "attempt", transientAttempts, "backoff", delay.String())
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
			continue

		case resp.StatusCode >= 300:
			return newAPIError(resp.StatusCode, body)
		}

		if out == nil || len(body) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", req.Method, req.Route, err)
		}
		return nil
	}
}

func (c *Client) send(ctx context.Context, req Request) (*http.Response, []byte, error) {
	var bodyReader io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, bodyReader)
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("Authorization", "Bot "+c.token)
	httpReq.Header.Set("User-Agent", c.userAgent)
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Reason != "" {
		httpReq.Header.Set("X-Audit-Log-Reason", req.Reason)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

// backoffDelay is exponential with 10% jitter, capped at 30s.
func backoffDelay(attempt int) time.Duration {
	base := time.Second
	for i := 1; i < attempt; i++ {
		base *= 2
		if base > 30*time.Second {
			base = 30 * time.Second
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(base)/10 + 1))
	return base + jitter
}
