// Package gateway implements the per-shard websocket session: the
// hello/identify/resume state machine, heartbeating, sequence tracking, and
// the decode -> cache apply -> publish pipeline. Reconnects are driven by an
// explicit state machine rather than exception-style control flow, and the
// socket is abstracted behind Transport so the machine is testable without a
// network.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/small-frappuccino/gatecore/pkg/cache"
	"github.com/small-frappuccino/gatecore/pkg/discord"
	"github.com/small-frappuccino/gatecore/pkg/event"
	"github.com/small-frappuccino/gatecore/pkg/log"
	"github.com/small-frappuccino/gatecore/pkg/metrics"
)

// State is the session connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingHello
	StateIdentifying
	StateResuming
	StateAwaitingReady
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingHello:
		return "awaiting_hello"
	case StateIdentifying:
		return "identifying"
	case StateResuming:
		return "resuming"
	case StateAwaitingReady:
		return "awaiting_ready"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionStore persists resume state across process restarts.
type SessionStore interface {
	LoadSession(shardID int) (sessionID string, sequence int64, resumeURL string, err error)
	SaveSession(shardID int, sessionID string, sequence int64, resumeURL string) error
	ClearSession(shardID int) error
}

// FatalError marks a close the session must not retry: bad token, disallowed
// intents, or sharding misconfiguration.
type FatalError struct {
	Code int
	Text string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal gateway close: code %d: %s", e.Code, e.Text)
}

// errReconnect signals a retryable connection teardown.
var errReconnect = errors.New("gateway: reconnect requested")

// invalidSessionDelay is the wait the server expects before the identify
// that follows an invalid-session notice. Overridden in tests.
var invalidSessionDelay = func() time.Duration {
	return time.Duration(1+rand.Intn(4)) * time.Second
}

// Config wires one shard session.
type Config struct {
	Token      string
	Intents    discord.Intents
	ShardID    int
	ShardCount int
	GatewayURL string

	Dialer Dialer
	Cache  *cache.Cache
	Bus    *event.Bus

	// IdentifyLimiter staggers Identify calls across shards; the server
	// permits a limited identify frequency per token. Shared by the
	// coordinator.
	IdentifyLimiter *rate.Limiter

	// MaxResumeAge bounds how stale a session may be and still attempt a
	// resume; beyond it the session re-identifies from scratch.
	MaxResumeAge time.Duration

	// HelloTimeout bounds the wait for the server's Hello frame.
	HelloTimeout time.Duration

	// MaxBackoff caps the reconnect backoff delay.
	MaxBackoff time.Duration

	// Store, when set, persists resume state across restarts.
	Store SessionStore

	// Metrics, when set, records session activity.
	Metrics *metrics.Collector
}

// Session is one shard's gateway connection. Create with NewSession and
// drive with Run; a session runs at most one connection at a time.
type Session struct {
	cfg     Config
	applier *applier
	state   atomicState
	seq     atomicSeq

	mu           sync.Mutex
	sessionID    string
	resumeURL    string
	lastDispatch time.Time
}

// NewSession wires a session. The caller owns the cache and bus lifecycles.
func NewSession(cfg Config) *Session {
	if cfg.MaxResumeAge <= 0 {
		cfg.MaxResumeAge = 3 * time.Minute
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = 15 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = NewDialer(false)
	}
	s := &Session{cfg: cfg}
	s.applier = newApplier(cfg.ShardID, cfg.Cache, cfg.Bus)
	if cfg.Store != nil {
		if id, seq, resumeURL, err := cfg.Store.LoadSession(cfg.ShardID); err == nil && id != "" {
			s.sessionID = id
			s.seq.store(seq)
			s.resumeURL = resumeURL
			s.lastDispatch = time.Now()
			log.GatewayLogger().Info("loaded persisted session for resume",
				"shard", cfg.ShardID, "session_id", id, "seq", seq)
		}
	}
	return s
}

// State returns the current connection state.
func (s *Session) State() State { return s.state.load() }

// Sequence returns the last received dispatch sequence number.
func (s *Session) Sequence() int64 { return s.seq.load() }

// Run connects and keeps the session alive until ctx is cancelled or a fatal
// close occurs. Retryable failures reconnect with exponential backoff and
// jitter, capped at MaxBackoff; a long-lived bot keeps trying indefinitely.
func (s *Session) Run(ctx context.Context) error {
	attempt := 0
	for {
		established, err := s.runConnection(ctx)
		if established {
			attempt = 0
		}
		s.persistSession()
		if ctx.Err() != nil {
			s.state.store(StateClosed)
			return ctx.Err()
		}
		var fatal *FatalError
		if errors.As(err, &fatal) {
			s.state.store(StateClosed)
			log.GatewayLogger().Error("shard closed permanently",
				"shard", s.cfg.ShardID, "code", fatal.Code, "reason", fatal.Text)
			return err
		}

		s.state.store(StateReconnecting)
		attempt++
		delay := reconnectBackoff(attempt, s.cfg.MaxBackoff)
		log.GatewayLogger().Warn("shard disconnected, reconnecting",
			"shard", s.cfg.ShardID, "attempt", attempt, "backoff", delay.String(), "error", err)
		s.cfg.Metrics.RecordReconnect(s.cfg.ShardID)
		if err := sleepCtx(ctx, delay); err != nil {
			s.state.store(StateClosed)
			return err
		}
	}
}

// runConnection runs one socket lifetime: dial, hello, identify or resume,
// then the receive loop. established reports whether the connection reached
// Connected, which resets the caller's backoff.
func (s *Session) runConnection(ctx context.Context) (established bool, err error) {
	s.state.store(StateConnecting)

	url := s.cfg.GatewayURL
	s.mu.Lock()
	if s.resumeURL != "" {
		url = s.resumeURL
	}
	s.mu.Unlock()

	conn, err := s.cfg.Dialer.Dial(ctx, url)
	if err != nil {
		return false, err
	}
	defer conn.Close(1000, "")

	frames := make(chan frame)
	readErrs := make(chan error, 1)
	readStop := make(chan struct{})
	defer close(readStop)
	go readLoop(conn, frames, readErrs, readStop)

	s.state.store(StateAwaitingHello)
	interval, err := s.awaitHello(ctx, frames, readErrs)
	if err != nil {
		return false, err
	}

	resuming := s.canResume()
	if resuming {
		s.state.store(StateResuming)
		s.mu.Lock()
		sessionID := s.sessionID
		s.mu.Unlock()
		log.GatewayLogger().Info("resuming session",
			"shard", s.cfg.ShardID, "session_id", sessionID, "seq", s.seq.load())
		err = conn.WriteJSON(frame{Op: opResume, D: mustMarshal(resumeData{
			Token:     s.cfg.Token,
			SessionID: sessionID,
			Sequence:  s.seq.load(),
		})})
	} else {
		s.clearSession()
		s.state.store(StateIdentifying)
		if s.cfg.IdentifyLimiter != nil {
			if err := s.cfg.IdentifyLimiter.Wait(ctx); err != nil {
				return false, err
			}
		}
		log.GatewayLogger().Info("identifying",
			"shard", s.cfg.ShardID, "shard_count", s.cfg.ShardCount, "intents", uint64(s.cfg.Intents))
		err = conn.WriteJSON(frame{Op: opIdentify, D: mustMarshal(identifyData{
			Token:   s.cfg.Token,
			Intents: s.cfg.Intents,
			Shard:   [2]int{s.cfg.ShardID, s.cfg.ShardCount},
			Properties: identifyProperties{
				OS:      runtime.GOOS,
				Browser: "gatecore",
				Device:  "gatecore",
			},
		})})
	}
	if err != nil {
		return false, err
	}
	s.state.store(StateAwaitingReady)

	hb := newHeartbeater(conn, interval, &s.seq)
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go hb.run(hbCtx, s.cfg.ShardID, s.cfg.Metrics)

	for {
		select {
		case <-ctx.Done():
			// Clean close so the server can keep the session resumable.
			_ = conn.Close(1000, "shutting down")
			return established, ctx.Err()
		case err := <-readErrs:
			return established, s.classifyReadError(err)
		case f := <-frames:
			done, err := s.handleFrame(ctx, conn, hb, f)
			if err != nil {
				return established, err
			}
			if done {
				established = true
			}
		}
	}
}

// awaitHello waits a bounded time for the server's Hello frame and returns
// the announced heartbeat interval.
func (s *Session) awaitHello(ctx context.Context, frames <-chan frame, readErrs <-chan error) (time.Duration, error) {
	timer := time.NewTimer(s.cfg.HelloTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case err := <-readErrs:
		return 0, s.classifyReadError(err)
	case <-timer.C:
		return 0, errors.New("gateway: timed out waiting for hello")
	case f := <-frames:
		if f.Op != opHello {
			return 0, fmt.Errorf("gateway: expected hello, got op %d", f.Op)
		}
		var hello helloData
		if err := json.Unmarshal(f.D, &hello); err != nil {
			return 0, fmt.Errorf("gateway: decode hello: %w", err)
		}
		if hello.HeartbeatInterval <= 0 {
			return 0, fmt.Errorf("gateway: invalid heartbeat interval %d", hello.HeartbeatInterval)
		}
		return time.Duration(hello.HeartbeatInterval) * time.Millisecond, nil
	}
}

// handleFrame processes one inbound frame. connected reports that the
// session reached Connected during this frame.
func (s *Session) handleFrame(ctx context.Context, conn Transport, hb *heartbeater, f frame) (connected bool, err error) {
	switch f.Op {
	case opDispatch:
		return s.handleDispatch(ctx, f)

	case opHeartbeat:
		// The server may request an immediate beat.
		return false, hb.beat()

	case opHeartbeatACK:
		hb.ack()
		if at := hb.sentAt(); !at.IsZero() {
			s.cfg.Metrics.RecordHeartbeatLatency(s.cfg.ShardID, time.Since(at))
		}
		return false, nil

	case opReconnect:
		log.GatewayLogger().Info("server requested reconnect", "shard", s.cfg.ShardID)
		return false, errReconnect

	case opInvalidSession:
		var resumable bool
		_ = json.Unmarshal(f.D, &resumable)
		if !resumable {
			s.clearSession()
		}
		log.GatewayLogger().Warn("session invalidated",
			"shard", s.cfg.ShardID, "resumable", resumable)
		// The server asks clients to wait a short random time before the
		// next identify attempt.
		if err := sleepCtx(ctx, invalidSessionDelay()); err != nil {
			return false, err
		}
		return false, errReconnect

	default:
		log.GatewayLogger().Debug("ignoring unknown opcode", "shard", s.cfg.ShardID, "op", f.Op)
		return false, nil
	}
}

func (s *Session) handleDispatch(ctx context.Context, f frame) (connected bool, err error) {
	if f.S != nil {
		s.seq.store(*f.S)
	}
	s.mu.Lock()
	s.lastDispatch = time.Now()
	s.mu.Unlock()
	s.cfg.Metrics.RecordDispatch(f.T)

	switch f.T {
	case discord.DispatchReady:
		var ready readyData
		if err := json.Unmarshal(f.D, &ready); err != nil {
			return false, fmt.Errorf("gateway: decode ready: %w", err)
		}
		s.mu.Lock()
		s.sessionID = ready.SessionID
		s.resumeURL = ready.ResumeGatewayURL
		s.mu.Unlock()
		s.persistSession()
		s.state.store(StateConnected)

		guildIDs := make([]discord.Snowflake, 0, len(ready.Guilds))
		for _, g := range ready.Guilds {
			guildIDs = append(guildIDs, g.ID)
		}
		s.applier.onReady(ctx, ready.User, ready.SessionID, guildIDs)
		log.GatewayLogger().Info("shard ready",
			"shard", s.cfg.ShardID, "session_id", ready.SessionID, "guilds", len(guildIDs))
		return true, nil

	case discord.DispatchResumed:
		s.state.store(StateConnected)
		log.GatewayLogger().Info("session resumed", "shard", s.cfg.ShardID, "seq", s.seq.load())
		s.cfg.Bus.Publish(ctx, discord.EventResumed, discord.ResumedEvent{
			ShardID:  s.cfg.ShardID,
			Sequence: s.seq.load(),
		})
		return true, nil

	default:
		// Decode errors affect only the offending dispatch: report and skip,
		// never crash the session loop.
		if err := s.applier.apply(ctx, f.T, f.D); err != nil {
			log.GatewayLogger().Error("dropping malformed dispatch",
				"shard", s.cfg.ShardID, "event", f.T, "error", err)
			s.cfg.Metrics.RecordDecodeFailure(f.T)
		}
		return false, nil
	}
}

// classifyReadError maps socket teardown into the error taxonomy: fatal close
// codes stop the shard, session-invalidating codes clear resume state, and
// everything else retries.
func (s *Session) classifyReadError(err error) error {
	code, ok := closeCode(err)
	if !ok {
		return err
	}
	s.publishDisconnect(code, !isFatalCloseCode(code))
	if isFatalCloseCode(code) {
		return &FatalError{Code: code, Text: err.Error()}
	}
	if invalidatesSession(code) {
		s.clearSession()
	}
	return err
}

func (s *Session) publishDisconnect(code int, reconnecting bool) {
	s.cfg.Bus.Publish(context.Background(), discord.EventShardDisconnect, discord.ShardDisconnectEvent{
		ShardID:      s.cfg.ShardID,
		Code:         code,
		Reconnecting: reconnecting,
	})
}

// canResume reports whether a resume attempt is allowed: session id and
// sequence exist and the session is not older than MaxResumeAge.
func (s *Session) canResume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID == "" || s.seq.load() == 0 {
		return false
	}
	if s.lastDispatch.IsZero() || time.Since(s.lastDispatch) > s.cfg.MaxResumeAge {
		return false
	}
	return true
}

func (s *Session) clearSession() {
	s.mu.Lock()
	s.sessionID = ""
	s.resumeURL = ""
	s.mu.Unlock()
	s.seq.store(0)
	if s.cfg.Store != nil {
		if err := s.cfg.Store.ClearSession(s.cfg.ShardID); err != nil {
			log.GatewayLogger().Warn("failed to clear persisted session",
				"shard", s.cfg.ShardID, "error", err)
		}
	}
}

func (s *Session) persistSession() {
	if s.cfg.Store == nil {
		return
	}
	s.mu.Lock()
	id, resumeURL := s.sessionID, s.resumeURL
	s.mu.Unlock()
	if id == "" {
		return
	}
	if err := s.cfg.Store.SaveSession(s.cfg.ShardID, id, s.seq.load(), resumeURL); err != nil {
		log.GatewayLogger().Warn("failed to persist session",
			"shard", s.cfg.ShardID, "error", err)
	}
}

// readLoop pumps frames from the transport until it fails or stop closes.
// The stop channel covers the window where the consumer has already returned
// while a decoded frame is still waiting to be handed over.
func readLoop(conn Transport, frames chan<- frame, errs chan<- error, stop <-chan struct{}) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			errs <- err
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			// A malformed envelope is reported and skipped; only transport
			// failures end the loop.
			log.GatewayLogger().Error("skipping undecodable frame", "error", err)
			continue
		}
		select {
		case frames <- f:
		case <-stop:
			return
		}
	}
}

// reconnectBackoff is exponential with jitter, capped at max.
func reconnectBackoff(attempt int, max time.Duration) time.Duration {
	base := time.Second
	for i := 1; i < attempt; i++ {
		base *= 2
		if base >= max {
			break
		}
	}
	if base > max {
		base = max
	}
	jitter := time.Duration(rand.Int63n(int64(base)/4 + 1))
	return base + jitter
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

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
