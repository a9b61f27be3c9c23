package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/small-frappuccino/gatecore/pkg/cache"
	"github.com/small-frappuccino/gatecore/pkg/discord"
	"github.com/small-frappuccino/gatecore/pkg/event"
)

type readResult struct {
	data []byte
	err  error
}

// fakeConn is a scripted Transport: tests feed inbound frames through serve
// and observe outbound frames on writes.
type fakeConn struct {
	reads  chan readResult
	writes chan frame

	mu        sync.Mutex
	closed    bool
	closeCode int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		reads:  make(chan readResult, 64),
		writes: make(chan frame, 64),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	r, ok := <-c.reads
	if !ok {
		return nil, errors.New("connection torn down")
	}
	return r.data, r.err
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.New("write on closed connection")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	c.writes <- f
	return nil
}

func (c *fakeConn) Close(code int, text string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.closeCode = code
	c.mu.Unlock()
	// A closed socket errors out any blocked reader.
	select {
	case c.reads <- readResult{err: errors.New("use of closed connection")}:
	default:
	}
	return nil
}

func (c *fakeConn) serve(op int, d string, seq int64, t string) {
	f := frame{Op: op, D: json.RawMessage(d), T: t}
	if seq > 0 {
		f.S = &seq
	}
	data, err := json.Marshal(f)
	if err != nil {
		panic(err)
	}
	c.reads <- readResult{data: data}
}

func (c *fakeConn) serveHello(intervalMS int64) {
	c.serve(opHello, fmt.Sprintf(`{"heartbeat_interval": %d}`, intervalMS), 0, "")
}

func (c *fakeConn) fail(err error) {
	c.reads <- readResult{err: err}
}

// expectWrite waits for the next outbound frame with the given opcode,
// tolerating interleaved heartbeats when op is not opHeartbeat.
func (c *fakeConn) expectWrite(t *testing.T, op int) frame {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case f := <-c.writes:
			if f.Op == op {
				return f
			}
			if f.Op == opHeartbeat && op != opHeartbeat {
				continue
			}
			t.Fatalf("expected op %d write, got op %d", op, f.Op)
		case <-deadline:
			t.Fatalf("timed out waiting for op %d write", op)
		}
	}
}

// fakeDialer hands out scripted connections in order and records dial URLs.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	urls  []string
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if len(d.conns) == 0 {
		return nil, errors.New("no more scripted connections")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

type sessionFixture struct {
	session *Session
	cache   *cache.Cache
	bus     *event.Bus
	dialer  *fakeDialer
	events  chan busEvent
	runErr  chan error
	cancel  context.CancelFunc
}

type busEvent struct {
	name    string
	payload any
}

func newFixture(t *testing.T, conns ...*fakeConn) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		cache:  cache.New(cache.Config{Intents: discord.IntentsAll()}),
		bus:    event.NewBus(),
		dialer: &fakeDialer{conns: conns},
		events: make(chan busEvent, 128),
		runErr: make(chan error, 1),
	}
	for _, name := range []string{
		discord.EventConnect, discord.EventReady, discord.EventResumed,
		discord.EventShardDisconnect, discord.EventGuildJoin, discord.EventGuildUpdate,
		discord.EventMessageCreate, discord.EventMemberUpdate,
	} {
		name := name
		f.bus.On(name, func(ctx context.Context, payload any) error {
			f.events <- busEvent{name: name, payload: payload}
			return nil
		})
	}
	f.session = NewSession(Config{
		Token:      "tok",
		Intents:    discord.IntentsAll(),
		ShardID:    0,
		ShardCount: 1,
		GatewayURL: "wss://gateway.example",
		Dialer:     f.dialer,
		Cache:      f.cache,
		Bus:        f.bus,
		MaxBackoff: 20 * time.Millisecond,
	})
	return f
}

func (f *sessionFixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	t.Cleanup(cancel)
	go func() { f.runErr <- f.session.Run(ctx) }()
}

func (f *sessionFixture) expectEvent(t *testing.T, name string) busEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-f.events:
			if ev.name == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %q", name)
		}
	}
}

func (f *sessionFixture) expectNoEvent(t *testing.T, name string, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case ev := <-f.events:
			if ev.name == name {
				t.Fatalf("unexpected event %q", name)
			}
		case <-deadline:
			return
		}
	}
}

const readyPayload = `{
	"v": 9,
	"user": {"id": "1", "username": "bot"},
	"session_id": "sess-1",
	"resume_gateway_url": "wss://resume.example",
	"guilds": [{"id": "100", "unavailable": true}, {"id": "200", "unavailable": true}]
}`

func TestIdentifyAndStagedReady(t *testing.T) {
	conn := newFakeConn()
	f := newFixture(t, conn)
	f.start(t)

	conn.serveHello(60000)
	identify := conn.expectWrite(t, opIdentify)
	var id identifyData
	require.NoError(t, json.Unmarshal(identify.D, &id))
	assert.Equal(t, "tok", id.Token)
	assert.Equal(t, [2]int{0, 1}, id.Shard)
	assert.Equal(t, discord.IntentsAll(), id.Intents)

	conn.serve(opDispatch, readyPayload, 1, discord.DispatchReady)
	f.expectEvent(t, discord.EventConnect)

	// Ready is held until every READY guild has replayed its GUILD_CREATE.
	f.expectNoEvent(t, discord.EventReady, 50*time.Millisecond)
	conn.serve(opDispatch, `{"id": "100", "name": "first"}`, 2, discord.DispatchGuildCreate)
	f.expectNoEvent(t, discord.EventReady, 50*time.Millisecond)
	conn.serve(opDispatch, `{"id": "200", "name": "second"}`, 3, discord.DispatchGuildCreate)

	ev := f.expectEvent(t, discord.EventReady)
	ready := ev.payload.(discord.ReadyEvent)
	assert.Equal(t, "sess-1", ready.SessionID)
	assert.Len(t, ready.Guilds, 2)
	assert.Equal(t, StateConnected, f.session.State())
	assert.Equal(t, int64(3), f.session.Sequence())

	g, ok := f.cache.Guild(100)
	require.True(t, ok)
	assert.Equal(t, "first", g.Name)

	// Replayed guilds are not joins.
	f.expectNoEvent(t, discord.EventGuildJoin, 50*time.Millisecond)

	// A later GUILD_CREATE is a real join.
	conn.serve(opDispatch, `{"id": "300", "name": "joined"}`, 4, discord.DispatchGuildCreate)
	join := f.expectEvent(t, discord.EventGuildJoin)
	assert.Equal(t, "joined", join.payload.(discord.GuildJoinEvent).Guild.Name)

	f.cancel()
	assert.ErrorIs(t, <-f.runErr, context.Canceled)
}

func TestHeartbeatRequestAnsweredImmediately(t *testing.T) {
	conn := newFakeConn()
	f := newFixture(t, conn)
	f.start(t)

	conn.serveHello(60000)
	conn.expectWrite(t, opIdentify)
	conn.serve(opDispatch, readyPayload, 5, discord.DispatchReady)
	f.expectEvent(t, discord.EventConnect)

	conn.serve(opHeartbeat, `null`, 0, "")
	hb := conn.expectWrite(t, opHeartbeat)
	var seq int64
	require.NoError(t, json.Unmarshal(hb.D, &seq))
	assert.Equal(t, int64(5), seq, "heartbeat carries the latest sequence")
}

func TestMissedAcksForceResume(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	f := newFixture(t, conn1, conn2)
	f.start(t)

	// A short heartbeat interval and no acks: the second unacknowledged beat
	// closes the connection.
	conn1.serveHello(30)
	conn1.expectWrite(t, opIdentify)
	conn1.serve(opDispatch, readyPayload, 7, discord.DispatchReady)
	f.expectEvent(t, discord.EventConnect)

	// The replacement connection resumes with the preserved session and seq.
	conn2.serveHello(60000)
	resume := conn2.expectWrite(t, opResume)
	var r resumeData
	require.NoError(t, json.Unmarshal(resume.D, &r))
	assert.Equal(t, "sess-1", r.SessionID)
	assert.Equal(t, int64(7), r.Sequence)
	assert.Equal(t, "tok", r.Token)

	conn2.serve(opDispatch, `null`, 7, discord.DispatchResumed)
	ev := f.expectEvent(t, discord.EventResumed)
	assert.Equal(t, int64(7), ev.payload.(discord.ResumedEvent).Sequence)

	f.dialer.mu.Lock()
	urls := append([]string(nil), f.dialer.urls...)
	f.dialer.mu.Unlock()
	require.Len(t, urls, 2)
	assert.Equal(t, "wss://resume.example", urls[1], "resume uses the URL from READY")
}

func TestServerReconnectRequestResumes(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	f := newFixture(t, conn1, conn2)
	f.start(t)

	conn1.serveHello(60000)
	conn1.expectWrite(t, opIdentify)
	conn1.serve(opDispatch, readyPayload, 3, discord.DispatchReady)
	f.expectEvent(t, discord.EventConnect)

	conn1.serve(opReconnect, `null`, 0, "")

	conn2.serveHello(60000)
	resume := conn2.expectWrite(t, opResume)
	var r resumeData
	require.NoError(t, json.Unmarshal(resume.D, &r))
	assert.Equal(t, int64(3), r.Sequence)
}

func TestInvalidSessionNonResumableReidentifies(t *testing.T) {
	prev := invalidSessionDelay
	invalidSessionDelay = func() time.Duration { return time.Millisecond }
	t.Cleanup(func() { invalidSessionDelay = prev })

	conn1 := newFakeConn()
	conn2 := newFakeConn()
	f := newFixture(t, conn1, conn2)
	f.start(t)

	conn1.serveHello(60000)
	conn1.expectWrite(t, opIdentify)
	conn1.serve(opDispatch, readyPayload, 3, discord.DispatchReady)
	f.expectEvent(t, discord.EventConnect)

	conn1.serve(opInvalidSession, `false`, 0, "")

	conn2.serveHello(60000)
	conn2.expectWrite(t, opIdentify)
	assert.Equal(t, int64(0), f.session.Sequence(), "invalidated session drops its sequence")
}

func TestFatalCloseStopsSession(t *testing.T) {
	conn := newFakeConn()
	f := newFixture(t, conn)
	f.start(t)

	conn.serveHello(60000)
	conn.expectWrite(t, opIdentify)
	conn.fail(&CloseError{Code: 4004, Text: "Authentication failed"})

	err := <-f.runErr
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, 4004, fatal.Code)
	assert.Equal(t, StateClosed, f.session.State())

	ev := f.expectEvent(t, discord.EventShardDisconnect)
	assert.False(t, ev.payload.(discord.ShardDisconnectEvent).Reconnecting)
}

func TestRetryableCloseReconnects(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	f := newFixture(t, conn1, conn2)
	f.start(t)

	conn1.serveHello(60000)
	conn1.expectWrite(t, opIdentify)
	conn1.serve(opDispatch, readyPayload, 2, discord.DispatchReady)
	f.expectEvent(t, discord.EventConnect)

	conn1.fail(&CloseError{Code: 4008, Text: "Rate limited"})
	ev := f.expectEvent(t, discord.EventShardDisconnect)
	assert.True(t, ev.payload.(discord.ShardDisconnectEvent).Reconnecting)

	conn2.serveHello(60000)
	conn2.expectWrite(t, opResume)
}

func TestSessionInvalidatingCloseReidentifies(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	f := newFixture(t, conn1, conn2)
	f.start(t)

	conn1.serveHello(60000)
	conn1.expectWrite(t, opIdentify)
	conn1.serve(opDispatch, readyPayload, 2, discord.DispatchReady)
	f.expectEvent(t, discord.EventConnect)

	// 4009 means the session timed out server-side: resume state is useless.
	conn1.fail(&CloseError{Code: 4009, Text: "Session timed out"})

	conn2.serveHello(60000)
	conn2.expectWrite(t, opIdentify)
}

func TestMalformedDispatchIsSkipped(t *testing.T) {
	conn := newFakeConn()
	f := newFixture(t, conn)
	f.start(t)

	conn.serveHello(60000)
	conn.expectWrite(t, opIdentify)
	conn.serve(opDispatch, readyPayload, 1, discord.DispatchReady)
	f.expectEvent(t, discord.EventConnect)

	// The id field cannot decode as a snowflake.
	conn.serve(opDispatch, `{"id": true, "name": "broken"}`, 2, discord.DispatchGuildUpdate)
	conn.serve(opDispatch, `{"id": "100", "name": "fine"}`, 3, discord.DispatchGuildCreate)
	f.expectNoEvent(t, discord.EventGuildUpdate, 50*time.Millisecond)
	assert.Equal(t, int64(3), f.session.Sequence(), "session survives a bad payload")
}

func TestHelloTimeout(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	f := newFixture(t, conn1, conn2)
	f.session.cfg.HelloTimeout = 30 * time.Millisecond
	f.start(t)

	// conn1 never says hello; the session gives up and redials.
	conn2.serveHello(60000)
	conn2.expectWrite(t, opIdentify)
}

func TestCleanShutdownClosesSocket(t *testing.T) {
	conn := newFakeConn()
	f := newFixture(t, conn)
	f.start(t)

	conn.serveHello(60000)
	conn.expectWrite(t, opIdentify)
	conn.serve(opDispatch, readyPayload, 1, discord.DispatchReady)
	f.expectEvent(t, discord.EventConnect)

	f.cancel()
	assert.ErrorIs(t, <-f.runErr, context.Canceled)
	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.True(t, conn.closed)
	assert.Equal(t, 1000, conn.closeCode, "shutdown sends a normal close")
}

func TestReaderStopsWhenConnectionLoopReturns(t *testing.T) {
	conn := newFakeConn()
	conn.serve(opHeartbeatACK, `null`, 0, "")
	conn.serve(opHeartbeatACK, `null`, 0, "")

	frames := make(chan frame)
	readErrs := make(chan error, 1)
	stop := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		readLoop(conn, frames, readErrs, stop)
		close(exited)
	}()

	// Take one frame; the second is decoded and parked on the handover.
	select {
	case <-frames:
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
	}

	close(stop)
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("reader kept running with no consumer left")
	}
}
