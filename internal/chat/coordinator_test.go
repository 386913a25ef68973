package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatd/internal/metrics"
	"chatd/util"
)

const (
	testToken = "0123456789ABCDEF0123456789ABCDEF"
	rate      = time.Second
	banFor    = 10 * time.Minute
	strikes   = 10
)

// ── fakes ────────────────────────────────────────────────────────────

type fakeConn struct {
	buf         bytes.Buffer
	shutdowns   int
	writeErr    error
	shutdownErr error
}

func (f *fakeConn) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.buf.Write(p)
}

func (f *fakeConn) Shutdown() error {
	f.shutdowns++
	return f.shutdownErr
}

func (f *fakeConn) String() string { return f.buf.String() }

// take returns what was written so far and resets the buffer.
func (f *fakeConn) take() string {
	s := f.buf.String()
	f.buf.Reset()
	return s
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	t       *testing.T
	clock   *fakeClock
	metrics *metrics.Collector
	logs    *bytes.Buffer
	c       *Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
	logs := &bytes.Buffer{}
	logger := util.NewLogger(3)
	logger.SetOutput(logs)
	logger.SetTimestamps(false)
	m := metrics.New()

	return &harness{
		t:       t,
		clock:   clock,
		metrics: m,
		logs:    logs,
		c: New(Config{
			Token:       testToken,
			BanDuration: banFor,
			MessageRate: rate,
			StrikeLimit: strikes,
			Logger:      logger,
			Metrics:     m,
			Clock:       clock.Now,
		}),
	}
}

func ep(s string) netip.AddrPort { return netip.MustParseAddrPort(s) }

func (h *harness) connect(addr string) *fakeConn {
	conn := &fakeConn{}
	h.c.Handle(Connect(ep(addr), conn))
	return conn
}

func (h *harness) send(addr string, msg string) {
	h.c.Handle(Message(ep(addr), []byte(msg)))
}

func (h *harness) sendBytes(addr string, b []byte) {
	h.c.Handle(Message(ep(addr), b))
}

// login connects addr, waits out the pacing interval and authenticates.
func (h *harness) login(addr string) *fakeConn {
	conn := h.connect(addr)
	h.clock.Advance(rate)
	h.send(addr, testToken)
	require.Contains(h.t, conn.take(), WelcomeNotice)
	return conn
}

func (h *harness) banned(ip string) (time.Time, bool) {
	at, ok := h.c.bans[netip.MustParseAddr(ip)]
	return at, ok
}

// ── Connect ──────────────────────────────────────────────────────────

func TestConnect_SendsPromptAndCreatesSession(t *testing.T) {
	h := newHarness(t)
	conn := h.connect("10.0.0.1:5000")

	assert.Equal(t, TokenPrompt, conn.String())
	assert.Zero(t, conn.shutdowns)
	require.Equal(t, 1, h.c.Len())

	s := h.c.sessions[ep("10.0.0.1:5000")]
	require.NotNil(t, s)
	assert.False(t, s.Authenticated)
	assert.Zero(t, s.Strikes)
	assert.Equal(t, h.clock.Now().Add(-2*rate), s.LastMessageAt)
}

func TestConnect_DuplicateEndpointKeepsOneSession(t *testing.T) {
	h := newHarness(t)
	first := h.connect("10.0.0.1:5000")
	second := h.connect("10.0.0.1:5000")

	assert.Equal(t, 1, h.c.Len())
	assert.Same(t, second, h.c.sessions[ep("10.0.0.1:5000")].Conn)
	assert.Contains(t, h.logs.String(), "[WRN]")
	assert.Equal(t, 1, first.shutdowns, "replaced connection must be shut down")
	assert.Zero(t, second.shutdowns)
}

// ── Disconnect ───────────────────────────────────────────────────────

func TestDisconnect_Idempotent(t *testing.T) {
	h := newHarness(t)
	conn := h.connect("10.0.0.1:5000")
	conn.take()

	h.c.Handle(Disconnect(ep("10.0.0.1:5000")))
	h.c.Handle(Disconnect(ep("10.0.0.1:5000")))
	h.c.Handle(Disconnect(ep("10.9.9.9:1")))

	assert.Zero(t, h.c.Len())
	assert.Empty(t, conn.String(), "disconnect must not write")
	assert.Zero(t, conn.shutdowns)
}

func TestMessage_UnknownEndpointIgnored(t *testing.T) {
	h := newHarness(t)
	other := h.login("10.0.0.2:5000")

	h.send("10.0.0.1:5000", "hello")

	assert.Empty(t, other.String())
	assert.Equal(t, 1, h.c.Len())
}

// ── Authentication ───────────────────────────────────────────────────

// Scenario A: wrong token ends the session, no ban.
func TestAuth_WrongTokenDisconnectsWithoutBan(t *testing.T) {
	h := newHarness(t)
	conn := h.connect("10.0.0.1:5000")
	conn.take()

	h.clock.Advance(rate)
	h.send("10.0.0.1:5000", "guess")

	assert.Equal(t, InvalidToken, conn.String())
	assert.Equal(t, 1, conn.shutdowns)
	assert.Zero(t, h.c.Len())
	_, isBanned := h.banned("10.0.0.1")
	assert.False(t, isBanned)
	assert.Zero(t, h.metrics.Strikes(), "auth failure is not a strike")
	assert.EqualValues(t, 1, h.metrics.AuthFailures())

	// The same host may try again straight away.
	again := h.connect("10.0.0.1:5001")
	assert.Equal(t, TokenPrompt, again.String())
}

func TestAuth_CorrectTokenAuthenticates(t *testing.T) {
	h := newHarness(t)
	conn := h.connect("10.0.0.1:5000")
	conn.take()

	// First message is never rate limited.
	h.send("10.0.0.1:5000", testToken)

	assert.Equal(t, WelcomeNotice, conn.String())
	assert.Zero(t, conn.shutdowns)
	s := h.c.sessions[ep("10.0.0.1:5000")]
	require.NotNil(t, s)
	assert.True(t, s.Authenticated)
	assert.Zero(t, s.Strikes)
	assert.Zero(t, h.metrics.Strikes())
}

func TestAuth_TokenComparisonIsExact(t *testing.T) {
	for _, guess := range []string{
		strings.ToLower(testToken),
		testToken + " ",
		testToken[:len(testToken)-1],
		"",
	} {
		t.Run(fmt.Sprintf("%q", guess), func(t *testing.T) {
			h := newHarness(t)
			conn := h.connect("10.0.0.1:5000")
			conn.take()

			h.send("10.0.0.1:5000", guess)

			assert.Equal(t, InvalidToken, conn.String())
			assert.Zero(t, h.c.Len())
		})
	}
}

func TestAuth_NeverReverts(t *testing.T) {
	h := newHarness(t)
	h.login("10.0.0.1:5000")
	peer := h.login("10.0.0.2:5000")

	h.clock.Advance(rate)
	h.send("10.0.0.1:5000", "not the token")

	s := h.c.sessions[ep("10.0.0.1:5000")]
	require.NotNil(t, s)
	assert.True(t, s.Authenticated)
	assert.Equal(t, "not the token\n", peer.String())
}

// ── Broadcast ────────────────────────────────────────────────────────

// Scenario C: X's line reaches Y but not X, nor unauthenticated Z.
func TestBroadcast_OnlyOtherAuthenticated(t *testing.T) {
	h := newHarness(t)
	x := h.login("10.0.0.1:5000")
	y := h.login("10.0.0.2:5000")
	z := h.connect("10.0.0.3:5000")
	z.take()

	h.clock.Advance(rate)
	h.send("10.0.0.1:5000", "hello")

	assert.Equal(t, "hello\n", y.String())
	assert.Empty(t, x.String())
	assert.Empty(t, z.String())
	assert.EqualValues(t, 1, h.metrics.MessagesRelayed())
}

func TestBroadcast_WriteFailureDoesNotAbort(t *testing.T) {
	h := newHarness(t)
	h.login("10.0.0.1:5000")
	broken := h.login("10.0.0.2:5000")
	ok1 := h.login("10.0.0.3:5000")
	ok2 := h.login("10.0.0.4:5000")
	broken.writeErr = errors.New("broken pipe")

	h.clock.Advance(rate)
	h.send("10.0.0.1:5000", "still here")

	assert.Equal(t, "still here\n", ok1.String())
	assert.Equal(t, "still here\n", ok2.String())
	assert.Equal(t, 4, h.c.Len(), "write failures do not remove sessions")
	assert.Contains(t, h.logs.String(), "could not send broadcast message")
	assert.EqualValues(t, 1, h.metrics.ErrorCount())
}

func TestBroadcast_SameHostDifferentPortReceives(t *testing.T) {
	h := newHarness(t)
	h.login("10.0.0.1:5000")
	twin := h.login("10.0.0.1:5001")

	h.clock.Advance(rate)
	h.send("10.0.0.1:5000", "hi me")

	assert.Equal(t, "hi me\n", twin.String())
}

func TestBroadcast_EmptyLine(t *testing.T) {
	h := newHarness(t)
	h.login("10.0.0.1:5000")
	peer := h.login("10.0.0.2:5000")

	h.clock.Advance(rate)
	h.send("10.0.0.1:5000", "")

	assert.Equal(t, "\n", peer.String())
}

// ── Strikes ──────────────────────────────────────────────────────────

// Scenario B: ten malformed, well-paced messages ban the sender.
func TestStrikes_MalformedMessagesBan(t *testing.T) {
	h := newHarness(t)
	conn := h.login("10.0.0.1:5000")
	peer := h.login("10.0.0.2:5000")

	bad := []byte{0xff, 0xfe, 0xfd}
	for i := 1; i < strikes; i++ {
		h.clock.Advance(rate)
		h.sendBytes("10.0.0.1:5000", bad)
		require.Equal(t, i, h.c.sessions[ep("10.0.0.1:5000")].Strikes)
	}
	assert.Empty(t, conn.String())
	assert.Zero(t, conn.shutdowns)

	h.clock.Advance(rate)
	h.sendBytes("10.0.0.1:5000", bad)

	assert.Equal(t, BannedNotice, conn.String())
	assert.Equal(t, 1, conn.shutdowns)
	_, stillThere := h.c.sessions[ep("10.0.0.1:5000")]
	assert.False(t, stillThere)
	at, isBanned := h.banned("10.0.0.1")
	require.True(t, isBanned)
	assert.Equal(t, h.clock.Now(), at)
	assert.Empty(t, peer.String(), "malformed bytes are never relayed")
	assert.EqualValues(t, 1, h.metrics.Bans())
}

func TestStrikes_FloodingBans(t *testing.T) {
	h := newHarness(t)
	conn := h.login("10.0.0.1:5000")
	peer := h.login("10.0.0.2:5000")

	for i := 0; i < strikes; i++ {
		h.send("10.0.0.1:5000", "spam")
	}

	assert.Equal(t, BannedNotice, conn.String())
	assert.Empty(t, peer.String(), "rate-limited messages are never relayed")
	_, isBanned := h.banned("10.0.0.1")
	assert.True(t, isBanned)
}

func TestStrikes_UnauthenticatedCanBeBanned(t *testing.T) {
	h := newHarness(t)
	conn := h.connect("10.0.0.1:5000")
	conn.take()

	for i := 0; i < strikes; i++ {
		h.sendBytes("10.0.0.1:5000", []byte{0xc3})
	}

	assert.Equal(t, BannedNotice, conn.String())
	assert.Zero(t, h.c.Len())
	assert.Zero(t, h.metrics.AuthFailures())
}

func TestStrikes_ResetOnGoodMessage(t *testing.T) {
	h := newHarness(t)
	conn := h.login("10.0.0.1:5000")
	h.login("10.0.0.2:5000")

	for round := 0; round < 3; round++ {
		for i := 0; i < strikes-1; i++ {
			h.send("10.0.0.1:5000", "too fast")
		}
		require.Equal(t, strikes-1, h.c.sessions[ep("10.0.0.1:5000")].Strikes)

		h.clock.Advance(rate)
		h.send("10.0.0.1:5000", "calm")
		require.Zero(t, h.c.sessions[ep("10.0.0.1:5000")].Strikes)
	}

	assert.Zero(t, conn.shutdowns)
	_, isBanned := h.banned("10.0.0.1")
	assert.False(t, isBanned)
}

func TestStrikes_MalformedDoesNotResetPacing(t *testing.T) {
	h := newHarness(t)
	h.login("10.0.0.1:5000")
	peer := h.login("10.0.0.2:5000")

	h.clock.Advance(rate)
	h.sendBytes("10.0.0.1:5000", []byte{0xff})
	// Still a full interval since the last accepted message.
	h.send("10.0.0.1:5000", "ok")

	assert.Equal(t, "ok\n", peer.String())
	assert.Zero(t, h.c.sessions[ep("10.0.0.1:5000")].Strikes)
}

func TestStrikes_ClockSkewCountsAsTooFast(t *testing.T) {
	h := newHarness(t)
	h.login("10.0.0.1:5000")
	peer := h.login("10.0.0.2:5000")

	h.clock.Advance(-time.Hour)
	h.send("10.0.0.1:5000", "from the past")

	assert.Empty(t, peer.String())
	assert.Equal(t, 1, h.c.sessions[ep("10.0.0.1:5000")].Strikes)
	assert.Contains(t, h.logs.String(), "clock moved backwards")
}

func TestStrikes_LimitOfOne(t *testing.T) {
	h := newHarness(t)
	h.c.cfg.StrikeLimit = 1
	conn := h.login("10.0.0.1:5000")

	h.send("10.0.0.1:5000", "x")

	assert.Equal(t, BannedNotice, conn.String())
}

// ── Bans ─────────────────────────────────────────────────────────────

func banHost(h *harness, addr string) {
	h.t.Helper()
	h.connect(addr)
	for i := 0; i < strikes; i++ {
		h.sendBytes(addr, []byte{0xff})
	}
	_, ok := h.banned(netip.MustParseAddrPort(addr).Addr().String())
	require.True(h.t, ok)
}

// Scenario D: reconnecting while banned is refused with the remaining time.
func TestBan_ReconnectWhileBanned(t *testing.T) {
	h := newHarness(t)
	banHost(h, "10.0.0.1:5000")
	bannedAt := h.clock.Now()

	h.clock.Advance(banFor - 5*time.Second)
	conn := h.connect("10.0.0.1:6000")

	assert.Equal(t, "You are banned: 5 seconds left\n", conn.String())
	assert.Equal(t, 1, conn.shutdowns)
	assert.Zero(t, h.c.Len())
	at, ok := h.banned("10.0.0.1")
	require.True(t, ok)
	assert.Equal(t, bannedAt, at, "reconnecting must not renew the ban")
	assert.EqualValues(t, 1, h.metrics.BannedRejects())
}

// Scenario E: after the ban expires the host gets a normal prompt.
func TestBan_ExpiresLazily(t *testing.T) {
	h := newHarness(t)
	banHost(h, "10.0.0.1:5000")

	h.clock.Advance(banFor + time.Second)
	_, stillRecorded := h.banned("10.0.0.1")
	require.True(t, stillRecorded, "expiry is only noticed on the next connect")

	conn := h.connect("10.0.0.1:6000")

	assert.Equal(t, TokenPrompt, conn.String())
	assert.Equal(t, 1, h.c.Len())
	_, ok := h.banned("10.0.0.1")
	assert.False(t, ok)
}

func TestBan_ExactlyAtDurationIsLifted(t *testing.T) {
	h := newHarness(t)
	banHost(h, "10.0.0.1:5000")

	h.clock.Advance(banFor)
	conn := h.connect("10.0.0.1:6000")

	assert.Equal(t, TokenPrompt, conn.String())
}

func TestBan_RepeatedReconnectsDoNotExtend(t *testing.T) {
	h := newHarness(t)
	banHost(h, "10.0.0.1:5000")

	for i := 0; i < 5; i++ {
		h.clock.Advance(banFor / 10)
		conn := h.connect(fmt.Sprintf("10.0.0.1:%d", 6000+i))
		require.Contains(t, conn.String(), "seconds left")
	}

	h.clock.Advance(banFor/2 + time.Second)
	conn := h.connect("10.0.0.1:7000")
	assert.Equal(t, TokenPrompt, conn.String())
}

func TestBan_PartialSecondRoundsUp(t *testing.T) {
	h := newHarness(t)
	banHost(h, "10.0.0.1:5000")

	h.clock.Advance(banFor - 4500*time.Millisecond)
	conn := h.connect("10.0.0.1:6000")

	assert.Equal(t, "You are banned: 5 seconds left\n", conn.String())
}

func TestBan_CoversEveryPortButNotOtherHosts(t *testing.T) {
	h := newHarness(t)
	h.connect("10.0.0.1:5001")
	banHost(h, "10.0.0.1:5000")

	// A session already open from the same host is left alone.
	assert.Equal(t, 1, h.c.Len())

	refused := h.connect("10.0.0.1:9999")
	assert.Contains(t, refused.String(), "You are banned:")

	fine := h.connect("10.0.0.2:5000")
	assert.Equal(t, TokenPrompt, fine.String())
}

func TestBan_OneRecordPerIP(t *testing.T) {
	h := newHarness(t)
	banHost(h, "10.0.0.1:5000")
	h.clock.Advance(time.Minute)
	h.connect("10.0.0.1:5001") // refused: banned
	banHost(h, "10.0.0.2:5000")

	assert.Len(t, h.c.bans, 2)
}

func TestBan_ClockSkewKeepsBan(t *testing.T) {
	h := newHarness(t)
	banHost(h, "10.0.0.1:5000")

	h.clock.Advance(-time.Hour)
	conn := h.connect("10.0.0.1:6000")

	assert.Equal(t, fmt.Sprintf("You are banned: %d seconds left\n", int(banFor.Seconds())), conn.String())
}

// ── I/O failures ─────────────────────────────────────────────────────

func TestShutdownFailureIsLogged(t *testing.T) {
	h := newHarness(t)
	conn := &fakeConn{shutdownErr: errors.New("not connected")}
	h.c.Handle(Connect(ep("10.0.0.1:5000"), conn))

	h.send("10.0.0.1:5000", "wrong")

	assert.Zero(t, h.c.Len(), "session removed even if shutdown fails")
	assert.Contains(t, h.logs.String(), "could not shut down connection")
}

func TestPromptWriteFailureKeepsSession(t *testing.T) {
	h := newHarness(t)
	conn := &fakeConn{writeErr: errors.New("reset")}
	h.c.Handle(Connect(ep("10.0.0.1:5000"), conn))

	assert.Equal(t, 1, h.c.Len())
	assert.Contains(t, h.logs.String(), "could not send token prompt")
}

// ── Logging ──────────────────────────────────────────────────────────

func TestRedactedLogsHideAddresses(t *testing.T) {
	h := newHarness(t)
	h.c.log.SetRedact(true)

	h.login("10.0.0.1:5000")
	banHost(h, "10.0.0.7:5000")

	assert.NotContains(t, h.logs.String(), "10.0.0.")
	assert.Contains(t, h.logs.String(), util.Redacted)
}

func TestUnknownEventKind(t *testing.T) {
	h := newHarness(t)
	h.c.Handle(Event{Kind: Kind(42)})
	assert.Contains(t, h.logs.String(), "unknown kind 42")
}

// ── Run / Shutdown ───────────────────────────────────────────────────

// signalConn closes written on its first write.
type signalConn struct {
	fakeConn
	written chan struct{}
}

func (c *signalConn) Write(p []byte) (int, error) {
	select {
	case <-c.written:
	default:
		close(c.written)
	}
	return c.fakeConn.Write(p)
}

func TestRun_ProcessesQueueInOrder(t *testing.T) {
	h := newHarness(t)
	q := NewQueue()
	defer q.Close()

	x, y := &fakeConn{}, &fakeConn{}
	require.NoError(t, q.Push(Connect(ep("10.0.0.1:5000"), x)))
	require.NoError(t, q.Push(Connect(ep("10.0.0.2:5000"), y)))
	require.NoError(t, q.Push(Message(ep("10.0.0.1:5000"), []byte(testToken))))
	require.NoError(t, q.Push(Message(ep("10.0.0.2:5000"), []byte(testToken))))
	require.NoError(t, q.Push(Disconnect(ep("10.0.0.2:5000"))))

	// The sentinel is the last event; once it is written to, every
	// earlier event has been handled.
	sentinel := &signalConn{written: make(chan struct{})}
	require.NoError(t, q.Push(Connect(ep("10.0.0.3:5000"), sentinel)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.c.Run(ctx, q.Events()) }()

	select {
	case <-sentinel.written:
	case <-time.After(2 * time.Second):
		t.Fatal("sentinel event never handled")
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, TokenPrompt+WelcomeNotice, x.String())
	assert.Equal(t, TokenPrompt+WelcomeNotice, y.String())
	assert.Equal(t, 2, h.c.Len(), "x and the sentinel remain")
}

func TestRun_ReturnsWhenQueueCloses(t *testing.T) {
	h := newHarness(t)
	q := NewQueue()

	done := make(chan error, 1)
	go func() { done <- h.c.Run(context.Background(), q.Events()) }()
	q.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestRun_StopsOnContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan Event)

	done := make(chan error, 1)
	go func() { done <- h.c.Run(ctx, events) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run ignored cancellation")
	}
}

func TestShutdown_ClosesEverySession(t *testing.T) {
	h := newHarness(t)
	a := h.login("10.0.0.1:5000")
	b := h.connect("10.0.0.2:5000")

	h.c.Shutdown()

	assert.Zero(t, h.c.Len())
	assert.Equal(t, 1, a.shutdowns)
	assert.Equal(t, 1, b.shutdowns)
}
