// Package chat implements the session coordinator: the single goroutine
// that owns every client session and IP ban, applies the
// authentication, pacing and strike policy, and relays chat lines.
//
// All state is touched only from the goroutine running Run (or from a
// caller driving Handle directly).  Connection readers talk to it
// exclusively through a Queue, so no lock guards the maps.
package chat

import (
	"context"
	"crypto/subtle"
	"io"
	"net/netip"
	"time"
	"unicode/utf8"

	"github.com/hako/durafmt"

	chaterrors "chatd/internal/errors"
	"chatd/internal/metrics"
	"chatd/internal/session"
	"chatd/util"
)

// Config configures a Coordinator.
type Config struct {
	Token       string
	BanDuration time.Duration
	MessageRate time.Duration
	StrikeLimit int

	Logger  *util.Logger
	Metrics *metrics.Collector // optional

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Coordinator is the authoritative chat state machine.
type Coordinator struct {
	cfg      Config
	now      func() time.Time
	log      *util.Logger
	metrics  *metrics.Collector
	sessions map[netip.AddrPort]*session.Session
	bans     map[netip.Addr]time.Time
}

// New returns a Coordinator with no sessions and no bans.
func New(cfg Config) *Coordinator {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Coordinator{
		cfg:      cfg,
		now:      now,
		log:      logger,
		metrics:  cfg.Metrics,
		sessions: make(map[netip.AddrPort]*session.Session),
		bans:     make(map[netip.Addr]time.Time),
	}
}

// Run consumes events until the channel is closed or ctx is done.
func (c *Coordinator) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.Handle(ev)
		}
	}
}

// Handle processes a single event to completion.
func (c *Coordinator) Handle(ev Event) {
	switch ev.Kind {
	case KindConnect:
		c.connected(ev.Endpoint, ev.Conn)
	case KindDisconnect:
		c.disconnected(ev.Endpoint)
	case KindMessage:
		c.message(ev.Endpoint, ev.Bytes)
	default:
		c.log.Warn("ignoring event of unknown kind %d", int(ev.Kind))
	}
}

// Len returns the number of live sessions.
func (c *Coordinator) Len() int { return len(c.sessions) }

// Shutdown closes every live session.  It must not overlap with Run or
// Handle.
func (c *Coordinator) Shutdown() {
	for ep, s := range c.sessions {
		c.shutdown(ep, s.Conn)
		delete(c.sessions, ep)
	}
}

// ── Lifecycle ────────────────────────────────────────────────────────

func (c *Coordinator) connected(ep netip.AddrPort, conn session.Conn) {
	now := c.now()
	ip := ep.Addr()

	if bannedAt, ok := c.bans[ip]; ok {
		elapsed := now.Sub(bannedAt)
		if elapsed < 0 {
			c.log.Error("ban time check for %v: %v", c.log.Sens(ep), chaterrors.ErrClockSkew)
			elapsed = 0
		}
		if elapsed < c.cfg.BanDuration {
			// The record stays as it was: reconnecting does not
			// extend a ban.
			remaining := c.cfg.BanDuration - elapsed
			c.metrics.BannedRejected()
			c.log.Info("client %v tried to connect but is banned for another %s",
				c.log.Sens(ep), durafmt.Parse(remaining).LimitFirstN(2))
			c.send(ep, conn, bannedFor(remaining), "banned notice")
			c.shutdown(ep, conn)
			return
		}
		delete(c.bans, ip)
		c.log.Verbose("ban on %v expired", c.log.Sens(ip))
	}

	if old, dup := c.sessions[ep]; dup {
		c.log.Warn("client %v connected twice, replacing its session", c.log.Sens(ep))
		c.shutdown(ep, old.Conn)
	}
	c.sessions[ep] = session.New(ep, conn, now, c.cfg.MessageRate)
	c.log.Info("client %v connected", c.log.Sens(ep))
	c.send(ep, conn, TokenPrompt, "token prompt")
}

func (c *Coordinator) disconnected(ep netip.AddrPort) {
	if _, ok := c.sessions[ep]; !ok {
		return
	}
	delete(c.sessions, ep)
	c.log.Info("client %v disconnected", c.log.Sens(ep))
}

// ── Messages ─────────────────────────────────────────────────────────

func (c *Coordinator) message(ep netip.AddrPort, b []byte) {
	s, ok := c.sessions[ep]
	if !ok {
		c.log.Debug("dropping message from unknown client %v", c.log.Sens(ep))
		return
	}

	now := c.now()
	elapsed, ok := s.Since(now)
	if !ok {
		c.log.Error("message rate check for %v: %v", c.log.Sens(ep), chaterrors.ErrClockSkew)
	}

	if elapsed < c.cfg.MessageRate {
		c.strike(s, now, "too fast")
		return
	}
	if !utf8.Valid(b) {
		c.strike(s, now, "invalid UTF-8")
		return
	}

	s.Accept(now)
	text := string(b)
	if s.Authenticated {
		c.broadcast(s, text)
		return
	}
	c.authenticate(s, text)
}

func (c *Coordinator) broadcast(from *session.Session, text string) {
	c.log.Verbose("client %v sent message %q", c.log.Sens(from.Endpoint), c.log.Sens(text))
	c.metrics.MessageRelayed()

	line := text + "\n"
	for ep, s := range c.sessions {
		if ep == from.Endpoint || !s.Authenticated {
			continue
		}
		c.send(ep, s.Conn, line, "broadcast message")
	}
}

func (c *Coordinator) authenticate(s *session.Session, text string) {
	if subtle.ConstantTimeCompare([]byte(text), []byte(c.cfg.Token)) == 1 {
		s.Authenticate()
		c.metrics.AuthSucceeded()
		c.log.Info("client %v authorized", c.log.Sens(s.Endpoint))
		c.send(s.Endpoint, s.Conn, WelcomeNotice, "welcome message")
		return
	}

	// One guess per connection; a wrong token is not a strike.
	c.metrics.AuthFailed()
	c.log.Info("client %v failed authorization", c.log.Sens(s.Endpoint))
	c.send(s.Endpoint, s.Conn, InvalidToken, "invalid token notice")
	c.shutdown(s.Endpoint, s.Conn)
	delete(c.sessions, s.Endpoint)
}

// ── Strikes and bans ─────────────────────────────────────────────────

func (c *Coordinator) strike(s *session.Session, now time.Time, reason string) {
	n := s.Strike()
	c.metrics.Strike()
	c.log.Verbose("client %v strike %d/%d: %s", c.log.Sens(s.Endpoint), n, c.cfg.StrikeLimit, reason)
	if n < c.cfg.StrikeLimit {
		return
	}

	c.bans[s.IP()] = now
	c.metrics.Banned()
	c.log.Info("client %v banned for %s", c.log.Sens(s.Endpoint), durafmt.Parse(c.cfg.BanDuration).LimitFirstN(2))
	c.send(s.Endpoint, s.Conn, BannedNotice, "banned notice")
	c.shutdown(s.Endpoint, s.Conn)
	delete(c.sessions, s.Endpoint)
}

// ── I/O ──────────────────────────────────────────────────────────────

// send writes msg to conn.  Failures are logged and swallowed.
func (c *Coordinator) send(ep netip.AddrPort, conn session.Conn, msg, what string) {
	n, err := io.WriteString(conn, msg)
	c.metrics.BytesSent(int64(n))
	if err != nil {
		c.metrics.RecordError("could not send " + what)
		c.log.Error("could not send %s to %v: %v", what, c.log.Sens(ep), c.log.Sens(err))
	}
}

func (c *Coordinator) shutdown(ep netip.AddrPort, conn session.Conn) {
	if err := conn.Shutdown(); err != nil {
		c.metrics.RecordError("could not shut down connection")
		c.log.Error("could not shut down connection to %v: %v", c.log.Sens(ep), c.log.Sens(err))
	}
}
