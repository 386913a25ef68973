// Package session holds the coordinator's record of one connected
// peer: where it comes from, how to write to it, and how it has
// behaved so far.
//
// A Session is owned by exactly one goroutine (the chat coordinator)
// and is therefore not safe for concurrent use.
package session

import (
	"net/netip"
	"time"
)

// Conn is the write side of a client connection.  The connection's
// reader goroutine keeps the read side; the coordinator only writes
// and shuts down.
type Conn interface {
	Write(p []byte) (int, error)
	// Shutdown stops traffic in both directions so that the reader
	// observes EOF and reports the disconnect.
	Shutdown() error
}

// Session is one connected, possibly unauthenticated, peer.
type Session struct {
	Endpoint      netip.AddrPort
	Conn          Conn
	LastMessageAt time.Time
	Strikes       int
	Authenticated bool
}

// New creates a session whose first message is never rate limited.
func New(endpoint netip.AddrPort, conn Conn, now time.Time, rate time.Duration) *Session {
	return &Session{
		Endpoint:      endpoint,
		Conn:          conn,
		LastMessageAt: now.Add(-2 * rate),
	}
}

// IP returns the host part of the endpoint, the key bans are stored
// under.
func (s *Session) IP() netip.Addr {
	return s.Endpoint.Addr()
}

// Since returns the time elapsed since the last accepted message.  A
// clock that moved backwards yields zero and ok == false.
func (s *Session) Since(now time.Time) (d time.Duration, ok bool) {
	d = now.Sub(s.LastMessageAt)
	if d < 0 {
		return 0, false
	}
	return d, true
}

// Accept records a well-paced, well-formed message and forgives
// earlier strikes.
func (s *Session) Accept(now time.Time) {
	s.LastMessageAt = now
	s.Strikes = 0
}

// Strike records a violation and returns the new strike count.
func (s *Session) Strike() int {
	s.Strikes++
	return s.Strikes
}

// Authenticate marks the session as authenticated.  There is no way
// back.
func (s *Session) Authenticate() {
	s.Authenticated = true
}
