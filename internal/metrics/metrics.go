// Package metrics provides lightweight, lock-free counters for tracking
// runtime statistics of a chatd server.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for a chatd server.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	bytesIn           atomic.Int64
	bytesOut          atomic.Int64
	messagesRelayed   atomic.Int64
	authSuccesses     atomic.Int64
	authFailures      atomic.Int64
	strikes           atomic.Int64
	bans              atomic.Int64
	bannedRejects     atomic.Int64
	errorsTotal       atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ActiveConnections returns the current number of open connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from a client.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to a client.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Chat metrics ─────────────────────────────────────────────────────

// MessageRelayed records one accepted chat line from an authenticated
// client, regardless of how many recipients it reached.
func (c *Collector) MessageRelayed() {
	if c == nil {
		return
	}
	c.messagesRelayed.Add(1)
}

// MessagesRelayed returns the number of relayed chat lines.
func (c *Collector) MessagesRelayed() int64 {
	if c == nil {
		return 0
	}
	return c.messagesRelayed.Load()
}

// AuthSucceeded records a correct token.
func (c *Collector) AuthSucceeded() {
	if c == nil {
		return
	}
	c.authSuccesses.Add(1)
}

// AuthFailed records a wrong token.
func (c *Collector) AuthFailed() {
	if c == nil {
		return
	}
	c.authFailures.Add(1)
}

// AuthFailures returns the number of rejected tokens.
func (c *Collector) AuthFailures() int64 {
	if c == nil {
		return 0
	}
	return c.authFailures.Load()
}

// ── Policy metrics ───────────────────────────────────────────────────

// Strike records a pacing or encoding violation.
func (c *Collector) Strike() {
	if c == nil {
		return
	}
	c.strikes.Add(1)
}

// Strikes returns the lifetime strike count.
func (c *Collector) Strikes() int64 {
	if c == nil {
		return 0
	}
	return c.strikes.Load()
}

// Banned records a new IP ban.
func (c *Collector) Banned() {
	if c == nil {
		return
	}
	c.bans.Add(1)
}

// Bans returns the number of bans imposed.
func (c *Collector) Bans() int64 {
	if c == nil {
		return 0
	}
	return c.bans.Load()
}

// BannedRejected records a connection refused because its IP is banned.
func (c *Collector) BannedRejected() {
	if c == nil {
		return
	}
	c.bannedRejects.Add(1)
}

// BannedRejects returns the number of refused banned connections.
func (c *Collector) BannedRejects() int64 {
	if c == nil {
		return 0
	}
	return c.bannedRejects.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  int64  `json:"connections_total"`
	BytesIn           int64  `json:"bytes_in"`
	BytesOut          int64  `json:"bytes_out"`
	MessagesRelayed   int64  `json:"messages_relayed"`
	AuthSuccesses     int64  `json:"auth_successes"`
	AuthFailures      int64  `json:"auth_failures"`
	Strikes           int64  `json:"strikes"`
	Bans              int64  `json:"bans"`
	BannedRejects     int64  `json:"banned_rejects"`
	ErrorsTotal       int64  `json:"errors_total"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive: c.connectionsActive.Load(),
		ConnectionsTotal:  c.connectionsTotal.Load(),
		BytesIn:           c.bytesIn.Load(),
		BytesOut:          c.bytesOut.Load(),
		MessagesRelayed:   c.messagesRelayed.Load(),
		AuthSuccesses:     c.authSuccesses.Load(),
		AuthFailures:      c.authFailures.Load(),
		Strikes:           c.strikes.Load(),
		Bans:              c.bans.Load(),
		BannedRejects:     c.bannedRejects.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
