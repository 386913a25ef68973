package transport

import (
	"net"

	chaterrors "chatd/internal/errors"
)

// Conn is the coordinator's half of an accepted connection.  Writes
// and Shutdown are safe to call while another goroutine is blocked in
// Read on the same net.Conn.
type Conn struct {
	nc   net.Conn
	addr string
}

// NewConn wraps nc.  The caller keeps nc for reading and is still
// responsible for closing it.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, addr: nc.RemoteAddr().String()}
}

// Write sends p to the peer.
func (c *Conn) Write(p []byte) (int, error) {
	n, err := c.nc.Write(p)
	if err != nil {
		return n, chaterrors.Wrap("write", c.addr, err)
	}
	return n, nil
}

// Shutdown half-closes both directions of a TCP connection, which
// sends the peer a FIN and makes the local reader see EOF.  Other
// connection types have no half-close and are closed outright.
func (c *Conn) Shutdown() error {
	tc, ok := c.nc.(*net.TCPConn)
	if !ok {
		if err := c.nc.Close(); err != nil {
			return chaterrors.Wrap("shutdown", c.addr, err)
		}
		return nil
	}

	err := chaterrors.Join(tc.CloseWrite(), tc.CloseRead())
	if err != nil {
		return chaterrors.Wrap("shutdown", c.addr, err)
	}
	return nil
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }
