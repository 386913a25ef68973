// Package transport owns the sockets.  It opens the TCP listener the
// server accepts on and wraps each accepted connection so that the
// chat coordinator can write to it and shut it down without ever
// touching the read side, which stays with the connection's reader.
package transport

import (
	"context"
	"net"
)

// Listener accepts inbound connections.  net.Listener satisfies it.
type Listener interface {
	Accept() (net.Conn, error)
	Close() error
	Addr() net.Addr
}

// Opener binds a Listener to a local address.
type Opener interface {
	Listen(ctx context.Context, address string) (Listener, error)
}
