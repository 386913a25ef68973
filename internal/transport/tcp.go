package transport

import (
	"context"
	"net"
	"time"

	chaterrors "chatd/internal/errors"
)

// TCPOpener binds plain TCP listeners.
type TCPOpener struct {
	// KeepAlive is the keep-alive period applied to accepted
	// connections.  Zero uses the Go default; negative disables it.
	KeepAlive time.Duration
}

// Listen binds address over TCP.
func (o *TCPOpener) Listen(ctx context.Context, address string) (Listener, error) {
	lc := net.ListenConfig{KeepAlive: o.KeepAlive}
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, chaterrors.Wrap("listen", address, err)
	}
	return ln, nil
}
