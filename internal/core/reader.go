package core

import (
	"net"
	"net/netip"

	"chatd/internal/chat"
	chaterrors "chatd/internal/errors"
	"chatd/internal/metrics"
	"chatd/internal/transport"
	"chatd/util"
)

// Pusher is the producer side of the event queue.
type Pusher interface {
	Push(ev chat.Event) error
}

// reader forwards everything one connection says to the coordinator.
// It owns the read side of the connection and closes it on return.
type reader struct {
	conn     net.Conn
	events   Pusher
	readSize int
	log      *util.Logger
	metrics  *metrics.Collector
}

// run emits exactly one Connect, then one Message per successful read,
// then exactly one Disconnect.  A failed push means the server is
// shutting down; the reader stops without further events.
func (r *reader) run() {
	defer r.conn.Close()

	ep, err := util.Endpoint(r.conn.RemoteAddr())
	if err != nil {
		r.log.Error("rejecting connection: %v", err)
		return
	}

	r.metrics.ConnectionOpened()
	defer r.metrics.ConnectionClosed()

	if err := r.events.Push(chat.Connect(ep, transport.NewConn(r.conn))); err != nil {
		r.log.Debug("dropping connection from %v: %v", r.log.Sens(ep), err)
		return
	}

	bufp := util.GetBuf()
	defer util.PutBuf(bufp)
	buf := *bufp
	if r.readSize > 0 && r.readSize < len(buf) {
		buf = buf[:r.readSize]
	}

	for {
		n, err := r.conn.Read(buf)
		if n > 0 {
			r.metrics.BytesReceived(int64(n))
			if perr := r.events.Push(chat.Message(ep, stripControl(buf[:n]))); perr != nil {
				return
			}
		}
		if err != nil {
			r.closed(ep, err)
			return
		}
	}
}

func (r *reader) closed(ep netip.AddrPort, err error) {
	if util.IsHarmless(err) {
		r.log.Debug("read from %v ended: %v", r.log.Sens(ep), r.log.Sens(err))
	} else {
		r.metrics.RecordError("read failed")
		werr := chaterrors.Wrap("read", ep.String(), err)
		r.log.Error("could not read from client: %v", r.log.Sens(werr))
	}
	if perr := r.events.Push(chat.Disconnect(ep)); perr != nil {
		r.log.Debug("disconnect of %v not delivered: %v", r.log.Sens(ep), perr)
	}
}

// stripControl returns a copy of b without ASCII control bytes
// (0x00-0x1F), newlines included.  DEL and bytes >= 0x80 are kept.
func stripControl(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c >= 32 {
			out = append(out, c)
		}
	}
	return out
}
