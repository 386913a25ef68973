package chat

import (
	"net/netip"

	"chatd/internal/session"
)

// Kind identifies what happened on a connection.
type Kind int

const (
	KindConnect Kind = iota + 1
	KindDisconnect
	KindMessage
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindDisconnect:
		return "disconnect"
	case KindMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is one lifecycle or data event from a connection reader.
type Event struct {
	Kind     Kind
	Endpoint netip.AddrPort
	Conn     session.Conn // KindConnect only
	Bytes    []byte       // KindMessage only
}

// Connect announces a freshly accepted connection.
func Connect(endpoint netip.AddrPort, conn session.Conn) Event {
	return Event{Kind: KindConnect, Endpoint: endpoint, Conn: conn}
}

// Disconnect announces that a connection's reader is gone.
func Disconnect(endpoint netip.AddrPort) Event {
	return Event{Kind: KindDisconnect, Endpoint: endpoint}
}

// Message carries bytes read from a connection, control bytes already
// stripped.
func Message(endpoint netip.AddrPort, b []byte) Event {
	return Event{Kind: KindMessage, Endpoint: endpoint, Bytes: b}
}
