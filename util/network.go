package util

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"

	chaterrors "chatd/internal/errors"
)

// FormatAddr returns "host:port".
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// FindFreePort returns an available TCP port on 127.0.0.1.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Endpoint converts a remote address into a comparable address+port
// pair.  IPv4-mapped IPv6 addresses are unmapped so that a host is
// always keyed the same way regardless of the listener's family.
func Endpoint(addr net.Addr) (netip.AddrPort, error) {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		ap := tcp.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
	}
	if addr == nil {
		return netip.AddrPort{}, chaterrors.ErrInvalidEndpoint
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: %q", chaterrors.ErrInvalidEndpoint, addr.String())
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}
