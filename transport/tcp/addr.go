// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"golang.org/x/sys/unix"
)

// ErrInvalidAddress reports an address that cannot name a TCP endpoint.
var ErrInvalidAddress = errors.New("tcp: invalid address")

// InetAddress is an IPv4 or IPv6 endpoint.
type InetAddress struct {
	ap netip.AddrPort
}

// NewInetAddress listens on every interface, or on loopback only.
func NewInetAddress(port uint16, loopbackOnly bool) InetAddress {
	ip := netip.IPv4Unspecified()
	if loopbackOnly {
		ip = netip.AddrFrom4([4]byte{127, 0, 0, 1})
	}
	return InetAddress{ap: netip.AddrPortFrom(ip, port)}
}

// ParseInetAddress builds an address from a literal IP and a port.
func ParseInetAddress(ip string, port uint16) (InetAddress, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return InetAddress{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, ip, err)
	}
	return InetAddress{ap: netip.AddrPortFrom(addr.Unmap(), port)}, nil
}

// ResolveInetAddress parses "host:port". An empty host means every interface;
// "localhost" means the IPv4 loopback.
func ResolveInetAddress(hostport string) (InetAddress, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return InetAddress{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, hostport, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return InetAddress{}, fmt.Errorf("%w: port %q", ErrInvalidAddress, portStr)
	}
	switch host {
	case "":
		return NewInetAddress(uint16(port), false), nil
	case "localhost":
		return NewInetAddress(uint16(port), true), nil
	}
	return ParseInetAddress(host, uint16(port))
}

// InetAddressFromSockaddr converts a kernel socket address.
func InetAddressFromSockaddr(sa unix.Sockaddr) InetAddress {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return InetAddress{ap: netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))}
	case *unix.SockaddrInet6:
		return InetAddress{ap: netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port))}
	}
	return InetAddress{}
}

func (a InetAddress) IsValid() bool            { return a.ap.IsValid() }
func (a InetAddress) AddrPort() netip.AddrPort { return a.ap }
func (a InetAddress) IP() string               { return a.ap.Addr().String() }
func (a InetAddress) Port() uint16             { return a.ap.Port() }

// String renders ip:port, bracketing IPv6.
func (a InetAddress) String() string {
	if !a.ap.IsValid() {
		return "invalid"
	}
	return a.ap.String()
}

// Family is AF_INET or AF_INET6.
func (a InetAddress) Family() int {
	if a.ap.Addr().Is4() {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

// Sockaddr converts to a kernel socket address.
func (a InetAddress) Sockaddr() unix.Sockaddr {
	if a.ap.Addr().Is4() {
		return &unix.SockaddrInet4{Port: int(a.ap.Port()), Addr: a.ap.Addr().As4()}
	}
	return &unix.SockaddrInet6{Port: int(a.ap.Port()), Addr: a.ap.Addr().As16()}
}
