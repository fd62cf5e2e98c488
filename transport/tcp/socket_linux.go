//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// DefaultBacklog is the accept queue length used by Listen callers that do
// not pick one.
const DefaultBacklog = 128

// Socket owns one TCP descriptor and closes it exactly once.
type Socket struct {
	fd     int
	closed atomic.Bool
}

// NewNonblockingSocket creates a non-blocking, close-on-exec TCP socket.
func NewNonblockingSocket(family int) (*Socket, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("tcp: socket: %w", err)
	}
	return &Socket{fd: fd}, nil
}

// NewSocket takes ownership of an existing descriptor.
func NewSocket(fd int) *Socket { return &Socket{fd: fd} }

func (s *Socket) FD() int { return s.fd }

func (s *Socket) Bind(addr InetAddress) error {
	if !addr.IsValid() {
		return ErrInvalidAddress
	}
	if err := unix.Bind(s.fd, addr.Sockaddr()); err != nil {
		return fmt.Errorf("tcp: bind %s: %w", addr, err)
	}
	return nil
}

func (s *Socket) Listen(backlog int) error {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if err := unix.Listen(s.fd, backlog); err != nil {
		return fmt.Errorf("tcp: listen: %w", err)
	}
	return nil
}

// Accept takes one pending connection as a non-blocking, close-on-exec
// descriptor. EAGAIN is returned unwrapped when the queue is empty.
func (s *Socket) Accept() (int, InetAddress, error) {
	nfd, sa, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, InetAddress{}, err
	}
	return nfd, InetAddressFromSockaddr(sa), nil
}

// ShutdownWrite half-closes the write direction.
func (s *Socket) ShutdownWrite() error {
	if err := unix.Shutdown(s.fd, unix.SHUT_WR); err != nil {
		return fmt.Errorf("tcp: shutdown write: %w", err)
	}
	return nil
}

func (s *Socket) SetReuseAddr(on bool) error {
	return s.setBool(unix.SOL_SOCKET, unix.SO_REUSEADDR, on, "SO_REUSEADDR")
}

func (s *Socket) SetReusePort(on bool) error {
	return s.setBool(unix.SOL_SOCKET, unix.SO_REUSEPORT, on, "SO_REUSEPORT")
}

func (s *Socket) SetKeepAlive(on bool) error {
	return s.setBool(unix.SOL_SOCKET, unix.SO_KEEPALIVE, on, "SO_KEEPALIVE")
}

func (s *Socket) SetTCPNoDelay(on bool) error {
	return s.setBool(unix.IPPROTO_TCP, unix.TCP_NODELAY, on, "TCP_NODELAY")
}

// SetSendBuffer sets SO_SNDBUF; the kernel doubles and clamps the value.
func (s *Socket) SetSendBuffer(n int) error {
	if err := unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_SNDBUF, n); err != nil {
		return fmt.Errorf("tcp: SO_SNDBUF: %w", err)
	}
	return nil
}

// SetRecvBuffer sets SO_RCVBUF; the kernel doubles and clamps the value.
func (s *Socket) SetRecvBuffer(n int) error {
	if err := unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_RCVBUF, n); err != nil {
		return fmt.Errorf("tcp: SO_RCVBUF: %w", err)
	}
	return nil
}

func (s *Socket) setBool(level, opt int, on bool, name string) error {
	v := 0
	if on {
		v = 1
	}
	if err := unix.SetsockoptInt(s.fd, level, opt, v); err != nil {
		return fmt.Errorf("tcp: %s: %w", name, err)
	}
	return nil
}

// GetBool reads a boolean socket option.
func (s *Socket) GetBool(level, opt int) (bool, error) {
	v, err := unix.GetsockoptInt(s.fd, level, opt)
	return v != 0, err
}

func (s *Socket) LocalAddr() (InetAddress, error) {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return InetAddress{}, fmt.Errorf("tcp: getsockname: %w", err)
	}
	return InetAddressFromSockaddr(sa), nil
}

func (s *Socket) PeerAddr() (InetAddress, error) {
	sa, err := unix.Getpeername(s.fd)
	if err != nil {
		return InetAddress{}, fmt.Errorf("tcp: getpeername: %w", err)
	}
	return InetAddressFromSockaddr(sa), nil
}

// SocketError returns and clears the pending SO_ERROR.
func (s *Socket) SocketError() error {
	v, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if v != 0 {
		return unix.Errno(v)
	}
	return nil
}

// Close releases the descriptor. Later calls are no-ops.
func (s *Socket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(s.fd)
}

// Closed reports whether Close has run.
func (s *Socket) Closed() bool { return s.closed.Load() }
