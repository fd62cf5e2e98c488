// File: server/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-net/logging"
	"github.com/momentics/hioload-net/reactor"
	"github.com/momentics/hioload-net/transport/tcp"
	"golang.org/x/sys/unix"
)

// NewConnectionCallback receives an accepted, non-blocking descriptor. The
// callee owns it.
type NewConnectionCallback func(fd int, peer tcp.InetAddress)

// Listener owns the listening socket and turns its readiness into accepted
// descriptors on one loop.
type Listener struct {
	loop      *reactor.EventLoop
	sock      *tcp.Socket
	ch        *reactor.Channel
	addr      tcp.InetAddress
	idleFd    int
	listening bool
	newConnCb NewConnectionCallback
	log       *logging.Logger
}

// NewListener creates and binds the listening socket. Nothing is registered
// with loop until Listen.
func NewListener(loop *reactor.EventLoop, addr tcp.InetAddress, reusePort bool, log *logging.Logger) (*Listener, error) {
	sock, err := tcp.NewNonblockingSocket(addr.Family())
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Listener, error) {
		_ = sock.Close()
		return nil, err
	}
	if err := sock.SetReuseAddr(true); err != nil {
		return fail(err)
	}
	if reusePort {
		if err := sock.SetReusePort(true); err != nil {
			return fail(err)
		}
	}
	if err := sock.Bind(addr); err != nil {
		return fail(err)
	}
	bound, err := sock.LocalAddr()
	if err != nil {
		return fail(err)
	}
	idleFd, err := openIdleFd()
	if err != nil {
		return fail(err)
	}

	l := &Listener{
		loop:   loop,
		sock:   sock,
		addr:   bound,
		idleFd: idleFd,
		log:    logging.With(logging.Named(logging.Or(log), "listener"), "addr", bound.String()),
	}
	l.ch = reactor.NewChannel(loop, sock.FD())
	l.ch.SetReadCallback(l.handleRead)
	return l, nil
}

func openIdleFd() (int, error) {
	fd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("listener: reserve idle fd: %w", err)
	}
	return fd, nil
}

// SetNewConnectionCallback installs the accept handler.
func (l *Listener) SetNewConnectionCallback(cb NewConnectionCallback) { l.newConnCb = cb }

// Addr is the bound address, with the kernel-chosen port when bound to 0.
func (l *Listener) Addr() tcp.InetAddress { return l.addr }

// Listening reports whether Listen succeeded. Loop thread only.
func (l *Listener) Listening() bool { return l.listening }

// Listen starts listening and enables read interest. Loop thread only.
func (l *Listener) Listen(backlog int) error {
	l.loop.AssertInLoopThread()
	if err := l.sock.Listen(backlog); err != nil {
		return err
	}
	l.listening = true
	l.ch.EnableReading()
	l.log.Info().Log("listening")
	return nil
}

// handleRead accepts one pending connection per readiness notification.
func (l *Listener) handleRead() {
	fd, peer, err := l.sock.Accept()
	if err == nil {
		if l.newConnCb != nil {
			l.newConnCb(fd, peer)
			return
		}
		l.log.Warning().Str("peer", peer.String()).Log("no new-connection callback, closing accepted socket")
		_ = unix.Close(fd)
		return
	}

	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
		return
	case errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE):
		// Out of descriptors: spend the reserve to drain one pending
		// connection so a level-triggered listener does not spin.
		l.log.Err().Err(err).Log("accept: descriptor table full, shedding connection")
		if l.idleFd >= 0 {
			_ = unix.Close(l.idleFd)
		}
		if nfd, _, aerr := l.sock.Accept(); aerr == nil {
			_ = unix.Close(nfd)
		}
		l.idleFd, _ = openIdleFd()
	default:
		l.log.Err().Err(err).Log("accept failed")
	}
}

// Close stops listening and releases the socket and the idle reserve. Loop
// thread only once Listen has run.
func (l *Listener) Close() error {
	if l.ch.Registered() {
		l.ch.DisableAll()
		l.ch.Remove()
	}
	l.listening = false
	if l.idleFd >= 0 {
		_ = unix.Close(l.idleFd)
		l.idleFd = -1
	}
	return l.sock.Close()
}
