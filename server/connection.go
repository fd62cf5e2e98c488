// File: server/connection.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"bytes"
	"errors"
	"sync/atomic"

	"github.com/momentics/hioload-net/buffer"
	"github.com/momentics/hioload-net/control"
	"github.com/momentics/hioload-net/logging"
	"github.com/momentics/hioload-net/reactor"
	"github.com/momentics/hioload-net/transport/tcp"
	"golang.org/x/sys/unix"
)

// State is a connection's lifecycle stage.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	case StateDisconnected:
		return "Disconnected"
	}
	return "Unknown"
}

// Connection is one accepted TCP socket bound to one loop. Socket I/O,
// buffers and callbacks run on that loop's thread; Send, Shutdown and
// ForceClose may be called from anywhere.
type Connection struct {
	loop  *reactor.EventLoop
	name  string
	state atomic.Int32
	// closing is set once handleClose has run. Loop thread only.
	closing bool

	sock  *tcp.Socket
	ch    *reactor.Channel
	local tcp.InetAddress
	peer  tcp.InetAddress

	input         *buffer.Buffer
	output        *buffer.Buffer
	highWaterMark int

	connectionCb    ConnectionCallback
	messageCb       MessageCallback
	writeCompleteCb WriteCompleteCallback
	highWaterMarkCb HighWaterMarkCallback
	closeCb         CloseCallback

	metrics *control.ServerMetrics
	ctx     contextStore
	log     *logging.Logger
}

// NewConnection wraps an accepted socket for loop. It starts in
// StateConnecting; Activate must then run on loop's thread.
func NewConnection(loop *reactor.EventLoop, name string, sock *tcp.Socket, local, peer tcp.InetAddress, log *logging.Logger) *Connection {
	c := &Connection{
		loop:          loop,
		name:          name,
		sock:          sock,
		local:         local,
		peer:          peer,
		input:         buffer.New(buffer.InitialSize),
		output:        buffer.New(buffer.InitialSize),
		highWaterMark: DefaultHighWaterMark,
		connectionCb:  defaultConnectionCallback,
		messageCb:     defaultMessageCallback,
		log:           logging.With(logging.Named(logging.Or(log), "connection"), "conn", name),
	}
	c.state.Store(int32(StateConnecting))
	c.ch = reactor.NewChannel(loop, sock.FD())
	c.ch.SetReadCallback(c.handleRead)
	c.ch.SetWriteCallback(c.handleWrite)
	c.ch.SetCloseCallback(c.handleClose)
	c.ch.SetErrorCallback(c.handleError)
	c.log.Debug().Int("fd", sock.FD()).Log("connection created")
	return c
}

func (c *Connection) Name() string               { return c.name }
func (c *Connection) Loop() *reactor.EventLoop   { return c.loop }
func (c *Connection) LocalAddr() tcp.InetAddress { return c.local }
func (c *Connection) PeerAddr() tcp.InetAddress  { return c.peer }
func (c *Connection) FD() int                    { return c.sock.FD() }
func (c *Connection) Socket() *tcp.Socket        { return c.sock }
func (c *Connection) State() State               { return State(c.state.Load()) }
func (c *Connection) Connected() bool            { return c.State() == StateConnected }
func (c *Connection) Disconnected() bool         { return c.State() == StateDisconnected }

// InputBuffer and OutputBuffer are loop-thread only.
func (c *Connection) InputBuffer() *buffer.Buffer  { return c.input }
func (c *Connection) OutputBuffer() *buffer.Buffer { return c.output }

// IsWriting reports whether write interest is enabled. Loop thread only.
func (c *Connection) IsWriting() bool { return c.ch.IsWriting() }

// SetConnectionCallback replaces the up/down callback; nil restores the
// default, which logs.
func (c *Connection) SetConnectionCallback(cb ConnectionCallback) {
	if cb == nil {
		cb = defaultConnectionCallback
	}
	c.connectionCb = cb
}

// SetMessageCallback replaces the read callback; nil restores the default,
// which discards input.
func (c *Connection) SetMessageCallback(cb MessageCallback) {
	if cb == nil {
		cb = defaultMessageCallback
	}
	c.messageCb = cb
}

func (c *Connection) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	c.writeCompleteCb = cb
}
func (c *Connection) SetCloseCallback(cb CloseCallback) { c.closeCb = cb }

// SetHighWaterMarkCallback fires cb when queued output crosses mark bytes.
func (c *Connection) SetHighWaterMarkCallback(cb HighWaterMarkCallback, mark int) {
	c.highWaterMarkCb = cb
	if mark > 0 {
		c.highWaterMark = mark
	}
}

func (c *Connection) SetTCPNoDelay(on bool) error { return c.sock.SetTCPNoDelay(on) }
func (c *Connection) SetKeepAlive(on bool) error  { return c.sock.SetKeepAlive(on) }

// Activate moves Connecting to Connected, enables reading and reports the
// connection up. Loop thread only.
func (c *Connection) Activate() {
	c.loop.AssertInLoopThread()
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) {
		c.log.Warning().Str("state", c.State().String()).Log("activate skipped")
		return
	}
	c.ch.EnableReading()
	c.connectionCb(c)
}

// Send queues data for the peer. From a foreign thread data is copied first.
func (c *Connection) Send(data []byte) {
	if c.State() != StateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(data)
		return
	}
	cp := bytes.Clone(data)
	c.loop.QueueInLoop(func() { c.sendInLoop(cp) })
}

// SendString is Send for strings.
func (c *Connection) SendString(s string) {
	if c.State() != StateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop([]byte(s))
		return
	}
	c.loop.QueueInLoop(func() { c.sendInLoop([]byte(s)) })
}

// SendBuffer sends and drains buf.
func (c *Connection) SendBuffer(buf *buffer.Buffer) {
	if c.State() != StateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(buf.Peek())
		buf.RetrieveAll()
		return
	}
	data := buf.RetrieveAsBytes(buf.ReadableBytes())
	c.loop.QueueInLoop(func() { c.sendInLoop(data) })
}

// sendInLoop writes directly when nothing is queued and buffers the rest.
func (c *Connection) sendInLoop(data []byte) {
	if c.closing || c.State() == StateDisconnected {
		c.log.Warning().Int("bytes", len(data)).Log("disconnected, dropping write")
		return
	}
	written := 0
	if !c.ch.IsWriting() && c.output.ReadableBytes() == 0 && len(data) > 0 {
		n, err := unix.Write(c.sock.FD(), data)
		if n > 0 {
			written = n
			c.metrics.BytesWritten(n)
			if written == len(data) && c.writeCompleteCb != nil {
				c.loop.QueueInLoop(func() { c.writeCompleteCb(c) })
			}
		}
		if err != nil && !isTemporary(err) {
			c.log.Err().Err(err).Log("write failed")
			c.handleClose()
			return
		}
	}

	remaining := len(data) - written
	if remaining <= 0 {
		return
	}
	queued := c.output.ReadableBytes()
	if queued < c.highWaterMark && queued+remaining >= c.highWaterMark && c.highWaterMarkCb != nil {
		pending := queued + remaining
		c.loop.QueueInLoop(func() { c.highWaterMarkCb(c, pending) })
	}
	c.output.Append(data[written:])
	if !c.ch.IsWriting() {
		c.ch.EnableWriting()
	}
}

// Shutdown half-closes the write side once queued output has drained.
func (c *Connection) Shutdown() {
	if c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnecting)) {
		c.loop.RunInLoop(c.shutdownInLoop)
	}
}

func (c *Connection) shutdownInLoop() {
	if c.closing || c.ch.IsWriting() {
		return
	}
	if err := c.sock.ShutdownWrite(); err != nil {
		c.log.Err().Err(err).Log("shutdown write")
	}
}

// ForceClose closes the connection without waiting for queued output.
func (c *Connection) ForceClose() {
	// Never overwrites Disconnected: only Connected moves to Disconnecting.
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnecting)) &&
		c.State() != StateDisconnecting {
		return
	}
	c.loop.QueueInLoop(c.forceCloseInLoop)
}

func (c *Connection) forceCloseInLoop() {
	st := c.State()
	if st == StateConnected || st == StateDisconnecting {
		c.handleClose()
	}
}

func (c *Connection) handleRead() {
	if c.closing {
		return
	}
	n, err := c.input.ReadFromFD(c.sock.FD())
	switch {
	case err == nil && n > 0:
		c.metrics.BytesRead(n)
		c.messageCb(c, c.input)
	case err == nil:
		c.handleClose()
	case isTemporary(err):
	default:
		c.log.Err().Err(err).Log("read failed")
		c.handleClose()
	}
}

func (c *Connection) handleWrite() {
	if !c.ch.IsWriting() {
		c.log.Debug().Log("connection is down, no more writing")
		return
	}
	n, err := c.output.WriteToFD(c.sock.FD())
	c.metrics.BytesWritten(n)
	if err != nil && !isTemporary(err) {
		c.log.Err().Err(err).Log("write failed")
		c.handleClose()
		return
	}
	if c.output.ReadableBytes() > 0 {
		return
	}
	c.ch.DisableWriting()
	if c.writeCompleteCb != nil {
		c.loop.QueueInLoop(func() { c.writeCompleteCb(c) })
	}
	if c.State() == StateDisconnecting {
		c.shutdownInLoop()
	}
}

// handleClose stops all interest and hands the connection to its owner. The
// descriptor stays open until Destroy.
func (c *Connection) handleClose() {
	if c.closing {
		return
	}
	c.closing = true
	c.log.Debug().Str("state", c.State().String()).Log("closing")
	c.state.Store(int32(StateDisconnecting))
	c.ch.DisableAll()
	if c.closeCb != nil {
		c.closeCb(c)
		return
	}
	c.loop.QueueInLoop(c.Destroy)
}

func (c *Connection) handleError() {
	err := c.sock.SocketError()
	c.log.Err().Err(err).Log("socket error")
}

// Destroy is the final step: report the connection down exactly once,
// deregister the channel and close the socket. Loop thread only.
func (c *Connection) Destroy() {
	c.loop.AssertInLoopThread()
	c.closing = true
	st := c.State()
	c.state.Store(int32(StateDisconnected))
	if st == StateConnected || st == StateDisconnecting {
		c.ch.DisableAll()
		c.connectionCb(c)
	}
	if c.ch.Registered() {
		c.ch.Remove()
	}
	if err := c.sock.Close(); err != nil {
		c.log.Err().Err(err).Log("close socket")
	}
}

func isTemporary(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR)
}
