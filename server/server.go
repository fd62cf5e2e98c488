// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server ties a Listener on the home loop to a pool of worker loops and keeps
// the registry of live connections. The registry is touched only on the home
// loop's thread; a connection's socket and channel only on its own loop's
// thread. Closing therefore hops twice: owning loop -> home loop (erase) ->
// owning loop (destroy).

package server

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-net/control"
	"github.com/momentics/hioload-net/logging"
	"github.com/momentics/hioload-net/reactor"
	"github.com/momentics/hioload-net/transport/tcp"
)

// Server accepts TCP connections and distributes them over worker loops.
type Server struct {
	loop     *reactor.EventLoop
	cfg      *Config
	logger   *logging.Logger
	log      *logging.Logger
	listener *Listener
	pool     *reactor.LoopThreadPool
	metrics  *control.ServerMetrics

	connectionCb    ConnectionCallback
	messageCb       MessageCallback
	writeCompleteCb WriteCompleteCallback
	highWaterMarkCb HighWaterMarkCallback
	threadInitCb    reactor.ThreadInitCallback

	started   atomic.Bool
	stopped   atomic.Bool
	listening atomic.Bool
	// Published by the home loop once the pool runs.
	loops atomic.Pointer[[]*reactor.EventLoop]

	// Home loop only.
	nextConnID uint64
	conns      map[string]*Connection
	connCount  atomic.Int64
}

// NewServer binds the listening socket and prepares the worker pool. loop is
// the home loop, which runs the acceptor and owns the registry.
func NewServer(loop *reactor.EventLoop, cfg *Config, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	c.LoopCPUs = append([]int(nil), cfg.LoopCPUs...)

	s := &Server{
		loop:         loop,
		cfg:          &c,
		connectionCb: defaultConnectionCallback,
		messageCb:    defaultMessageCallback,
		conns:        make(map[string]*Connection),
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.cfg.validate(); err != nil {
		return nil, err
	}

	base := logging.Or(s.logger)
	s.log = logging.With(logging.Named(base, "server"), "server", s.cfg.Name)
	s.metrics = control.NewServerMetrics(s.cfg.Name)

	addr, err := tcp.ResolveInetAddress(s.cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	s.listener, err = NewListener(loop, addr, s.cfg.ReusePort, base)
	if err != nil {
		return nil, err
	}
	s.listener.SetNewConnectionCallback(s.newConnection)

	s.pool = reactor.NewLoopThreadPool(loop, s.cfg.Name+"-io",
		reactor.WithPollTimeout(s.cfg.PollTimeout),
		reactor.WithLoopLogger(base),
	)
	s.pool.SetThreadNum(s.cfg.NumLoops)
	s.pool.SetThreadCPUs(s.cfg.LoopCPUs)
	return s, nil
}

func (s *Server) Name() string                        { return s.cfg.Name }
func (s *Server) Loop() *reactor.EventLoop            { return s.loop }
func (s *Server) Addr() tcp.InetAddress               { return s.listener.Addr() }
func (s *Server) IPPort() string                      { return s.listener.Addr().String() }
func (s *Server) Metrics() *control.ServerMetrics     { return s.metrics }
func (s *Server) ThreadPool() *reactor.LoopThreadPool { return s.pool }

// Loops returns the loops connections are served on: the workers, or the
// home loop alone when there are none. It is nil until the pool has started.
func (s *Server) Loops() []*reactor.EventLoop {
	if p := s.loops.Load(); p != nil {
		return *p
	}
	return nil
}

// Listening reports whether the acceptor is active.
func (s *Server) Listening() bool { return s.listening.Load() }

// ConnectionCount is the number of registered connections.
func (s *Server) ConnectionCount() int { return int(s.connCount.Load()) }

// Start launches the worker pool and then the listener, so no connection is
// handed to a pool that is not running. It may be called from any goroutine
// and more than once; off the home thread the work is queued on the home
// loop and failures are logged.
func (s *Server) Start() error {
	if s.stopped.Load() {
		return ErrServerStopped
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	if s.loop.IsInLoopThread() {
		return s.startInLoop()
	}
	s.loop.QueueInLoop(func() {
		if err := s.startInLoop(); err != nil {
			s.log.Err().Err(err).Log("server start failed")
		}
	})
	return nil
}

func (s *Server) startInLoop() error {
	if err := s.pool.Start(s.threadInitCb); err != nil {
		return fmt.Errorf("server %s: %w", s.cfg.Name, err)
	}
	loops := s.pool.AllLoops()
	s.loops.Store(&loops)
	if err := s.listener.Listen(s.cfg.Backlog); err != nil {
		return fmt.Errorf("server %s: %w", s.cfg.Name, err)
	}
	s.listening.Store(true)
	s.log.Info().
		Str("addr", s.IPPort()).
		Int("loops", s.cfg.NumLoops).
		Log("server started")
	return nil
}

// newConnection runs on the home loop for every accepted descriptor.
func (s *Server) newConnection(fd int, peer tcp.InetAddress) {
	s.loop.AssertInLoopThread()
	ioLoop := s.pool.NextLoop()
	s.nextConnID++
	name := fmt.Sprintf("%s-%d", s.cfg.Name, s.nextConnID)

	sock := tcp.NewSocket(fd)
	local, err := sock.LocalAddr()
	if err != nil {
		s.log.Err().Err(err).Log("new connection local address")
	}
	if err := sock.SetKeepAlive(s.cfg.KeepAlive); err != nil {
		s.log.Warning().Err(err).Log("set keepalive")
	}
	if s.cfg.TCPNoDelay {
		if err := sock.SetTCPNoDelay(true); err != nil {
			s.log.Warning().Err(err).Log("set tcp nodelay")
		}
	}

	conn := NewConnection(ioLoop, name, sock, local, peer, s.logger)
	conn.metrics = s.metrics
	conn.SetConnectionCallback(s.connectionCb)
	conn.SetMessageCallback(s.messageCb)
	conn.SetWriteCompleteCallback(s.writeCompleteCb)
	conn.SetHighWaterMarkCallback(s.highWaterMarkCb, s.cfg.HighWaterMark)
	conn.SetCloseCallback(s.removeConnection)

	s.conns[name] = conn
	s.connCount.Add(1)
	s.metrics.ConnectionAccepted()
	s.log.Info().
		Str("conn", name).
		Str("peer", peer.String()).
		Str("loop", ioLoop.Name()).
		Log("new connection")

	ioLoop.RunInLoop(conn.Activate)
}

// removeConnection is the close callback, called on the connection's loop.
func (s *Server) removeConnection(conn *Connection) {
	s.loop.RunInLoop(func() { s.removeConnectionInLoop(conn) })
}

func (s *Server) removeConnectionInLoop(conn *Connection) {
	s.loop.AssertInLoopThread()
	if s.conns[conn.Name()] != conn {
		return
	}
	delete(s.conns, conn.Name())
	s.connCount.Add(-1)
	s.metrics.ConnectionClosed()
	s.log.Info().Str("conn", conn.Name()).Log("connection removed")
	conn.Loop().QueueInLoop(conn.Destroy)
}

// Stop closes the listener, destroys every registered connection on its own
// loop, waits for that, then stops the worker pool. The home loop must still
// be running, and Stop must not be called from any of the server's loops.
func (s *Server) Stop() error {
	if s.loop.IsInLoopThread() {
		return ErrStopInLoop
	}
	for _, l := range s.Loops() {
		if l.IsInLoopThread() {
			return ErrStopInLoop
		}
	}
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if !s.started.Load() {
		return s.listener.Close()
	}

	var wg sync.WaitGroup
	queued := make(chan struct{})
	s.loop.QueueInLoop(func() {
		defer close(queued)
		s.listening.Store(false)
		if err := s.listener.Close(); err != nil {
			s.log.Err().Err(err).Log("close listener")
		}
		for name, conn := range s.conns {
			delete(s.conns, name)
			s.connCount.Add(-1)
			s.metrics.ConnectionClosed()
			wg.Add(1)
			conn.Loop().QueueInLoop(func() {
				defer wg.Done()
				conn.Destroy()
			})
		}
	})
	<-queued
	wg.Wait()

	s.pool.Stop()
	s.log.Info().Str("metrics", s.metrics.Snapshot().String()).Log("server stopped")
	return nil
}
