// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"time"

	"github.com/momentics/hioload-net/logging"
	"github.com/momentics/hioload-net/reactor"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithName overrides Config.Name.
func WithName(name string) ServerOption {
	return func(s *Server) { s.cfg.Name = name }
}

// WithNumLoops sets the number of worker loops.
func WithNumLoops(n int) ServerOption {
	return func(s *Server) { s.cfg.NumLoops = n }
}

// WithLoopCPUs pins worker loop i to cpus[i % len(cpus)].
func WithLoopCPUs(cpus ...int) ServerOption {
	return func(s *Server) { s.cfg.LoopCPUs = append([]int(nil), cpus...) }
}

// WithLogger sets the logger for the server, its listener, its connections
// and its worker loops.
func WithLogger(l *logging.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithReusePort toggles SO_REUSEPORT on the listening socket.
func WithReusePort(on bool) ServerOption {
	return func(s *Server) { s.cfg.ReusePort = on }
}

// WithTCPNoDelay toggles TCP_NODELAY on accepted sockets.
func WithTCPNoDelay(on bool) ServerOption {
	return func(s *Server) { s.cfg.TCPNoDelay = on }
}

// WithKeepAlive toggles SO_KEEPALIVE on accepted sockets.
func WithKeepAlive(on bool) ServerOption {
	return func(s *Server) { s.cfg.KeepAlive = on }
}

// WithBacklog sets the listen backlog.
func WithBacklog(n int) ServerOption {
	return func(s *Server) { s.cfg.Backlog = n }
}

// WithPollTimeout bounds a single worker poll.
func WithPollTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.cfg.PollTimeout = d }
}

// WithHighWaterMark installs cb for output backlogs crossing mark bytes.
func WithHighWaterMark(mark int, cb HighWaterMarkCallback) ServerOption {
	return func(s *Server) {
		s.cfg.HighWaterMark = mark
		s.highWaterMarkCb = cb
	}
}

// WithConnectionCallback is called on connection up and down.
func WithConnectionCallback(cb ConnectionCallback) ServerOption {
	return func(s *Server) { s.connectionCb = cb }
}

// WithMessageCallback is called with the input buffer after every read.
func WithMessageCallback(cb MessageCallback) ServerOption {
	return func(s *Server) { s.messageCb = cb }
}

// WithWriteCompleteCallback is called whenever a connection's output drains.
func WithWriteCompleteCallback(cb WriteCompleteCallback) ServerOption {
	return func(s *Server) { s.writeCompleteCb = cb }
}

// WithThreadInitCallback runs on every worker loop before it dispatches, or
// on the home loop when there are no workers.
func WithThreadInitCallback(cb reactor.ThreadInitCallback) ServerOption {
	return func(s *Server) { s.threadInitCb = cb }
}
