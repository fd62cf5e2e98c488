// File: server/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"errors"
	"time"

	"github.com/momentics/hioload-net/reactor"
	"github.com/momentics/hioload-net/transport/tcp"
)

var (
	ErrServerStopped = errors.New("server: stopped")
	ErrStopInLoop    = errors.New("server: Stop called from a server loop thread")
)

// DefaultHighWaterMark is the output backlog that triggers the high-water-mark
// callback.
const DefaultHighWaterMark = 64 * 1024 * 1024

// Config holds all server-side configuration parameters.
type Config struct {
	Name          string        // server name, prefix of connection names
	ListenAddr    string        // TCP bind address, e.g. ":9000"
	NumLoops      int           // worker loops; 0 runs everything on the home loop
	LoopCPUs      []int         // optional CPU pinning of worker loops
	ReusePort     bool          // SO_REUSEPORT on the listening socket
	TCPNoDelay    bool          // TCP_NODELAY on accepted sockets
	KeepAlive     bool          // SO_KEEPALIVE on accepted sockets
	Backlog       int           // listen backlog
	PollTimeout   time.Duration // upper bound of one worker poll
	HighWaterMark int           // output backlog threshold in bytes
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:          "hioload",
		ListenAddr:    ":9000",
		NumLoops:      0,
		KeepAlive:     true,
		Backlog:       tcp.DefaultBacklog,
		PollTimeout:   reactor.DefaultPollTimeout,
		HighWaterMark: DefaultHighWaterMark,
	}
}

func (c *Config) validate() error {
	if c.Name == "" {
		return errors.New("server: empty name")
	}
	if c.NumLoops < 0 {
		return errors.New("server: negative loop count")
	}
	if c.HighWaterMark <= 0 {
		c.HighWaterMark = DefaultHighWaterMark
	}
	if c.Backlog <= 0 {
		c.Backlog = tcp.DefaultBacklog
	}
	return nil
}
