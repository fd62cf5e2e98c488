// File: cmd/hioload-net/handlers.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Built-in connection handlers selectable with serve --mode.

package main

import (
	"fmt"
	"strings"

	"github.com/momentics/hioload-net/buffer"
	"github.com/momentics/hioload-net/logging"
	"github.com/momentics/hioload-net/server"
)

const (
	modeEcho    = "echo"
	modeDiscard = "discard"
	modeHello   = "hello"
)

// echoPrefix is prepended to every echoed chunk.
const echoPrefix = "Echo: "

// helloGreeting is written by hello mode before it half-closes.
const helloGreeting = "hello from hioload-net\n"

// handler is the pair of callbacks a mode installs on the server.
type handler struct {
	onConnection server.ConnectionCallback
	onMessage    server.MessageCallback
}

func newHandler(mode string, log *logging.Logger) (*handler, error) {
	up := connectionLogger(log)
	switch strings.ToLower(mode) {
	case modeEcho:
		return &handler{onConnection: up, onMessage: echoMessage}, nil
	case modeDiscard:
		return &handler{onConnection: up, onMessage: discardMessage}, nil
	case modeHello:
		return &handler{
			onConnection: func(c *server.Connection) {
				up(c)
				if c.Connected() {
					c.SendString(helloGreeting)
					c.Shutdown()
				}
			},
			onMessage: discardMessage,
		}, nil
	}
	return nil, fmt.Errorf("invalid mode %q (expected one of: %s, %s, %s)", mode, modeEcho, modeDiscard, modeHello)
}

func connectionLogger(log *logging.Logger) server.ConnectionCallback {
	return func(c *server.Connection) {
		log.Info().
			Str("conn", c.Name()).
			Str("peer", c.PeerAddr().String()).
			Str("state", c.State().String()).
			Log("connection")
	}
}

// echoMessage answers every chunk read with the prefix and the chunk.
func echoMessage(c *server.Connection, in *buffer.Buffer) {
	out := make([]byte, 0, len(echoPrefix)+in.ReadableBytes())
	out = append(out, echoPrefix...)
	out = append(out, in.Peek()...)
	in.RetrieveAll()
	c.Send(out)
}

func discardMessage(_ *server.Connection, in *buffer.Buffer) {
	in.RetrieveAll()
}
