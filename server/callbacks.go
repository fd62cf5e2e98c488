// File: server/callbacks.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import "github.com/momentics/hioload-net/buffer"

type (
	// ConnectionCallback fires when a connection comes up and once more
	// when it goes down; check Connected() to tell the two apart.
	ConnectionCallback func(c *Connection)

	// MessageCallback receives the input buffer after a read. Unconsumed
	// bytes stay in the buffer for the next call.
	MessageCallback func(c *Connection, in *buffer.Buffer)

	// CloseCallback starts registry removal of a closing connection.
	CloseCallback func(c *Connection)

	// WriteCompleteCallback fires when the output buffer drains.
	WriteCompleteCallback func(c *Connection)

	// HighWaterMarkCallback fires when queued output crosses the threshold
	// upward; pending is the new backlog.
	HighWaterMarkCallback func(c *Connection, pending int)
)

func defaultConnectionCallback(c *Connection) {
	c.log.Debug().
		Str("local", c.LocalAddr().String()).
		Str("peer", c.PeerAddr().String()).
		Bool("up", c.Connected()).
		Log("connection state")
}

func defaultMessageCallback(_ *Connection, in *buffer.Buffer) {
	in.RetrieveAll()
}
