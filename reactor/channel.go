// File: reactor/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import "golang.org/x/sys/unix"

// Channel binds one descriptor to readiness interests and per-event callbacks.
// It never owns or closes the descriptor. All mutation happens on the owning
// loop's thread.
type Channel struct {
	loop    *EventLoop
	fd      int
	events  Events
	revents Events

	// slot is the poller arena index, -1 until first registration.
	slot int32
	// added reports whether fd is currently in the kernel interest set.
	added bool

	readCb  Task
	writeCb Task
	closeCb Task
	errorCb Task
}

// NewChannel creates an unregistered channel for fd on loop.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{loop: loop, fd: fd, slot: -1}
}

func (c *Channel) Fd() int                  { return c.fd }
func (c *Channel) Loop() *EventLoop         { return c.loop }
func (c *Channel) Events() Events           { return c.events }
func (c *Channel) Revents() Events          { return c.revents }
func (c *Channel) IsNoneEvent() bool        { return c.events == EventNone }
func (c *Channel) IsReading() bool          { return c.events&EventRead != 0 }
func (c *Channel) IsWriting() bool          { return c.events&EventWrite != 0 }
func (c *Channel) Registered() bool         { return c.slot >= 0 }
func (c *Channel) SetReadCallback(cb Task)  { c.readCb = cb }
func (c *Channel) SetWriteCallback(cb Task) { c.writeCb = cb }
func (c *Channel) SetCloseCallback(cb Task) { c.closeCb = cb }
func (c *Channel) SetErrorCallback(cb Task) { c.errorCb = cb }

func (c *Channel) EnableReading() {
	c.events |= EventRead
	c.update()
}

func (c *Channel) DisableReading() {
	c.events &^= EventRead
	c.update()
}

func (c *Channel) EnableWriting() {
	c.events |= EventWrite
	c.update()
}

func (c *Channel) DisableWriting() {
	c.events &^= EventWrite
	c.update()
}

func (c *Channel) DisableAll() {
	c.events = EventNone
	c.update()
}

// Remove deregisters the channel from its loop. The interest mask should be
// empty by then.
func (c *Channel) Remove() {
	c.loop.RemoveChannel(c)
}

func (c *Channel) update() {
	c.loop.UpdateChannel(c)
}

// HandleEvent dispatches the last observed readiness: close (hang-up with no
// pending input), then error, then read (including urgent data and peer
// half-close), then write. A hung-up socket with unread input reaches the read
// callback first, which observes the zero-length read itself.
func (c *Channel) HandleEvent() {
	ev := c.revents
	if ev&unix.EPOLLHUP != 0 && ev&unix.EPOLLIN == 0 {
		if c.closeCb != nil {
			c.closeCb()
		}
	}
	if ev&unix.EPOLLERR != 0 {
		if c.errorCb != nil {
			c.errorCb()
		}
	}
	if ev&(unix.EPOLLIN|unix.EPOLLPRI|unix.EPOLLRDHUP) != 0 {
		if c.readCb != nil {
			c.readCb()
		}
	}
	if ev&unix.EPOLLOUT != 0 {
		if c.writeCb != nil {
			c.writeCb()
		}
	}
}
