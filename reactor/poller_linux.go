//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - Linux epoll implementation.

package reactor

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-net/logging"
	"golang.org/x/sys/unix"
)

const (
	initEventListSize = 128
	maxEventListSize  = 1 << 16
)

// Poller wraps one epoll instance. Registered channels live in an arena; the
// slot index travels in the epoll_event payload, so dispatch is a slice index
// rather than a map lookup. A Poller is owned by a single loop thread.
type Poller struct {
	epfd   int
	events []unix.EpollEvent
	slots  []*Channel
	free   []int32
	count  int
	log    *logging.Logger
}

// NewPoller creates an epoll instance.
func NewPoller(log *logging.Logger) (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &Poller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, initEventListSize),
		log:    logging.Named(log, "poller"),
	}, nil
}

// Poll waits up to timeoutMs (forever when negative) and appends the ready
// channels to active, with their revents filled in. A timeout or a signal
// interruption yields an empty list.
func (p *Poller) Poll(timeoutMs int, active []*Channel) ([]*Channel, error) {
	if p.epfd < 0 {
		return active, ErrPollerClosed
	}
	if timeoutMs < 0 {
		timeoutMs = -1
	}
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return active, nil
		}
		return active, fmt.Errorf("epoll wait: %w", err)
	}
	for i := 0; i < n; i++ {
		ev := &p.events[i]
		slot := int(ev.Pad)
		if slot < 0 || slot >= len(p.slots) {
			continue
		}
		ch := p.slots[slot]
		if ch == nil || int32(ch.fd) != ev.Fd {
			continue
		}
		ch.revents = Events(ev.Events)
		active = append(active, ch)
	}
	if n == len(p.events) && n < maxEventListSize {
		p.events = make([]unix.EpollEvent, 2*n)
	}
	if n > 0 {
		p.log.Debug().Int("ready", n).Log("events happened")
	}
	return active, nil
}

// UpdateChannel registers c on first use and otherwise applies its current
// interest mask. A channel whose mask becomes empty leaves the kernel set but
// keeps its slot, so a hung-up descriptor cannot spin the loop while it waits
// to be destroyed.
func (p *Poller) UpdateChannel(c *Channel) error {
	if c.slot < 0 {
		c.slot = p.alloc(c)
		c.added = false
		p.count++
		p.log.Debug().Int("fd", c.fd).Int("slot", int(c.slot)).Str("events", c.events.String()).Log("channel registered")
		if c.events == EventNone {
			return nil
		}
		if err := p.ctl(unix.EPOLL_CTL_ADD, c); err != nil {
			p.release(c)
			return err
		}
		c.added = true
		return nil
	}

	p.checkOwned(c, "update")
	switch {
	case c.events == EventNone:
		if c.added {
			p.ctlDel(c)
			c.added = false
		}
	case !c.added:
		if err := p.ctl(unix.EPOLL_CTL_ADD, c); err != nil {
			return err
		}
		c.added = true
	default:
		if err := p.ctl(unix.EPOLL_CTL_MOD, c); err != nil {
			return err
		}
	}
	return nil
}

// RemoveChannel deregisters c. Removing a channel this poller does not hold
// in exactly that slot is a fatal programming error.
func (p *Poller) RemoveChannel(c *Channel) {
	p.checkOwned(c, "remove")
	if c.added {
		p.ctlDel(c)
		c.added = false
	}
	p.release(c)
	p.log.Debug().Int("fd", c.fd).Log("channel removed")
}

// HasChannel reports whether c is currently registered here.
func (p *Poller) HasChannel(c *Channel) bool {
	return c.slot >= 0 && int(c.slot) < len(p.slots) && p.slots[c.slot] == c
}

// Len is the number of registered channels.
func (p *Poller) Len() int { return p.count }

// Close releases the epoll descriptor.
func (p *Poller) Close() error {
	if p.epfd < 0 {
		return ErrPollerClosed
	}
	err := unix.Close(p.epfd)
	p.epfd = -1
	return err
}

func (p *Poller) alloc(c *Channel) int32 {
	if n := len(p.free); n > 0 {
		slot := p.free[n-1]
		p.free = p.free[:n-1]
		p.slots[slot] = c
		return slot
	}
	p.slots = append(p.slots, c)
	return int32(len(p.slots) - 1)
}

func (p *Poller) release(c *Channel) {
	p.slots[c.slot] = nil
	p.free = append(p.free, c.slot)
	c.slot = -1
	p.count--
}

func (p *Poller) checkOwned(c *Channel, op string) {
	if !p.HasChannel(c) {
		fatalf(p.log, "poller: %s of unregistered channel fd=%d slot=%d", op, c.fd, c.slot)
	}
}

func (p *Poller) ctl(op int, c *Channel) error {
	ev := unix.EpollEvent{Events: uint32(c.events), Fd: int32(c.fd), Pad: c.slot}
	if err := unix.EpollCtl(p.epfd, op, c.fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl op=%d fd=%d: %w", op, c.fd, err)
	}
	return nil
}

func (p *Poller) ctlDel(c *Channel) {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, c.fd, nil); err != nil {
		p.log.Err().Int("fd", c.fd).Err(err).Log("epoll ctl del")
	}
}
