// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Readiness masks, sentinel errors and fail-fast helpers shared by the reactor.

package reactor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/momentics/hioload-net/logging"
	"golang.org/x/sys/unix"
)

// Events is an epoll readiness mask.
type Events uint32

const (
	EventNone  Events = 0
	EventRead  Events = unix.EPOLLIN | unix.EPOLLPRI
	EventWrite Events = unix.EPOLLOUT
)

var (
	ErrLoopClosed        = errors.New("reactor: event loop closed")
	ErrPollerClosed      = errors.New("reactor: poller closed")
	ErrLoopThreadStarted = errors.New("reactor: loop thread already started")
	ErrPoolStarted       = errors.New("reactor: loop thread pool already started")
)

// String renders the mask as a list of flag names.
func (e Events) String() string {
	if e == EventNone {
		return "NONE"
	}
	var parts []string
	for _, f := range []struct {
		bit  Events
		name string
	}{
		{unix.EPOLLIN, "IN"},
		{unix.EPOLLPRI, "PRI"},
		{unix.EPOLLOUT, "OUT"},
		{unix.EPOLLHUP, "HUP"},
		{unix.EPOLLRDHUP, "RDHUP"},
		{unix.EPOLLERR, "ERR"},
	} {
		if e&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// Task is a unit of work executed on a loop thread.
type Task func()

// fatalf reports a broken loop-affinity or lifecycle contract. These are
// programming errors, so the process is not allowed to continue.
func fatalf(log *logging.Logger, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Crit().Log(msg)
	panic(msg)
}
