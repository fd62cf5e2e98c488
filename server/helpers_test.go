package server_test

import (
	"testing"
	"time"

	"github.com/momentics/hioload-net/reactor"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const (
	waitFor = 5 * time.Second
	tick    = 2 * time.Millisecond
)

// runLoop starts a loop on its own thread and stops it at cleanup.
func runLoop(t *testing.T, name string) *reactor.EventLoop {
	t.Helper()
	th := reactor.NewLoopThread(name, nil, -1, reactor.WithPollTimeout(100*time.Millisecond))
	loop, err := th.StartLoop()
	require.NoError(t, err)
	t.Cleanup(th.Stop)
	return loop
}

// inLoop runs fn on loop's thread and waits for it.
func inLoop(loop *reactor.EventLoop, fn func()) {
	done := make(chan struct{})
	loop.RunInLoop(func() {
		defer close(done)
		fn()
	})
	<-done
}

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	return fds[0], fds[1]
}
