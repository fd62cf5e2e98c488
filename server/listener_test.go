package server_test

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/momentics/hioload-net/server"
	"github.com/momentics/hioload-net/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestListener(t *testing.T, name string) (*server.Listener, func(func())) {
	t.Helper()
	loop := runLoop(t, name)
	addr, err := tcp.ParseInetAddress("127.0.0.1", 0)
	require.NoError(t, err)
	l, err := server.NewListener(loop, addr, false, nil)
	require.NoError(t, err)
	t.Cleanup(func() { inLoop(loop, func() { _ = l.Close() }) })
	return l, func(fn func()) { inLoop(loop, fn) }
}

func TestListenerBindsEphemeralPort(t *testing.T) {
	l, run := newTestListener(t, "lst-addr")
	assert.NotZero(t, l.Addr().Port())
	assert.Equal(t, "127.0.0.1", l.Addr().IP())

	var listening bool
	run(func() {
		assert.NoError(t, l.Listen(16))
		listening = l.Listening()
	})
	assert.True(t, listening)
}

func TestListenerHandsOffAcceptedSockets(t *testing.T) {
	l, run := newTestListener(t, "lst-accept")
	accepted := make(chan tcp.InetAddress, 1)
	l.SetNewConnectionCallback(func(fd int, peer tcp.InetAddress) {
		_ = unix.Close(fd)
		accepted <- peer
	})
	run(func() { assert.NoError(t, l.Listen(16)) })

	c, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	select {
	case peer := <-accepted:
		assert.Equal(t, c.LocalAddr().String(), peer.String())
	case <-time.After(waitFor):
		t.Fatal("no connection accepted")
	}
}

func TestListenerWithoutCallbackClosesSocket(t *testing.T) {
	l, run := newTestListener(t, "lst-nocb")
	run(func() { assert.NoError(t, l.Listen(16)) })

	c, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(waitFor)))
	_, err = c.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestListenerCloseIsIdempotent(t *testing.T) {
	loop := runLoop(t, "lst-close")
	addr, err := tcp.ParseInetAddress("127.0.0.1", 0)
	require.NoError(t, err)
	l, err := server.NewListener(loop, addr, true, nil)
	require.NoError(t, err)

	inLoop(loop, func() {
		assert.NoError(t, l.Listen(16))
		assert.NoError(t, l.Close())
		assert.False(t, l.Listening())
		assert.NoError(t, l.Close())
	})
}
