package tcp_test

import (
	"errors"
	"net"
	"testing"

	"github.com/momentics/hioload-net/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func listenLoopback(t *testing.T) (*tcp.Socket, tcp.InetAddress) {
	t.Helper()
	s, err := tcp.NewNonblockingSocket(unix.AF_INET)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.SetReuseAddr(true))
	require.NoError(t, s.Bind(tcp.NewInetAddress(0, true)))
	require.NoError(t, s.Listen(0))
	addr, err := s.LocalAddr()
	require.NoError(t, err)
	require.NotZero(t, addr.Port())
	return s, addr
}

func TestSocketAcceptEmptyQueue(t *testing.T) {
	s, _ := listenLoopback(t)
	_, _, err := s.Accept()
	assert.True(t, errors.Is(err, unix.EAGAIN))
}

func TestSocketAcceptAndOptions(t *testing.T) {
	s, addr := listenLoopback(t)

	client, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer client.Close()

	var fd int
	var peer tcp.InetAddress
	require.Eventually(t, func() bool {
		fd, peer, err = s.Accept()
		return err == nil
	}, timeout, tick)
	conn := tcp.NewSocket(fd)
	defer conn.Close()

	assert.Equal(t, client.LocalAddr().String(), peer.String())
	got, err := conn.PeerAddr()
	require.NoError(t, err)
	assert.Equal(t, peer, got)
	local, err := conn.LocalAddr()
	require.NoError(t, err)
	assert.Equal(t, addr, local)

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_NONBLOCK)

	require.NoError(t, conn.SetTCPNoDelay(true))
	on, err := conn.GetBool(unix.IPPROTO_TCP, unix.TCP_NODELAY)
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, conn.SetKeepAlive(true))
	on, err = conn.GetBool(unix.SOL_SOCKET, unix.SO_KEEPALIVE)
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, conn.SetReusePort(true))
	require.NoError(t, conn.SetSendBuffer(4096))
	require.NoError(t, conn.SetRecvBuffer(4096))
	assert.NoError(t, conn.SocketError())
}

func TestSocketShutdownWriteHalfCloses(t *testing.T) {
	s, addr := listenLoopback(t)

	client, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer client.Close()

	var fd int
	require.Eventually(t, func() bool {
		fd, _, err = s.Accept()
		return err == nil
	}, timeout, tick)
	conn := tcp.NewSocket(fd)
	defer conn.Close()

	require.NoError(t, conn.ShutdownWrite())
	buf := make([]byte, 1)
	n, err := client.Read(buf)
	assert.Zero(t, n)
	assert.Error(t, err)

	// The read direction is still open.
	_, err = client.Write([]byte("z"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		n, err := unix.Read(fd, buf)
		return err == nil && n == 1 && buf[0] == 'z'
	}, timeout, tick)
}

func TestSocketCloseIdempotent(t *testing.T) {
	s, err := tcp.NewNonblockingSocket(unix.AF_INET)
	require.NoError(t, err)
	assert.False(t, s.Closed())
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.True(t, s.Closed())
}

func TestSocketBindInvalid(t *testing.T) {
	s, err := tcp.NewNonblockingSocket(unix.AF_INET)
	require.NoError(t, err)
	defer s.Close()
	assert.ErrorIs(t, s.Bind(tcp.InetAddress{}), tcp.ErrInvalidAddress)
}
