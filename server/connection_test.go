package server_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/momentics/hioload-net/buffer"
	"github.com/momentics/hioload-net/reactor"
	"github.com/momentics/hioload-net/server"
	"github.com/momentics/hioload-net/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// connRecorder records everything a Connection reports.
type connRecorder struct {
	mu          sync.Mutex
	states      []server.State
	closeStates []server.State
	messages    []string
}

func (p *connRecorder) onConnection(c *server.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, c.State())
}

func (p *connRecorder) onClose(c *server.Connection) {
	p.mu.Lock()
	p.closeStates = append(p.closeStates, c.State())
	p.mu.Unlock()
	c.Loop().QueueInLoop(c.Destroy)
}

func (p *connRecorder) snapshot() ([]server.State, []server.State, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]server.State(nil), p.states...),
		append([]server.State(nil), p.closeStates...),
		append([]string(nil), p.messages...)
}

func newRecordedConnection(t *testing.T, loop *reactor.EventLoop, rec *connRecorder, onMessage server.MessageCallback) (*server.Connection, int) {
	t.Helper()
	local, peer := socketPair(t)
	t.Cleanup(func() { _ = unix.Close(peer) })

	conn := server.NewConnection(loop, "conn-1", tcp.NewSocket(local), tcp.InetAddress{}, tcp.InetAddress{}, nil)
	conn.SetConnectionCallback(rec.onConnection)
	conn.SetCloseCallback(rec.onClose)
	if onMessage == nil {
		onMessage = func(c *server.Connection, in *buffer.Buffer) {
			rec.mu.Lock()
			rec.messages = append(rec.messages, in.RetrieveAllAsString())
			rec.mu.Unlock()
		}
	}
	conn.SetMessageCallback(onMessage)
	t.Cleanup(func() {
		if conn.State() == server.StateConnecting {
			_ = conn.Socket().Close()
			return
		}
		conn.ForceClose()
		assert.Eventually(t, conn.Disconnected, waitFor, tick)
	})
	return conn, peer
}

func readPeer(t *testing.T, fd int, want int) string {
	t.Helper()
	var got []byte
	buf := make([]byte, 4096)
	require.Eventually(t, func() bool {
		n, err := unix.Read(fd, buf)
		if n > 0 {
			got = append(got, buf[:n]...)
		}
		return len(got) >= want || (err == nil && n == 0)
	}, waitFor, tick)
	return string(got)
}

func TestConnectionLifecyclePeerClose(t *testing.T) {
	loop := runLoop(t, "conn")
	rec := &connRecorder{}
	conn, peer := newRecordedConnection(t, loop, rec, nil)

	assert.Equal(t, server.StateConnecting, conn.State())
	inLoop(loop, conn.Activate)
	assert.Equal(t, server.StateConnected, conn.State())
	assert.True(t, conn.Connected())

	require.NoError(t, unix.Shutdown(peer, unix.SHUT_RDWR))
	require.Eventually(t, conn.Disconnected, waitFor, tick)

	// Let any stray event surface before checking the callbacks ran once.
	inLoop(loop, func() {})
	states, closeStates, _ := rec.snapshot()
	assert.Equal(t, []server.State{server.StateConnected, server.StateDisconnected}, states)
	assert.Equal(t, []server.State{server.StateDisconnecting}, closeStates)
	assert.True(t, conn.Socket().Closed())
}

func TestConnectionForceCloseFromForeignThread(t *testing.T) {
	loop := runLoop(t, "force")
	rec := &connRecorder{}
	conn, _ := newRecordedConnection(t, loop, rec, nil)
	inLoop(loop, conn.Activate)

	conn.ForceClose()
	conn.ForceClose()
	require.Eventually(t, conn.Disconnected, waitFor, tick)
	inLoop(loop, func() {})

	states, closeStates, _ := rec.snapshot()
	assert.Equal(t, []server.State{server.StateConnected, server.StateDisconnected}, states)
	assert.Equal(t, []server.State{server.StateDisconnecting}, closeStates)

	// Closed connections ignore further requests.
	conn.ForceClose()
	conn.Shutdown()
	conn.SendString("late")
	inLoop(loop, func() {})
	states, _, _ = rec.snapshot()
	assert.Len(t, states, 2)
}

func TestConnectionWithoutCloseCallbackDestroysItself(t *testing.T) {
	loop := runLoop(t, "selfdestroy")
	local, peer := socketPair(t)

	var mu sync.Mutex
	var states []server.State
	conn := server.NewConnection(loop, "solo", tcp.NewSocket(local), tcp.InetAddress{}, tcp.InetAddress{}, nil)
	conn.SetConnectionCallback(func(c *server.Connection) {
		mu.Lock()
		states = append(states, c.State())
		mu.Unlock()
	})
	inLoop(loop, conn.Activate)
	require.NoError(t, unix.Close(peer))

	require.Eventually(t, conn.Disconnected, waitFor, tick)
	inLoop(loop, func() {})
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []server.State{server.StateConnected, server.StateDisconnected}, states)
}

func TestConnectionKeepsUnconsumedInput(t *testing.T) {
	loop := runLoop(t, "partial")
	rec := &connRecorder{}
	seen := make(chan string, 4)
	conn, peer := newRecordedConnection(t, loop, rec, func(c *server.Connection, in *buffer.Buffer) {
		seen <- string(in.Peek())
		// Consume everything but the last byte.
		in.Retrieve(in.ReadableBytes() - 1)
	})
	inLoop(loop, conn.Activate)

	_, err := unix.Write(peer, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "abc", <-seen)

	_, err = unix.Write(peer, []byte("d"))
	require.NoError(t, err)
	assert.Equal(t, "cd", <-seen)
}

func TestConnectionSendFromForeignThread(t *testing.T) {
	loop := runLoop(t, "send")
	rec := &connRecorder{}
	conn, peer := newRecordedConnection(t, loop, rec, nil)
	inLoop(loop, conn.Activate)

	var completed atomic.Int32
	inLoop(loop, func() {
		conn.SetWriteCompleteCallback(func(*server.Connection) { completed.Add(1) })
	})

	payload := []byte("hello ")
	conn.Send(payload)
	payload[0] = 'X' // the connection copied it
	conn.SendString("world")

	assert.Equal(t, "hello world", readPeer(t, peer, 11))
	// Each send drained by its direct write reports completion once.
	require.Eventually(t, func() bool { return completed.Load() == 2 }, waitFor, tick)
	inLoop(loop, func() {})
	assert.EqualValues(t, 2, completed.Load())
}

func TestConnectionForceCloseNeverRevivesDestroyed(t *testing.T) {
	for i := 0; i < 20; i++ {
		loop := runLoop(t, "revive")
		rec := &connRecorder{}
		conn, peer := newRecordedConnection(t, loop, rec, nil)
		inLoop(loop, conn.Activate)

		stop := make(chan struct{})
		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
						conn.ForceClose()
					}
				}
			}()
		}
		require.NoError(t, unix.Shutdown(peer, unix.SHUT_RDWR))
		require.Eventually(t, conn.Disconnected, waitFor, tick)
		close(stop)
		wg.Wait()

		inLoop(loop, func() {})
		assert.Equal(t, server.StateDisconnected, conn.State())
		states, _, _ := rec.snapshot()
		assert.Equal(t, []server.State{server.StateConnected, server.StateDisconnected}, states)
	}
}

func TestConnectionSendBuffer(t *testing.T) {
	loop := runLoop(t, "sendbuf")
	rec := &connRecorder{}
	conn, peer := newRecordedConnection(t, loop, rec, nil)
	inLoop(loop, conn.Activate)

	out := buffer.New(0)
	out.AppendString("foreign")
	conn.SendBuffer(out)
	assert.Zero(t, out.ReadableBytes())

	inLoop(loop, func() {
		b := buffer.New(0)
		b.AppendString("+local")
		conn.SendBuffer(b)
		assert.Zero(t, b.ReadableBytes())
	})
	assert.Equal(t, "foreign+local", readPeer(t, peer, 13))
}

func TestConnectionShutdownHalfCloses(t *testing.T) {
	loop := runLoop(t, "shutdown")
	rec := &connRecorder{}
	conn, peer := newRecordedConnection(t, loop, rec, nil)
	inLoop(loop, conn.Activate)

	conn.SendString("bye")
	conn.Shutdown()
	assert.Equal(t, server.StateDisconnecting, conn.State())

	// Peer sees the data, then end of stream.
	assert.Equal(t, "bye", readPeer(t, peer, 3))
	buf := make([]byte, 8)
	require.Eventually(t, func() bool {
		n, err := unix.Read(peer, buf)
		return err == nil && n == 0
	}, waitFor, tick)

	// The read side stays open.
	_, err := unix.Write(peer, []byte("still here"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, _, msgs := rec.snapshot()
		return len(msgs) == 1 && msgs[0] == "still here"
	}, waitFor, tick)
	assert.False(t, conn.Disconnected())
}

func TestConnectionBuffersWhenSocketIsFull(t *testing.T) {
	loop := runLoop(t, "backpressure")
	rec := &connRecorder{}
	conn, peer := newRecordedConnection(t, loop, rec, nil)
	require.NoError(t, unix.SetsockoptInt(conn.FD(), unix.SOL_SOCKET, unix.SO_SNDBUF, 4096))
	inLoop(loop, conn.Activate)

	var marks []int
	conn.SetHighWaterMarkCallback(func(_ *server.Connection, pending int) { marks = append(marks, pending) }, 64*1024)

	payload := make([]byte, 512*1024)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	var queued int
	var writing bool
	inLoop(loop, func() {
		conn.Send(payload)
		queued = conn.OutputBuffer().ReadableBytes()
		writing = conn.IsWriting()
	})
	assert.Positive(t, queued)
	assert.True(t, writing)

	got := readPeer(t, peer, len(payload))
	assert.Equal(t, string(payload), got)
	inLoop(loop, func() {
		assert.Zero(t, conn.OutputBuffer().ReadableBytes())
		assert.False(t, conn.IsWriting())
	})
	assert.Len(t, marks, 1)
}

func TestConnectionActivateTwice(t *testing.T) {
	loop := runLoop(t, "twice")
	rec := &connRecorder{}
	conn, _ := newRecordedConnection(t, loop, rec, nil)
	inLoop(loop, conn.Activate)
	inLoop(loop, conn.Activate)
	states, _, _ := rec.snapshot()
	assert.Equal(t, []server.State{server.StateConnected}, states)

	conn.ForceClose()
	require.Eventually(t, conn.Disconnected, waitFor, tick)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Connecting", server.StateConnecting.String())
	assert.Equal(t, "Connected", server.StateConnected.String())
	assert.Equal(t, "Disconnecting", server.StateDisconnecting.String())
	assert.Equal(t, "Disconnected", server.StateDisconnected.String())
	assert.Equal(t, "Unknown", server.State(42).String())
}
