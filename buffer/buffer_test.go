package buffer_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/momentics/hioload-net/buffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestBufferAppendRetrieve(t *testing.T) {
	b := buffer.New(0)
	assert.Equal(t, buffer.InitialSize, b.Capacity())
	assert.Zero(t, b.ReadableBytes())
	assert.Equal(t, buffer.InitialSize, b.WritableBytes())

	b.AppendString("hello world")
	assert.Equal(t, 11, b.ReadableBytes())
	assert.Equal(t, []byte("hello world"), b.Peek())

	b.Retrieve(6)
	assert.Equal(t, 6, b.PrependableBytes())
	assert.Equal(t, "world", string(b.Peek()))

	b.Retrieve(100)
	assert.Zero(t, b.ReadableBytes())
	assert.Zero(t, b.PrependableBytes())
}

func TestBufferZeroValue(t *testing.T) {
	var b buffer.Buffer
	b.Append([]byte("abc"))
	assert.Equal(t, "abc", b.RetrieveAllAsString())
	assert.Equal(t, "", b.RetrieveAllAsString())
}

func TestBufferRetrieveAsBytes(t *testing.T) {
	b := buffer.New(8)
	b.AppendString("abcdef")
	assert.Equal(t, []byte("abc"), b.RetrieveAsBytes(3))
	assert.Equal(t, []byte("def"), b.RetrieveAsBytes(10))
	assert.Equal(t, []byte{}, b.RetrieveAsBytes(1))
}

func TestBufferCompactsBeforeGrowing(t *testing.T) {
	b := buffer.New(16)
	b.AppendString("0123456789abcdef")
	b.Retrieve(10)
	require.Zero(t, b.WritableBytes())

	// 6 readable + 8 new fits in 16 once the consumed front is reclaimed.
	b.AppendString("ghijklmn")
	assert.Equal(t, 16, b.Capacity())
	assert.Zero(t, b.PrependableBytes())
	assert.Equal(t, "abcdefghijklmn", string(b.Peek()))
}

func TestBufferGrowthKeepsOrder(t *testing.T) {
	b := buffer.New(4)
	b.AppendString("abcd")
	b.Retrieve(1)
	b.AppendString("efghijklmnop")
	assert.Greater(t, b.Capacity(), 4)
	assert.Zero(t, b.PrependableBytes())
	assert.Equal(t, "bcdefghijklmnop", b.RetrieveAllAsString())
}

func TestBufferConservesBytes(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	b := buffer.New(32)
	var appended, consumed bytes.Buffer

	for i := 0; i < 2000; i++ {
		if rng.Intn(3) > 0 {
			chunk := make([]byte, rng.Intn(200))
			rng.Read(chunk)
			b.Append(chunk)
			appended.Write(chunk)
		} else {
			n := rng.Intn(300)
			consumed.Write(b.RetrieveAsBytes(n))
		}
		require.Equal(t, appended.Len(), b.ReadableBytes()+consumed.Len())
		require.LessOrEqual(t, b.ReadableBytes()+b.PrependableBytes()+b.WritableBytes(), b.Capacity())
	}
	consumed.WriteString(b.RetrieveAllAsString())
	assert.Equal(t, appended.Bytes(), consumed.Bytes())
}

func TestBufferFindTerminators(t *testing.T) {
	b := buffer.New(0)
	assert.Equal(t, -1, b.FindCRLF())
	assert.Equal(t, -1, b.FindEOL())

	b.AppendString("GET / HTTP/1.1\r\nHost: x\r\n")
	idx := b.FindCRLF()
	assert.Equal(t, 14, idx)
	assert.Equal(t, 15, b.FindEOL())

	b.RetrieveUntil(idx + 2)
	assert.Equal(t, "Host: x\r\n", string(b.Peek()))

	b.RetrieveAll()
	b.AppendString("no terminator\r")
	assert.Equal(t, -1, b.FindCRLF())
}

func TestBufferReadFromFDUsesFallbackRegion(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])

	payload := bytes.Repeat([]byte("0123456789"), 800)
	n, err := unix.Write(fds[0], payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	b := buffer.New(16)
	got := 0
	for got < len(payload) {
		n, err := b.ReadFromFD(fds[1])
		require.NoError(t, err)
		require.Positive(t, n)
		got += n
	}
	assert.GreaterOrEqual(t, b.Capacity(), len(payload))
	assert.Equal(t, payload, b.Peek())

	require.NoError(t, unix.Close(fds[0]))
	n, err = b.ReadFromFD(fds[1])
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBufferWriteToFD(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	b := buffer.New(0)
	n, err := b.WriteToFD(fds[0])
	require.NoError(t, err)
	assert.Zero(t, n)

	b.AppendString("flush me")
	n, err = b.WriteToFD(fds[0])
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Zero(t, b.ReadableBytes())

	out := make([]byte, 16)
	n, err = unix.Read(fds[1], out)
	require.NoError(t, err)
	assert.Equal(t, "flush me", string(out[:n]))
}
