// File: buffer/buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package buffer

import (
	"bytes"

	"github.com/momentics/hioload-net/pool"
	"golang.org/x/sys/unix"
)

// InitialSize is the capacity of a zero-configured Buffer.
const InitialSize = 1024

var crlf = []byte("\r\n")

// Buffer is a growable byte queue with separate read and write cursors.
// The zero value is ready to use.
type Buffer struct {
	buf      []byte
	readIdx  int
	writeIdx int
}

// New returns a Buffer with the given initial capacity.
func New(size int) *Buffer {
	if size <= 0 {
		size = InitialSize
	}
	return &Buffer{buf: make([]byte, size)}
}

// ReadableBytes is the length of the unread region.
func (b *Buffer) ReadableBytes() int { return b.writeIdx - b.readIdx }

// WritableBytes is the length of the free tail.
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.writeIdx }

// PrependableBytes is the length of the already-consumed front region.
func (b *Buffer) PrependableBytes() int { return b.readIdx }

// Capacity is the size of the backing storage.
func (b *Buffer) Capacity() int { return len(b.buf) }

// Peek returns the readable region without consuming it. The slice is only
// valid until the next mutating call.
func (b *Buffer) Peek() []byte { return b.buf[b.readIdx:b.writeIdx] }

// Retrieve consumes n bytes, clamped to the readable length.
func (b *Buffer) Retrieve(n int) {
	if n <= 0 {
		return
	}
	if n < b.ReadableBytes() {
		b.readIdx += n
		return
	}
	b.RetrieveAll()
}

// RetrieveUntil consumes the readable bytes before index, an offset into
// Peek() as returned by FindCRLF or FindEOL.
func (b *Buffer) RetrieveUntil(index int) {
	b.Retrieve(index)
}

// RetrieveAll drops everything and rewinds both cursors.
func (b *Buffer) RetrieveAll() {
	b.readIdx = 0
	b.writeIdx = 0
}

// RetrieveAsBytes consumes up to n bytes and returns a copy of them.
func (b *Buffer) RetrieveAsBytes(n int) []byte {
	if n > b.ReadableBytes() {
		n = b.ReadableBytes()
	}
	if n <= 0 {
		return []byte{}
	}
	out := make([]byte, n)
	copy(out, b.buf[b.readIdx:])
	b.Retrieve(n)
	return out
}

// RetrieveAllAsString drains the buffer into a string.
func (b *Buffer) RetrieveAllAsString() string {
	s := string(b.Peek())
	b.RetrieveAll()
	return s
}

// Append copies data onto the writable tail, growing as needed.
func (b *Buffer) Append(data []byte) {
	b.EnsureWritable(len(data))
	b.writeIdx += copy(b.buf[b.writeIdx:], data)
}

// AppendString is Append for strings.
func (b *Buffer) AppendString(s string) {
	b.EnsureWritable(len(s))
	b.writeIdx += copy(b.buf[b.writeIdx:], s)
}

// Write implements io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	b.Append(p)
	return len(p), nil
}

// EnsureWritable makes room for at least n more bytes.
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableBytes() < n {
		b.makeSpace(n)
	}
}

// makeSpace compacts in place when the consumed front plus the free tail can
// hold n, otherwise moves the readable bytes into larger storage. Either way
// the read cursor ends at zero.
func (b *Buffer) makeSpace(n int) {
	readable := b.ReadableBytes()
	if b.WritableBytes()+b.readIdx >= n {
		copy(b.buf, b.buf[b.readIdx:b.writeIdx])
	} else {
		size := 2 * len(b.buf)
		if size < readable+n {
			size = readable + n
		}
		if size < InitialSize {
			size = InitialSize
		}
		grown := make([]byte, size)
		copy(grown, b.buf[b.readIdx:b.writeIdx])
		b.buf = grown
	}
	b.readIdx = 0
	b.writeIdx = readable
}

// FindCRLF returns the offset of the first "\r\n" in the readable region,
// or -1.
func (b *Buffer) FindCRLF() int {
	return bytes.Index(b.Peek(), crlf)
}

// FindEOL returns the offset of the first '\n' in the readable region, or -1.
func (b *Buffer) FindEOL() int {
	return bytes.IndexByte(b.Peek(), '\n')
}

// ReadFromFD performs one readv into the writable tail and a pooled fallback
// region. Bytes that land in the fallback region are appended, which grows
// the buffer. It returns the raw read count: zero means end of stream.
func (b *Buffer) ReadFromFD(fd int) (int, error) {
	extras := pool.ExtraBuffers()
	extra := extras.GetBuffer()
	defer extras.PutBuffer(extra)

	writable := b.WritableBytes()
	n, err := unix.Readv(fd, [][]byte{b.buf[b.writeIdx:], *extra})
	if err != nil {
		return 0, err
	}
	if n <= writable {
		b.writeIdx += n
	} else {
		b.writeIdx = len(b.buf)
		b.Append((*extra)[:n-writable])
	}
	return n, nil
}

// WriteToFD writes the readable region with one write(2) and consumes what
// the kernel accepted.
func (b *Buffer) WriteToFD(fd int) (int, error) {
	if b.ReadableBytes() == 0 {
		return 0, nil
	}
	n, err := unix.Write(fd, b.Peek())
	if n < 0 {
		n = 0
	}
	b.Retrieve(n)
	return n, err
}
