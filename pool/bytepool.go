// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync"
	"sync/atomic"
)

// ExtraBufferSize is the size of the fallback region a buffer reads into when
// its own writable tail is too small.
const ExtraBufferSize = 64 * 1024

// BytePool hands out fixed-size byte slabs. Slabs are shared between loop
// threads, so the backing store is a sync.Pool rather than a per-loop list.
type BytePool struct {
	size  int
	slabs sync.Pool

	gets   atomic.Uint64
	puts   atomic.Uint64
	allocs atomic.Uint64
}

// BytePoolStats is a point-in-time view of a BytePool's counters.
type BytePoolStats struct {
	Gets   uint64
	Puts   uint64
	Allocs uint64
}

// NewBytePool creates a pool of slabs of exactly size bytes.
func NewBytePool(size int) *BytePool {
	if size <= 0 {
		panic("pool: slab size must be positive")
	}
	b := &BytePool{size: size}
	b.slabs.New = func() any {
		b.allocs.Add(1)
		buf := make([]byte, size)
		return &buf
	}
	return b
}

// Size returns the slab size.
func (b *BytePool) Size() int { return b.size }

// GetBuffer leases a slab. The contents are unspecified.
func (b *BytePool) GetBuffer() *[]byte {
	b.gets.Add(1)
	return b.slabs.Get().(*[]byte)
}

// PutBuffer returns a slab. Slices of the wrong size are dropped.
func (b *BytePool) PutBuffer(buf *[]byte) {
	if buf == nil || cap(*buf) != b.size {
		return
	}
	*buf = (*buf)[:b.size]
	b.puts.Add(1)
	b.slabs.Put(buf)
}

// Stats returns the pool counters.
func (b *BytePool) Stats() BytePoolStats {
	return BytePoolStats{
		Gets:   b.gets.Load(),
		Puts:   b.puts.Load(),
		Allocs: b.allocs.Load(),
	}
}
