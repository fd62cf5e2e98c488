package pool

import "sync"

var (
	defaultOnce  sync.Once
	defaultExtra *BytePool
)

// ExtraBuffers returns the process-wide pool of ExtraBufferSize slabs used as
// the fallback region for vectored socket reads.
func ExtraBuffers() *BytePool {
	defaultOnce.Do(func() {
		defaultExtra = NewBytePool(ExtraBufferSize)
	})
	return defaultExtra
}
