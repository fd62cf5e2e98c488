// Package pool
// Author: momentics <momentics@gmail.com>
//
// Memory pooling for hioload-net. BytePool leases fixed-size slabs (the 64 KiB
// fallback region for vectored reads comes from ExtraBuffers).
package pool
