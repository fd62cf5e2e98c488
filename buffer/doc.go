// Package buffer
// Author: momentics <momentics@gmail.com>
//
// Growable byte queue used for connection input and output. A Buffer keeps a
// read cursor and a write cursor over one backing slice:
//
//	|  consumed  |  readable  |  writable  |
//	0         readIdx      writeIdx     cap
//
// Socket reads are vectored: the writable tail plus a pooled 64 KiB fallback
// region, so a single readv can absorb more than the buffer currently holds.
// A Buffer is not safe for concurrent use; it belongs to one loop thread.
package buffer
