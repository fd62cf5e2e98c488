// Package logging
// Author: momentics <momentics@gmail.com>
//
// Structured logging for hioload-net. Every component logs through a
// logiface front-end backed by stumpy, which writes one JSON object per line
// to an arbitrary io.Writer sink. A nil *Logger is a valid no-op logger.
package logging
