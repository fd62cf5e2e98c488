// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Per-server runtime counters backed by a VictoriaMetrics set, exposed in the
// Prometheus text format.

package control

import (
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// ServerMetrics tracks connection and byte counters for one server. Every
// method is safe for concurrent use from any loop thread. The recording
// methods accept a nil receiver.
type ServerMetrics struct {
	name string
	set  *metrics.Set

	accepted     *metrics.Counter
	closed       *metrics.Counter
	bytesRead    *metrics.Counter
	bytesWritten *metrics.Counter
	active       atomic.Int64
	updated      atomic.Int64
}

// Snapshot is a point-in-time copy of a server's counters.
type Snapshot struct {
	Server       string
	Accepted     uint64
	Closed       uint64
	Active       int64
	BytesRead    uint64
	BytesWritten uint64
	Updated      time.Time
}

// NewServerMetrics creates an isolated metric set labelled server=name.
func NewServerMetrics(name string) *ServerMetrics {
	m := &ServerMetrics{name: name, set: metrics.NewSet()}
	label := `{server=` + strconv.Quote(name) + `}`
	m.accepted = m.set.NewCounter("hioload_connections_accepted_total" + label)
	m.closed = m.set.NewCounter("hioload_connections_closed_total" + label)
	m.bytesRead = m.set.NewCounter("hioload_bytes_read_total" + label)
	m.bytesWritten = m.set.NewCounter("hioload_bytes_written_total" + label)
	m.set.NewGauge("hioload_connections_active"+label, func() float64 {
		return float64(m.active.Load())
	})
	return m
}

// Name is the server label.
func (m *ServerMetrics) Name() string { return m.name }

// ConnectionAccepted records a newly registered connection.
func (m *ServerMetrics) ConnectionAccepted() {
	if m == nil {
		return
	}
	m.accepted.Inc()
	m.active.Add(1)
	m.touch()
}

// ConnectionClosed records a connection leaving the registry.
func (m *ServerMetrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.closed.Inc()
	m.active.Add(-1)
	m.touch()
}

// BytesRead adds n bytes received.
func (m *ServerMetrics) BytesRead(n int) {
	if m != nil && n > 0 {
		m.bytesRead.Add(n)
		m.touch()
	}
}

// BytesWritten adds n bytes sent.
func (m *ServerMetrics) BytesWritten(n int) {
	if m != nil && n > 0 {
		m.bytesWritten.Add(n)
		m.touch()
	}
}

func (m *ServerMetrics) touch() {
	m.updated.Store(time.Now().UnixNano())
}

// WritePrometheus writes every metric of the set in text exposition format.
func (m *ServerMetrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}

// Snapshot copies the current counter values.
func (m *ServerMetrics) Snapshot() Snapshot {
	s := Snapshot{
		Server:       m.name,
		Accepted:     m.accepted.Get(),
		Closed:       m.closed.Get(),
		Active:       m.active.Load(),
		BytesRead:    m.bytesRead.Get(),
		BytesWritten: m.bytesWritten.Get(),
	}
	if ns := m.updated.Load(); ns != 0 {
		s.Updated = time.Unix(0, ns)
	}
	return s
}

// String is a one-line summary for logs.
func (s Snapshot) String() string {
	return fmt.Sprintf("server=%s accepted=%d closed=%d active=%d read=%d written=%d",
		s.Server, s.Accepted, s.Closed, s.Active, s.BytesRead, s.BytesWritten)
}
