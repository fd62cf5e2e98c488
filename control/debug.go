// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Runtime debug handler and probe reflector for internal inspection.

package control

import (
	"encoding/json"
	"io"
	"sort"

	"github.com/momentics/hioload-net/reactor"
	"github.com/puzpuzpuz/xsync/v3"
)

// DebugProbes holds registered probe functions. Probes are called from the
// goroutine dumping the state, so they must only read thread-safe values.
type DebugProbes struct {
	probes *xsync.MapOf[string, func() any]
}

// NewDebugProbes creates a probe registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{
		probes: xsync.NewMapOf[string, func() any](),
	}
}

// RegisterProbe inserts a named debug hook, replacing any with that name.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	dp.probes.Store(name, fn)
}

// UnregisterProbe drops a named hook.
func (dp *DebugProbes) UnregisterProbe(name string) {
	dp.probes.Delete(name)
}

// Names lists the registered probes in sorted order.
func (dp *DebugProbes) Names() []string {
	names := make([]string, 0, dp.probes.Size())
	dp.probes.Range(func(k string, _ func() any) bool {
		names = append(names, k)
		return true
	})
	sort.Strings(names)
	return names
}

// DumpState returns output of all probes.
func (dp *DebugProbes) DumpState() map[string]any {
	out := make(map[string]any, dp.probes.Size())
	dp.probes.Range(func(k string, fn func() any) bool {
		out[k] = fn()
		return true
	})
	return out
}

// WriteJSON writes DumpState as one indented JSON object.
func (dp *DebugProbes) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(dp.DumpState())
}

// LoopState is what a loop probe reports.
type LoopState struct {
	Name         string `json:"name"`
	ThreadID     int    `json:"tid"`
	Looping      bool   `json:"looping"`
	Iterations   uint64 `json:"iterations"`
	PendingTasks int    `json:"pending_tasks"`
}

// RegisterLoopProbes reports every loop returned by loops under name.
func RegisterLoopProbes(dp *DebugProbes, name string, loops func() []*reactor.EventLoop) {
	dp.RegisterProbe(name, func() any {
		ls := loops()
		out := make([]LoopState, 0, len(ls))
		for _, l := range ls {
			out = append(out, LoopState{
				Name:         l.Name(),
				ThreadID:     l.ThreadID(),
				Looping:      l.Looping(),
				Iterations:   l.Iteration(),
				PendingTasks: l.PendingTasks(),
			})
		}
		return out
	})
}

// RegisterMetricsProbe reports the snapshot of m under "metrics.<server>".
func RegisterMetricsProbe(dp *DebugProbes, m *ServerMetrics) {
	dp.RegisterProbe("metrics."+m.Name(), func() any { return m.Snapshot() })
}
