// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime telemetry for hioload-net servers. Each server owns a ServerMetrics
// whose counters (accepted/closed connections, active connections, bytes read
// and written) are backed by an isolated VictoriaMetrics set and exported in
// the Prometheus text format. DebugProbes collects named state reporters, such
// as per-loop iteration counts, for a JSON debug dump.
package control
