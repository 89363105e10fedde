// Package metrics exposes the bridge's runtime health as Prometheus
// gauges/counters/histograms: bridge pool occupancy, ready device
// count, command ack latency, frame decode throughput, and mesh-refresh
// timing. Exposed on GET /metrics by internal/api.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BridgePoolSize is the current number of bridge-capable devices
// holding a connection slot.
var BridgePoolSize = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "cyncbridge",
	Name:      "bridge_pool_size",
	Help:      "Number of bridges currently occupying the pool.",
})

// ReadyDevices is the current number of devices in the READY state.
var ReadyDevices = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "cyncbridge",
	Name:      "ready_devices",
	Help:      "Number of device connections currently in the READY state.",
})

// CommandAckLatency tracks round-trip time from command send to ack
// arrival, labeled by outcome so timeouts and rejections are visible
// separately from successful acks.
var CommandAckLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "cyncbridge",
	Name:      "command_ack_latency_seconds",
	Help:      "Latency between sending a control frame and its correlated ack.",
	Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
}, []string{"outcome"})

// CommandsDispatched counts every command the dispatcher accepted for
// send, labeled by outcome (acked, failed, throttled).
var CommandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cyncbridge",
	Name:      "commands_dispatched_total",
	Help:      "Total commands dispatched, by outcome.",
}, []string{"outcome"})

// FramesDecoded counts successfully decoded wire frames, labeled by
// frame type.
var FramesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cyncbridge",
	Name:      "frames_decoded_total",
	Help:      "Total frames successfully decoded from device connections, by type.",
}, []string{"type"})

// MalformedPackets counts frames rejected by the codec as corrupt
// (bad checksum, oversized length, truncated stream).
var MalformedPackets = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "cyncbridge",
	Name:      "malformed_packets_total",
	Help:      "Total frames rejected as malformed before they could be decoded.",
})

// MeshRefreshDuration tracks how long a mesh_info request-to-response
// round trip takes for the periodic and event-driven refresh loop.
var MeshRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "cyncbridge",
	Name:      "mesh_refresh_duration_seconds",
	Help:      "Time between requesting a mesh_info snapshot and applying it to the registry.",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
})

// MeshRefreshesRequested counts every mesh_info request sent, labeled
// by trigger (periodic, event).
var MeshRefreshesRequested = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cyncbridge",
	Name:      "mesh_refreshes_requested_total",
	Help:      "Total mesh_info requests sent, by trigger.",
}, []string{"trigger"})

// PendingAckTableSize reports the current size of the ack-correlation
// table, for catching leaks where a waiter is never delivered or swept.
var PendingAckTableSize = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "cyncbridge",
	Name:      "pending_ack_table_size",
	Help:      "Current number of outstanding command acks awaited.",
})
