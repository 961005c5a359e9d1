// Package observability collects engine metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the engine's run, stream, and cache activity.
type Metrics struct {
	// RunsStarted counts streaming runs by kind (chat|imageBatch).
	RunsStarted *prometheus.CounterVec

	// RunsFinished counts completed runs by kind and outcome
	// (done|error|cancelled).
	RunsFinished *prometheus.CounterVec

	// EventsDecoded counts accepted stream events by channel and type.
	EventsDecoded *prometheus.CounterVec

	// EventsDropped counts silently dropped frames (malformed payloads,
	// unknown channels or item ids).
	EventsDropped prometheus.Counter

	// StreamDuration measures time from stream open to close, seconds.
	StreamDuration *prometheus.HistogramVec

	// BlobWrites counts blob cache writes by result (written|deduped).
	BlobWrites *prometheus.CounterVec

	// SnapshotWrites counts snapshot flushes by result (ok|error).
	SnapshotWrites *prometheus.CounterVec
}

// New registers the engine metrics with reg. Pass a fresh registry in
// tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modelarena_runs_started_total",
			Help: "Streaming runs opened, by kind.",
		}, []string{"kind"}),
		RunsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modelarena_runs_finished_total",
			Help: "Streaming runs finished, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		EventsDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modelarena_events_decoded_total",
			Help: "Stream events accepted by the decoder.",
		}, []string{"channel", "type"}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "modelarena_events_dropped_total",
			Help: "Stream frames dropped as malformed or unroutable.",
		}),
		StreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modelarena_stream_duration_seconds",
			Help:    "Stream lifetime from open to close.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"kind"}),
		BlobWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modelarena_blob_writes_total",
			Help: "Blob cache write attempts, by result.",
		}, []string{"result"}),
		SnapshotWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modelarena_snapshot_writes_total",
			Help: "Snapshot flushes, by result.",
		}, []string{"result"}),
	}
}
