// Package metrics holds the Prometheus collectors shared by the storage,
// library and streaming packages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stream modes used as label values.
const (
	ModeDirect    = "direct"
	ModeTranscode = "transcode"
)

var (
	// ActiveStreams tracks in-flight playback pipelines.
	ActiveStreams = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "showtime_active_streams",
		Help: "Current number of active playback streams, by mode.",
	}, []string{"mode"})

	StreamBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "showtime_stream_bytes_total",
		Help: "Bytes written to playback clients, by mode.",
	}, []string{"mode"})

	TranscodeFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "showtime_transcode_failures_total",
		Help: "Transcoder processes that failed to start or exited non-zero, by stage.",
	}, []string{"stage"})

	IndexRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "showtime_index_runs_total",
		Help: "Library indexing runs, by result.",
	}, []string{"result"})

	IndexedFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "showtime_indexed_files_total",
		Help: "Files reconciled during indexing, by outcome (indexed/size_updated/skipped/failed/removed).",
	}, []string{"outcome"})

	ProviderLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "showtime_metadata_lookups_total",
		Help: "Metadata resolution attempts, by source and result.",
	}, []string{"source", "result"})

	AdapterConnectFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "showtime_adapter_connect_failures_total",
		Help: "Failed storage adapter connections, by storage type.",
	}, []string{"type"})
)
