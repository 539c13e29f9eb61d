// Package metrics holds the Prometheus collectors of the recorder engine.
// Labels are limited to the device id; segment names never become labels.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ExitRequested   = "requested"
	ExitUnsolicited = "unsolicited"

	PassEviction   = "eviction"
	PassThumbnails = "thumbnails"
)

var (
	RecorderStartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dvr_recorder_starts_total",
		Help: "Total number of recorder processes started, by device.",
	}, []string{"device"})

	RecorderExitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dvr_recorder_exits_total",
		Help: "Total number of recorder process exits, by device and cause.",
	}, []string{"device", "cause"})

	RecordingActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dvr_recording_active",
		Help: "1 while a recorder process is running for the device.",
	}, []string{"device"})

	RecordingsBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dvr_recordings_bytes",
		Help: "Bytes in the recordings directory at the last eviction pass.",
	}, []string{"device"})

	SegmentsEvictedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dvr_segments_evicted_total",
		Help: "Total number of segments deleted to stay under capacity.",
	}, []string{"device"})

	ThumbnailsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dvr_thumbnails_started_total",
		Help: "Total number of thumbnail sets whose generation was started.",
	}, []string{"device"})

	PassErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dvr_pass_errors_total",
		Help: "Total number of file-system errors met during passes, by device and pass.",
	}, []string{"device", "pass"})
)
