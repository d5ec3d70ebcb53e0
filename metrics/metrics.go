package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type EngineMetrics struct {
	SegmentsDownloaded prometheus.Counter
	SegmentRetries     prometheus.Counter
	SegmentFailures    prometheus.Counter
	PlaylistRefreshes  prometheus.Counter
	JobsCompleted      *prometheus.CounterVec
	JobDurationSec     prometheus.Histogram
	WaveDurationSec    prometheus.Histogram
}

func NewMetrics() *EngineMetrics {
	return &EngineMetrics{
		SegmentsDownloaded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "segments_downloaded_total",
			Help: "The total number of segments fetched, written and decrypted",
		}),
		SegmentRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "segment_retries_total",
			Help: "The total number of segment fetch retries after transport or origin errors",
		}),
		SegmentFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "segment_failures_total",
			Help: "The total number of segments that exhausted their retry budget in a wave",
		}),
		PlaylistRefreshes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "playlist_refreshes_total",
			Help: "The total number of playlist re-fetches triggered by URL rotation (HTTP 410)",
		}),
		JobsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "The total number of finished job drivers, broken up by final status",
		}, []string{"status"}),
		JobDurationSec: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Wall time of a whole job from playlist fetch to merge",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		WaveDurationSec: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "wave_duration_seconds",
			Help:    "Wall time of one bounded segment fan-out pass",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}),
	}
}

var Metrics = NewMetrics()
