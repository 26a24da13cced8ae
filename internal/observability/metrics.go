package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce        sync.Once
	submissionsTotal    *prometheus.CounterVec
	analysisTotal       *prometheus.CounterVec
	classifySeconds     *prometheus.HistogramVec
	evictionsTotal      prometheus.Counter
	imagesReapedTotal   *prometheus.CounterVec
	leaderboardTopScore prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used by the ingest path.
func RegisterMetrics() {
	registerOnce.Do(func() {
		submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grass",
			Name:      "submissions_total",
			Help:      "Submissions processed, by source and outcome.",
		}, []string{"source", "outcome"})

		analysisTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grass",
			Name:      "analysis_labels_total",
			Help:      "Grass analysis labels assigned to entries.",
		}, []string{"label"})

		classifySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "grass",
			Subsystem: "classifier",
			Name:      "duration_seconds",
			Help:      "Duration of image classification requests.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}, []string{"provider"})

		evictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grass",
			Subsystem: "leaderboard",
			Name:      "evictions_total",
			Help:      "Entries dropped from the leaderboard by the size cap.",
		})

		imagesReapedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grass",
			Subsystem: "reaper",
			Name:      "images_total",
			Help:      "Evicted entry images processed by the reaper.",
		}, []string{"outcome"})

		leaderboardTopScore = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "grass",
			Subsystem: "leaderboard",
			Name:      "top_score",
			Help:      "Score of the current first-ranked entry.",
		})

		prometheus.MustRegister(
			submissionsTotal,
			analysisTotal,
			classifySeconds,
			evictionsTotal,
			imagesReapedTotal,
			leaderboardTopScore,
		)
	})
}

// Submissions exposes the submission counter.
func Submissions() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsTotal
}

// AnalysisLabels exposes the counter of assigned grass labels.
func AnalysisLabels() *prometheus.CounterVec {
	RegisterMetrics()
	return analysisTotal
}

// ClassifyDuration exposes the classifier latency histogram.
func ClassifyDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return classifySeconds
}

// Evictions exposes the leaderboard eviction counter.
func Evictions() prometheus.Counter {
	RegisterMetrics()
	return evictionsTotal
}

// ImagesReaped exposes the reaper outcome counter.
func ImagesReaped() *prometheus.CounterVec {
	RegisterMetrics()
	return imagesReapedTotal
}

// TopScore exposes the gauge tracking the leading score.
func TopScore() prometheus.Gauge {
	RegisterMetrics()
	return leaderboardTopScore
}

// MetricsHandler exposes the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}
