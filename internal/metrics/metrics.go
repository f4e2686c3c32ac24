// Package metrics exposes enrichment counters and tracker state to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/heimdex/heimdex-tagger/internal/enrich"
)

var trackerIDsDesc = prometheus.NewDesc(
	"tagger_enrichment_tracker_ids",
	"Number of tracked video ids by enrichment state",
	[]string{"state"},
	nil,
)

// TrackerCollector reads the tracker on each scrape.
type TrackerCollector struct {
	tracker *enrich.Tracker
}

// Describe sends the metric descriptor to the channel.
func (c *TrackerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- trackerIDsDesc
}

// Collect emits one gauge per tracker state.
func (c *TrackerCollector) Collect(ch chan<- prometheus.Metric) {
	for state, n := range c.tracker.Snapshot() {
		ch <- prometheus.MustNewConstMetric(
			trackerIDsDesc,
			prometheus.GaugeValue,
			float64(n),
			string(state),
		)
	}
}

// Metrics owns a registry with the enrichment metrics. It implements
// enrich.Observer.
type Metrics struct {
	registry *prometheus.Registry
	videos   *prometheus.CounterVec
	batches  *prometheus.CounterVec
	duration prometheus.Histogram
}

var _ enrich.Observer = (*Metrics)(nil)

// New registers the enrichment metrics and a collector for tracker.
func New(tracker *enrich.Tracker) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		videos: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagger_enrichment_videos_total",
			Help: "Per-video enrichment attempts by outcome",
		}, []string{"outcome"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagger_enrichment_batches_total",
			Help: "Enrichment batches by result",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tagger_enrichment_video_duration_seconds",
			Help:    "Time spent enriching one video",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}

	m.registry.MustRegister(
		m.videos,
		m.batches,
		m.duration,
		&TrackerCollector{tracker: tracker},
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveVideo(outcome string, d time.Duration) {
	m.videos.WithLabelValues(outcome).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) ObserveBatch(result string) {
	m.batches.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
