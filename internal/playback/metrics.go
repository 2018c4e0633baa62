package playback

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shehryarbajwa/watchparty/pkg/models"
)

// Metrics are the queue's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	queueDepth   prometheus.Gauge
	enqueued     prometheus.Counter
	plays        *prometheus.CounterVec
	playDuration *prometheus.HistogramVec
	probeErrors  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "watchparty_queue_depth",
			Help: "Number of playback requests waiting in the queue",
		}),

		enqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "watchparty_requests_enqueued_total",
			Help: "Total number of playback requests accepted",
		}),

		plays: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "watchparty_plays_total",
			Help: "Dequeued playback requests by source and result",
		}, []string{"source", "result"}),

		playDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "watchparty_play_duration_seconds",
			Help:    "Time taken to get a video on screen",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"source"}),

		probeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "watchparty_probe_errors_total",
			Help: "Total number of failed playback state probes",
		}),
	}
}

func (m *Metrics) setDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) recordEnqueue() {
	if m == nil {
		return
	}
	m.enqueued.Inc()
}

func (m *Metrics) recordPlay(entry models.HistoryEntry) {
	if m == nil {
		return
	}
	m.plays.WithLabelValues(entry.Source, string(entry.Result)).Inc()
	m.playDuration.WithLabelValues(entry.Source).Observe(entry.FinishedAt.Sub(entry.StartedAt).Seconds())
}

func (m *Metrics) recordProbeError() {
	if m == nil {
		return
	}
	m.probeErrors.Inc()
}

