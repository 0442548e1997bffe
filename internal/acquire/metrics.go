package acquire

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics keeps run counters in their own registry, a batch job has no
// endpoint to scrape so they are written out for the textfile collector.
type Metrics struct {
	registry *prometheus.Registry
	outcomes *prometheus.CounterVec
	duration prometheus.Histogram
	messages prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hashdive_fetch_outcomes_total",
			Help: "Identifiers processed, by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hashdive_fetch_attempt_seconds",
			Help:    "Wall time of a single acquisition attempt",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		messages: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hashdive_fetch_messages",
			Help:    "Frames read per acquisition attempt",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200, 300},
		}),
	}
	for _, kind := range Kinds {
		m.outcomes.WithLabelValues(string(kind))
	}
	m.registry.MustRegister(m.outcomes, m.duration, m.messages)
	return m
}

func (m *Metrics) Observe(o Outcome) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(o.Kind)).Inc()
	if o.Kind == KindSkipped {
		return
	}
	m.duration.Observe(o.Duration.Seconds())
	m.messages.Observe(float64(o.Messages))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the metrics in the text exposition format, the file
// is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
