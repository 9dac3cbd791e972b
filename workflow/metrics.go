package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cycle outcomes recorded on the cycles counter.
const (
	OutcomeSaved           = "saved"
	OutcomeConverged       = "converged"
	OutcomeGenerationError = "generation_error"
	OutcomeSaveError       = "save_error"
)

// Metrics holds the controller's Prometheus collectors.
type Metrics struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	fetches       *prometheus.CounterVec
	symbols       prometheus.Gauge
	questions     prometheus.Gauge
}

// NewMetrics registers the controller collectors on reg. A nil reg
// creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mia_cycles_total",
			Help: "Refinement cycles by outcome",
		}, []string{"outcome"}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mia_cycle_duration_seconds",
			Help:    "Wall time of one refinement cycle",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mia_source_fetches_total",
			Help: "Web source fetches by result (ok or the failure kind)",
		}, []string{"result"}),
		symbols: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mia_roadmap_symbols",
			Help: "Focus symbols in the last saved roadmap",
		}),
		questions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mia_roadmap_open_questions",
			Help: "Open questions in the last saved roadmap",
		}),
	}
}

func (m *Metrics) observeCycle(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(seconds)
}

func (m *Metrics) observeFetch(result string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(result).Inc()
}

func (m *Metrics) observeRoadmap(symbols, questions int) {
	if m == nil {
		return
	}
	m.symbols.Set(float64(symbols))
	m.questions.Set(float64(questions))
}
