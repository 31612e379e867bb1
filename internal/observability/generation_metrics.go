package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// GenerationMetrics are the Prometheus collectors exposed on /metrics.
type GenerationMetrics struct {
	Registry *prometheus.Registry

	QuizzesGenerated   *prometheus.CounterVec
	ItemsAccepted      *prometheus.CounterVec
	ItemsRejected      *prometheus.CounterVec
	ItemsPadded        *prometheus.CounterVec
	OracleCalls        *prometheus.CounterVec
	OracleLatency      *prometheus.HistogramVec
	VerificationResult *prometheus.CounterVec
	SubmissionsGraded  prometheus.Counter
}

// NewGenerationMetrics registers every collector on a fresh registry so tests
// never collide with the default one.
func NewGenerationMetrics() *GenerationMetrics {
	reg := prometheus.NewRegistry()
	m := &GenerationMetrics{
		Registry: reg,
		QuizzesGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcqgen",
			Name:      "quizzes_generated_total",
			Help:      "Quizzes persisted, by mode.",
		}, []string{"mode"}),
		ItemsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcqgen",
			Name:      "items_accepted_total",
			Help:      "Generated items that passed every filter, by difficulty.",
		}, []string{"difficulty"}),
		ItemsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcqgen",
			Name:      "items_rejected_total",
			Help:      "Generated items dropped by a filter, by reason.",
		}, []string{"reason"}),
		ItemsPadded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcqgen",
			Name:      "items_padded_total",
			Help:      "Stored items sampled to fill a shortfall, by difficulty.",
		}, []string{"difficulty"}),
		OracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcqgen",
			Name:      "oracle_calls_total",
			Help:      "Completion oracle calls, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		OracleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mcqgen",
			Name:      "oracle_call_seconds",
			Help:      "Completion oracle call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"provider"}),
		VerificationResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcqgen",
			Name:      "verification_results_total",
			Help:      "Verification outcomes: confirmed, overridden or undetermined.",
		}, []string{"result"}),
		SubmissionsGraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcqgen",
			Name:      "submissions_graded_total",
			Help:      "Quiz attempts graded.",
		}),
	}
	reg.MustRegister(
		m.QuizzesGenerated,
		m.ItemsAccepted,
		m.ItemsRejected,
		m.ItemsPadded,
		m.OracleCalls,
		m.OracleLatency,
		m.VerificationResult,
		m.SubmissionsGraded,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}
