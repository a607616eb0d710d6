package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics records the engine's submission and acquirer activity.
type GatewayMetrics struct {
	submissions    *prometheus.CounterVec
	acquirerCalls  *prometheus.HistogramVec
	inquiryRetries *prometheus.CounterVec
	reconciliation prometheus.Counter
	idempotentHits prometheus.Counter
}

// NewGatewayMetrics registers the gateway metrics on the provided registerer.
func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	if reg == nil {
		return &GatewayMetrics{}
	}
	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_submissions_total",
		Help: "Submitted requests by kind and terminal status.",
	}, []string{"kind", "status"})
	acquirerCalls := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "acquirer_call_duration_seconds",
		Help:    "Duration of acquirer calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})
	inquiryRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acquirer_inquiry_retries_total",
		Help: "Status inquiries issued after ambiguous acquirer outcomes.",
	}, []string{"kind"})
	reconciliation := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconciliation_required_total",
		Help: "Transactions surfaced for manual reconciliation.",
	})
	idempotentHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idempotent_replays_total",
		Help: "Requests answered from the idempotency store without processing.",
	})
	reg.MustRegister(submissions, acquirerCalls, inquiryRetries, reconciliation, idempotentHits)
	return &GatewayMetrics{
		submissions:    submissions,
		acquirerCalls:  acquirerCalls,
		inquiryRetries: inquiryRetries,
		reconciliation: reconciliation,
		idempotentHits: idempotentHits,
	}
}

// IncSubmission counts a finished submission.
func (g *GatewayMetrics) IncSubmission(kind, status string) {
	if g == nil || g.submissions == nil {
		return
	}
	g.submissions.WithLabelValues(normalizeLabel(kind), normalizeLabel(status)).Inc()
}

// ObserveAcquirerCall records the latency of one acquirer round trip.
func (g *GatewayMetrics) ObserveAcquirerCall(operation, outcome string, duration time.Duration) {
	if g == nil || g.acquirerCalls == nil {
		return
	}
	g.acquirerCalls.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Observe(duration.Seconds())
}

// IncInquiryRetry counts one status inquiry attempt.
func (g *GatewayMetrics) IncInquiryRetry(kind string) {
	if g == nil || g.inquiryRetries == nil {
		return
	}
	g.inquiryRetries.WithLabelValues(normalizeLabel(kind)).Inc()
}

// IncReconciliationRequired counts a transaction left for manual reconciliation.
func (g *GatewayMetrics) IncReconciliationRequired() {
	if g == nil || g.reconciliation == nil {
		return
	}
	g.reconciliation.Inc()
}

// IncIdempotentReplay counts a request served from the idempotency cache.
func (g *GatewayMetrics) IncIdempotentReplay() {
	if g == nil || g.idempotentHits == nil {
		return
	}
	g.idempotentHits.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
