package flow

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "flow"
)

// Metrics contains metrics exposed by this package. Every metric carries a
// "party" label; SalesAborted also carries "stage".
type Metrics struct {
	// Number of sales started.
	SalesStarted metrics.Counter
	// Number of sales committed.
	SalesCommitted metrics.Counter
	// Number of sales aborted, by stage.
	SalesAborted metrics.Counter
	// Time from opening counterparty sessions to the join barrier.
	NegotiationDuration metrics.Histogram
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// It registers with the default registry, so call it once per process.
func PrometheusMetrics(namespace string) *Metrics {
	return &Metrics{
		SalesStarted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "sales_started_total",
			Help:      "Number of sell stock flows started.",
		}, []string{"party"}),
		SalesCommitted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "sales_committed_total",
			Help:      "Number of sell stock flows that committed.",
		}, []string{"party"}),
		SalesAborted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "sales_aborted_total",
			Help:      "Number of sell stock flows aborted, by the stage that failed.",
		}, []string{"party", "stage"}),
		NegotiationDuration: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "negotiation_duration_seconds",
			Help:      "Time taken to collect every buyer's payment proposal.",
			Buckets:   stdprometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"party"}),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		SalesStarted:        discard.NewCounter(),
		SalesCommitted:      discard.NewCounter(),
		SalesAborted:        discard.NewCounter(),
		NegotiationDuration: discard.NewHistogram(),
	}
}
