// Package metrics provides transaction observers for graph stores: a
// Prometheus collector for scraped deployments and an expvar recorder for
// process-local inspection.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"graphstore/pkg/graph"
)

const namespace = "graphstore"

// Prometheus counts finished transactions by outcome, logged actions by
// kind, and observes transaction duration and buffer size.
type Prometheus struct {
	transactions *prometheus.CounterVec
	actions      *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	bufferBytes  prometheus.Histogram
}

var _ graph.TransactionObserver = (*Prometheus)(nil)

// NewPrometheus builds the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Finished transactions by outcome and nesting.",
		}, []string{"outcome", "nested"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_actions_total",
			Help:      "Logged actions of finished transactions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_duration_seconds",
			Help:      "Time from begin to commit or rollback.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"outcome"}),
		bufferBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_buffer_bytes",
			Help:      "Snapshot bytes retained by a transaction when it finished.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{p.transactions, p.actions, p.duration, p.bufferBytes} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

// ObserveTransaction implements graph.TransactionObserver.
func (p *Prometheus) ObserveTransaction(r graph.TransactionReport) {
	outcome := string(r.Outcome)
	nested := "false"
	if r.Nested {
		nested = "true"
	}
	p.transactions.WithLabelValues(outcome, nested).Inc()
	p.actions.WithLabelValues(graph.ActionInsert.String(), outcome).Add(float64(r.Inserts))
	p.actions.WithLabelValues(graph.ActionUpdate.String(), outcome).Add(float64(r.Updates))
	p.actions.WithLabelValues(graph.ActionDelete.String(), outcome).Add(float64(r.Deletes))
	p.duration.WithLabelValues(outcome).Observe(r.Duration.Seconds())
	p.bufferBytes.Observe(float64(r.BufferBytes))
}
