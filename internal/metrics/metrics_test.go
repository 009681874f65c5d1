package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphstore/internal/sample"
	"graphstore/pkg/graph"
)

func runScenario(t *testing.T, obs ...graph.TransactionObserver) {
	t.Helper()
	opts := make([]graph.Option, 0, len(obs))
	for _, o := range obs {
		opts = append(opts, graph.WithObserver(o))
	}
	s := graph.New(opts...)
	require.NoError(t, sample.Register(s))
	_, err := sample.RunScenario(context.Background(), s, "grace")
	require.NoError(t, err)
}

func TestPrometheusCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus(reg)
	require.NoError(t, err)

	runScenario(t, p)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.transactions.WithLabelValues("rolled_back", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.transactions.WithLabelValues("committed", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.actions.WithLabelValues("insert", "committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.actions.WithLabelValues("insert", "rolled_back")))
	assert.Equal(t, 2, testutil.CollectAndCount(p.duration))

	_, err = NewPrometheus(reg)
	var already prometheus.AlreadyRegisteredError
	require.True(t, errors.As(err, &already), "second registration should collide, got %v", err)
}

func TestPrometheusFailedOutcome(t *testing.T) {
	p, err := NewPrometheus(nil)
	require.NoError(t, err)
	p.ObserveTransaction(graph.TransactionReport{Outcome: graph.OutcomeFailed, Nested: true, Deletes: 2, Duration: time.Millisecond})
	assert.Equal(t, 1.0, testutil.ToFloat64(p.transactions.WithLabelValues("failed", "true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.actions.WithLabelValues("delete", "failed")))
}

func TestExpvarPublishesSnapshot(t *testing.T) {
	e := NewExpvar("")
	runScenario(t, e)

	snap := e.Snapshot()
	assert.Equal(t, int64(1), snap.Outcomes["committed"])
	assert.Equal(t, int64(1), snap.Outcomes["rolled_back"])
	assert.Equal(t, int64(2), snap.Actions["insert"])

	v := expvar.Get(e.Name())
	require.NotNil(t, v)
	var decoded ExpvarSnapshot
	require.NoError(t, json.Unmarshal([]byte(v.String()), &decoded))
	assert.Equal(t, snap.Outcomes, decoded.Outcomes)

	other := NewExpvar("")
	assert.NotEqual(t, e.Name(), other.Name())
}
