package metrics

import (
	"expvar"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"graphstore/pkg/graph"
)

var expvarSeq atomic.Uint64

// Expvar publishes aggregate transaction counters via expvar.
type Expvar struct {
	name       string
	mu         sync.Mutex
	outcomes   map[string]int64
	actions    map[string]int64
	durationMS map[string]float64
}

var _ graph.TransactionObserver = (*Expvar)(nil)

// ExpvarSnapshot captures a read-only view of the recorded counters.
type ExpvarSnapshot struct {
	Outcomes    map[string]int64   `json:"transactions_total"`
	Actions     map[string]int64   `json:"actions_total"`
	DurationsMS map[string]float64 `json:"duration_ms_total"`
	RecordedAt  time.Time          `json:"recorded_at"`
}

// NewExpvar publishes a recorder under name. An empty name gets a unique
// generated one, since expvar panics on duplicate names.
func NewExpvar(name string) *Expvar {
	if name == "" {
		name = fmt.Sprintf("graphstore_transactions_%d", expvarSeq.Add(1))
	}
	e := &Expvar{
		name:       name,
		outcomes:   make(map[string]int64),
		actions:    make(map[string]int64),
		durationMS: make(map[string]float64),
	}
	expvar.Publish(name, expvar.Func(func() any { return e.Snapshot() }))
	return e
}

// Name returns the expvar export name.
func (e *Expvar) Name() string { return e.name }

// ObserveTransaction implements graph.TransactionObserver.
func (e *Expvar) ObserveTransaction(r graph.TransactionReport) {
	outcome := string(r.Outcome)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outcomes[outcome]++
	e.actions[graph.ActionInsert.String()] += int64(r.Inserts)
	e.actions[graph.ActionUpdate.String()] += int64(r.Updates)
	e.actions[graph.ActionDelete.String()] += int64(r.Deletes)
	e.durationMS[outcome] += float64(r.Duration) / float64(time.Millisecond)
}

// Snapshot returns a copy of the aggregated counters.
func (e *Expvar) Snapshot() ExpvarSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ExpvarSnapshot{
		Outcomes:    maps.Clone(e.outcomes),
		Actions:     maps.Clone(e.actions),
		DurationsMS: maps.Clone(e.durationMS),
		RecordedAt:  time.Now().UTC(),
	}
}
