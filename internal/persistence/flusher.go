package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"graphstore/internal/persistence/core"
	"graphstore/pkg/graph"
)

const conflictSet = "type_name = excluded.type_name, key_kind = excluded.key_kind, primary_key = excluded.primary_key, payload = excluded.payload"

var (
	columnList    = strings.Join(core.ObjectColumns, ", ")
	upsertObject  = "INSERT INTO " + ObjectsTable + " (" + columnList + ") VALUES (?, ?, ?, ?, ?) ON CONFLICT (proxy_id) DO UPDATE SET " + conflictSet
	deleteObject  = "DELETE FROM " + ObjectsTable + " WHERE proxy_id = ?"
	selectObjects = "SELECT " + columnList + " FROM " + ObjectsTable + " ORDER BY proxy_id"
)

// FlushStats counts the rows written by one flush.
type FlushStats struct {
	Upserts int
	Deletes int
}

// Flusher writes committed actions to the objects table. Inserts and updates
// store the object's state at commit time; deletes drop the row. Placeholder
// actions are skipped.
type Flusher struct {
	exec   Executor
	logger *slog.Logger
}

// FlusherOption configures a Flusher.
type FlusherOption func(*Flusher)

// WithLogger routes flusher logs to l.
func WithLogger(l *slog.Logger) FlusherOption {
	return func(f *Flusher) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFlusher returns a flusher writing through exec.
func NewFlusher(exec Executor, opts ...FlusherOption) *Flusher {
	f := &Flusher{exec: exec, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register enlists the flusher in outermost commits of s. Rows are written
// in a database transaction that commits only after every participant has
// prepared; a failure anywhere rolls both sides back.
func (f *Flusher) Register(s *graph.Store) {
	s.Enlist(f)
}

// Prepare writes the committed actions inside an open database transaction
// and returns it pending.
func (f *Flusher) Prepare(ctx context.Context, log graph.CommitLog) (graph.PendingCommit, error) {
	if len(log.Actions) == 0 {
		return graph.NopPending{}, nil
	}
	tx, stats, err := f.write(ctx, log.Actions)
	if err != nil {
		return nil, err
	}
	return &pendingFlush{tx: tx, stats: stats, txID: log.TxID.String(), logger: f.logger}, nil
}

// Flush writes actions in one database transaction and commits it.
func (f *Flusher) Flush(ctx context.Context, actions []*graph.Action) (FlushStats, error) {
	if len(actions) == 0 {
		return FlushStats{}, nil
	}
	tx, stats, err := f.write(ctx, actions)
	if err != nil {
		return FlushStats{}, err
	}
	if err := tx.Commit(); err != nil {
		return FlushStats{}, err
	}
	return stats, nil
}

func (f *Flusher) write(ctx context.Context, actions []*graph.Action) (Tx, FlushStats, error) {
	tx, err := f.exec.Begin(ctx)
	if err != nil {
		return nil, FlushStats{}, err
	}
	stats, err := writeRows(ctx, tx, actions)
	if err != nil {
		return nil, FlushStats{}, errors.Join(err, tx.Rollback())
	}
	return tx, stats, nil
}

func writeRows(ctx context.Context, ex Executor, actions []*graph.Action) (FlushStats, error) {
	w := &rowWriter{ctx: ctx}
	var err error
	if w.upsert, err = ex.Prepare(ctx, upsertObject); err != nil {
		return FlushStats{}, fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = w.upsert.Close() }()
	if w.delete, err = ex.Prepare(ctx, deleteObject); err != nil {
		return FlushStats{}, fmt.Errorf("prepare delete: %w", err)
	}
	defer func() { _ = w.delete.Close() }()
	for _, a := range actions {
		if a.Placeholder() {
			continue
		}
		if err := a.Accept(w); err != nil {
			return FlushStats{}, fmt.Errorf("flush %s: %w", a, err)
		}
	}
	return w.stats, nil
}

// pendingFlush holds a written but uncommitted flush.
type pendingFlush struct {
	tx     Tx
	stats  FlushStats
	txID   string
	logger *slog.Logger
}

func (p *pendingFlush) Commit(context.Context) error {
	if err := p.tx.Commit(); err != nil {
		return err
	}
	p.logger.Debug("transaction flushed", "tx", p.txID, "upserts", p.stats.Upserts, "deletes", p.stats.Deletes)
	return nil
}

func (p *pendingFlush) Abort(context.Context) error {
	return p.tx.Rollback()
}

// rowWriter turns actions into statements.
type rowWriter struct {
	ctx    context.Context
	upsert Statement
	delete Statement
	stats  FlushStats
}

func (w *rowWriter) VisitInsert(a *graph.Action) error { return w.write(a) }
func (w *rowWriter) VisitUpdate(a *graph.Action) error { return w.write(a) }

func (w *rowWriter) write(a *graph.Action) error {
	p := a.Proxy()
	if p == nil || !p.IsLoaded() {
		return nil
	}
	payload, err := EncodePayload(p.Object())
	if err != nil {
		return err
	}
	key := p.Key()
	var pk any
	if !key.IsNull() {
		pk = key.String()
	}
	if _, err := w.upsert.Execute(w.ctx, int64(p.ID()), p.TypeName(), key.Kind().String(), pk, string(payload)); err != nil {
		return err
	}
	w.stats.Upserts++
	return nil
}

func (w *rowWriter) VisitDelete(a *graph.Action) error {
	if _, err := w.delete.Execute(w.ctx, int64(a.ProxyID())); err != nil {
		return err
	}
	w.stats.Deletes++
	return nil
}
