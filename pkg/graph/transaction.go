package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"graphstore/internal/buffer"
)

// TxState is the lifecycle state of a Transaction.
type TxState uint8

const (
	TxIdle TxState = iota
	TxActive
)

func (s TxState) String() string {
	if s == TxActive {
		return "active"
	}
	return "idle"
}

// Transaction is an undo log over a store. While it is the current
// transaction every insert, update and delete is recorded together with a
// snapshot of the object's prior state, so that Rollback can replay the log
// in reverse and restore the graph exactly.
//
// Transactions nest: beginning a transaction while another is current pushes
// it on the store's stack. Committing a nested transaction folds its actions
// into the enclosing one; rolling it back undoes only its own actions.
type Transaction struct {
	id      uuid.UUID
	store   *Store
	state   TxState
	parent  *Transaction
	actions []*Action
	index   map[uint64]*Action
	buf     *buffer.Buffer
	seqMark uint64
	started time.Time
	failed  error
	// undoing is set while rollback replays the log; placeholders created
	// by restores are not logged then.
	undoing bool
}

// NewTransaction returns an idle transaction bound to s.
func (s *Store) NewTransaction() *Transaction {
	return &Transaction{
		store: s,
		index: make(map[uint64]*Action),
		buf:   buffer.New(s.bufferOpts...),
	}
}

// Begin starts a new transaction and makes it current.
func (s *Store) Begin() *Transaction {
	tx := s.NewTransaction()
	tx.Begin()
	return tx
}

// Begin makes tx the current transaction of its store.
func (tx *Transaction) Begin() {
	if tx.state == TxActive {
		mustApply("begin", fmt.Errorf("%w: %s already active", ErrTransactionActive, tx.id))
	}
	s := tx.store
	tx.id = uuid.New()
	tx.parent = s.Current()
	tx.seqMark = s.seq.Current()
	tx.started = s.nowFn()
	tx.state = TxActive
	s.PushTransaction(tx)
	s.logger.Debug("transaction begin", "tx", tx.id, "depth", len(s.stack))
}

// ID returns the id assigned at Begin.
func (tx *Transaction) ID() uuid.UUID { return tx.id }

// State returns the lifecycle state.
func (tx *Transaction) State() TxState { return tx.state }

// Nested reports whether tx runs inside another transaction.
func (tx *Transaction) Nested() bool { return tx.parent != nil }

// Len returns the number of logged actions.
func (tx *Transaction) Len() int { return len(tx.actions) }

// Actions returns the logged actions in order.
func (tx *Transaction) Actions() []*Action { return append([]*Action(nil), tx.actions...) }

// Err returns the backup failure that doomed the transaction, if any.
func (tx *Transaction) Err() error { return tx.failed }

func (tx *Transaction) mustBeCurrent(op string) {
	if tx.state != TxActive || tx.store.Current() != tx {
		mustApply(op, fmt.Errorf("%w: transaction %s", ErrNotCurrent, tx.id))
	}
}

// Commit accepts the logged changes. A nested transaction hands its log to
// the enclosing one; the outermost transaction runs the store's commit
// participants and discards the log. If a backup failed earlier, or a
// participant fails, the transaction is rolled back and an error is returned.
func (tx *Transaction) Commit(ctx context.Context) error {
	tx.mustBeCurrent("commit")
	if tx.failed != nil {
		cause := tx.failed
		rbErr := tx.rollback(OutcomeFailed)
		return errors.Join(fmt.Errorf("%w: %w", ErrTransactionFailed, cause), rbErr)
	}
	tx.reindex()
	if tx.parent != nil {
		if err := tx.parent.absorb(tx); err != nil {
			rbErr := tx.rollback(OutcomeFailed)
			return errors.Join(fmt.Errorf("%w: merge into %s: %w", ErrTransactionFailed, tx.parent.id, err), rbErr)
		}
		tx.finish(OutcomeCommitted)
		return nil
	}
	if err := tx.runParticipants(ctx); err != nil {
		rbErr := tx.rollback(OutcomeFailed)
		return errors.Join(fmt.Errorf("%w: commit participant: %w", ErrTransactionFailed, err), rbErr)
	}
	tx.finish(OutcomeCommitted)
	return nil
}

// runParticipants prepares every enlisted participant, then commits the
// pending results. On failure the other pending results are aborted.
func (tx *Transaction) runParticipants(ctx context.Context) error {
	enlisted := tx.store.enlisted
	if len(enlisted) == 0 {
		return nil
	}
	log := CommitLog{TxID: tx.id, CommittedAt: tx.store.nowFn(), Actions: tx.Actions(), Store: tx.store}
	pending := make([]PendingCommit, 0, len(enlisted))
	abort := func(skip int) error {
		var errs []error
		for i := len(pending) - 1; i >= 0; i-- {
			if i == skip {
				continue
			}
			if err := pending[i].Abort(ctx); err != nil {
				errs = append(errs, fmt.Errorf("abort: %w", err))
			}
		}
		return errors.Join(errs...)
	}
	for _, p := range enlisted {
		pc, err := p.Prepare(ctx, log)
		if err != nil {
			return errors.Join(err, abort(-1))
		}
		pending = append(pending, pc)
	}
	for i, pc := range pending {
		if err := pc.Commit(ctx); err != nil {
			return errors.Join(err, abort(i))
		}
	}
	return nil
}

// reindex refreshes the key index of every live object in the log, since
// keys may change after an update was recorded.
func (tx *Transaction) reindex() {
	for _, a := range tx.actions {
		if p := a.Proxy(); p != nil && p.node != nil {
			p.node.index(p)
		}
	}
}

// Rollback undoes every logged action, newest first, and restores the id
// sequencer. Errors from individual undo steps are joined; the remaining
// steps still run.
func (tx *Transaction) Rollback() error {
	tx.mustBeCurrent("rollback")
	return tx.rollback(OutcomeRolledBack)
}

func (tx *Transaction) rollback(outcome Outcome) error {
	tx.undoing = true
	v := rollbackVisitor{tx: tx}
	var errs []error
	for i := len(tx.actions) - 1; i >= 0; i-- {
		if err := tx.actions[i].Accept(v); err != nil {
			errs = append(errs, err)
		}
	}
	tx.store.seq.Reset(tx.seqMark)
	err := errors.Join(errs...)
	if err != nil {
		tx.store.logger.Error("rollback incomplete", "tx", tx.id, "error", err)
	}
	tx.finish(outcome)
	return err
}

func (tx *Transaction) finish(outcome Outcome) {
	s := tx.store
	s.PopTransaction()
	report := TransactionReport{
		ID:          tx.id,
		Outcome:     outcome,
		Nested:      tx.parent != nil,
		BufferBytes: tx.buf.Len(),
		Duration:    s.nowFn().Sub(tx.started),
	}
	for _, a := range tx.actions {
		switch a.kind {
		case ActionInsert:
			report.Inserts++
		case ActionUpdate:
			report.Updates++
		case ActionDelete:
			report.Deletes++
		}
	}
	for _, o := range s.observers {
		o.ObserveTransaction(report)
	}
	level := slog.LevelDebug
	if outcome != OutcomeCommitted {
		level = slog.LevelInfo
	}
	s.logger.Log(context.Background(), level, "transaction "+string(outcome),
		"tx", tx.id, "nested", report.Nested, "actions", report.Actions(), "buffer_bytes", report.BufferBytes)

	tx.actions = nil
	clear(tx.index)
	tx.buf.Clear()
	tx.parent = nil
	tx.failed = nil
	tx.undoing = false
	tx.state = TxIdle
}

func (tx *Transaction) append(a *Action) {
	tx.actions = append(tx.actions, a)
	tx.index[a.id] = a
}

func (tx *Transaction) drop(a *Action) {
	for i, cur := range tx.actions {
		if cur == a {
			tx.actions = append(tx.actions[:i], tx.actions[i+1:]...)
			break
		}
	}
	delete(tx.index, a.id)
}

func (tx *Transaction) fail(err error) error {
	if tx.failed == nil {
		tx.failed = err
	}
	tx.store.logger.Warn("transaction backup failed", "tx", tx.id, "error", err)
	return fmt.Errorf("%w: %w", ErrTransactionFailed, err)
}

func (tx *Transaction) onInsert(p *Proxy) {
	tx.append(&Action{kind: ActionInsert, id: p.id, typeName: p.TypeName(), proxy: p})
}

// onPlaceholder logs the creation of an empty proxy so rollback drops it.
func (tx *Transaction) onPlaceholder(p *Proxy) {
	tx.append(&Action{kind: ActionInsert, id: p.id, typeName: p.TypeName(), proxy: p, placeholder: true})
}

// onUpdate snapshots p unless the transaction already holds its prior state.
func (tx *Transaction) onUpdate(p *Proxy) error {
	if _, ok := tx.index[p.id]; ok {
		return nil
	}
	span, err := tx.store.serializer.Backup(tx.buf, p.obj)
	if err != nil {
		return tx.fail(err)
	}
	tx.append(&Action{kind: ActionUpdate, id: p.id, typeName: p.TypeName(), key: p.pk.Clone(), proxy: p, span: span})
	return nil
}

// onDelete records the removal of ps. Snapshots are encoded up front and
// appended in a single write, so a full buffer leaves the log unchanged.
func (tx *Transaction) onDelete(ps []*Proxy) error {
	var blob []byte
	spans := make([]buffer.Span, len(ps))
	for i, p := range ps {
		spans[i].Offset = -1
		if _, ok := tx.index[p.id]; ok || p.obj == nil {
			continue
		}
		data, err := tx.store.serializer.Encode(p.obj)
		if err != nil {
			return tx.fail(err)
		}
		spans[i] = buffer.Span{Offset: int64(len(blob)), Len: len(data)}
		blob = append(blob, data...)
	}
	base, err := tx.buf.Append(blob)
	if err != nil {
		return tx.fail(err)
	}
	for i, p := range ps {
		a := &Action{kind: ActionDelete, id: p.id, typeName: p.TypeName(), key: p.pk.Clone()}
		switch {
		case spans[i].Offset >= 0:
			a.span = buffer.Span{Offset: base.Offset + spans[i].Offset, Len: spans[i].Len}
		case p.obj == nil:
			a.placeholder = true
		}
		tx.recordDelete(a)
	}
	return nil
}

// recordDelete logs a, folding it into an earlier action on the same object:
// an insert cancels out, an update hands over its snapshot.
func (tx *Transaction) recordDelete(a *Action) {
	prior, ok := tx.index[a.id]
	if !ok {
		tx.append(a)
		return
	}
	switch prior.kind {
	case ActionInsert:
		tx.drop(prior)
	case ActionUpdate:
		tx.drop(prior)
		a.span = prior.span
		a.key = prior.key
		tx.append(a)
	}
}

// absorb folds the log of a committed child into tx. The snapshots tx still
// needs are copied into its buffer in one append; on error tx is unchanged.
func (tx *Transaction) absorb(child *Transaction) error {
	var blob []byte
	offsets := make(map[*Action]int)
	for _, a := range child.actions {
		if a.kind == ActionInsert || a.placeholder {
			continue
		}
		if _, ok := tx.index[a.id]; ok {
			continue
		}
		data, err := child.buf.Bytes(a.span)
		if err != nil {
			return fmt.Errorf("read snapshot of %s: %w", a, err)
		}
		offsets[a] = len(blob)
		blob = append(blob, data...)
	}
	base, err := tx.buf.Append(blob)
	if err != nil {
		return err
	}
	for _, a := range child.actions {
		moved := *a
		if off, ok := offsets[a]; ok {
			moved.span = buffer.Span{Offset: base.Offset + int64(off), Len: a.span.Len}
		}
		switch a.kind {
		case ActionInsert:
			tx.append(&moved)
		case ActionUpdate:
			if _, ok := tx.index[a.id]; !ok {
				tx.append(&moved)
			}
		case ActionDelete:
			tx.recordDelete(&moved)
		}
	}
	return nil
}
