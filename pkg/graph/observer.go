package graph

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Outcome describes how a transaction ended.
type Outcome string

const (
	OutcomeCommitted  Outcome = "committed"
	OutcomeRolledBack Outcome = "rolled_back"
	// OutcomeFailed marks a commit that turned into a rollback because a
	// backup or a commit participant failed.
	OutcomeFailed Outcome = "failed"
)

// TransactionReport summarizes a finished transaction for observers.
type TransactionReport struct {
	ID          uuid.UUID
	Outcome     Outcome
	Nested      bool
	Inserts     int
	Updates     int
	Deletes     int
	BufferBytes int
	Duration    time.Duration
}

// Actions returns the total number of logged actions.
func (r TransactionReport) Actions() int { return r.Inserts + r.Updates + r.Deletes }

// TransactionObserver is notified once per finished transaction.
type TransactionObserver interface {
	ObserveTransaction(r TransactionReport)
}

// CommitLog is handed to commit participants when an outermost transaction
// commits. Insert and update actions expose the live proxy; delete actions
// expose type, id and key only.
type CommitLog struct {
	TxID        uuid.UUID
	CommittedAt time.Time
	Actions     []*Action
	Store       *Store
}

// CommitListener runs during an outermost commit, after the in-memory graph
// accepted the change. Returning an error rolls the transaction back.
type CommitListener func(ctx context.Context, log CommitLog) error

// CommitParticipant takes part in outermost commits in two phases. Prepare
// runs for every participant in enlistment order and does the work that may
// fail, leaving it pending. When all participants prepared, the pending
// results are committed in the same order. If a Prepare or a Commit fails,
// every other pending result is aborted, newest first, and the in-memory
// transaction is rolled back. Abort after a successful Commit undoes what it
// still can.
type CommitParticipant interface {
	Prepare(ctx context.Context, log CommitLog) (PendingCommit, error)
}

// PendingCommit is the prepared work of one participant.
type PendingCommit interface {
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}

// NopPending is a PendingCommit with nothing left to do.
type NopPending struct{}

func (NopPending) Commit(context.Context) error { return nil }
func (NopPending) Abort(context.Context) error  { return nil }

type listenerParticipant CommitListener

func (l listenerParticipant) Prepare(ctx context.Context, log CommitLog) (PendingCommit, error) {
	if err := l(ctx, log); err != nil {
		return nil, err
	}
	return NopPending{}, nil
}
