package graph

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphstore/internal/buffer"
	"graphstore/pkg/identifier"
)

type recordingObserver struct {
	reports []TransactionReport
}

func (r *recordingObserver) ObserveTransaction(rep TransactionReport) {
	r.reports = append(r.reports, rep)
}

func requireSameState(t *testing.T, want, got map[uint64]proxyState) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("store state mismatch (-want +got):\n%s", diff)
	}
}

func TestOwnerItemRollbackScenario(t *testing.T) {
	s := newTestStore(t)
	o := &owner{ID: identifier.New[uint64](1), Name: "before"}
	op, err := s.Insert(o)
	require.NoError(t, err)
	require.Equal(t, uint64(1), op.ID())

	tx := s.Begin()
	it := &item{ID: identifier.New[uint64](2), Label: "new"}
	it.Owner.Set(op)
	ip, err := s.Insert(it)
	require.NoError(t, err)
	require.Equal(t, uint64(2), ip.ID())
	require.NoError(t, s.Update(op))
	o.Name = "after"
	o.Items.Add(ip)
	require.NoError(t, tx.Rollback())

	_, err = s.Find(2)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.FindByKey("item", identifier.New[uint64](2))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "before", o.Name)
	assert.Equal(t, 0, o.Items.Len())
	assert.Equal(t, 0, op.RefCount())
	assert.Equal(t, TxIdle, tx.State())
	assert.Nil(t, s.Current())
	assert.Equal(t, uint64(1), s.Sequencer().Current())
}

func TestRollbackIsPerfectUndo(t *testing.T) {
	s := newTestStore(t)
	keep, keepItems := insertOwner(t, s, "keep", "k1", "k2")
	gone, _ := insertOwner(t, s, "gone", "g1")
	before := dump(t, s)
	seq := s.Sequencer().Current()

	tx := s.Begin()
	fresh, _ := insertOwner(t, s, "fresh", "f1")
	require.NoError(t, s.Modify(keepItems[0], func(obj Object) error {
		obj.(*item).Qty = 10
		obj.(*item).Label = "k1*"
		return nil
	}))
	require.NoError(t, s.Modify(keep, func(obj Object) error {
		f1 := fresh.Object().(*owner).Items.Proxies()[0]
		obj.(*owner).Items.Remove(keepItems[1])
		obj.(*owner).Items.Add(f1)
		f1.Object().(*item).Owner.Set(keep)
		return nil
	}))
	require.NoError(t, s.Update(fresh))
	fresh.Object().(*owner).Items.Clear()
	require.NoError(t, s.Remove(keepItems[1]))
	require.NoError(t, s.Remove(gone))
	require.NoError(t, s.Remove(fresh))
	require.NoError(t, tx.Rollback())

	requireSameState(t, before, dump(t, s))
	assert.Equal(t, seq, s.Sequencer().Current())

	// Restored objects are fully wired again.
	var ids []uint64
	for _, p := range keep.Object().(*owner).Items.Proxies() {
		ids = append(ids, p.ID())
	}
	assert.Equal(t, []uint64{keepItems[0].ID(), keepItems[1].ID()}, ids)
	restored, err := s.Find(gone.ID())
	require.NoError(t, err)
	g := restored.Object().(*owner)
	require.Equal(t, 1, g.Items.Len())
	for _, child := range g.Items.All() {
		assert.Same(t, restored, child.Owner.Proxy())
	}
	got, err := s.FindByKey("owner", restored.Key())
	require.NoError(t, err)
	assert.Same(t, restored, got)
}

func TestCommitKeepsPostMutationState(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestStore(t, WithObserver(obs))
	op, items := insertOwner(t, s, "o", "a", "b")

	tx := s.Begin()
	require.NoError(t, s.Modify(items[0], func(obj Object) error {
		obj.(*item).Qty = 5
		return nil
	}))
	require.NoError(t, s.Modify(op, func(obj Object) error {
		obj.(*owner).Items.Remove(items[1])
		return nil
	}))
	require.NoError(t, s.Remove(items[1]))
	insertOwner(t, s, "p", "c")
	after := dump(t, s)
	require.NoError(t, tx.Commit(context.Background()))

	requireSameState(t, after, dump(t, s))
	assert.Equal(t, 0, tx.Len())
	assert.Nil(t, s.Current())
	require.Len(t, obs.reports, 1)
	rep := obs.reports[0]
	assert.Equal(t, OutcomeCommitted, rep.Outcome)
	assert.Equal(t, tx.ID(), rep.ID)
	assert.Equal(t, 2, rep.Inserts)
	assert.Equal(t, 2, rep.Updates)
	assert.Equal(t, 1, rep.Deletes)
	assert.False(t, rep.Nested)
}

func TestUpdateKeepsFirstSnapshot(t *testing.T) {
	s := newTestStore(t)
	op, _ := insertOwner(t, s, "v0")
	o := op.Object().(*owner)

	tx := s.Begin()
	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Update(op))
		o.Name = fmt.Sprintf("v%d", i)
	}
	assert.Equal(t, 1, tx.Len())
	require.NoError(t, tx.Rollback())
	assert.Equal(t, "v0", o.Name)
}

func TestUpdateCascadesToOwnedTargets(t *testing.T) {
	s := newTestStore(t)
	op, items := insertOwner(t, s, "o", "a")
	it := items[0].Object().(*item)

	tx := s.Begin()
	require.NoError(t, s.Update(op))
	assert.Equal(t, 2, tx.Len())
	it.Qty = 77
	require.NoError(t, tx.Rollback())
	assert.Equal(t, int64(1), it.Qty)
}

func TestInsertThenDeleteLeavesNoAction(t *testing.T) {
	s := newTestStore(t)
	before := dump(t, s)
	tx := s.Begin()
	op, _ := insertOwner(t, s, "temp", "x")
	require.NoError(t, s.Remove(op))
	assert.Equal(t, 0, tx.Len())
	require.NoError(t, tx.Rollback())
	requireSameState(t, before, dump(t, s))
}

func TestUpdateThenDeleteRestoresOriginal(t *testing.T) {
	s := newTestStore(t)
	op, _ := insertOwner(t, s, "original", "x")
	before := dump(t, s)

	tx := s.Begin()
	require.NoError(t, s.Modify(op, func(obj Object) error {
		obj.(*owner).Name = "edited"
		return nil
	}))
	require.NoError(t, s.Remove(op))
	kinds := []ActionKind{}
	for _, a := range tx.Actions() {
		kinds = append(kinds, a.Kind())
	}
	assert.Equal(t, []ActionKind{ActionDelete, ActionDelete}, kinds)
	require.NoError(t, tx.Rollback())

	requireSameState(t, before, dump(t, s))
	restored, err := s.Find(op.ID())
	require.NoError(t, err)
	assert.Equal(t, "original", restored.Object().(*owner).Name)
}

func TestNestedCommitMergesIntoParent(t *testing.T) {
	s := newTestStore(t)
	op, _ := insertOwner(t, s, "o", "a")
	o := op.Object().(*owner)
	before := dump(t, s)

	outer := s.Begin()
	require.NoError(t, s.Update(op))
	o.Score = 1

	inner := s.Begin()
	assert.True(t, inner.Nested())
	assert.Same(t, inner, s.Current())
	require.NoError(t, s.Update(op))
	o.Score = 2
	extra, _ := insertOwner(t, s, "extra")
	require.NoError(t, inner.Commit(context.Background()))

	assert.Same(t, outer, s.Current())
	assert.Equal(t, 3, outer.Len(), "owner and item updates plus the inner insert")
	assert.True(t, extra.Inserted())

	require.NoError(t, outer.Rollback())
	requireSameState(t, before, dump(t, s))
	assert.Equal(t, int64(0), o.Score)
	assert.False(t, extra.Inserted())
}

func TestNestedRollbackUndoesOnlyInner(t *testing.T) {
	s := newTestStore(t)
	op, _ := insertOwner(t, s, "o")
	o := op.Object().(*owner)

	outer := s.Begin()
	require.NoError(t, s.Update(op))
	o.Name = "outer"

	inner := s.Begin()
	require.NoError(t, s.Update(op))
	o.Name = "inner"
	tmp, _ := insertOwner(t, s, "tmp")
	require.NoError(t, inner.Rollback())

	assert.Equal(t, "outer", o.Name)
	assert.False(t, tmp.Inserted())
	assert.Same(t, outer, s.Current())
	require.NoError(t, outer.Commit(context.Background()))
	assert.Equal(t, "outer", o.Name)
}

func TestNestedDeleteOfParentInsertCancels(t *testing.T) {
	s := newTestStore(t)
	outer := s.Begin()
	op, _ := insertOwner(t, s, "o")
	inner := s.Begin()
	require.NoError(t, s.Remove(op))
	require.NoError(t, inner.Commit(context.Background()))
	assert.Equal(t, 0, outer.Len())
	require.NoError(t, outer.Rollback())
	assert.Equal(t, 0, s.Len())
}

func TestCommitOfNonCurrentTransactionPanics(t *testing.T) {
	s := newTestStore(t)
	outer := s.Begin()
	inner := s.Begin()

	err := recoverErr(t, func() { _ = outer.Commit(context.Background()) })
	assert.True(t, errors.Is(err, ErrNotCurrent))
	err = recoverErr(t, func() { _ = outer.Rollback() })
	assert.True(t, errors.Is(err, ErrNotCurrent))

	require.NoError(t, inner.Rollback())
	require.NoError(t, outer.Rollback())
	err = recoverErr(t, func() { _ = outer.Rollback() })
	assert.True(t, errors.Is(err, ErrNotCurrent), "idle transaction is not current")
}

func TestBeginTwicePanics(t *testing.T) {
	s := newTestStore(t)
	tx := s.Begin()
	err := recoverErr(t, func() { tx.Begin() })
	assert.True(t, errors.Is(err, ErrTransactionActive))
	require.NoError(t, tx.Rollback())

	tx.Begin()
	assert.Same(t, tx, s.Current())
	require.NoError(t, tx.Commit(context.Background()))
}

func TestBackupCapacityFailureRollsBack(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestStore(t, WithBufferOptions(buffer.WithLimit(48), buffer.WithChunkSize(16)), WithObserver(obs))
	small, _ := insertOwner(t, s, "s")
	big, _ := insertOwner(t, s, string(make([]byte, 64)))
	before := dump(t, s)

	tx := s.Begin()
	require.NoError(t, s.Update(small))
	small.Object().(*owner).Name = "changed"

	err := s.Update(big)
	assert.True(t, errors.Is(err, buffer.ErrCapacity))
	assert.True(t, errors.Is(err, ErrTransactionFailed))
	assert.Equal(t, 1, tx.Len(), "failed backup must not be logged")

	err = s.Remove(big)
	assert.True(t, errors.Is(err, buffer.ErrCapacity))
	assert.True(t, big.Inserted(), "remove without backup must not happen")

	err = tx.Commit(context.Background())
	assert.True(t, errors.Is(err, ErrTransactionFailed))
	assert.True(t, errors.Is(err, buffer.ErrCapacity))
	requireSameState(t, before, dump(t, s))
	require.Len(t, obs.reports, 1)
	assert.Equal(t, OutcomeFailed, obs.reports[0].Outcome)
}

func TestCommitListenerSeesActionsAndCanAbort(t *testing.T) {
	s := newTestStore(t)
	var seen []string
	fail := false
	s.OnCommit(func(_ context.Context, log CommitLog) error {
		seen = seen[:0]
		for _, a := range log.Actions {
			seen = append(seen, a.String())
		}
		if fail {
			return errBoom
		}
		return nil
	})

	tx := s.Begin()
	op, _ := insertOwner(t, s, "o", "a")
	require.NoError(t, tx.Commit(context.Background()))
	assert.Equal(t, []string{"insert owner#1", "insert item#2"}, seen)

	before := dump(t, s)
	fail = true
	tx = s.Begin()
	require.NoError(t, s.Modify(op, func(obj Object) error {
		obj.(*owner).Name = "doomed"
		return nil
	}))
	err := tx.Commit(context.Background())
	assert.True(t, errors.Is(err, errBoom))
	assert.True(t, errors.Is(err, ErrTransactionFailed))
	assert.Equal(t, []string{"update owner#1", "update item#2"}, seen)
	requireSameState(t, before, dump(t, s))
}

func TestDeleteActionExposesKeyNotProxy(t *testing.T) {
	s := newTestStore(t)
	op, err := s.Insert(&owner{ID: identifier.New("k")})
	require.NoError(t, err)
	tx := s.Begin()
	require.NoError(t, s.Remove(op))
	acts := tx.Actions()
	require.Len(t, acts, 1)
	assert.Nil(t, acts[0].Proxy())
	assert.Equal(t, "k", acts[0].Key().String())
	assert.Equal(t, "owner", acts[0].TypeName())
	assert.Equal(t, op.ID(), acts[0].ProxyID())
	require.NoError(t, tx.Rollback())
}

func TestRunInTransaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.RunInTransaction(ctx, func(*Transaction) error {
		insertOwner(t, s, "kept")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	err = s.RunInTransaction(ctx, func(*Transaction) error {
		insertOwner(t, s, "dropped")
		return errBoom
	})
	assert.True(t, errors.Is(err, errBoom))
	assert.Equal(t, 1, s.Len())

	assert.Panics(t, func() {
		_ = s.RunInTransaction(ctx, func(*Transaction) error {
			insertOwner(t, s, "panicked")
			panic("boom")
		})
	})
	assert.Equal(t, 1, s.Len())
	assert.Nil(t, s.Current())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = s.RunInTransaction(cancelled, func(*Transaction) error { return nil })
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRollbackRestoresPlaceholderRemoval(t *testing.T) {
	s := newTestStore(t)
	ph, err := s.Resolve("link", 30)
	require.NoError(t, err)
	tx := s.Begin()
	require.NoError(t, s.Remove(ph))
	_, err = s.Find(30)
	require.Error(t, err)
	require.NoError(t, tx.Rollback())
	got, err := s.Find(30)
	require.NoError(t, err)
	assert.False(t, got.IsLoaded())
	assert.Equal(t, "link", got.TypeName())
}

func TestEncodeFailureMarksTransactionFailed(t *testing.T) {
	s := newTestStore(t)
	_, err := Attach[failing](s, "failing")
	require.NoError(t, err)
	f := &failing{Note: "x"}
	fp, err := s.Insert(f)
	require.NoError(t, err)

	tx := s.Begin()
	f.Armed = true
	err = s.Update(fp)
	assert.True(t, errors.Is(err, errBoom))
	assert.True(t, errors.Is(tx.Err(), errBoom))
	f.Armed = false
	err = tx.Commit(context.Background())
	assert.True(t, errors.Is(err, ErrTransactionFailed))
}

func TestRollbackDropsPlaceholderResolvedInside(t *testing.T) {
	s := newTestStore(t)
	before := dump(t, s)

	tx := s.Begin()
	ph, err := s.Resolve("owner", 3)
	require.NoError(t, err)
	acts := tx.Actions()
	require.Len(t, acts, 1)
	assert.True(t, acts[0].Placeholder())
	assert.Equal(t, ActionInsert, acts[0].Kind())
	require.NoError(t, tx.Rollback())

	requireSameState(t, before, dump(t, s))
	assert.False(t, ph.Inserted())
	assert.Equal(t, uint64(0), s.Sequencer().Current())

	var third *Proxy
	for i := 0; i < 3; i++ {
		third, _ = insertOwner(t, s, fmt.Sprintf("o%d", i))
	}
	assert.Equal(t, uint64(3), third.ID())
	got, err := s.Find(3)
	require.NoError(t, err)
	assert.Same(t, third, got)
	n, ok := s.Registry().Node("owner")
	require.True(t, ok)
	assert.Equal(t, 3, n.Len())
	assert.Equal(t, 3, s.Len())
}

func TestPlaceholderResolvedInsideCommitSurvives(t *testing.T) {
	s := newTestStore(t)
	tx := s.Begin()
	_, err := s.Resolve("link", 7)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))

	ph, err := s.Find(7)
	require.NoError(t, err)
	assert.False(t, ph.IsLoaded())
	assert.Equal(t, uint64(7), s.Sequencer().Current())
}

func TestCommitReindexesChangedKeys(t *testing.T) {
	s := newTestStore(t)
	o := &owner{ID: identifier.New[int64](7), Name: "keyed"}
	op, err := s.Insert(o)
	require.NoError(t, err)

	tx := s.Begin()
	require.NoError(t, s.Update(op))
	identifier.Set(&o.ID, int64(8))
	require.NoError(t, tx.Commit(context.Background()))

	got, err := s.FindByKey("owner", identifier.New[int64](8))
	require.NoError(t, err)
	assert.Same(t, op, got)
	_, err = s.FindByKey("owner", identifier.New[int64](7))
	assert.True(t, errors.Is(err, ErrNotFound))

	outer := s.Begin()
	inner := s.Begin()
	require.NoError(t, s.Update(op))
	identifier.Set(&o.ID, int64(9))
	require.NoError(t, inner.Commit(context.Background()))
	got, err = s.FindByKey("owner", identifier.New[int64](9))
	require.NoError(t, err)
	assert.Same(t, op, got)

	require.NoError(t, outer.Rollback())
	got, err = s.FindByKey("owner", identifier.New[int64](8))
	require.NoError(t, err)
	assert.Same(t, op, got)
	_, err = s.FindByKey("owner", identifier.New[int64](9))
	assert.True(t, errors.Is(err, ErrNotFound))
}

// stagedParticipant records the phases it goes through.
type stagedParticipant struct {
	name       string
	events     *[]string
	prepareErr error
	commitErr  error
}

func (p *stagedParticipant) Prepare(context.Context, CommitLog) (PendingCommit, error) {
	if p.prepareErr != nil {
		return nil, p.prepareErr
	}
	*p.events = append(*p.events, p.name+" prepare")
	return p, nil
}

func (p *stagedParticipant) Commit(context.Context) error {
	if p.commitErr != nil {
		return p.commitErr
	}
	*p.events = append(*p.events, p.name+" commit")
	return nil
}

func (p *stagedParticipant) Abort(context.Context) error {
	*p.events = append(*p.events, p.name+" abort")
	return nil
}

func TestParticipantsCommitAfterAllPrepared(t *testing.T) {
	s := newTestStore(t)
	var events []string
	s.Enlist(&stagedParticipant{name: "db", events: &events})
	s.Enlist(&stagedParticipant{name: "archive", events: &events})

	require.NoError(t, s.RunInTransaction(context.Background(), func(*Transaction) error {
		insertOwner(t, s, "o")
		return nil
	}))
	assert.Equal(t, []string{"db prepare", "archive prepare", "db commit", "archive commit"}, events)
}

func TestFailedPrepareAbortsEarlierParticipants(t *testing.T) {
	s := newTestStore(t)
	var events []string
	s.Enlist(&stagedParticipant{name: "db", events: &events})
	s.Enlist(&stagedParticipant{name: "archive", events: &events, prepareErr: errBoom})
	before := dump(t, s)

	tx := s.Begin()
	insertOwner(t, s, "o", "a")
	err := tx.Commit(context.Background())
	assert.True(t, errors.Is(err, errBoom))
	assert.True(t, errors.Is(err, ErrTransactionFailed))
	assert.Equal(t, []string{"db prepare", "db abort"}, events)
	requireSameState(t, before, dump(t, s))
}

func TestFailedParticipantCommitAbortsTheOthers(t *testing.T) {
	s := newTestStore(t)
	var events []string
	s.Enlist(&stagedParticipant{name: "archive", events: &events})
	s.Enlist(&stagedParticipant{name: "db", events: &events, commitErr: errBoom})
	s.Enlist(&stagedParticipant{name: "audit", events: &events})

	tx := s.Begin()
	insertOwner(t, s, "o")
	err := tx.Commit(context.Background())
	assert.True(t, errors.Is(err, errBoom))
	assert.Equal(t, []string{
		"archive prepare", "db prepare", "audit prepare",
		"archive commit",
		"audit abort", "archive abort",
	}, events)
	assert.Equal(t, 0, s.Len())
}

func TestMutationsWithoutTransactionReachParticipants(t *testing.T) {
	s := newTestStore(t)
	obs := &recordingObserver{}
	s.observers = append(s.observers, obs)
	var seen [][]string
	s.OnCommit(func(_ context.Context, log CommitLog) error {
		var acts []string
		for _, a := range log.Actions {
			acts = append(acts, a.String())
		}
		seen = append(seen, acts)
		return nil
	})

	op, err := s.Insert(&owner{Name: "o"})
	require.NoError(t, err)
	require.NoError(t, s.Modify(op, func(obj Object) error {
		obj.(*owner).Name = "renamed"
		return nil
	}))
	lone, err := s.Insert(&link{Name: "lone"})
	require.NoError(t, err)
	require.NoError(t, s.Remove(op))

	assert.Equal(t, [][]string{
		{"insert owner#1"},
		{"update owner#1"},
		{"insert link#2"},
		{"delete owner#1"},
	}, seen)
	require.Len(t, obs.reports, 4)
	for _, r := range obs.reports {
		assert.Equal(t, OutcomeCommitted, r.Outcome)
	}
	assert.True(t, lone.Inserted())
	assert.Nil(t, s.Current())
}

func TestFailingParticipantUndoesMutationWithoutTransaction(t *testing.T) {
	s := newTestStore(t)
	op, _ := insertOwner(t, s, "kept")
	s.OnCommit(func(context.Context, CommitLog) error { return errBoom })

	p, err := s.Insert(&owner{Name: "lost"})
	assert.Nil(t, p)
	assert.True(t, errors.Is(err, errBoom))
	assert.True(t, errors.Is(err, ErrTransactionFailed))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, uint64(1), s.Sequencer().Current())

	err = s.Remove(op)
	assert.True(t, errors.Is(err, errBoom))
	got, err := s.Find(op.ID())
	require.NoError(t, err)
	assert.Equal(t, "kept", got.Object().(*owner).Name)
	assert.Nil(t, s.Current())
}
