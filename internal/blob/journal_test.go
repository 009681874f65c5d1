package blob

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"graphstore/internal/persistence"
	"graphstore/internal/sample"
	"graphstore/pkg/graph"
)

func newSampleStore(t *testing.T, opts ...graph.Option) *graph.Store {
	t.Helper()
	s := graph.New(opts...)
	if err := sample.Register(s); err != nil {
		t.Fatalf("register: %v", err)
	}
	return s
}

func find(e Entry, kind, typ string) (EntryAction, bool) {
	for _, a := range e.Actions {
		if a.Kind == kind && a.Type == typ {
			return a, true
		}
	}
	return EntryAction{}, false
}

func TestJournalArchivesCommittedTransactionsOnly(t *testing.T) {
	ctx := context.Background()
	s := newSampleStore(t)
	j := NewJournal(NewMemory())
	j.Register(s)

	res, err := sample.RunScenario(ctx, s, "ada")
	if err != nil {
		t.Fatalf("scenario: %v", err)
	}
	entries, err := j.Entries(ctx)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 archived commits, got %d", len(entries))
	}
	created, kept := entries[0], entries[1]
	if _, ok := find(created, "insert", sample.OwnerType); !ok {
		created, kept = kept, created
	}
	if first, ok := find(created, "insert", sample.OwnerType); !ok || first.ID != res.Owner.ID() {
		t.Fatalf("missing implicit owner insert: %+v", entries)
	}
	ins, ok := find(kept, "insert", sample.ItemType)
	if !ok || ins.ID != res.Kept.ID() {
		t.Fatalf("missing insert of kept item: %+v", kept.Actions)
	}
	upd, ok := find(kept, "update", sample.OwnerType)
	if !ok {
		t.Fatalf("missing owner update: %+v", kept.Actions)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(upd.Payload, &fields); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if string(fields["balance"]) != "75" {
		t.Fatalf("owner balance archived as %s, want 75", fields["balance"])
	}
	key, err := persistence.DecodeKey(upd.Key)
	if err != nil {
		t.Fatalf("decode key: %v", err)
	}
	if !key.Equal(res.Owner.Key()) {
		t.Fatalf("archived key %v, want %v", key, res.Owner.Key())
	}
	for _, e := range entries {
		for _, a := range e.Actions {
			if a.ID == res.RolledBackID {
				t.Fatalf("rolled back item %d was archived", a.ID)
			}
		}
	}
}

func TestJournalDeleteEntryHasKeyWithoutPayload(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	s := newSampleStore(t)
	NewJournal(store).Register(s)

	var p *graph.Proxy
	if err := s.RunInTransaction(ctx, func(*graph.Transaction) error {
		var err error
		p, err = s.Insert(&sample.Item{Label: "loose", Qty: 1})
		return err
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.RunInTransaction(ctx, func(*graph.Transaction) error { return s.Remove(p) }); err != nil {
		t.Fatalf("remove: %v", err)
	}
	entries, err := NewJournal(store).Entries(ctx)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	del, ok := find(entries[1], "delete", sample.ItemType)
	if !ok {
		t.Fatalf("missing delete action: %+v", entries[1].Actions)
	}
	if del.Payload != nil || len(del.Key) == 0 {
		t.Fatalf("delete entry should carry key only: %+v", del)
	}
}

func TestEntryKeyOrdersByCommitTime(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := newSampleStore(t, graph.WithClock(func() time.Time { return now }))
	store := NewMemory()
	NewJournal(store).Register(s)
	var want []string
	for i := 0; i < 2; i++ {
		tx := s.Begin()
		if _, err := s.Insert(&sample.Item{Label: "x"}); err != nil {
			t.Fatalf("insert: %v", err)
		}
		want = append(want, EntryKey(tx.ID(), now))
		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("commit: %v", err)
		}
		now = now.Add(time.Second)
	}
	infos, err := store.List(ctx, JournalPrefix)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(infos))
	}
	for i, info := range infos {
		if info.Key != want[i] {
			t.Fatalf("key %d = %q, want %q", i, info.Key, want[i])
		}
	}
	if !strings.HasPrefix(want[0], JournalPrefix+"1714564800000000000-") {
		t.Fatalf("key does not start with zero-padded nanos: %q", want[0])
	}
}

type failingStore struct{ Store }

var errArchive = errors.New("archive offline")

func (failingStore) Put(context.Context, string, io.Reader, PutOptions) (Info, error) {
	return Info{}, errArchive
}

func TestJournalFailureRollsBackCommit(t *testing.T) {
	ctx := context.Background()
	s := newSampleStore(t)
	NewJournal(failingStore{NewMemory()}).Register(s)

	var p *graph.Proxy
	err := s.RunInTransaction(ctx, func(*graph.Transaction) error {
		var err error
		p, err = s.Insert(&sample.Item{Label: "lost"})
		return err
	})
	if !errors.Is(err, errArchive) || !errors.Is(err, graph.ErrTransactionFailed) {
		t.Fatalf("expected archive failure, got %v", err)
	}
	if _, err := s.Find(p.ID()); !errors.Is(err, graph.ErrNotFound) {
		t.Fatalf("item survived failed archive: %v", err)
	}
}

func TestJournalBestEffortKeepsCommit(t *testing.T) {
	ctx := context.Background()
	s := newSampleStore(t)
	NewJournal(failingStore{NewMemory()}, WithBestEffort()).Register(s)

	var p *graph.Proxy
	if err := s.RunInTransaction(ctx, func(*graph.Transaction) error {
		var err error
		p, err = s.Insert(&sample.Item{Label: "kept"})
		return err
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := s.Find(p.ID()); err != nil {
		t.Fatalf("item missing after best-effort archive: %v", err)
	}
}

func TestJournalEntryWithdrawnWhenCommitAborts(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	s := newSampleStore(t)
	NewJournal(store).Register(s)
	s.OnCommit(func(context.Context, graph.CommitLog) error { return errArchive })

	err := s.RunInTransaction(ctx, func(*graph.Transaction) error {
		_, err := s.Insert(&sample.Item{Label: "doomed"})
		return err
	})
	if !errors.Is(err, errArchive) {
		t.Fatalf("expected later participant failure, got %v", err)
	}
	infos, err := store.List(ctx, JournalPrefix)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("aborted commit left %d entries", len(infos))
	}
}

func TestStrictJournalFailureKeepsRowsUnwritten(t *testing.T) {
	ctx := context.Background()
	exec, err := persistence.Open(ctx, persistence.Options{Driver: persistence.DriverMemory})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = exec.Close() }()
	s := newSampleStore(t)
	persistence.NewFlusher(exec).Register(s)
	NewJournal(failingStore{NewMemory()}).Register(s)

	err = s.RunInTransaction(ctx, func(*graph.Transaction) error {
		op, err := s.Insert(&sample.Owner{Name: "ada"})
		if err != nil {
			return err
		}
		_, err = sample.AddItem(s, op, "pen", 1)
		return err
	})
	if !errors.Is(err, errArchive) || !errors.Is(err, graph.ErrTransactionFailed) {
		t.Fatalf("expected archive failure, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("in-memory rollback left %d objects", s.Len())
	}
	rows, err := persistence.ListObjects(ctx, exec)
	if err != nil {
		t.Fatalf("list rows: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("storage kept %d rows of a rolled back commit", len(rows))
	}
}
