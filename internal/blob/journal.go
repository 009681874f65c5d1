package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"graphstore/internal/persistence"
	"graphstore/pkg/graph"
)

// JournalPrefix is the key prefix of every journal entry.
const JournalPrefix = "journal/"

const journalContentType = "application/json"

// Entry is the archived form of one outermost commit.
type Entry struct {
	TxID        uuid.UUID     `json:"tx_id"`
	CommittedAt time.Time     `json:"committed_at"`
	Actions     []EntryAction `json:"actions"`
}

// EntryAction is one logged mutation. Payload holds the object state at
// commit time for inserts and updates and is absent for deletes.
type EntryAction struct {
	Kind    string          `json:"kind"`
	Type    string          `json:"type"`
	ID      uint64          `json:"id"`
	Key     json.RawMessage `json:"key"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Journal archives every commit of a store as an immutable JSON document.
type Journal struct {
	store      Store
	logger     *slog.Logger
	bestEffort bool
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithJournalLogger routes journal logs to l.
func WithJournalLogger(l *slog.Logger) JournalOption {
	return func(j *Journal) {
		if l != nil {
			j.logger = l
		}
	}
}

// WithBestEffort makes archive failures log a warning instead of rolling
// the commit back.
func WithBestEffort() JournalOption {
	return func(j *Journal) { j.bestEffort = true }
}

// NewJournal returns a journal writing to store.
func NewJournal(store Store, opts ...JournalOption) *Journal {
	j := &Journal{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Register enlists the journal in outermost commits of s. The entry is
// written while the commit prepares and deleted again if the commit aborts.
func (j *Journal) Register(s *graph.Store) {
	s.Enlist(j)
}

// Prepare archives the entry for log. In best-effort mode a failed write is
// logged and the commit goes ahead.
func (j *Journal) Prepare(ctx context.Context, log graph.CommitLog) (graph.PendingCommit, error) {
	info, err := j.Record(ctx, log)
	if err != nil {
		if j.bestEffort {
			j.logger.Warn("journal write failed", "tx", log.TxID, "error", err)
			return graph.NopPending{}, nil
		}
		return nil, err
	}
	j.logger.Debug("transaction archived", "tx", log.TxID, "key", info.Key, "bytes", info.Size)
	return &pendingEntry{journal: j, key: info.Key}, nil
}

// pendingEntry is an archived entry whose commit may still abort.
type pendingEntry struct {
	journal *Journal
	key     string
}

func (p *pendingEntry) Commit(context.Context) error { return nil }

func (p *pendingEntry) Abort(ctx context.Context) error {
	if _, err := p.journal.store.Delete(ctx, p.key); err != nil {
		return fmt.Errorf("withdraw %s: %w", p.key, err)
	}
	p.journal.logger.Debug("journal entry withdrawn", "key", p.key)
	return nil
}

// EntryKey returns the key of the entry for a commit. Keys sort by commit
// time.
func EntryKey(txID uuid.UUID, committedAt time.Time) string {
	return fmt.Sprintf("%s%019d-%s.json", JournalPrefix, committedAt.UnixNano(), txID)
}

// Record writes the entry for log. Empty commits are archived too.
func (j *Journal) Record(ctx context.Context, log graph.CommitLog) (Info, error) {
	entry := Entry{TxID: log.TxID, CommittedAt: log.CommittedAt.UTC(), Actions: make([]EntryAction, 0, len(log.Actions))}
	for _, a := range log.Actions {
		if a.Placeholder() {
			continue
		}
		ea, err := entryAction(a)
		if err != nil {
			return Info{}, fmt.Errorf("journal %s: %w", a, err)
		}
		entry.Actions = append(entry.Actions, ea)
	}
	body, err := json.Marshal(entry)
	if err != nil {
		return Info{}, err
	}
	return j.store.Put(ctx, EntryKey(log.TxID, log.CommittedAt), bytes.NewReader(body), PutOptions{
		ContentType: journalContentType,
		Metadata:    map[string]string{"tx-id": log.TxID.String()},
	})
}

func entryAction(a *graph.Action) (EntryAction, error) {
	ea := EntryAction{Kind: a.Kind().String(), Type: a.TypeName(), ID: a.ProxyID()}
	key := a.Key()
	if p := a.Proxy(); p != nil {
		key = p.Key()
		if p.IsLoaded() {
			payload, err := persistence.EncodePayload(p.Object())
			if err != nil {
				return EntryAction{}, err
			}
			ea.Payload = payload
		}
	}
	k, err := persistence.EncodeKey(key)
	if err != nil {
		return EntryAction{}, err
	}
	ea.Key = k
	return ea, nil
}

// Entries reads back every archived entry in commit order.
func (j *Journal) Entries(ctx context.Context) ([]Entry, error) {
	infos, err := j.store.List(ctx, JournalPrefix)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		e, err := j.read(ctx, info.Key)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (j *Journal) read(ctx context.Context, key string) (Entry, error) {
	_, rc, err := j.store.Get(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return e, nil
}
