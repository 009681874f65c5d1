// Package sample holds the Owner and Item types used by the CLI demo and the
// persistence round-trip tests.
package sample

import (
	"context"
	"errors"
	"fmt"
	"time"

	"graphstore/pkg/graph"
	"graphstore/pkg/identifier"
)

const (
	OwnerType = "owner"
	ItemType  = "item"
)

// Owner owns a list of items. Removing an owner removes its items.
type Owner struct {
	ID       identifier.Identifier
	Name     string
	Balance  int64
	Joined   time.Time
	Items    graph.HasMany[*Item]
	Favorite graph.BelongsTo[*Item]
}

func (o *Owner) Serialize(v graph.FieldVisitor) error {
	return graph.Fields(v).
		PrimaryKey("id", &o.ID).
		String("name", &o.Name).
		Int("balance", &o.Balance).
		Time("joined", &o.Joined).
		HasMany("items", &o.Items, graph.CascadeAll).
		BelongsTo("favorite", &o.Favorite, graph.CascadeNone).
		Err()
}

// Item belongs to one owner.
type Item struct {
	ID    identifier.Identifier
	Label string
	Qty   uint64
	Price float64
	Note  []byte
	Owner graph.BelongsTo[*Owner]
}

func (i *Item) Serialize(v graph.FieldVisitor) error {
	return graph.Fields(v).
		PrimaryKey("id", &i.ID).
		String("label", &i.Label).
		Uint("qty", &i.Qty).
		Float("price", &i.Price).
		Bytes("note", &i.Note).
		BelongsTo("owner", &i.Owner, graph.CascadeNone).
		Err()
}

// Register attaches the sample types to s.
func Register(s *graph.Store) error {
	if _, err := graph.Attach[Owner](s, OwnerType); err != nil {
		return err
	}
	_, err := graph.Attach[Item](s, ItemType)
	return err
}

// AddItem creates an item owned by op and inserts it.
func AddItem(s *graph.Store, op *graph.Proxy, label string, qty uint64) (*graph.Proxy, error) {
	it := &Item{Label: label, Qty: qty}
	it.Owner.Set(op)
	ip, err := s.Insert(it)
	if err != nil {
		it.Owner.Clear()
		return nil, err
	}
	if err := s.Modify(op, func(obj graph.Object) error {
		obj.(*Owner).Items.Add(ip)
		return nil
	}); err != nil {
		return nil, err
	}
	return ip, nil
}

// ScenarioResult reports what the demo scenario observed.
type ScenarioResult struct {
	Owner        *graph.Proxy
	RolledBackID uint64
	Kept         *graph.Proxy
}

// RunScenario inserts an owner, then in a transaction adds an item and
// changes the owner before rolling back. A second transaction adds an item
// and commits. It fails if the rollback left any trace.
func RunScenario(ctx context.Context, s *graph.Store, name string) (ScenarioResult, error) {
	op, err := s.Insert(&Owner{Name: name, Balance: 100, Joined: time.Now().UTC().Truncate(time.Second)})
	if err != nil {
		return ScenarioResult{}, err
	}
	res := ScenarioResult{Owner: op}

	tx := s.Begin()
	ip, err := AddItem(s, op, "draft", 1)
	if err != nil {
		return res, errors.Join(err, tx.Rollback())
	}
	res.RolledBackID = ip.ID()
	if err := s.Modify(op, func(obj graph.Object) error {
		obj.(*Owner).Balance = 0
		return nil
	}); err != nil {
		return res, errors.Join(err, tx.Rollback())
	}
	if err := tx.Rollback(); err != nil {
		return res, err
	}
	if _, err := s.Find(res.RolledBackID); !errors.Is(err, graph.ErrNotFound) {
		return res, fmt.Errorf("item %d survived rollback", res.RolledBackID)
	}
	if got := op.Object().(*Owner).Balance; got != 100 {
		return res, fmt.Errorf("owner balance %d after rollback, want 100", got)
	}

	err = s.RunInTransaction(ctx, func(*graph.Transaction) error {
		kept, err := AddItem(s, op, "kept", 3)
		if err != nil {
			return err
		}
		res.Kept = kept
		return s.Modify(op, func(obj graph.Object) error {
			o := obj.(*Owner)
			o.Balance -= 25
			o.Favorite.Set(kept)
			return nil
		})
	})
	return res, err
}
