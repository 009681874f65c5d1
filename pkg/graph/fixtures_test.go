package graph

import (
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"graphstore/pkg/identifier"
)

type owner struct {
	ID    identifier.Identifier
	Name  string
	Score int64
	Items HasMany[*item]
}

func (o *owner) Serialize(v FieldVisitor) error {
	return Fields(v).
		PrimaryKey("id", &o.ID).
		String("name", &o.Name).
		Int("score", &o.Score).
		HasMany("items", &o.Items, CascadeAll).
		Err()
}

type item struct {
	ID    identifier.Identifier
	Label string
	Qty   int64
	Owner BelongsTo[*owner]
}

func (i *item) Serialize(v FieldVisitor) error {
	return Fields(v).
		PrimaryKey("id", &i.ID).
		String("label", &i.Label).
		Int("qty", &i.Qty).
		BelongsTo("owner", &i.Owner, CascadeNone).
		Err()
}

// link is a keyless type used for cycles.
type link struct {
	Name string
	Next HasOne[*link]
	Peer BelongsTo[*link]
}

func (l *link) Serialize(v FieldVisitor) error {
	return Fields(v).
		String("name", &l.Name).
		HasOne("next", &l.Next, CascadeDelete|CascadeInsert).
		BelongsTo("peer", &l.Peer, CascadeNone).
		Err()
}

type dog struct {
	Name string
}

func (d *dog) Serialize(v FieldVisitor) error { return v.OnString("name", &d.Name) }

type puppy struct {
	Name string
	Age  int64
}

func (p *puppy) Serialize(v FieldVisitor) error {
	return Fields(v).String("name", &p.Name).Int("age", &p.Age).Err()
}

type cat struct {
	Lives int64
}

func (c *cat) Serialize(v FieldVisitor) error { return v.OnInt("lives", &c.Lives) }

var errBoom = errors.New("boom")

// failing reports errBoom once armed.
type failing struct {
	Armed bool
	Note  string
}

func (f *failing) Serialize(v FieldVisitor) error {
	if f.Armed {
		return errBoom
	}
	return v.OnString("note", &f.Note)
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s := New(opts...)
	_, err := Attach[owner](s, "owner")
	require.NoError(t, err)
	_, err = Attach[item](s, "item")
	require.NoError(t, err)
	_, err = Attach[link](s, "link")
	require.NoError(t, err)
	return s
}

func insertOwner(t *testing.T, s *Store, name string, labels ...string) (*Proxy, []*Proxy) {
	t.Helper()
	o := &owner{Name: name}
	op := NewProxy(o)
	items := make([]*Proxy, 0, len(labels))
	for _, l := range labels {
		it := &item{Label: l, Qty: 1}
		ip := NewProxy(it)
		it.Owner.Set(op)
		o.Items.Add(ip)
		items = append(items, ip)
	}
	require.NoError(t, s.InsertProxy(op))
	return op, items
}

type proxyState struct {
	Type string
	Key  string
	Refs int
	Ptrs int
	Data []byte
}

// dump captures the observable state of every live proxy.
func dump(t *testing.T, s *Store) map[uint64]proxyState {
	t.Helper()
	out := make(map[uint64]proxyState)
	for p := range s.All("") {
		st := proxyState{Type: p.TypeName(), Key: p.Key().String(), Refs: p.RefCount(), Ptrs: p.PtrCount()}
		if p.Object() != nil {
			data, err := s.Serializer().Encode(p.Object())
			require.NoError(t, err)
			st.Data = data
		}
		out[p.ID()] = st
	}
	return out
}

func names(ps []*Proxy) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.String())
	}
	sort.Strings(out)
	return out
}

func recoverErr(t *testing.T, fn func()) (err error) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected panic")
		e, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		err = e
	}()
	fn()
	return nil
}
