package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHolderCountersStaySymmetric(t *testing.T) {
	s := newTestStore(t)
	op, err := s.Insert(&owner{Name: "a"})
	require.NoError(t, err)
	ip, err := s.Insert(&item{Label: "x"})
	require.NoError(t, err)

	var refs []*BelongsTo[*owner]
	for range 3 {
		r := &BelongsTo[*owner]{}
		r.Set(op)
		refs = append(refs, r)
	}
	assert.Equal(t, 3, op.RefCount())
	assert.Equal(t, 0, op.PtrCount())

	var copyOf BelongsTo[*owner]
	copyOf.Assign(refs[0])
	assert.Equal(t, 4, op.RefCount())
	assert.Equal(t, 4, op.Holders())

	refs[1].Set(op)
	assert.Equal(t, 4, op.RefCount(), "re-setting the same target must not double count")

	refs[2].Clear()
	copyOf.Set(nil)
	assert.Equal(t, 2, op.RefCount())

	var many HasMany[*item]
	many.Add(ip)
	many.Add(ip)
	assert.Equal(t, 2, ip.PtrCount())
	assert.Equal(t, 0, ip.RefCount())
	assert.True(t, many.Remove(ip))
	assert.Equal(t, 1, ip.PtrCount())
	many.Clear()
	assert.Equal(t, 0, ip.PtrCount())
	assert.Equal(t, 0, ip.Holders())
}

func TestHasOneReassignMovesCount(t *testing.T) {
	s := newTestStore(t)
	a, err := s.Insert(&link{Name: "a"})
	require.NoError(t, err)
	b, err := s.Insert(&link{Name: "b"})
	require.NoError(t, err)

	var h HasOne[*link]
	h.Set(a)
	require.Equal(t, 1, a.PtrCount())
	h.Set(b)
	assert.Equal(t, 0, a.PtrCount())
	assert.Equal(t, 1, b.PtrCount())
	assert.Equal(t, "b", h.Get().Name)
	assert.Equal(t, b.ID(), h.ID())
	assert.False(t, h.IsReference())
}

func TestRelationRejectsWrongType(t *testing.T) {
	s := newTestStore(t)
	ip, err := s.Insert(&item{Label: "x"})
	require.NoError(t, err)

	var r BelongsTo[*owner]
	err = recoverErr(t, func() { r.Set(ip) })
	assert.True(t, errors.Is(err, ErrRelationType))
	assert.True(t, r.IsNil())
	assert.Equal(t, 0, ip.RefCount())
}

func TestCollectionResetKeepsSharedTargets(t *testing.T) {
	s := newTestStore(t)
	a, err := s.Insert(&item{Label: "a"})
	require.NoError(t, err)
	b, err := s.Insert(&item{Label: "b"})
	require.NoError(t, err)

	var c Collection
	c.Append(a)
	c.Reset([]*Proxy{a, b})
	assert.Equal(t, 1, a.PtrCount())
	assert.Equal(t, 1, b.PtrCount())
	assert.Equal(t, []*Proxy{a, b}, c.Proxies())
}

func TestDestroyedProxyLeavesNoDanglingHolders(t *testing.T) {
	s := newTestStore(t)
	op, items := insertOwner(t, s, "o", "x", "y")
	it := items[0].Object().(*item)

	require.NoError(t, s.Remove(op))

	assert.True(t, it.Owner.IsNil())
	assert.Nil(t, it.Owner.Get())
	assert.False(t, op.Inserted())
	assert.Nil(t, op.Object())
	assert.Equal(t, 0, op.Holders())
	for _, ip := range items {
		assert.False(t, ip.Inserted())
		assert.Equal(t, 0, ip.PtrCount())
	}
	assert.Equal(t, 0, s.Len())
}
