package graph

import (
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attachAnimals(t *testing.T) *Store {
	t.Helper()
	s := New()
	_, err := s.AttachAbstract("animal")
	require.NoError(t, err)
	_, err = Attach[dog](s, "dog", WithParent("animal"))
	require.NoError(t, err)
	_, err = Attach[puppy](s, "puppy", WithParent("dog"))
	require.NoError(t, err)
	_, err = Attach[cat](s, "cat", WithParent("animal"))
	require.NoError(t, err)
	return s
}

func typesOf(seq func(func(*Proxy) bool)) []string {
	var out []string
	for p := range seq {
		out = append(out, p.TypeName())
	}
	return out
}

func TestAttachValidates(t *testing.T) {
	s := attachAnimals(t)

	_, err := Attach[dog](s, "hound")
	assert.True(t, errors.Is(err, ErrDuplicateType), "same Go type twice: %v", err)
	_, err = Attach[owner](s, "dog")
	assert.True(t, errors.Is(err, ErrDuplicateType), "same name twice: %v", err)
	_, err = Attach[owner](s, "owner", WithParent("missing"))
	assert.True(t, errors.Is(err, ErrTypeNotFound))
	_, err = s.AttachAbstract("")
	assert.Error(t, err)

	animal, ok := s.Registry().Node("animal")
	require.True(t, ok)
	assert.True(t, animal.Abstract())
	assert.Nil(t, animal.Parent())
	assert.Equal(t, 1, animal.Depth())
	pup, _ := s.Registry().Node("puppy")
	assert.Equal(t, 3, pup.Depth())
	assert.Equal(t, "dog", pup.Parent().Name())
	assert.True(t, pup.IsA(animal))
}

func TestNodesDepthFirst(t *testing.T) {
	s := attachAnimals(t)
	var got []string
	for n := range s.Registry().Nodes() {
		got = append(got, n.Name())
	}
	assert.Equal(t, []string{"animal", "dog", "puppy", "cat"}, got)
	assert.Equal(t, 4, s.Registry().Len())
}

func TestRegistryRangesHoldOnlyTheirTypes(t *testing.T) {
	s := attachAnimals(t)
	var inserted []*Proxy
	for i := range 4 {
		for _, obj := range []Object{&cat{Lives: int64(i)}, &puppy{Age: int64(i)}, &dog{}} {
			p, err := s.Insert(obj)
			require.NoError(t, err)
			inserted = append(inserted, p)
		}
	}
	// Remove from the middle of every range.
	require.NoError(t, s.Remove(inserted[3]))
	require.NoError(t, s.Remove(inserted[4]))
	require.NoError(t, s.Remove(inserted[5]))

	check := func(name string, own []string, sub map[string]bool) {
		n, ok := s.Registry().Node(name)
		require.True(t, ok)
		for _, tn := range typesOf(n.Objects()) {
			assert.Contains(t, own, tn, "own range of %s", name)
		}
		all := typesOf(n.All())
		for _, tn := range all {
			assert.True(t, sub[tn], "%s range holds %s", name, tn)
		}
		assert.Equal(t, n.SubtreeLen(), len(all))
		assert.Equal(t, n.Len(), len(slices.Collect(n.Objects())))
	}
	check("animal", nil, map[string]bool{"dog": true, "puppy": true, "cat": true})
	check("dog", []string{"dog"}, map[string]bool{"dog": true, "puppy": true})
	check("puppy", []string{"puppy"}, map[string]bool{"puppy": true})
	check("cat", []string{"cat"}, map[string]bool{"cat": true})

	animal, _ := s.Registry().Node("animal")
	assert.Equal(t, 9, animal.SubtreeLen())
	assert.Equal(t, 0, animal.Len())
	dogNode, _ := s.Registry().Node("dog")
	assert.Equal(t, 3, dogNode.Len())
	assert.Equal(t, 6, dogNode.SubtreeLen())
}

func TestAttachAfterInsertKeepsRanges(t *testing.T) {
	s := New()
	_, err := Attach[dog](s, "dog")
	require.NoError(t, err)
	_, err = s.Insert(&dog{Name: "rex"})
	require.NoError(t, err)
	_, err = Attach[puppy](s, "puppy", WithParent("dog"))
	require.NoError(t, err)
	_, err = Attach[cat](s, "cat")
	require.NoError(t, err)
	_, err = s.Insert(&puppy{Name: "bit"})
	require.NoError(t, err)
	_, err = s.Insert(&cat{})
	require.NoError(t, err)
	_, err = s.Insert(&dog{Name: "max"})
	require.NoError(t, err)

	assert.Equal(t, []string{"dog", "dog", "puppy"}, typesOf(s.All("dog")))
	assert.Equal(t, []string{"cat"}, typesOf(s.All("cat")))
	assert.Equal(t, []string{"dog", "dog"}, typesOf(s.Objects("dog")))
	assert.Len(t, typesOf(s.All("")), 4)
}

func TestDetachDestroysSubtree(t *testing.T) {
	s := attachAnimals(t)
	_, err := s.Insert(&puppy{})
	require.NoError(t, err)
	_, err = s.Insert(&dog{})
	require.NoError(t, err)
	c, err := s.Insert(&cat{})
	require.NoError(t, err)

	require.NoError(t, s.Detach("dog"))
	_, ok := s.Registry().Node("puppy")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, []*Proxy{c}, slices.Collect(s.All("animal")))

	_, err = s.Insert(&dog{})
	assert.True(t, errors.Is(err, ErrTypeNotFound))
	_, err = Attach[dog](s, "dog", WithParent("animal"))
	require.NoError(t, err)
}

func TestDetachRefusedDuringTransaction(t *testing.T) {
	s := attachAnimals(t)
	tx := s.Begin()
	assert.True(t, errors.Is(s.Detach("cat"), ErrTransactionActive))
	require.NoError(t, tx.Rollback())
}

func TestNodeFields(t *testing.T) {
	s := newTestStore(t)
	n, _ := s.Registry().Node("owner")
	fields, err := n.Fields()
	require.NoError(t, err)
	assert.Equal(t, []FieldInfo{
		{Name: "id", Kind: FieldPrimaryKey},
		{Name: "name", Kind: FieldString},
		{Name: "score", Kind: FieldInt},
		{Name: "items", Kind: FieldHasMany, Cascade: CascadeAll},
	}, fields)
	assert.IsType(t, &owner{}, n.Prototype())
}

func TestInsertIntoUnknownType(t *testing.T) {
	s := New()
	_, err := s.Insert(&cat{})
	assert.True(t, errors.Is(err, ErrTypeNotFound))
	assert.Equal(t, 0, s.Len())
}
