package graph

import (
	"fmt"
	"iter"
	"reflect"

	"graphstore/pkg/identifier"
)

// Node is the registry entry for one attached type.
//
// All proxies of a store live in one doubly-linked list. Every node owns
// three sentinels in that list, first, marker and last, laid out so that
//
//	first .. marker   holds the node's own objects
//	marker .. last    holds the ranges of all descendant nodes
//
// A child's [first, last] range sits inside its parent's marker..last, so an
// object linked before its node's marker is already inside every ancestor's
// range. Only the per-node counters need to be walked up, which costs O(depth).
type Node struct {
	name     string
	parent   *Node
	children []*Node
	depth    int
	abstract bool

	typ       reflect.Type
	factory   func() Object
	prototype Object

	first, marker, last *Proxy

	count   int
	subtree int
	keys    map[uint64][]*Proxy
}

func newNode(name string, parent *Node) *Node {
	n := &Node{name: name, parent: parent, keys: make(map[uint64][]*Proxy)}
	n.first = &Proxy{sentinel: true, node: n}
	n.marker = &Proxy{sentinel: true, node: n}
	n.last = &Proxy{sentinel: true, node: n}
	if parent == nil {
		n.first.next, n.marker.prev = n.marker, n.first
		n.marker.next, n.last.prev = n.last, n.marker
		return n
	}
	n.depth = parent.depth + 1
	n.first.link(parent.last)
	n.marker.link(parent.last)
	n.last.link(parent.last)
	parent.children = append(parent.children, n)
	return n
}

// Name returns the attached type name.
func (n *Node) Name() string { return n.name }

// Parent returns the parent type node, or nil for top-level types.
func (n *Node) Parent() *Node {
	if n.parent == nil || n.parent.parent == nil {
		return nil
	}
	return n.parent
}

// Children returns the direct subtypes in attach order.
func (n *Node) Children() []*Node { return append([]*Node(nil), n.children...) }

// Depth returns the distance from the top of the hierarchy; top-level types are 1.
func (n *Node) Depth() int { return n.depth }

// Abstract reports whether the node can hold objects of its own.
func (n *Node) Abstract() bool { return n.abstract }

// Prototype returns the default-constructed instance used for introspection.
func (n *Node) Prototype() Object { return n.prototype }

// Len returns the number of objects of exactly this type.
func (n *Node) Len() int { return n.count }

// SubtreeLen returns the number of objects of this type and all subtypes.
func (n *Node) SubtreeLen() int { return n.subtree }

// IsA reports whether n is ancestor or equal to other.
func (n *Node) IsA(ancestor *Node) bool {
	for cur := n; cur != nil; cur = cur.parent {
		if cur == ancestor {
			return true
		}
	}
	return false
}

// Objects yields the proxies of exactly this type.
func (n *Node) Objects() iter.Seq[*Proxy] {
	return n.between(n.first, n.marker)
}

// All yields the proxies of this type and every subtype, in tree order.
func (n *Node) All() iter.Seq[*Proxy] {
	return n.between(n.first, n.last)
}

func (n *Node) between(from, to *Proxy) iter.Seq[*Proxy] {
	return func(yield func(*Proxy) bool) {
		for p := from.next; p != nil && p != to; {
			next := p.next
			if !p.sentinel && !yield(p) {
				return
			}
			p = next
		}
	}
}

func (n *Node) insert(p *Proxy) {
	p.link(n.marker)
	p.node = n
	n.count++
	for a := n; a != nil; a = a.parent {
		a.subtree++
	}
}

func (n *Node) remove(p *Proxy) {
	n.unindex(p)
	p.unlink()
	n.count--
	for a := n; a != nil; a = a.parent {
		a.subtree--
	}
}

func (n *Node) index(p *Proxy) {
	n.unindex(p)
	key := p.pk
	if !key.IsValid() {
		return
	}
	p.keyHash = key.Hash()
	p.keyed = true
	n.keys[p.keyHash] = append(n.keys[p.keyHash], p)
}

func (n *Node) unindex(p *Proxy) {
	if !p.keyed {
		return
	}
	bucket := n.keys[p.keyHash]
	for i, q := range bucket {
		if q == p {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(n.keys, p.keyHash)
	} else {
		n.keys[p.keyHash] = bucket
	}
	p.keyed = false
}

func (n *Node) lookup(key identifier.Identifier) *Proxy {
	for _, p := range n.keys[key.Hash()] {
		if k := p.pk; k.Kind() == key.Kind() && k.Equal(key) {
			return p
		}
	}
	return nil
}

// FieldKind classifies a field reported by Node.Fields.
type FieldKind uint8

const (
	FieldPrimaryKey FieldKind = iota
	FieldBool
	FieldInt
	FieldUint
	FieldFloat
	FieldString
	FieldTime
	FieldBytes
	FieldHasOne
	FieldBelongsTo
	FieldHasMany
)

var fieldKindNames = [...]string{"primary_key", "bool", "int", "uint", "float", "string", "time", "bytes", "has_one", "belongs_to", "has_many"}

func (k FieldKind) String() string {
	if int(k) < len(fieldKindNames) {
		return fieldKindNames[k]
	}
	return fmt.Sprintf("field_kind(%d)", k)
}

// FieldInfo describes one field of an attached type.
type FieldInfo struct {
	Name    string
	Kind    FieldKind
	Cascade Cascade
}

// Fields walks the prototype and returns its field layout. Abstract nodes
// report no fields.
func (n *Node) Fields() ([]FieldInfo, error) {
	if n.prototype == nil {
		return nil, nil
	}
	s := &schemaVisitor{}
	if err := n.prototype.Serialize(s); err != nil {
		return nil, fmt.Errorf("describe %s: %w", n.name, err)
	}
	return s.fields, nil
}
