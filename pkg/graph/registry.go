package graph

import (
	"fmt"
	"iter"
	"reflect"
	"time"

	"graphstore/pkg/identifier"
)

// Registry is the tree of attached types. A hidden root node anchors the
// proxy list so that every type, top-level or not, has a parent range.
type Registry struct {
	root   *Node
	byName map[string]*Node
	byType map[reflect.Type]*Node
}

func newRegistry() *Registry {
	return &Registry{
		root:   newNode("", nil),
		byName: make(map[string]*Node),
		byType: make(map[reflect.Type]*Node),
	}
}

func (r *Registry) attach(name, parentName string, typ reflect.Type, factory func() Object) (*Node, error) {
	if name == "" {
		return nil, fmt.Errorf("attach: empty type name")
	}
	if _, ok := r.byName[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateType, name)
	}
	if typ != nil {
		if other, ok := r.byType[typ]; ok {
			return nil, fmt.Errorf("%w: %s already attached as %q", ErrDuplicateType, typ, other.name)
		}
	}
	parent := r.root
	if parentName != "" {
		p, ok := r.byName[parentName]
		if !ok {
			return nil, fmt.Errorf("%w: parent %q of %q", ErrTypeNotFound, parentName, name)
		}
		parent = p
	}
	n := newNode(name, parent)
	n.typ = typ
	n.factory = factory
	n.abstract = factory == nil
	if factory != nil {
		n.prototype = factory()
	}
	r.byName[name] = n
	if typ != nil {
		r.byType[typ] = n
	}
	return n, nil
}

// detach unlinks n and its descendants. The caller must have removed every
// proxy in n's range first.
func (r *Registry) detach(n *Node) {
	for _, child := range n.Children() {
		r.detach(child)
	}
	n.first.unlink()
	n.marker.unlink()
	n.last.unlink()
	siblings := n.parent.children
	for i, c := range siblings {
		if c == n {
			n.parent.children = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	delete(r.byName, n.name)
	if n.typ != nil {
		delete(r.byType, n.typ)
	}
	n.parent = nil
}

// Node returns the node attached under name.
func (r *Registry) Node(name string) (*Node, bool) {
	n, ok := r.byName[name]
	return n, ok
}

// NodeOf returns the node attached for the dynamic type of obj.
func (r *Registry) NodeOf(obj Object) (*Node, bool) {
	n, ok := r.byType[reflect.TypeOf(obj)]
	return n, ok
}

// Len returns the number of attached types.
func (r *Registry) Len() int { return len(r.byName) }

// Nodes yields attached types in depth-first order.
func (r *Registry) Nodes() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		var walk func(*Node) bool
		walk = func(n *Node) bool {
			for _, c := range n.children {
				if !yield(c) || !walk(c) {
					return false
				}
			}
			return true
		}
		walk(r.root)
	}
}

func (r *Registry) require(name string) (*Node, error) {
	n, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTypeNotFound, name)
	}
	return n, nil
}

type schemaVisitor struct {
	fields []FieldInfo
}

func (s *schemaVisitor) add(name string, kind FieldKind, cascade Cascade) error {
	s.fields = append(s.fields, FieldInfo{Name: name, Kind: kind, Cascade: cascade})
	return nil
}

func (s *schemaVisitor) OnPrimaryKey(name string, _ *identifier.Identifier) error {
	return s.add(name, FieldPrimaryKey, CascadeNone)
}
func (s *schemaVisitor) OnBool(name string, _ *bool) error { return s.add(name, FieldBool, CascadeNone) }
func (s *schemaVisitor) OnInt(name string, _ *int64) error { return s.add(name, FieldInt, CascadeNone) }
func (s *schemaVisitor) OnUint(name string, _ *uint64) error {
	return s.add(name, FieldUint, CascadeNone)
}
func (s *schemaVisitor) OnFloat(name string, _ *float64) error {
	return s.add(name, FieldFloat, CascadeNone)
}
func (s *schemaVisitor) OnString(name string, _ *string) error {
	return s.add(name, FieldString, CascadeNone)
}
func (s *schemaVisitor) OnTime(name string, _ *time.Time) error {
	return s.add(name, FieldTime, CascadeNone)
}
func (s *schemaVisitor) OnBytes(name string, _ *[]byte) error {
	return s.add(name, FieldBytes, CascadeNone)
}
func (s *schemaVisitor) OnHasOne(name string, _ *Holder, c Cascade) error {
	return s.add(name, FieldHasOne, c)
}
func (s *schemaVisitor) OnBelongsTo(name string, _ *Holder, c Cascade) error {
	return s.add(name, FieldBelongsTo, c)
}
func (s *schemaVisitor) OnHasMany(name string, _ *Collection, c Cascade) error {
	return s.add(name, FieldHasMany, c)
}
