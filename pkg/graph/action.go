package graph

import (
	"fmt"

	"graphstore/internal/buffer"
	"graphstore/pkg/identifier"
)

// ActionKind tags an entry of the transaction log.
type ActionKind uint8

const (
	ActionInsert ActionKind = iota + 1
	ActionUpdate
	ActionDelete
)

func (k ActionKind) String() string {
	switch k {
	case ActionInsert:
		return "insert"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	}
	return fmt.Sprintf("action(%d)", uint8(k))
}

// Action records one mutation observed by a transaction. Update and delete
// actions point at the "before" snapshot of the object in the transaction's
// buffer; delete actions also keep the primary key of the removed object.
type Action struct {
	kind     ActionKind
	id       uint64
	typeName string
	key      identifier.Identifier
	proxy    *Proxy
	span     buffer.Span
	// placeholder marks an action on a proxy that has no object.
	placeholder bool
}

// Kind returns the action tag.
func (a *Action) Kind() ActionKind { return a.kind }

// ProxyID returns the id of the affected object.
func (a *Action) ProxyID() uint64 { return a.id }

// TypeName returns the attached type name of the affected object.
func (a *Action) TypeName() string { return a.typeName }

// Placeholder reports whether the action created or removed an empty
// placeholder rather than an object.
func (a *Action) Placeholder() bool { return a.placeholder }

// Key returns the primary key recorded with the action.
func (a *Action) Key() identifier.Identifier { return a.key.Clone() }

// Proxy returns the live proxy of an insert or update action; nil for deletes
// and for objects no longer in the store.
func (a *Action) Proxy() *Proxy {
	if a.kind == ActionDelete || a.proxy == nil || !a.proxy.Inserted() {
		return nil
	}
	return a.proxy
}

func (a *Action) String() string {
	return fmt.Sprintf("%s %s#%d", a.kind, a.typeName, a.id)
}

// ActionVisitor dispatches on the action kind.
type ActionVisitor interface {
	VisitInsert(a *Action) error
	VisitUpdate(a *Action) error
	VisitDelete(a *Action) error
}

// Accept calls the visitor method matching the action kind.
func (a *Action) Accept(v ActionVisitor) error {
	switch a.kind {
	case ActionInsert:
		return v.VisitInsert(a)
	case ActionUpdate:
		return v.VisitUpdate(a)
	case ActionDelete:
		return v.VisitDelete(a)
	}
	return fmt.Errorf("unknown action kind %d", a.kind)
}

// rollbackVisitor undoes actions against the store, newest first.
type rollbackVisitor struct {
	tx *Transaction
}

func (r rollbackVisitor) VisitInsert(a *Action) error {
	s := r.tx.store
	p, ok := s.proxies[a.id]
	if !ok {
		return nil
	}
	s.destroy([]*Proxy{p})
	return nil
}

func (r rollbackVisitor) VisitUpdate(a *Action) error {
	s := r.tx.store
	p, ok := s.proxies[a.id]
	if !ok || p.obj == nil {
		return fmt.Errorf("undo %s: %w", a, ErrNotFound)
	}
	if err := s.serializer.Restore(r.tx.buf, a.span, p.obj); err != nil {
		return fmt.Errorf("undo %s: %w", a, err)
	}
	p.node.index(p)
	return nil
}

func (r rollbackVisitor) VisitDelete(a *Action) error {
	s := r.tx.store
	if a.placeholder {
		_, err := s.Resolve(a.typeName, a.id)
		return err
	}
	p, err := s.load(a.typeName, a.id, func(obj Object) error {
		return s.serializer.Restore(r.tx.buf, a.span, obj)
	})
	if err != nil {
		return fmt.Errorf("undo %s: %w", a, err)
	}
	if p.pk.IsNull() && !a.key.IsNull() {
		p.pk = a.key.Clone()
		p.node.index(p)
	}
	return nil
}
