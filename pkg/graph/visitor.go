package graph

import (
	"time"

	"graphstore/pkg/identifier"
)

// Object is implemented by every stored domain type. Serialize must report
// each field to the visitor in a fixed order; the serializer, the deleter and
// the persistence layer all walk objects through this one method.
type Object interface {
	Serialize(v FieldVisitor) error
}

// Cascade selects which store operations follow a relation.
type Cascade uint8

const (
	CascadeNone   Cascade = 0
	CascadeInsert Cascade = 1 << (iota - 1)
	CascadeUpdate
	CascadeDelete
	CascadeAll = CascadeInsert | CascadeUpdate | CascadeDelete
)

// Has reports whether all flags in o are set in c.
func (c Cascade) Has(o Cascade) bool { return c&o == o }

// FieldVisitor receives one callback per field. Attribute callbacks get a
// pointer so the same visitor shape serves readers and writers.
type FieldVisitor interface {
	OnPrimaryKey(name string, id *identifier.Identifier) error
	OnBool(name string, v *bool) error
	OnInt(name string, v *int64) error
	OnUint(name string, v *uint64) error
	OnFloat(name string, v *float64) error
	OnString(name string, v *string) error
	OnTime(name string, v *time.Time) error
	OnBytes(name string, v *[]byte) error
	OnHasOne(name string, h *Holder, cascade Cascade) error
	OnBelongsTo(name string, h *Holder, cascade Cascade) error
	OnHasMany(name string, c *Collection, cascade Cascade) error
}

// BaseVisitor implements FieldVisitor with no-ops. Embed it to handle only
// the callbacks a walker cares about.
type BaseVisitor struct{}

func (BaseVisitor) OnPrimaryKey(string, *identifier.Identifier) error { return nil }
func (BaseVisitor) OnBool(string, *bool) error                        { return nil }
func (BaseVisitor) OnInt(string, *int64) error                        { return nil }
func (BaseVisitor) OnUint(string, *uint64) error                      { return nil }
func (BaseVisitor) OnFloat(string, *float64) error                    { return nil }
func (BaseVisitor) OnString(string, *string) error                    { return nil }
func (BaseVisitor) OnTime(string, *time.Time) error                   { return nil }
func (BaseVisitor) OnBytes(string, *[]byte) error                     { return nil }
func (BaseVisitor) OnHasOne(string, *Holder, Cascade) error           { return nil }
func (BaseVisitor) OnBelongsTo(string, *Holder, Cascade) error        { return nil }
func (BaseVisitor) OnHasMany(string, *Collection, Cascade) error      { return nil }

type relation interface {
	holder() *Holder
}

type collection interface {
	collection() *Collection
}

// FieldWriter chains field callbacks and keeps the first error, so a
// Serialize method can be written as a single expression:
//
//	return graph.Fields(v).
//		PrimaryKey("id", &o.ID).
//		String("name", &o.Name).
//		HasMany("items", &o.Items, graph.CascadeAll).
//		Err()
type FieldWriter struct {
	v   FieldVisitor
	err error
}

// Fields starts a chain over v.
func Fields(v FieldVisitor) *FieldWriter { return &FieldWriter{v: v} }

func (f *FieldWriter) do(fn func() error) *FieldWriter {
	if f.err == nil {
		f.err = fn()
	}
	return f
}

func (f *FieldWriter) PrimaryKey(name string, id *identifier.Identifier) *FieldWriter {
	return f.do(func() error { return f.v.OnPrimaryKey(name, id) })
}

func (f *FieldWriter) Bool(name string, v *bool) *FieldWriter {
	return f.do(func() error { return f.v.OnBool(name, v) })
}

func (f *FieldWriter) Int(name string, v *int64) *FieldWriter {
	return f.do(func() error { return f.v.OnInt(name, v) })
}

func (f *FieldWriter) Uint(name string, v *uint64) *FieldWriter {
	return f.do(func() error { return f.v.OnUint(name, v) })
}

func (f *FieldWriter) Float(name string, v *float64) *FieldWriter {
	return f.do(func() error { return f.v.OnFloat(name, v) })
}

func (f *FieldWriter) String(name string, v *string) *FieldWriter {
	return f.do(func() error { return f.v.OnString(name, v) })
}

func (f *FieldWriter) Time(name string, v *time.Time) *FieldWriter {
	return f.do(func() error { return f.v.OnTime(name, v) })
}

func (f *FieldWriter) Bytes(name string, v *[]byte) *FieldWriter {
	return f.do(func() error { return f.v.OnBytes(name, v) })
}

// HasOne reports an owning single-valued relation.
func (f *FieldWriter) HasOne(name string, r relation, cascade Cascade) *FieldWriter {
	return f.do(func() error { return f.v.OnHasOne(name, r.holder(), cascade) })
}

// BelongsTo reports a non-owning back reference.
func (f *FieldWriter) BelongsTo(name string, r relation, cascade Cascade) *FieldWriter {
	return f.do(func() error { return f.v.OnBelongsTo(name, r.holder(), cascade) })
}

// HasMany reports an owning collection.
func (f *FieldWriter) HasMany(name string, c collection, cascade Cascade) *FieldWriter {
	return f.do(func() error { return f.v.OnHasMany(name, c.collection(), cascade) })
}

// Err returns the first error raised by the chain.
func (f *FieldWriter) Err() error { return f.err }
