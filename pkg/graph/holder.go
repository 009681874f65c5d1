package graph

import (
	"fmt"
	"iter"
)

// Holder is the untyped relation handle underneath HasOne, BelongsTo and the
// items of HasMany. Every change of target goes through Reset, which keeps
// the target proxies' counters equal to the number of live holders.
//
// Holders are registered with their target by address: a struct embedding a
// holder must not be copied once the holder is set. Use Assign to duplicate
// a relation.
type Holder struct {
	proxy     *Proxy
	reference bool
}

// Proxy returns the target, or nil.
func (h *Holder) Proxy() *Proxy { return h.proxy }

// ID returns the target's id, or zero.
func (h *Holder) ID() uint64 {
	if h.proxy == nil {
		return 0
	}
	return h.proxy.id
}

// IsReference reports whether the holder is non-owning.
func (h *Holder) IsReference() bool { return h.reference }

// IsNil reports whether the holder has no target.
func (h *Holder) IsNil() bool { return h.proxy == nil }

// Reset points the holder at p, releasing the previous target.
func (h *Holder) Reset(p *Proxy) {
	if h.proxy == p {
		return
	}
	if h.proxy != nil {
		h.proxy.remove(h)
	}
	h.proxy = p
	if p != nil {
		p.add(h)
	}
}

// Clear releases the current target.
func (h *Holder) Clear() { h.Reset(nil) }

func checkTarget[T Object](p *Proxy) {
	if p == nil || p.obj == nil {
		return
	}
	if _, ok := p.obj.(T); !ok {
		var zero T
		panic(fmt.Errorf("%w: %T cannot hold %T", ErrRelationType, zero, p.obj))
	}
}

func targetOf[T Object](h *Holder) T {
	var zero T
	if h.proxy == nil || h.proxy.obj == nil {
		return zero
	}
	obj, _ := h.proxy.obj.(T)
	return obj
}

// HasOne is an owning single-valued relation. Its target's pointer count
// includes this holder.
type HasOne[T Object] struct {
	h Holder
}

func (r *HasOne[T]) holder() *Holder { return &r.h }

// Set points the relation at p. A p wrapping anything other than T panics.
func (r *HasOne[T]) Set(p *Proxy) {
	checkTarget[T](p)
	r.h.Reset(p)
}

// Assign points the relation at other's target.
func (r *HasOne[T]) Assign(other *HasOne[T]) { r.Set(other.h.proxy) }

// Clear drops the target.
func (r *HasOne[T]) Clear() { r.h.Clear() }

// Get returns the target object, or the zero T when empty or unloaded.
func (r *HasOne[T]) Get() T { return targetOf[T](&r.h) }

// Proxy returns the target proxy.
func (r *HasOne[T]) Proxy() *Proxy { return r.h.proxy }

// ID returns the target id.
func (r *HasOne[T]) ID() uint64 { return r.h.ID() }

// IsNil reports whether the relation is empty.
func (r *HasOne[T]) IsNil() bool { return r.h.IsNil() }

// IsReference is always false for HasOne.
func (r *HasOne[T]) IsReference() bool { return false }

// BelongsTo is a non-owning back reference. Its target's reference count
// includes this holder. It never pulls the target into a cascade, even when
// the field reports CascadeDelete; owning storage fields use HasOne.
type BelongsTo[T Object] struct {
	h Holder
}

func (r *BelongsTo[T]) holder() *Holder {
	r.h.reference = true
	return &r.h
}

// Set points the relation at p. A p wrapping anything other than T panics.
func (r *BelongsTo[T]) Set(p *Proxy) {
	checkTarget[T](p)
	r.holder().Reset(p)
}

// Assign points the relation at other's target.
func (r *BelongsTo[T]) Assign(other *BelongsTo[T]) { r.Set(other.h.proxy) }

// Clear drops the target.
func (r *BelongsTo[T]) Clear() { r.h.Clear() }

// Get returns the target object, or the zero T when empty or unloaded.
func (r *BelongsTo[T]) Get() T { return targetOf[T](&r.h) }

// Proxy returns the target proxy.
func (r *BelongsTo[T]) Proxy() *Proxy { return r.h.proxy }

// ID returns the target id.
func (r *BelongsTo[T]) ID() uint64 { return r.h.ID() }

// IsNil reports whether the relation is empty.
func (r *BelongsTo[T]) IsNil() bool { return r.h.IsNil() }

// IsReference is always true for BelongsTo.
func (r *BelongsTo[T]) IsReference() bool { return true }

// Collection is the untyped list of owning item holders behind HasMany.
// Items whose target was removed from the store read as empty and are
// skipped by Proxies and Len.
type Collection struct {
	items []*Holder
}

// Append adds an owning item pointing at p.
func (c *Collection) Append(p *Proxy) {
	h := &Holder{}
	h.Reset(p)
	c.items = append(c.items, h)
}

// Remove drops the first item pointing at p.
func (c *Collection) Remove(p *Proxy) bool {
	for i, h := range c.items {
		if h.proxy == p {
			h.Clear()
			c.items = append(c.items[:i], c.items[i+1:]...)
			return true
		}
	}
	return false
}

// Clear releases every item.
func (c *Collection) Clear() {
	for _, h := range c.items {
		h.Clear()
	}
	c.items = nil
}

// Reset replaces the items with ps, in order.
func (c *Collection) Reset(ps []*Proxy) {
	// Retain the new targets before releasing the old ones so shared targets
	// never see their counters touch zero.
	fresh := make([]*Holder, 0, len(ps))
	for _, p := range ps {
		h := &Holder{}
		h.Reset(p)
		fresh = append(fresh, h)
	}
	c.Clear()
	c.items = fresh
}

// Len returns the number of non-empty items.
func (c *Collection) Len() int {
	n := 0
	for _, h := range c.items {
		if h.proxy != nil {
			n++
		}
	}
	return n
}

// Holders returns the item holders, including emptied ones.
func (c *Collection) Holders() []*Holder {
	return append([]*Holder(nil), c.items...)
}

// Proxies returns the non-empty item targets in order.
func (c *Collection) Proxies() []*Proxy {
	out := make([]*Proxy, 0, len(c.items))
	for _, h := range c.items {
		if h.proxy != nil {
			out = append(out, h.proxy)
		}
	}
	return out
}

// HasMany is an owning collection relation.
type HasMany[T Object] struct {
	c Collection
}

func (m *HasMany[T]) collection() *Collection { return &m.c }

// Add appends p. A p wrapping anything other than T panics.
func (m *HasMany[T]) Add(p *Proxy) {
	checkTarget[T](p)
	m.c.Append(p)
}

// Remove drops the first item pointing at p.
func (m *HasMany[T]) Remove(p *Proxy) bool { return m.c.Remove(p) }

// Clear releases every item.
func (m *HasMany[T]) Clear() { m.c.Clear() }

// Len returns the number of non-empty items.
func (m *HasMany[T]) Len() int { return m.c.Len() }

// Proxies returns the item targets in order.
func (m *HasMany[T]) Proxies() []*Proxy { return m.c.Proxies() }

// All yields each item's proxy and object.
func (m *HasMany[T]) All() iter.Seq2[*Proxy, T] {
	return func(yield func(*Proxy, T) bool) {
		for _, h := range m.c.items {
			if h.proxy == nil {
				continue
			}
			if !yield(h.proxy, targetOf[T](h)) {
				return
			}
		}
	}
}
