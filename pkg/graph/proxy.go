package graph

import (
	"fmt"

	"graphstore/pkg/identifier"
)

// Proxy wraps exactly one stored object and carries its identity and
// lifecycle: the store-assigned id, the primary key, its position in the
// owning type node's list, and the holders currently pointing at it.
//
// A proxy counts owning holders (pointer count) separately from non-owning
// ones (reference count). Only a proxy with both counts at zero may be
// removed on its own.
type Proxy struct {
	id  uint64
	obj Object
	pk  identifier.Identifier

	prev, next *Proxy
	node       *Node
	store      *Store
	sentinel   bool

	holders  map[*Holder]struct{}
	refCount int
	ptrCount int

	keyHash uint64
	keyed   bool
}

// NewProxy wraps obj in a detached proxy. It becomes part of a store through
// Store.InsertProxy or through insert cascade from an inserted owner.
func NewProxy(obj Object) *Proxy {
	return &Proxy{obj: obj}
}

// ID returns the store-assigned id, zero while detached.
func (p *Proxy) ID() uint64 { return p.id }

// Object returns the wrapped object; nil for placeholders and removed proxies.
func (p *Proxy) Object() Object { return p.obj }

// Key returns a copy of the primary key.
func (p *Proxy) Key() identifier.Identifier { return p.pk.Clone() }

// Node returns the type node the proxy is linked into.
func (p *Proxy) Node() *Node { return p.node }

// TypeName returns the name of the proxy's type node, or "" when detached.
func (p *Proxy) TypeName() string {
	if p.node == nil {
		return ""
	}
	return p.node.name
}

// RefCount returns the number of non-owning holders pointing at the proxy.
func (p *Proxy) RefCount() int { return p.refCount }

// PtrCount returns the number of owning holders pointing at the proxy.
func (p *Proxy) PtrCount() int { return p.ptrCount }

// Holders returns the number of holders pointing at the proxy.
func (p *Proxy) Holders() int { return len(p.holders) }

// Inserted reports whether the proxy is live in a store.
func (p *Proxy) Inserted() bool { return p.store != nil }

// IsLoaded reports whether the proxy wraps an object.
func (p *Proxy) IsLoaded() bool { return p.obj != nil }

func (p *Proxy) String() string {
	if p == nil {
		return "<nil proxy>"
	}
	return fmt.Sprintf("%s#%d", p.TypeName(), p.id)
}

// link inserts p into the list right before the given proxy.
func (p *Proxy) link(before *Proxy) {
	p.prev = before.prev
	p.next = before
	before.prev.next = p
	before.prev = p
}

func (p *Proxy) unlink() {
	if p.prev != nil {
		p.prev.next = p.next
	}
	if p.next != nil {
		p.next.prev = p.prev
	}
	p.prev, p.next = nil, nil
}

func (p *Proxy) linkRef() { p.refCount++ }

func (p *Proxy) unlinkRef() {
	if p.refCount == 0 {
		panic(fmt.Errorf("%w: reference count of %s", ErrCounterUnderflow, p))
	}
	p.refCount--
}

func (p *Proxy) linkPtr() { p.ptrCount++ }

func (p *Proxy) unlinkPtr() {
	if p.ptrCount == 0 {
		panic(fmt.Errorf("%w: pointer count of %s", ErrCounterUnderflow, p))
	}
	p.ptrCount--
}

// add registers h and counts it.
func (p *Proxy) add(h *Holder) {
	if p.holders == nil {
		p.holders = make(map[*Holder]struct{})
	}
	if _, ok := p.holders[h]; ok {
		return
	}
	p.holders[h] = struct{}{}
	if h.reference {
		p.linkRef()
	} else {
		p.linkPtr()
	}
}

// remove forgets h and releases its count.
func (p *Proxy) remove(h *Holder) {
	if _, ok := p.holders[h]; !ok {
		panic(fmt.Errorf("%w: holder not registered with %s", ErrCounterUnderflow, p))
	}
	delete(p.holders, h)
	if h.reference {
		p.unlinkRef()
	} else {
		p.unlinkPtr()
	}
}

// clearHolders nulls every holder still pointing at p.
func (p *Proxy) clearHolders() {
	for h := range p.holders {
		h.proxy = nil
	}
	p.holders = nil
	p.refCount, p.ptrCount = 0, 0
}

// reset swaps in obj without touching identity, list position or holders.
func (p *Proxy) reset(obj Object) {
	p.obj = obj
	p.bindKey()
}

// bindKey makes the proxy's key alias the object's primary key field.
func (p *Proxy) bindKey() {
	if p.obj == nil {
		p.pk.Isolate()
		return
	}
	f := &keyFinder{}
	if err := p.obj.Serialize(f); err != nil || f.key == nil {
		p.pk.Isolate()
		return
	}
	p.pk = identifier.Identifier{}
	p.pk.Share(f.key)
}

type keyFinder struct {
	BaseVisitor
	key *identifier.Identifier
}

func (f *keyFinder) OnPrimaryKey(_ string, id *identifier.Identifier) error {
	if f.key == nil {
		f.key = id
	}
	return nil
}
