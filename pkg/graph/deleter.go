package graph

import "fmt"

type deleteEntry struct {
	proxy   *Proxy
	refs    int
	ptrs    int
	ignore  bool
	visited bool
}

// Deleter decides whether a set of roots can be removed together with the
// objects they own. Starting from the roots it follows owning relations
// flagged CascadeDelete, discounting every edge that originates inside the
// visited set. Objects reached any other way are recorded but ignored unless
// they are also reached through an owning cascade.
//
// The set is deletable when every non-ignored entry ends with no remaining
// references or pointers, i.e. nothing outside the set holds into it.
type Deleter struct {
	entries map[*Proxy]*deleteEntry
	order   []*deleteEntry
}

// NewDeleter returns an empty deleter.
func NewDeleter() *Deleter {
	return &Deleter{entries: make(map[*Proxy]*deleteEntry)}
}

// IsDeletable reports whether root and its owned subgraph can be removed.
func (d *Deleter) IsDeletable(root *Proxy) (bool, error) {
	return d.IsDeletableAll([]*Proxy{root})
}

// IsDeletableAll reports whether all roots and their owned subgraphs can be
// removed in one step.
func (d *Deleter) IsDeletableAll(roots []*Proxy) (bool, error) {
	d.entries = make(map[*Proxy]*deleteEntry)
	d.order = nil
	for _, root := range roots {
		e := d.entry(root)
		e.ignore = false
		if err := d.visit(e); err != nil {
			return false, err
		}
	}
	for _, e := range d.order {
		if e.ignore {
			continue
		}
		if e.refs != 0 || e.ptrs != 0 {
			return false, nil
		}
	}
	return true, nil
}

// Targets returns the proxies that would be removed, roots first, in
// discovery order. Valid after IsDeletable.
func (d *Deleter) Targets() []*Proxy {
	out := make([]*Proxy, 0, len(d.order))
	for _, e := range d.order {
		if !e.ignore {
			out = append(out, e.proxy)
		}
	}
	return out
}

// Blockers returns the members of the set that are still held from outside.
func (d *Deleter) Blockers() []*Proxy {
	var out []*Proxy
	for _, e := range d.order {
		if !e.ignore && (e.refs != 0 || e.ptrs != 0) {
			out = append(out, e.proxy)
		}
	}
	return out
}

func (d *Deleter) entry(p *Proxy) *deleteEntry {
	if e, ok := d.entries[p]; ok {
		return e
	}
	e := &deleteEntry{proxy: p, refs: p.refCount, ptrs: p.ptrCount, ignore: true}
	d.entries[p] = e
	d.order = append(d.order, e)
	return e
}

func (d *Deleter) visit(e *deleteEntry) error {
	if e.visited {
		return nil
	}
	e.visited = true
	if e.proxy.obj == nil {
		return nil
	}
	walker := &deleteWalker{d: d}
	if err := e.proxy.obj.Serialize(walker); err != nil {
		return fmt.Errorf("inspect %s: %w", e.proxy, err)
	}
	for _, next := range walker.owned {
		if err := d.visit(next); err != nil {
			return err
		}
	}
	return nil
}

// edge spends one edge from inside the set into h's target.
func (d *Deleter) edge(h *Holder, cascade Cascade) *deleteEntry {
	if h.proxy == nil {
		return nil
	}
	e := d.entry(h.proxy)
	if h.reference {
		e.refs--
	} else {
		e.ptrs--
	}
	if h.reference || !cascade.Has(CascadeDelete) {
		return nil
	}
	e.ignore = false
	return e
}

type deleteWalker struct {
	BaseVisitor
	d     *Deleter
	owned []*deleteEntry
}

func (w *deleteWalker) follow(e *deleteEntry) {
	if e != nil && !e.visited {
		w.owned = append(w.owned, e)
	}
}

func (w *deleteWalker) OnHasOne(_ string, h *Holder, cascade Cascade) error {
	w.follow(w.d.edge(h, cascade))
	return nil
}

func (w *deleteWalker) OnBelongsTo(_ string, h *Holder, cascade Cascade) error {
	w.follow(w.d.edge(h, cascade))
	return nil
}

func (w *deleteWalker) OnHasMany(_ string, c *Collection, cascade Cascade) error {
	for _, h := range c.items {
		w.follow(w.d.edge(h, cascade))
	}
	return nil
}
