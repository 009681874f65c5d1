package graph

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"reflect"
	"slices"
	"time"

	"graphstore/internal/buffer"
	"graphstore/pkg/identifier"
)

// Store owns the proxies of every attached type, hands out ids and routes
// mutations to the current transaction. It is not safe for concurrent use.
type Store struct {
	registry   *Registry
	proxies    map[uint64]*Proxy
	objects    map[Object]*Proxy
	seq        Sequencer
	serializer *Serializer
	logger     *slog.Logger
	bufferOpts []buffer.Option
	stack      []*Transaction
	observers  []TransactionObserver
	enlisted   []CommitParticipant
	nowFn      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithSequencer replaces the in-memory id sequencer.
func WithSequencer(seq Sequencer) Option {
	return func(s *Store) {
		if seq != nil {
			s.seq = seq
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBufferOptions configures the backup buffer of every new transaction.
func WithBufferOptions(opts ...buffer.Option) Option {
	return func(s *Store) { s.bufferOpts = append(s.bufferOpts, opts...) }
}

// WithObserver registers a transaction observer.
func WithObserver(o TransactionObserver) Option {
	return func(s *Store) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithClock overrides the time source used for transaction timing.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		registry: newRegistry(),
		proxies:  make(map[uint64]*Proxy),
		objects:  make(map[Object]*Proxy),
		seq:      NewMemorySequencer(),
		logger:   slog.Default(),
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.serializer = NewSerializer(s)
	s.seq.Init()
	return s
}

// Registry returns the type registry.
func (s *Store) Registry() *Registry { return s.registry }

// Serializer returns the snapshot serializer bound to the store.
func (s *Store) Serializer() *Serializer { return s.serializer }

// Sequencer returns the id sequencer.
func (s *Store) Sequencer() Sequencer { return s.seq }

// Logger returns the store's logger.
func (s *Store) Logger() *slog.Logger { return s.logger }

type attachConfig struct {
	parent string
}

// AttachOption configures Attach.
type AttachOption func(*attachConfig)

// WithParent attaches the new type below an already attached type.
func WithParent(name string) AttachOption {
	return func(c *attachConfig) { c.parent = name }
}

// Attach registers the object type PT under name and keeps a default
// constructed prototype for introspection.
func Attach[T any, PT interface {
	*T
	Object
}](s *Store, name string, opts ...AttachOption) (*Node, error) {
	var cfg attachConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := func() Object { return PT(new(T)) }
	n, err := s.registry.attach(name, cfg.parent, reflect.TypeFor[PT](), factory)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("type attached", "type", name, "parent", cfg.parent, "depth", n.depth)
	return n, nil
}

// AttachAbstract registers a type that only groups subtypes.
func (s *Store) AttachAbstract(name string, opts ...AttachOption) (*Node, error) {
	var cfg attachConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	n, err := s.registry.attach(name, cfg.parent, nil, nil)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("abstract type attached", "type", name, "parent", cfg.parent, "depth", n.depth)
	return n, nil
}

// Detach destroys every object of the named type and its subtypes, then
// removes the types from the registry.
func (s *Store) Detach(name string) error {
	if len(s.stack) > 0 {
		return fmt.Errorf("detach %q: %w", name, ErrTransactionActive)
	}
	n, err := s.registry.require(name)
	if err != nil {
		return err
	}
	ps := slices.Collect(n.All())
	s.destroy(ps)
	s.registry.detach(n)
	s.logger.Debug("type detached", "type", name, "destroyed", len(ps))
	return nil
}

// Clear destroys every object in the store. Attached types stay.
func (s *Store) Clear() error {
	if len(s.stack) > 0 {
		return fmt.Errorf("clear: %w", ErrTransactionActive)
	}
	s.destroy(slices.Collect(s.registry.root.All()))
	return nil
}

// Len returns the number of live proxies, placeholders included.
func (s *Store) Len() int { return len(s.proxies) }

// Find returns the proxy with the given id.
func (s *Store) Find(id uint64) (*Proxy, error) {
	p, ok := s.proxies[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return p, nil
}

// ProxyOf returns the proxy wrapping obj.
func (s *Store) ProxyOf(obj Object) (*Proxy, bool) {
	if obj == nil {
		return nil, false
	}
	if _, ok := s.registry.NodeOf(obj); !ok {
		return nil, false
	}
	p, ok := s.objects[obj]
	return p, ok
}

// FindByKey returns the proxy of the named type, or any of its subtypes,
// whose primary key equals key.
func (s *Store) FindByKey(typeName string, key identifier.Identifier) (*Proxy, error) {
	n, err := s.registry.require(typeName)
	if err != nil {
		return nil, err
	}
	if key.IsValid() {
		var found *Proxy
		walkNodes(n, func(cur *Node) bool {
			found = cur.lookup(key)
			return found == nil
		})
		if found != nil {
			return found, nil
		}
	}
	return nil, fmt.Errorf("%w: %s key %s", ErrNotFound, typeName, key)
}

func walkNodes(n *Node, fn func(*Node) bool) bool {
	if !fn(n) {
		return false
	}
	for _, c := range n.children {
		if !walkNodes(c, fn) {
			return false
		}
	}
	return true
}

// Objects yields the proxies of exactly the named type.
func (s *Store) Objects(typeName string) iter.Seq[*Proxy] {
	n, ok := s.registry.Node(typeName)
	if !ok {
		return func(func(*Proxy) bool) {}
	}
	return n.Objects()
}

// All yields the proxies of the named type and its subtypes. An empty name
// yields every proxy in the store.
func (s *Store) All(typeName string) iter.Seq[*Proxy] {
	if typeName == "" {
		return s.registry.root.All()
	}
	n, ok := s.registry.Node(typeName)
	if !ok {
		return func(func(*Proxy) bool) {}
	}
	return n.All()
}

// Insert wraps obj in a new proxy and inserts it.
func (s *Store) Insert(obj Object) (*Proxy, error) {
	if obj == nil {
		return nil, ErrNilObject
	}
	if p, ok := s.ProxyOf(obj); ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInserted, p)
	}
	p := NewProxy(obj)
	if err := s.InsertProxy(p); err != nil {
		return nil, err
	}
	return p, nil
}

// InsertProxy inserts a detached proxy together with every detached target
// reachable through owning relations flagged CascadeInsert. Either all of
// them are inserted or none.
func (s *Store) InsertProxy(p *Proxy) error {
	if p == nil {
		return ErrNilObject
	}
	if p.store != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyInserted, p)
	}
	return s.autocommit(func() error { return s.insertProxy(p) })
}

func (s *Store) insertProxy(p *Proxy) error {
	batch, err := s.collectInsert(p)
	if err != nil {
		return err
	}
	for _, b := range batch {
		s.register(b.proxy, b.node)
	}
	tx := s.Current()
	for _, b := range batch {
		if tx != nil {
			tx.onInsert(b.proxy)
		}
		s.logger.Debug("object inserted", "object", b.proxy.String(), "key", b.proxy.pk.String())
	}
	return nil
}

type pendingInsert struct {
	proxy *Proxy
	node  *Node
}

func (s *Store) collectInsert(root *Proxy) ([]pendingInsert, error) {
	var out []pendingInsert
	seen := make(map[*Proxy]bool)
	var walk func(p *Proxy) error
	walk = func(p *Proxy) error {
		if seen[p] {
			return nil
		}
		seen[p] = true
		if p.obj == nil {
			return ErrNilObject
		}
		n, ok := s.registry.NodeOf(p.obj)
		if !ok {
			return fmt.Errorf("%w: %T", ErrTypeNotFound, p.obj)
		}
		if other, ok := s.objects[p.obj]; ok && other != p {
			return fmt.Errorf("%w: %T already wrapped by %s", ErrAlreadyInserted, p.obj, other)
		}
		out = append(out, pendingInsert{proxy: p, node: n})
		c := &cascadeCollector{flag: CascadeInsert}
		if err := p.obj.Serialize(c); err != nil {
			return fmt.Errorf("inspect %T: %w", p.obj, err)
		}
		for _, t := range c.targets {
			if t.store != nil {
				continue
			}
			if err := walk(t); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) register(p *Proxy, n *Node) {
	p.id = s.seq.Next()
	p.store = s
	s.proxies[p.id] = p
	s.objects[p.obj] = p
	n.insert(p)
	p.bindKey()
	if p.pk.IsShared() && !p.pk.IsValid() {
		if p.pk.IsNull() {
			identifier.Set(&p.pk, p.id)
		} else {
			p.pk.SetIntegral(p.id)
		}
	}
	n.index(p)
}

// cascadeCollector gathers the targets of owning relations carrying flag.
type cascadeCollector struct {
	BaseVisitor
	flag    Cascade
	targets []*Proxy
}

func (c *cascadeCollector) OnHasOne(_ string, h *Holder, cascade Cascade) error {
	if h.proxy != nil && cascade.Has(c.flag) {
		c.targets = append(c.targets, h.proxy)
	}
	return nil
}

func (c *cascadeCollector) OnHasMany(_ string, coll *Collection, cascade Cascade) error {
	if !cascade.Has(c.flag) {
		return nil
	}
	for _, h := range coll.items {
		if h.proxy != nil {
			c.targets = append(c.targets, h.proxy)
		}
	}
	return nil
}

func (s *Store) owns(p *Proxy) error {
	if p == nil || p.sentinel || p.store != s {
		return fmt.Errorf("%w: %s", ErrNotInserted, p)
	}
	if p.obj == nil {
		return fmt.Errorf("%w: %s is a placeholder", ErrNilObject, p)
	}
	return nil
}

// Update tells the current transaction that p is about to change, so its
// present state can be restored on rollback. Owned targets flagged
// CascadeUpdate are backed up as well. Without a transaction Update only
// validates p: callers mutating objects outside a transaction use Modify so
// that commit participants see the change.
func (s *Store) Update(p *Proxy) error {
	if err := s.owns(p); err != nil {
		return err
	}
	tx := s.Current()
	if tx == nil {
		return nil
	}
	seen := map[*Proxy]bool{p: true}
	queue := []*Proxy{p}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if err := tx.onUpdate(cur); err != nil {
			return err
		}
		c := &cascadeCollector{flag: CascadeUpdate}
		if err := cur.obj.Serialize(c); err != nil {
			return fmt.Errorf("inspect %s: %w", cur, err)
		}
		for _, t := range c.targets {
			if !seen[t] && t.store == s && t.obj != nil {
				seen[t] = true
				queue = append(queue, t)
			}
		}
	}
	return nil
}

// Modify runs fn against the object of p after recording the update. If fn
// fails the object is restored to its state before the call.
func (s *Store) Modify(p *Proxy, fn func(Object) error) error {
	if err := s.owns(p); err != nil {
		return err
	}
	return s.autocommit(func() error { return s.modify(p, fn) })
}

func (s *Store) modify(p *Proxy, fn func(Object) error) error {
	before, err := s.serializer.Encode(p.obj)
	if err != nil {
		return err
	}
	if err := s.Update(p); err != nil {
		return err
	}
	if err := fn(p.obj); err != nil {
		if rerr := s.serializer.Decode(before, p.obj); rerr != nil {
			return errors.Join(err, fmt.Errorf("restore %s: %w", p, rerr))
		}
		p.node.index(p)
		return err
	}
	p.node.index(p)
	return nil
}

// IsDeletable reports whether p and everything it owns through
// CascadeDelete relations could be removed without leaving holders behind.
func (s *Store) IsDeletable(p *Proxy) (bool, error) {
	if p == nil || p.store != s {
		return false, fmt.Errorf("%w: %s", ErrNotInserted, p)
	}
	return NewDeleter().IsDeletable(p)
}

// Remove deletes p and the subgraph it owns through CascadeDelete relations.
// When anything outside that subgraph still holds into it, Remove returns
// ErrStillReferenced and changes nothing.
func (s *Store) Remove(p *Proxy) error {
	if p == nil || p.sentinel || p.store != s {
		return fmt.Errorf("%w: %s", ErrNotInserted, p)
	}
	d := NewDeleter()
	ok, err := d.IsDeletable(p)
	if err != nil {
		return err
	}
	if !ok {
		blockers := d.Blockers()
		s.logger.Warn("remove refused", "object", p.String(), "blockers", len(blockers))
		return fmt.Errorf("%w: %s (%d held from outside)", ErrStillReferenced, p, len(blockers))
	}
	return s.autocommit(func() error { return s.remove(p, d.Targets()) })
}

func (s *Store) remove(p *Proxy, targets []*Proxy) error {
	if tx := s.Current(); tx != nil {
		if err := tx.onDelete(targets); err != nil {
			return err
		}
	}
	s.destroy(targets)
	s.logger.Debug("object removed", "object", p.String(), "cascaded", len(targets)-1)
	return nil
}

// Resolve returns the proxy with id, creating an empty placeholder in the
// named type when the id is not live. Inside a transaction the placeholder
// is logged like an insert, so Rollback removes it again.
func (s *Store) Resolve(typeName string, id uint64) (*Proxy, error) {
	if p, ok := s.proxies[id]; ok {
		return p, nil
	}
	if id == 0 {
		return nil, fmt.Errorf("resolve %s: zero id", typeName)
	}
	n, err := s.registry.require(typeName)
	if err != nil {
		return nil, err
	}
	p := &Proxy{id: id, store: s}
	n.insert(p)
	s.proxies[id] = p
	s.seq.Update(id)
	if tx := s.Current(); tx != nil && !tx.undoing {
		tx.onPlaceholder(p)
	}
	return p, nil
}

// Load creates an object of the named type under a known id and lets fill
// populate it. A placeholder with that id is reused so existing holders stay
// attached. Loads are never logged, so Load refuses to run inside a
// transaction.
func (s *Store) Load(typeName string, id uint64, fill func(Object) error) (*Proxy, error) {
	if len(s.stack) > 0 {
		return nil, fmt.Errorf("load %s#%d: %w", typeName, id, ErrTransactionActive)
	}
	return s.load(typeName, id, fill)
}

func (s *Store) load(typeName string, id uint64, fill func(Object) error) (*Proxy, error) {
	if id == 0 {
		return nil, fmt.Errorf("load %s: zero id", typeName)
	}
	n, err := s.registry.require(typeName)
	if err != nil {
		return nil, err
	}
	if n.abstract {
		return nil, fmt.Errorf("%w: %q", ErrAbstractType, typeName)
	}
	p, exists := s.proxies[id]
	switch {
	case exists && p.obj != nil:
		return nil, fmt.Errorf("%w: %d", ErrDuplicateID, id)
	case exists:
		if p.node != n {
			p.node.remove(p)
			n.insert(p)
		}
	default:
		p = &Proxy{id: id, store: s}
		n.insert(p)
		s.proxies[id] = p
	}
	obj := n.factory()
	p.reset(obj)
	s.objects[obj] = p
	if err := fill(obj); err != nil {
		delete(s.objects, obj)
		if rerr := obj.Serialize(releaser{}); rerr != nil {
			err = errors.Join(err, rerr)
		}
		p.reset(nil)
		p.pk = identifier.Identifier{}
		if !exists {
			s.unregister(p)
			p.store = nil
		}
		return nil, fmt.Errorf("load %s#%d: %w", typeName, id, err)
	}
	n.index(p)
	s.seq.Update(id)
	return p, nil
}

func (s *Store) unregister(p *Proxy) {
	if p.node != nil {
		p.node.remove(p)
	}
	delete(s.proxies, p.id)
	if p.obj != nil {
		delete(s.objects, p.obj)
	}
}

// destroy unlinks ps, releases the relations their objects hold and nulls
// every holder still pointing at them.
func (s *Store) destroy(ps []*Proxy) {
	for _, p := range ps {
		s.unregister(p)
	}
	for _, p := range ps {
		if p.obj == nil {
			continue
		}
		if err := p.obj.Serialize(releaser{}); err != nil {
			s.logger.Error("release relations", "object", p.String(), "error", err)
		}
	}
	for _, p := range ps {
		p.clearHolders()
		p.pk.Isolate()
		p.obj = nil
		p.node = nil
		p.store = nil
	}
}

type releaser struct{ BaseVisitor }

func (releaser) OnHasOne(_ string, h *Holder, _ Cascade) error {
	h.Clear()
	return nil
}

func (releaser) OnBelongsTo(_ string, h *Holder, _ Cascade) error {
	h.Clear()
	return nil
}

func (releaser) OnHasMany(_ string, c *Collection, _ Cascade) error {
	c.Clear()
	return nil
}

// Current returns the transaction receiving mutation callbacks, or nil.
func (s *Store) Current() *Transaction {
	if len(s.stack) == 0 {
		return nil
	}
	return s.stack[len(s.stack)-1]
}

// PushTransaction makes tx the current transaction. Transaction.Begin calls it.
func (s *Store) PushTransaction(tx *Transaction) {
	if tx.store != s {
		mustApply("push transaction", fmt.Errorf("%w: transaction bound to another store", ErrNotCurrent))
	}
	s.stack = append(s.stack, tx)
}

// PopTransaction removes and returns the current transaction.
func (s *Store) PopTransaction() *Transaction {
	tx := s.Current()
	if tx != nil {
		s.stack = s.stack[:len(s.stack)-1]
	}
	return tx
}

// OnCommit registers a listener run on every outermost commit.
func (s *Store) OnCommit(l CommitListener) {
	if l != nil {
		s.Enlist(listenerParticipant(l))
	}
}

// Enlist adds a two-phase participant to every outermost commit.
func (s *Store) Enlist(p CommitParticipant) {
	if p != nil {
		s.enlisted = append(s.enlisted, p)
	}
}

// autocommit runs op in an implicit transaction when none is current and
// commit participants are enlisted, so that they see every change.
func (s *Store) autocommit(op func() error) error {
	if s.Current() != nil || len(s.enlisted) == 0 {
		return op()
	}
	return s.RunInTransaction(context.Background(), func(*Transaction) error { return op() })
}

// RunInTransaction runs fn inside a new transaction, committing when fn
// returns nil and rolling back on error or panic.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx *Transaction) error) (err error) {
	tx := s.Begin()
	defer func() {
		if r := recover(); r != nil {
			if tx.state == TxActive && s.Current() == tx {
				_ = tx.Rollback()
			}
			panic(r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := fn(tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	return tx.Commit(ctx)
}
