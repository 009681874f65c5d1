// Package graph is an in-process object graph store.
//
// Domain types implement Object by reporting their fields to a FieldVisitor.
// Types are attached to a Store under a name, optionally below a parent type,
// and every inserted object is wrapped in a Proxy that carries its id, its
// primary key and the holders pointing at it. Relations are modelled by
// HasOne and HasMany (owning) and BelongsTo (non-owning); the distinction
// decides whether an object may be removed.
//
// Mutations are routed to the current Transaction, which snapshots prior
// state so that Rollback restores the graph exactly:
//
//	tx := store.Begin()
//	if err := store.Update(p); err != nil {
//		return errors.Join(err, tx.Rollback())
//	}
//	p.Object().(*Owner).Name = "renamed"
//	return tx.Commit(ctx)
//
// A Store is single threaded. Callers sharing one across goroutines must
// serialize access themselves.
package graph
