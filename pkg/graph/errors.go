package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrTypeNotFound is returned when a type name or Go type was never attached.
	ErrTypeNotFound = errors.New("graph: type not attached")
	// ErrDuplicateType is returned when attaching a name or Go type twice.
	ErrDuplicateType = errors.New("graph: type already attached")
	// ErrAbstractType is returned when creating objects of an abstract type.
	ErrAbstractType = errors.New("graph: type is abstract")
	// ErrNotFound is returned when no proxy carries the requested id.
	ErrNotFound = errors.New("graph: object not found")
	// ErrDuplicateID is returned when loading an id that is already live.
	ErrDuplicateID = errors.New("graph: object id already in use")
	// ErrStillReferenced is returned by Remove when the owned subgraph is
	// still held from outside. The graph is left untouched.
	ErrStillReferenced = errors.New("graph: object still referenced")
	// ErrNotInserted is returned when mutating a proxy that does not belong to the store.
	ErrNotInserted = errors.New("graph: proxy not inserted in this store")
	// ErrAlreadyInserted is returned when inserting a proxy or object twice.
	ErrAlreadyInserted = errors.New("graph: object already inserted")
	// ErrNilObject is returned when inserting a proxy without an object.
	ErrNilObject = errors.New("graph: nil object")
	// ErrTransactionActive is returned by operations that are not allowed while a
	// transaction is in progress.
	ErrTransactionActive = errors.New("graph: transaction in progress")
	// ErrTransactionFailed is returned by Commit when a backup failed earlier in
	// the transaction; the transaction has been rolled back.
	ErrTransactionFailed = errors.New("graph: transaction failed")
	// ErrNotCurrent signals a commit or rollback on a transaction that is not on
	// top of the store's transaction stack. It is raised by panic.
	ErrNotCurrent = errors.New("graph: transaction is not current")
	// ErrRelationType signals a relation assigned a proxy of the wrong object
	// type. It is raised by panic.
	ErrRelationType = errors.New("graph: relation target has wrong type")
	// ErrCounterUnderflow signals an unbalanced holder release. It is raised by panic.
	ErrCounterUnderflow = errors.New("graph: holder counter underflow")
)

func mustApply(label string, err error) {
	if err != nil {
		panic(fmt.Errorf("graph %s: %w", label, err))
	}
}
