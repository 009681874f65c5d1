// Package memory provides an in-memory SQL backend for tests and ephemeral
// environments. It registers a database/sql driver per store so statement
// history and table contents can be inspected.
package memory

import (
	"database/sql"
	"fmt"
	"sync/atomic"

	"graphstore/internal/infra/persistence/sqlexec"
	"graphstore/internal/persistence/core"
)

var driverSeq atomic.Uint64

// Store executes statements against an in-memory table set.
type Store struct {
	*sqlexec.DB
	conn *Conn
}

// NewStore registers a fresh driver instance and opens a store over it.
func NewStore() *Store {
	conn := &Conn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("graphstore-memory-%d", driverSeq.Add(1))
	sql.Register(name, &memDriver{conn: conn})
	db, err := sql.Open(name, "memory")
	if err != nil {
		panic(err)
	}
	db.SetMaxOpenConns(1)
	return &Store{
		DB:   sqlexec.New(db, core.DriverMemory, core.Dialect{Name: "memory"}),
		conn: conn,
	}
}

// Conn exposes the backing connection for inspection and fault injection.
func (s *Store) Conn() *Conn { return s.conn }
