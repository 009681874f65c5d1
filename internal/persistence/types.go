// Package persistence mirrors committed object graph transactions into a SQL
// table and hydrates a store from it on startup. The store itself never
// builds SQL; everything here goes through the Executor contract.
package persistence

import "graphstore/internal/persistence/core"

type (
	// Driver identifies a SQL backend.
	Driver = core.Driver
	// Executor runs SQL text against a backend.
	Executor = core.Executor
	// Tx is an open database transaction.
	Tx = core.Tx
	// Statement is a prepared statement.
	Statement = core.Statement
	// ResultSet is the outcome of one statement.
	ResultSet = core.ResultSet
	// Dialect captures backend SQL differences.
	Dialect = core.Dialect
)

const (
	// DriverMemory is the in-memory backend.
	DriverMemory = core.DriverMemory
	// DriverSQLite is the embedded SQLite backend.
	DriverSQLite = core.DriverSQLite
	// DriverPostgres is the PostgreSQL backend.
	DriverPostgres = core.DriverPostgres
)

// ObjectsTable is the table persisted objects live in.
const ObjectsTable = core.ObjectsTable
