// Package blob re-exports the archive storage contract and wires the
// infra-backed implementations. Code outside this package depends on
// blob.Store, never on internal/infra/blob directly.
package blob

import (
	"graphstore/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

// DriverNone disables archiving; Open returns a nil Store.
const DriverNone Driver = "none"

var (
	ErrExists     = core.ErrExists
	ErrNotFound   = core.ErrNotFound
	ErrInvalidKey = core.ErrInvalidKey
)
