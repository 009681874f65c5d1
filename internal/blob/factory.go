package blob

import (
	"context"
	"fmt"
	"os"

	"graphstore/internal/infra/blob/fs"
	"graphstore/internal/infra/blob/memory"
	"graphstore/internal/infra/blob/s3"
)

// Options selects and configures a blob backend.
type Options struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// S3Config mirrors the S3 backend parameters.
type S3Config = s3.Config

// Open builds the Store named by opts.Driver. An empty driver or DriverNone
// yields a nil Store and no error.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", DriverNone:
		return nil, nil
	case DriverFilesystem:
		return fs.New(opts.FSRoot)
	case DriverS3:
		return s3.New(ctx, opts.S3)
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", opts.Driver)
	}
}

// OpenFromEnv selects a Store using environment variables.
//
//	GRAPHSTORE_BLOB_DRIVER: none|memory|fs|s3 (default none)
//	GRAPHSTORE_BLOB_FS_ROOT: directory root when driver=fs (default ./journal)
//	GRAPHSTORE_BLOB_S3_*: see the s3 backend
func OpenFromEnv(ctx context.Context) (Store, error) {
	opts := Options{Driver: Driver(os.Getenv("GRAPHSTORE_BLOB_DRIVER")), FSRoot: os.Getenv("GRAPHSTORE_BLOB_FS_ROOT")}
	if opts.Driver == DriverS3 {
		cfg, err := s3.ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		opts.S3 = cfg
	}
	return Open(ctx, opts)
}

// NewMemory returns an in-memory Store.
func NewMemory() Store { return memory.New() }

// NewS3Mock returns an S3 Store backed by an in-process fake bucket.
func NewS3Mock() Store { return s3.NewMock() }
