// Package evidence exposes the evidence store abstraction and selects a
// backend. It is the only package allowed to import the infra backends.
package evidence

import (
	"context"
	"fmt"
	"strings"

	"github.com/salehzaid/slamaty-sub000/internal/evidence/core"
	"github.com/salehzaid/slamaty-sub000/internal/infra/evidence/fs"
	"github.com/salehzaid/slamaty-sub000/internal/infra/evidence/memory"
	"github.com/salehzaid/slamaty-sub000/internal/infra/evidence/s3"
)

type (
	// Driver identifies an evidence backend.
	Driver = core.Driver
	// PutOptions configures a write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures download URLs.
	SignedURLOptions = core.SignedURLOptions
	// Info describes a stored file.
	Info = core.Info
	// Store is implemented by every backend.
	Store = core.Store
	// S3Config configures the S3 backend.
	S3Config = s3.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrUnsupported = core.ErrUnsupported
	ErrExists      = core.ErrExists
	ErrNotFound    = core.ErrNotFound
)

// Config selects and configures a backend.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open builds the configured store. An empty driver selects the filesystem.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := Driver(strings.ToLower(string(cfg.Driver)))
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case DriverS3:
		return s3.New(ctx, cfg.S3)
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown evidence driver %s", cfg.Driver)
	}
}

// NewMemory returns an in-memory store for tests.
func NewMemory() Store { return memory.New() }

// ActionKey builds the storage key of a file attached to a CAPA action.
func ActionKey(capaID, actionID, name string) string {
	return "capas/" + capaID + "/actions/" + actionID + "/" + name
}

// ActionPrefix is the key prefix of every file attached to an action.
func ActionPrefix(capaID, actionID string) string {
	return "capas/" + capaID + "/actions/" + actionID + "/"
}
