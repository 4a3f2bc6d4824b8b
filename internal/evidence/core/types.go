// Package core defines the storage abstraction for CAPA evidence files. It
// is imported by the backends; callers should use package evidence instead.
package core

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete evidence storage backend.
type Driver string

const (
	// DriverFilesystem stores evidence under a local directory.
	DriverFilesystem Driver = "fs"
	// DriverS3 stores evidence in an S3 / MinIO compatible bucket.
	DriverS3 Driver = "s3"
	// DriverMemory keeps evidence in process memory (tests).
	DriverMemory Driver = "memory"
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// SignedURLOptions holds options for generating a download URL.
type SignedURLOptions struct {
	Method string        // only GET
	Expiry time.Duration // default 15m
}

// Info describes a stored evidence file.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	URL          string            `json:"url,omitempty"`
}

// Store is a create-only object store keyed by slash separated paths.
type Store interface {
	// Put stores a new object at key and fails with ErrExists if key is taken.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	// Delete reports false when the key did not exist.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns objects under prefix ordered by key.
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

var (
	// ErrUnsupported is returned when a backend lacks an optional capability.
	ErrUnsupported = errors.New("evidence: unsupported operation")
	// ErrExists is returned by Put when the key is already stored.
	ErrExists = errors.New("evidence: object already exists")
	// ErrNotFound is returned when a key is missing.
	ErrNotFound = errors.New("evidence: object not found")
)
