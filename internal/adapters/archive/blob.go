// Package archive stores batch reports in a blob store.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Blob drivers.
const (
	DriverNone   = "none"
	DriverMemory = "memory"
	DriverFS     = "fs"
	DriverS3     = "s3"
)

// Sentinel errors returned by blob stores.
var (
	ErrNotFound          = errors.New("archive: blob not found")
	ErrExists            = errors.New("archive: blob already exists")
	ErrInvalidKey        = errors.New("archive: invalid key")
	ErrUnsupportedDriver = errors.New("archive: unsupported driver")
	ErrBucketRequired    = errors.New("archive: s3 bucket required")
)

// Info describes a stored blob.
type Info struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size_bytes"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Blob is a create-only key/value store of byte streams.
type Blob interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() string
}

// cleanKey rejects keys that are empty, absolute or escape the store root.
func cleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return path.Clean(key), nil
}
