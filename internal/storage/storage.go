// Package storage provides the object storage that store snapshots are
// uploaded to.
package storage

import (
	"context"
	"errors"
	"time"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
	ErrListFailed     = errors.New("list failed")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Path         string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ObjectStorage abstracts the object store. Object paths use forward
// slashes regardless of the backend.
type ObjectStorage interface {
	// Upload copies the file at localPath to objectPath and returns its ETag.
	Upload(ctx context.Context, localPath, objectPath string) (string, error)

	// Download copies objectPath to localPath, creating parent directories.
	// A missing object yields ErrObjectNotFound.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes objectPath. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists reports whether objectPath exists.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns the objects under prefix, sorted by path.
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// MultipartUploadConfig holds configuration for multipart uploads.
type MultipartUploadConfig struct {
	// PartSize is the size of each part in bytes (default: 8MB). Files no
	// larger than one part are sent with a single PUT.
	PartSize int64
}

// DefaultMultipartConfig returns the default multipart upload configuration.
func DefaultMultipartConfig() MultipartUploadConfig {
	return MultipartUploadConfig{
		PartSize: 8 * 1024 * 1024,
	}
}
