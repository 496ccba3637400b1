package storage

import (
	"context"
	"io"
)

// UploadResult describes a stored object. Location is empty when the bucket
// has no public base URL.
type UploadResult struct {
	Key      string
	Location string
	ETag     string
}

// FileUploader is the object store behind the results archive.
type FileUploader interface {
	Upload(ctx context.Context, key string, contentType string, reader io.Reader) (*UploadResult, error)
	// Delete succeeds when the key does not exist.
	Delete(ctx context.Context, key string) error
	GetPublicURL(key string) string
}
