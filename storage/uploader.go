package storage

import (
	"context"
	"io"
)

// UploadResult describes a stored report artifact.
type UploadResult struct {
	Key      string
	Location string
	ETag     string
}

// FileUploader stores generated report files and resolves the public URL they
// are served from. Export keys carry a timestamp, so artifacts are written
// once and never mutated.
type FileUploader interface {
	Upload(ctx context.Context, key string, contentType string, reader io.Reader) (*UploadResult, error)

	GetPublicURL(key string) string
}
