// Package storage provides the object stores that database snapshots are
// shipped to.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blocklog/blocklog/internal/config"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// Object describes a stored object.
type Object struct {
	Key      string
	Size     int64
	Modified time.Time
}

// ObjectStorage is a flat key/value file store.
type ObjectStorage interface {
	// Upload copies the local file to key, replacing any existing object.
	Upload(ctx context.Context, localPath, key string) error

	// Download copies key to the local file.
	Download(ctx context.Context, key, localPath string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the objects under prefix sorted by key.
	List(ctx context.Context, prefix string) ([]Object, error)
}

// New builds the store selected by cfg.
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalStorage(cfg.Path)
	case "s3":
		return NewS3Storage(ctx, cfg.S3.Bucket, S3Config{
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("storage: unsupported type %q", cfg.Type)
	}
}
