package keystore

import (
	"context"
	"errors"
	"fmt"

	"github.com/folkehelseinstituttet/helseid-tools/pkg/config"
)

// FileStore defines the file operations the CLIs need for key material
type FileStore interface {
	// ReadText returns the content of a text file
	ReadText(ctx context.Context, path string) (string, error)

	// WriteText creates or replaces a text file
	WriteText(ctx context.Context, path, content string) error

	// WriteBytes creates or replaces a binary file
	WriteBytes(ctx context.Context, path string, data []byte) error

	// WritePrivate creates or replaces a file holding private key material
	WritePrivate(ctx context.Context, path string, data []byte) error

	// PathExists reports whether a file or directory exists
	PathExists(ctx context.Context, path string) (bool, error)

	// CreateDirectory creates a directory and its parents
	CreateDirectory(ctx context.Context, path string) error

	// Join builds a path in the store's own separator convention
	Join(elem ...string) string
}

// ErrNotFound is returned when a file does not exist
type ErrNotFound struct {
	Path string
}

func (e *ErrNotFound) Error() string {
	return "file not found: " + e.Path
}

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}

// Backend names accepted by Open.
const (
	BackendLocal  = "local"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// Open returns the FileStore selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig) (FileStore, error) {
	switch cfg.Backend {
	case "", BackendLocal:
		return NewLocalStore(), nil
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendS3:
		store, err := NewS3Store(ctx, S3Config{
			BucketHost:      cfg.BucketHost,
			BucketPort:      cfg.BucketPort,
			BucketName:      cfg.BucketName,
			Prefix:          cfg.Prefix,
			UseSSL:          cfg.UseSSL,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 key store: %w", err)
		}
		if err := store.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to S3 key store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
