package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver exports settled history to cold storage. Rows are copied, never deleted.
type Archiver interface {
	ArchiveOperations(ctx context.Context, before time.Time) (int64, error)
	ArchiveAnalyses(ctx context.Context, before time.Time) (int64, error)
}
