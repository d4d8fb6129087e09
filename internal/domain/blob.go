package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo is the listing entry of one stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter stores objects by path, replacing any object already there.
// PutMultipart is for bodies too large to send in one request.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads stored objects. Get on a missing path returns an error
// wrapping ErrNotFound; Exists reports it as false instead.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies pool events older than a cutoff to object storage and
// returns how many it wrote.
type Archiver interface {
	ArchiveEvents(ctx context.Context, before time.Time) (int64, error)
}
