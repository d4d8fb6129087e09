package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// BlobStore is an in-memory object store implementing domain.BlobWriter
// and domain.BlobReader.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string][]byte)}
}

func (b *BlobStore) Put(_ context.Context, path string, data io.Reader, _ string) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.objects[path] = raw
	b.mu.Unlock()
	return nil
}

func (b *BlobStore) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return b.Put(ctx, path, data, "")
}

func (b *BlobStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	raw, ok := b.objects[path]
	if !ok {
		return nil, fmt.Errorf("memory: blob %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (b *BlobStore) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []domain.BlobInfo
	for p, raw := range b.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(raw)), LastModified: time.Now().UTC()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (b *BlobStore) Exists(_ context.Context, path string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.objects[path]
	return ok, nil
}

var (
	_ domain.BlobWriter = (*BlobStore)(nil)
	_ domain.BlobReader = (*BlobStore)(nil)
)
