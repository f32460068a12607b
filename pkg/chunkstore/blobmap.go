package chunkstore

import (
	"context"
	"fmt"
)

// BlobMap is a thin adapter over the chunk store for callers that want a flat
// content-addressed blob map and do not care about chunk boundaries: one
// blob, one hash, one reference count.
type BlobMap struct {
	s *ChunkStore
}

// BlobMap returns the flat blob view of the store.
func (s *ChunkStore) BlobMap() *BlobMap {
	return &BlobMap{s: s}
}

// EnsureBlob stores data under its content hash, or takes another reference
// when the blob already exists. Returns whether this call created the blob
// and its storage path. An empty hash is computed from data.
func (b *BlobMap) EnsureBlob(ctx context.Context, hash string, data []byte) (bool, string, error) {
	if hash == "" {
		hash = CalcChunkHash(data)
	}
	return b.s.storeChunk(ctx, data, hash)
}

// ReadBlob returns the decoded blob payload.
func (b *BlobMap) ReadBlob(ctx context.Context, hash string) ([]byte, error) {
	return b.s.readChunk(ctx, hash)
}

// IncRef takes an additional reference on an existing blob.
func (b *BlobMap) IncRef(ctx context.Context, hash string) (int64, error) {
	refs, err := b.s.mds.IncrementRefIfExists(ctx, hash)
	if err != nil {
		return 0, err
	}
	if refs == 0 {
		return 0, fmt.Errorf("%w: %s", ErrChunkNotFound, hash)
	}
	return refs, nil
}

// DecRef drops one reference; at zero the blob and its payload are removed.
// Returns the remaining count.
func (b *BlobMap) DecRef(ctx context.Context, hash string) (int64, error) {
	refs, _, err := b.s.mds.DecrementRef(ctx, hash)
	if err != nil {
		return 0, err
	}
	if refs == 0 {
		if derr := b.s.backend.Delete(ctx, hash); derr != nil {
			logger.Warnf("failed to remove blob payload %s: %v", hash, derr)
		}
	}
	return refs, nil
}

// ExistsRef reports whether the blob currently holds any references.
func (b *BlobMap) ExistsRef(ctx context.Context, hash string) (bool, error) {
	return b.s.mds.ChunkExists(ctx, hash)
}
