package chunkstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobMapLifecycle(t *testing.T) {
	store, _, _ := newTestStore(t, 1024, "gzip")
	blobs := store.BlobMap()
	ctx := context.Background()

	data := []byte("a standalone blob, no chunk boundaries involved")
	created, path, err := blobs.EnsureBlob(ctx, "", data)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, path)

	hash := CalcChunkHash(data)
	exists, err := blobs.ExistsRef(ctx, hash)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := blobs.ReadBlob(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// A second ensure takes a reference instead of rewriting.
	created, _, err = blobs.EnsureBlob(ctx, hash, data)
	require.NoError(t, err)
	assert.False(t, created)

	refs, err := blobs.IncRef(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, int64(3), refs)

	for want := int64(2); want >= 0; want-- {
		refs, err = blobs.DecRef(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, want, refs)
	}

	// The last DecRef reaped row and payload.
	exists, err = blobs.ExistsRef(ctx, hash)
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = os.Stat(store.backend.Location(hash))
	assert.True(t, os.IsNotExist(err))
	_, err = blobs.ReadBlob(ctx, hash)
	assert.ErrorIs(t, err, ErrChunkNotFound)
}

func TestBlobMapIncRefMissing(t *testing.T) {
	store, _, _ := newTestStore(t, 1024, "gzip")
	_, err := store.BlobMap().IncRef(context.Background(), CalcChunkHash([]byte("nope")))
	assert.ErrorIs(t, err, ErrChunkNotFound)
}

func TestBlobMapSharesChunkAddressSpace(t *testing.T) {
	store, mds, _ := newTestStore(t, 1024, "gzip")
	ctx := context.Background()

	// A blob identical to a stored file's chunk is the same object.
	data := []byte("shared bytes")
	res, err := store.StoreFile(ctx, data)
	require.NoError(t, err)

	created, _, err := store.BlobMap().EnsureBlob(ctx, "", data)
	require.NoError(t, err)
	assert.False(t, created)

	meta, err := mds.GetChunk(ctx, CalcChunkHash(data))
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, int64(2), meta.RefCount)

	// Deleting the file leaves the blob's reference alive.
	_, err = store.DeleteFile(ctx, res.FileHash)
	require.NoError(t, err)
	got, err := store.BlobMap().ReadBlob(ctx, CalcChunkHash(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
