package chunkstore

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore builds a ChunkStore on an in-memory MDS and a temporary posix
// blob root.
func newTestStore(t *testing.T, chunkSize int, compression string) (*ChunkStore, *memMDS, string) {
	t.Helper()
	mds := newMemMDS()
	chunkDir := t.TempDir()

	conf := NewConfig()
	conf.ChunkSize = chunkSize
	conf.Compression = compression
	conf.ChunkDir = chunkDir
	conf.NoBGJob = true

	store, err := New(mds, conf)
	require.NoError(t, err)
	return store, mds, chunkDir
}

func countBlobFiles(t *testing.T, chunkDir string) int {
	t.Helper()
	count := 0
	err := filepath.WalkDir(chunkDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	require.NoError(t, err)
	return count
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	rng := rand.New(rand.NewSource(42))
	_, err := rng.Read(buf)
	require.NoError(t, err)
	return buf
}

func TestStoreAndReadRoundTrip(t *testing.T) {
	testCases := []struct {
		name        string
		size        int
		chunkSize   int
		compression string
	}{
		{"SmallerThanChunk", 100, 1024, "gzip"},
		{"ExactChunk", 1024, 1024, "gzip"},
		{"MultipleChunks", 4096, 1024, "gzip"},
		{"PartialLastChunk", 2500, 1024, "gzip"},
		{"NoCompression", 2500, 1024, "none"},
		{"Snappy", 2500, 1024, "snappy"},
		{"Zlib", 2500, 1024, "zlib"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store, _, _ := newTestStore(t, tc.chunkSize, tc.compression)
			data := randomBytes(t, tc.size)

			res, err := store.StoreFile(context.Background(), data)
			require.NoError(t, err)
			assert.Equal(t, uint64(tc.size), res.TotalSize)

			got, err := store.ReadFile(context.Background(), res.FileHash)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestChunkBoundaries(t *testing.T) {
	store, _, _ := newTestStore(t, 1024, "gzip")

	data := []byte(strings.Repeat("A", 1024) + strings.Repeat("B", 1024) + strings.Repeat("C", 512))
	res, err := store.StoreFile(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ChunkCount)
	assert.Equal(t, uint64(2560), res.TotalSize)

	info, err := store.GetFileInfo(context.Background(), res.FileHash)
	require.NoError(t, err)
	require.Len(t, info.Chunks, 3)

	expectedSizes := []uint64{1024, 1024, 512}
	expectedOffsets := []uint64{0, 1024, 2048}
	for i, mp := range info.Chunks {
		assert.Equal(t, i, mp.ChunkIndex)
		assert.Equal(t, expectedSizes[i], mp.ChunkSize)
		assert.Equal(t, expectedOffsets[i], mp.ChunkOffset)
		assert.Equal(t, res.FileHash, mp.FileHash)
	}
}

func TestStoreTwiceDeduplicates(t *testing.T) {
	store, _, chunkDir := newTestStore(t, 1024, "gzip")
	data := randomBytes(t, 3000)

	first, err := store.StoreFile(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, 3, first.NewChunks)

	second, err := store.StoreFile(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, first.FileHash, second.FileHash)
	assert.Equal(t, 0, second.NewChunks)

	// Identical content never lands twice physically.
	assert.Equal(t, 3, countBlobFiles(t, chunkDir))
}

func TestSharedChunksAcrossFiles(t *testing.T) {
	store, _, _ := newTestStore(t, 1024, "gzip")

	common := randomBytes(t, 2048) // two full chunks
	x := append(append([]byte{}, common...), []byte("file1")...)
	y := append(append([]byte{}, common...), []byte("file2")...)

	resX, err := store.StoreFile(context.Background(), x)
	require.NoError(t, err)
	assert.Equal(t, 3, resX.NewChunks)

	resY, err := store.StoreFile(context.Background(), y)
	require.NoError(t, err)
	assert.NotEqual(t, resX.FileHash, resY.FileHash)
	// The chunks covering common are created once.
	assert.Less(t, resY.NewChunks, resY.ChunkCount)
	assert.Equal(t, 1, resY.NewChunks)

	gotX, err := store.ReadFile(context.Background(), resX.FileHash)
	require.NoError(t, err)
	assert.Equal(t, x, gotX)
	gotY, err := store.ReadFile(context.Background(), resY.FileHash)
	require.NoError(t, err)
	assert.Equal(t, y, gotY)
}

func TestDeleteFileRefCounting(t *testing.T) {
	store, mds, _ := newTestStore(t, 1024, "gzip")
	ctx := context.Background()

	common := randomBytes(t, 1024)
	x := append(append([]byte{}, common...), []byte("file1")...)
	y := append(append([]byte{}, common...), []byte("file2")...)

	resX, err := store.StoreFile(ctx, x)
	require.NoError(t, err)
	resY, err := store.StoreFile(ctx, y)
	require.NoError(t, err)

	commonHash := CalcChunkHash(common)
	meta, err := mds.GetChunk(ctx, commonHash)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, int64(2), meta.RefCount)

	// Deleting one file leaves the shared chunk referenced and its payload intact.
	delX, err := store.DeleteFile(ctx, resX.FileHash)
	require.NoError(t, err)
	assert.Equal(t, 1, delX.DeletedChunks) // the "file1" tail chunk
	assert.Equal(t, 1, delX.RemainingChunks)

	meta, err = mds.GetChunk(ctx, commonHash)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, int64(1), meta.RefCount)
	_, err = os.Stat(store.backend.Location(commonHash))
	assert.NoError(t, err)

	// Deleting the last reference reaps row and payload together.
	delY, err := store.DeleteFile(ctx, resY.FileHash)
	require.NoError(t, err)
	assert.Equal(t, 2, delY.DeletedChunks)
	assert.Equal(t, 0, delY.RemainingChunks)

	meta, err = mds.GetChunk(ctx, commonHash)
	require.NoError(t, err)
	assert.Nil(t, meta)
	_, err = os.Stat(store.backend.Location(commonHash))
	assert.True(t, os.IsNotExist(err))

	_, err = store.ReadFile(ctx, resY.FileHash)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestDeleteCountsRepeatedChunkOncePerOccurrence(t *testing.T) {
	store, mds, _ := newTestStore(t, 1024, "gzip")
	ctx := context.Background()

	block := randomBytes(t, 1024)
	data := append(append([]byte{}, block...), block...) // same chunk twice

	res, err := store.StoreFile(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ChunkCount)
	assert.Equal(t, 1, res.NewChunks)

	meta, err := mds.GetChunk(ctx, CalcChunkHash(block))
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, int64(2), meta.RefCount)

	// Both occurrences are decremented, driving the chunk to zero.
	del, err := store.DeleteFile(ctx, res.FileHash)
	require.NoError(t, err)
	assert.Equal(t, 1, del.DeletedChunks)
	assert.Equal(t, 0, del.RemainingChunks)

	meta, err = mds.GetChunk(ctx, CalcChunkHash(block))
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestDeleteFileNotFound(t *testing.T) {
	store, _, _ := newTestStore(t, 1024, "gzip")
	_, err := store.DeleteFile(context.Background(), strings.Repeat("ab", 32))
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestConcurrentStoreSameContent(t *testing.T) {
	store, mds, chunkDir := newTestStore(t, DefaultChunkSize, "gzip")
	ctx := context.Background()

	data := randomBytes(t, 1024*1024)
	const callers = 5

	var wg sync.WaitGroup
	errs := make([]error, callers)
	results := make([]*StoreResult, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = store.StoreFile(ctx, data)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].FileHash, results[i].FileHash)
	}

	// Exactly one physical chunk file, ref count equal to the caller count.
	assert.Equal(t, 1, countBlobFiles(t, chunkDir))
	meta, err := mds.GetChunk(ctx, CalcChunkHash(data))
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, int64(callers), meta.RefCount)
}

func TestStreamAndBufferProduceSameFile(t *testing.T) {
	ctx := context.Background()
	data := randomBytes(t, 5000)

	bufStore, _, _ := newTestStore(t, 1024, "gzip")
	resBuf, err := bufStore.StoreFile(ctx, data)
	require.NoError(t, err)

	streamStore, _, _ := newTestStore(t, 1024, "gzip")
	resStream, err := streamStore.StoreFileStream(ctx, bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, resBuf.FileHash, resStream.FileHash)
	assert.Equal(t, resBuf.ChunkCount, resStream.ChunkCount)
	assert.Equal(t, resBuf.TotalSize, resStream.TotalSize)

	got, err := streamStore.ReadFile(ctx, resStream.FileHash)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestStoreEmptyInput(t *testing.T) {
	store, _, _ := newTestStore(t, 1024, "gzip")
	ctx := context.Background()

	res, err := store.StoreFile(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ChunkCount)
	assert.Equal(t, uint64(0), res.TotalSize)

	// No mapping batch is written, so the hash does not resolve.
	_, err = store.ReadFile(ctx, res.FileHash)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestReadFileNotFound(t *testing.T) {
	store, _, _ := newTestStore(t, 1024, "gzip")
	_, err := store.ReadFile(context.Background(), strings.Repeat("00", 32))
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestReadFailsOnMissingChunk(t *testing.T) {
	store, _, _ := newTestStore(t, 1024, "gzip")
	ctx := context.Background()

	data := randomBytes(t, 2048)
	res, err := store.StoreFile(ctx, data)
	require.NoError(t, err)

	// Remove one payload behind the store's back.
	require.NoError(t, os.Remove(store.backend.Location(CalcChunkHash(data[:1024]))))

	_, err = store.ReadFile(ctx, res.FileHash)
	assert.ErrorIs(t, err, ErrChunkNotFound)
}

func TestReadFailsOnSizeMismatch(t *testing.T) {
	store, _, _ := newTestStore(t, 1024, "none")
	ctx := context.Background()

	data := randomBytes(t, 1024)
	res, err := store.StoreFile(ctx, data)
	require.NoError(t, err)

	// Truncate the stored payload; the recorded size no longer matches.
	path := store.backend.Location(CalcChunkHash(data))
	require.NoError(t, os.WriteFile(path, data[:100], 0644))

	_, err = store.ReadFile(ctx, res.FileHash)
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestMetadataFailureRollsBackPayload(t *testing.T) {
	store, mds, chunkDir := newTestStore(t, 1024, "gzip")
	mds.failCreate = errors.New("metadata write failed")

	_, err := store.StoreFile(context.Background(), randomBytes(t, 512))
	require.Error(t, err)

	// The physical write was rolled back, no orphan is left behind.
	assert.Equal(t, 0, countBlobFiles(t, chunkDir))
}

func TestCleanupOrphanedChunks(t *testing.T) {
	store, _, chunkDir := newTestStore(t, 1024, "gzip")
	ctx := context.Background()

	data := randomBytes(t, 1024)
	res, err := store.StoreFile(ctx, data)
	require.NoError(t, err)

	// Plant an orphan with a syntactically valid hash and no metadata row,
	// plus a file whose name is not a hash at all.
	orphanHash := strings.Repeat("0123456789abcdef", 4)
	orphanDir := filepath.Join(chunkDir, orphanHash[:2])
	require.NoError(t, os.MkdirAll(orphanDir, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(orphanDir, orphanHash), []byte("orphan"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(chunkDir, "not-a-hash.tmp"), []byte("x"), 0644))

	removed, err := store.CleanupOrphanedChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(filepath.Join(orphanDir, orphanHash))
	assert.True(t, os.IsNotExist(err))
	// Referenced payloads and foreign files stay.
	_, err = os.Stat(store.backend.Location(CalcChunkHash(data)))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(chunkDir, "not-a-hash.tmp"))
	assert.NoError(t, err)

	got, err := store.ReadFile(ctx, res.FileHash)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestStorageStats(t *testing.T) {
	store, _, _ := newTestStore(t, 1024, "gzip")
	ctx := context.Background()

	// Compressible content so bytes at rest shrink.
	data := []byte(strings.Repeat("A", 2048))
	_, err := store.StoreFile(ctx, data)
	require.NoError(t, err)

	stats, err := store.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ChunkCount) // both halves are identical
	assert.Equal(t, int64(2), stats.TotalRefs)
	assert.Equal(t, int64(1), stats.FileCount)
	assert.Equal(t, uint64(1024), stats.TotalSize)
	assert.Less(t, stats.CompressedSize, stats.TotalSize)
	assert.Greater(t, stats.CompressionRatio, 0.0)
	assert.Less(t, stats.CompressionRatio, 1.0)
	assert.Equal(t, 2.0, stats.AvgChunksPerFile)
	assert.Equal(t, 2.0, stats.DedupFactor)
}

func TestStoreFormatPinned(t *testing.T) {
	mds := newMemMDS()
	chunkDir := t.TempDir()

	conf := NewConfig()
	conf.ChunkSize = 1024
	conf.ChunkDir = chunkDir
	conf.NoBGJob = true
	_, err := New(mds, conf)
	require.NoError(t, err)

	// A different chunk size would fork the content address space.
	conf2 := NewConfig()
	conf2.ChunkSize = 2048
	conf2.ChunkDir = chunkDir
	conf2.NoBGJob = true
	_, err = New(mds, conf2)
	assert.ErrorIs(t, err, ErrFormatMismatch)

	conf2.Force = true
	_, err = New(mds, conf2)
	assert.NoError(t, err)
}

func TestAlreadyCompressedPayloadStoredPlain(t *testing.T) {
	store, mds, _ := newTestStore(t, 4096, "gzip")
	ctx := context.Background()

	// A payload that is already gzip must not be double compressed; it is
	// stored unchanged and returned unchanged.
	inner, err := store.compressor.Compress([]byte(strings.Repeat("B", 2048)))
	require.NoError(t, err)

	res, err := store.StoreFile(ctx, inner)
	require.NoError(t, err)

	meta, err := mds.GetChunk(ctx, CalcChunkHash(inner))
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, meta.Size, meta.CompressedSize)

	got, err := store.ReadFile(ctx, res.FileHash)
	require.NoError(t, err)
	assert.Equal(t, inner, got)
}

func TestFileExists(t *testing.T) {
	store, _, _ := newTestStore(t, 1024, "gzip")
	ctx := context.Background()

	exists, err := store.FileExists(ctx, strings.Repeat("ff", 32))
	require.NoError(t, err)
	assert.False(t, exists)

	res, err := store.StoreFile(ctx, randomBytes(t, 100))
	require.NoError(t, err)

	exists, err = store.FileExists(ctx, res.FileHash)
	require.NoError(t, err)
	assert.True(t, exists)
}
