package chunkstore

import (
	"context"
	"time"
)

// FileLock serializes multi-step mutations on a single file hash.
type FileLock interface {
	GetLock(ctx context.Context, timeout time.Duration) error
	Unlock()
}

// MDS is the durable metadata service behind the chunk store: the chunk table
// keyed by content hash and the per-file mapping batches. All mutual
// exclusion for chunk creation lives here — ref_count mutations are atomic
// conditional updates, never client-side read-modify-write.
type MDS interface {
	// Name of the metadata backend.
	Name() string
	// Init persists the store format on first use and validates it on
	// reopen. A chunk-size or compression mismatch fails unless force is set.
	Init(format *Format, force bool) error
	// Shutdown closes the underlying connections.
	Shutdown() error

	// GetChunk returns the chunk row, or nil when absent.
	GetChunk(ctx context.Context, hash string) (*ChunkMeta, error)
	// CreateOrIncrementChunk atomically creates the row with ref_count=1 or,
	// if a concurrent caller won the insert race, increments the existing
	// row. Returns the resulting ref count; 1 means this call created it.
	CreateOrIncrementChunk(ctx context.Context, meta *ChunkMeta) (int64, error)
	// IncrementRefIfExists bumps ref_count and returns the new value, or 0
	// when no row exists (nothing is created).
	IncrementRefIfExists(ctx context.Context, hash string) (int64, error)
	// DecrementRef decrements ref_count, clamped at zero. At zero the row is
	// removed and its storage path returned so the caller can reap the
	// payload. Returns the remaining count.
	DecrementRef(ctx context.Context, hash string) (int64, string, error)
	// ChunkExists reports whether a chunk row exists.
	ChunkExists(ctx context.Context, hash string) (bool, error)

	// PutFileMappings atomically replaces the mapping batch for a file hash.
	// Mappings must be ordered by ChunkIndex starting at 0 with no gaps.
	PutFileMappings(ctx context.Context, fileHash string, mappings []FileChunkMapping) error
	// GetFileMappings returns the batch ordered by ChunkIndex, or nil when
	// no file with that hash exists.
	GetFileMappings(ctx context.Context, fileHash string) ([]FileChunkMapping, error)
	// DeleteFileMappings atomically removes the batch and returns it, or nil
	// when absent.
	DeleteFileMappings(ctx context.Context, fileHash string) ([]FileChunkMapping, error)
	// FileExists reports whether a mapping batch exists for the file hash.
	FileExists(ctx context.Context, fileHash string) (bool, error)

	// StorageStats aggregates chunk and file counters across the store.
	StorageStats(ctx context.Context) (*StorageStats, error)

	// NewFileLock returns a short-held lock scoped to one file hash.
	NewFileLock(fileHash string) FileLock
}
