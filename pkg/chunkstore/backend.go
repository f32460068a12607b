package chunkstore

import (
	"context"
	"fmt"
)

// BlobBackend persists chunk payloads. Payloads live under a root container,
// sharded by the first two hex characters of the chunk hash, with the object
// name equal to the full hash. Implementations are selected by configuration
// at startup.
type BlobBackend interface {
	Name() string
	// EnsureContainer creates the root container (directory or bucket) if needed.
	EnsureContainer(ctx context.Context) error
	// Upload writes the payload for hash and returns its storage path.
	Upload(ctx context.Context, hash string, data []byte) (string, error)
	// Download returns the payload for hash; ErrChunkNotFound when absent.
	Download(ctx context.Context, hash string) ([]byte, error)
	// Delete removes the payload. Deleting an absent payload is not an error.
	Delete(ctx context.Context, hash string) error
	// List returns the object names found in the container tree, shard
	// directories included. Callers filter for syntactically valid hashes.
	List(ctx context.Context) ([]string, error)
	// Location returns the deterministic storage path for hash without I/O.
	Location(hash string) string
}

// shardOf returns the shard directory for a hash, bounding directory fan-out
// to 256 entries.
func shardOf(hash string) string {
	return hash[:2]
}

// NewBlobBackend builds the configured backend variant.
func NewBlobBackend(conf *Config) (BlobBackend, error) {
	switch conf.Backend {
	case BackendPOSIX, "":
		return NewPOSIXBackend(conf.ChunkDir), nil
	case BackendS3:
		return NewS3Backend(conf)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", conf.Backend)
	}
}
