package chunkstore

import (
	"errors"
	"time"

	"github.com/wan13323312/cloud-drive/internal"
)

var logger = internal.GetLogger("chunkstore")

const (
	// DefaultChunkSize is the fixed chunk size used when none is configured.
	DefaultChunkSize = 4 * 1024 * 1024

	// DefaultCompression is the codec applied to chunk payloads at rest.
	// Gzip payloads are self-describing via their magic bytes.
	DefaultCompression = "gzip"

	// hashHexLen is the length of a lowercase-hex SHA-256 digest, the
	// syntactic shape of every chunk hash and whole-file hash.
	hashHexLen = 64

	// lockTimeout bounds how long a file-level mutation waits for its lock.
	lockTimeout = 1 * time.Minute
)

// Backend type names, selected by configuration at startup.
const (
	BackendPOSIX = "posix"
	BackendS3    = "s3"
)

var (
	// ErrFileNotFound is returned when no mapping batch exists for a file hash.
	ErrFileNotFound = errors.New("file not found")

	// ErrChunkNotFound is returned when a referenced chunk row or payload is missing.
	ErrChunkNotFound = errors.New("chunk not found")

	// ErrSizeMismatch is returned when a decompressed chunk payload disagrees
	// with the recorded chunk size. The whole read fails, nothing partial is
	// returned.
	ErrSizeMismatch = errors.New("chunk size mismatch")

	// ErrFormatMismatch is returned when the persisted store format disagrees
	// with the configured one. Chunk size is baked into every whole-file
	// hash, so reopening with a different size would silently fork the
	// content address space.
	ErrFormatMismatch = errors.New("store format mismatch")
)
