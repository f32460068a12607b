package chunkstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wan13323312/cloud-drive/internal"
	"github.com/wan13323312/cloud-drive/internal/compression"
)

// Config carries the store-wide settings. ChunkSize and Compression are
// pinned into the persisted Format on first Init; reopening with different
// values fails unless Force is set.
type Config struct {
	ChunkSize   int
	Compression string // gzip/zlib/snappy/none
	Force       bool   // overwrite a mismatched persisted format

	Backend  string // posix or s3
	ChunkDir string // posix root directory

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool

	NoBGJob    bool // disable the background orphan GC
	GCInterval time.Duration
}

// DefaultGCInterval is the background orphan-collection period used when none
// is configured.
const DefaultGCInterval = 1 * time.Hour

func NewConfig() *Config {
	return &Config{
		ChunkSize:   DefaultChunkSize,
		Compression: DefaultCompression,
		Backend:     BackendPOSIX,
		ChunkDir:    "/var/lib/cloud-drive/chunks",
		GCInterval:  DefaultGCInterval,
	}
}

// ChunkStore is the content-addressable, reference-counted chunk engine. It
// splits files into fixed-size chunks, deduplicates identical chunks across
// all files, compresses payloads at rest, and reassembles files on read. The
// engine holds no long-lived in-process locks; chunk creation races are
// resolved by the metadata store's atomic create-or-increment.
type ChunkStore struct {
	mds        MDS
	backend    BlobBackend
	compressor compression.Compressor
	chunkSize  int

	stopGC chan struct{}
	wg     sync.WaitGroup
}

// New builds a ChunkStore on the given metadata service and validates the
// persisted store format.
func New(mds MDS, conf *Config) (*ChunkStore, error) {
	if conf.ChunkSize <= 0 {
		conf.ChunkSize = DefaultChunkSize
	}
	if conf.Compression == "" {
		conf.Compression = DefaultCompression
	}
	compressor, err := compression.GetCompressorViaString(conf.Compression)
	if err != nil {
		return nil, fmt.Errorf("compression %q: %w", conf.Compression, err)
	}

	backend, err := NewBlobBackend(conf)
	if err != nil {
		return nil, err
	}
	if err = backend.EnsureContainer(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to prepare %s backend: %w", backend.Name(), err)
	}

	format := &Format{
		Name:        "cloud-drive",
		UUID:        uuid.NewString(),
		Storage:     backend.Name(),
		ChunkSize:   conf.ChunkSize,
		Compression: conf.Compression,
	}
	if err = mds.Init(format, conf.Force); err != nil {
		return nil, err
	}

	s := &ChunkStore{
		mds:        mds,
		backend:    backend,
		compressor: compressor,
		chunkSize:  conf.ChunkSize,
		stopGC:     make(chan struct{}),
	}
	if !conf.NoBGJob {
		interval := conf.GCInterval
		if interval <= 0 {
			interval = DefaultGCInterval
		}
		s.StartGC(interval)
	}
	logger.Infof("Chunk store ready: backend=%s chunksize=%d compression=%s",
		backend.Name(), conf.ChunkSize, conf.Compression)
	return s, nil
}

// ChunkSize returns the store-wide chunk size.
func (s *ChunkStore) ChunkSize() int {
	return s.chunkSize
}

// Shutdown stops background workers and closes the metadata connections.
func (s *ChunkStore) Shutdown() error {
	close(s.stopGC)
	s.wg.Wait()
	return s.mds.Shutdown()
}

// encodePayload applies the configured codec, fail-safe: on error, when
// compression is disabled, when the input already carries the codec's magic,
// or when compression does not shrink the data, the plain bytes are stored.
func (s *ChunkStore) encodePayload(data []byte) []byte {
	if s.compressor == nil {
		return data
	}
	if s.compressor.Matches(data) {
		// Already in the compressed format; double compression would make
		// the read path ambiguous.
		return data
	}
	compressed, err := s.compressor.Compress(data)
	if err != nil {
		logger.Warnf("compression failed, storing chunk uncompressed: %v", err)
		return data
	}
	if len(compressed) >= len(data) {
		return data
	}
	return compressed
}

// decodePayload reverses encodePayload. The stored-plain case is decided by
// the metadata (compressed_size == size); otherwise the payload must carry a
// known codec magic.
func decodePayload(data []byte, meta *ChunkMeta) ([]byte, error) {
	if meta.CompressedSize == meta.Size {
		return data, nil
	}
	codec := compression.Detect(data)
	if codec == nil {
		return nil, fmt.Errorf("%w: chunk %s payload has no known compression magic", ErrSizeMismatch, meta.Hash)
	}
	plain, err := codec.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %s failed to decompress: %v", ErrSizeMismatch, meta.Hash, err)
	}
	return plain, nil
}

// storeChunk persists one chunk, deduplicating by content hash.
//  1. An existing row is incremented; no bytes are rewritten.
//  2. Otherwise the payload is written first, then the row is created. Losing
//     the insert race to a concurrent caller degrades to an increment — the
//     physical write is idempotent, the same bytes landed at the same path.
//  3. A metadata failure after the physical write removes the payload again
//     so no orphan is leaked.
//
// A deleter reaping the same hash between steps 2's upload and its row create
// can remove the fresh payload; see the window described on DeleteFile.
func (s *ChunkStore) storeChunk(ctx context.Context, data []byte, hash string) (bool, string, error) {
	refs, err := s.mds.IncrementRefIfExists(ctx, hash)
	if err != nil {
		return false, "", err
	}
	if refs > 0 {
		logger.Tracef("chunk %s deduplicated, ref_count=%d", hash, refs)
		return false, s.backend.Location(hash), nil
	}

	payload := s.encodePayload(data)
	path, err := s.backend.Upload(ctx, hash, payload)
	if err != nil {
		return false, "", fmt.Errorf("failed to write chunk %s: %w", hash, err)
	}

	refs, err = s.mds.CreateOrIncrementChunk(ctx, &ChunkMeta{
		Hash:           hash,
		Size:           uint64(len(data)),
		CompressedSize: uint64(len(payload)),
		RefCount:       1,
		StoragePath:    path,
	})
	if err != nil {
		// Roll back the physical write; a chunk payload without a row is an
		// orphan and the error path must not create one deliberately.
		if derr := s.backend.Delete(ctx, hash); derr != nil {
			logger.Warnf("failed to roll back chunk payload %s: %v", hash, derr)
		}
		return false, "", err
	}
	return refs == 1, path, nil
}

// readChunk fetches and decodes one chunk, verifying the decompressed length
// against the recorded size.
func (s *ChunkStore) readChunk(ctx context.Context, hash string) ([]byte, error) {
	meta, err := s.mds.GetChunk(ctx, hash)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, hash)
	}

	payload, err := s.backend.Download(ctx, hash)
	if err != nil {
		return nil, err
	}
	data, err := decodePayload(payload, meta)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) != meta.Size {
		return nil, fmt.Errorf("%w: chunk %s has %d bytes, expected %d", ErrSizeMismatch, hash, len(data), meta.Size)
	}
	return data, nil
}

// StoreFile splits buf into fixed-size chunks and stores them, recording the
// mapping batch under the derived whole-file hash.
func (s *ChunkStore) StoreFile(ctx context.Context, buf []byte) (*StoreResult, error) {
	chunker := FixedChunker{ChunkSize: s.chunkSize}
	chunks, err := chunker.Chunking(buf)
	if err != nil {
		return nil, err
	}
	i := 0
	return s.storeSequence(ctx, func() (Chunk, error) {
		if i >= len(chunks) {
			return Chunk{}, io.EOF
		}
		c := chunks[i]
		i++
		return c, nil
	})
}

// StoreFileStream reads successive fixed-size chunks from r, bounding peak
// memory for large files. Chunk boundaries are byte-identical to StoreFile
// for the same input and chunk size.
func (s *ChunkStore) StoreFileStream(ctx context.Context, r io.Reader) (*StoreResult, error) {
	chunker := (&FixedChunker{ChunkSize: s.chunkSize}).NewChunker(r)
	return s.storeSequence(ctx, chunker.Next)
}

func (s *ChunkStore) storeSequence(ctx context.Context, next func() (Chunk, error)) (*StoreResult, error) {
	start := time.Now()
	var mappings []FileChunkMapping
	var chunkHashes []string
	var totalSize uint64
	newChunks := 0

	for {
		chunk, err := next()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.rollbackStored(ctx, mappings)
			return nil, err
		}

		isNew, _, err := s.storeChunk(ctx, chunk.Data, chunk.Hash)
		if err != nil {
			s.rollbackStored(ctx, mappings)
			return nil, err
		}
		if isNew {
			newChunks++
		}
		mappings = append(mappings, FileChunkMapping{
			ChunkHash:   chunk.Hash,
			ChunkIndex:  chunk.Index,
			ChunkOffset: chunk.Offset,
			ChunkSize:   chunk.Size,
		})
		chunkHashes = append(chunkHashes, chunk.Hash)
		totalSize += chunk.Size
	}

	fileHash := CalcFileHash(chunkHashes)
	for i := range mappings {
		mappings[i].FileHash = fileHash
	}

	if len(mappings) > 0 {
		lock := s.mds.NewFileLock(fileHash)
		if err := lock.GetLock(ctx, lockTimeout); err != nil {
			s.rollbackStored(ctx, mappings)
			return nil, err
		}
		defer lock.Unlock()
		if err := s.mds.PutFileMappings(ctx, fileHash, mappings); err != nil {
			s.rollbackStored(ctx, mappings)
			return nil, err
		}
	}

	logger.Infof("Stored file %s: %d bytes, %d chunks (%d new) in %s",
		fileHash, totalSize, len(mappings), newChunks, time.Since(start))
	return &StoreResult{
		FileHash:   fileHash,
		TotalSize:  totalSize,
		ChunkCount: len(mappings),
		NewChunks:  newChunks,
	}, nil
}

// rollbackStored releases the references taken by a failed store so the
// aborted call leaves no trace. Best effort; a crash here leaves at worst an
// over-counted ref, never a dangling mapping.
func (s *ChunkStore) rollbackStored(ctx context.Context, mappings []FileChunkMapping) {
	for _, mp := range mappings {
		refs, _, err := s.mds.DecrementRef(ctx, mp.ChunkHash)
		if err != nil {
			logger.Warnf("rollback: failed to decrement chunk %s: %v", mp.ChunkHash, err)
			continue
		}
		if refs == 0 {
			if err = s.backend.Delete(ctx, mp.ChunkHash); err != nil {
				logger.Warnf("rollback: failed to remove chunk payload %s: %v", mp.ChunkHash, err)
			}
		}
	}
}

// ReadFile reassembles a stored file. The read is all-or-nothing: a missing
// chunk or a size mismatch fails the whole call.
func (s *ChunkStore) ReadFile(ctx context.Context, fileHash string) ([]byte, error) {
	mappings, err := s.mds.GetFileMappings(ctx, fileHash)
	if err != nil {
		return nil, err
	}
	if mappings == nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileHash)
	}
	sort.Slice(mappings, func(i, j int) bool { return mappings[i].ChunkIndex < mappings[j].ChunkIndex })

	var buf bytes.Buffer
	for _, mp := range mappings {
		data, err := s.readChunk(ctx, mp.ChunkHash)
		if err != nil {
			return nil, fmt.Errorf("failed to read chunk %d of file %s: %w", mp.ChunkIndex, fileHash, err)
		}
		if uint64(len(data)) != mp.ChunkSize {
			return nil, fmt.Errorf("%w: chunk %d of file %s has %d bytes, mapping records %d",
				ErrSizeMismatch, mp.ChunkIndex, fileHash, len(data), mp.ChunkSize)
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

// DeleteFile removes the mapping batch and drops one reference per chunk
// occurrence. Chunks driven to zero are reaped together with their payloads.
//
// The payload removal happens after the row is gone, so a concurrent store of
// the same content can interleave: its upload lands, this deleter removes the
// file, then the new row is created and briefly has no backing bytes until
// the next store of that content. The row is correct throughout; only the
// payload is late. Closing the window would need the physical delete inside
// the metadata script's critical section.
func (s *ChunkStore) DeleteFile(ctx context.Context, fileHash string) (*DeleteResult, error) {
	lock := s.mds.NewFileLock(fileHash)
	if err := lock.GetLock(ctx, lockTimeout); err != nil {
		return nil, err
	}
	defer lock.Unlock()

	mappings, err := s.mds.DeleteFileMappings(ctx, fileHash)
	if err != nil {
		return nil, err
	}
	if mappings == nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileHash)
	}

	zeroed := internal.NewStringSet()
	survivors := internal.NewStringSet()
	var firstErr error
	for _, mp := range mappings {
		refs, _, err := s.mds.DecrementRef(ctx, mp.ChunkHash)
		if err != nil {
			logger.Errorf("failed to decrement chunk %s of file %s: %v", mp.ChunkHash, fileHash, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if refs == 0 {
			zeroed.Add(mp.ChunkHash)
			if err = s.backend.Delete(ctx, mp.ChunkHash); err != nil {
				logger.Warnf("failed to remove chunk payload %s: %v", mp.ChunkHash, err)
			}
		} else {
			survivors.Add(mp.ChunkHash)
		}
	}

	remaining := 0
	for _, h := range survivors.Elements() {
		if !zeroed.Contains(h) {
			remaining++
		}
	}
	logger.Infof("Deleted file %s: %d chunks reaped, %d still referenced", fileHash, zeroed.Len(), remaining)
	return &DeleteResult{
		DeletedChunks:   zeroed.Len(),
		RemainingChunks: remaining,
	}, firstErr
}

// FileExists reports whether a file with this content hash is stored.
func (s *ChunkStore) FileExists(ctx context.Context, fileHash string) (bool, error) {
	return s.mds.FileExists(ctx, fileHash)
}

// GetFileInfo describes a stored file without reading its payloads.
func (s *ChunkStore) GetFileInfo(ctx context.Context, fileHash string) (*FileInfo, error) {
	mappings, err := s.mds.GetFileMappings(ctx, fileHash)
	if err != nil {
		return nil, err
	}
	if mappings == nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileHash)
	}
	sort.Slice(mappings, func(i, j int) bool { return mappings[i].ChunkIndex < mappings[j].ChunkIndex })

	info := &FileInfo{
		FileHash:   fileHash,
		ChunkCount: len(mappings),
		Chunks:     mappings,
	}
	for _, mp := range mappings {
		info.TotalSize += mp.ChunkSize
	}
	return info, nil
}

// GetStorageStats aggregates store-wide counters.
func (s *ChunkStore) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	return s.mds.StorageStats(ctx)
}

// CleanupOrphanedChunks scans the physical chunk tree and removes every file
// whose name is a syntactically valid content hash but has no metadata row.
// This repairs the crash window between a payload write and its row commit.
// Returns the number of orphans removed.
func (s *ChunkStore) CleanupOrphanedChunks(ctx context.Context) (int, error) {
	names, err := s.backend.List(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, name := range names {
		if !IsValidChunkHash(name) {
			continue
		}
		exists, err := s.mds.ChunkExists(ctx, name)
		if err != nil {
			return removed, err
		}
		if exists {
			continue
		}
		if err = s.backend.Delete(ctx, name); err != nil {
			logger.Warnf("failed to remove orphaned chunk %s: %v", name, err)
			continue
		}
		logger.Infof("Removed orphaned chunk %s", name)
		removed++
	}
	return removed, nil
}
