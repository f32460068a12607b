package chunkstore

import (
	"context"
	"sync"
	"time"
)

// memMDS is an in-memory MDS for engine tests. It mirrors the Redis
// implementation's atomicity: every metadata mutation runs under one mutex,
// the way each Lua script runs alone on the server.
type memMDS struct {
	mu       sync.Mutex
	format   *Format
	chunks   map[string]*ChunkMeta
	mappings map[string][]FileChunkMapping
	locks    map[string]*sync.Mutex

	failCreate error // injected CreateOrIncrementChunk failure
}

var _ MDS = (*memMDS)(nil)

func newMemMDS() *memMDS {
	return &memMDS{
		chunks:   make(map[string]*ChunkMeta),
		mappings: make(map[string][]FileChunkMapping),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (m *memMDS) Name() string { return "mem" }

func (m *memMDS) Init(format *Format, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.format == nil || force {
		f := *format
		m.format = &f
		return nil
	}
	if m.format.ChunkSize != format.ChunkSize || m.format.Compression != format.Compression {
		return ErrFormatMismatch
	}
	return nil
}

func (m *memMDS) Shutdown() error { return nil }

func (m *memMDS) GetChunk(ctx context.Context, hash string) (*ChunkMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.chunks[hash]
	if !ok {
		return nil, nil
	}
	cp := *meta
	return &cp, nil
}

func (m *memMDS) CreateOrIncrementChunk(ctx context.Context, meta *ChunkMeta) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return 0, m.failCreate
	}
	if existing, ok := m.chunks[meta.Hash]; ok {
		existing.RefCount++
		return existing.RefCount, nil
	}
	cp := *meta
	cp.RefCount = 1
	m.chunks[meta.Hash] = &cp
	return 1, nil
}

func (m *memMDS) IncrementRefIfExists(ctx context.Context, hash string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.chunks[hash]
	if !ok {
		return 0, nil
	}
	meta.RefCount++
	return meta.RefCount, nil
}

func (m *memMDS) DecrementRef(ctx context.Context, hash string) (int64, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.chunks[hash]
	if !ok {
		return 0, "", nil
	}
	meta.RefCount--
	if meta.RefCount <= 0 {
		delete(m.chunks, hash)
		return 0, meta.StoragePath, nil
	}
	return meta.RefCount, "", nil
}

func (m *memMDS) ChunkExists(ctx context.Context, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.chunks[hash]
	return ok, nil
}

func (m *memMDS) PutFileMappings(ctx context.Context, fileHash string, mappings []FileChunkMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := make([]FileChunkMapping, len(mappings))
	copy(batch, mappings)
	m.mappings[fileHash] = batch
	return nil
}

func (m *memMDS) GetFileMappings(ctx context.Context, fileHash string) ([]FileChunkMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch, ok := m.mappings[fileHash]
	if !ok {
		return nil, nil
	}
	cp := make([]FileChunkMapping, len(batch))
	copy(cp, batch)
	return cp, nil
}

func (m *memMDS) DeleteFileMappings(ctx context.Context, fileHash string) ([]FileChunkMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch, ok := m.mappings[fileHash]
	if !ok {
		return nil, nil
	}
	delete(m.mappings, fileHash)
	return batch, nil
}

func (m *memMDS) FileExists(ctx context.Context, fileHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.mappings[fileHash]
	return ok, nil
}

func (m *memMDS) StorageStats(ctx context.Context) (*StorageStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &StorageStats{}
	for _, meta := range m.chunks {
		stats.ChunkCount++
		stats.TotalRefs += meta.RefCount
		stats.TotalSize += meta.Size
		stats.CompressedSize += meta.CompressedSize
	}
	var totalMappings int64
	for _, batch := range m.mappings {
		stats.FileCount++
		totalMappings += int64(len(batch))
	}
	if stats.TotalSize > 0 {
		stats.CompressionRatio = float64(stats.CompressedSize) / float64(stats.TotalSize)
	}
	if stats.FileCount > 0 {
		stats.AvgChunksPerFile = float64(totalMappings) / float64(stats.FileCount)
	}
	if stats.ChunkCount > 0 {
		stats.DedupFactor = float64(stats.TotalRefs) / float64(stats.ChunkCount)
	}
	return stats, nil
}

func (m *memMDS) NewFileLock(fileHash string) FileLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	lk, ok := m.locks[fileHash]
	if !ok {
		lk = &sync.Mutex{}
		m.locks[fileHash] = lk
	}
	return &memLock{mu: lk}
}

type memLock struct {
	mu *sync.Mutex
}

func (l *memLock) GetLock(ctx context.Context, timeout time.Duration) error {
	l.mu.Lock()
	return nil
}

func (l *memLock) Unlock() {
	l.mu.Unlock()
}
