package chunkstore

// Chunk is an in-flight slice of a file produced by the chunker. Data is only
// valid until the next call on the producing chunker.
type Chunk struct {
	Data   []byte
	Hash   string // lowercase hex SHA-256 of Data
	Index  int    // zero-based position within the file
	Offset uint64 // byte offset within the reconstructed file
	Size   uint64 // uncompressed byte length
}

// ChunkMeta is the durable metadata row for one stored chunk, keyed by its
// content hash. A row exists iff RefCount > 0.
type ChunkMeta struct {
	Hash           string
	Size           uint64 // uncompressed byte length
	CompressedSize uint64 // equals Size when the payload is stored plain
	RefCount       int64  // number of (file, chunk-occurrence) references
	StoragePath    string
}

// FileChunkMapping is one row of a file's mapping batch: the chunk at
// ChunkIndex within the file identified by FileHash.
type FileChunkMapping struct {
	FileHash    string
	ChunkHash   string
	ChunkIndex  int
	ChunkOffset uint64
	ChunkSize   uint64
}

// StoreResult reports the outcome of storing one file.
type StoreResult struct {
	FileHash   string
	TotalSize  uint64
	ChunkCount int
	NewChunks  int // chunks physically written by this call; a dedup signal
}

// DeleteResult reports the outcome of deleting one file.
type DeleteResult struct {
	DeletedChunks   int // distinct chunks whose ref count reached zero
	RemainingChunks int // distinct chunks still referenced by other files
}

// FileInfo describes a stored file without materializing its bytes.
type FileInfo struct {
	FileHash   string
	TotalSize  uint64
	ChunkCount int
	Chunks     []FileChunkMapping // ordered by ChunkIndex
}

// StorageStats aggregates store-wide counters.
type StorageStats struct {
	ChunkCount       int64
	TotalRefs        int64
	TotalSize        uint64 // uncompressed bytes across all chunks
	CompressedSize   uint64 // bytes at rest
	FileCount        int64  // distinct file hashes with a mapping batch
	CompressionRatio float64
	AvgChunksPerFile float64
	DedupFactor      float64 // TotalRefs / ChunkCount
}

// Format records the store-wide settings pinned at first initialization.
// Chunk size participates in whole-file hash derivation, so it belongs to the
// data, not to the process configuration.
type Format struct {
	Name        string `json:"Name,omitempty"`
	UUID        string `json:"UUID,omitempty"`
	Storage     string `json:"Storage,omitempty"`
	ChunkSize   int    `json:"ChunkSize,omitempty"`
	Compression string `json:"Compression,omitempty"`
}
