package chunkstore

import "io"

// FixedChunker splits input into fixed-size chunks; only the final chunk may
// be shorter. The buffer and stream variants must produce byte-identical
// chunk boundaries for the same input and chunk size.
type FixedChunker struct {
	ChunkSize int
}

// Chunking slices buf into chunks without copying. Each chunk is hashed
// independently and carries its index, offset and size within the file.
func (f *FixedChunker) Chunking(buf []byte) ([]Chunk, error) {
	chunks := make([]Chunk, 0, len(buf)/f.ChunkSize+1)
	var offset uint64
	for index := 0; int(offset) < len(buf); index++ {
		end := int(offset) + f.ChunkSize
		if end > len(buf) {
			end = len(buf)
		}
		data := buf[offset:end]
		chunks = append(chunks, Chunk{
			Data:   data,
			Hash:   CalcChunkHash(data),
			Index:  index,
			Offset: offset,
			Size:   uint64(len(data)),
		})
		offset = uint64(end)
	}
	return chunks, nil
}

// NewChunker creates a chunker that reads successive fixed-size chunks from r,
// bounding peak memory for large inputs.
func (f *FixedChunker) NewChunker(r io.Reader) *StreamChunker {
	return &StreamChunker{
		r:         r,
		chunkSize: f.ChunkSize,
	}
}

// StreamChunker produces fixed-size chunks from an io.Reader. The returned
// Chunk.Data is freshly allocated per call.
type StreamChunker struct {
	r         io.Reader
	chunkSize int
	index     int
	offset    uint64
}

// Next returns the next chunk, or io.EOF after the input is exhausted.
func (c *StreamChunker) Next() (Chunk, error) {
	buf := make([]byte, c.chunkSize)
	n, err := io.ReadFull(c.r, buf)

	if err == io.EOF { // Clean end of stream, no bytes read.
		return Chunk{}, io.EOF
	}
	if err != nil && err != io.ErrUnexpectedEOF { // Some other error occurred.
		return Chunk{}, err
	}

	// A full chunk, or the last partial one.
	data := buf[:n]
	chunk := Chunk{
		Data:   data,
		Hash:   CalcChunkHash(data),
		Index:  c.index,
		Offset: c.offset,
		Size:   uint64(n),
	}
	c.index++
	c.offset += uint64(n)
	return chunk, nil
}
