package chunkstore

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedChunking(t *testing.T) {
	testCases := []struct {
		name      string
		input     []byte
		chunkSize int
		wantSizes []uint64
	}{
		{"Empty", nil, 1024, nil},
		{"OneByte", []byte("x"), 1024, []uint64{1}},
		{"SmallerThanChunk", bytes.Repeat([]byte("a"), 100), 1024, []uint64{100}},
		{"ExactChunk", bytes.Repeat([]byte("a"), 1024), 1024, []uint64{1024}},
		{"ExactMultiple", bytes.Repeat([]byte("a"), 2048), 1024, []uint64{1024, 1024}},
		{"PartialLast", bytes.Repeat([]byte("a"), 2560), 1024, []uint64{1024, 1024, 512}},
		{"TinyChunkSize", []byte("abcdefg"), 3, []uint64{3, 3, 1}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			chunker := FixedChunker{ChunkSize: tc.chunkSize}
			chunks, err := chunker.Chunking(tc.input)
			require.NoError(t, err)
			require.Len(t, chunks, len(tc.wantSizes))

			var offset uint64
			for i, c := range chunks {
				assert.Equal(t, i, c.Index)
				assert.Equal(t, offset, c.Offset)
				assert.Equal(t, tc.wantSizes[i], c.Size)
				assert.Equal(t, CalcChunkHash(c.Data), c.Hash)
				offset += c.Size
			}
			assert.Equal(t, uint64(len(tc.input)), offset)
		})
	}
}

func TestStreamChunkerMatchesBufferChunking(t *testing.T) {
	input := bytes.Repeat([]byte("0123456789"), 777) // 7770 bytes, partial last chunk
	chunker := FixedChunker{ChunkSize: 1024}

	want, err := chunker.Chunking(input)
	require.NoError(t, err)

	stream := chunker.NewChunker(bytes.NewReader(input))
	var got []Chunk
	for {
		c, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, c)
	}

	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Hash, got[i].Hash)
		assert.Equal(t, want[i].Index, got[i].Index)
		assert.Equal(t, want[i].Offset, got[i].Offset)
		assert.Equal(t, want[i].Size, got[i].Size)
		assert.Equal(t, want[i].Data, got[i].Data)
	}
}

func TestStreamChunkerEmptyInput(t *testing.T) {
	chunker := FixedChunker{ChunkSize: 1024}
	stream := chunker.NewChunker(bytes.NewReader(nil))
	_, err := stream.Next()
	assert.Equal(t, io.EOF, err)
}

func TestStreamChunkerShortReads(t *testing.T) {
	// iotest-style one-byte reader; ReadFull must still assemble full chunks.
	input := bytes.Repeat([]byte("z"), 100)
	chunker := FixedChunker{ChunkSize: 32}
	stream := chunker.NewChunker(oneByteReader{bytes.NewReader(input)})

	var total uint64
	var count int
	for {
		c, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		total += c.Size
		count++
	}
	assert.Equal(t, uint64(100), total)
	assert.Equal(t, 4, count)
}

type oneByteReader struct {
	r io.Reader
}

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return o.r.Read(p)
}
