package compression

import (
	"bytes"
	"io"

	"github.com/golang/snappy"
)

// Snappy framing format stream identifier. The framed format is used instead
// of raw block encoding so payloads carry a sniffable magic like gzip/zlib.
var snappyMagic = []byte("\xff\x06\x00\x00sNaPpY")

// SnappyCompressor implements the Compressor interface using the Snappy
// framing format.
type SnappyCompressor struct{}

// NewSnappy returns a new SnappyCompressor.
func NewSnappy() *SnappyCompressor {
	return &SnappyCompressor{}
}

func (c *SnappyCompressor) Type() CompressionType {
	return Compress_snappy
}

// TypeString returns the compression type string.
func (c *SnappyCompressor) TypeString() string {
	return "snappy"
}

// Matches reports whether data begins with the snappy stream identifier.
func (c *SnappyCompressor) Matches(data []byte) bool {
	return len(data) >= len(snappyMagic) && bytes.Equal(data[:len(snappyMagic)], snappyMagic)
}

// Compress compresses data into a snappy framed stream.
func (c *SnappyCompressor) Compress(data []byte) ([]byte, error) {
	var b bytes.Buffer
	w := snappy.NewBufferedWriter(&b)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Decompress decompresses a snappy framed stream.
func (c *SnappyCompressor) Decompress(data []byte) ([]byte, error) {
	r := snappy.NewReader(bytes.NewReader(data))
	decompressed, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if decompressed == nil {
		return []byte{}, nil
	}
	return decompressed, nil
}
