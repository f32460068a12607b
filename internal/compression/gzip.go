package compression

import (
	"bytes"
	"compress/gzip"
	"io"
)

// gzip member header magic, RFC 1952.
var gzipMagic = []byte{0x1f, 0x8b}

// GzipCompressor implements the Compressor interface using Gzip.
// Gzip payloads are self-describing via the two magic bytes, which makes it
// the default codec for at-rest chunk payloads.
type GzipCompressor struct{}

// NewGzip returns a new GzipCompressor.
func NewGzip() *GzipCompressor {
	return &GzipCompressor{}
}

func (c *GzipCompressor) Type() CompressionType {
	return Compress_gzip
}

// TypeString returns the compression type string.
func (c *GzipCompressor) TypeString() string {
	return "gzip"
}

// Matches reports whether data begins with the gzip magic bytes.
func (c *GzipCompressor) Matches(data []byte) bool {
	return len(data) >= len(gzipMagic) && bytes.Equal(data[:len(gzipMagic)], gzipMagic)
}

// Compress compresses data using Gzip.
func (c *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var b bytes.Buffer
	w := gzip.NewWriter(&b)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Decompress decompresses data using Gzip.
func (c *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}
