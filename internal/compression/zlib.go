package compression

import (
	"bytes"
	"compress/zlib"
	"io"
)

// ZlibCompressor implements the Compressor interface using Zlib.
type ZlibCompressor struct{}

// NewZlib returns a new ZlibCompressor.
func NewZlib() *ZlibCompressor {
	return &ZlibCompressor{}
}

func (c *ZlibCompressor) Type() CompressionType {
	return Compress_zlib
}

// TypeString returns the compression type string.
func (c *ZlibCompressor) TypeString() string {
	return "zlib"
}

// Matches checks the two-byte zlib header, RFC 1950: CM must be deflate and
// the CMF/FLG pair is a multiple of 31.
func (c *ZlibCompressor) Matches(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	if data[0]&0x0f != 8 {
		return false
	}
	return (uint16(data[0])<<8|uint16(data[1]))%31 == 0
}

// Compress compresses data using Zlib.
func (c *ZlibCompressor) Compress(data []byte) ([]byte, error) {
	var b bytes.Buffer
	w := zlib.NewWriter(&b)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Decompress decompresses data using Zlib.
func (c *ZlibCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}
