package compression

import "errors"

type CompressionType byte

const (
	Compress_none   CompressionType = iota //0
	Compress_gzip                          //1
	Compress_zlib                          //2
	Compress_snappy                        //3
)

var (
	ErrInvalidCompressionType = errors.New("invalid compression type")

	CompressionMethods = map[string]CompressionType{
		"none":   Compress_none,
		"gzip":   Compress_gzip,
		"zlib":   Compress_zlib,
		"snappy": Compress_snappy,
	}
)

// Compressor defines the interface for data compression and decompression algorithms.
type Compressor interface {
	// Compress takes a byte slice and returns the compressed data.
	Compress(data []byte) ([]byte, error)

	// Decompress takes a compressed byte slice and returns the original data.
	Decompress(data []byte) ([]byte, error)

	// Matches reports whether data starts with this codec's magic bytes,
	// so callers can skip decompression safely on plain or foreign data.
	Matches(data []byte) bool

	// Type returns the type of compression, e.g., "gzip", "snappy".
	TypeString() string
	Type() CompressionType
}

// GetCompressorViaString returns the codec registered under compressionStr.
// "none" yields a nil Compressor, meaning payloads are stored as-is.
func GetCompressorViaString(compressionStr string) (Compressor, error) {
	compressionType, ok := CompressionMethods[compressionStr]
	if !ok {
		return nil, ErrInvalidCompressionType
	}
	return GetCompressorViaType(compressionType)
}

// Detect returns the codec whose magic bytes data starts with, or nil when
// data is plain or in a foreign format.
func Detect(data []byte) Compressor {
	for _, c := range []Compressor{NewGzip(), NewSnappy(), NewZlib()} {
		if c.Matches(data) {
			return c
		}
	}
	return nil
}

func GetCompressorViaType(compressionType CompressionType) (Compressor, error) {
	switch compressionType {
	case Compress_none:
		return nil, nil
	case Compress_gzip:
		return NewGzip(), nil
	case Compress_zlib:
		return NewZlib(), nil
	case Compress_snappy:
		return NewSnappy(), nil
	default:
		return nil, ErrInvalidCompressionType
	}
}
