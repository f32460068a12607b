package chunkstore

import (
	"crypto/sha256"
	"encoding/hex"
)

// CalcChunkHash returns the lowercase hex SHA-256 digest of buf, the content
// address of a chunk's uncompressed bytes.
func CalcChunkHash(buf []byte) string {
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// CalcFileHash derives the whole-file hash from the ordered chunk hashes: the
// SHA-256 digest of the concatenated hex strings in index order. Two files
// with identical content always collide here; the raw bytes are never hashed
// a second time.
func CalcFileHash(chunkHashes []string) string {
	h := sha256.New()
	for _, ch := range chunkHashes {
		h.Write([]byte(ch))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IsValidChunkHash reports whether name is syntactically a content hash:
// exactly 64 lowercase hex characters. Used by orphan cleanup to decide which
// physical files are candidates for removal.
func IsValidChunkHash(name string) bool {
	if len(name) != hashHexLen {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
