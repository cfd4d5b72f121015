package remotekit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// ChecksumAlgorithm represents a supported checksum algorithm
type ChecksumAlgorithm string

const (
	// ChecksumSHA256 is the SHA-256 hash algorithm (256-bit, recommended)
	ChecksumSHA256 ChecksumAlgorithm = "sha256"
	// ChecksumCRC32 is the CRC32 checksum (32-bit, fastest, for integrity only)
	ChecksumCRC32 ChecksumAlgorithm = "crc32"
	// ChecksumXXHash is the xxHash algorithm (64-bit, extremely fast)
	ChecksumXXHash ChecksumAlgorithm = "xxhash"
)

// NewHasher creates a new hash.Hash for the given algorithm.
// Returns an error if the algorithm is not supported.
func NewHasher(algorithm ChecksumAlgorithm) (hash.Hash, error) {
	switch algorithm {
	case ChecksumSHA256:
		return sha256.New(), nil
	case ChecksumCRC32:
		return crc32.NewIEEE(), nil
	case ChecksumXXHash:
		return xxhash.New(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported checksum algorithm: %s", ErrNotSupported, algorithm)
	}
}

// CalculateChecksum reads from the reader and calculates the checksum using
// the specified algorithm. Returns the hex-encoded checksum string.
func CalculateChecksum(r io.Reader, algorithm ChecksumAlgorithm) (string, error) {
	h, err := NewHasher(algorithm)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChecksumLocalFile hashes a local file. Used by move verification when a
// dispatcher is configured for checksum comparison rather than the default
// byte-count match.
func ChecksumLocalFile(path string, algorithm ChecksumAlgorithm) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", ioErr("checksum", path, err)
	}
	defer f.Close()

	return CalculateChecksum(f, algorithm)
}
