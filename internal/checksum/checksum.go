package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// AlgorithmSHA256 is the default (and currently only) digest algorithm.
// The algorithm is declared per manifest chain; mixing algorithms within
// one chain is rejected by the manifest builder.
const AlgorithmSHA256 = "sha256"

// Supported reports whether the named digest algorithm is available.
func Supported(algorithm string) bool {
	return algorithm == AlgorithmSHA256
}

// New returns a fresh hash for the named algorithm.
func New(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case AlgorithmSHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("unsupported checksum algorithm %q", algorithm)
	}
}

// HexLength returns the expected hex digest length for the algorithm.
func HexLength(algorithm string) int {
	switch algorithm {
	case AlgorithmSHA256:
		return sha256.Size * 2
	default:
		return 0
	}
}

// SumReader streams r through the named hash and returns the hex digest
// and the number of bytes read. Data is never buffered whole.
func SumReader(algorithm string, r io.Reader) (string, int64, error) {
	h, err := New(algorithm)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// SumFile computes the hex digest of the file at path.
func SumFile(algorithm, path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return SumReader(algorithm, f)
}
