// Package integrity pins files to BLAKE3 digests so a swapped scan tool is
// refused before it runs.
package integrity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// ErrHashMismatch is returned by VerifyFileHash when the digest differs.
var ErrHashMismatch = errors.New("hash mismatch")

// FileHash captures the digest outcome for one file.
type FileHash struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
	Hash   string `json:"hash,omitempty"`
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
// The comparison ignores case and surrounding whitespace in expectedHash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	expected := strings.ToLower(strings.TrimSpace(expectedHash))
	if actualHash != expected {
		return fmt.Errorf("%w for %s: expected %s, got %s",
			ErrHashMismatch, filepath.Base(filePath), expected, actualHash)
	}

	return nil
}

// HashFiles computes digests for each path. Missing files are reported with
// Exists=false rather than failing the whole batch.
func HashFiles(paths []string) ([]FileHash, error) {
	out := make([]FileHash, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			out = append(out, FileHash{Path: p})
			continue
		}

		hash, err := ComputeBlake3Hash(p)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", p, err)
		}
		out = append(out, FileHash{Path: p, Exists: true, Hash: hash})
	}
	return out, nil
}
