package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Hasher computes content digests of files.
type Hasher interface {
	// Name is the algorithm name recorded in the manifest header.
	Name() string
	// HashFile returns the lowercase hex digest of the file's full contents.
	HashFile(path string) (string, error)
}

type streamHasher struct {
	name    string
	newHash func() hash.Hash
}

// SHA256 is the default hasher.
var SHA256 Hasher = streamHasher{name: "sha256", newHash: sha256.New}

// BLAKE3 produces 256-bit BLAKE3 digests.
var BLAKE3 Hasher = streamHasher{name: "blake3", newHash: func() hash.Hash { return blake3.New() }}

// HasherFor returns the hasher registered under name.
func HasherFor(name string) (Hasher, error) {
	switch name {
	case "", SHA256.Name():
		return SHA256, nil
	case BLAKE3.Name():
		return BLAKE3, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", name)
	}
}

func (h streamHasher) Name() string {
	return h.name
}

// HashFile streams the file through the hash in chunks, so memory stays
// constant regardless of binary size.
func (h streamHasher) HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := h.newHash()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
