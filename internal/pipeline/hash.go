package pipeline

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/minio/highwayhash"

	"github.com/conneroisu/bloxciting/internal/config"
)

// highwayKey is the fixed 32-byte key for highwayhash digests. Digests only
// need to be stable across restarts, not secret.
var highwayKey = []byte("bloxciting-content-digest-key-32")

// Hasher computes the content digest used as the entry etag.
type Hasher interface {
	Sum(data []byte) (string, error)
}

// HasherFunc adapts a function to the Hasher interface.
type HasherFunc func(data []byte) (string, error)

func (f HasherFunc) Sum(data []byte) (string, error) {
	return f(data)
}

// NewHasher returns the hasher for a configured algorithm name.
func NewHasher(algorithm string) (Hasher, error) {
	switch algorithm {
	case "", config.HashMD5:
		return hashWith(func() (hash.Hash, error) { return md5.New(), nil }), nil
	case config.HashSHA256:
		return hashWith(func() (hash.Hash, error) { return sha256.New(), nil }), nil
	case config.HashHighwayHash:
		return hashWith(func() (hash.Hash, error) { return highwayhash.New64(highwayKey) }), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
}

func hashWith(newHash func() (hash.Hash, error)) Hasher {
	return HasherFunc(func(data []byte) (string, error) {
		h, err := newHash()
		if err != nil {
			return "", err
		}
		if _, err := h.Write(data); err != nil {
			return "", err
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	})
}
