// Package sha256 digests asset URLs so colliding local file names can be
// told apart.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements archive.Hasher. A zero length returns the full
// 64-character hex digest.
type Hasher struct {
	length int
}

// Option tunes a Hasher.
type Option func(*Hasher)

// WithLength truncates digests to n hex characters. Values outside
// (0, 64) keep the full digest.
func WithLength(n int) Option {
	return func(h *Hasher) {
		if n > 0 && n < hex.EncodedLen(sha256.Size) {
			h.length = n
		}
	}
}

// New returns a Hasher configured by opts.
func New(opts ...Option) *Hasher {
	h := &Hasher{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Hash returns the hex SHA-256 of data, truncated when a length is set.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.length > 0 {
		digest = digest[:h.length]
	}
	return digest, nil
}
