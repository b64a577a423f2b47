// Package fingerprint computes content fingerprints used for integrity
// checks and deduplication.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"regexp"

	"golang.org/x/crypto/blake2b"
)

// Algorithm names a supported digest.
type Algorithm string

const (
	MD5     Algorithm = "md5"
	BLAKE2b Algorithm = "blake2b"
)

var hexPattern = regexp.MustCompile(`^[0-9a-f]+$`)

// Hasher produces lowercase hex fingerprints with a fixed algorithm.
type Hasher struct {
	alg Algorithm
}

// New returns a Hasher for alg. An empty alg selects MD5.
func New(alg Algorithm) (*Hasher, error) {
	switch alg {
	case "":
		alg = MD5
	case MD5, BLAKE2b:
	default:
		return nil, fmt.Errorf("unsupported fingerprint algorithm %q", alg)
	}
	return &Hasher{alg: alg}, nil
}

func (h *Hasher) Algorithm() Algorithm { return h.alg }

// HexLen is the length of a fingerprint produced by this Hasher.
func (h *Hasher) HexLen() int {
	if h.alg == BLAKE2b {
		return blake2b.Size256 * 2
	}
	return md5.Size * 2
}

// NewHash returns a fresh streaming hash.
func (h *Hasher) NewHash() hash.Hash {
	if h.alg == BLAKE2b {
		// New256 only fails for keys longer than 64 bytes.
		d, _ := blake2b.New256(nil)
		return d
	}
	return md5.New()
}

// Sum fingerprints an in-memory buffer.
func (h *Hasher) Sum(b []byte) string {
	d := h.NewHash()
	d.Write(b)
	return hex.EncodeToString(d.Sum(nil))
}

// SumReader streams r through the digest and returns the fingerprint and
// the number of bytes read.
func (h *Hasher) SumReader(r io.Reader) (string, int64, error) {
	d := h.NewHash()
	n, err := io.Copy(d, r)
	if err != nil {
		return "", n, fmt.Errorf("fingerprint: %w", err)
	}
	return hex.EncodeToString(d.Sum(nil)), n, nil
}

// Valid reports whether fp looks like a fingerprint from this Hasher.
func (h *Hasher) Valid(fp string) bool {
	return len(fp) == h.HexLen() && hexPattern.MatchString(fp)
}
