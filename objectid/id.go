// Package objectid defines the cache's content-addressed key type.
//
// The cache treats object identity as an opaque, fixed-width digest: it
// never computes a hash itself, only compares and orders the digests
// handed to it by its caller. We build the type on top of
// [github.com/opencontainers/go-digest] rather than a raw byte slice so
// that ids remain comparable, hashable as Go map keys, and printable for
// diagnostics without the cache needing to know which hash algorithm
// produced them.
package objectid

import (
	"fmt"

	digest "github.com/opencontainers/go-digest"
)

// ID is an opaque, fixed-width content digest used as the cache key for
// buffers, handles, and transactions. The zero value is not a valid id.
type ID struct {
	d digest.Digest
}

// FromDigest wraps an existing digest as an ID. The digest is not
// re-validated against its algorithm's expected length; callers that need
// that guarantee should call Validate.
func FromDigest(d digest.Digest) ID {
	return ID{d: d}
}

// FromBytes builds an ID directly from a hash algorithm and raw digest
// bytes, without requiring the caller to go through digest.Digest's
// string encoding.
func FromBytes(alg digest.Algorithm, raw []byte) ID {
	return ID{d: digest.NewDigestFromBytes(alg, raw)}
}

// Parse decodes a digest string of the form "<alg>:<hex>" into an ID.
func Parse(s string) (ID, error) {
	d, err := digest.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("objectid: parse %q: %w", s, err)
	}
	return ID{d: d}, nil
}

// Validate reports whether the id's digest is well-formed for its
// algorithm (correct length, valid hex encoding).
func (id ID) Validate() error {
	return id.d.Validate()
}

// IsZero reports whether id is the unset zero value.
func (id ID) IsZero() bool {
	return id.d == ""
}

// String returns the canonical "<alg>:<hex>" representation.
func (id ID) String() string {
	return id.d.String()
}

// Less gives ID a total order so it can be used as a deterministic sort
// and listing key, independent of map iteration order.
func (id ID) Less(other ID) bool {
	return id.d < other.d
}

// Compare returns -1, 0, or 1 as id is less than, equal to, or greater
// than other.
func (id ID) Compare(other ID) int {
	switch {
	case id.d < other.d:
		return -1
	case id.d > other.d:
		return 1
	default:
		return 0
	}
}
