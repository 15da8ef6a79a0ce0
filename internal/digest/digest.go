// Package digest computes and verifies the content digests used to detect
// corrupted or mismatched chunk bytes on PutChunk.
package digest

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Digest is the hex-encoded xxhash64 of a chunk's bytes.
type Digest string

// Compute returns the digest of b.
func Compute(b []byte) Digest {
	sum := xxhash.Sum64(b)
	return Digest(strconv.FormatUint(sum, 16))
}

// Verify reports whether b hashes to want.
func Verify(b []byte, want Digest) bool {
	return Compute(b) == want
}
