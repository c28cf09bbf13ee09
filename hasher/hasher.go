// Package hasher provides the domain-separated 32-byte hash used to turn
// leaf values into leaf hashes and to combine sibling hashes into parent
// hashes throughout the sparse Merkle tree.
package hasher

import (
	"hash"

	"golang.org/x/crypto/blake2b"
)

// Size is the width in bytes of every hash value this package produces.
const Size = 32

// Personalization is the fixed domain separator mixed into every hash
// computed by this package. It is part of the on-disk/on-wire contract:
// changing it invalidates every previously computed root.
const Personalization = "smtd-branch-hash-v1"

// H256 is an immutable 32-byte hash value. The zero value means "empty
// subtree" or "absent leaf".
type H256 [Size]byte

// IsZero reports whether h is the all-zero hash.
func (h H256) IsZero() bool {
	return h == H256{}
}

// Bytes returns a copy of h as a slice.
func (h H256) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, h[:])
	return out
}

// H256FromBytes copies b (which must be exactly Size bytes) into an H256.
func H256FromBytes(b []byte) (H256, bool) {
	var h H256
	if len(b) != Size {
		return h, false
	}
	copy(h[:], b)
	return h, true
}

// Hasher absorbs bytes and, once Finish is called, produces the
// personalized 32-byte digest. A Hasher is single-use: Finish consumes
// it.
type Hasher struct {
	h hash.Hash
}

// New returns a fresh Hasher ready to absorb input.
func New() *Hasher {
	// BLAKE2b's key parameter doubles as this system's personalization:
	// a fixed, non-empty byte string mixed into every hash, the same
	// role BLAKE2b's native `personal` field plays in the source this
	// engine was ported from.
	h, err := blake2b.New256([]byte(Personalization))
	if err != nil {
		// Personalization is a fixed compile-time constant within
		// BLAKE2b's 64-byte key limit; this can only fail if that
		// invariant is broken by a future edit.
		panic("hasher: invalid personalization: " + err.Error())
	}
	return &Hasher{h: h}
}

// WriteHash absorbs a 32-byte hash value.
func (h *Hasher) WriteHash(v H256) *Hasher {
	h.h.Write(v[:])
	return h
}

// WriteByte absorbs a single byte (used to mix in the branch height).
func (h *Hasher) WriteByte(b byte) *Hasher {
	h.h.Write([]byte{b})
	return h
}

// Finish produces the digest. The Hasher must not be reused afterward.
func (h *Hasher) Finish() H256 {
	var out H256
	copy(out[:], h.h.Sum(nil))
	return out
}

// HashLeaf turns a 32-byte leaf value into its leaf hash. For this
// construction a leaf's hash is the value itself: LeafValue is already
// 32 bytes and carries no additional framing.
func HashLeaf(v H256) H256 {
	return v
}

// HashBranch combines a height and two child hashes into the parent
// branch hash: Hasher(height_byte || left || right).
//
// Two all-zero children always combine to the all-zero hash, without
// invoking the hash function at all. This is not an optimization layered
// on top of the construction, it is part of the construction: it is
// what makes the empty-subtree hash the same all-zero constant at every
// height (see EmptySubtreeHashes) instead of a different, non-obvious
// value per height, which in turn is what lets a never-written or
// fully-wiped tree's root equal the all-zero hash rather than some
// opaque derived constant.
func HashBranch(height uint8, left, right H256) H256 {
	if left.IsZero() && right.IsZero() {
		return H256{}
	}
	return New().WriteByte(height).WriteHash(left).WriteHash(right).Finish()
}

// EmptySubtreeHashes is the precomputed constant sequence E[0..=256]
// where E[0] is the all-zero hash and E[h] = Hasher(h-1 || E[h-1] ||
// E[h-1]). It is used wherever a subtree has no stored branch. Because
// HashBranch short-circuits two zero children to zero, every entry in
// this sequence is the all-zero hash; it is kept as an explicit,
// named array (rather than callers just writing H256{}) because
// "the empty subtree hash at height h" is the concept callers reason
// about, even though its values are now all equal.
var EmptySubtreeHashes [257]H256

func init() {
	for h := 1; h <= 256; h++ {
		prev := EmptySubtreeHashes[h-1]
		EmptySubtreeHashes[h] = HashBranch(uint8(h-1), prev, prev)
	}
}
