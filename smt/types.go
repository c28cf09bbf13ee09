// Package smt implements the height-256 sparse Merkle tree algorithm:
// update, batched update, root computation, and Merkle proof
// generation, all expressed purely in terms of the storage.Reader/
// storage.Writer interfaces so the same algorithm runs unchanged over
// an in-memory store or a persistent, transactional one.
package smt

import "github.com/opensmt/smtd/hasher"

// Height is the depth of this tree: every leaf sits 256 levels below
// the root.
const Height = 256

// LeafKey is a 32-byte value interpreted as a 256-bit MSB-first path
// from root to leaf.
type LeafKey = hasher.H256

// LeafValue is a 32-byte value. The all-zero LeafValue marks deletion.
type LeafValue = hasher.H256

// Pair is a single leaf update: set LeafKey to LeafValue (or delete it,
// if LeafValue is the zero value).
type Pair struct {
	Key   LeafKey
	Value LeafValue
}
