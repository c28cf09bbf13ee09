// Package storage implements the multi-tree encoding layer: it turns
// per-tree logical operations (read/write a leaf, read/write/remove a
// branch) into physical operations against a single shared ordered
// byte-keyed backing store, using a tree-name prefix to keep every
// tree's records collocated and isolated from every other tree's.
//
// The physical layout implemented here is a stability contract (see
// spec §6.4): changing the tag bytes or key lengths below makes stores
// written by one version unreadable by another.
package storage

import (
	"bytes"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/opensmt/smtd/hasher"
)

// Family discriminators. leafTag keeps leaf records in their own
// byte-range (0x4C < 0xFF) so ascending prefix iteration over the whole
// tree prefix yields leaves before any branch record, and so that a
// leaf-only iteration can stop as soon as it sees a 0xFF tag.
const (
	rootTag   byte = 0x00
	leafTag   byte = 0x4C // 'L'
	branchTag byte = 0xFF
)

// LeafSuffixLen is the length, in bytes, of a leaf record's key after
// the tree prefix: one tag byte plus a 32-byte leaf key.
const LeafSuffixLen = 1 + hasher.Size

// BranchSuffixLen is the length, in bytes, of a branch record's key
// after the tree prefix: one tag byte, one height byte, and a 32-byte
// node hash.
const BranchSuffixLen = 1 + 1 + hasher.Size

// ErrEmptyTreeName is returned when a tree name is the empty string;
// spec.md requires tree names to be non-empty.
var ErrEmptyTreeName = errors.New("storage: tree name must not be empty")

// BranchKey identifies a stored branch node: its height above the
// leaves (0 = the parent directly above leaves) and the hash under
// which it is filed.
type BranchKey struct {
	Height uint8
	Hash   hasher.H256
}

// BranchNode is the pair of child hashes stored at a BranchKey.
type BranchNode struct {
	Left, Right hasher.H256
}

// Hash returns the hash this node must be stored under at the given
// height: Hasher(height || left || right).
func (n BranchNode) Hash(height uint8) hasher.H256 {
	return hasher.HashBranch(height, n.Left, n.Right)
}

// EncodeRootKey returns the physical key holding the tree's current
// root pointer: the 32-byte hash of its top-level branch, or the
// all-zero hash if the tree has never been written or has been fully
// wiped. This is not itself a Leaf or a Branch record (spec.md's
// BranchKey is content-addressed by a node's own hash, which makes it
// unsuitable for storing "the current root" — you would need to
// already know the hash to form the key to look it up). The root
// pointer's 1-byte suffix keeps it trivially distinguishable, by
// length, from both leaf (33-byte) and branch (34-byte) suffixes, so
// it never interferes with the leaf-family prefix iteration wipe (§4.4)
// relies on.
func EncodeRootKey(prefix []byte) []byte {
	out := make([]byte, 0, len(prefix)+1)
	out = append(out, prefix...)
	out = append(out, rootTag)
	return out
}

// EncodeLeafKey returns the physical key for a leaf under tree prefix.
func EncodeLeafKey(prefix []byte, key hasher.H256) []byte {
	out := make([]byte, 0, len(prefix)+LeafSuffixLen)
	out = append(out, prefix...)
	out = append(out, leafTag)
	out = append(out, key[:]...)
	return out
}

// EncodeBranchKey returns the physical key for a branch under tree
// prefix.
func EncodeBranchKey(prefix []byte, bk BranchKey) []byte {
	out := make([]byte, 0, len(prefix)+BranchSuffixLen)
	out = append(out, prefix...)
	out = append(out, branchTag)
	out = append(out, bk.Height)
	out = append(out, bk.Hash[:]...)
	return out
}

// EncodeBranchNode serializes a BranchNode's value (the two child
// hashes, concatenated).
func EncodeBranchNode(n BranchNode) []byte {
	out := make([]byte, 0, 2*hasher.Size)
	out = append(out, n.Left[:]...)
	out = append(out, n.Right[:]...)
	return out
}

// DecodeBranchNode parses a value previously produced by
// EncodeBranchNode.
func DecodeBranchNode(b []byte) (BranchNode, error) {
	if len(b) != 2*hasher.Size {
		return BranchNode{}, fmt.Errorf("storage: branch value has %d bytes, want %d", len(b), 2*hasher.Size)
	}
	var n BranchNode
	copy(n.Left[:], b[:hasher.Size])
	copy(n.Right[:], b[hasher.Size:])
	return n, nil
}

// TreePrefix validates and returns the prefix bytes for a tree name.
// Tree names are opaque, arbitrary, caller-supplied byte strings with no
// content restriction (spec.md's TreeName), so the prefix cannot simply
// be the name bytes themselves: if tree B's name were a proper byte-prefix
// of tree A's name, a leaf or branch key under A could collide with one
// under B purely by choosing A's trailing bytes to match B's tag byte and
// the rest of a real B record. (Concretely: name A = name B + 0xFF, a
// leaf key K under A and a height-0x4C branch hash H under B with K==H
// produce the identical physical key.) Length-delimiting the name —
// varint(len(name)) || name — closes this: varint encodings are
// prefix-free, so two prefixes with different name lengths diverge
// inside the varint header itself, and two prefixes with the same name
// length are equal only if the names are equal. No tree's prefix can
// ever be a proper byte-prefix of another's.
func TreePrefix(treeName []byte) ([]byte, error) {
	if len(treeName) == 0 {
		return nil, ErrEmptyTreeName
	}
	out := protowire.AppendVarint(make([]byte, 0, 10+len(treeName)), uint64(len(treeName)))
	out = append(out, treeName...)
	return out, nil
}

// IsLeafKey reports whether physicalKey (with the given prefix already
// known to match) is a leaf record, and if so decodes the logical leaf
// key.
func IsLeafKey(prefix, physicalKey []byte) (hasher.H256, bool) {
	if !bytes.HasPrefix(physicalKey, prefix) {
		return hasher.H256{}, false
	}
	suffix := physicalKey[len(prefix):]
	if len(suffix) != LeafSuffixLen || suffix[0] != leafTag {
		return hasher.H256{}, false
	}
	var key hasher.H256
	copy(key[:], suffix[1:])
	return key, true
}
