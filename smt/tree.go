package smt

import (
	"context"
	"fmt"

	"github.com/opensmt/smtd/hasher"
	"github.com/opensmt/smtd/storage"
)

// Tree is a height-256 sparse Merkle tree over a storage.Reader (for
// Root/MerkleProof) or, when the reader also implements storage.Writer,
// over a mutable storage.Writer (for Update/UpdateAll).
type Tree struct {
	r      storage.Reader
	prefix []byte
}

// New returns a Tree scoped to prefix, operating over r. If r also
// implements storage.Writer, Update and UpdateAll are available.
func New(r storage.Reader, prefix []byte) *Tree {
	return &Tree{r: r, prefix: prefix}
}

func (t *Tree) writer() (storage.Writer, error) {
	w, ok := t.r.(storage.Writer)
	if !ok {
		return nil, ErrReadOnly
	}
	return w, nil
}

// Root returns the tree's current root hash.
func (t *Tree) Root(ctx context.Context) (hasher.H256, error) {
	return t.r.GetRoot(ctx, t.prefix)
}

// bitAt returns the bit of k at MSB-first index i (0 <= i < 256): 0
// selects the left child, 1 the right child.
func bitAt(k hasher.H256, i int) int {
	byteIdx := i / 8
	bitIdx := uint(7 - i%8)
	return int((k[byteIdx] >> bitIdx) & 1)
}

// path holds what walkDown discovers while descending from root to a
// single leaf: the sibling at every branch height, and the node hash
// at every tree level (256 at the root, 0 at the leaf) before any
// update is applied.
type path struct {
	key      LeafKey
	siblings [Height]hasher.H256     // siblings[h]: sibling hash when combining at branch height h
	oldHash  [Height + 1]hasher.H256 // oldHash[l]: node hash at tree-level l before update
}

// walkDown descends from root to the leaf at key, recording the
// sibling at every height and the pre-update node hash at every level.
// oldHash[0] on return is the leaf's current value (zero if absent).
func (t *Tree) walkDown(ctx context.Context, root hasher.H256, key LeafKey) (*path, error) {
	p := &path{key: key}
	p.oldHash[Height] = root
	current := root
	for level := Height; level >= 1; level-- {
		h := uint8(level - 1)
		bit := bitAt(key, Height-level)
		var left, right hasher.H256
		if current.IsZero() {
			left, right = hasher.H256{}, hasher.H256{}
		} else {
			node, ok, err := t.r.GetBranch(ctx, t.prefix, storage.BranchKey{Height: h, Hash: current})
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, newInternalError(fmt.Sprintf("missing branch (height=%d, hash=%x) referenced by an ancestor", h, current))
			}
			left, right = node.Left, node.Right
		}
		if bit == 0 {
			p.siblings[h] = right
			current = left
		} else {
			p.siblings[h] = left
			current = right
		}
		p.oldHash[level-1] = current
	}
	return p, nil
}

// recomputeUp applies the bottom-up half of an update: given the
// siblings collected by walkDown and the new leaf value, it writes the
// new branch at every height whose hash changed and removes the
// now-superseded old branch at that height, stopping as soon as a
// level's hash turns out unchanged (every ancestor above it is then
// unchanged too). It returns the resulting root.
func (t *Tree) recomputeUp(ctx context.Context, w storage.Writer, p *path, newValue hasher.H256) (hasher.H256, error) {
	if newValue == p.oldHash[0] {
		// The leaf's value did not actually change.
		return p.oldHash[Height], nil
	}
	acc := newValue
	for h := 0; h < Height; h++ {
		oldAcc := p.oldHash[h]
		sib := p.siblings[h]
		bit := bitAt(p.key, Height-1-h)
		var node storage.BranchNode
		if bit == 0 {
			node = storage.BranchNode{Left: acc, Right: sib}
		} else {
			node = storage.BranchNode{Left: sib, Right: acc}
		}
		newAcc := node.Hash(uint8(h))

		if !newAcc.IsZero() {
			if err := w.PutBranch(ctx, t.prefix, storage.BranchKey{Height: uint8(h), Hash: newAcc}, node); err != nil {
				return hasher.H256{}, err
			}
		}
		if !oldAcc.IsZero() && oldAcc != newAcc {
			if err := w.DeleteBranch(ctx, t.prefix, storage.BranchKey{Height: uint8(h), Hash: oldAcc}); err != nil {
				return hasher.H256{}, err
			}
		}

		if newAcc == oldAcc {
			// Every remaining ancestor combines the same two children
			// it always did; nothing further changes.
			return p.oldHash[Height], nil
		}
		acc = newAcc
	}
	return acc, nil
}

// update applies a single (key, value) pair against the tree's current
// root, returning the new root. Callers that already know the current
// root (e.g. UpdateAll, batching across many pairs) pass it in and get
// the new one back without this method re-reading or re-writing the
// root pointer itself.
func (t *Tree) update(ctx context.Context, w storage.Writer, root hasher.H256, key LeafKey, value LeafValue) (hasher.H256, error) {
	p, err := t.walkDown(ctx, root, key)
	if err != nil {
		return hasher.H256{}, err
	}
	newRoot, err := t.recomputeUp(ctx, w, p, value)
	if err != nil {
		return hasher.H256{}, err
	}
	if value != p.oldHash[0] {
		if value.IsZero() {
			if err := w.DeleteLeaf(ctx, t.prefix, key); err != nil {
				return hasher.H256{}, err
			}
		} else {
			if err := w.PutLeaf(ctx, t.prefix, key, value); err != nil {
				return hasher.H256{}, err
			}
		}
	}
	return newRoot, nil
}

// Update applies a single leaf update and persists the new root
// pointer. It requires a Tree built over a storage.Writer.
func (t *Tree) Update(ctx context.Context, key LeafKey, value LeafValue) (hasher.H256, error) {
	w, err := t.writer()
	if err != nil {
		return hasher.H256{}, err
	}
	root, err := t.r.GetRoot(ctx, t.prefix)
	if err != nil {
		return hasher.H256{}, err
	}
	newRoot, err := t.update(ctx, w, root, key, value)
	if err != nil {
		return hasher.H256{}, err
	}
	if newRoot != root {
		if err := w.PutRoot(ctx, t.prefix, newRoot); err != nil {
			return hasher.H256{}, err
		}
	}
	return newRoot, nil
}

// UpdateAll applies every pair in pairs, in order, to the tree and
// persists the single resulting root pointer once at the end. This is
// semantically equivalent to calling Update for each pair in sequence
// (spec.md §4.3): when two pairs share a key, the later one wins,
// because each pair's update() call starts from the root the previous
// pair's update() call produced.
func (t *Tree) UpdateAll(ctx context.Context, pairs []Pair) (hasher.H256, error) {
	w, err := t.writer()
	if err != nil {
		return hasher.H256{}, err
	}
	root, err := t.r.GetRoot(ctx, t.prefix)
	if err != nil {
		return hasher.H256{}, err
	}
	if len(pairs) == 0 {
		return root, nil
	}
	startRoot := root
	for _, pair := range pairs {
		root, err = t.update(ctx, w, root, pair.Key, pair.Value)
		if err != nil {
			return hasher.H256{}, err
		}
	}
	if root != startRoot {
		if err := w.PutRoot(ctx, t.prefix, root); err != nil {
			return hasher.H256{}, err
		}
	}
	return root, nil
}
