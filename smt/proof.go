package smt

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/opensmt/smtd/hasher"
	"github.com/opensmt/smtd/storage"
)

// Field numbers used by the hand-rolled CompiledMerkleProof wire format
// (see Compile below and SPEC_FULL.md §4.5). This
// is not a generated protobuf message; protowire is used directly as a
// varint/length-delimited encoding primitive so the format needs no
// .proto compiler step.
const (
	fieldKeyCount   = 1 // varint: number of keys covered by this proof
	fieldStepCount  = 2 // varint: number of non-trivial siblings for the current key
	fieldHeight     = 3 // varint: height of the following sibling
	fieldSibling    = 4 // bytes(32): sibling hash at that height
	fieldKeysBlock  = 5 // bytes(N*32): the queried keys, in compile order
)

// MerkleProof is the uncompiled proof produced by Tree.MerkleProof: for
// every queried key, in the order queried, the sibling encountered at
// every one of the 256 heights along its path to the root.
type MerkleProof struct {
	Keys     []LeafKey
	Values   []LeafValue // Values[i] is the current value at Keys[i] (zero if absent)
	Siblings [][Height]hasher.H256
}

// MerkleProof produces an uncompiled proof for keys against the tree's
// current root. Per spec.md §4.4, the returned proof's Keys are in the
// same order as the input keys; callers that need ascending-key-order
// semantics sort before calling.
func (t *Tree) MerkleProof(ctx context.Context, keys []LeafKey) (*MerkleProof, error) {
	root, err := t.r.GetRoot(ctx, t.prefix)
	if err != nil {
		return nil, err
	}
	proof := &MerkleProof{
		Keys:     make([]LeafKey, len(keys)),
		Values:   make([]LeafValue, len(keys)),
		Siblings: make([][Height]hasher.H256, len(keys)),
	}
	copy(proof.Keys, keys)
	for i, k := range keys {
		p, err := t.walkDown(ctx, root, k)
		if err != nil {
			return nil, err
		}
		proof.Values[i] = p.oldHash[0]
		proof.Siblings[i] = p.siblings
	}
	return proof, nil
}

// Compile produces the CompiledMerkleProof byte encoding for this
// proof, bound to its Keys list and order (spec.md §4.5). Siblings
// equal to the empty-subtree hash at their height are omitted: they
// are recomputable from height alone by any verifier, so storing them
// would be dead weight.
func (p *MerkleProof) Compile() []byte {
	if len(p.Keys) == 0 {
		return nil
	}
	var b []byte
	b = protowire.AppendTag(b, fieldKeyCount, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(len(p.Keys)))
	for i := range p.Keys {
		steps := make([]struct {
			height  uint8
			sibling hasher.H256
		}, 0, Height)
		for h := 0; h < Height; h++ {
			sib := p.Siblings[i][h]
			if sib == hasher.EmptySubtreeHashes[h] {
				continue
			}
			steps = append(steps, struct {
				height  uint8
				sibling hasher.H256
			}{uint8(h), sib})
		}
		b = protowire.AppendTag(b, fieldStepCount, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(len(steps)))
		for _, s := range steps {
			b = protowire.AppendTag(b, fieldHeight, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(s.height))
			b = protowire.AppendTag(b, fieldSibling, protowire.BytesType)
			b = protowire.AppendBytes(b, s.sibling.Bytes())
		}
	}
	keysBlock := make([]byte, 0, len(p.Keys)*hasher.Size)
	for _, k := range p.Keys {
		keysBlock = append(keysBlock, k.Bytes()...)
	}
	b = protowire.AppendTag(b, fieldKeysBlock, protowire.BytesType)
	b = protowire.AppendBytes(b, keysBlock)
	return b
}

// CompiledStep is a single (height, sibling) pair recovered by Decode.
type CompiledStep struct {
	Height  uint8
	Sibling hasher.H256
}

// Decode parses a CompiledMerkleProof back into its per-key step lists
// and the key list it is bound to. It does not by itself verify
// anything; use Verify to check a decoded proof against a root and the
// claimed (key, value) pairs.
func Decode(b []byte) (keys []LeafKey, steps [][]CompiledStep, err error) {
	if len(b) == 0 {
		return nil, nil, nil
	}
	var keyCount uint64
	var sawKeyCount bool

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, nil, fmt.Errorf("smt: malformed proof: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldKeyCount:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, nil, fmt.Errorf("smt: malformed proof: bad key count: %w", protowire.ParseError(n))
			}
			b = b[n:]
			keyCount = v
			sawKeyCount = true
			steps = make([][]CompiledStep, 0, keyCount)
		case fieldStepCount:
			if typ != protowire.VarintType {
				return nil, nil, fmt.Errorf("smt: malformed proof: step count has wrong wire type")
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, nil, fmt.Errorf("smt: malformed proof: bad step count: %w", protowire.ParseError(n))
			}
			b = b[n:]
			group := make([]CompiledStep, 0, v)
			for i := uint64(0); i < v; i++ {
				hNum, hTyp, hn := protowire.ConsumeTag(b)
				if hn < 0 || hNum != fieldHeight || hTyp != protowire.VarintType {
					return nil, nil, fmt.Errorf("smt: malformed proof: expected height field")
				}
				b = b[hn:]
				height, hv := protowire.ConsumeVarint(b)
				if hv < 0 {
					return nil, nil, fmt.Errorf("smt: malformed proof: bad height: %w", protowire.ParseError(hv))
				}
				b = b[hv:]

				sNum, sTyp, sn := protowire.ConsumeTag(b)
				if sn < 0 || sNum != fieldSibling || sTyp != protowire.BytesType {
					return nil, nil, fmt.Errorf("smt: malformed proof: expected sibling field")
				}
				b = b[sn:]
				sibBytes, sv := protowire.ConsumeBytes(b)
				if sv < 0 {
					return nil, nil, fmt.Errorf("smt: malformed proof: bad sibling: %w", protowire.ParseError(sv))
				}
				b = b[sv:]
				sib, ok := hasher.H256FromBytes(sibBytes)
				if !ok {
					return nil, nil, fmt.Errorf("smt: malformed proof: sibling has wrong length")
				}
				group = append(group, CompiledStep{Height: uint8(height), Sibling: sib})
			}
			steps = append(steps, group)
		case fieldKeysBlock:
			if typ != protowire.BytesType {
				return nil, nil, fmt.Errorf("smt: malformed proof: keys block has wrong wire type")
			}
			block, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, nil, fmt.Errorf("smt: malformed proof: bad keys block: %w", protowire.ParseError(n))
			}
			b = b[n:]
			if len(block)%hasher.Size != 0 {
				return nil, nil, fmt.Errorf("smt: malformed proof: keys block has %d bytes, not a multiple of %d", len(block), hasher.Size)
			}
			keys = make([]LeafKey, 0, len(block)/hasher.Size)
			for i := 0; i < len(block); i += hasher.Size {
				k, _ := hasher.H256FromBytes(block[i : i+hasher.Size])
				keys = append(keys, k)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, nil, fmt.Errorf("smt: malformed proof: unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if sawKeyCount && uint64(len(keys)) != keyCount {
		return nil, nil, fmt.Errorf("smt: malformed proof: key count %d does not match %d keys", keyCount, len(keys))
	}
	if len(steps) != len(keys) {
		return nil, nil, fmt.Errorf("smt: malformed proof: %d step groups for %d keys", len(steps), len(keys))
	}
	return keys, steps, nil
}

// Verify reports whether compiled is a valid proof that every (key,
// value) pair in pairs (which must be in the same order Compile was
// called with) is present, at the given value, in the tree with the
// given root. It never mutates a store; it recomputes each path's root
// purely from the decoded siblings. This is test/verification support
// (spec.md §8's "Proof round-trip" property), not part of the
// production update/query path.
func Verify(root hasher.H256, pairs []Pair, compiled []byte) (bool, error) {
	keys, stepGroups, err := Decode(compiled)
	if err != nil {
		return false, err
	}
	if len(keys) != len(pairs) {
		return false, nil
	}
	for i, pair := range pairs {
		if keys[i] != pair.Key {
			return false, nil
		}
		siblings := expandSteps(stepGroups[i])
		got := recomputeRootFromSiblings(pair.Key, pair.Value, siblings)
		if got != root {
			return false, nil
		}
	}
	return true, nil
}

func expandSteps(steps []CompiledStep) [Height]hasher.H256 {
	var out [Height]hasher.H256
	for h := 0; h < Height; h++ {
		out[h] = hasher.EmptySubtreeHashes[h]
	}
	for _, s := range steps {
		if int(s.Height) < Height {
			out[s.Height] = s.Sibling
		}
	}
	return out
}

func recomputeRootFromSiblings(key LeafKey, value LeafValue, siblings [Height]hasher.H256) hasher.H256 {
	acc := value
	for h := 0; h < Height; h++ {
		bit := bitAt(key, Height-1-h)
		sib := siblings[h]
		var node storage.BranchNode
		if bit == 0 {
			node = storage.BranchNode{Left: acc, Right: sib}
		} else {
			node = storage.BranchNode{Left: sib, Right: acc}
		}
		acc = node.Hash(uint8(h))
	}
	return acc
}
