// Package merkle implements the SHA-256 binary Merkle tree over operator
// leaves used to commit a model graph (component D).
//
// Padding rule: the leaf list is padded up front, by duplicating the last
// leaf until the count is a power of two, before any node hash is computed.
// This must match between the off-chain prover, the on-chain verifier of the
// root, and the in-VM verifier in pkg/zkprogram — they never re-derive
// padding independently.
package merkle

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/certen/zk-opml/pkg/hashing"
)

var (
	ErrEmptyTree       = errors.New("merkle: cannot build tree from empty leaves")
	ErrInvalidLeafHash = errors.New("merkle: leaf hash must be 32 bytes")
	ErrIndexOutOfRange = errors.New("merkle: leaf index out of range")
)

// Position indicates which side of the accumulator a sibling sits on when
// walking from a leaf up to the root.
type Position uint8

const (
	Left Position = iota
	Right
)

// ProofStep is one step of a single-leaf Merkle path.
type ProofStep struct {
	Sibling  [32]byte `json:"sibling"`
	Position Position `json:"position"`
}

// LeafProof is the path from one leaf to the root.
type LeafProof struct {
	Index int         `json:"index"`
	Leaf  [32]byte    `json:"leaf"`
	Path  []ProofStep `json:"path"`
}

// MultiProof bundles independent leaf paths for one or more indices.
// For the bisection dispute (§4.F) it is always built and verified with
// exactly one index; the representation generalizes to more without a
// compressed encoding, since the core never needs one.
type MultiProof struct {
	TotalLeaves int         `json:"totalLeaves"`
	Leaves      []LeafProof `json:"leaves"`
}

// Tree is a binary Merkle tree over 32-byte leaves, built once and then
// treated as immutable (per spec.md §5: "The Merkle tree built during
// registration may be cached by any party; it is immutable after
// construction.").
type Tree struct {
	mu           sync.RWMutex
	leaves       [][32]byte // original, unpadded leaves in graph order
	paddedLeaves [][32]byte
	levels       [][][32]byte // levels[0] = padded leaves, levels[last] = {root}
	built        bool
}

// Build constructs a tree from operator leaf hashes in graph order, in O(N).
func Build(leaves [][32]byte) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}

	t := &Tree{
		leaves: append([][32]byte(nil), leaves...),
	}
	t.paddedLeaves = padToPowerOfTwo(t.leaves)

	level := t.paddedLeaves
	t.levels = append(t.levels, level)
	for len(level) > 1 {
		next := make([][32]byte, len(level)/2)
		for i := range next {
			next[i] = hashPair(level[2*i], level[2*i+1])
		}
		t.levels = append(t.levels, next)
		level = next
	}
	t.built = true
	return t, nil
}

// padToPowerOfTwo duplicates the last leaf until the count is a power of two.
func padToPowerOfTwo(leaves [][32]byte) [][32]byte {
	n := 1
	for n < len(leaves) {
		n *= 2
	}
	if n == len(leaves) {
		return append([][32]byte(nil), leaves...)
	}
	padded := make([][32]byte, n)
	copy(padded, leaves)
	last := leaves[len(leaves)-1]
	for i := len(leaves); i < n; i++ {
		padded[i] = last
	}
	return padded
}

func hashPair(left, right [32]byte) [32]byte {
	return hashing.HashConcat(left[:], right[:])
}

// Root returns the tree's root hash.
func (t *Tree) Root() [32]byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// LeafCount returns the number of *unpadded* leaves, i.e. numOperators.
func (t *Tree) LeafCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.leaves)
}

// LeavesHashes returns the (padded-tree) leaf hashes at the given indices.
func (t *Tree) LeavesHashes(indices []int) ([][32]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([][32]byte, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(t.paddedLeaves) {
			return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, idx)
		}
		out[i] = t.paddedLeaves[idx]
	}
	return out, nil
}

// Prove builds a MultiProof for the given leaf indices (into the padded
// tree). For the bisection use, |indices| == 1.
func (t *Tree) Prove(indices []int) (*MultiProof, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	mp := &MultiProof{TotalLeaves: len(t.paddedLeaves)}
	for _, idx := range indices {
		if idx < 0 || idx >= len(t.paddedLeaves) {
			return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, idx)
		}
		lp := LeafProof{Index: idx, Leaf: t.paddedLeaves[idx]}
		current := idx
		for level := 0; level < len(t.levels)-1; level++ {
			nodes := t.levels[level]
			var sibling [32]byte
			var pos Position
			if current%2 == 0 {
				sibling = nodes[current+1]
				pos = Right
			} else {
				sibling = nodes[current-1]
				pos = Left
			}
			lp.Path = append(lp.Path, ProofStep{Sibling: sibling, Position: pos})
			current /= 2
		}
		mp.Leaves = append(mp.Leaves, lp)
	}
	return mp, nil
}

// ProveBytes is Prove followed by a stable JSON encoding, matching §4.D's
// `prove(indices) -> proof_bytes` signature.
func (t *Tree) ProveBytes(indices []int) ([]byte, error) {
	mp, err := t.Prove(indices)
	if err != nil {
		return nil, err
	}
	return json.Marshal(mp)
}

// Verify checks a MultiProof against a claimed root, leaf hash set and total
// leaf count. It never panics or returns an error for malformed input — per
// §4.D, failure is always a `false` return.
func Verify(root [32]byte, indices []int, leafHashes [][32]byte, totalLeaves int, proofBytes []byte) bool {
	if len(indices) != len(leafHashes) || len(indices) == 0 {
		return false
	}
	var mp MultiProof
	if err := json.Unmarshal(proofBytes, &mp); err != nil {
		return false
	}
	if mp.TotalLeaves != totalLeaves || len(mp.Leaves) != len(indices) {
		return false
	}
	for i, idx := range indices {
		lp := mp.Leaves[i]
		if lp.Index != idx {
			return false
		}
		if !bytes.Equal(lp.Leaf[:], leafHashes[i][:]) {
			return false
		}
		if !verifyPath(lp.Leaf, idx, lp.Path, totalLeaves, root) {
			return false
		}
	}
	return true
}

func verifyPath(leaf [32]byte, index int, path []ProofStep, totalLeaves int, root [32]byte) bool {
	expectedSteps := 0
	for n := totalLeaves; n > 1; n /= 2 {
		expectedSteps++
	}
	if len(path) != expectedSteps {
		return false
	}

	current := leaf
	for _, step := range path {
		switch step.Position {
		case Left:
			current = hashPair(step.Sibling, current)
		case Right:
			current = hashPair(current, step.Sibling)
		default:
			return false
		}
	}
	_ = index
	return bytes.Equal(current[:], root[:])
}

// RootHex is a convenience accessor used by logging call sites.
func (t *Tree) RootHex() string {
	root := t.Root()
	return hex.EncodeToString(root[:])
}
