// Package merkle builds the per-epoch liveness commitment: a binary tree
// of Keccak-256 hashes using sorted-pair concatenation, so that inclusion
// proofs are canonical and position-independent.
package merkle

import (
	"bytes"
	"sort"

	"github.com/relaypulse/relaypulse/common"
	"github.com/relaypulse/relaypulse/epoch"
	"github.com/relaypulse/relaypulse/relayerrors"
)

// LeafHash computes the atomic fact being committed for one relay in one
// epoch: Keccak256(address[20] ++ epoch as 32-byte big-endian).
func LeafHash(addr common.Address, e epoch.Epoch) common.Hash {
	return common.Keccak256Concat(addr.Bytes(), common.Uint64ToBytes32(uint64(e)))
}

// hashPair hashes the sorted concatenation of two nodes. Sorting makes the
// combination order-independent, so a proof carries no position bits.
func hashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a.Bytes(), b.Bytes()) <= 0 {
		return common.Keccak256Concat(a.Bytes(), b.Bytes())
	}
	return common.Keccak256Concat(b.Bytes(), a.Bytes())
}

// Tree is a sorted-pair Merkle tree over a fixed leaf set.
type Tree struct {
	levels [][]common.Hash // levels[0] is the canonically sorted leaf row
	root   common.Hash
}

// NewTree builds the tree over the given leaves. The input order is
// irrelevant: leaves are sorted into canonical order first, so any
// permutation of the same set yields the same root. An odd row duplicates
// its last node, matching Verify's pairing.
func NewTree(leaves []common.Hash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, relayerrors.ErrMEmptyTree
	}
	row := make([]common.Hash, len(leaves))
	copy(row, leaves)
	sort.Slice(row, func(i, j int) bool {
		return bytes.Compare(row[i].Bytes(), row[j].Bytes()) < 0
	})

	tree := &Tree{levels: [][]common.Hash{row}}
	for len(row) > 1 {
		next := make([]common.Hash, 0, (len(row)+1)/2)
		for i := 0; i < len(row); i += 2 {
			if i+1 < len(row) {
				next = append(next, hashPair(row[i], row[i+1]))
			} else {
				next = append(next, hashPair(row[i], row[i]))
			}
		}
		tree.levels = append(tree.levels, next)
		row = next
	}
	// single leaf: root is the leaf itself and proofs are empty
	tree.root = row[0]
	return tree, nil
}

// Root returns the root of the Merkle tree.
func (mt *Tree) Root() common.Hash {
	return mt.root
}

// Size returns the number of leaves.
func (mt *Tree) Size() int {
	return len(mt.levels[0])
}

// Leaves returns the canonically ordered leaf row.
func (mt *Tree) Leaves() []common.Hash {
	out := make([]common.Hash, len(mt.levels[0]))
	copy(out, mt.levels[0])
	return out
}

// Proof returns the sibling chain for the given leaf, leaf row to root.
func (mt *Tree) Proof(leaf common.Hash) ([]common.Hash, error) {
	for i, l := range mt.levels[0] {
		if l == leaf {
			return mt.ProofAt(i)
		}
	}
	return nil, relayerrors.ErrMLeafNotFound
}

// ProofAt returns the sibling chain for the leaf at the given canonical index.
func (mt *Tree) ProofAt(index int) ([]common.Hash, error) {
	if index < 0 || index >= len(mt.levels[0]) {
		return nil, relayerrors.ErrMIndexOutOfRange
	}
	proof := make([]common.Hash, 0, len(mt.levels)-1)
	for _, row := range mt.levels[:len(mt.levels)-1] {
		sibling := index ^ 1
		if sibling >= len(row) {
			// odd row: the node was paired with itself
			sibling = index
		}
		proof = append(proof, row[sibling])
		index /= 2
	}
	return proof, nil
}

// Verify recomputes the ancestor chain for leaf using the same sorted-pair
// rule as construction and reports whether it ends at root. It is a pure
// function: verification does not need the tree, only the proof.
func Verify(proof []common.Hash, root common.Hash, leaf common.Hash) bool {
	current := leaf
	for _, sibling := range proof {
		current = hashPair(current, sibling)
	}
	return current == root
}
