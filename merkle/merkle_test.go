package merkle

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypulse/relaypulse/common"
	"github.com/relaypulse/relaypulse/epoch"
	"github.com/relaypulse/relaypulse/relayerrors"
)

func makeLeaves(n int, e epoch.Epoch) []common.Hash {
	leaves := make([]common.Hash, n)
	for i := 0; i < n; i++ {
		addr := common.BytesToAddress([]byte(fmt.Sprintf("relay-%04d", i)))
		leaves[i] = LeafHash(addr, e)
	}
	return leaves
}

func TestEmptyTreeRejected(t *testing.T) {
	_, err := NewTree(nil)
	assert.ErrorIs(t, err, relayerrors.ErrMEmptyTree)
}

func TestSingleLeafRootIsLeaf(t *testing.T) {
	leaf := LeafHash(common.HexToAddress("0x1111111111111111111111111111111111111111"), 7)
	tree, err := NewTree([]common.Hash{leaf})
	require.NoError(t, err)
	assert.Equal(t, leaf, tree.Root())

	proof, err := tree.Proof(leaf)
	require.NoError(t, err)
	assert.Empty(t, proof)
	assert.True(t, Verify(proof, tree.Root(), leaf))
}

func TestRoundTripAllLeaves(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8, 16, 33} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			leaves := makeLeaves(n, 42)
			tree, err := NewTree(leaves)
			require.NoError(t, err)
			for _, leaf := range leaves {
				proof, err := tree.Proof(leaf)
				require.NoError(t, err)
				assert.True(t, Verify(proof, tree.Root(), leaf), "leaf %s", leaf.Hex())
			}
		})
	}
}

func TestForeignLeafRejected(t *testing.T) {
	leaves := makeLeaves(6, 42)
	tree, err := NewTree(leaves)
	require.NoError(t, err)

	outsider := LeafHash(common.HexToAddress("0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"), 42)
	_, err = tree.Proof(outsider)
	assert.ErrorIs(t, err, relayerrors.ErrMLeafNotFound)

	// a valid proof for another leaf must not verify the outsider
	proof, err := tree.Proof(leaves[0])
	require.NoError(t, err)
	assert.False(t, Verify(proof, tree.Root(), outsider))
}

func TestBitFlippedProofRejected(t *testing.T) {
	leaves := makeLeaves(9, 42)
	tree, err := NewTree(leaves)
	require.NoError(t, err)

	proof, err := tree.Proof(leaves[3])
	require.NoError(t, err)
	require.NotEmpty(t, proof)

	for i := range proof {
		corrupted := make([]common.Hash, len(proof))
		copy(corrupted, proof)
		b := corrupted[i].Bytes()
		b[0] ^= 0x01
		corrupted[i] = common.BytesToHash(b)
		assert.False(t, Verify(corrupted, tree.Root(), leaves[3]), "flipped element %d still verified", i)
	}
}

func TestWrongEpochProofRejected(t *testing.T) {
	addrs := make([]common.Address, 5)
	for i := range addrs {
		addrs[i] = common.BytesToAddress([]byte(fmt.Sprintf("relay-%04d", i)))
	}
	leavesE1 := make([]common.Hash, len(addrs))
	leavesE2 := make([]common.Hash, len(addrs))
	for i, a := range addrs {
		leavesE1[i] = LeafHash(a, 1)
		leavesE2[i] = LeafHash(a, 2)
	}
	tree1, err := NewTree(leavesE1)
	require.NoError(t, err)
	tree2, err := NewTree(leavesE2)
	require.NoError(t, err)

	proof, err := tree1.Proof(leavesE1[0])
	require.NoError(t, err)
	assert.False(t, Verify(proof, tree2.Root(), leavesE2[0]))
}

func TestOrderIndependence(t *testing.T) {
	leaves := makeLeaves(12, 42)
	tree, err := NewTree(leaves)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 5; trial++ {
		shuffled := make([]common.Hash, len(leaves))
		copy(shuffled, leaves)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		permuted, err := NewTree(shuffled)
		require.NoError(t, err)
		assert.Equal(t, tree.Root(), permuted.Root())

		for _, leaf := range shuffled {
			proof, err := permuted.Proof(leaf)
			require.NoError(t, err)
			assert.True(t, Verify(proof, permuted.Root(), leaf))
		}
	}
}

func TestLeafHashFixedWidthEncoding(t *testing.T) {
	addr := common.HexToAddress("0x00112233445566778899aabbccddeeff00112233")
	raw := append(addr.Bytes(), common.Uint64ToBytes32(77)...)
	require.Len(t, raw, 52)
	assert.Equal(t, common.Keccak256(raw), LeafHash(addr, 77))

	// epoch participates in the leaf
	assert.NotEqual(t, LeafHash(addr, 77), LeafHash(addr, 78))
}

func TestProofAtBounds(t *testing.T) {
	tree, err := NewTree(makeLeaves(4, 1))
	require.NoError(t, err)
	_, err = tree.ProofAt(-1)
	assert.ErrorIs(t, err, relayerrors.ErrMIndexOutOfRange)
	_, err = tree.ProofAt(4)
	assert.ErrorIs(t, err, relayerrors.ErrMIndexOutOfRange)
}
