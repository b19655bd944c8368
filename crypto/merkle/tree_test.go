package merkle

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func buildLeaves(t *testing.T, n int) []Hash {
	t.Helper()
	contract := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	trait, err := TraitHash("background", "blue")
	require.NoError(t, err)
	leaves := make([]Hash, 0, n)
	for i := 0; i < n; i++ {
		h, err := LeafHash(contract, trait, big.NewInt(int64(i*7+1)))
		require.NoError(t, err)
		leaves = append(leaves, h)
	}
	return leaves
}

func TestEveryLeafVerifies(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 8, 13, 100} {
		leaves := buildLeaves(t, n)
		tree, err := New(leaves)
		require.NoError(t, err)

		for _, leaf := range leaves {
			proof, err := tree.Proof(leaf)
			require.NoError(t, err)
			require.True(t, Verify(tree.Root(), proof, leaf), "n=%d", n)

			flipped := leaf
			flipped[5] ^= 0x01
			require.False(t, Verify(tree.Root(), proof, flipped), "n=%d", n)
		}
	}
}

func TestTreeIsOrderIndependentAndDeduplicated(t *testing.T) {
	leaves := buildLeaves(t, 6)
	a, err := New(leaves)
	require.NoError(t, err)

	reversed := make([]Hash, 0, len(leaves)+2)
	for i := len(leaves) - 1; i >= 0; i-- {
		reversed = append(reversed, leaves[i])
	}
	reversed = append(reversed, leaves[0], leaves[3])
	b, err := New(reversed)
	require.NoError(t, err)

	require.Equal(t, a.Root(), b.Root())
	require.Len(t, b.Leaves(), 8)
}

func TestCombineIsXorThenHash(t *testing.T) {
	a := Hash{0x01, 0x02}
	b := Hash{0x10, 0x20}
	var x Hash
	x[0], x[1] = 0x11, 0x22

	var want Hash
	copy(want[:], ethcrypto.Keccak256(x[:]))
	require.Equal(t, want, Combine(a, b))
	require.Equal(t, Combine(a, b), Combine(b, a))
}

func TestTwoLeafRoot(t *testing.T) {
	leaves := buildLeaves(t, 2)
	tree, err := New(leaves)
	require.NoError(t, err)
	require.Equal(t, Combine(leaves[0], leaves[1]), tree.Root())

	proof, err := tree.Proof(leaves[0])
	require.NoError(t, err)
	require.Equal(t, []Hash{leaves[1]}, proof)
}

func TestProofOrderIsRootToLeaf(t *testing.T) {
	leaves := buildLeaves(t, 4)
	tree, err := New(leaves)
	require.NoError(t, err)
	sorted := tree.Leaves()

	proof, err := tree.Proof(sorted[0])
	require.NoError(t, err)
	require.Len(t, proof, 2)
	require.Equal(t, sorted[1], proof[1])
	require.Equal(t, Combine(sorted[2], sorted[3]), proof[0])
}

func TestErrors(t *testing.T) {
	_, err := New(nil)
	require.ErrorIs(t, err, ErrEmptyTree)

	tree, err := New(buildLeaves(t, 3))
	require.NoError(t, err)
	_, err = tree.Proof(Hash{0xff})
	require.ErrorIs(t, err, ErrLeafNotFound)
	_, err = tree.Proof(Hash{})
	require.ErrorIs(t, err, ErrLeafNotFound)

	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)
	_, err = LeafHash(common.Address{}, Hash{}, tooBig)
	require.ErrorIs(t, err, ErrTokenIDOverflow)
}

func TestFromLeavesMatchesManualHashes(t *testing.T) {
	contract := common.HexToAddress("0xc0")
	trait, err := TraitHash("fur", "gold")
	require.NoError(t, err)
	leaves := []Leaf{
		{Contract: contract, TraitHash: trait, TokenID: big.NewInt(1)},
		{Contract: contract, TraitHash: trait, TokenID: big.NewInt(2)},
	}
	tree, err := FromLeaves(leaves)
	require.NoError(t, err)

	h1, err := leaves[0].Hash()
	require.NoError(t, err)
	h2, err := leaves[1].Hash()
	require.NoError(t, err)
	require.Equal(t, Combine(h1, h2), tree.Root())
}

func TestCollectionKeyHashIsSha3(t *testing.T) {
	// SHA3-256 of the empty string.
	got := CollectionKeyHash("")
	require.Equal(t, "a7ffc6f8bf1ed76651c14756a061d662f580ff4de43b49fa82d80a4b80f8434a", hex.EncodeToString(got[:]))
}
