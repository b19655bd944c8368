// Package merkle builds and verifies the trait trees committed by the
// collateral controller. Internal nodes hash the XOR of their children, so the
// combine step is commutative and proofs carry no left/right flags.
package merkle

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

var (
	ErrEmptyTree       = errors.New("merkle: no leaves")
	ErrLeafNotFound    = errors.New("merkle: leaf not in tree")
	ErrTokenIDOverflow = errors.New("merkle: token id does not fit in 256 bits")
)

// Hash is a 32-byte node digest.
type Hash = [32]byte

// Leaf identifies one token carrying one trait.
type Leaf struct {
	Contract  common.Address
	TraitHash Hash
	TokenID   *big.Int
}

// Hash returns keccak(contract ‖ trait_hash ‖ token_id) with the token id as a
// big-endian 32-byte word.
func (l Leaf) Hash() (Hash, error) {
	return LeafHash(l.Contract, l.TraitHash, l.TokenID)
}

func LeafHash(contract common.Address, traitHash Hash, tokenID *big.Int) (Hash, error) {
	if tokenID == nil || tokenID.Sign() < 0 {
		return Hash{}, ErrTokenIDOverflow
	}
	word, overflow := uint256.FromBig(tokenID)
	if overflow {
		return Hash{}, ErrTokenIDOverflow
	}
	id := word.Bytes32()
	var out Hash
	copy(out[:], ethcrypto.Keccak256(contract.Bytes(), traitHash[:], id[:]))
	return out, nil
}

// Combine hashes the XOR of two sibling digests.
func Combine(a, b Hash) Hash {
	var x Hash
	for i := range x {
		x[i] = a[i] ^ b[i]
	}
	var out Hash
	copy(out[:], ethcrypto.Keccak256(x[:]))
	return out
}

// Tree keeps every level of a padded tree, leaves first.
type Tree struct {
	levels [][]Hash
}

// New builds a tree over leaves. The input is sorted, deduplicated and padded
// with zero leaves to the next power of two.
func New(leaves []Hash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}
	sorted := make([]Hash, len(leaves))
	copy(sorted, leaves)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i][:], sorted[j][:]) < 0 })
	unique := sorted[:1]
	for _, h := range sorted[1:] {
		if h != unique[len(unique)-1] {
			unique = append(unique, h)
		}
	}
	width := 1
	for width < len(unique) {
		width <<= 1
	}
	level := make([]Hash, width)
	copy(level, unique)

	levels := [][]Hash{level}
	for len(level) > 1 {
		next := make([]Hash, len(level)/2)
		for i := range next {
			next[i] = Combine(level[2*i], level[2*i+1])
		}
		levels = append(levels, next)
		level = next
	}
	return &Tree{levels: levels}, nil
}

// FromLeaves hashes each leaf and builds the tree.
func FromLeaves(leaves []Leaf) (*Tree, error) {
	hashes := make([]Hash, 0, len(leaves))
	for _, l := range leaves {
		h, err := l.Hash()
		if err != nil {
			return nil, fmt.Errorf("leaf %s/%v: %w", l.Contract.Hex(), l.TokenID, err)
		}
		hashes = append(hashes, h)
	}
	return New(hashes)
}

func (t *Tree) Root() Hash {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Leaves returns the padded leaf level.
func (t *Tree) Leaves() []Hash {
	out := make([]Hash, len(t.levels[0]))
	copy(out, t.levels[0])
	return out
}

// Proof returns the sibling path for leaf ordered from the root down to the
// leaf's own sibling.
func (t *Tree) Proof(leaf Hash) ([]Hash, error) {
	idx := -1
	for i, h := range t.levels[0] {
		if h == leaf {
			idx = i
			break
		}
	}
	if idx < 0 || leaf == (Hash{}) {
		return nil, ErrLeafNotFound
	}
	depth := len(t.levels) - 1
	proof := make([]Hash, depth)
	for d := 0; d < depth; d++ {
		proof[depth-1-d] = t.levels[d][idx^1]
		idx >>= 1
	}
	return proof, nil
}

// Verify folds proof from its last element (the leaf's sibling) towards the
// root and compares the result.
func Verify(root Hash, proof []Hash, leaf Hash) bool {
	h := leaf
	for i := len(proof) - 1; i >= 0; i-- {
		h = Combine(h, proof[i])
	}
	return h == root
}

var traitArgs = func() abi.Arguments {
	str, _ := abi.NewType("string", "", nil)
	return abi.Arguments{{Type: str}, {Type: str}}
}()

// TraitHash returns keccak(abi.encode(name, value)).
func TraitHash(name, value string) (Hash, error) {
	encoded, err := traitArgs.Pack(name, value)
	if err != nil {
		return Hash{}, err
	}
	var out Hash
	copy(out[:], ethcrypto.Keccak256(encoded))
	return out, nil
}

// CollectionKeyHash returns the FIPS SHA3-256 digest of a collection key.
func CollectionKeyHash(key string) Hash {
	return sha3.Sum256([]byte(key))
}
