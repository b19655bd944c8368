package main

import (
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"p2pnfts/crypto"
	"p2pnfts/crypto/merkle"
)

// leafJSON names one token carrying one trait. The trait is given either as
// a name/value pair or as its hash.
type leafJSON struct {
	Contract   string `json:"contract"`
	TokenID    string `json:"token_id"`
	TraitName  string `json:"trait_name,omitempty"`
	TraitValue string `json:"trait_value,omitempty"`
	TraitHash  string `json:"trait_hash,omitempty"`
}

type proofJSON struct {
	Contract  string   `json:"contract"`
	TokenID   string   `json:"token_id"`
	TraitHash string   `json:"trait_hash"`
	Leaf      string   `json:"leaf"`
	Proof     []string `json:"proof"`
}

type treeJSON struct {
	Root   string      `json:"root"`
	Leaves []proofJSON `json:"leaves"`
}

func (l leafJSON) leaf() (merkle.Leaf, error) {
	contract, err := crypto.ParseAddress(l.Contract)
	if err != nil {
		return merkle.Leaf{}, err
	}
	tokenID, ok := new(big.Int).SetString(strings.TrimSpace(l.TokenID), 10)
	if !ok || tokenID.Sign() < 0 {
		return merkle.Leaf{}, fmt.Errorf("invalid token id %q", l.TokenID)
	}
	var traitHash merkle.Hash
	switch {
	case l.TraitHash != "":
		traitHash, err = parseHash(l.TraitHash)
	case l.TraitName != "":
		traitHash, err = merkle.TraitHash(l.TraitName, l.TraitValue)
	default:
		err = fmt.Errorf("token %s: trait_hash or trait_name required", l.TokenID)
	}
	if err != nil {
		return merkle.Leaf{}, err
	}
	return merkle.Leaf{Contract: contract, TraitHash: traitHash, TokenID: tokenID}, nil
}

func parseHash(raw string) (merkle.Hash, error) {
	var out merkle.Hash
	b, err := hexutil.Decode(strings.TrimSpace(raw))
	if err != nil || len(b) != len(out) {
		return out, fmt.Errorf("invalid hash %q", raw)
	}
	copy(out[:], b)
	return out, nil
}

func loadLeaves(path string) ([]merkle.Leaf, error) {
	var raw []leafJSON
	if err := decodeInput(path, &raw); err != nil {
		return nil, err
	}
	leaves := make([]merkle.Leaf, 0, len(raw))
	for _, r := range raw {
		leaf, err := r.leaf()
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, leaf)
	}
	return leaves, nil
}

func describeLeaf(tree *merkle.Tree, leaf merkle.Leaf) (proofJSON, error) {
	h, err := leaf.Hash()
	if err != nil {
		return proofJSON{}, err
	}
	proof, err := tree.Proof(h)
	if err != nil {
		return proofJSON{}, err
	}
	out := proofJSON{
		Contract:  leaf.Contract.Hex(),
		TokenID:   leaf.TokenID.String(),
		TraitHash: hexutil.Encode(leaf.TraitHash[:]),
		Leaf:      hexutil.Encode(h[:]),
		Proof:     make([]string, len(proof)),
	}
	for i, p := range proof {
		out.Proof[i] = hexutil.Encode(p[:])
	}
	return out, nil
}

func runTraitTreeCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "build":
		return runTraitTreeBuild(args[1:], stdout, stderr)
	case "proof":
		return runTraitTreeProof(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown trait-tree subcommand: %s\n", args[0])
		return 1
	}
}

func runTraitTreeBuild(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("trait-tree build", stderr)
	in := fs.String("in", "-", "leaves JSON file, - for stdin")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	leaves, err := loadLeaves(*in)
	if err != nil {
		return printError(stderr, "read leaves: %v", err)
	}
	tree, err := merkle.FromLeaves(leaves)
	if err != nil {
		return printError(stderr, "build tree: %v", err)
	}
	root := tree.Root()
	out := treeJSON{Root: hexutil.Encode(root[:]), Leaves: make([]proofJSON, 0, len(leaves))}
	for _, leaf := range leaves {
		desc, err := describeLeaf(tree, leaf)
		if err != nil {
			return printError(stderr, "proof for token %s: %v", leaf.TokenID, err)
		}
		out.Leaves = append(out.Leaves, desc)
	}
	return printJSON(stdout, stderr, out)
}

func runTraitTreeProof(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("trait-tree proof", stderr)
	in := fs.String("in", "-", "leaves JSON file, - for stdin")
	var target leafJSON
	fs.StringVar(&target.Contract, "contract", "", "collection contract")
	fs.StringVar(&target.TokenID, "token-id", "", "token id")
	fs.StringVar(&target.TraitHash, "trait-hash", "", "trait hash")
	fs.StringVar(&target.TraitName, "trait-name", "", "trait name, instead of --trait-hash")
	fs.StringVar(&target.TraitValue, "trait-value", "", "trait value")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	leaf, err := target.leaf()
	if err != nil {
		return printError(stderr, "%v", err)
	}
	leaves, err := loadLeaves(*in)
	if err != nil {
		return printError(stderr, "read leaves: %v", err)
	}
	tree, err := merkle.FromLeaves(leaves)
	if err != nil {
		return printError(stderr, "build tree: %v", err)
	}
	desc, err := describeLeaf(tree, leaf)
	if err != nil {
		return printError(stderr, "%v", err)
	}
	root := tree.Root()
	return printJSON(stdout, stderr, struct {
		Root string `json:"root"`
		proofJSON
	}{Root: hexutil.Encode(root[:]), proofJSON: desc})
}

func runCollectionKey(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return printError(stderr, "usage: collection-key <key>")
	}
	h := merkle.CollectionKeyHash(args[0])
	fmt.Fprintln(stdout, hexutil.Encode(h[:]))
	return 0
}

func runTraitHash(args []string, stdout, stderr io.Writer) int {
	if len(args) != 2 {
		return printError(stderr, "usage: trait-hash <name> <value>")
	}
	h, err := merkle.TraitHash(args[0], args[1])
	if err != nil {
		return printError(stderr, "%v", err)
	}
	fmt.Fprintln(stdout, hexutil.Encode(h[:]))
	return 0
}
