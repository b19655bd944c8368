package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"p2pnfts/cmd/internal/passphrase"
	"p2pnfts/config"
	"p2pnfts/crypto"
	"p2pnfts/crypto/merkle"
)

const (
	testContract = "0x0000000000000000000000000000000000000abc"
	testChainID  = "1337"
)

func execute(t *testing.T, input string, args ...string) (int, string, string) {
	t.Helper()
	original := stdin
	stdin = strings.NewReader(input)
	t.Cleanup(func() { stdin = original })

	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func withKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	original := loadKey
	loadKey = func(string, *passphrase.Source) (*crypto.PrivateKey, error) { return key, nil }
	t.Cleanup(func() { loadKey = original })
	return key
}

func TestUsageAndUnknownCommand(t *testing.T) {
	code, _, stderr := execute(t, "")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Usage: p2pnfts-cli")

	code, _, stderr = execute(t, "", "borrow")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Unknown command: borrow")

	code, stdout, _ := execute(t, "", "help")
	require.Zero(t, code)
	require.Contains(t, stdout, "trait-tree build")
}

func TestCollectionKeyAndTraitHash(t *testing.T) {
	code, stdout, _ := execute(t, "", "collection-key", "bayc")
	require.Zero(t, code)
	want := merkle.CollectionKeyHash("bayc")
	require.Equal(t, hexutil.Encode(want[:]), strings.TrimSpace(stdout))

	code, stdout, _ = execute(t, "", "trait-hash", "fur", "gold")
	require.Zero(t, code)
	trait, err := merkle.TraitHash("fur", "gold")
	require.NoError(t, err)
	require.Equal(t, hexutil.Encode(trait[:]), strings.TrimSpace(stdout))

	code, _, _ = execute(t, "", "trait-hash", "fur")
	require.Equal(t, 1, code)
}

func TestTraitTreeProofsVerify(t *testing.T) {
	gold, err := merkle.TraitHash("fur", "gold")
	require.NoError(t, err)
	leaves := `[
		{"contract": "` + testContract + `", "token_id": "1", "trait_name": "fur", "trait_value": "gold"},
		{"contract": "` + testContract + `", "token_id": "2", "trait_hash": "` + hexutil.Encode(gold[:]) + `"},
		{"contract": "` + testContract + `", "token_id": "5", "trait_name": "fur", "trait_value": "gold"}
	]`

	code, stdout, stderr := execute(t, leaves, "trait-tree", "build")
	require.Zero(t, code, stderr)
	var tree treeJSON
	require.NoError(t, json.Unmarshal([]byte(stdout), &tree))
	require.Len(t, tree.Leaves, 3)

	root, err := parseHash(tree.Root)
	require.NoError(t, err)
	for _, leaf := range tree.Leaves {
		h, err := parseHash(leaf.Leaf)
		require.NoError(t, err)
		proof := make([]merkle.Hash, len(leaf.Proof))
		for i, p := range leaf.Proof {
			proof[i], err = parseHash(p)
			require.NoError(t, err)
		}
		require.True(t, merkle.Verify(root, proof, h), leaf.TokenID)
	}

	code, stdout, stderr = execute(t, leaves, "trait-tree", "proof",
		"--contract", testContract, "--token-id", "5", "--trait-name", "fur", "--trait-value", "gold")
	require.Zero(t, code, stderr)
	var single proofJSON
	require.NoError(t, json.Unmarshal([]byte(stdout), &single))
	require.Equal(t, tree.Leaves[2], single)

	code, _, stderr = execute(t, leaves, "trait-tree", "proof",
		"--contract", testContract, "--token-id", "9", "--trait-name", "fur", "--trait-value", "gold")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "leaf not in tree")
}

func TestOfferSignIdVerify(t *testing.T) {
	key := withKey(t)
	bayc := merkle.CollectionKeyHash("bayc")
	offer := `{
		"principal": "1000000",
		"interest": "5000",
		"payment_token": "0x0000000000000000000000000000000000000020",
		"duration": 86400,
		"collection_key_hash": "` + hexutil.Encode(bayc[:]) + `",
		"offer_type": "token",
		"token_id": "7",
		"expiration": 1700003600,
		"lender": "",
		"pro_rata": false,
		"size": 1
	}`

	code, stdout, stderr := execute(t, offer, "offer", "sign", "--keystore", "lender.json",
		"--contract", testContract, "--chain-id", testChainID)
	require.Zero(t, code, stderr)
	var signed signedOfferOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &signed))
	require.Equal(t, key.Address().Hex(), signed.SignedOffer.Offer.Lender)

	signedJSON, err := json.Marshal(signed.SignedOffer)
	require.NoError(t, err)

	code, stdout, stderr = execute(t, string(signedJSON), "offer", "id")
	require.Zero(t, code, stderr)
	require.Equal(t, signed.OfferID, strings.TrimSpace(stdout))

	code, stdout, stderr = execute(t, string(signedJSON), "offer", "verify",
		"--contract", testContract, "--chain-id", testChainID)
	require.Zero(t, code, stderr)
	var verified verifyOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &verified))
	require.True(t, verified.Valid)
	require.Equal(t, key.Address().Hex(), verified.Signer)

	// A different market is a different domain.
	code, stdout, _ = execute(t, string(signedJSON), "offer", "verify",
		"--contract", "0x0000000000000000000000000000000000000def", "--chain-id", testChainID)
	require.Equal(t, 1, code)
	require.NoError(t, json.Unmarshal([]byte(stdout), &verified))
	require.False(t, verified.Valid)
	require.NotEqual(t, key.Address().Hex(), verified.Signer)
}

func TestOfferSignRejectsForeignLender(t *testing.T) {
	withKey(t)
	offer := `{"principal": "1", "interest": "0", "offer_type": "token", "token_id": "1",
		"lender": "0x00000000000000000000000000000000000000a1", "collection_key_hash": "", "payment_token": "",
		"duration": 1, "expiration": 1, "pro_rata": false, "size": 1}`
	code, _, stderr := execute(t, offer, "offer", "sign", "--keystore", "k.json",
		"--contract", testContract, "--chain-id", testChainID)
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "does not match keystore address")

	code, _, stderr = execute(t, offer, "offer", "sign", "--keystore", "k.json")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "--contract and --chain-id")
}

func TestOfferSignWithGenesisMarket(t *testing.T) {
	key := withKey(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "genesis.toml")

	code, _, stderr := execute(t, "", "genesis", "init", "--owner", key.Address().Hex(), "--out", path)
	require.Zero(t, code, stderr)

	g, err := config.Load(path)
	require.NoError(t, err)
	network, err := g.Resolve()
	require.NoError(t, err)
	require.Equal(t, key.Address(), network.Owner)

	offer := `{"principal": "10", "interest": "1", "offer_type": "collection", "token_range_min": "0",
		"token_range_max": "99", "collection_key_hash": "", "payment_token": "", "lender": "",
		"duration": 60, "expiration": 1700000000, "pro_rata": true, "size": 3}`
	code, stdout, stderr := execute(t, offer, "offer", "sign", "--keystore", "k.json",
		"--genesis", path, "--market", "native")
	require.Zero(t, code, stderr)
	var signed signedOfferOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &signed))
	require.Equal(t, "collection", signed.SignedOffer.Offer.OfferType)

	code, _, stderr = execute(t, offer, "offer", "sign", "--keystore", "k.json",
		"--genesis", path, "--market", "eur")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, `market "eur" not in genesis`)
}

func TestGenesisInitRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.toml")
	require.NoError(t, os.WriteFile(path, []byte("keep"), 0o644))
	owner := "0x00000000000000000000000000000000000000a1"

	code, _, stderr := execute(t, "", "genesis", "init", "--owner", owner, "--out", path)
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "already exists")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "keep", string(raw))

	code, _, stderr = execute(t, "", "genesis", "init", "--owner", owner, "--out", path, "--force")
	require.Zero(t, code, stderr)

	code, _, stderr = execute(t, "", "genesis", "init", "--owner", "nobody", "--out", path, "--force")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "--owner")
}

func TestKeystoreNewAndAddress(t *testing.T) {
	var saved *crypto.PrivateKey
	original := saveKey
	saveKey = func(_ string, key *crypto.PrivateKey, _ *passphrase.Source) error {
		saved = key
		return nil
	}
	t.Cleanup(func() { saveKey = original })

	path := filepath.Join(t.TempDir(), "key.json")
	code, stdout, stderr := execute(t, "", "keystore", "new", "--out", path)
	require.Zero(t, code, stderr)
	require.NotNil(t, saved)
	require.Equal(t, saved.Address().Hex(), strings.TrimSpace(stdout))

	key := withKey(t)
	code, stdout, stderr = execute(t, "", "keystore", "address", "--keystore", path)
	require.Zero(t, code, stderr)
	require.Equal(t, key.Address().Hex(), strings.TrimSpace(stdout))

	code, _, _ = execute(t, "", "keystore", "address")
	require.Equal(t, 1, code)
}
