// Package config loads the market genesis: the collateral controller, the
// payment tokens, the markets they back and any seed balances.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"p2pnfts/crypto"
)

// Genesis is the TOML document describing a deployment.
type Genesis struct {
	ChainID    string           `toml:"ChainID"`
	Owner      string           `toml:"Owner"`
	Controller ControllerConfig `toml:"Controller"`
	Wrapped    TokenConfig      `toml:"WrappedNative"`
	Tokens     []TokenConfig    `toml:"Tokens"`
	Markets    []MarketConfig   `toml:"Markets"`
	Balances   []BalanceConfig  `toml:"Balances,omitempty"`
	NFTs       []NFTConfig      `toml:"NFTs,omitempty"`
}

type ControllerConfig struct {
	Address               string             `toml:"Address"`
	MaxBrokerLockDuration uint64             `toml:"MaxBrokerLockDuration"`
	Collections           []CollectionConfig `toml:"Collections"`
}

// CollectionConfig registers one collection. The collection key hash is
// derived from Name. Kind is "erc721" or "punk".
type CollectionConfig struct {
	Name        string `toml:"Name"`
	Contract    string `toml:"Contract"`
	Kind        string `toml:"Kind"`
	Whitelisted bool   `toml:"Whitelisted"`
	TraitRoot   string `toml:"TraitRoot,omitempty"`
}

type TokenConfig struct {
	Symbol   string `toml:"Symbol"`
	Address  string `toml:"Address"`
	Decimals int32  `toml:"Decimals"`
}

// MarketConfig describes one market. An empty PaymentToken selects the native
// asset; otherwise it names a token by symbol.
type MarketConfig struct {
	Name                     string `toml:"Name"`
	Address                  string `toml:"Address"`
	PaymentToken             string `toml:"PaymentToken,omitempty"`
	ProtocolWallet           string `toml:"ProtocolWallet"`
	ProtocolUpfrontBps       uint64 `toml:"ProtocolUpfrontBps"`
	ProtocolSettlementBps    uint64 `toml:"ProtocolSettlementBps"`
	MaxProtocolUpfrontBps    uint64 `toml:"MaxProtocolUpfrontBps"`
	MaxProtocolSettlementBps uint64 `toml:"MaxProtocolSettlementBps"`
	BorrowerBrokerPolicy     string `toml:"BorrowerBrokerPolicy,omitempty"`
}

// BalanceConfig seeds a holder with a decimal amount of an asset. Asset is a
// token symbol, the wrapped symbol or "native".
type BalanceConfig struct {
	Asset   string `toml:"Asset"`
	Address string `toml:"Address"`
	Amount  string `toml:"Amount"`
}

// NFTConfig assigns a collateral token to a holder at start.
type NFTConfig struct {
	Collection string `toml:"Collection"`
	TokenID    string `toml:"TokenID"`
	Owner      string `toml:"Owner"`
}

// Load reads the genesis at path. A missing file is replaced by a default
// single-owner devnet genesis whose owner key is written next to it.
func Load(path string) (*Genesis, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	g := &Genesis{}
	meta, err := toml.DecodeFile(path, g)
	if err != nil {
		return nil, fmt.Errorf("decode genesis %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("genesis %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	g.normalize()
	return g, nil
}

func (g *Genesis) normalize() {
	g.ChainID = strings.TrimSpace(g.ChainID)
	g.Owner = strings.TrimSpace(g.Owner)
	if g.Wrapped.Decimals == 0 {
		g.Wrapped.Decimals = NativeDecimals
	}
	for i := range g.Controller.Collections {
		c := &g.Controller.Collections[i]
		c.Name = strings.TrimSpace(c.Name)
		c.Kind = strings.ToLower(strings.TrimSpace(c.Kind))
		if c.Kind == "" {
			c.Kind = KindERC721
		}
	}
	for i := range g.Markets {
		g.Markets[i].Name = strings.TrimSpace(g.Markets[i].Name)
		g.Markets[i].PaymentToken = strings.TrimSpace(g.Markets[i].PaymentToken)
	}
}

// Write stores g at path as TOML, creating parent directories.
func Write(path string, g *Genesis) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(g)
}

// Default returns the devnet genesis owned by owner: one USDC market, one
// native market over the wrapped token and two whitelisted collections.
func Default(owner string) *Genesis {
	return &Genesis{
		ChainID: "1337",
		Owner:   owner,
		Controller: ControllerConfig{
			Address:               "0x00000000000000000000000000000000000c0001",
			MaxBrokerLockDuration: 7 * 86400,
			Collections: []CollectionConfig{
				{Name: "bayc", Contract: "0x0000000000000000000000000000000000000721", Kind: KindERC721, Whitelisted: true},
				{Name: "cryptopunks", Contract: "0x000000000000000000000000000000000000b47e", Kind: KindPunk, Whitelisted: true},
			},
		},
		Wrapped: TokenConfig{Symbol: "WETH", Address: "0x00000000000000000000000000000000000000ee", Decimals: NativeDecimals},
		Tokens: []TokenConfig{
			{Symbol: "USDC", Address: "0x0000000000000000000000000000000000000020", Decimals: 6},
		},
		Markets: []MarketConfig{
			{
				Name:                     "usdc",
				Address:                  "0x0000000000000000000000000000000000a11ce0",
				PaymentToken:             "USDC",
				ProtocolWallet:           owner,
				MaxProtocolUpfrontBps:    100,
				MaxProtocolSettlementBps: 1000,
			},
			{
				Name:                     "native",
				Address:                  "0x0000000000000000000000000000000000a11ce1",
				ProtocolWallet:           owner,
				MaxProtocolUpfrontBps:    100,
				MaxProtocolSettlementBps: 1000,
			},
		},
	}
}

func createDefault(path string) (*Genesis, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	if err := crypto.SaveToKeystore(defaultKeystorePath(path), key, ""); err != nil {
		return nil, err
	}
	g := Default(key.Address().Hex())
	if err := Write(path, g); err != nil {
		return nil, err
	}
	return g, nil
}

func defaultKeystorePath(genesisPath string) string {
	return filepath.Join(filepath.Dir(genesisPath), "owner.keystore")
}
