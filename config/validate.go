package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"p2pnfts/crypto"
	"p2pnfts/crypto/merkle"
	"p2pnfts/native/p2pnfts"
)

const (
	KindERC721 = "erc721"
	KindPunk   = "punk"

	// NativeAsset names the native asset in balance entries.
	NativeAsset = "native"
	// NativeDecimals is the precision of the native asset.
	NativeDecimals int32 = 18
)

var ErrInvalidGenesis = errors.New("config: invalid genesis")

// Network is the validated, typed form of a Genesis.
type Network struct {
	ChainID               *big.Int
	Owner                 common.Address
	Controller            common.Address
	MaxBrokerLockDuration uint64
	Collections           []Collection
	Wrapped               Token
	Tokens                []Token
	Markets               []p2pnfts.Config
	Balances              []Balance
	NFTs                  []NFT
}

type Collection struct {
	Name        string
	KeyHash     [32]byte
	Contract    common.Address
	Kind        string
	Whitelisted bool
	TraitRoot   [32]byte
}

type Token struct {
	Symbol   string
	Address  common.Address
	Decimals int32
}

// Balance is a seed amount in base units. Asset is a token symbol or
// NativeAsset.
type Balance struct {
	Asset   string
	Address common.Address
	Amount  *big.Int
}

type NFT struct {
	Collection string
	TokenID    *big.Int
	Owner      common.Address
}

// Token returns the payment token with the given symbol, including the
// wrapped native token.
func (n *Network) Token(symbol string) (Token, bool) {
	if strings.EqualFold(symbol, n.Wrapped.Symbol) {
		return n.Wrapped, true
	}
	for _, tok := range n.Tokens {
		if strings.EqualFold(tok.Symbol, symbol) {
			return tok, true
		}
	}
	return Token{}, false
}

// Decimals returns the precision of asset, or false when it is unknown.
func (n *Network) Decimals(asset string) (int32, bool) {
	if strings.EqualFold(asset, NativeAsset) {
		return NativeDecimals, true
	}
	tok, ok := n.Token(asset)
	return tok.Decimals, ok
}

// Resolve validates the genesis and converts it into typed values.
func (g *Genesis) Resolve() (*Network, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: missing", ErrInvalidGenesis)
	}
	n := &Network{MaxBrokerLockDuration: g.Controller.MaxBrokerLockDuration}
	chainID, ok := new(big.Int).SetString(g.ChainID, 10)
	if !ok || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: ChainID %q", ErrInvalidGenesis, g.ChainID)
	}
	n.ChainID = chainID

	var err error
	if n.Owner, err = nonZeroAddress("Owner", g.Owner); err != nil {
		return nil, err
	}
	if n.Controller, err = nonZeroAddress("Controller.Address", g.Controller.Address); err != nil {
		return nil, err
	}
	if err := g.resolveTokens(n); err != nil {
		return nil, err
	}
	if err := g.resolveCollections(n); err != nil {
		return nil, err
	}
	if err := g.resolveMarkets(n); err != nil {
		return nil, err
	}
	if err := g.resolveSeeds(n); err != nil {
		return nil, err
	}
	return n, nil
}

func (g *Genesis) resolveTokens(n *Network) error {
	seen := make(map[string]bool)
	resolve := func(field string, cfg TokenConfig) (Token, error) {
		symbol := strings.TrimSpace(cfg.Symbol)
		if symbol == "" || strings.EqualFold(symbol, NativeAsset) {
			return Token{}, fmt.Errorf("%w: %s.Symbol %q", ErrInvalidGenesis, field, cfg.Symbol)
		}
		key := strings.ToUpper(symbol)
		if seen[key] {
			return Token{}, fmt.Errorf("%w: duplicate token %s", ErrInvalidGenesis, symbol)
		}
		seen[key] = true
		if cfg.Decimals < 0 || cfg.Decimals > 36 {
			return Token{}, fmt.Errorf("%w: %s.Decimals %d", ErrInvalidGenesis, field, cfg.Decimals)
		}
		addr, err := nonZeroAddress(field+".Address", cfg.Address)
		if err != nil {
			return Token{}, err
		}
		return Token{Symbol: symbol, Address: addr, Decimals: cfg.Decimals}, nil
	}

	wrapped, err := resolve("WrappedNative", g.Wrapped)
	if err != nil {
		return err
	}
	n.Wrapped = wrapped
	for i, cfg := range g.Tokens {
		tok, err := resolve(fmt.Sprintf("Tokens[%d]", i), cfg)
		if err != nil {
			return err
		}
		n.Tokens = append(n.Tokens, tok)
	}
	return nil
}

func (g *Genesis) resolveCollections(n *Network) error {
	names := make(map[string]bool)
	for i, cfg := range g.Controller.Collections {
		field := fmt.Sprintf("Controller.Collections[%d]", i)
		if cfg.Name == "" {
			return fmt.Errorf("%w: %s.Name required", ErrInvalidGenesis, field)
		}
		if names[cfg.Name] {
			return fmt.Errorf("%w: duplicate collection %s", ErrInvalidGenesis, cfg.Name)
		}
		names[cfg.Name] = true
		if cfg.Kind != KindERC721 && cfg.Kind != KindPunk {
			return fmt.Errorf("%w: %s.Kind %q", ErrInvalidGenesis, field, cfg.Kind)
		}
		contract, err := nonZeroAddress(field+".Contract", cfg.Contract)
		if err != nil {
			return err
		}
		coll := Collection{
			Name:        cfg.Name,
			KeyHash:     merkle.CollectionKeyHash(cfg.Name),
			Contract:    contract,
			Kind:        cfg.Kind,
			Whitelisted: cfg.Whitelisted,
		}
		if cfg.TraitRoot != "" {
			root, err := ParseHash(cfg.TraitRoot)
			if err != nil {
				return fmt.Errorf("%w: %s.TraitRoot: %v", ErrInvalidGenesis, field, err)
			}
			coll.TraitRoot = root
		}
		n.Collections = append(n.Collections, coll)
	}
	return nil
}

func (g *Genesis) resolveMarkets(n *Network) error {
	if len(g.Markets) == 0 {
		return fmt.Errorf("%w: no markets", ErrInvalidGenesis)
	}
	names := make(map[string]bool)
	addrs := make(map[common.Address]bool)
	for i, cfg := range g.Markets {
		field := fmt.Sprintf("Markets[%d]", i)
		if cfg.Name == "" {
			return fmt.Errorf("%w: %s.Name required", ErrInvalidGenesis, field)
		}
		if names[cfg.Name] {
			return fmt.Errorf("%w: duplicate market %s", ErrInvalidGenesis, cfg.Name)
		}
		names[cfg.Name] = true

		addr, err := nonZeroAddress(field+".Address", cfg.Address)
		if err != nil {
			return err
		}
		if addrs[addr] {
			return fmt.Errorf("%w: duplicate market address %s", ErrInvalidGenesis, addr.Hex())
		}
		addrs[addr] = true
		wallet, err := nonZeroAddress(field+".ProtocolWallet", cfg.ProtocolWallet)
		if err != nil {
			return err
		}
		var paymentToken common.Address
		if cfg.PaymentToken != "" {
			tok, ok := n.Token(cfg.PaymentToken)
			if !ok {
				return fmt.Errorf("%w: %s.PaymentToken %q is not a configured token", ErrInvalidGenesis, field, cfg.PaymentToken)
			}
			paymentToken = tok.Address
		}
		if cfg.ProtocolUpfrontBps > cfg.MaxProtocolUpfrontBps || cfg.ProtocolSettlementBps > cfg.MaxProtocolSettlementBps {
			return fmt.Errorf("%w: %s protocol fee above its maximum", ErrInvalidGenesis, field)
		}
		policy, err := p2pnfts.ParseBorrowerBrokerPolicy(cfg.BorrowerBrokerPolicy)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidGenesis, field, err)
		}
		n.Markets = append(n.Markets, p2pnfts.Config{
			Name:                     cfg.Name,
			Address:                  addr,
			ChainID:                  new(big.Int).Set(n.ChainID),
			PaymentToken:             paymentToken,
			Owner:                    n.Owner,
			ProtocolWallet:           wallet,
			ProtocolUpfrontBps:       cfg.ProtocolUpfrontBps,
			ProtocolSettlementBps:    cfg.ProtocolSettlementBps,
			MaxProtocolUpfrontBps:    cfg.MaxProtocolUpfrontBps,
			MaxProtocolSettlementBps: cfg.MaxProtocolSettlementBps,
			BorrowerBrokerPolicy:     policy,
		})
	}
	return nil
}

func (g *Genesis) resolveSeeds(n *Network) error {
	for i, cfg := range g.Balances {
		field := fmt.Sprintf("Balances[%d]", i)
		asset := strings.TrimSpace(cfg.Asset)
		decimals, ok := n.Decimals(asset)
		if !ok {
			return fmt.Errorf("%w: %s.Asset %q", ErrInvalidGenesis, field, cfg.Asset)
		}
		holder, err := nonZeroAddress(field+".Address", cfg.Address)
		if err != nil {
			return err
		}
		amount, err := ParseAmount(cfg.Amount, decimals)
		if err != nil {
			return fmt.Errorf("%w: %s.Amount: %v", ErrInvalidGenesis, field, err)
		}
		n.Balances = append(n.Balances, Balance{Asset: asset, Address: holder, Amount: amount})
	}
	for i, cfg := range g.NFTs {
		field := fmt.Sprintf("NFTs[%d]", i)
		found := false
		for _, coll := range n.Collections {
			if coll.Name == cfg.Collection {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s.Collection %q", ErrInvalidGenesis, field, cfg.Collection)
		}
		id, ok := new(big.Int).SetString(strings.TrimSpace(cfg.TokenID), 10)
		if !ok || id.Sign() < 0 {
			return fmt.Errorf("%w: %s.TokenID %q", ErrInvalidGenesis, field, cfg.TokenID)
		}
		holder, err := nonZeroAddress(field+".Owner", cfg.Owner)
		if err != nil {
			return err
		}
		n.NFTs = append(n.NFTs, NFT{Collection: cfg.Collection, TokenID: id, Owner: holder})
	}
	return nil
}

// ParseAmount converts a decimal string into base units at the given
// precision. Amounts finer than the precision are rejected.
func ParseAmount(raw string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount %s", raw)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %s exceeds %d decimals", raw, decimals)
	}
	return scaled.BigInt(), nil
}

// FormatAmount renders base units as a decimal string at the given precision.
func FormatAmount(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}

// ParseHash decodes a 0x-prefixed 32-byte hex value.
func ParseHash(raw string) ([32]byte, error) {
	var out [32]byte
	b, err := hexutil.Decode(strings.TrimSpace(raw))
	if err != nil {
		return out, err
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("want 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func nonZeroAddress(field, raw string) (common.Address, error) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %s: %v", ErrInvalidGenesis, field, err)
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s is the zero address", ErrInvalidGenesis, field)
	}
	return addr, nil
}
