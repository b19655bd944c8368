package token

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Adapter moves one collection's tokens in and out of escrow.
type Adapter interface {
	OwnerOf(tokenID *big.Int) (common.Address, error)
	TransferToEscrow(owner, escrow common.Address, tokenID *big.Int) error
	TransferFromEscrow(escrow, to common.Address, tokenID *big.Int) error
}

// ERC721Adapter requires the owner to have approved the escrow for the token
// or as an operator before it can be pulled.
type ERC721Adapter struct {
	Token *ERC721
}

func (a ERC721Adapter) OwnerOf(tokenID *big.Int) (common.Address, error) {
	return a.Token.OwnerOf(tokenID)
}

func (a ERC721Adapter) TransferToEscrow(owner, escrow common.Address, tokenID *big.Int) error {
	if a.Token.GetApproved(tokenID) != escrow && !a.Token.IsApprovedForAll(owner, escrow) {
		return ErrTransferNotApproved
	}
	return a.Token.TransferFrom(escrow, owner, escrow, tokenID)
}

func (a ERC721Adapter) TransferFromEscrow(escrow, to common.Address, tokenID *big.Int) error {
	return a.Token.TransferFrom(escrow, escrow, to, tokenID)
}

// PunkAdapter expects the owner to have offered the punk to the escrow for
// zero and buys it at that price.
type PunkAdapter struct {
	Market *PunkMarket
}

func (a PunkAdapter) OwnerOf(tokenID *big.Int) (common.Address, error) {
	index, err := punkIndex(tokenID)
	if err != nil {
		return common.Address{}, err
	}
	owner := a.Market.PunkIndexToAddress(index)
	if owner == (common.Address{}) {
		return common.Address{}, ErrUnknownToken
	}
	return owner, nil
}

func (a PunkAdapter) TransferToEscrow(owner, escrow common.Address, tokenID *big.Int) error {
	index, err := punkIndex(tokenID)
	if err != nil {
		return err
	}
	if a.Market.PunkIndexToAddress(index) != owner {
		return ErrNotTokenOwner
	}
	buyer, price, ok := a.Market.PunksOfferedForSale(index)
	if !ok || buyer != escrow || price.Sign() != 0 {
		return ErrTransferNotApproved
	}
	return a.Market.BuyPunk(escrow, index, new(big.Int))
}

func (a PunkAdapter) TransferFromEscrow(escrow, to common.Address, tokenID *big.Int) error {
	index, err := punkIndex(tokenID)
	if err != nil {
		return err
	}
	return a.Market.TransferPunk(escrow, to, index)
}

func punkIndex(tokenID *big.Int) (uint64, error) {
	if tokenID == nil || tokenID.Sign() < 0 || !tokenID.IsUint64() {
		return 0, ErrUnknownToken
	}
	return tokenID.Uint64(), nil
}

// Collections resolves a collateral contract address to its adapter.
type Collections struct {
	adapters map[common.Address]Adapter
}

func NewCollections() *Collections {
	return &Collections{adapters: make(map[common.Address]Adapter)}
}

func (c *Collections) Register(contract common.Address, adapter Adapter) {
	c.adapters[contract] = adapter
}

func (c *Collections) Adapter(contract common.Address) (Adapter, error) {
	adapter, ok := c.adapters[contract]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, contract.Hex())
	}
	return adapter, nil
}

// OwnerOf returns the current holder of a token in any registered collection.
func (c *Collections) OwnerOf(contract common.Address, tokenID *big.Int) (common.Address, error) {
	adapter, err := c.Adapter(contract)
	if err != nil {
		return common.Address{}, err
	}
	return adapter.OwnerOf(tokenID)
}

func (c *Collections) TransferToEscrow(contract, owner, escrow common.Address, tokenID *big.Int) error {
	adapter, err := c.Adapter(contract)
	if err != nil {
		return err
	}
	return adapter.TransferToEscrow(owner, escrow, tokenID)
}

func (c *Collections) TransferFromEscrow(contract, escrow, to common.Address, tokenID *big.Int) error {
	adapter, err := c.Adapter(contract)
	if err != nil {
		return err
	}
	return adapter.TransferFromEscrow(escrow, to, tokenID)
}
