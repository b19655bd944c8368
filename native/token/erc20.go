package token

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"p2pnfts/core/journal"
)

// ERC20 is a fungible token ledger with allowances.
type ERC20 struct {
	address    common.Address
	symbol     string
	journal    *journal.Journal
	bal        balances
	allowances map[common.Address]map[common.Address]*big.Int
}

func NewERC20(address common.Address, symbol string, j *journal.Journal) *ERC20 {
	return &ERC20{
		address:    address,
		symbol:     symbol,
		journal:    j,
		bal:        newBalances(j),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (t *ERC20) Address() common.Address { return t.address }

func (t *ERC20) Symbol() string { return t.symbol }

func (t *ERC20) Mint(to common.Address, amount *big.Int) error { return t.bal.mint(to, amount) }

func (t *ERC20) BalanceOf(addr common.Address) *big.Int { return t.bal.balanceOf(addr) }

// TotalSupply sums every balance.
func (t *ERC20) TotalSupply() *big.Int { return t.bal.total() }

func (t *ERC20) Transfer(from, to common.Address, amount *big.Int) bool {
	return t.bal.move(from, to, amount)
}

// TransferFrom moves amount from from to to, spending spender's allowance
// unless spender is from itself.
func (t *ERC20) TransferFrom(spender, from, to common.Address, amount *big.Int) bool {
	if amount == nil || amount.Sign() < 0 {
		return false
	}
	if spender != from {
		allowed := t.Allowance(from, spender)
		if allowed.Cmp(amount) < 0 {
			return false
		}
		if !t.bal.move(from, to, amount) {
			return false
		}
		t.setAllowance(from, spender, allowed.Sub(allowed, amount))
		return true
	}
	return t.bal.move(from, to, amount)
}

func (t *ERC20) Approve(owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	t.setAllowance(owner, spender, amount)
	return nil
}

func (t *ERC20) Allowance(owner, spender common.Address) *big.Int {
	if v, ok := t.allowances[owner][spender]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// RejectTransfersTo makes every transfer to addr fail until cleared. It models
// recipients that revert on receipt, such as blocklisted accounts.
func (t *ERC20) RejectTransfersTo(addr common.Address, reject bool) {
	t.bal.setRejecting(addr, reject)
}

func (t *ERC20) setAllowance(owner, spender common.Address, amount *big.Int) {
	inner, ok := t.allowances[owner]
	if !ok {
		inner = make(map[common.Address]*big.Int)
		t.allowances[owner] = inner
	}
	prev, existed := inner[spender]
	t.journal.Append(func() {
		if existed {
			inner[spender] = prev
			return
		}
		delete(inner, spender)
	})
	inner[spender] = new(big.Int).Set(amount)
}
