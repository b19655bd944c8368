// Package token provides in-process reference implementations of the assets a
// lending market moves: fungible payment tokens, the native asset, wrapped
// native, ERC721 collections, the punk market and the delegation registry.
//
// Every mutation is recorded in a core/journal so a failed market call rolls
// the ledgers back together with the market state. The types are not safe for
// concurrent use; callers serialize access.
package token

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"p2pnfts/core/journal"
)

var (
	ErrInvalidAmount       = errors.New("token: invalid amount")
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrNotTokenOwner       = errors.New("token: caller is not the token owner")
	ErrUnknownToken        = errors.New("token: unknown token id")
	ErrTokenExists         = errors.New("token: token id already minted")
	ErrTransferNotApproved = errors.New("token: transfer is not approved")
	ErrUnknownCollection   = errors.New("token: unknown collection")
	ErrPunkNotForSale      = errors.New("token: punk not for sale")
)

// balances is a journaled address to amount map shared by the fungible
// ledgers.
type balances struct {
	journal  *journal.Journal
	accounts map[common.Address]*big.Int
	// rejecting recipients refuse incoming transfers.
	rejecting map[common.Address]bool
}

func newBalances(j *journal.Journal) balances {
	return balances{
		journal:   j,
		accounts:  make(map[common.Address]*big.Int),
		rejecting: make(map[common.Address]bool),
	}
}

func (b *balances) balanceOf(addr common.Address) *big.Int {
	if v, ok := b.accounts[addr]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (b *balances) set(addr common.Address, amount *big.Int) {
	prev, existed := b.accounts[addr]
	b.journal.Append(func() {
		if existed {
			b.accounts[addr] = prev
			return
		}
		delete(b.accounts, addr)
	})
	b.accounts[addr] = new(big.Int).Set(amount)
}

func (b *balances) mint(to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	b.set(to, new(big.Int).Add(b.balanceOf(to), amount))
	return nil
}

func (b *balances) burn(from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	bal := b.balanceOf(from)
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	b.set(from, bal.Sub(bal, amount))
	return nil
}

// move reports false instead of failing so callers can mirror token
// contracts that return a success flag.
func (b *balances) move(from, to common.Address, amount *big.Int) bool {
	if amount == nil || amount.Sign() < 0 || b.rejecting[to] {
		return false
	}
	bal := b.balanceOf(from)
	if bal.Cmp(amount) < 0 {
		return false
	}
	if from == to || amount.Sign() == 0 {
		return true
	}
	b.set(from, bal.Sub(bal, amount))
	b.set(to, new(big.Int).Add(b.balanceOf(to), amount))
	return true
}

func (b *balances) setRejecting(addr common.Address, reject bool) {
	prev := b.rejecting[addr]
	b.journal.Append(func() {
		if prev {
			b.rejecting[addr] = true
			return
		}
		delete(b.rejecting, addr)
	})
	if reject {
		b.rejecting[addr] = true
		return
	}
	delete(b.rejecting, addr)
}

func (b *balances) total() *big.Int {
	sum := new(big.Int)
	for _, v := range b.accounts {
		sum.Add(sum, v)
	}
	return sum
}
