package token

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"p2pnfts/core/journal"
)

// NativeBank holds native asset balances.
type NativeBank struct {
	bal balances
}

func NewNativeBank(j *journal.Journal) *NativeBank {
	return &NativeBank{bal: newBalances(j)}
}

func (b *NativeBank) Mint(to common.Address, amount *big.Int) error { return b.bal.mint(to, amount) }

func (b *NativeBank) BalanceOf(addr common.Address) *big.Int { return b.bal.balanceOf(addr) }

// Send moves native value and reports whether the recipient accepted it.
func (b *NativeBank) Send(from, to common.Address, amount *big.Int) bool {
	return b.bal.move(from, to, amount)
}

// RejectPaymentsTo models a recipient whose receive hook reverts.
func (b *NativeBank) RejectPaymentsTo(addr common.Address, reject bool) {
	b.bal.setRejecting(addr, reject)
}

// WrappedNative is an ERC20 backed one to one by native value held at its own
// address in the bank.
type WrappedNative struct {
	*ERC20
	bank *NativeBank
}

func NewWrappedNative(address common.Address, bank *NativeBank, j *journal.Journal) *WrappedNative {
	return &WrappedNative{ERC20: NewERC20(address, "WETH", j), bank: bank}
}

// Deposit wraps amount of holder's native balance.
func (w *WrappedNative) Deposit(holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if !w.bank.Send(holder, w.address, amount) {
		return ErrInsufficientBalance
	}
	return w.bal.mint(holder, amount)
}

// Withdraw unwraps amount and credits the native value to holder.
func (w *WrappedNative) Withdraw(holder common.Address, amount *big.Int) bool {
	snap := w.journal.Snapshot()
	if err := w.bal.burn(holder, amount); err != nil {
		return false
	}
	if !w.bank.Send(w.address, holder, amount) {
		w.journal.RevertToSnapshot(snap)
		return false
	}
	return true
}
