package p2pnfts

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"p2pnfts/core/events"
)

// FungibleToken is the ERC20 surface used for payments. Transfers report
// failure by returning false.
type FungibleToken interface {
	BalanceOf(addr common.Address) *big.Int
	Transfer(from, to common.Address, amount *big.Int) bool
	TransferFrom(spender, from, to common.Address, amount *big.Int) bool
}

// WrappedNativeToken is the wrapped form of the native asset. Native markets
// pull lender funds through it and unwrap them before paying out.
type WrappedNativeToken interface {
	FungibleToken
	Withdraw(holder common.Address, amount *big.Int) bool
}

// NativeBank moves native value between accounts.
type NativeBank interface {
	BalanceOf(addr common.Address) *big.Int
	Send(from, to common.Address, amount *big.Int) bool
}

// PaymentRails are the payment primitives of a market. ERC20 markets use
// Token; native markets use Wrapped and Bank.
type PaymentRails struct {
	Token   FungibleToken
	Wrapped WrappedNativeToken
	Bank    NativeBank
}

func (e *Engine) railsReady() error {
	if e.IsNative() {
		if e.rails.Wrapped == nil || e.rails.Bank == nil {
			return errNilRails
		}
		return nil
	}
	if e.rails.Token == nil {
		return errNilRails
	}
	return nil
}

// acceptValue moves the native value attached to call into the market.
// expected is the exact amount the operation requires; nil means none.
func (e *Engine) acceptValue(call Call, expected *big.Int) error {
	value := orZero(call.Value)
	if !e.IsNative() {
		if value.Sign() != 0 {
			return ErrNativePaymentNotAllowed
		}
		return nil
	}
	if value.Cmp(orZero(expected)) != 0 {
		return ErrInvalidSentValue
	}
	if value.Sign() == 0 {
		return nil
	}
	if !e.rails.Bank.Send(call.Sender, e.cfg.Address, value) {
		return ErrInsufficientFunds
	}
	return nil
}

// pull collects amount from a party that approved the market on the payment
// token, or on the wrapped token for native markets.
func (e *Engine) pull(from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return errAmountRange
	}
	if e.IsNative() {
		if !e.rails.Wrapped.TransferFrom(e.cfg.Address, from, e.cfg.Address, amount) {
			return ErrInsufficientFunds
		}
		if !e.rails.Wrapped.Withdraw(e.cfg.Address, amount) {
			return ErrInsufficientFunds
		}
		return nil
	}
	if !e.rails.Token.TransferFrom(e.cfg.Address, from, e.cfg.Address, amount) {
		return ErrInsufficientFunds
	}
	return nil
}

func (e *Engine) send(to common.Address, amount *big.Int) bool {
	if e.IsNative() {
		return e.rails.Bank.Send(e.cfg.Address, to, amount)
	}
	return e.rails.Token.Transfer(e.cfg.Address, to, amount)
}

// push pays amount to a party. A rejected payment is kept by the market and
// queued as a pending transfer the recipient can claim later.
func (e *Engine) push(to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return errAmountRange
	}
	if e.send(to, amount) {
		return nil
	}
	return e.queuePending(to, amount)
}

func (e *Engine) queuePending(to common.Address, amount *big.Int) error {
	current, err := e.state.PendingTransfer(to)
	if err != nil {
		return err
	}
	total := new(big.Int).Add(current, amount)
	if err := e.state.SetPendingTransfer(to, total); err != nil {
		return err
	}
	e.buffer.Emit(events.PendingTransferQueued{
		Market: e.cfg.Address,
		Wallet: to,
		Amount: new(big.Int).Set(amount),
		Total:  new(big.Int).Set(total),
	})
	if e.metrics != nil {
		e.metrics.ObservePendingTransfer(amount)
	}
	e.logger.Warn("payment rejected, queued as pending transfer", "wallet", to.Hex(), "amount", amount.String())
	return nil
}

// settleDelta pays a positive delta to party or collects a negative one.
func (e *Engine) settleDelta(party common.Address, delta *big.Int) error {
	switch delta.Sign() {
	case 1:
		return e.push(party, delta)
	case -1:
		return e.pull(party, new(big.Int).Neg(delta))
	}
	return nil
}
