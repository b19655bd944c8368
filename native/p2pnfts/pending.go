package p2pnfts

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"p2pnfts/core/events"
)

// PendingTransfers returns the amount queued for wallet after rejected
// payouts.
func (e *Engine) PendingTransfers(wallet common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.PendingTransfer(wallet)
}

// ClaimPendingTransfers pays the caller everything queued for them. The
// balance is cleared before the payment is attempted; a payment that fails
// again aborts the claim and leaves the balance in place.
func (e *Engine) ClaimPendingTransfers(call Call) (*big.Int, error) {
	var paid *big.Int
	err := e.run("claim_pending_transfers", func(uint64) error {
		if err := e.railsReady(); err != nil {
			return err
		}
		if err := e.acceptValue(call, nil); err != nil {
			return err
		}
		wallet := call.Sender
		amount, err := e.state.PendingTransfer(wallet)
		if err != nil {
			return err
		}
		if amount.Sign() == 0 {
			return ErrNoPendingTransfers
		}
		if err := e.state.SetPendingTransfer(wallet, nil); err != nil {
			return err
		}
		if !e.send(wallet, amount) {
			return ErrTransferFailed
		}
		e.buffer.Emit(events.PendingTransferPaid{Market: e.cfg.Address, Wallet: wallet, Amount: new(big.Int).Set(amount)})
		paid = amount
		return nil
	})
	return paid, err
}
