package p2pnfts

import (
	"github.com/ethereum/go-ethereum/common"

	"p2pnfts/core/events"
)

func (e *Engine) Owner() (common.Address, error) {
	if err := e.ready(); err != nil {
		return common.Address{}, err
	}
	return e.ownership.Owner()
}

func (e *Engine) ProposedOwner() (common.Address, error) {
	if err := e.ready(); err != nil {
		return common.Address{}, err
	}
	rec, err := e.ownership.Record()
	return rec.Proposed, err
}

// SetProtocolFee changes the protocol rates applied to new loans. Existing
// loans keep the rates recorded in their fee schedule.
func (e *Engine) SetProtocolFee(caller common.Address, upfrontBps, settlementBps uint64) error {
	return e.run("set_protocol_fee", func(uint64) error {
		if err := e.ownership.RequireOwner(caller); err != nil {
			return err
		}
		if upfrontBps > e.cfg.MaxProtocolUpfrontBps || settlementBps > e.cfg.MaxProtocolSettlementBps {
			return ErrProtocolFeeExceedsMax
		}
		previous, err := e.protocolFees()
		if err != nil {
			return err
		}
		next := ProtocolFees{UpfrontBps: upfrontBps, SettlementBps: settlementBps}
		if err := e.state.SetParam(paramProtocolFees, next); err != nil {
			return err
		}
		e.buffer.Emit(events.ProtocolFeeSet{
			Market:                e.cfg.Address,
			PreviousUpfrontBps:    previous.UpfrontBps,
			PreviousSettlementBps: previous.SettlementBps,
			UpfrontBps:            upfrontBps,
			SettlementBps:         settlementBps,
		})
		return nil
	})
}

func (e *Engine) ChangeProtocolWallet(caller, wallet common.Address) error {
	return e.run("change_protocol_wallet", func(uint64) error {
		if err := e.ownership.RequireOwner(caller); err != nil {
			return err
		}
		if wallet == (common.Address{}) {
			return ErrZeroWallet
		}
		previous, err := e.protocolWallet()
		if err != nil {
			return err
		}
		if err := e.state.SetParam(paramProtocolWallet, wallet); err != nil {
			return err
		}
		e.buffer.Emit(events.ProtocolWalletChanged{Market: e.cfg.Address, Previous: previous, Wallet: wallet})
		return nil
	})
}

// ProposeOwner starts a two-step ownership transfer. The proposed account
// takes over once it calls ClaimOwnership.
func (e *Engine) ProposeOwner(caller, proposed common.Address) error {
	return e.run("propose_owner", func(uint64) error {
		ev, err := e.ownership.Propose(caller, proposed)
		if err != nil {
			return err
		}
		e.buffer.Emit(ev)
		return nil
	})
}

func (e *Engine) ClaimOwnership(caller common.Address) error {
	return e.run("claim_ownership", func(uint64) error {
		ev, err := e.ownership.Claim(caller)
		if err != nil {
			return err
		}
		e.buffer.Emit(ev)
		return nil
	})
}
