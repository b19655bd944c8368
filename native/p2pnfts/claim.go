package p2pnfts

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"p2pnfts/core/events"
)

// ClaimDefaulted hands the collateral of a matured, unpaid loan to its
// lender. No funds move.
func (e *Engine) ClaimDefaulted(call Call, loan *Loan) error {
	err := e.run("claim_defaulted", func(now uint64) error {
		if e.collateral == nil {
			return errNilEscrow
		}
		if err := e.requireLoan(loan); err != nil {
			return err
		}
		if now <= loan.Maturity {
			return ErrLoanNotDefaulted
		}
		actor, err := e.actor(call, ErrNotLender)
		if err != nil {
			return err
		}
		if actor != loan.Lender {
			return ErrNotLender
		}
		if err := e.acceptValue(call, nil); err != nil {
			return err
		}
		if err := e.state.DeleteLoanCommitment(loan.ID); err != nil {
			return err
		}
		if err := e.collateral.TransferFromEscrow(loan.CollateralContract, e.cfg.Address, loan.Lender, loan.CollateralTokenID); err != nil {
			return fmt.Errorf("p2pnfts: release collateral: %w", err)
		}
		e.buffer.Emit(events.LoanCollateralClaimed{
			Market:             e.cfg.Address,
			ID:                 loan.ID,
			Borrower:           loan.Borrower,
			Lender:             loan.Lender,
			CollateralContract: loan.CollateralContract,
			CollateralTokenID:  copyBig(loan.CollateralTokenID),
		})
		return nil
	})
	if err == nil {
		e.logger.Info("defaulted collateral claimed", "loan_id", common.Hash(loan.ID).Hex(), "lender", loan.Lender.Hex())
	}
	return err
}
