package p2pnfts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"p2pnfts/core/events"
)

// SettleLoan repays loan. The borrower pays principal, accrued interest and
// the borrower broker's settlement fee; fee wallets are paid their share of
// the interest, the lender receives the rest and the collateral returns to
// the borrower. Native markets require the exact amount due as call value.
func (e *Engine) SettleLoan(call Call, loan *Loan) error {
	err := e.run("settle_loan", func(now uint64) error {
		if err := e.collaboratorsReady(); err != nil {
			return err
		}
		if err := e.requireLoan(loan); err != nil {
			return err
		}
		if now > loan.Maturity {
			return ErrLoanDefaulted
		}
		actor, err := e.actor(call, ErrNotBorrower)
		if err != nil {
			return err
		}
		if actor != loan.Borrower {
			return ErrNotBorrower
		}

		interest := AccruedInterest(loan, now)
		fees := SettlementFees(loan, interest)
		borrowerBrokerFee := fees[2].Amount
		due := new(big.Int).Add(loan.Amount, interest)
		due.Add(due, borrowerBrokerFee)

		if err := e.state.DeleteLoanCommitment(loan.ID); err != nil {
			return err
		}
		if err := e.adjustOfferCount(loan.OfferID, -1); err != nil {
			return err
		}

		if e.IsNative() {
			if err := e.acceptValue(call, due); err != nil {
				return err
			}
		} else {
			if err := e.acceptValue(call, nil); err != nil {
				return err
			}
			if err := e.pull(actor, due); err != nil {
				return err
			}
		}

		lenderShare := new(big.Int).Sub(due, totalPayments(fees))
		for _, fee := range fees {
			if err := e.push(fee.Wallet, fee.Amount); err != nil {
				return err
			}
		}
		if err := e.push(loan.Lender, lenderShare); err != nil {
			return err
		}
		if err := e.collateral.TransferFromEscrow(loan.CollateralContract, e.cfg.Address, loan.Borrower, loan.CollateralTokenID); err != nil {
			return fmt.Errorf("p2pnfts: return collateral: %w", err)
		}

		e.buffer.Emit(events.LoanPaid{
			Market:             e.cfg.Address,
			ID:                 loan.ID,
			Borrower:           loan.Borrower,
			Lender:             loan.Lender,
			PaymentToken:       loan.PaymentToken,
			PaidPrincipal:      new(big.Int).Set(loan.Amount),
			PaidInterest:       interest,
			PaidSettlementFees: eventPayments(nonZeroPayments(fees)),
		})
		return nil
	})
	if err == nil {
		e.logger.Info("loan settled", "loan_id", common.Hash(loan.ID).Hex())
	}
	return err
}

func eventPayments(payments []FeePayment) []events.FeePayment {
	out := make([]events.FeePayment, 0, len(payments))
	for _, p := range payments {
		out = append(out, events.FeePayment{Type: uint8(p.Type), Wallet: p.Wallet, Amount: new(big.Int).Set(p.Amount)})
	}
	return out
}
