package p2pnfts

import (
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"p2pnfts/core/events"
)

// QuoteReplacement computes how replacing loan with a loan built from offer at
// time at moves funds, with the protocol charging protocolUpfrontBps on the
// new principal.
//
// With NP/OP the new and old principal, I the accrued interest, S the old
// loan's settlement fees on I, U the new upfront fees (protocol, origination,
// new lender broker) and B the new lender broker's upfront fee:
//
//	C                = U + MaxInterestDelta
//	borrower delta   = NP - OP - U - I + C
//	old lender delta = OP + I - S - C + B
//	new lender delta = origination - NP - B
//
// The three deltas plus S, the protocol upfront fee and B sum to zero.
func QuoteReplacement(loan *Loan, offer Offer, protocolUpfrontBps uint64, at uint64) ReplacementSettlement {
	oldPrincipal := orZero(loan.Amount)
	newPrincipal := orZero(offer.Principal)
	origination := orZero(offer.OriginationFeeAmount)
	brokerUpfront := orZero(offer.BrokerUpfrontFeeAmount)

	interest := AccruedInterest(loan, at)
	fees := SettlementFees(loan, interest)
	settlement := totalPayments(fees)

	protocolUpfront := bpsOf(newPrincipal, protocolUpfrontBps)
	upfront := new(big.Int).Add(protocolUpfront, origination)
	upfront.Add(upfront, brokerUpfront)

	maxDelta := MaxInterestDelta(loan, offer, at)
	compensation := new(big.Int).Add(upfront, maxDelta)

	borrower := new(big.Int).Sub(newPrincipal, oldPrincipal)
	borrower.Sub(borrower, upfront)
	borrower.Sub(borrower, interest)
	borrower.Add(borrower, compensation)

	oldLender := new(big.Int).Add(oldPrincipal, interest)
	oldLender.Sub(oldLender, settlement)
	oldLender.Sub(oldLender, compensation)
	oldLender.Add(oldLender, brokerUpfront)

	newLender := new(big.Int).Sub(origination, newPrincipal)
	newLender.Sub(newLender, brokerUpfront)

	return ReplacementSettlement{
		Interest:             interest,
		SettlementFees:       fees,
		ProtocolUpfront:      protocolUpfront,
		LenderBrokerUpfront:  brokerUpfront,
		UpfrontFees:          upfront,
		MaxInterestDelta:     maxDelta,
		BorrowerCompensation: compensation,
		BorrowerDelta:        borrower,
		OldLenderDelta:       oldLender,
		NewLenderDelta:       newLender,
	}
}

// ReplaceLoanLender refinances a live loan with a new lender's offer on the
// same collateral. Only the current lender may call it. The old loan closes,
// a new one opens at the current protocol rates, and the collateral stays in
// escrow.
func (e *Engine) ReplaceLoanLender(call Call, req ReplaceLoanRequest) (*Loan, error) {
	var replaced *Loan
	err := e.run("replace_loan_lender", func(now uint64) error {
		if err := e.collaboratorsReady(); err != nil {
			return err
		}
		loan := req.Loan
		if err := e.requireLoan(loan); err != nil {
			return err
		}
		if now > loan.Maturity {
			return ErrLoanDefaulted
		}
		actor, err := e.actor(call, ErrNotLender)
		if err != nil {
			return err
		}
		if actor != loan.Lender {
			return ErrNotLender
		}

		offer := req.Offer.Offer.Clone()
		offerID, err := e.checkOffer(req.Offer, now)
		if err != nil {
			return err
		}
		contract, err := e.resolveContract(offer)
		if err != nil {
			return err
		}
		if contract != loan.CollateralContract {
			return ErrCollateralContractMismatch
		}
		if err := e.checkCollateral(offer, contract, loan.CollateralTokenID, req.Proof); err != nil {
			return err
		}
		if _, err := e.checkBrokerLock(contract, loan.CollateralTokenID, now, offer.BrokerAddress, loan.BorrowerBrokerFee().Wallet); err != nil {
			return err
		}
		if offer.Duration > math.MaxUint64-now {
			return errAmountRange
		}

		rates, err := e.protocolFees()
		if err != nil {
			return err
		}
		protocolWallet, err := e.protocolWallet()
		if err != nil {
			return err
		}
		quote := QuoteReplacement(loan, offer, rates.UpfrontBps, now)

		next := &Loan{
			OfferID:            offerID,
			Amount:             orZero(offer.Principal),
			Interest:           orZero(offer.Interest),
			PaymentToken:       offer.PaymentToken,
			Maturity:           now + offer.Duration,
			StartTime:          now,
			Borrower:           loan.Borrower,
			Lender:             offer.Lender,
			CollateralContract: loan.CollateralContract,
			CollateralTokenID:  new(big.Int).Set(loan.CollateralTokenID),
			ProRata:            offer.ProRata,
		}
		next.Fees = feeSchedule(offer, ProtocolFee(next.Amount, rates.UpfrontBps, rates.SettlementBps, protocolWallet), e.replacementBorrowerBroker(loan))
		nonce, err := e.nextLoanNonce()
		if err != nil {
			return err
		}
		if next.ID, err = LoanID(e.cfg.Address, next.Borrower, next.CollateralContract, next.CollateralTokenID, now, nonce); err != nil {
			return err
		}

		if err := e.state.DeleteLoanCommitment(loan.ID); err != nil {
			return err
		}
		if err := e.adjustOfferCount(loan.OfferID, -1); err != nil {
			return err
		}
		if err := e.storeLoan(next); err != nil {
			return err
		}
		if err := e.adjustOfferCount(offerID, 1); err != nil {
			return err
		}

		if err := e.moveReplacementFunds(call, loan, next, quote, protocolWallet, offer.BrokerAddress); err != nil {
			return err
		}

		e.buffer.Emit(events.LoanReplacedByLender{
			Market:               e.cfg.Address,
			Loan:                 next.terms(),
			OriginalLoanID:       loan.ID,
			PaidPrincipal:        new(big.Int).Set(loan.Amount),
			PaidInterest:         new(big.Int).Set(quote.Interest),
			PaidSettlementFees:   eventPayments(nonZeroPayments(quote.SettlementFees)),
			BorrowerCompensation: new(big.Int).Set(quote.BorrowerCompensation),
			OfferID:              offerID,
		})
		replaced = next.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("loan lender replaced",
		"original_loan_id", common.Hash(req.Loan.ID).Hex(),
		"loan_id", common.Hash(replaced.ID).Hex(),
		"lender", replaced.Lender.Hex(),
	)
	return replaced, nil
}

// moveReplacementFunds collects every negative delta before paying anything
// out. When the new lender is the old one their deltas are netted. On native
// markets the old lender's shortfall arrives as call value.
func (e *Engine) moveReplacementFunds(call Call, old, next *Loan, quote ReplacementSettlement, protocolWallet, newBroker common.Address) error {
	oldLender := new(big.Int).Set(quote.OldLenderDelta)
	sameLender := next.Lender == old.Lender
	if sameLender {
		oldLender.Add(oldLender, quote.NewLenderDelta)
	}

	if e.IsNative() {
		var shortfall *big.Int
		if oldLender.Sign() < 0 {
			shortfall = new(big.Int).Neg(oldLender)
		}
		if err := e.acceptValue(call, shortfall); err != nil {
			return err
		}
	} else {
		if err := e.acceptValue(call, nil); err != nil {
			return err
		}
		if oldLender.Sign() < 0 {
			if err := e.pull(old.Lender, new(big.Int).Neg(oldLender)); err != nil {
				return err
			}
		}
	}
	if !sameLender && quote.NewLenderDelta.Sign() < 0 {
		if err := e.pull(next.Lender, new(big.Int).Neg(quote.NewLenderDelta)); err != nil {
			return err
		}
	}
	if quote.BorrowerDelta.Sign() < 0 {
		if err := e.pull(old.Borrower, new(big.Int).Neg(quote.BorrowerDelta)); err != nil {
			return err
		}
	}

	for _, fee := range quote.SettlementFees {
		if err := e.push(fee.Wallet, fee.Amount); err != nil {
			return err
		}
	}
	if err := e.push(protocolWallet, quote.ProtocolUpfront); err != nil {
		return err
	}
	if err := e.push(newBroker, quote.LenderBrokerUpfront); err != nil {
		return err
	}
	if oldLender.Sign() > 0 {
		if err := e.push(old.Lender, oldLender); err != nil {
			return err
		}
	}
	if !sameLender && quote.NewLenderDelta.Sign() > 0 {
		if err := e.push(next.Lender, quote.NewLenderDelta); err != nil {
			return err
		}
	}
	if quote.BorrowerDelta.Sign() > 0 {
		if err := e.push(old.Borrower, quote.BorrowerDelta); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) replacementBorrowerBroker(loan *Loan) Fee {
	fee := Fee{Type: FeeTypeBorrowerBroker, UpfrontAmount: new(big.Int)}
	if e.cfg.BorrowerBrokerPolicy == BorrowerBrokerCarryForward {
		prev := loan.BorrowerBrokerFee()
		fee.SettlementBps = prev.SettlementBps
		fee.Wallet = prev.Wallet
	}
	return fee
}
