package p2pnfts

import (
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"p2pnfts/core/events"
	"p2pnfts/native/control"
)

// CreateLoan opens a loan from a signed offer. The collateral moves into
// escrow, the lender funds the principal net of the origination fee, upfront
// fees are paid and the rest goes to the borrower.
func (e *Engine) CreateLoan(call Call, req CreateLoanRequest) (*Loan, error) {
	var created *Loan
	err := e.run("create_loan", func(now uint64) error {
		if err := e.collaboratorsReady(); err != nil {
			return err
		}
		borrower, err := e.actor(call, ErrNotBorrower)
		if err != nil {
			return err
		}
		if err := e.acceptValue(call, nil); err != nil {
			return err
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
		tokenID := orZero(req.TokenID)
		if err := e.checkCollateral(offer, contract, tokenID, req.Proof); err != nil {
			return err
		}
		bb := req.BorrowerBroker
		if err := checkUint256(bb.UpfrontAmount); err != nil {
			return err
		}
		if hasBrokerFee(bb.UpfrontAmount, bb.SettlementBps) && bb.Wallet == (common.Address{}) {
			return ErrBrokerFeeWithoutAddress
		}
		lock, err := e.checkBrokerLock(contract, tokenID, now, offer.BrokerAddress, bb.Wallet)
		if err != nil {
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
		loan := &Loan{
			OfferID:            offerID,
			Amount:             orZero(offer.Principal),
			Interest:           orZero(offer.Interest),
			PaymentToken:       offer.PaymentToken,
			Maturity:           now + offer.Duration,
			StartTime:          now,
			Borrower:           borrower,
			Lender:             offer.Lender,
			CollateralContract: contract,
			CollateralTokenID:  tokenID,
			ProRata:            offer.ProRata,
		}
		loan.Fees = feeSchedule(offer, ProtocolFee(loan.Amount, rates.UpfrontBps, rates.SettlementBps, protocolWallet), Fee{
			Type:          FeeTypeBorrowerBroker,
			UpfrontAmount: orZero(bb.UpfrontAmount),
			SettlementBps: bb.SettlementBps,
			Wallet:        bb.Wallet,
		})
		proceeds := new(big.Int).Sub(loan.Amount, loan.OriginationFee().UpfrontAmount)
		proceeds.Sub(proceeds, loan.ProtocolFee().UpfrontAmount)
		proceeds.Sub(proceeds, loan.BorrowerBrokerFee().UpfrontAmount)
		if proceeds.Sign() < 0 {
			return ErrUpfrontFeesExceedPrincipal
		}

		nonce, err := e.nextLoanNonce()
		if err != nil {
			return err
		}
		if loan.ID, err = LoanID(e.cfg.Address, borrower, contract, tokenID, now, nonce); err != nil {
			return err
		}
		if err := e.storeLoan(loan); err != nil {
			return err
		}
		if err := e.adjustOfferCount(offerID, 1); err != nil {
			return err
		}

		if err := e.collateral.TransferToEscrow(contract, borrower, e.cfg.Address, tokenID); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferNotApproved, err)
		}
		lenderBroker := loan.LenderBrokerFee()
		funding := new(big.Int).Sub(loan.Amount, loan.OriginationFee().UpfrontAmount)
		funding.Add(funding, lenderBroker.UpfrontAmount)
		if err := e.pull(loan.Lender, funding); err != nil {
			return err
		}
		for _, payout := range []struct {
			to     common.Address
			amount *big.Int
		}{
			{lenderBroker.Wallet, lenderBroker.UpfrontAmount},
			{loan.ProtocolFee().Wallet, loan.ProtocolFee().UpfrontAmount},
			{loan.BorrowerBrokerFee().Wallet, loan.BorrowerBrokerFee().UpfrontAmount},
			{borrower, proceeds},
		} {
			if err := e.push(payout.to, payout.amount); err != nil {
				return err
			}
		}

		if bb.Wallet != (common.Address{}) && !lock.Live(now) {
			if err := e.lockForBroker(loan, bb.Wallet, now); err != nil {
				return err
			}
		}
		if req.Delegate != (common.Address{}) && e.delegation != nil {
			e.delegation.DelegateERC721(e.cfg.Address, req.Delegate, contract, tokenID, [32]byte{}, true)
		}
		e.buffer.Emit(events.LoanCreated{Market: e.cfg.Address, Loan: loan.terms()})
		created = loan.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("loan created", "loan_id", common.Hash(created.ID).Hex(), "borrower", created.Borrower.Hex(), "lender", created.Lender.Hex())
	return created, nil
}

func (e *Engine) collaboratorsReady() error {
	if e.gateway == nil {
		return errNilGateway
	}
	if e.collateral == nil {
		return errNilEscrow
	}
	return e.railsReady()
}

// checkOffer authenticates a signed offer and checks it can back another
// loan at now. It returns the offer id.
func (e *Engine) checkOffer(signed SignedOffer, now uint64) ([32]byte, error) {
	if _, err := VerifyOffer(signed, e.cfg.Address, e.cfg.ChainID); err != nil {
		return [32]byte{}, err
	}
	if signed.Offer.PaymentToken != e.cfg.PaymentToken {
		return [32]byte{}, ErrInvalidPaymentToken
	}
	id := signed.ID()
	usage, err := e.state.OfferCount(id)
	if err != nil {
		return [32]byte{}, err
	}
	revoked, err := e.state.OfferRevoked(id)
	if err != nil {
		return [32]byte{}, err
	}
	if err := CheckUsable(signed.Offer, now, usage, revoked); err != nil {
		return [32]byte{}, err
	}
	if err := checkOfferEconomics(signed.Offer); err != nil {
		return [32]byte{}, err
	}
	return id, nil
}

// resolveContract maps the offer's collection to its contract.
func (e *Engine) resolveContract(offer Offer) (common.Address, error) {
	contract, err := e.gateway.ContractFor(offer.CollectionKeyHash)
	if err != nil {
		return common.Address{}, err
	}
	if contract == (common.Address{}) {
		return common.Address{}, ErrCollateralNotWhitelisted
	}
	return contract, nil
}

func (e *Engine) checkCollateral(offer Offer, contract common.Address, tokenID *big.Int, proof [][32]byte) error {
	listed, err := e.gateway.IsWhitelisted(contract)
	if err != nil {
		return err
	}
	if !listed {
		return ErrCollateralNotWhitelisted
	}
	var root [32]byte
	if offer.Selector != nil && offer.Selector.OfferType() == OfferTypeTrait {
		if root, err = e.gateway.TraitRoot(offer.CollectionKeyHash); err != nil {
			return err
		}
	}
	return CheckCollateralMatch(offer, contract, tokenID, proof, root)
}

// checkBrokerLock rejects collateral held by a live lock whose broker is not
// one of the brokers taking part in the loan.
func (e *Engine) checkBrokerLock(contract common.Address, tokenID *big.Int, now uint64, brokers ...common.Address) (control.BrokerLock, error) {
	lock, err := e.gateway.BrokerLock(contract, tokenID)
	if err != nil {
		return control.BrokerLock{}, err
	}
	if !lock.Live(now) {
		return lock, nil
	}
	for _, broker := range brokers {
		if broker != (common.Address{}) && broker == lock.Broker {
			return lock, nil
		}
	}
	return lock, ErrCollateralLocked
}

// lockForBroker reserves the escrowed collateral for the borrower broker
// until maturity, bounded by the controller's maximum lock duration.
func (e *Engine) lockForBroker(loan *Loan, broker common.Address, now uint64) error {
	maxDuration, err := e.gateway.MaxBrokerLockDuration()
	if err != nil {
		return err
	}
	expiration := loan.Maturity
	if maxDuration < math.MaxUint64-now && now+maxDuration < expiration {
		expiration = now + maxDuration
	}
	ev, err := e.gateway.PlaceBrokerLock(e.cfg.Address, loan.CollateralContract, loan.CollateralTokenID, broker, expiration, now)
	if err != nil {
		return err
	}
	e.buffer.Emit(ev)
	return nil
}

// feeSchedule lays out the four fee slots of a loan built from offer.
func feeSchedule(offer Offer, protocol, borrowerBroker Fee) [4]Fee {
	var fees [4]Fee
	fees[slotProtocol] = protocol
	fees[slotOrigination] = Fee{
		Type:          FeeTypeOrigination,
		UpfrontAmount: orZero(offer.OriginationFeeAmount),
		Wallet:        offer.Lender,
	}
	fees[slotLenderBroker] = Fee{
		Type:          FeeTypeLenderBroker,
		UpfrontAmount: orZero(offer.BrokerUpfrontFeeAmount),
		SettlementBps: offer.BrokerSettlementFeeBps,
		Wallet:        offer.BrokerAddress,
	}
	borrowerBroker.Type = FeeTypeBorrowerBroker
	borrowerBroker.UpfrontAmount = orZero(borrowerBroker.UpfrontAmount)
	fees[slotBorrowerBroker] = borrowerBroker
	return fees
}
