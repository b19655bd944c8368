package events

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"p2pnfts/core/types"
)

const (
	TypeLoanCreated           = "p2pnfts.loan_created"
	TypeLoanPaid              = "p2pnfts.loan_paid"
	TypeLoanReplacedByLender  = "p2pnfts.loan_replaced_by_lender"
	TypeLoanCollateralClaimed = "p2pnfts.loan_collateral_claimed"
	TypeOfferRevoked          = "p2pnfts.offer_revoked"
	TypePendingTransferQueued = "p2pnfts.pending_transfer_queued"
	TypePendingTransferPaid   = "p2pnfts.pending_transfer_paid"
)

// FeeRecord mirrors one slot of a loan's fee schedule.
type FeeRecord struct {
	Type          uint8          `json:"type"`
	UpfrontAmount *big.Int       `json:"upfront_amount"`
	SettlementBps uint64         `json:"settlement_bps"`
	Wallet        common.Address `json:"wallet"`
}

// FeePayment is an amount paid to a fee wallet at settlement.
type FeePayment struct {
	Type   uint8          `json:"type"`
	Wallet common.Address `json:"wallet"`
	Amount *big.Int       `json:"amount"`
}

// LoanTerms are the loan fields shared by the creation and replacement events.
type LoanTerms struct {
	ID                 [32]byte
	Amount             *big.Int
	Interest           *big.Int
	PaymentToken       common.Address
	Maturity           uint64
	StartTime          uint64
	Borrower           common.Address
	Lender             common.Address
	CollateralContract common.Address
	CollateralTokenID  *big.Int
	Fees               [4]FeeRecord
	ProRata            bool
}

func (l LoanTerms) attributes(market common.Address) map[string]string {
	fees, _ := json.Marshal(l.Fees)
	return map[string]string{
		"market":              market.Hex(),
		"id":                  hash(l.ID),
		"amount":              amount(l.Amount),
		"interest":            amount(l.Interest),
		"payment_token":       l.PaymentToken.Hex(),
		"maturity":            strconv.FormatUint(l.Maturity, 10),
		"start_time":          strconv.FormatUint(l.StartTime, 10),
		"borrower":            l.Borrower.Hex(),
		"lender":              l.Lender.Hex(),
		"collateral_contract": l.CollateralContract.Hex(),
		"collateral_token_id": amount(l.CollateralTokenID),
		"fees":                string(fees),
		"pro_rata":            strconv.FormatBool(l.ProRata),
	}
}

type LoanCreated struct {
	Market common.Address
	Loan   LoanTerms
}

func (LoanCreated) EventType() string { return TypeLoanCreated }

func (e LoanCreated) Event() *types.Event {
	return &types.Event{Type: TypeLoanCreated, Attributes: e.Loan.attributes(e.Market)}
}

type LoanPaid struct {
	Market             common.Address
	ID                 [32]byte
	Borrower           common.Address
	Lender             common.Address
	PaymentToken       common.Address
	PaidPrincipal      *big.Int
	PaidInterest       *big.Int
	PaidSettlementFees []FeePayment
}

func (LoanPaid) EventType() string { return TypeLoanPaid }

func (e LoanPaid) Event() *types.Event {
	return &types.Event{Type: TypeLoanPaid, Attributes: map[string]string{
		"market":               e.Market.Hex(),
		"id":                   hash(e.ID),
		"borrower":             e.Borrower.Hex(),
		"lender":               e.Lender.Hex(),
		"payment_token":        e.PaymentToken.Hex(),
		"paid_principal":       amount(e.PaidPrincipal),
		"paid_interest":        amount(e.PaidInterest),
		"paid_settlement_fees": payments(e.PaidSettlementFees),
	}}
}

// LoanReplacedByLender carries the terms of the replacement loan together
// with what was paid to close the original one.
type LoanReplacedByLender struct {
	Market               common.Address
	Loan                 LoanTerms
	OriginalLoanID       [32]byte
	PaidPrincipal        *big.Int
	PaidInterest         *big.Int
	PaidSettlementFees   []FeePayment
	BorrowerCompensation *big.Int
	OfferID              [32]byte
}

func (LoanReplacedByLender) EventType() string { return TypeLoanReplacedByLender }

func (e LoanReplacedByLender) Event() *types.Event {
	attrs := e.Loan.attributes(e.Market)
	attrs["original_loan_id"] = hash(e.OriginalLoanID)
	attrs["paid_principal"] = amount(e.PaidPrincipal)
	attrs["paid_interest"] = amount(e.PaidInterest)
	attrs["paid_settlement_fees"] = payments(e.PaidSettlementFees)
	attrs["borrower_compensation"] = amount(e.BorrowerCompensation)
	attrs["offer_id"] = hash(e.OfferID)
	return &types.Event{Type: TypeLoanReplacedByLender, Attributes: attrs}
}

type LoanCollateralClaimed struct {
	Market             common.Address
	ID                 [32]byte
	Borrower           common.Address
	Lender             common.Address
	CollateralContract common.Address
	CollateralTokenID  *big.Int
}

func (LoanCollateralClaimed) EventType() string { return TypeLoanCollateralClaimed }

func (e LoanCollateralClaimed) Event() *types.Event {
	return &types.Event{Type: TypeLoanCollateralClaimed, Attributes: map[string]string{
		"market":              e.Market.Hex(),
		"id":                  hash(e.ID),
		"borrower":            e.Borrower.Hex(),
		"lender":              e.Lender.Hex(),
		"collateral_contract": e.CollateralContract.Hex(),
		"collateral_token_id": amount(e.CollateralTokenID),
	}}
}

// OfferRevoked reports a revoked offer. Only the selector fields matching
// OfferType are populated.
type OfferRevoked struct {
	Market             common.Address
	OfferID            [32]byte
	Lender             common.Address
	CollateralContract common.Address
	CollectionKeyHash  [32]byte
	OfferType          uint8
	TokenID            *big.Int
	TokenRangeMin      *big.Int
	TokenRangeMax      *big.Int
	TraitHash          [32]byte
}

func (OfferRevoked) EventType() string { return TypeOfferRevoked }

func (e OfferRevoked) Event() *types.Event {
	attrs := map[string]string{
		"market":              e.Market.Hex(),
		"offer_id":            hash(e.OfferID),
		"lender":              e.Lender.Hex(),
		"collateral_contract": e.CollateralContract.Hex(),
		"collection_key_hash": hash(e.CollectionKeyHash),
		"offer_type":          strconv.FormatUint(uint64(e.OfferType), 10),
	}
	if e.TokenID != nil {
		attrs["token_id"] = e.TokenID.String()
	}
	if e.TokenRangeMin != nil && e.TokenRangeMax != nil {
		attrs["token_range_min"] = e.TokenRangeMin.String()
		attrs["token_range_max"] = e.TokenRangeMax.String()
	}
	if e.TraitHash != ([32]byte{}) {
		attrs["trait_hash"] = hash(e.TraitHash)
	}
	return &types.Event{Type: TypeOfferRevoked, Attributes: attrs}
}

// PendingTransferQueued is raised when a push payment failed and the amount
// was credited to the recipient's pending balance instead.
type PendingTransferQueued struct {
	Market common.Address
	Wallet common.Address
	Amount *big.Int
	Total  *big.Int
}

func (PendingTransferQueued) EventType() string { return TypePendingTransferQueued }

func (e PendingTransferQueued) Event() *types.Event {
	return &types.Event{Type: TypePendingTransferQueued, Attributes: map[string]string{
		"market": e.Market.Hex(),
		"wallet": e.Wallet.Hex(),
		"amount": amount(e.Amount),
		"total":  amount(e.Total),
	}}
}

type PendingTransferPaid struct {
	Market common.Address
	Wallet common.Address
	Amount *big.Int
}

func (PendingTransferPaid) EventType() string { return TypePendingTransferPaid }

func (e PendingTransferPaid) Event() *types.Event {
	return &types.Event{Type: TypePendingTransferPaid, Attributes: map[string]string{
		"market": e.Market.Hex(),
		"wallet": e.Wallet.Hex(),
		"amount": amount(e.Amount),
	}}
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func hash(h [32]byte) string {
	return withHexPrefix(h[:])
}

func payments(fees []FeePayment) string {
	if fees == nil {
		fees = []FeePayment{}
	}
	encoded, _ := json.Marshal(fees)
	return string(encoded)
}

func withHexPrefix(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	return "0x" + hex.EncodeToString(raw)
}
