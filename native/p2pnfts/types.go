package p2pnfts

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"p2pnfts/core/events"
)

// OfferType is the discriminant of an offer's collateral selector as it
// appears in the signed payload.
type OfferType uint8

const (
	OfferTypeToken      OfferType = 0
	OfferTypeCollection OfferType = 1
	OfferTypeTrait      OfferType = 2
)

func (t OfferType) String() string {
	switch t {
	case OfferTypeToken:
		return "token"
	case OfferTypeCollection:
		return "collection"
	case OfferTypeTrait:
		return "trait"
	default:
		return fmt.Sprintf("offer-type(%d)", uint8(t))
	}
}

// CollateralSelector describes which tokens of a collection an offer accepts.
// The implementations in this package are the only valid selectors.
type CollateralSelector interface {
	OfferType() OfferType
	clone() CollateralSelector
}

// TokenSelector accepts exactly one token id.
type TokenSelector struct {
	TokenID *big.Int
}

func (TokenSelector) OfferType() OfferType { return OfferTypeToken }

func (s TokenSelector) clone() CollateralSelector { return TokenSelector{TokenID: copyBig(s.TokenID)} }

// RangeSelector accepts any token id in [Min, Max].
type RangeSelector struct {
	Min *big.Int
	Max *big.Int
}

func (RangeSelector) OfferType() OfferType { return OfferTypeCollection }

func (s RangeSelector) clone() CollateralSelector {
	return RangeSelector{Min: copyBig(s.Min), Max: copyBig(s.Max)}
}

// TraitSelector accepts tokens proven to carry the trait against the
// collection's trait root.
type TraitSelector struct {
	TraitHash [32]byte
}

func (TraitSelector) OfferType() OfferType { return OfferTypeTrait }

func (s TraitSelector) clone() CollateralSelector { return s }

// Offer is the lender-signed loan proposal.
type Offer struct {
	Principal              *big.Int
	Interest               *big.Int
	PaymentToken           common.Address
	Duration               uint64
	OriginationFeeAmount   *big.Int
	BrokerUpfrontFeeAmount *big.Int
	BrokerSettlementFeeBps uint64
	BrokerAddress          common.Address
	CollectionKeyHash      [32]byte
	Selector               CollateralSelector
	Expiration             uint64
	Lender                 common.Address
	ProRata                bool
	Size                   uint64
}

// Clone returns a deep copy of the offer.
func (o Offer) Clone() Offer {
	out := o
	out.Principal = copyBig(o.Principal)
	out.Interest = copyBig(o.Interest)
	out.OriginationFeeAmount = copyBig(o.OriginationFeeAmount)
	out.BrokerUpfrontFeeAmount = copyBig(o.BrokerUpfrontFeeAmount)
	if o.Selector != nil {
		out.Selector = o.Selector.clone()
	}
	return out
}

// selectorFields flattens the selector into the fixed signing layout. Fields
// that do not apply to the variant are zero.
func (o Offer) selectorFields() (offerType OfferType, tokenID, rangeMin, rangeMax *big.Int, traitHash [32]byte, err error) {
	tokenID, rangeMin, rangeMax = new(big.Int), new(big.Int), new(big.Int)
	switch sel := o.Selector.(type) {
	case TokenSelector:
		return OfferTypeToken, orZero(sel.TokenID), rangeMin, rangeMax, traitHash, nil
	case RangeSelector:
		return OfferTypeCollection, tokenID, orZero(sel.Min), orZero(sel.Max), traitHash, nil
	case TraitSelector:
		return OfferTypeTrait, tokenID, rangeMin, rangeMax, sel.TraitHash, nil
	default:
		return 0, nil, nil, nil, traitHash, ErrInvalidOfferType
	}
}

// Signature is a secp256k1 signature with v in {27, 28}.
type Signature struct {
	V uint8
	R [32]byte
	S [32]byte
}

// SignedOffer pairs an offer with the lender's EIP-712 signature.
type SignedOffer struct {
	Offer     Offer
	Signature Signature
}

// ID returns keccak(v ‖ r ‖ s) with v as a 32-byte word. The id keys usage
// counters and revocations.
func (s SignedOffer) ID() [32]byte {
	var v [32]byte
	v[31] = s.Signature.V
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(v[:], s.Signature.R[:], s.Signature.S[:]))
	return out
}

// FeeType tags the four fee slots of a loan.
type FeeType uint8

const (
	FeeTypeProtocol       FeeType = 1
	FeeTypeOrigination    FeeType = 2
	FeeTypeLenderBroker   FeeType = 4
	FeeTypeBorrowerBroker FeeType = 8
)

// Slot positions in Loan.Fees.
const (
	slotProtocol = iota
	slotOrigination
	slotLenderBroker
	slotBorrowerBroker
)

// Fee is one slot of a loan's fee schedule.
type Fee struct {
	Type          FeeType
	UpfrontAmount *big.Int
	SettlementBps uint64
	Wallet        common.Address
}

func (f Fee) Clone() Fee {
	f.UpfrontAmount = copyBig(f.UpfrontAmount)
	return f
}

// FeePayment is an amount owed to a fee wallet.
type FeePayment struct {
	Type   FeeType
	Wallet common.Address
	Amount *big.Int
}

// Loan is the full loan record. Only its commitment is persisted; callers
// supply the record back on every operation.
type Loan struct {
	ID                 [32]byte
	OfferID            [32]byte
	Amount             *big.Int
	Interest           *big.Int
	PaymentToken       common.Address
	Maturity           uint64
	StartTime          uint64
	Borrower           common.Address
	Lender             common.Address
	CollateralContract common.Address
	CollateralTokenID  *big.Int
	Fees               [4]Fee
	ProRata            bool
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	out := *l
	out.Amount = copyBig(l.Amount)
	out.Interest = copyBig(l.Interest)
	out.CollateralTokenID = copyBig(l.CollateralTokenID)
	for i := range l.Fees {
		out.Fees[i] = l.Fees[i].Clone()
	}
	return &out
}

func (l *Loan) ProtocolFee() Fee       { return l.Fees[slotProtocol] }
func (l *Loan) OriginationFee() Fee    { return l.Fees[slotOrigination] }
func (l *Loan) LenderBrokerFee() Fee   { return l.Fees[slotLenderBroker] }
func (l *Loan) BorrowerBrokerFee() Fee { return l.Fees[slotBorrowerBroker] }

func (l *Loan) terms() events.LoanTerms {
	out := events.LoanTerms{
		ID:                 l.ID,
		Amount:             copyBig(l.Amount),
		Interest:           copyBig(l.Interest),
		PaymentToken:       l.PaymentToken,
		Maturity:           l.Maturity,
		StartTime:          l.StartTime,
		Borrower:           l.Borrower,
		Lender:             l.Lender,
		CollateralContract: l.CollateralContract,
		CollateralTokenID:  copyBig(l.CollateralTokenID),
		ProRata:            l.ProRata,
	}
	for i, fee := range l.Fees {
		out.Fees[i] = events.FeeRecord{
			Type:          uint8(fee.Type),
			UpfrontAmount: copyBig(fee.UpfrontAmount),
			SettlementBps: fee.SettlementBps,
			Wallet:        fee.Wallet,
		}
	}
	return out
}

// BrokerTerms are the borrower broker's fee terms supplied at loan creation.
type BrokerTerms struct {
	UpfrontAmount *big.Int
	SettlementBps uint64
	Wallet        common.Address
}

// BorrowerBrokerPolicy decides what happens to the borrower broker slot when a
// lender replaces a loan.
type BorrowerBrokerPolicy uint8

const (
	// BorrowerBrokerReset clears the slot on the replacement loan.
	BorrowerBrokerReset BorrowerBrokerPolicy = iota
	// BorrowerBrokerCarryForward keeps the wallet and settlement bps. The
	// upfront amount is never charged twice and is zeroed.
	BorrowerBrokerCarryForward
)

func (p BorrowerBrokerPolicy) String() string {
	if p == BorrowerBrokerCarryForward {
		return "carry-forward"
	}
	return "reset"
}

// ParseBorrowerBrokerPolicy accepts the names produced by String. An empty
// value selects BorrowerBrokerReset.
func ParseBorrowerBrokerPolicy(raw string) (BorrowerBrokerPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "reset":
		return BorrowerBrokerReset, nil
	case "carry-forward", "carry_forward", "carryforward":
		return BorrowerBrokerCarryForward, nil
	default:
		return 0, fmt.Errorf("p2pnfts: unknown borrower broker policy %q", raw)
	}
}

// Call carries the caller context of an entry point. OnBehalfOf is set when an
// authorized proxy acts for a user; Value is the native amount attached.
type Call struct {
	Sender     common.Address
	OnBehalfOf common.Address
	Value      *big.Int
}

// CreateLoanRequest bundles the borrower's inputs to CreateLoan.
type CreateLoanRequest struct {
	Offer          SignedOffer
	TokenID        *big.Int
	Proof          [][32]byte
	Delegate       common.Address
	BorrowerBroker BrokerTerms
}

// ReplaceLoanRequest bundles the lender's inputs to ReplaceLoanLender.
type ReplaceLoanRequest struct {
	Loan  *Loan
	Offer SignedOffer
	Proof [][32]byte
}

// ReplacementSettlement is the breakdown of a lender replacement. Deltas are
// signed: positive amounts are paid to the party, negative amounts are owed.
type ReplacementSettlement struct {
	Interest             *big.Int
	SettlementFees       []FeePayment
	ProtocolUpfront      *big.Int
	LenderBrokerUpfront  *big.Int
	UpfrontFees          *big.Int
	MaxInterestDelta     *big.Int
	BorrowerCompensation *big.Int
	BorrowerDelta        *big.Int
	OldLenderDelta       *big.Int
	NewLenderDelta       *big.Int
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
