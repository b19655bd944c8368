package p2pnftsd

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"p2pnfts/crypto"
	"p2pnfts/native/p2pnfts"
)

// Amounts travel as base-unit decimal strings and hashes as 0x-prefixed hex.

type SignatureJSON struct {
	V uint8  `json:"v"`
	R string `json:"r"`
	S string `json:"s"`
}

type OfferJSON struct {
	Principal              string `json:"principal"`
	Interest               string `json:"interest"`
	PaymentToken           string `json:"payment_token"`
	Duration               uint64 `json:"duration"`
	OriginationFeeAmount   string `json:"origination_fee_amount,omitempty"`
	BrokerUpfrontFeeAmount string `json:"broker_upfront_fee_amount,omitempty"`
	BrokerSettlementFeeBps uint64 `json:"broker_settlement_fee_bps,omitempty"`
	BrokerAddress          string `json:"broker_address,omitempty"`
	CollectionKeyHash      string `json:"collection_key_hash"`
	OfferType              string `json:"offer_type"`
	TokenID                string `json:"token_id,omitempty"`
	TokenRangeMin          string `json:"token_range_min,omitempty"`
	TokenRangeMax          string `json:"token_range_max,omitempty"`
	TraitHash              string `json:"trait_hash,omitempty"`
	Expiration             uint64 `json:"expiration"`
	Lender                 string `json:"lender"`
	ProRata                bool   `json:"pro_rata"`
	Size                   uint64 `json:"size"`
}

type SignedOfferJSON struct {
	Offer     OfferJSON     `json:"offer"`
	Signature SignatureJSON `json:"signature"`
}

type FeeJSON struct {
	Type          uint8  `json:"type"`
	UpfrontAmount string `json:"upfront_amount"`
	SettlementBps uint64 `json:"settlement_bps"`
	Wallet        string `json:"wallet"`
}

type LoanJSON struct {
	ID                 string     `json:"id"`
	OfferID            string     `json:"offer_id"`
	Amount             string     `json:"amount"`
	Interest           string     `json:"interest"`
	PaymentToken       string     `json:"payment_token"`
	Maturity           uint64     `json:"maturity"`
	StartTime          uint64     `json:"start_time"`
	Borrower           string     `json:"borrower"`
	Lender             string     `json:"lender"`
	CollateralContract string     `json:"collateral_contract"`
	CollateralTokenID  string     `json:"collateral_token_id"`
	Fees               [4]FeeJSON `json:"fees"`
	ProRata            bool       `json:"pro_rata"`
}

type BrokerTermsJSON struct {
	UpfrontAmount string `json:"upfront_amount,omitempty"`
	SettlementBps uint64 `json:"settlement_bps,omitempty"`
	Wallet        string `json:"wallet,omitempty"`
}

type FeePaymentJSON struct {
	Type   uint8  `json:"type"`
	Wallet string `json:"wallet"`
	Amount string `json:"amount"`
}

type QuoteJSON struct {
	Interest             string           `json:"interest"`
	SettlementFees       []FeePaymentJSON `json:"settlement_fees"`
	ProtocolUpfront      string           `json:"protocol_upfront"`
	LenderBrokerUpfront  string           `json:"lender_broker_upfront"`
	UpfrontFees          string           `json:"upfront_fees"`
	MaxInterestDelta     string           `json:"max_interest_delta"`
	BorrowerCompensation string           `json:"borrower_compensation"`
	BorrowerDelta        string           `json:"borrower_delta"`
	OldLenderDelta       string           `json:"old_lender_delta"`
	NewLenderDelta       string           `json:"new_lender_delta"`
}

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func parseAddress(field, raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, nil
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return common.Address{}, badRequest("%s: %v", field, err)
	}
	return addr, nil
}

// parseAmount decodes a non-negative base-unit integer. Empty means zero.
func parseAmount(field, raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, badRequest("%s: invalid amount %q", field, raw)
	}
	return v, nil
}

func parseHash(field, raw string) ([32]byte, error) {
	var out [32]byte
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	b, err := hexutil.Decode(strings.TrimSpace(raw))
	if err != nil || len(b) != len(out) {
		return out, badRequest("%s: want 32-byte hex", field)
	}
	copy(out[:], b)
	return out, nil
}

func parseProof(raw []string) ([][32]byte, error) {
	out := make([][32]byte, 0, len(raw))
	for i, node := range raw {
		h, err := parseHash(fmt.Sprintf("proof[%d]", i), node)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func hashHex(h [32]byte) string { return hexutil.Encode(h[:]) }

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func addressHex(addr common.Address) string {
	if addr == (common.Address{}) {
		return ""
	}
	return addr.Hex()
}

// OfferToJSON renders an offer in its wire form.
func OfferToJSON(o p2pnfts.Offer) OfferJSON {
	out := OfferJSON{
		Principal:              amountString(o.Principal),
		Interest:               amountString(o.Interest),
		PaymentToken:           addressHex(o.PaymentToken),
		Duration:               o.Duration,
		OriginationFeeAmount:   amountString(o.OriginationFeeAmount),
		BrokerUpfrontFeeAmount: amountString(o.BrokerUpfrontFeeAmount),
		BrokerSettlementFeeBps: o.BrokerSettlementFeeBps,
		BrokerAddress:          addressHex(o.BrokerAddress),
		CollectionKeyHash:      hashHex(o.CollectionKeyHash),
		Expiration:             o.Expiration,
		Lender:                 o.Lender.Hex(),
		ProRata:                o.ProRata,
		Size:                   o.Size,
	}
	switch sel := o.Selector.(type) {
	case p2pnfts.TokenSelector:
		out.OfferType = p2pnfts.OfferTypeToken.String()
		out.TokenID = amountString(sel.TokenID)
	case p2pnfts.RangeSelector:
		out.OfferType = p2pnfts.OfferTypeCollection.String()
		out.TokenRangeMin = amountString(sel.Min)
		out.TokenRangeMax = amountString(sel.Max)
	case p2pnfts.TraitSelector:
		out.OfferType = p2pnfts.OfferTypeTrait.String()
		out.TraitHash = hashHex(sel.TraitHash)
	}
	return out
}

// Offer decodes the wire form.
func (j OfferJSON) Offer() (p2pnfts.Offer, error) {
	var (
		o   p2pnfts.Offer
		err error
	)
	if o.Principal, err = parseAmount("principal", j.Principal); err != nil {
		return o, err
	}
	if o.Interest, err = parseAmount("interest", j.Interest); err != nil {
		return o, err
	}
	if o.PaymentToken, err = parseAddress("payment_token", j.PaymentToken); err != nil {
		return o, err
	}
	if o.OriginationFeeAmount, err = parseAmount("origination_fee_amount", j.OriginationFeeAmount); err != nil {
		return o, err
	}
	if o.BrokerUpfrontFeeAmount, err = parseAmount("broker_upfront_fee_amount", j.BrokerUpfrontFeeAmount); err != nil {
		return o, err
	}
	if o.BrokerAddress, err = parseAddress("broker_address", j.BrokerAddress); err != nil {
		return o, err
	}
	if o.CollectionKeyHash, err = parseHash("collection_key_hash", j.CollectionKeyHash); err != nil {
		return o, err
	}
	if o.Lender, err = parseAddress("lender", j.Lender); err != nil {
		return o, err
	}
	o.Duration = j.Duration
	o.BrokerSettlementFeeBps = j.BrokerSettlementFeeBps
	o.Expiration = j.Expiration
	o.ProRata = j.ProRata
	o.Size = j.Size

	switch strings.ToLower(strings.TrimSpace(j.OfferType)) {
	case p2pnfts.OfferTypeToken.String():
		id, err := parseAmount("token_id", j.TokenID)
		if err != nil {
			return o, err
		}
		o.Selector = p2pnfts.TokenSelector{TokenID: id}
	case p2pnfts.OfferTypeCollection.String():
		lo, err := parseAmount("token_range_min", j.TokenRangeMin)
		if err != nil {
			return o, err
		}
		hi, err := parseAmount("token_range_max", j.TokenRangeMax)
		if err != nil {
			return o, err
		}
		o.Selector = p2pnfts.RangeSelector{Min: lo, Max: hi}
	case p2pnfts.OfferTypeTrait.String():
		h, err := parseHash("trait_hash", j.TraitHash)
		if err != nil {
			return o, err
		}
		o.Selector = p2pnfts.TraitSelector{TraitHash: h}
	default:
		return o, fmt.Errorf("%w: %q", p2pnfts.ErrInvalidOfferType, j.OfferType)
	}
	return o, nil
}

func SignedOfferToJSON(s p2pnfts.SignedOffer) SignedOfferJSON {
	return SignedOfferJSON{
		Offer: OfferToJSON(s.Offer),
		Signature: SignatureJSON{
			V: s.Signature.V,
			R: hashHex(s.Signature.R),
			S: hashHex(s.Signature.S),
		},
	}
}

func (j SignedOfferJSON) SignedOffer() (p2pnfts.SignedOffer, error) {
	offer, err := j.Offer.Offer()
	if err != nil {
		return p2pnfts.SignedOffer{}, err
	}
	out := p2pnfts.SignedOffer{Offer: offer, Signature: p2pnfts.Signature{V: j.Signature.V}}
	if out.Signature.R, err = parseHash("signature.r", j.Signature.R); err != nil {
		return out, err
	}
	if out.Signature.S, err = parseHash("signature.s", j.Signature.S); err != nil {
		return out, err
	}
	return out, nil
}

func LoanToJSON(l *p2pnfts.Loan) LoanJSON {
	out := LoanJSON{
		ID:                 hashHex(l.ID),
		OfferID:            hashHex(l.OfferID),
		Amount:             amountString(l.Amount),
		Interest:           amountString(l.Interest),
		PaymentToken:       l.PaymentToken.Hex(),
		Maturity:           l.Maturity,
		StartTime:          l.StartTime,
		Borrower:           l.Borrower.Hex(),
		Lender:             l.Lender.Hex(),
		CollateralContract: l.CollateralContract.Hex(),
		CollateralTokenID:  amountString(l.CollateralTokenID),
		ProRata:            l.ProRata,
	}
	for i, fee := range l.Fees {
		out.Fees[i] = FeeJSON{
			Type:          uint8(fee.Type),
			UpfrontAmount: amountString(fee.UpfrontAmount),
			SettlementBps: fee.SettlementBps,
			Wallet:        fee.Wallet.Hex(),
		}
	}
	return out
}

func (j LoanJSON) Loan() (*p2pnfts.Loan, error) {
	l := &p2pnfts.Loan{Maturity: j.Maturity, StartTime: j.StartTime, ProRata: j.ProRata}
	var err error
	if l.ID, err = parseHash("id", j.ID); err != nil {
		return nil, err
	}
	if l.OfferID, err = parseHash("offer_id", j.OfferID); err != nil {
		return nil, err
	}
	if l.Amount, err = parseAmount("amount", j.Amount); err != nil {
		return nil, err
	}
	if l.Interest, err = parseAmount("interest", j.Interest); err != nil {
		return nil, err
	}
	if l.PaymentToken, err = parseAddress("payment_token", j.PaymentToken); err != nil {
		return nil, err
	}
	if l.Borrower, err = parseAddress("borrower", j.Borrower); err != nil {
		return nil, err
	}
	if l.Lender, err = parseAddress("lender", j.Lender); err != nil {
		return nil, err
	}
	if l.CollateralContract, err = parseAddress("collateral_contract", j.CollateralContract); err != nil {
		return nil, err
	}
	if l.CollateralTokenID, err = parseAmount("collateral_token_id", j.CollateralTokenID); err != nil {
		return nil, err
	}
	for i, fee := range j.Fees {
		upfront, err := parseAmount(fmt.Sprintf("fees[%d].upfront_amount", i), fee.UpfrontAmount)
		if err != nil {
			return nil, err
		}
		wallet, err := parseAddress(fmt.Sprintf("fees[%d].wallet", i), fee.Wallet)
		if err != nil {
			return nil, err
		}
		l.Fees[i] = p2pnfts.Fee{
			Type:          p2pnfts.FeeType(fee.Type),
			UpfrontAmount: upfront,
			SettlementBps: fee.SettlementBps,
			Wallet:        wallet,
		}
	}
	return l, nil
}

func (j BrokerTermsJSON) terms() (p2pnfts.BrokerTerms, error) {
	upfront, err := parseAmount("borrower_broker.upfront_amount", j.UpfrontAmount)
	if err != nil {
		return p2pnfts.BrokerTerms{}, err
	}
	wallet, err := parseAddress("borrower_broker.wallet", j.Wallet)
	if err != nil {
		return p2pnfts.BrokerTerms{}, err
	}
	return p2pnfts.BrokerTerms{UpfrontAmount: upfront, SettlementBps: j.SettlementBps, Wallet: wallet}, nil
}

func quoteToJSON(q p2pnfts.ReplacementSettlement) QuoteJSON {
	out := QuoteJSON{
		Interest:             amountString(q.Interest),
		SettlementFees:       make([]FeePaymentJSON, 0, len(q.SettlementFees)),
		ProtocolUpfront:      amountString(q.ProtocolUpfront),
		LenderBrokerUpfront:  amountString(q.LenderBrokerUpfront),
		UpfrontFees:          amountString(q.UpfrontFees),
		MaxInterestDelta:     amountString(q.MaxInterestDelta),
		BorrowerCompensation: amountString(q.BorrowerCompensation),
		BorrowerDelta:        amountString(q.BorrowerDelta),
		OldLenderDelta:       amountString(q.OldLenderDelta),
		NewLenderDelta:       amountString(q.NewLenderDelta),
	}
	for _, p := range q.SettlementFees {
		out.SettlementFees = append(out.SettlementFees, FeePaymentJSON{Type: uint8(p.Type), Wallet: p.Wallet.Hex(), Amount: amountString(p.Amount)})
	}
	return out
}

// CallJSON is the caller context shared by every mutating request. Sender
// defaults to the token subject when auth is enabled.
type CallJSON struct {
	Sender     string `json:"sender"`
	OnBehalfOf string `json:"on_behalf_of,omitempty"`
	Value      string `json:"value,omitempty"`
}

type createLoanRequest struct {
	CallJSON
	Offer          SignedOfferJSON `json:"offer"`
	TokenID        string          `json:"token_id"`
	Proof          []string        `json:"proof,omitempty"`
	Delegate       string          `json:"delegate,omitempty"`
	BorrowerBroker BrokerTermsJSON `json:"borrower_broker"`
}

type loanRequest struct {
	CallJSON
	Loan LoanJSON `json:"loan"`
}

type replaceRequest struct {
	CallJSON
	Loan  LoanJSON        `json:"loan"`
	Offer SignedOfferJSON `json:"offer"`
	Proof []string        `json:"proof,omitempty"`
}

type quoteRequest struct {
	Loan  LoanJSON  `json:"loan"`
	Offer OfferJSON `json:"offer"`
}

type revokeRequest struct {
	CallJSON
	Offer SignedOfferJSON `json:"offer"`
}

type offerIDRequest struct {
	Offer SignedOfferJSON `json:"offer"`
}

type protocolFeeRequest struct {
	CallJSON
	UpfrontBps    uint64 `json:"upfront_bps"`
	SettlementBps uint64 `json:"settlement_bps"`
}

type walletRequest struct {
	CallJSON
	Wallet string `json:"wallet"`
}

type proxyRequest struct {
	CallJSON
	Proxy   string `json:"proxy"`
	Allowed bool   `json:"allowed"`
}

type proposeOwnerRequest struct {
	CallJSON
	Proposed string `json:"proposed"`
}

type collectionContractJSON struct {
	CollectionKeyHash string `json:"collection_key_hash"`
	Contract          string `json:"contract"`
}

type contractsRequest struct {
	CallJSON
	Changes []collectionContractJSON `json:"changes"`
}

type whitelistRecordJSON struct {
	Contract    string `json:"contract"`
	Whitelisted bool   `json:"whitelisted"`
}

type whitelistRequest struct {
	CallJSON
	Records []whitelistRecordJSON `json:"records"`
}

type traitRootJSON struct {
	CollectionKeyHash string `json:"collection_key_hash"`
	Root              string `json:"root"`
}

type traitRootsRequest struct {
	CallJSON
	Roots []traitRootJSON `json:"roots"`
}

type maxLockRequest struct {
	CallJSON
	Duration uint64 `json:"duration"`
}

type brokerLockRequest struct {
	CallJSON
	Contract   string `json:"contract"`
	TokenID    string `json:"token_id"`
	Broker     string `json:"broker,omitempty"`
	Expiration uint64 `json:"expiration,omitempty"`
}

type mintRequest struct {
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type approveRequest struct {
	Asset   string `json:"asset"`
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type nftRequest struct {
	Collection string `json:"collection"`
	Owner      string `json:"owner"`
	TokenID    string `json:"token_id"`
	Market     string `json:"market,omitempty"`
}
