package p2pnfts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"

	"p2pnfts/crypto"
	"p2pnfts/crypto/merkle"
)

const (
	domainName    = "Zharta"
	domainVersion = "1"
)

var offerTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Offer": {
		{Name: "principal", Type: "uint256"},
		{Name: "interest", Type: "uint256"},
		{Name: "payment_token", Type: "address"},
		{Name: "duration", Type: "uint256"},
		{Name: "origination_fee_amount", Type: "uint256"},
		{Name: "broker_upfront_fee_amount", Type: "uint256"},
		{Name: "broker_settlement_fee_bps", Type: "uint256"},
		{Name: "broker_address", Type: "address"},
		{Name: "offer_type", Type: "uint8"},
		{Name: "token_id", Type: "uint256"},
		{Name: "token_range_min", Type: "uint256"},
		{Name: "token_range_max", Type: "uint256"},
		{Name: "collection_key_hash", Type: "bytes32"},
		{Name: "trait_hash", Type: "bytes32"},
		{Name: "expiration", Type: "uint256"},
		{Name: "lender", Type: "address"},
		{Name: "pro_rata", Type: "bool"},
		{Name: "size", Type: "uint256"},
	},
}

// TypedData returns the EIP-712 document a lender signs for offer.
func TypedData(offer Offer, verifyingContract common.Address, chainID *big.Int) (apitypes.TypedData, error) {
	if chainID == nil {
		return apitypes.TypedData{}, errNilChainID
	}
	offerType, tokenID, rangeMin, rangeMax, traitHash, err := offer.selectorFields()
	if err != nil {
		return apitypes.TypedData{}, err
	}
	return apitypes.TypedData{
		Types:       offerTypes,
		PrimaryType: "Offer",
		Domain: apitypes.TypedDataDomain{
			Name:              domainName,
			Version:           domainVersion,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
			VerifyingContract: verifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"principal":                 orZero(offer.Principal),
			"interest":                  orZero(offer.Interest),
			"payment_token":             offer.PaymentToken.Hex(),
			"duration":                  new(big.Int).SetUint64(offer.Duration),
			"origination_fee_amount":    orZero(offer.OriginationFeeAmount),
			"broker_upfront_fee_amount": orZero(offer.BrokerUpfrontFeeAmount),
			"broker_settlement_fee_bps": new(big.Int).SetUint64(offer.BrokerSettlementFeeBps),
			"broker_address":            offer.BrokerAddress.Hex(),
			"offer_type":                big.NewInt(int64(offerType)),
			"token_id":                  tokenID,
			"token_range_min":           rangeMin,
			"token_range_max":           rangeMax,
			"collection_key_hash":       hexutil.Encode(offer.CollectionKeyHash[:]),
			"trait_hash":                hexutil.Encode(traitHash[:]),
			"expiration":                new(big.Int).SetUint64(offer.Expiration),
			"lender":                    offer.Lender.Hex(),
			"pro_rata":                  offer.ProRata,
			"size":                      new(big.Int).SetUint64(offer.Size),
		},
	}, nil
}

// SigningHash returns the EIP-712 digest of offer for the market at
// verifyingContract on chainID.
func SigningHash(offer Offer, verifyingContract common.Address, chainID *big.Int) ([32]byte, error) {
	td, err := TypedData(offer, verifyingContract, chainID)
	if err != nil {
		return [32]byte{}, err
	}
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return [32]byte{}, fmt.Errorf("p2pnfts: hash offer: %w", err)
	}
	var out [32]byte
	copy(out[:], digest)
	return out, nil
}

// SignOffer signs offer with key for the given market.
func SignOffer(offer Offer, key *crypto.PrivateKey, verifyingContract common.Address, chainID *big.Int) (SignedOffer, error) {
	digest, err := SigningHash(offer, verifyingContract, chainID)
	if err != nil {
		return SignedOffer{}, err
	}
	v, r, s, err := key.SignHash(digest)
	if err != nil {
		return SignedOffer{}, err
	}
	return SignedOffer{Offer: offer.Clone(), Signature: Signature{V: v, R: r, S: s}}, nil
}

// VerifyOffer recovers the signer of signed and checks it is the offer's
// lender.
func VerifyOffer(signed SignedOffer, verifyingContract common.Address, chainID *big.Int) (common.Address, error) {
	digest, err := SigningHash(signed.Offer, verifyingContract, chainID)
	if err != nil {
		return common.Address{}, err
	}
	signer, err := crypto.RecoverAddress(digest, signed.Signature.V, signed.Signature.R, signed.Signature.S)
	if err != nil || signer != signed.Offer.Lender {
		return common.Address{}, ErrSignatureInvalid
	}
	return signer, nil
}

// CheckUsable rejects offers that are expired at now, revoked, or whose usage
// has reached their size. An offer is usable strictly before its expiration.
func CheckUsable(offer Offer, now, usage uint64, revoked bool) error {
	if offer.Expiration <= now {
		return ErrOfferExpired
	}
	if revoked {
		return ErrOfferRevoked
	}
	if usage >= offer.Size {
		return ErrOfferFullyUtilized
	}
	return nil
}

// CheckCollateralMatch verifies tokenID of contract against the offer's
// selector. Trait offers need a proof against traitRoot.
func CheckCollateralMatch(offer Offer, contract common.Address, tokenID *big.Int, proof [][32]byte, traitRoot [32]byte) error {
	if tokenID == nil || tokenID.Sign() < 0 {
		return ErrTokenIDNotInOffer
	}
	switch sel := offer.Selector.(type) {
	case TokenSelector:
		if sel.TokenID == nil || sel.TokenID.Cmp(tokenID) != 0 {
			return ErrTokenIDNotInOffer
		}
	case RangeSelector:
		if sel.Min != nil && tokenID.Cmp(sel.Min) < 0 {
			return ErrTokenIDBelowRange
		}
		if sel.Max == nil || tokenID.Cmp(sel.Max) > 0 {
			return ErrTokenIDAboveRange
		}
	case TraitSelector:
		leaf, err := merkle.LeafHash(contract, sel.TraitHash, tokenID)
		if err != nil {
			return ErrProofInvalid
		}
		if !merkle.Verify(traitRoot, proof, leaf) {
			return ErrProofInvalid
		}
	default:
		return ErrInvalidOfferType
	}
	return nil
}

// checkOfferEconomics enforces the amount invariants of an offer before it
// can back a loan.
func checkOfferEconomics(offer Offer) error {
	for _, v := range []*big.Int{offer.Principal, offer.Interest, offer.OriginationFeeAmount, offer.BrokerUpfrontFeeAmount} {
		if err := checkUint256(v); err != nil {
			return err
		}
	}
	if orZero(offer.OriginationFeeAmount).Cmp(orZero(offer.Principal)) > 0 {
		return ErrOriginationFeeExceedsPrincipal
	}
	if hasBrokerFee(offer.BrokerUpfrontFeeAmount, offer.BrokerSettlementFeeBps) && offer.BrokerAddress == (common.Address{}) {
		return ErrBrokerFeeWithoutAddress
	}
	return nil
}

func hasBrokerFee(upfront *big.Int, bps uint64) bool {
	return bps > 0 || (upfront != nil && upfront.Sign() > 0)
}

func checkUint256(v *big.Int) error {
	if v == nil {
		return nil
	}
	if v.Sign() < 0 {
		return errAmountRange
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return errAmountRange
	}
	return nil
}
