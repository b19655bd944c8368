package p2pnfts

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"p2pnfts/crypto"
	"p2pnfts/crypto/merkle"
)

func testKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.PrivateKeyFromHex("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	return key
}

func baseOffer(lender common.Address) Offer {
	return Offer{
		Principal:              big.NewInt(1000),
		Interest:               big.NewInt(100),
		PaymentToken:           usdcAddr,
		Duration:               86400,
		OriginationFeeAmount:   big.NewInt(10),
		BrokerUpfrontFeeAmount: big.NewInt(5),
		BrokerSettlementFeeBps: 300,
		BrokerAddress:          lenderBroker,
		CollectionKeyHash:      baycKey,
		Selector:               TokenSelector{TokenID: big.NewInt(1)},
		Expiration:             1_800_000_000,
		Lender:                 lender,
		Size:                   2,
	}
}

func TestSignedOfferRecoversLender(t *testing.T) {
	key := testKey(t)
	signed, err := SignOffer(baseOffer(key.Address()), key, marketAddr, chainID)
	require.NoError(t, err)
	require.Contains(t, []uint8{27, 28}, signed.Signature.V)

	signer, err := VerifyOffer(signed, marketAddr, chainID)
	require.NoError(t, err)
	require.Equal(t, key.Address(), signer)
}

func TestSignatureBoundToDomain(t *testing.T) {
	key := testKey(t)
	signed, err := SignOffer(baseOffer(key.Address()), key, marketAddr, chainID)
	require.NoError(t, err)

	_, err = VerifyOffer(signed, common.HexToAddress("0xbeef"), chainID)
	require.ErrorIs(t, err, ErrSignatureInvalid)
	_, err = VerifyOffer(signed, marketAddr, big.NewInt(5))
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestOfferMutationInvalidatesSignature(t *testing.T) {
	key := testKey(t)
	mutations := map[string]func(*Offer){
		"principal":                 func(o *Offer) { o.Principal = big.NewInt(1001) },
		"interest":                  func(o *Offer) { o.Interest = big.NewInt(101) },
		"payment_token":             func(o *Offer) { o.PaymentToken = common.Address{} },
		"duration":                  func(o *Offer) { o.Duration++ },
		"origination_fee_amount":    func(o *Offer) { o.OriginationFeeAmount = big.NewInt(11) },
		"broker_upfront_fee_amount": func(o *Offer) { o.BrokerUpfrontFeeAmount = big.NewInt(6) },
		"broker_settlement_fee_bps": func(o *Offer) { o.BrokerSettlementFeeBps++ },
		"broker_address":            func(o *Offer) { o.BrokerAddress = borrowerBroker },
		"offer_type":                func(o *Offer) { o.Selector = RangeSelector{Min: big.NewInt(1), Max: big.NewInt(0)} },
		"token_id":                  func(o *Offer) { o.Selector = TokenSelector{TokenID: big.NewInt(2)} },
		"collection_key_hash":       func(o *Offer) { o.CollectionKeyHash = punkKey },
		"expiration":                func(o *Offer) { o.Expiration++ },
		"lender":                    func(o *Offer) { o.Lender = random },
		"pro_rata":                  func(o *Offer) { o.ProRata = true },
		"size":                      func(o *Offer) { o.Size++ },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			signed, err := SignOffer(baseOffer(key.Address()), key, marketAddr, chainID)
			require.NoError(t, err)
			mutate(&signed.Offer)
			_, err = VerifyOffer(signed, marketAddr, chainID)
			require.ErrorIs(t, err, ErrSignatureInvalid)
		})
	}
}

func TestRangeAndTraitFieldsAreSigned(t *testing.T) {
	key := testKey(t)
	rangeOffer := baseOffer(key.Address())
	rangeOffer.Selector = RangeSelector{Min: big.NewInt(10), Max: big.NewInt(20)}
	traitOffer := baseOffer(key.Address())
	traitOffer.Selector = TraitSelector{TraitHash: [32]byte{1}}

	cases := map[string]struct {
		offer  Offer
		mutate func(*Offer)
	}{
		"token_range_min": {rangeOffer, func(o *Offer) { o.Selector = RangeSelector{Min: big.NewInt(11), Max: big.NewInt(20)} }},
		"token_range_max": {rangeOffer, func(o *Offer) { o.Selector = RangeSelector{Min: big.NewInt(10), Max: big.NewInt(21)} }},
		"trait_hash":      {traitOffer, func(o *Offer) { o.Selector = TraitSelector{TraitHash: [32]byte{2}} }},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			signed, err := SignOffer(tc.offer, key, marketAddr, chainID)
			require.NoError(t, err)
			_, err = VerifyOffer(signed, marketAddr, chainID)
			require.NoError(t, err)
			tc.mutate(&signed.Offer)
			_, err = VerifyOffer(signed, marketAddr, chainID)
			require.ErrorIs(t, err, ErrSignatureInvalid)
		})
	}
}

func TestOfferWithoutSelectorCannotBeSigned(t *testing.T) {
	key := testKey(t)
	offer := baseOffer(key.Address())
	offer.Selector = nil
	_, err := SignOffer(offer, key, marketAddr, chainID)
	require.ErrorIs(t, err, ErrInvalidOfferType)
}

func TestOfferIDHashesSignatureWords(t *testing.T) {
	signed := SignedOffer{Signature: Signature{V: 27, R: [32]byte{1}, S: [32]byte{2}}}
	var v [32]byte
	v[31] = 27
	expected := ethcrypto.Keccak256Hash(v[:], signed.Signature.R[:], signed.Signature.S[:])
	require.Equal(t, [32]byte(expected), signed.ID())
}

func TestCheckUsable(t *testing.T) {
	offer := Offer{Expiration: 1_000, Size: 2}
	require.NoError(t, CheckUsable(offer, 999, 1, false))
	require.ErrorIs(t, CheckUsable(offer, 1_000, 0, false), ErrOfferExpired)
	require.ErrorIs(t, CheckUsable(offer, 999, 0, true), ErrOfferRevoked)
	require.ErrorIs(t, CheckUsable(offer, 999, 2, false), ErrOfferFullyUtilized)
}

func TestCheckCollateralMatch(t *testing.T) {
	t.Run("token", func(t *testing.T) {
		offer := Offer{Selector: TokenSelector{TokenID: big.NewInt(7)}}
		require.NoError(t, CheckCollateralMatch(offer, baycAddr, big.NewInt(7), nil, [32]byte{}))
		require.ErrorIs(t, CheckCollateralMatch(offer, baycAddr, big.NewInt(8), nil, [32]byte{}), ErrTokenIDNotInOffer)
	})
	t.Run("range", func(t *testing.T) {
		offer := Offer{Selector: RangeSelector{Min: big.NewInt(10), Max: big.NewInt(20)}}
		require.NoError(t, CheckCollateralMatch(offer, baycAddr, big.NewInt(10), nil, [32]byte{}))
		require.NoError(t, CheckCollateralMatch(offer, baycAddr, big.NewInt(20), nil, [32]byte{}))
		require.ErrorIs(t, CheckCollateralMatch(offer, baycAddr, big.NewInt(9), nil, [32]byte{}), ErrTokenIDBelowRange)
		require.ErrorIs(t, CheckCollateralMatch(offer, baycAddr, big.NewInt(21), nil, [32]byte{}), ErrTokenIDAboveRange)
	})
	t.Run("trait", func(t *testing.T) {
		trait, err := merkle.TraitHash("fur", "gold")
		require.NoError(t, err)
		other, err := merkle.TraitHash("fur", "red")
		require.NoError(t, err)
		tree, err := merkle.FromLeaves([]merkle.Leaf{
			{Contract: baycAddr, TraitHash: trait, TokenID: big.NewInt(1)},
			{Contract: baycAddr, TraitHash: trait, TokenID: big.NewInt(5)},
			{Contract: baycAddr, TraitHash: other, TokenID: big.NewInt(2)},
		})
		require.NoError(t, err)
		leaf, err := merkle.LeafHash(baycAddr, trait, big.NewInt(5))
		require.NoError(t, err)
		proof, err := tree.Proof(leaf)
		require.NoError(t, err)

		offer := Offer{Selector: TraitSelector{TraitHash: trait}}
		require.NoError(t, CheckCollateralMatch(offer, baycAddr, big.NewInt(5), proof, tree.Root()))
		require.ErrorIs(t, CheckCollateralMatch(offer, baycAddr, big.NewInt(2), proof, tree.Root()), ErrProofInvalid)
		require.ErrorIs(t, CheckCollateralMatch(offer, punkAddr, big.NewInt(5), proof, tree.Root()), ErrProofInvalid)
		require.ErrorIs(t, CheckCollateralMatch(offer, baycAddr, big.NewInt(5), proof, [32]byte{}), ErrProofInvalid)
	})
}

func TestCheckOfferEconomics(t *testing.T) {
	offer := baseOffer(random)
	require.NoError(t, checkOfferEconomics(offer))

	tooHigh := offer.Clone()
	tooHigh.OriginationFeeAmount = big.NewInt(1001)
	require.ErrorIs(t, checkOfferEconomics(tooHigh), ErrOriginationFeeExceedsPrincipal)

	noBroker := offer.Clone()
	noBroker.BrokerAddress = common.Address{}
	require.ErrorIs(t, checkOfferEconomics(noBroker), ErrBrokerFeeWithoutAddress)
	noBroker.BrokerUpfrontFeeAmount = new(big.Int)
	require.ErrorIs(t, checkOfferEconomics(noBroker), ErrBrokerFeeWithoutAddress)
	noBroker.BrokerSettlementFeeBps = 0
	require.NoError(t, checkOfferEconomics(noBroker))

	huge := offer.Clone()
	huge.Principal = new(big.Int).Lsh(big.NewInt(1), 256)
	require.Error(t, checkOfferEconomics(huge))
}

func TestOfferCloneIsDeep(t *testing.T) {
	offer := baseOffer(random)
	offer.Selector = RangeSelector{Min: big.NewInt(1), Max: big.NewInt(2)}
	clone := offer.Clone()
	clone.Principal.SetInt64(5)
	clone.Selector.(RangeSelector).Max.SetInt64(9)
	requireAmount(t, 1000, offer.Principal)
	requireAmount(t, 2, offer.Selector.(RangeSelector).Max)
}
