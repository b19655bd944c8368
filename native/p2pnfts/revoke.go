package p2pnfts

import (
	"github.com/ethereum/go-ethereum/common"

	"p2pnfts/core/events"
)

// RevokeOffer permanently disables a signed offer. Only its lender may revoke
// it and only while it has not expired.
func (e *Engine) RevokeOffer(call Call, signed SignedOffer) error {
	return e.run("revoke_offer", func(now uint64) error {
		actor, err := e.actor(call, ErrNotLender)
		if err != nil {
			return err
		}
		offer := signed.Offer
		if actor != offer.Lender {
			return ErrNotLender
		}
		if err := e.acceptValue(call, nil); err != nil {
			return err
		}
		if _, err := VerifyOffer(signed, e.cfg.Address, e.cfg.ChainID); err != nil {
			return err
		}
		if offer.Expiration <= now {
			return ErrOfferExpired
		}
		id := signed.ID()
		revoked, err := e.state.OfferRevoked(id)
		if err != nil {
			return err
		}
		if revoked {
			return ErrOfferAlreadyRevoked
		}
		if err := e.state.SetOfferRevoked(id); err != nil {
			return err
		}

		var contract common.Address
		if e.gateway != nil {
			if contract, err = e.gateway.ContractFor(offer.CollectionKeyHash); err != nil {
				return err
			}
		}
		offerType, tokenID, rangeMin, rangeMax, traitHash, err := offer.selectorFields()
		if err != nil {
			return err
		}
		e.buffer.Emit(events.OfferRevoked{
			Market:             e.cfg.Address,
			OfferID:            id,
			Lender:             offer.Lender,
			CollateralContract: contract,
			CollectionKeyHash:  offer.CollectionKeyHash,
			OfferType:          uint8(offerType),
			TokenID:            tokenID,
			TokenRangeMin:      rangeMin,
			TokenRangeMax:      rangeMax,
			TraitHash:          traitHash,
		})
		return nil
	})
}
