package token

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"p2pnfts/core/journal"
)

type punkOffer struct {
	seller     common.Address
	onlySellTo common.Address
	minValue   *big.Int
}

// PunkMarket models the pre-ERC721 punks contract: ownership is indexed by
// punk number and transfers to third parties go through sale offers.
type PunkMarket struct {
	address common.Address
	journal *journal.Journal
	owners  map[uint64]common.Address
	offers  map[uint64]punkOffer
}

func NewPunkMarket(address common.Address, j *journal.Journal) *PunkMarket {
	return &PunkMarket{
		address: address,
		journal: j,
		owners:  make(map[uint64]common.Address),
		offers:  make(map[uint64]punkOffer),
	}
}

func (m *PunkMarket) Address() common.Address { return m.address }

func (m *PunkMarket) Assign(to common.Address, index uint64) error {
	if _, ok := m.owners[index]; ok {
		return ErrTokenExists
	}
	m.setOwner(index, to)
	return nil
}

func (m *PunkMarket) PunkIndexToAddress(index uint64) common.Address {
	return m.owners[index]
}

// OfferPunkForSaleToAddress lists index for sale to a single buyer.
func (m *PunkMarket) OfferPunkForSaleToAddress(caller common.Address, index uint64, minValue *big.Int, to common.Address) error {
	if m.owners[index] != caller || caller == (common.Address{}) {
		return ErrNotTokenOwner
	}
	if minValue == nil {
		minValue = new(big.Int)
	}
	m.setOffer(index, &punkOffer{seller: caller, onlySellTo: to, minValue: new(big.Int).Set(minValue)})
	return nil
}

// PunksOfferedForSale reports the buyer and minimum price of an open offer.
func (m *PunkMarket) PunksOfferedForSale(index uint64) (common.Address, *big.Int, bool) {
	offer, ok := m.offers[index]
	if !ok || offer.seller != m.owners[index] {
		return common.Address{}, nil, false
	}
	return offer.onlySellTo, new(big.Int).Set(offer.minValue), true
}

// BuyPunk completes an open offer. Value is not moved here; callers that pay
// a non-zero price settle it on their payment rail.
func (m *PunkMarket) BuyPunk(buyer common.Address, index uint64, value *big.Int) error {
	onlySellTo, minValue, ok := m.PunksOfferedForSale(index)
	if !ok {
		return ErrPunkNotForSale
	}
	if onlySellTo != (common.Address{}) && onlySellTo != buyer {
		return ErrPunkNotForSale
	}
	if value == nil {
		value = new(big.Int)
	}
	if value.Cmp(minValue) < 0 {
		return ErrPunkNotForSale
	}
	m.setOffer(index, nil)
	m.setOwner(index, buyer)
	return nil
}

func (m *PunkMarket) TransferPunk(caller, to common.Address, index uint64) error {
	if m.owners[index] != caller || caller == (common.Address{}) {
		return ErrNotTokenOwner
	}
	m.setOffer(index, nil)
	m.setOwner(index, to)
	return nil
}

func (m *PunkMarket) setOwner(index uint64, owner common.Address) {
	prev, existed := m.owners[index]
	m.journal.Append(func() {
		if existed {
			m.owners[index] = prev
			return
		}
		delete(m.owners, index)
	})
	m.owners[index] = owner
}

func (m *PunkMarket) setOffer(index uint64, offer *punkOffer) {
	prev, existed := m.offers[index]
	m.journal.Append(func() {
		if existed {
			m.offers[index] = prev
			return
		}
		delete(m.offers, index)
	})
	if offer == nil {
		delete(m.offers, index)
		return
	}
	m.offers[index] = *offer
}
