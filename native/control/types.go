package control

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MaxTraitRootBatch bounds the number of trait roots changed in one call.
const MaxTraitRootBatch = 128

// BrokerLock reserves a token for a broker until Expiration (inclusive).
type BrokerLock struct {
	Broker     common.Address
	Expiration uint64
}

// Live reports whether the lock still binds at now.
func (l BrokerLock) Live(now uint64) bool {
	return l.Broker != (common.Address{}) && now <= l.Expiration
}

// CollateralStatus is the controller's view of one token.
type CollateralStatus struct {
	BrokerLock  BrokerLock
	Whitelisted bool
}

// CollectionContract maps a collection key hash to its contract. A zero
// Contract removes the mapping.
type CollectionContract struct {
	CollectionKeyHash [32]byte
	Contract          common.Address
}

type WhitelistRecord struct {
	Contract    common.Address
	Whitelisted bool
}

type TraitRoot struct {
	CollectionKeyHash [32]byte
	Root              [32]byte
}

// CollateralOwners resolves the current holder of a collateral token.
type CollateralOwners interface {
	OwnerOf(contract common.Address, tokenID *big.Int) (common.Address, error)
}
