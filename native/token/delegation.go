package token

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"p2pnfts/core/journal"
)

type delegationKey struct {
	vault    common.Address
	delegate common.Address
	contract common.Address
	tokenID  string
	rights   [32]byte
}

// DelegationRegistry records which wallets may act for a vault on a specific
// token, in the manner of the delegate.xyz v2 registry.
type DelegationRegistry struct {
	journal *journal.Journal
	entries map[delegationKey]bool
}

func NewDelegationRegistry(j *journal.Journal) *DelegationRegistry {
	return &DelegationRegistry{journal: j, entries: make(map[delegationKey]bool)}
}

func (r *DelegationRegistry) DelegateERC721(vault, delegate, contract common.Address, tokenID *big.Int, rights [32]byte, enable bool) {
	key := delegationKey{vault: vault, delegate: delegate, contract: contract, tokenID: tokenKey(tokenID), rights: rights}
	prev := r.entries[key]
	r.journal.Append(func() {
		if prev {
			r.entries[key] = true
			return
		}
		delete(r.entries, key)
	})
	if enable {
		r.entries[key] = true
		return
	}
	delete(r.entries, key)
}

// CheckDelegateForERC721 reports whether delegate holds rights over the token
// on behalf of vault. Empty rights match any delegation.
func (r *DelegationRegistry) CheckDelegateForERC721(delegate, vault, contract common.Address, tokenID *big.Int, rights [32]byte) bool {
	key := delegationKey{vault: vault, delegate: delegate, contract: contract, tokenID: tokenKey(tokenID), rights: rights}
	if r.entries[key] {
		return true
	}
	key.rights = [32]byte{}
	return r.entries[key]
}
