package token

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"p2pnfts/core/journal"
)

// ERC721 is a non-fungible collection with per-token approvals and operator
// approvals.
type ERC721 struct {
	address   common.Address
	journal   *journal.Journal
	owners    map[string]common.Address
	approvals map[string]common.Address
	operators map[common.Address]map[common.Address]bool
}

func NewERC721(address common.Address, j *journal.Journal) *ERC721 {
	return &ERC721{
		address:   address,
		journal:   j,
		owners:    make(map[string]common.Address),
		approvals: make(map[string]common.Address),
		operators: make(map[common.Address]map[common.Address]bool),
	}
}

func (t *ERC721) Address() common.Address { return t.address }

func (t *ERC721) Mint(to common.Address, tokenID *big.Int) error {
	key := tokenKey(tokenID)
	if _, ok := t.owners[key]; ok {
		return ErrTokenExists
	}
	t.setOwner(key, to)
	return nil
}

func (t *ERC721) OwnerOf(tokenID *big.Int) (common.Address, error) {
	owner, ok := t.owners[tokenKey(tokenID)]
	if !ok {
		return common.Address{}, ErrUnknownToken
	}
	return owner, nil
}

// Approve lets to move tokenID once. Only the owner or an operator may call.
func (t *ERC721) Approve(caller, to common.Address, tokenID *big.Int) error {
	owner, err := t.OwnerOf(tokenID)
	if err != nil {
		return err
	}
	if caller != owner && !t.IsApprovedForAll(owner, caller) {
		return ErrNotTokenOwner
	}
	t.setApproval(tokenKey(tokenID), to)
	return nil
}

func (t *ERC721) GetApproved(tokenID *big.Int) common.Address {
	return t.approvals[tokenKey(tokenID)]
}

func (t *ERC721) SetApprovalForAll(owner, operator common.Address, approved bool) {
	inner, ok := t.operators[owner]
	if !ok {
		inner = make(map[common.Address]bool)
		t.operators[owner] = inner
	}
	prev := inner[operator]
	t.journal.Append(func() { inner[operator] = prev })
	inner[operator] = approved
}

func (t *ERC721) IsApprovedForAll(owner, operator common.Address) bool {
	return t.operators[owner][operator]
}

// TransferFrom moves tokenID from from to to on behalf of caller, clearing the
// token approval.
func (t *ERC721) TransferFrom(caller, from, to common.Address, tokenID *big.Int) error {
	key := tokenKey(tokenID)
	owner, ok := t.owners[key]
	if !ok {
		return ErrUnknownToken
	}
	if owner != from {
		return ErrNotTokenOwner
	}
	if caller != owner && t.approvals[key] != caller && !t.IsApprovedForAll(owner, caller) {
		return ErrTransferNotApproved
	}
	t.setApproval(key, common.Address{})
	t.setOwner(key, to)
	return nil
}

func (t *ERC721) setOwner(key string, owner common.Address) {
	prev, existed := t.owners[key]
	t.journal.Append(func() {
		if existed {
			t.owners[key] = prev
			return
		}
		delete(t.owners, key)
	})
	t.owners[key] = owner
}

func (t *ERC721) setApproval(key string, to common.Address) {
	prev, existed := t.approvals[key]
	t.journal.Append(func() {
		if existed {
			t.approvals[key] = prev
			return
		}
		delete(t.approvals, key)
	})
	if to == (common.Address{}) {
		delete(t.approvals, key)
		return
	}
	t.approvals[key] = to
}

func tokenKey(id *big.Int) string {
	if id == nil {
		return "0"
	}
	return id.String()
}
