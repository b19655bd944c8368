package token

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// The types below are the rlp-friendly form of the ledgers. Export sorts every
// list so equal ledgers always encode to equal bytes.

type Holding struct {
	Holder common.Address
	Amount *big.Int
}

type Allowance struct {
	Owner   common.Address
	Spender common.Address
	Amount  *big.Int
}

type FungibleState struct {
	Balances   []Holding
	Allowances []Allowance
	Rejecting  []common.Address
}

type NFTOwner struct {
	TokenID *big.Int
	Owner   common.Address
}

type NFTApproval struct {
	TokenID  *big.Int
	Approved common.Address
}

type OperatorApproval struct {
	Owner    common.Address
	Operator common.Address
}

type CollectionState struct {
	Owners    []NFTOwner
	Approvals []NFTApproval
	Operators []OperatorApproval
}

type PunkOwner struct {
	Index uint64
	Owner common.Address
}

type PunkSale struct {
	Index      uint64
	Seller     common.Address
	OnlySellTo common.Address
	MinValue   *big.Int
}

type PunkState struct {
	Owners []PunkOwner
	Offers []PunkSale
}

type Delegation struct {
	Vault    common.Address
	Delegate common.Address
	Contract common.Address
	TokenID  *big.Int
	Rights   [32]byte
}

type DelegationState struct {
	Entries []Delegation
}

func (b *balances) export() FungibleState {
	var out FungibleState
	for addr, amount := range b.accounts {
		out.Balances = append(out.Balances, Holding{Holder: addr, Amount: new(big.Int).Set(amount)})
	}
	sort.Slice(out.Balances, func(i, j int) bool {
		return bytes.Compare(out.Balances[i].Holder[:], out.Balances[j].Holder[:]) < 0
	})
	for addr, reject := range b.rejecting {
		if reject {
			out.Rejecting = append(out.Rejecting, addr)
		}
	}
	sortAddresses(out.Rejecting)
	return out
}

func (b *balances) restore(st FungibleState) {
	b.accounts = make(map[common.Address]*big.Int, len(st.Balances))
	for _, h := range st.Balances {
		b.accounts[h.Holder] = amountOrZero(h.Amount)
	}
	b.rejecting = make(map[common.Address]bool, len(st.Rejecting))
	for _, addr := range st.Rejecting {
		b.rejecting[addr] = true
	}
}

// Export returns the balances, allowances and rejecting recipients.
func (t *ERC20) Export() FungibleState {
	out := t.bal.export()
	for owner, inner := range t.allowances {
		for spender, amount := range inner {
			out.Allowances = append(out.Allowances, Allowance{Owner: owner, Spender: spender, Amount: new(big.Int).Set(amount)})
		}
	}
	sort.Slice(out.Allowances, func(i, j int) bool {
		a, b := out.Allowances[i], out.Allowances[j]
		if c := bytes.Compare(a.Owner[:], b.Owner[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.Spender[:], b.Spender[:]) < 0
	})
	return out
}

// Restore replaces the ledger contents without journaling. It is meant for
// loading persisted state before the ledger is used.
func (t *ERC20) Restore(st FungibleState) {
	t.bal.restore(st)
	t.allowances = make(map[common.Address]map[common.Address]*big.Int)
	for _, a := range st.Allowances {
		inner, ok := t.allowances[a.Owner]
		if !ok {
			inner = make(map[common.Address]*big.Int)
			t.allowances[a.Owner] = inner
		}
		inner[a.Spender] = amountOrZero(a.Amount)
	}
}

func (b *NativeBank) Export() FungibleState { return b.bal.export() }

func (b *NativeBank) Restore(st FungibleState) { b.bal.restore(st) }

func (t *ERC721) Export() CollectionState {
	var out CollectionState
	for key, owner := range t.owners {
		out.Owners = append(out.Owners, NFTOwner{TokenID: keyToken(key), Owner: owner})
	}
	sort.Slice(out.Owners, func(i, j int) bool { return out.Owners[i].TokenID.Cmp(out.Owners[j].TokenID) < 0 })
	for key, approved := range t.approvals {
		out.Approvals = append(out.Approvals, NFTApproval{TokenID: keyToken(key), Approved: approved})
	}
	sort.Slice(out.Approvals, func(i, j int) bool { return out.Approvals[i].TokenID.Cmp(out.Approvals[j].TokenID) < 0 })
	for owner, inner := range t.operators {
		for operator, approved := range inner {
			if approved {
				out.Operators = append(out.Operators, OperatorApproval{Owner: owner, Operator: operator})
			}
		}
	}
	sort.Slice(out.Operators, func(i, j int) bool {
		a, b := out.Operators[i], out.Operators[j]
		if c := bytes.Compare(a.Owner[:], b.Owner[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.Operator[:], b.Operator[:]) < 0
	})
	return out
}

func (t *ERC721) Restore(st CollectionState) {
	t.owners = make(map[string]common.Address, len(st.Owners))
	for _, o := range st.Owners {
		t.owners[tokenKey(o.TokenID)] = o.Owner
	}
	t.approvals = make(map[string]common.Address, len(st.Approvals))
	for _, a := range st.Approvals {
		t.approvals[tokenKey(a.TokenID)] = a.Approved
	}
	t.operators = make(map[common.Address]map[common.Address]bool)
	for _, op := range st.Operators {
		inner, ok := t.operators[op.Owner]
		if !ok {
			inner = make(map[common.Address]bool)
			t.operators[op.Owner] = inner
		}
		inner[op.Operator] = true
	}
}

func (m *PunkMarket) Export() PunkState {
	var out PunkState
	for index, owner := range m.owners {
		out.Owners = append(out.Owners, PunkOwner{Index: index, Owner: owner})
	}
	sort.Slice(out.Owners, func(i, j int) bool { return out.Owners[i].Index < out.Owners[j].Index })
	for index, offer := range m.offers {
		out.Offers = append(out.Offers, PunkSale{
			Index:      index,
			Seller:     offer.seller,
			OnlySellTo: offer.onlySellTo,
			MinValue:   new(big.Int).Set(offer.minValue),
		})
	}
	sort.Slice(out.Offers, func(i, j int) bool { return out.Offers[i].Index < out.Offers[j].Index })
	return out
}

func (m *PunkMarket) Restore(st PunkState) {
	m.owners = make(map[uint64]common.Address, len(st.Owners))
	for _, o := range st.Owners {
		m.owners[o.Index] = o.Owner
	}
	m.offers = make(map[uint64]punkOffer, len(st.Offers))
	for _, o := range st.Offers {
		m.offers[o.Index] = punkOffer{seller: o.Seller, onlySellTo: o.OnlySellTo, minValue: amountOrZero(o.MinValue)}
	}
}

func (r *DelegationRegistry) Export() DelegationState {
	var out DelegationState
	for key, enabled := range r.entries {
		if !enabled {
			continue
		}
		out.Entries = append(out.Entries, Delegation{
			Vault:    key.vault,
			Delegate: key.delegate,
			Contract: key.contract,
			TokenID:  keyToken(key.tokenID),
			Rights:   key.rights,
		})
	}
	sort.Slice(out.Entries, func(i, j int) bool {
		a, b := out.Entries[i], out.Entries[j]
		for _, c := range []int{
			bytes.Compare(a.Vault[:], b.Vault[:]),
			bytes.Compare(a.Delegate[:], b.Delegate[:]),
			bytes.Compare(a.Contract[:], b.Contract[:]),
			a.TokenID.Cmp(b.TokenID),
			bytes.Compare(a.Rights[:], b.Rights[:]),
		} {
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	return out
}

func (r *DelegationRegistry) Restore(st DelegationState) {
	r.entries = make(map[delegationKey]bool, len(st.Entries))
	for _, d := range st.Entries {
		key := delegationKey{vault: d.Vault, delegate: d.Delegate, contract: d.Contract, tokenID: tokenKey(d.TokenID), rights: d.Rights}
		r.entries[key] = true
	}
}

func keyToken(key string) *big.Int {
	id, ok := new(big.Int).SetString(key, 10)
	if !ok {
		return new(big.Int)
	}
	return id
}

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func sortAddresses(addrs []common.Address) {
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
}
