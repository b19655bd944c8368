package state

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"p2pnfts/core/journal"
	"p2pnfts/storage"
)

const (
	loanPrefix     = "loan"
	offerPrefix    = "offer-count"
	revokedPrefix  = "offer-revoked"
	pendingPrefix  = "pending"
	proxyPrefix    = "proxy"
	paramPrefix    = "param"
	loanNonceParam = "loan-nonce"
)

// LendingStore persists the mutable records of one lending market: loan
// commitments, offer usage counters, revocations, pending transfers, proxy
// authorizations and engine parameters. Keys are namespaced by the market
// address so several markets can share a database.
type LendingStore struct {
	kv *kv
}

// NewLendingStore binds a store for market to db. Writes are recorded in j.
func NewLendingStore(db storage.Database, j *journal.Journal, market common.Address) *LendingStore {
	ns := append([]byte("lending:"), market.Bytes()...)
	return &LendingStore{kv: newKV(db, j, ns)}
}

// LoanCommitment returns the stored digest for id and whether one exists.
func (s *LendingStore) LoanCommitment(id [32]byte) ([32]byte, bool, error) {
	var out [32]byte
	raw, ok, err := s.kv.get(s.kv.key(loanPrefix, id[:]))
	if err != nil || !ok {
		return out, false, err
	}
	copy(out[:], raw)
	return out, true, nil
}

func (s *LendingStore) SetLoanCommitment(id, digest [32]byte) error {
	return s.kv.put(s.kv.key(loanPrefix, id[:]), append([]byte(nil), digest[:]...))
}

func (s *LendingStore) DeleteLoanCommitment(id [32]byte) error {
	return s.kv.delete(s.kv.key(loanPrefix, id[:]))
}

// OfferCount returns the number of open loans created from the offer.
func (s *LendingStore) OfferCount(id [32]byte) (uint64, error) {
	var count uint64
	if _, err := s.kv.getRLP(s.kv.key(offerPrefix, id[:]), &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *LendingStore) SetOfferCount(id [32]byte, count uint64) error {
	key := s.kv.key(offerPrefix, id[:])
	if count == 0 {
		return s.kv.delete(key)
	}
	return s.kv.putRLP(key, count)
}

func (s *LendingStore) OfferRevoked(id [32]byte) (bool, error) {
	_, ok, err := s.kv.get(s.kv.key(revokedPrefix, id[:]))
	return ok, err
}

func (s *LendingStore) SetOfferRevoked(id [32]byte) error {
	return s.kv.put(s.kv.key(revokedPrefix, id[:]), []byte{1})
}

// PendingTransfer returns the amount owed to addr after a failed push
// payment. Missing entries read as zero.
func (s *LendingStore) PendingTransfer(addr common.Address) (*big.Int, error) {
	amount := new(big.Int)
	if _, err := s.kv.getRLP(s.kv.key(pendingPrefix, addr.Bytes()), amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (s *LendingStore) SetPendingTransfer(addr common.Address, amount *big.Int) error {
	key := s.kv.key(pendingPrefix, addr.Bytes())
	if amount == nil || amount.Sign() == 0 {
		return s.kv.delete(key)
	}
	return s.kv.putRLP(key, amount)
}

func (s *LendingStore) ProxyAuthorized(addr common.Address) (bool, error) {
	_, ok, err := s.kv.get(s.kv.key(proxyPrefix, addr.Bytes()))
	return ok, err
}

func (s *LendingStore) SetProxyAuthorized(addr common.Address, allowed bool) error {
	key := s.kv.key(proxyPrefix, addr.Bytes())
	if !allowed {
		return s.kv.delete(key)
	}
	return s.kv.put(key, []byte{1})
}

// LoanNonce returns the counter mixed into loan identifiers.
func (s *LendingStore) LoanNonce() (uint64, error) {
	var nonce uint64
	if _, err := s.Param(loanNonceParam, &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

func (s *LendingStore) SetLoanNonce(nonce uint64) error {
	return s.SetParam(loanNonceParam, nonce)
}

// Param decodes the RLP encoded parameter name into out and reports whether
// it was present.
func (s *LendingStore) Param(name string, out interface{}) (bool, error) {
	return s.kv.getRLP(s.kv.key(paramPrefix, []byte(name)), out)
}

func (s *LendingStore) SetParam(name string, value interface{}) error {
	return s.kv.putRLP(s.kv.key(paramPrefix, []byte(name)), value)
}
