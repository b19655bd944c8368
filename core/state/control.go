package state

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"p2pnfts/core/journal"
	"p2pnfts/storage"
)

const (
	contractPrefix  = "contract"
	whitelistPrefix = "whitelist"
	traitRootPrefix = "trait-root"
	lockPrefix      = "broker-lock"
)

type brokerLockRecord struct {
	Broker     common.Address
	Expiration uint64
}

// ControlStore persists the collateral controller registry: collection key
// hashes mapped to contracts, the whitelist, trait roots, broker locks and
// controller parameters.
type ControlStore struct {
	kv *kv
}

// NewControlStore binds a controller store for controller to db.
func NewControlStore(db storage.Database, j *journal.Journal, controller common.Address) *ControlStore {
	ns := append([]byte("control:"), controller.Bytes()...)
	return &ControlStore{kv: newKV(db, j, ns)}
}

func (s *ControlStore) Contract(keyHash [32]byte) (common.Address, error) {
	var out common.Address
	raw, ok, err := s.kv.get(s.kv.key(contractPrefix, keyHash[:]))
	if err != nil || !ok {
		return out, err
	}
	return common.BytesToAddress(raw), nil
}

// SetContract maps keyHash to contract. The zero address clears the entry.
func (s *ControlStore) SetContract(keyHash [32]byte, contract common.Address) error {
	key := s.kv.key(contractPrefix, keyHash[:])
	if contract == (common.Address{}) {
		return s.kv.delete(key)
	}
	return s.kv.put(key, contract.Bytes())
}

func (s *ControlStore) Whitelisted(contract common.Address) (bool, error) {
	_, ok, err := s.kv.get(s.kv.key(whitelistPrefix, contract.Bytes()))
	return ok, err
}

func (s *ControlStore) SetWhitelisted(contract common.Address, enabled bool) error {
	key := s.kv.key(whitelistPrefix, contract.Bytes())
	if !enabled {
		return s.kv.delete(key)
	}
	return s.kv.put(key, []byte{1})
}

func (s *ControlStore) TraitRoot(keyHash [32]byte) ([32]byte, error) {
	var out [32]byte
	raw, ok, err := s.kv.get(s.kv.key(traitRootPrefix, keyHash[:]))
	if err != nil || !ok {
		return out, err
	}
	copy(out[:], raw)
	return out, nil
}

func (s *ControlStore) SetTraitRoot(keyHash, root [32]byte) error {
	key := s.kv.key(traitRootPrefix, keyHash[:])
	if root == ([32]byte{}) {
		return s.kv.delete(key)
	}
	return s.kv.put(key, append([]byte(nil), root[:]...))
}

// BrokerLock returns the broker and expiration registered for the token. A
// missing lock reads as the zero address with expiration zero.
func (s *ControlStore) BrokerLock(contract common.Address, tokenID *big.Int) (common.Address, uint64, error) {
	var record brokerLockRecord
	if _, err := s.kv.getRLP(lockKey(s.kv, contract, tokenID), &record); err != nil {
		return common.Address{}, 0, err
	}
	return record.Broker, record.Expiration, nil
}

func (s *ControlStore) SetBrokerLock(contract common.Address, tokenID *big.Int, broker common.Address, expiration uint64) error {
	return s.kv.putRLP(lockKey(s.kv, contract, tokenID), brokerLockRecord{Broker: broker, Expiration: expiration})
}

func (s *ControlStore) DeleteBrokerLock(contract common.Address, tokenID *big.Int) error {
	return s.kv.delete(lockKey(s.kv, contract, tokenID))
}

func (s *ControlStore) Param(name string, out interface{}) (bool, error) {
	return s.kv.getRLP(s.kv.key(paramPrefix, []byte(name)), out)
}

func (s *ControlStore) SetParam(name string, value interface{}) error {
	return s.kv.putRLP(s.kv.key(paramPrefix, []byte(name)), value)
}

func lockKey(s *kv, contract common.Address, tokenID *big.Int) []byte {
	id := common.BigToHash(tokenID)
	return s.key(lockPrefix, contract.Bytes(), id.Bytes())
}
