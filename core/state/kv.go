package state

import (
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"p2pnfts/core/journal"
	"p2pnfts/storage"
)

// kv layers journaled writes over a storage.Database. Every Put and Delete
// records the previous value so a failed call can be rolled back through the
// shared journal.
type kv struct {
	db        storage.Database
	journal   *journal.Journal
	namespace []byte
}

func newKV(db storage.Database, j *journal.Journal, namespace []byte) *kv {
	return &kv{db: db, journal: j, namespace: append([]byte(nil), namespace...)}
}

// key hashes namespace, prefix and parts into a fixed-width store key.
func (s *kv) key(prefix string, parts ...[]byte) []byte {
	size := len(s.namespace) + len(prefix)
	for _, p := range parts {
		size += len(p) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, s.namespace...)
	buf = append(buf, prefix...)
	for _, p := range parts {
		buf = append(buf, ':')
		buf = append(buf, p...)
	}
	return ethcrypto.Keccak256(buf)
}

func (s *kv) get(key []byte) ([]byte, bool, error) {
	value, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *kv) put(key, value []byte) error {
	prev, existed, err := s.get(key)
	if err != nil {
		return err
	}
	if err := s.db.Put(key, value); err != nil {
		return err
	}
	s.journal.Append(func() {
		if existed {
			_ = s.db.Put(key, prev)
			return
		}
		_ = s.db.Delete(key)
	})
	return nil
}

func (s *kv) delete(key []byte) error {
	prev, existed, err := s.get(key)
	if err != nil || !existed {
		return err
	}
	if err := s.db.Delete(key); err != nil {
		return err
	}
	s.journal.Append(func() { _ = s.db.Put(key, prev) })
	return nil
}

func (s *kv) getRLP(key []byte, out interface{}) (bool, error) {
	raw, ok, err := s.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *kv) putRLP(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return s.put(key, encoded)
}
