package state

import (
	"github.com/ethereum/go-ethereum/common"

	"p2pnfts/core/journal"
	"p2pnfts/storage"
)

const ledgerSnapshotKey = "snapshot"

// LedgerStore keeps the asset ledgers of a deployment as one rlp record.
// Saves go through the journal like every other store write, so a snapshot
// taken inside a failed call is rolled back with it.
type LedgerStore struct {
	kv *kv
}

func NewLedgerStore(db storage.Database, j *journal.Journal, deployment common.Address) *LedgerStore {
	ns := append([]byte("ledgers:"), deployment.Bytes()...)
	return &LedgerStore{kv: newKV(db, j, ns)}
}

// Load decodes the stored snapshot into out and reports whether one exists.
func (s *LedgerStore) Load(out interface{}) (bool, error) {
	return s.kv.getRLP(s.kv.key(ledgerSnapshotKey), out)
}

func (s *LedgerStore) Save(value interface{}) error {
	return s.kv.putRLP(s.kv.key(ledgerSnapshotKey), value)
}
