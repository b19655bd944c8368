package p2pnftsd

import (
	"github.com/dgraph-io/ristretto"

	"p2pnfts/core/events"
	"p2pnfts/services/indexer"
)

// LoanCache keeps recently read indexed loans. It listens to the event stream
// and drops entries whose status changes.
type LoanCache struct {
	cache *ristretto.Cache
}

func NewLoanCache(maxLoans int64) (*LoanCache, error) {
	if maxLoans <= 0 {
		maxLoans = defaultCacheEntries
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxLoans * 10,
		MaxCost:            maxLoans,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &LoanCache{cache: cache}, nil
}

func cacheKey(id [32]byte) string { return string(id[:]) }

func (c *LoanCache) get(id [32]byte) (*indexer.Record, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.cache.Get(cacheKey(id))
	if !ok {
		return nil, false
	}
	rec, ok := v.(*indexer.Record)
	return rec, ok
}

func (c *LoanCache) set(id [32]byte, rec *indexer.Record) {
	if c == nil || rec == nil {
		return
	}
	c.cache.Set(cacheKey(id), rec, 1)
}

func (c *LoanCache) Emit(e events.Event) {
	if c == nil {
		return
	}
	switch ev := e.(type) {
	case events.LoanPaid:
		c.cache.Del(cacheKey(ev.ID))
	case events.LoanCollateralClaimed:
		c.cache.Del(cacheKey(ev.ID))
	case events.LoanReplacedByLender:
		c.cache.Del(cacheKey(ev.OriginalLoanID))
	}
}

func (c *LoanCache) Close() {
	if c != nil {
		c.cache.Close()
	}
}
