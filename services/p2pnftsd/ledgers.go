package p2pnftsd

import (
	"log/slog"
	"sort"
	"strings"

	"p2pnfts/native/token"
)

type namedFungible struct {
	Symbol string
	State  token.FungibleState
}

type namedCollection struct {
	Name  string
	State token.CollectionState
}

type namedPunks struct {
	Name  string
	State token.PunkState
}

// ledgerSnapshot is the persisted form of every asset the node hosts.
type ledgerSnapshot struct {
	Native      token.FungibleState
	Wrapped     token.FungibleState
	Tokens      []namedFungible
	NFTs        []namedCollection
	Punks       []namedPunks
	Delegations token.DelegationState
}

func (n *Node) snapshotLedgers() ledgerSnapshot {
	snap := ledgerSnapshot{
		Native:      n.bank.Export(),
		Wrapped:     n.wrapped.Export(),
		Delegations: n.delegation.Export(),
	}
	for symbol, tok := range n.tokens {
		snap.Tokens = append(snap.Tokens, namedFungible{Symbol: symbol, State: tok.Export()})
	}
	sort.Slice(snap.Tokens, func(i, j int) bool { return snap.Tokens[i].Symbol < snap.Tokens[j].Symbol })
	for name, nft := range n.nfts {
		snap.NFTs = append(snap.NFTs, namedCollection{Name: name, State: nft.Export()})
	}
	sort.Slice(snap.NFTs, func(i, j int) bool { return snap.NFTs[i].Name < snap.NFTs[j].Name })
	for name, market := range n.punks {
		snap.Punks = append(snap.Punks, namedPunks{Name: name, State: market.Export()})
	}
	sort.Slice(snap.Punks, func(i, j int) bool { return snap.Punks[i].Name < snap.Punks[j].Name })
	return snap
}

func (n *Node) saveLedgers() error {
	return n.ledgers.Save(n.snapshotLedgers())
}

// restoreLedgers loads the saved ledgers and reports whether a snapshot was
// found. Assets no longer in the genesis are dropped; new ones start empty.
func (n *Node) restoreLedgers() (bool, error) {
	var snap ledgerSnapshot
	ok, err := n.ledgers.Load(&snap)
	if err != nil || !ok {
		return false, err
	}
	n.bank.Restore(snap.Native)
	n.wrapped.Restore(snap.Wrapped)
	n.delegation.Restore(snap.Delegations)
	for _, entry := range snap.Tokens {
		if tok, ok := n.tokens[strings.ToUpper(entry.Symbol)]; ok {
			tok.Restore(entry.State)
		} else {
			n.logger.Warn("dropping ledger of unknown token", slog.String("symbol", entry.Symbol))
		}
	}
	for _, entry := range snap.NFTs {
		if nft, ok := n.nfts[entry.Name]; ok {
			nft.Restore(entry.State)
		} else {
			n.logger.Warn("dropping ledger of unknown collection", slog.String("collection", entry.Name))
		}
	}
	for _, entry := range snap.Punks {
		if market, ok := n.punks[entry.Name]; ok {
			market.Restore(entry.State)
		} else {
			n.logger.Warn("dropping ledger of unknown collection", slog.String("collection", entry.Name))
		}
	}
	return true, nil
}
