package p2pnftsd

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"p2pnfts/config"
	"p2pnfts/core/events"
	"p2pnfts/crypto"
	"p2pnfts/native/p2pnfts"
	"p2pnfts/storage"
)

const fixtureStart int64 = 1_700_000_000

var (
	borrowerAddr = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	strangerAddr = common.HexToAddress("0x00000000000000000000000000000000000000ff")
)

type attached struct {
	loanID, offerID [32]byte
}

type offerRecorder struct {
	calls []attached
}

func (o *offerRecorder) AttachOffer(loanID, offerID [32]byte) error {
	o.calls = append(o.calls, attached{loanID: loanID, offerID: offerID})
	return nil
}

type fixture struct {
	t         *testing.T
	now       int64
	db        storage.Database
	network   *config.Network
	node      *Node
	rec       *events.Recorder
	offers    *offerRecorder
	index     OfferIndex
	extra     []events.Emitter
	ownerKey  *crypto.PrivateKey
	lenderKey *crypto.PrivateKey
	owner     common.Address
	lender    common.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ownerKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	lenderKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	network, err := config.Default(ownerKey.Address().Hex()).Resolve()
	require.NoError(t, err)

	f := &fixture{
		t:         t,
		now:       fixtureStart,
		db:        storage.NewMemDB(),
		network:   network,
		rec:       &events.Recorder{},
		offers:    &offerRecorder{},
		ownerKey:  ownerKey,
		lenderKey: lenderKey,
		owner:     ownerKey.Address(),
		lender:    lenderKey.Address(),
	}
	f.node = f.boot()
	return f
}

// boot starts a node over the fixture's database. Extra emitters and the
// offer index are picked up on every boot.
func (f *fixture) boot() *Node {
	f.t.Helper()
	var offers OfferIndex = f.offers
	if f.index != nil {
		offers = f.index
	}
	node, err := NewNode(f.network, f.db, NodeOptions{
		Emitter: append(events.FanOut{f.rec}, f.extra...),
		Offers:  offers,
		Now:     func() int64 { return f.now },
	})
	require.NoError(f.t, err)
	return node
}

func (f *fixture) market(name string) MarketInfo {
	f.t.Helper()
	info, err := f.node.Market(name)
	require.NoError(f.t, err)
	return info
}

func (f *fixture) usdc() common.Address {
	tok, ok := f.network.Token("USDC")
	require.True(f.t, ok)
	return tok.Address
}

func (f *fixture) baycKey() [32]byte {
	for _, coll := range f.network.Collections {
		if coll.Name == "bayc" {
			return coll.KeyHash
		}
	}
	f.t.Fatal("bayc not configured")
	return [32]byte{}
}

// usdcOffer is a 30 day single-token offer on bayc from the fixture lender.
func (f *fixture) usdcOffer(tokenID int64, principal, interest int64) p2pnfts.Offer {
	return p2pnfts.Offer{
		Principal:         big.NewInt(principal),
		Interest:          big.NewInt(interest),
		PaymentToken:      f.usdc(),
		Duration:          30 * 86400,
		CollectionKeyHash: f.baycKey(),
		Selector:          p2pnfts.TokenSelector{TokenID: big.NewInt(tokenID)},
		Expiration:        uint64(f.now + 3600),
		Lender:            f.lender,
		Size:              1,
	}
}

func (f *fixture) sign(market string, offer p2pnfts.Offer) p2pnfts.SignedOffer {
	f.t.Helper()
	signed, err := p2pnfts.SignOffer(offer, f.lenderKey, f.market(market).Address, f.network.ChainID)
	require.NoError(f.t, err)
	return signed
}

// fund prepares a lender with USDC allowance and a borrower holding an
// approved bayc token.
func (f *fixture) fund(principal int64, tokenID int64) {
	f.t.Helper()
	market := f.market("usdc").Address
	require.NoError(f.t, f.node.Mint("USDC", f.lender, big.NewInt(principal)))
	require.NoError(f.t, f.node.Approve("USDC", f.lender, market, big.NewInt(principal)))
	require.NoError(f.t, f.node.MintNFT("bayc", borrowerAddr, big.NewInt(tokenID)))
	require.NoError(f.t, f.node.ApproveNFT("bayc", borrowerAddr, big.NewInt(tokenID), "usdc"))
}

func (f *fixture) balance(asset string, holder common.Address) *big.Int {
	f.t.Helper()
	bal, err := f.node.Balance(asset, holder)
	require.NoError(f.t, err)
	return bal
}
