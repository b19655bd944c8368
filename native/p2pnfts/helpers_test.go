package p2pnfts

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"p2pnfts/core/events"
	"p2pnfts/core/journal"
	"p2pnfts/core/state"
	"p2pnfts/crypto"
	"p2pnfts/crypto/merkle"
	"p2pnfts/native/control"
	"p2pnfts/native/token"
	"p2pnfts/storage"
)

const (
	startTime       int64 = 1_700_000_000
	maxLockDuration       = 2 * 86400
)

var (
	chainID        = big.NewInt(1)
	marketAddr     = common.HexToAddress("0x0000000000000000000000000000000000a11ce0")
	controllerAddr = common.HexToAddress("0x00000000000000000000000000000000000c0001")
	owner          = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	borrower       = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	protocolWallet = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	lenderBroker   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	borrowerBroker = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	proxy          = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	random         = common.HexToAddress("0x00000000000000000000000000000000000000ff")

	usdcAddr = common.HexToAddress("0x0000000000000000000000000000000000000020")
	wethAddr = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	baycAddr = common.HexToAddress("0x0000000000000000000000000000000000000721")
	punkAddr = common.HexToAddress("0x000000000000000000000000000000000000b47e")

	baycKey = merkle.CollectionKeyHash("bayc")
	punkKey = merkle.CollectionKeyHash("cryptopunks")
)

type harness struct {
	t          *testing.T
	now        int64
	journal    *journal.Journal
	ctrl       *control.Controller
	bayc       *token.ERC721
	punks      *token.PunkMarket
	usdc       *token.ERC20
	bank       *token.NativeBank
	weth       *token.WrappedNative
	delegation *token.DelegationRegistry
	rec        *events.Recorder
	market     *Engine

	lenderKey  *crypto.PrivateKey
	lender2Key *crypto.PrivateKey
	lender     common.Address
	lender2    common.Address
}

type harnessOption func(*Config)

func nativeMarket(cfg *Config) { cfg.PaymentToken = common.Address{} }

func carryForward(cfg *Config) { cfg.BorrowerBrokerPolicy = BorrowerBrokerCarryForward }

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	j := journal.New()
	h := &harness{
		t:          t,
		now:        startTime,
		journal:    j,
		bayc:       token.NewERC721(baycAddr, j),
		punks:      token.NewPunkMarket(punkAddr, j),
		usdc:       token.NewERC20(usdcAddr, "USDC", j),
		bank:       token.NewNativeBank(j),
		delegation: token.NewDelegationRegistry(j),
		rec:        &events.Recorder{},
	}
	h.weth = token.NewWrappedNative(wethAddr, h.bank, j)

	var err error
	h.lenderKey, err = crypto.PrivateKeyFromHex("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	h.lender2Key, err = crypto.PrivateKeyFromHex("8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f")
	require.NoError(t, err)
	h.lender = h.lenderKey.Address()
	h.lender2 = h.lender2Key.Address()

	collections := token.NewCollections()
	collections.Register(baycAddr, token.ERC721Adapter{Token: h.bayc})
	collections.Register(punkAddr, token.PunkAdapter{Market: h.punks})

	db := storage.NewMemDB()
	h.ctrl = control.NewController(controllerAddr)
	h.ctrl.SetState(state.NewControlStore(db, j, controllerAddr), j)
	h.ctrl.SetCollateralOwners(collections)
	h.ctrl.SetEmitter(h.rec)
	h.ctrl.SetNowFunc(func() int64 { return h.now })
	require.NoError(t, h.ctrl.Initialize(owner, maxLockDuration))
	require.NoError(t, h.ctrl.ChangeCollectionsContracts(owner, []control.CollectionContract{
		{CollectionKeyHash: baycKey, Contract: baycAddr},
		{CollectionKeyHash: punkKey, Contract: punkAddr},
	}))

	cfg := Config{
		Name:                     "usdc",
		Address:                  marketAddr,
		ChainID:                  chainID,
		PaymentToken:             usdcAddr,
		Owner:                    owner,
		ProtocolWallet:           protocolWallet,
		MaxProtocolUpfrontBps:    100,
		MaxProtocolSettlementBps: 1000,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h.market = NewEngine(cfg)
	h.market.SetState(state.NewLendingStore(db, j, marketAddr), j)
	h.market.SetGateway(h.ctrl)
	h.market.SetCollateral(collections)
	h.market.SetDelegation(h.delegation)
	h.market.SetPaymentRails(PaymentRails{Token: h.usdc, Wrapped: h.weth, Bank: h.bank})
	h.market.SetEmitter(h.rec)
	h.market.SetNowFunc(func() int64 { return h.now })
	require.NoError(t, h.market.Initialize())
	return h
}

func (h *harness) unix() uint64 { return uint64(h.now) }

func (h *harness) advance(seconds int64) { h.now += seconds }

// offer returns a one-token offer on bayc #1 from the first lender.
func (h *harness) offer(mods ...func(*Offer)) Offer {
	o := Offer{
		Principal:              big.NewInt(1000),
		Interest:               big.NewInt(100),
		PaymentToken:           h.market.PaymentToken(),
		Duration:               100,
		OriginationFeeAmount:   new(big.Int),
		BrokerUpfrontFeeAmount: new(big.Int),
		CollectionKeyHash:      baycKey,
		Selector:               TokenSelector{TokenID: big.NewInt(1)},
		Expiration:             h.unix() + 1000,
		Lender:                 h.lender,
		Size:                   1,
	}
	for _, mod := range mods {
		mod(&o)
	}
	return o
}

func (h *harness) sign(o Offer, key *crypto.PrivateKey) SignedOffer {
	h.t.Helper()
	signed, err := SignOffer(o, key, marketAddr, chainID)
	require.NoError(h.t, err)
	return signed
}

// balance reads the market's payment asset.
func (h *harness) balance(addr common.Address) *big.Int {
	if h.market.IsNative() {
		return h.bank.BalanceOf(addr)
	}
	return h.usdc.BalanceOf(addr)
}

// fund gives addr amount of the payment asset and approves the market to pull
// it. Native markets fund and approve through the wrapped token.
func (h *harness) fund(addr common.Address, amount *big.Int) {
	h.t.Helper()
	if amount.Sign() <= 0 {
		return
	}
	if h.market.IsNative() {
		require.NoError(h.t, h.bank.Mint(addr, amount))
		require.NoError(h.t, h.weth.Deposit(addr, amount))
		require.NoError(h.t, h.weth.Approve(addr, marketAddr, amount))
		return
	}
	require.NoError(h.t, h.usdc.Mint(addr, amount))
	require.NoError(h.t, h.usdc.Approve(addr, marketAddr, amount))
}

// topUp brings addr's payment token balance to at least total and approves
// the market for exactly total.
func (h *harness) topUp(addr common.Address, total *big.Int) {
	h.t.Helper()
	if short := diff(total, h.usdc.BalanceOf(addr)); short.Sign() > 0 {
		require.NoError(h.t, h.usdc.Mint(addr, short))
	}
	require.NoError(h.t, h.usdc.Approve(addr, marketAddr, total))
}

// cash gives addr spendable native value without any approval.
func (h *harness) cash(addr common.Address, amount *big.Int) {
	h.t.Helper()
	require.NoError(h.t, h.bank.Mint(addr, amount))
}

func (h *harness) mintCollateral(id int64) {
	h.t.Helper()
	require.NoError(h.t, h.bayc.Mint(borrower, big.NewInt(id)))
	require.NoError(h.t, h.bayc.Approve(borrower, marketAddr, big.NewInt(id)))
}

func lenderFunding(o Offer) *big.Int {
	out := new(big.Int).Sub(o.Principal, o.OriginationFeeAmount)
	return out.Add(out, o.BrokerUpfrontFeeAmount)
}

// open creates a loan on bayc #id from signed with the lender funded for it.
func (h *harness) open(signed SignedOffer, id int64, bb BrokerTerms) *Loan {
	h.t.Helper()
	h.mintCollateral(id)
	h.fund(signed.Offer.Lender, lenderFunding(signed.Offer))
	loan, err := h.market.CreateLoan(Call{Sender: borrower}, CreateLoanRequest{
		Offer:          signed,
		TokenID:        big.NewInt(id),
		BorrowerBroker: bb,
	})
	require.NoError(h.t, err)
	return loan
}

func (h *harness) collateralOwner(id int64) common.Address {
	h.t.Helper()
	holder, err := h.bayc.OwnerOf(big.NewInt(id))
	require.NoError(h.t, err)
	return holder
}

func requireAmount(t *testing.T, expected int64, actual *big.Int, msgAndArgs ...interface{}) {
	t.Helper()
	require.Equal(t, big.NewInt(expected).String(), actual.String(), msgAndArgs...)
}

func requireBig(t *testing.T, expected, actual *big.Int, msgAndArgs ...interface{}) {
	t.Helper()
	require.Equal(t, expected.String(), actual.String(), msgAndArgs...)
}

func diff(after, before *big.Int) *big.Int { return new(big.Int).Sub(after, before) }
