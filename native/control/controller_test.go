package control

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"p2pnfts/core/events"
	"p2pnfts/core/journal"
	"p2pnfts/core/state"
	"p2pnfts/native/ownership"
	"p2pnfts/native/token"
	"p2pnfts/storage"
)

const maxLockDuration = 2 * 86400

var (
	controllerAddr = common.HexToAddress("0x00000000000000000000000000000000000c0001")
	owner          = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	borrower       = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	broker         = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	random         = common.HexToAddress("0x00000000000000000000000000000000000000ff")
)

type fixture struct {
	ctrl  *Controller
	nft   *token.ERC721
	punks *token.PunkMarket
	rec   *events.Recorder
	now   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	j := journal.New()
	f := &fixture{
		nft:   token.NewERC721(common.HexToAddress("0x721"), j),
		punks: token.NewPunkMarket(common.HexToAddress("0xb47e"), j),
		rec:   &events.Recorder{},
		now:   1_700_000_000,
	}
	collections := token.NewCollections()
	collections.Register(f.nft.Address(), token.ERC721Adapter{Token: f.nft})
	collections.Register(f.punks.Address(), token.PunkAdapter{Market: f.punks})

	f.ctrl = NewController(controllerAddr)
	f.ctrl.SetState(state.NewControlStore(storage.NewMemDB(), j, controllerAddr), j)
	f.ctrl.SetCollateralOwners(collections)
	f.ctrl.SetEmitter(f.rec)
	f.ctrl.SetNowFunc(func() int64 { return f.now })
	require.NoError(t, f.ctrl.Initialize(owner, maxLockDuration))
	return f
}

func (f *fixture) unix() uint64 { return uint64(f.now) }

func TestInitialState(t *testing.T) {
	f := newFixture(t)
	duration, err := f.ctrl.MaxBrokerLockDuration()
	require.NoError(t, err)
	require.EqualValues(t, maxLockDuration, duration)
	got, err := f.ctrl.Owner()
	require.NoError(t, err)
	require.Equal(t, owner, got)
}

func TestOwnershipHandover(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.ctrl.ProposeOwner(random, random), ownership.ErrNotOwner)
	require.ErrorIs(t, f.ctrl.ProposeOwner(owner, common.Address{}), ownership.ErrZeroAddress)

	require.NoError(t, f.ctrl.ProposeOwner(owner, random))
	proposed, err := f.ctrl.ProposedOwner()
	require.NoError(t, err)
	require.Equal(t, random, proposed)

	require.ErrorIs(t, f.ctrl.ClaimOwnership(borrower), ownership.ErrNotProposedOwner)
	require.NoError(t, f.ctrl.ClaimOwnership(random))
	got, err := f.ctrl.Owner()
	require.NoError(t, err)
	require.Equal(t, random, got)

	transferred := f.rec.OfType(events.TypeOwnershipTransferred)
	require.Len(t, transferred, 1)
	require.Equal(t, owner, transferred[0].(events.OwnershipTransferred).Previous)
}

func TestChangeWhitelistedCollections(t *testing.T) {
	f := newFixture(t)
	collections := []common.Address{
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
		common.HexToAddress("0x3333333333333333333333333333333333333333"),
	}
	require.ErrorIs(t, f.ctrl.ChangeWhitelistedCollections(random, nil), ownership.ErrNotOwner)

	for round := 0; round < 2; round++ {
		var records []WhitelistRecord
		for i, c := range collections {
			records = append(records, WhitelistRecord{Contract: c, Whitelisted: i%2 == round})
		}
		require.NoError(t, f.ctrl.ChangeWhitelistedCollections(owner, records))
		for _, rec := range records {
			status, err := f.ctrl.CollateralStatus(rec.Contract, big.NewInt(1))
			require.NoError(t, err)
			require.Equal(t, rec.Whitelisted, status.Whitelisted)
		}
	}
	require.Len(t, f.rec.OfType(events.TypeWhitelistChanged), 6)
}

func TestChangeCollectionsContractsSyncsWhitelist(t *testing.T) {
	f := newFixture(t)
	key := [32]byte{0x01}
	first := common.HexToAddress("0xaaaa")
	second := common.HexToAddress("0xbbbb")

	require.NoError(t, f.ctrl.ChangeCollectionsContracts(owner, []CollectionContract{{CollectionKeyHash: key, Contract: first}}))
	got, err := f.ctrl.ContractFor(key)
	require.NoError(t, err)
	require.Equal(t, first, got)
	listed, err := f.ctrl.IsWhitelisted(first)
	require.NoError(t, err)
	require.True(t, listed)

	require.NoError(t, f.ctrl.ChangeCollectionsContracts(owner, []CollectionContract{{CollectionKeyHash: key, Contract: second}}))
	listed, err = f.ctrl.IsWhitelisted(first)
	require.NoError(t, err)
	require.False(t, listed)
	listed, err = f.ctrl.IsWhitelisted(second)
	require.NoError(t, err)
	require.True(t, listed)

	require.NoError(t, f.ctrl.ChangeCollectionsContracts(owner, []CollectionContract{{CollectionKeyHash: key}}))
	got, err = f.ctrl.ContractFor(key)
	require.NoError(t, err)
	require.Equal(t, common.Address{}, got)
	listed, err = f.ctrl.IsWhitelisted(second)
	require.NoError(t, err)
	require.False(t, listed)
}

func TestChangeCollectionsTraitRoots(t *testing.T) {
	f := newFixture(t)
	roots := make([]TraitRoot, MaxTraitRootBatch+1)
	for i := range roots {
		roots[i] = TraitRoot{CollectionKeyHash: [32]byte{byte(i)}, Root: [32]byte{0xee, byte(i)}}
	}
	require.ErrorIs(t, f.ctrl.ChangeCollectionsTraitRoots(owner, roots), ErrBatchTooLarge)
	require.ErrorIs(t, f.ctrl.ChangeCollectionsTraitRoots(random, roots[:1]), ownership.ErrNotOwner)

	require.NoError(t, f.ctrl.ChangeCollectionsTraitRoots(owner, roots[:MaxTraitRootBatch]))
	root, err := f.ctrl.TraitRoot([32]byte{5})
	require.NoError(t, err)
	require.Equal(t, [32]byte{0xee, 5}, root)
}

func TestAddBrokerLockRequiresCollateralOwner(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.nft.Mint(random, big.NewInt(1)))

	err := f.ctrl.AddBrokerLock(borrower, f.nft.Address(), big.NewInt(1), broker, 1)
	require.ErrorIs(t, err, ErrNotCollateralOwner)
	err = f.ctrl.AddBrokerLock(borrower, f.punks.Address(), big.NewInt(1), broker, 1)
	require.ErrorIs(t, err, ErrNotCollateralOwner)
}

func TestAddBrokerLockValidations(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.nft.Mint(borrower, big.NewInt(1)))
	contract := f.nft.Address()

	err := f.ctrl.AddBrokerLock(borrower, contract, big.NewInt(1), common.Address{}, f.unix()+1)
	require.ErrorIs(t, err, ErrBrokerIsZero)

	err = f.ctrl.AddBrokerLock(borrower, contract, big.NewInt(1), broker, f.unix()+maxLockDuration+1)
	require.ErrorIs(t, err, ErrExpirationTooFar)

	start := f.unix()
	require.NoError(t, f.ctrl.AddBrokerLock(borrower, contract, big.NewInt(1), broker, start+100))
	lock, err := f.ctrl.BrokerLock(contract, big.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, BrokerLock{Broker: broker, Expiration: start + 100}, lock)

	f.now += 100
	err = f.ctrl.AddBrokerLock(borrower, contract, big.NewInt(1), broker, 1)
	require.ErrorIs(t, err, ErrLockExists)

	f.now++
	require.NoError(t, f.ctrl.AddBrokerLock(borrower, contract, big.NewInt(1), broker, start+102))

	added := f.rec.OfType(events.TypeBrokerLockAdded)
	require.Len(t, added, 2)
	last := added[1].(events.BrokerLockAdded)
	require.Equal(t, contract, last.Contract)
	require.EqualValues(t, start+102, last.Expiration)
}

func TestAddBrokerLockForPunk(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.punks.Assign(borrower, 7))
	require.NoError(t, f.ctrl.AddBrokerLock(borrower, f.punks.Address(), big.NewInt(7), broker, f.unix()+10))
	status, err := f.ctrl.CollateralStatus(f.punks.Address(), big.NewInt(7))
	require.NoError(t, err)
	require.Equal(t, broker, status.BrokerLock.Broker)
}

func TestRemoveBrokerLock(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.nft.Mint(borrower, big.NewInt(1)))
	contract := f.nft.Address()
	require.NoError(t, f.ctrl.AddBrokerLock(borrower, contract, big.NewInt(1), broker, f.unix()+100))

	require.ErrorIs(t, f.ctrl.RemoveBrokerLock(borrower, contract, big.NewInt(1)), ErrNotBroker)
	require.NoError(t, f.ctrl.RemoveBrokerLock(broker, contract, big.NewInt(1)))

	status, err := f.ctrl.CollateralStatus(contract, big.NewInt(1))
	require.NoError(t, err)
	require.Zero(t, status.BrokerLock.Expiration)
	require.Len(t, f.rec.OfType(events.TypeBrokerLockRemoved), 1)
}

func TestSetMaxBrokerLockDuration(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.ctrl.SetMaxBrokerLockDuration(random, 1), ownership.ErrNotOwner)
	require.NoError(t, f.ctrl.SetMaxBrokerLockDuration(owner, maxLockDuration+1))

	duration, err := f.ctrl.MaxBrokerLockDuration()
	require.NoError(t, err)
	require.EqualValues(t, maxLockDuration+1, duration)

	changed := f.rec.OfType(events.TypeMaxBrokerLockDurationChanged)
	require.Len(t, changed, 1)
	ev := changed[0].(events.MaxBrokerLockDurationChanged)
	require.EqualValues(t, maxLockDuration, ev.Previous)
	require.EqualValues(t, maxLockDuration+1, ev.Duration)
}

func TestFailedCallEmitsNothing(t *testing.T) {
	f := newFixture(t)
	before := len(f.rec.Events())
	roots := []TraitRoot{{CollectionKeyHash: [32]byte{1}, Root: [32]byte{2}}}
	require.Error(t, f.ctrl.ChangeCollectionsTraitRoots(random, roots))
	require.Len(t, f.rec.Events(), before)
}
