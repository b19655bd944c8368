package control

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"p2pnfts/core/events"
	"p2pnfts/core/journal"
	"p2pnfts/native/ownership"
)

var (
	ErrNilState           = errors.New("control: state not configured")
	ErrNotCollateralOwner = errors.New("control: not owner")
	ErrLockExists         = errors.New("control: lock exists")
	ErrExpirationTooFar   = errors.New("control: expiration too far")
	ErrBrokerIsZero       = errors.New("control: broker is zero")
	ErrNotBroker          = errors.New("control: not broker")
	ErrBatchTooLarge      = errors.New("control: batch too large")
)

const maxLockDurationParam = "max-broker-lock-duration"

type controlState interface {
	Contract(keyHash [32]byte) (common.Address, error)
	SetContract(keyHash [32]byte, contract common.Address) error
	Whitelisted(contract common.Address) (bool, error)
	SetWhitelisted(contract common.Address, enabled bool) error
	TraitRoot(keyHash [32]byte) ([32]byte, error)
	SetTraitRoot(keyHash, root [32]byte) error
	BrokerLock(contract common.Address, tokenID *big.Int) (common.Address, uint64, error)
	SetBrokerLock(contract common.Address, tokenID *big.Int, broker common.Address, expiration uint64) error
	DeleteBrokerLock(contract common.Address, tokenID *big.Int) error
	Param(name string, out interface{}) (bool, error)
	SetParam(name string, value interface{}) error
}

// Controller is the collateral gateway shared by lending markets. It maps
// collection key hashes to contracts, keeps the collateral whitelist and trait
// roots, and tracks broker locks on individual tokens.
type Controller struct {
	address   common.Address
	state     controlState
	ownership *ownership.Ownership
	owners    CollateralOwners
	journal   *journal.Journal
	emitter   events.Emitter
	buffer    events.Buffer
	nowFn     func() int64
}

// NewController creates a controller at address. State, ownership records and
// collateral owners are wired with the setters.
func NewController(address common.Address) *Controller {
	return &Controller{
		address: address,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

func (c *Controller) Address() common.Address { return c.address }

// SetState configures the persistence backend and the journal shared with the
// markets.
func (c *Controller) SetState(state controlState, j *journal.Journal) {
	if c == nil {
		return
	}
	c.state = state
	c.journal = j
	if store, ok := state.(ownership.Store); ok {
		c.ownership = ownership.New(store, c.address)
	}
}

func (c *Controller) SetCollateralOwners(owners CollateralOwners) {
	if c == nil {
		return
	}
	c.owners = owners
}

// SetEmitter configures the event emitter used by the controller. Passing nil
// resets the emitter to a no-op implementation.
func (c *Controller) SetEmitter(emitter events.Emitter) {
	if c == nil {
		return
	}
	if emitter == nil {
		c.emitter = events.NoopEmitter{}
		return
	}
	c.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (c *Controller) SetNowFunc(now func() int64) {
	if c == nil {
		return
	}
	if now == nil {
		c.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	c.nowFn = now
}

// Initialize records the owner and the maximum broker lock duration on first
// start. Existing values are kept.
func (c *Controller) Initialize(owner common.Address, maxLockDuration uint64) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.journal.Atomically(func() error {
		if err := c.ownership.Init(owner); err != nil {
			return err
		}
		var current uint64
		ok, err := c.state.Param(maxLockDurationParam, &current)
		if err != nil || ok {
			return err
		}
		return c.state.SetParam(maxLockDurationParam, maxLockDuration)
	})
}

func (c *Controller) Owner() (common.Address, error) {
	if err := c.ready(); err != nil {
		return common.Address{}, err
	}
	return c.ownership.Owner()
}

func (c *Controller) ProposedOwner() (common.Address, error) {
	if err := c.ready(); err != nil {
		return common.Address{}, err
	}
	rec, err := c.ownership.Record()
	return rec.Proposed, err
}

func (c *Controller) ProposeOwner(caller, proposed common.Address) error {
	return c.run(func() error {
		ev, err := c.ownership.Propose(caller, proposed)
		if err != nil {
			return err
		}
		c.buffer.Emit(ev)
		return nil
	})
}

func (c *Controller) ClaimOwnership(caller common.Address) error {
	return c.run(func() error {
		ev, err := c.ownership.Claim(caller)
		if err != nil {
			return err
		}
		c.buffer.Emit(ev)
		return nil
	})
}

// ChangeCollectionsContracts updates the key hash to contract registry. The
// previous contract of a changed key loses its whitelist entry and the new
// one gains it.
func (c *Controller) ChangeCollectionsContracts(caller common.Address, changes []CollectionContract) error {
	return c.run(func() error {
		if err := c.ownership.RequireOwner(caller); err != nil {
			return err
		}
		for _, change := range changes {
			previous, err := c.state.Contract(change.CollectionKeyHash)
			if err != nil {
				return err
			}
			if previous != (common.Address{}) && previous != change.Contract {
				if err := c.state.SetWhitelisted(previous, false); err != nil {
					return err
				}
			}
			if err := c.state.SetContract(change.CollectionKeyHash, change.Contract); err != nil {
				return err
			}
			if change.Contract != (common.Address{}) {
				if err := c.state.SetWhitelisted(change.Contract, true); err != nil {
					return err
				}
			}
			c.buffer.Emit(events.ContractsChanged{
				Controller:        c.address,
				CollectionKeyHash: change.CollectionKeyHash,
				Previous:          previous,
				Contract:          change.Contract,
			})
		}
		return nil
	})
}

func (c *Controller) ChangeWhitelistedCollections(caller common.Address, records []WhitelistRecord) error {
	return c.run(func() error {
		if err := c.ownership.RequireOwner(caller); err != nil {
			return err
		}
		for _, rec := range records {
			if err := c.state.SetWhitelisted(rec.Contract, rec.Whitelisted); err != nil {
				return err
			}
			c.buffer.Emit(events.WhitelistChanged{Controller: c.address, Contract: rec.Contract, Enabled: rec.Whitelisted})
		}
		return nil
	})
}

func (c *Controller) ChangeCollectionsTraitRoots(caller common.Address, roots []TraitRoot) error {
	return c.run(func() error {
		if err := c.ownership.RequireOwner(caller); err != nil {
			return err
		}
		if len(roots) > MaxTraitRootBatch {
			return ErrBatchTooLarge
		}
		for _, root := range roots {
			if err := c.state.SetTraitRoot(root.CollectionKeyHash, root.Root); err != nil {
				return err
			}
			c.buffer.Emit(events.TraitRootChanged{Controller: c.address, CollectionKeyHash: root.CollectionKeyHash, Root: root.Root})
		}
		return nil
	})
}

func (c *Controller) SetMaxBrokerLockDuration(caller common.Address, duration uint64) error {
	return c.run(func() error {
		if err := c.ownership.RequireOwner(caller); err != nil {
			return err
		}
		previous, err := c.MaxBrokerLockDuration()
		if err != nil {
			return err
		}
		if err := c.state.SetParam(maxLockDurationParam, duration); err != nil {
			return err
		}
		c.buffer.Emit(events.MaxBrokerLockDurationChanged{Controller: c.address, Previous: previous, Duration: duration})
		return nil
	})
}

// AddBrokerLock reserves tokenID for broker. The caller must hold the token.
func (c *Controller) AddBrokerLock(caller, contract common.Address, tokenID *big.Int, broker common.Address, expiration uint64) error {
	return c.run(func() error {
		ev, err := c.PlaceBrokerLock(caller, contract, tokenID, broker, expiration, c.now())
		if err != nil {
			return err
		}
		c.buffer.Emit(ev)
		return nil
	})
}

// PlaceBrokerLock validates and stores a broker lock at the supplied time and
// returns the event instead of emitting it. Markets call it from inside their
// own atomic section and publish the event with their own.
func (c *Controller) PlaceBrokerLock(caller, contract common.Address, tokenID *big.Int, broker common.Address, expiration, now uint64) (events.Event, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if c.owners == nil {
		return nil, ErrNotCollateralOwner
	}
	holder, err := c.owners.OwnerOf(contract, tokenID)
	if err != nil || holder != caller {
		return nil, ErrNotCollateralOwner
	}
	if broker == (common.Address{}) {
		return nil, ErrBrokerIsZero
	}
	maxDuration, err := c.MaxBrokerLockDuration()
	if err != nil {
		return nil, err
	}
	if expiration > now+maxDuration {
		return nil, ErrExpirationTooFar
	}
	existing, err := c.BrokerLock(contract, tokenID)
	if err != nil {
		return nil, err
	}
	if existing.Live(now) {
		return nil, ErrLockExists
	}
	if err := c.state.SetBrokerLock(contract, tokenID, broker, expiration); err != nil {
		return nil, err
	}
	return events.BrokerLockAdded{
		Controller: c.address,
		Contract:   contract,
		TokenID:    new(big.Int).Set(tokenID),
		Broker:     broker,
		Expiration: expiration,
	}, nil
}

// RemoveBrokerLock lets the lock's broker release it early.
func (c *Controller) RemoveBrokerLock(caller, contract common.Address, tokenID *big.Int) error {
	return c.run(func() error {
		lock, err := c.BrokerLock(contract, tokenID)
		if err != nil {
			return err
		}
		if lock.Broker == (common.Address{}) || lock.Broker != caller {
			return ErrNotBroker
		}
		if err := c.state.DeleteBrokerLock(contract, tokenID); err != nil {
			return err
		}
		c.buffer.Emit(events.BrokerLockRemoved{Controller: c.address, Contract: contract, TokenID: new(big.Int).Set(tokenID), Broker: caller})
		return nil
	})
}

func (c *Controller) ContractFor(keyHash [32]byte) (common.Address, error) {
	if err := c.ready(); err != nil {
		return common.Address{}, err
	}
	return c.state.Contract(keyHash)
}

func (c *Controller) IsWhitelisted(contract common.Address) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	return c.state.Whitelisted(contract)
}

func (c *Controller) TraitRoot(keyHash [32]byte) ([32]byte, error) {
	if err := c.ready(); err != nil {
		return [32]byte{}, err
	}
	return c.state.TraitRoot(keyHash)
}

func (c *Controller) BrokerLock(contract common.Address, tokenID *big.Int) (BrokerLock, error) {
	if err := c.ready(); err != nil {
		return BrokerLock{}, err
	}
	broker, expiration, err := c.state.BrokerLock(contract, tokenID)
	if err != nil {
		return BrokerLock{}, err
	}
	return BrokerLock{Broker: broker, Expiration: expiration}, nil
}

func (c *Controller) CollateralStatus(contract common.Address, tokenID *big.Int) (CollateralStatus, error) {
	lock, err := c.BrokerLock(contract, tokenID)
	if err != nil {
		return CollateralStatus{}, err
	}
	listed, err := c.IsWhitelisted(contract)
	if err != nil {
		return CollateralStatus{}, err
	}
	return CollateralStatus{BrokerLock: lock, Whitelisted: listed}, nil
}

func (c *Controller) MaxBrokerLockDuration() (uint64, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	var duration uint64
	if _, err := c.state.Param(maxLockDurationParam, &duration); err != nil {
		return 0, err
	}
	return duration, nil
}

// run executes fn atomically and publishes the buffered events on success.
func (c *Controller) run(fn func() error) error {
	if err := c.ready(); err != nil {
		return err
	}
	c.buffer.Reset()
	if err := c.journal.Atomically(fn); err != nil {
		c.buffer.Reset()
		return err
	}
	c.buffer.Flush(c.emitter)
	return nil
}

func (c *Controller) ready() error {
	if c == nil || c.state == nil || c.ownership == nil {
		return ErrNilState
	}
	return nil
}

func (c *Controller) now() uint64 {
	if c == nil || c.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	ts := c.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}
