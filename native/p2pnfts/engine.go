// Package p2pnfts implements a peer-to-peer lending market backed by NFT
// collateral. Lenders sign offers off chain, borrowers consume them to open
// loans, and loans end by repayment, default claim or lender replacement.
// Only a commitment of each loan is stored; callers present the full record
// on every operation.
package p2pnfts

import (
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"p2pnfts/core/events"
	"p2pnfts/core/journal"
	"p2pnfts/native/control"
	"p2pnfts/native/ownership"
)

const (
	paramProtocolFees   = "protocol-fees"
	paramProtocolWallet = "protocol-wallet"
)

type engineState interface {
	LoanCommitment(id [32]byte) ([32]byte, bool, error)
	SetLoanCommitment(id, digest [32]byte) error
	DeleteLoanCommitment(id [32]byte) error
	OfferCount(id [32]byte) (uint64, error)
	SetOfferCount(id [32]byte, count uint64) error
	OfferRevoked(id [32]byte) (bool, error)
	SetOfferRevoked(id [32]byte) error
	PendingTransfer(addr common.Address) (*big.Int, error)
	SetPendingTransfer(addr common.Address, amount *big.Int) error
	ProxyAuthorized(addr common.Address) (bool, error)
	SetProxyAuthorized(addr common.Address, allowed bool) error
	LoanNonce() (uint64, error)
	SetLoanNonce(nonce uint64) error
	Param(name string, out interface{}) (bool, error)
	SetParam(name string, value interface{}) error
}

// CollateralGateway is the view of the collateral controller the market
// needs: collection resolution, the whitelist, trait roots and broker locks.
type CollateralGateway interface {
	ContractFor(collectionKeyHash [32]byte) (common.Address, error)
	IsWhitelisted(contract common.Address) (bool, error)
	TraitRoot(collectionKeyHash [32]byte) ([32]byte, error)
	BrokerLock(contract common.Address, tokenID *big.Int) (control.BrokerLock, error)
	MaxBrokerLockDuration() (uint64, error)
	PlaceBrokerLock(caller, contract common.Address, tokenID *big.Int, broker common.Address, expiration, now uint64) (events.Event, error)
}

// CollateralTransfers moves collateral between owners and the market escrow.
type CollateralTransfers interface {
	TransferToEscrow(contract, owner, escrow common.Address, tokenID *big.Int) error
	TransferFromEscrow(contract, escrow, to common.Address, tokenID *big.Int) error
}

// DelegationRegistry records wallets allowed to act for escrowed tokens.
type DelegationRegistry interface {
	DelegateERC721(vault, delegate, contract common.Address, tokenID *big.Int, rights [32]byte, enable bool)
}

// Metrics observes engine activity.
type Metrics interface {
	ObserveOperation(operation string, err error, elapsed time.Duration)
	ObservePendingTransfer(amount *big.Int)
}

// Config describes one market. A zero PaymentToken selects the native asset.
type Config struct {
	Name                     string
	Address                  common.Address
	ChainID                  *big.Int
	PaymentToken             common.Address
	Owner                    common.Address
	ProtocolWallet           common.Address
	ProtocolUpfrontBps       uint64
	ProtocolSettlementBps    uint64
	MaxProtocolUpfrontBps    uint64
	MaxProtocolSettlementBps uint64
	BorrowerBrokerPolicy     BorrowerBrokerPolicy
}

// ProtocolFees are the rates applied to new loans.
type ProtocolFees struct {
	UpfrontBps    uint64
	SettlementBps uint64
}

// Engine is one lending market. Entry points are atomic: every journaled
// mutation made during a failed call is reverted and its events dropped. The
// engine is not safe for concurrent use.
type Engine struct {
	cfg        Config
	state      engineState
	ownership  *ownership.Ownership
	journal    *journal.Journal
	gateway    CollateralGateway
	collateral CollateralTransfers
	delegation DelegationRegistry
	rails      PaymentRails
	emitter    events.Emitter
	buffer     events.Buffer
	nowFn      func() int64
	logger     *slog.Logger
	metrics    Metrics
}

// NewEngine constructs a market engine. Collaborators are wired with the
// setters before Initialize is called.
func NewEngine(cfg Config) *Engine {
	if cfg.ChainID != nil {
		cfg.ChainID = new(big.Int).Set(cfg.ChainID)
	}
	return &Engine{
		cfg:     cfg,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		logger:  slog.Default(),
	}
}

// SetState wires the persistence layer and the journal shared with the
// controller and the token ledgers.
func (e *Engine) SetState(state engineState, j *journal.Journal) {
	if e == nil {
		return
	}
	e.state = state
	e.journal = j
	if store, ok := state.(ownership.Store); ok {
		e.ownership = ownership.New(store, e.cfg.Address)
	}
}

func (e *Engine) SetGateway(gateway CollateralGateway) {
	if e == nil {
		return
	}
	e.gateway = gateway
}

func (e *Engine) SetCollateral(transfers CollateralTransfers) {
	if e == nil {
		return
	}
	e.collateral = transfers
}

func (e *Engine) SetDelegation(registry DelegationRegistry) {
	if e == nil {
		return
	}
	e.delegation = registry
}

func (e *Engine) SetPaymentRails(rails PaymentRails) {
	if e == nil {
		return
	}
	e.rails = rails
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil {
		return
	}
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger.With("market_address", e.cfg.Address.Hex())
}

func (e *Engine) SetMetrics(m Metrics) {
	if e == nil {
		return
	}
	e.metrics = m
}

// Initialize stores the owner, protocol fees and protocol wallet on first
// start. Values already present in state are kept.
func (e *Engine) Initialize() error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.cfg.ProtocolUpfrontBps > e.cfg.MaxProtocolUpfrontBps || e.cfg.ProtocolSettlementBps > e.cfg.MaxProtocolSettlementBps {
		return ErrProtocolFeeExceedsMax
	}
	if e.cfg.ProtocolWallet == (common.Address{}) {
		return ErrZeroWallet
	}
	return e.journal.Atomically(func() error {
		if err := e.ownership.Init(e.cfg.Owner); err != nil {
			return err
		}
		var fees ProtocolFees
		ok, err := e.state.Param(paramProtocolFees, &fees)
		if err != nil {
			return err
		}
		if !ok {
			fees = ProtocolFees{UpfrontBps: e.cfg.ProtocolUpfrontBps, SettlementBps: e.cfg.ProtocolSettlementBps}
			if err := e.state.SetParam(paramProtocolFees, fees); err != nil {
				return err
			}
		}
		var wallet common.Address
		ok, err = e.state.Param(paramProtocolWallet, &wallet)
		if err != nil || ok {
			return err
		}
		return e.state.SetParam(paramProtocolWallet, e.cfg.ProtocolWallet)
	})
}

// Address is the market's own account, which also holds escrowed collateral
// and funds in transit.
func (e *Engine) Address() common.Address { return e.cfg.Address }

func (e *Engine) Name() string { return e.cfg.Name }

func (e *Engine) ChainID() *big.Int { return copyBig(e.cfg.ChainID) }

// PaymentToken returns the market's payment token; the zero address denotes
// the native asset.
func (e *Engine) PaymentToken() common.Address { return e.cfg.PaymentToken }

func (e *Engine) IsNative() bool { return e.cfg.PaymentToken == (common.Address{}) }

func (e *Engine) BorrowerBrokerPolicy() BorrowerBrokerPolicy { return e.cfg.BorrowerBrokerPolicy }

// MaxProtocolFees returns the configured caps for SetProtocolFee.
func (e *Engine) MaxProtocolFees() ProtocolFees {
	return ProtocolFees{UpfrontBps: e.cfg.MaxProtocolUpfrontBps, SettlementBps: e.cfg.MaxProtocolSettlementBps}
}

// run executes fn atomically with the call's timestamp and publishes the
// buffered events once it succeeds.
func (e *Engine) run(operation string, fn func(now uint64) error) error {
	if err := e.ready(); err != nil {
		return err
	}
	started := time.Now()
	now := e.now()
	e.buffer.Reset()
	err := e.journal.Atomically(func() error { return fn(now) })
	if e.metrics != nil {
		e.metrics.ObserveOperation(operation, err, time.Since(started))
	}
	if err != nil {
		e.buffer.Reset()
		e.logger.Debug("operation rejected", "operation", operation, "error", err)
		return err
	}
	e.buffer.Flush(e.emitter)
	return nil
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.ownership == nil {
		return errNilState
	}
	return nil
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	ts := e.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) protocolFees() (ProtocolFees, error) {
	var fees ProtocolFees
	if _, err := e.state.Param(paramProtocolFees, &fees); err != nil {
		return ProtocolFees{}, err
	}
	return fees, nil
}

func (e *Engine) protocolWallet() (common.Address, error) {
	var wallet common.Address
	if _, err := e.state.Param(paramProtocolWallet, &wallet); err != nil {
		return common.Address{}, err
	}
	return wallet, nil
}

// requireLoan checks the supplied loan against its stored commitment.
func (e *Engine) requireLoan(loan *Loan) error {
	if loan == nil || loan.Amount == nil || loan.Interest == nil || loan.CollateralTokenID == nil {
		return ErrInvalidLoan
	}
	stored, ok, err := e.state.LoanCommitment(loan.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidLoan
	}
	digest, err := loan.Commitment()
	if err != nil {
		return ErrInvalidLoan
	}
	if digest != stored {
		return ErrInvalidLoan
	}
	return nil
}

func (e *Engine) storeLoan(loan *Loan) error {
	if _, exists, err := e.state.LoanCommitment(loan.ID); err != nil {
		return err
	} else if exists {
		return ErrLoanAlreadyExists
	}
	digest, err := loan.Commitment()
	if err != nil {
		return err
	}
	return e.state.SetLoanCommitment(loan.ID, digest)
}

func (e *Engine) adjustOfferCount(offerID [32]byte, delta int) error {
	count, err := e.state.OfferCount(offerID)
	if err != nil {
		return err
	}
	switch {
	case delta > 0:
		count += uint64(delta)
	case uint64(-delta) >= count:
		count = 0
	default:
		count -= uint64(-delta)
	}
	return e.state.SetOfferCount(offerID, count)
}

func (e *Engine) nextLoanNonce() (uint64, error) {
	nonce, err := e.state.LoanNonce()
	if err != nil {
		return 0, err
	}
	if err := e.state.SetLoanNonce(nonce + 1); err != nil {
		return 0, err
	}
	return nonce, nil
}

// Validate reports whether loan matches a live commitment.
func (e *Engine) Validate(loan *Loan) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.requireLoan(loan)
}

// LoanCommitment returns the stored commitment for id.
func (e *Engine) LoanCommitment(id [32]byte) ([32]byte, bool, error) {
	if err := e.ready(); err != nil {
		return [32]byte{}, false, err
	}
	return e.state.LoanCommitment(id)
}

// OfferCount returns the number of open loans created from the offer.
func (e *Engine) OfferCount(offerID [32]byte) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.state.OfferCount(offerID)
}

func (e *Engine) IsOfferRevoked(offerID [32]byte) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	return e.state.OfferRevoked(offerID)
}

// ProtocolFees returns the rates applied to new loans.
func (e *Engine) ProtocolFees() (ProtocolFees, error) {
	if err := e.ready(); err != nil {
		return ProtocolFees{}, err
	}
	return e.protocolFees()
}

func (e *Engine) ProtocolWallet() (common.Address, error) {
	if err := e.ready(); err != nil {
		return common.Address{}, err
	}
	return e.protocolWallet()
}
