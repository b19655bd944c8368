// Package p2pnftsd hosts the lending markets and the collateral controller of
// one deployment behind an HTTP API. All mutations run one at a time on a
// single journal so every call is atomic across markets, the controller and
// the token ledgers.
package p2pnftsd

import (
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"p2pnfts/config"
	"p2pnfts/core/events"
	"p2pnfts/core/journal"
	"p2pnfts/core/state"
	"p2pnfts/native/control"
	"p2pnfts/native/p2pnfts"
	"p2pnfts/native/token"
	"p2pnfts/storage"
)

// OfferIndex records the offer each new loan was opened from.
type OfferIndex interface {
	AttachOffer(loanID, offerID [32]byte) error
}

// NodeOptions carries the optional collaborators of a Node.
type NodeOptions struct {
	Emitter events.Emitter
	Offers  OfferIndex
	Metrics p2pnfts.Metrics
	Logger  *slog.Logger
	Now     func() int64
}

// MarketInfo is the static description of a hosted market.
type MarketInfo struct {
	Name                 string
	Address              common.Address
	PaymentToken         common.Address
	PaymentSymbol        string
	Decimals             int32
	Native               bool
	BorrowerBrokerPolicy p2pnfts.BorrowerBrokerPolicy
	MaxProtocolFees      p2pnfts.ProtocolFees
}

// Node owns the world state of a deployment.
type Node struct {
	mu sync.Mutex

	network     *config.Network
	journal     *journal.Journal
	controller  *control.Controller
	markets     map[string]*p2pnfts.Engine
	order       []string
	tokens      map[string]*token.ERC20
	bank        *token.NativeBank
	wrapped     *token.WrappedNative
	nfts        map[string]*token.ERC721
	punks       map[string]*token.PunkMarket
	collections map[string]config.Collection
	delegation  *token.DelegationRegistry
	ledgers     *state.LedgerStore
	offers      OfferIndex
	nowFn       func() int64
	logger      *slog.Logger
}

// NewNode builds the controller, token ledgers and markets described by
// network on top of db. Collections are registered with the controller only
// the first time they are seen so runtime changes survive restarts on a
// persistent backend. The asset ledgers are restored from db when a snapshot
// exists; otherwise the genesis seeds are applied and saved.
func NewNode(network *config.Network, db storage.Database, opts NodeOptions) (*Node, error) {
	if network == nil || db == nil {
		return nil, fmt.Errorf("p2pnftsd: network and database required")
	}
	if opts.Emitter == nil {
		opts.Emitter = events.NoopEmitter{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() int64 { return time.Now().Unix() }
	}

	j := journal.New()
	n := &Node{
		network:     network,
		journal:     j,
		markets:     make(map[string]*p2pnfts.Engine),
		tokens:      make(map[string]*token.ERC20),
		bank:        token.NewNativeBank(j),
		nfts:        make(map[string]*token.ERC721),
		punks:       make(map[string]*token.PunkMarket),
		collections: make(map[string]config.Collection),
		delegation:  token.NewDelegationRegistry(j),
		ledgers:     state.NewLedgerStore(db, j, network.Controller),
		offers:      opts.Offers,
		nowFn:       opts.Now,
		logger:      opts.Logger,
	}
	n.wrapped = token.NewWrappedNative(network.Wrapped.Address, n.bank, j)
	for _, tok := range network.Tokens {
		n.tokens[strings.ToUpper(tok.Symbol)] = token.NewERC20(tok.Address, tok.Symbol, j)
	}

	registry := token.NewCollections()
	for _, coll := range network.Collections {
		n.collections[coll.Name] = coll
		switch coll.Kind {
		case config.KindPunk:
			market := token.NewPunkMarket(coll.Contract, j)
			n.punks[coll.Name] = market
			registry.Register(coll.Contract, token.PunkAdapter{Market: market})
		default:
			nft := token.NewERC721(coll.Contract, j)
			n.nfts[coll.Name] = nft
			registry.Register(coll.Contract, token.ERC721Adapter{Token: nft})
		}
	}

	n.controller = control.NewController(network.Controller)
	n.controller.SetState(state.NewControlStore(db, j, network.Controller), j)
	n.controller.SetCollateralOwners(registry)
	n.controller.SetEmitter(opts.Emitter)
	n.controller.SetNowFunc(opts.Now)
	if err := n.controller.Initialize(network.Owner, network.MaxBrokerLockDuration); err != nil {
		return nil, fmt.Errorf("initialize controller: %w", err)
	}
	if err := n.registerCollections(); err != nil {
		return nil, err
	}
	restored, err := n.restoreLedgers()
	if err != nil {
		return nil, fmt.Errorf("restore ledgers: %w", err)
	}
	if !restored {
		err := j.Atomically(func() error {
			if err := n.applySeeds(); err != nil {
				return err
			}
			return n.saveLedgers()
		})
		if err != nil {
			return nil, fmt.Errorf("apply genesis balances: %w", err)
		}
	}

	for _, cfg := range network.Markets {
		engine := p2pnfts.NewEngine(cfg)
		engine.SetState(state.NewLendingStore(db, j, cfg.Address), j)
		engine.SetGateway(n.controller)
		engine.SetCollateral(registry)
		engine.SetDelegation(n.delegation)
		rails := p2pnfts.PaymentRails{Wrapped: n.wrapped, Bank: n.bank}
		if !engine.IsNative() {
			tok := n.tokenByAddress(cfg.PaymentToken)
			if tok == nil {
				return nil, fmt.Errorf("market %s: payment token %s not hosted", cfg.Name, cfg.PaymentToken.Hex())
			}
			rails.Token = tok
		}
		engine.SetPaymentRails(rails)
		engine.SetEmitter(opts.Emitter)
		engine.SetNowFunc(opts.Now)
		engine.SetLogger(opts.Logger.With(slog.String("market", cfg.Name)))
		if opts.Metrics != nil {
			engine.SetMetrics(opts.Metrics)
		}
		if err := engine.Initialize(); err != nil {
			return nil, fmt.Errorf("initialize market %s: %w", cfg.Name, err)
		}
		n.markets[cfg.Name] = engine
		n.order = append(n.order, cfg.Name)
	}
	return n, nil
}

func (n *Node) registerCollections() error {
	var contracts []control.CollectionContract
	var whitelist []control.WhitelistRecord
	var roots []control.TraitRoot
	for _, coll := range n.network.Collections {
		current, err := n.controller.ContractFor(coll.KeyHash)
		if err != nil {
			return err
		}
		if current != (common.Address{}) {
			continue
		}
		contracts = append(contracts, control.CollectionContract{CollectionKeyHash: coll.KeyHash, Contract: coll.Contract})
		if coll.Whitelisted {
			whitelist = append(whitelist, control.WhitelistRecord{Contract: coll.Contract, Whitelisted: true})
		}
		if coll.TraitRoot != ([32]byte{}) {
			roots = append(roots, control.TraitRoot{CollectionKeyHash: coll.KeyHash, Root: coll.TraitRoot})
		}
	}
	owner, err := n.controller.Owner()
	if err != nil {
		return err
	}
	if len(contracts) > 0 {
		if err := n.controller.ChangeCollectionsContracts(owner, contracts); err != nil {
			return fmt.Errorf("register collections: %w", err)
		}
	}
	if len(whitelist) > 0 {
		if err := n.controller.ChangeWhitelistedCollections(owner, whitelist); err != nil {
			return fmt.Errorf("whitelist collections: %w", err)
		}
	}
	if len(roots) > 0 {
		if err := n.controller.ChangeCollectionsTraitRoots(owner, roots); err != nil {
			return fmt.Errorf("set trait roots: %w", err)
		}
	}
	return nil
}

func (n *Node) applySeeds() error {
	for _, bal := range n.network.Balances {
		if err := n.mint(bal.Asset, bal.Address, bal.Amount); err != nil {
			return err
		}
	}
	for _, nft := range n.network.NFTs {
		if err := n.mintNFT(nft.Collection, nft.Owner, nft.TokenID); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) tokenByAddress(addr common.Address) *token.ERC20 {
	for _, tok := range n.tokens {
		if tok.Address() == addr {
			return tok
		}
	}
	return nil
}

// exec serializes fn against every other call on the node. When fn changes
// anything the asset ledgers are saved in the same journal scope, so a failed
// save also rolls back the market and controller writes.
func (n *Node) exec(fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.journal.Atomically(func() error {
		mark := n.journal.Len()
		if err := fn(); err != nil {
			return err
		}
		if n.journal.Len() == mark {
			return nil
		}
		return n.saveLedgers()
	})
}

func (n *Node) withMarket(name string, fn func(*p2pnfts.Engine) error) error {
	return n.exec(func() error {
		engine, ok := n.markets[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownMarket, name)
		}
		return fn(engine)
	})
}

func (n *Node) Now() uint64 {
	now := n.nowFn()
	if now < 0 {
		return 0
	}
	return uint64(now)
}

func (n *Node) ChainID() *big.Int { return new(big.Int).Set(n.network.ChainID) }

func (n *Node) ControllerAddress() common.Address { return n.network.Controller }

// Markets describes every hosted market in genesis order.
func (n *Node) Markets() []MarketInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]MarketInfo, 0, len(n.order))
	for _, name := range n.order {
		out = append(out, n.describe(n.markets[name]))
	}
	return out
}

func (n *Node) Market(name string) (MarketInfo, error) {
	var info MarketInfo
	err := n.withMarket(name, func(e *p2pnfts.Engine) error {
		info = n.describe(e)
		return nil
	})
	return info, err
}

func (n *Node) describe(e *p2pnfts.Engine) MarketInfo {
	info := MarketInfo{
		Name:                 e.Name(),
		Address:              e.Address(),
		PaymentToken:         e.PaymentToken(),
		Native:               e.IsNative(),
		BorrowerBrokerPolicy: e.BorrowerBrokerPolicy(),
		MaxProtocolFees:      e.MaxProtocolFees(),
		PaymentSymbol:        config.NativeAsset,
		Decimals:             config.NativeDecimals,
	}
	if tok := n.tokenByAddress(e.PaymentToken()); tok != nil {
		info.PaymentSymbol = tok.Symbol()
		if cfg, ok := n.network.Token(tok.Symbol()); ok {
			info.Decimals = cfg.Decimals
		}
	}
	return info
}

// MarketState is the mutable configuration of a market.
type MarketState struct {
	Owner          common.Address
	ProposedOwner  common.Address
	ProtocolFees   p2pnfts.ProtocolFees
	ProtocolWallet common.Address
}

func (n *Node) MarketState(name string) (MarketState, error) {
	var out MarketState
	err := n.withMarket(name, func(e *p2pnfts.Engine) error {
		var err error
		if out.Owner, err = e.Owner(); err != nil {
			return err
		}
		if out.ProposedOwner, err = e.ProposedOwner(); err != nil {
			return err
		}
		if out.ProtocolFees, err = e.ProtocolFees(); err != nil {
			return err
		}
		out.ProtocolWallet, err = e.ProtocolWallet()
		return err
	})
	return out, err
}

// --- lending operations ---

func (n *Node) CreateLoan(market string, call p2pnfts.Call, req p2pnfts.CreateLoanRequest) (*p2pnfts.Loan, error) {
	var loan *p2pnfts.Loan
	err := n.withMarket(market, func(e *p2pnfts.Engine) error {
		var err error
		loan, err = e.CreateLoan(call, req)
		if err != nil {
			return err
		}
		n.attachOffer(loan)
		return nil
	})
	return loan, err
}

func (n *Node) SettleLoan(market string, call p2pnfts.Call, loan *p2pnfts.Loan) error {
	return n.withMarket(market, func(e *p2pnfts.Engine) error {
		return e.SettleLoan(call, loan)
	})
}

func (n *Node) ClaimDefaulted(market string, call p2pnfts.Call, loan *p2pnfts.Loan) error {
	return n.withMarket(market, func(e *p2pnfts.Engine) error {
		return e.ClaimDefaulted(call, loan)
	})
}

func (n *Node) ReplaceLoanLender(market string, call p2pnfts.Call, req p2pnfts.ReplaceLoanRequest) (*p2pnfts.Loan, error) {
	var loan *p2pnfts.Loan
	err := n.withMarket(market, func(e *p2pnfts.Engine) error {
		var err error
		loan, err = e.ReplaceLoanLender(call, req)
		if err != nil {
			return err
		}
		n.attachOffer(loan)
		return nil
	})
	return loan, err
}

// QuoteReplacement prices replacing loan with offer at the current time.
func (n *Node) QuoteReplacement(market string, loan *p2pnfts.Loan, offer p2pnfts.Offer) (p2pnfts.ReplacementSettlement, error) {
	var quote p2pnfts.ReplacementSettlement
	err := n.withMarket(market, func(e *p2pnfts.Engine) error {
		if err := e.Validate(loan); err != nil {
			return err
		}
		fees, err := e.ProtocolFees()
		if err != nil {
			return err
		}
		quote = p2pnfts.QuoteReplacement(loan, offer, fees.UpfrontBps, n.Now())
		return nil
	})
	return quote, err
}

func (n *Node) attachOffer(loan *p2pnfts.Loan) {
	if n.offers == nil || loan == nil {
		return
	}
	if err := n.offers.AttachOffer(loan.ID, loan.OfferID); err != nil {
		n.logger.Warn("index loan offer", slog.String("loan", common.Hash(loan.ID).Hex()), slog.Any("error", err))
	}
}

func (n *Node) RevokeOffer(market string, call p2pnfts.Call, signed p2pnfts.SignedOffer) error {
	return n.withMarket(market, func(e *p2pnfts.Engine) error {
		return e.RevokeOffer(call, signed)
	})
}

func (n *Node) ValidateLoan(market string, loan *p2pnfts.Loan) error {
	return n.withMarket(market, func(e *p2pnfts.Engine) error {
		return e.Validate(loan)
	})
}

// OfferStatus reports how many loans an offer funded and whether it was
// revoked.
func (n *Node) OfferStatus(market string, offerID [32]byte) (uint64, bool, error) {
	var count uint64
	var revoked bool
	err := n.withMarket(market, func(e *p2pnfts.Engine) error {
		var err error
		if count, err = e.OfferCount(offerID); err != nil {
			return err
		}
		revoked, err = e.IsOfferRevoked(offerID)
		return err
	})
	return count, revoked, err
}

func (n *Node) PendingTransfers(market string, wallet common.Address) (*big.Int, error) {
	var amount *big.Int
	err := n.withMarket(market, func(e *p2pnfts.Engine) error {
		var err error
		amount, err = e.PendingTransfers(wallet)
		return err
	})
	return amount, err
}

func (n *Node) ClaimPendingTransfers(market string, call p2pnfts.Call) (*big.Int, error) {
	var amount *big.Int
	err := n.withMarket(market, func(e *p2pnfts.Engine) error {
		var err error
		amount, err = e.ClaimPendingTransfers(call)
		return err
	})
	return amount, err
}

// --- market administration ---

func (n *Node) SetProtocolFee(market string, caller common.Address, fees p2pnfts.ProtocolFees) error {
	return n.withMarket(market, func(e *p2pnfts.Engine) error {
		return e.SetProtocolFee(caller, fees.UpfrontBps, fees.SettlementBps)
	})
}

func (n *Node) ChangeProtocolWallet(market string, caller, wallet common.Address) error {
	return n.withMarket(market, func(e *p2pnfts.Engine) error {
		return e.ChangeProtocolWallet(caller, wallet)
	})
}

func (n *Node) SetProxyAuthorization(market string, caller, proxy common.Address, allowed bool) error {
	return n.withMarket(market, func(e *p2pnfts.Engine) error {
		return e.SetProxyAuthorization(caller, proxy, allowed)
	})
}

func (n *Node) IsProxyAuthorized(market string, proxy common.Address) (bool, error) {
	var allowed bool
	err := n.withMarket(market, func(e *p2pnfts.Engine) error {
		var err error
		allowed, err = e.IsProxyAuthorized(proxy)
		return err
	})
	return allowed, err
}

func (n *Node) ProposeMarketOwner(market string, caller, proposed common.Address) error {
	return n.withMarket(market, func(e *p2pnfts.Engine) error {
		return e.ProposeOwner(caller, proposed)
	})
}

func (n *Node) ClaimMarketOwnership(market string, caller common.Address) error {
	return n.withMarket(market, func(e *p2pnfts.Engine) error {
		return e.ClaimOwnership(caller)
	})
}

// --- collateral controller ---

func (n *Node) collection(name string) (config.Collection, error) {
	coll, ok := n.collections[name]
	if !ok {
		return config.Collection{}, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	return coll, nil
}

// ControllerState is the readable configuration of the controller.
type ControllerState struct {
	Owner                 common.Address
	ProposedOwner         common.Address
	MaxBrokerLockDuration uint64
	Collections           []CollectionState
}

type CollectionState struct {
	Name        string
	KeyHash     [32]byte
	Contract    common.Address
	Kind        string
	Whitelisted bool
	TraitRoot   [32]byte
}

func (n *Node) ControllerState() (ControllerState, error) {
	var out ControllerState
	err := n.exec(func() error {
		var err error
		if out.Owner, err = n.controller.Owner(); err != nil {
			return err
		}
		if out.ProposedOwner, err = n.controller.ProposedOwner(); err != nil {
			return err
		}
		if out.MaxBrokerLockDuration, err = n.controller.MaxBrokerLockDuration(); err != nil {
			return err
		}
		names := make([]string, 0, len(n.collections))
		for name := range n.collections {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			coll := n.collections[name]
			st := CollectionState{Name: name, KeyHash: coll.KeyHash, Kind: coll.Kind}
			if st.Contract, err = n.controller.ContractFor(coll.KeyHash); err != nil {
				return err
			}
			if st.Contract != (common.Address{}) {
				if st.Whitelisted, err = n.controller.IsWhitelisted(st.Contract); err != nil {
					return err
				}
			}
			if st.TraitRoot, err = n.controller.TraitRoot(coll.KeyHash); err != nil {
				return err
			}
			out.Collections = append(out.Collections, st)
		}
		return nil
	})
	return out, err
}

func (n *Node) ChangeCollectionsContracts(caller common.Address, changes []control.CollectionContract) error {
	return n.exec(func() error { return n.controller.ChangeCollectionsContracts(caller, changes) })
}

func (n *Node) ChangeWhitelistedCollections(caller common.Address, records []control.WhitelistRecord) error {
	return n.exec(func() error { return n.controller.ChangeWhitelistedCollections(caller, records) })
}

func (n *Node) ChangeCollectionsTraitRoots(caller common.Address, roots []control.TraitRoot) error {
	return n.exec(func() error { return n.controller.ChangeCollectionsTraitRoots(caller, roots) })
}

func (n *Node) SetMaxBrokerLockDuration(caller common.Address, duration uint64) error {
	return n.exec(func() error { return n.controller.SetMaxBrokerLockDuration(caller, duration) })
}

func (n *Node) ProposeControllerOwner(caller, proposed common.Address) error {
	return n.exec(func() error { return n.controller.ProposeOwner(caller, proposed) })
}

func (n *Node) ClaimControllerOwnership(caller common.Address) error {
	return n.exec(func() error { return n.controller.ClaimOwnership(caller) })
}

func (n *Node) AddBrokerLock(caller, contract common.Address, tokenID *big.Int, broker common.Address, expiration uint64) error {
	return n.exec(func() error { return n.controller.AddBrokerLock(caller, contract, tokenID, broker, expiration) })
}

func (n *Node) RemoveBrokerLock(caller, contract common.Address, tokenID *big.Int) error {
	return n.exec(func() error { return n.controller.RemoveBrokerLock(caller, contract, tokenID) })
}

func (n *Node) CollateralStatus(contract common.Address, tokenID *big.Int) (control.CollateralStatus, error) {
	var status control.CollateralStatus
	err := n.exec(func() error {
		var err error
		status, err = n.controller.CollateralStatus(contract, tokenID)
		return err
	})
	return status, err
}

// --- simulated ledgers ---

// Mint credits amount of asset to holder. The wrapped token is minted by
// depositing freshly minted native value.
func (n *Node) Mint(asset string, holder common.Address, amount *big.Int) error {
	return n.exec(func() error {
		return n.journal.Atomically(func() error { return n.mint(asset, holder, amount) })
	})
}

func (n *Node) mint(asset string, holder common.Address, amount *big.Int) error {
	switch {
	case strings.EqualFold(asset, config.NativeAsset):
		return n.bank.Mint(holder, amount)
	case strings.EqualFold(asset, n.network.Wrapped.Symbol):
		if err := n.bank.Mint(holder, amount); err != nil {
			return err
		}
		return n.wrapped.Deposit(holder, amount)
	}
	tok, ok := n.tokens[strings.ToUpper(asset)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	return tok.Mint(holder, amount)
}

// Approve sets spender's allowance over holder's balance of a token asset.
func (n *Node) Approve(asset string, holder, spender common.Address, amount *big.Int) error {
	return n.exec(func() error {
		return n.journal.Atomically(func() error {
			if strings.EqualFold(asset, n.network.Wrapped.Symbol) {
				return n.wrapped.Approve(holder, spender, amount)
			}
			tok, ok := n.tokens[strings.ToUpper(asset)]
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
			}
			return tok.Approve(holder, spender, amount)
		})
	})
}

// Wrap converts holder's native value into the wrapped token.
func (n *Node) Wrap(holder common.Address, amount *big.Int) error {
	return n.exec(func() error {
		return n.journal.Atomically(func() error { return n.wrapped.Deposit(holder, amount) })
	})
}

func (n *Node) Balance(asset string, holder common.Address) (*big.Int, error) {
	var out *big.Int
	err := n.exec(func() error {
		switch {
		case strings.EqualFold(asset, config.NativeAsset):
			out = n.bank.BalanceOf(holder)
			return nil
		case strings.EqualFold(asset, n.network.Wrapped.Symbol):
			out = n.wrapped.BalanceOf(holder)
			return nil
		}
		tok, ok := n.tokens[strings.ToUpper(asset)]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
		}
		out = tok.BalanceOf(holder)
		return nil
	})
	return out, err
}

func (n *Node) MintNFT(collection string, holder common.Address, tokenID *big.Int) error {
	return n.exec(func() error {
		return n.journal.Atomically(func() error { return n.mintNFT(collection, holder, tokenID) })
	})
}

func (n *Node) mintNFT(collection string, holder common.Address, tokenID *big.Int) error {
	if nft, ok := n.nfts[collection]; ok {
		return nft.Mint(holder, tokenID)
	}
	if punks, ok := n.punks[collection]; ok {
		if tokenID == nil || !tokenID.IsUint64() {
			return token.ErrUnknownToken
		}
		return punks.Assign(holder, tokenID.Uint64())
	}
	return fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
}

// ApproveNFT lets the escrow of market pull holder's token: an ERC721
// approval, or a zero-price private sale offer for punks.
func (n *Node) ApproveNFT(collection string, holder common.Address, tokenID *big.Int, market string) error {
	return n.exec(func() error {
		engine, ok := n.markets[market]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownMarket, market)
		}
		return n.journal.Atomically(func() error {
			if nft, ok := n.nfts[collection]; ok {
				return nft.Approve(holder, engine.Address(), tokenID)
			}
			if punks, ok := n.punks[collection]; ok {
				if tokenID == nil || !tokenID.IsUint64() {
					return token.ErrUnknownToken
				}
				return punks.OfferPunkForSaleToAddress(holder, tokenID.Uint64(), new(big.Int), engine.Address())
			}
			return fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
		})
	})
}

// OwnerOf returns the current holder of a collateral token.
func (n *Node) OwnerOf(collection string, tokenID *big.Int) (common.Address, error) {
	var owner common.Address
	err := n.exec(func() error {
		if nft, ok := n.nfts[collection]; ok {
			var err error
			owner, err = nft.OwnerOf(tokenID)
			return err
		}
		if punks, ok := n.punks[collection]; ok {
			var err error
			owner, err = token.PunkAdapter{Market: punks}.OwnerOf(tokenID)
			return err
		}
		return fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	})
	return owner, err
}

// DelegatedTo reports whether delegate holds the all-rights delegation for a
// token escrowed by market.
func (n *Node) DelegatedTo(market, collection string, delegate common.Address, tokenID *big.Int) (bool, error) {
	var ok bool
	err := n.withMarket(market, func(e *p2pnfts.Engine) error {
		coll, err := n.collection(collection)
		if err != nil {
			return err
		}
		ok = n.delegation.CheckDelegateForERC721(delegate, e.Address(), coll.Contract, tokenID, [32]byte{})
		return nil
	})
	return ok, err
}
