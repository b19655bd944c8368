package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"p2pnfts/core/types"
)

const (
	TypeProtocolFeeSet               = "admin.protocol_fee_set"
	TypeProtocolWalletChanged        = "admin.protocol_wallet_changed"
	TypeProxyAuthorizationChanged    = "admin.proxy_authorization_changed"
	TypeOwnerProposed                = "admin.owner_proposed"
	TypeOwnershipTransferred         = "admin.ownership_transferred"
	TypeContractsChanged             = "control.contracts_changed"
	TypeWhitelistChanged             = "control.whitelist_changed"
	TypeTraitRootChanged             = "control.trait_root_changed"
	TypeBrokerLockAdded              = "control.broker_lock_added"
	TypeBrokerLockRemoved            = "control.broker_lock_removed"
	TypeMaxBrokerLockDurationChanged = "control.max_broker_lock_duration_changed"
)

type ProtocolFeeSet struct {
	Market                common.Address
	PreviousUpfrontBps    uint64
	PreviousSettlementBps uint64
	UpfrontBps            uint64
	SettlementBps         uint64
}

func (ProtocolFeeSet) EventType() string { return TypeProtocolFeeSet }

func (e ProtocolFeeSet) Event() *types.Event {
	return &types.Event{Type: TypeProtocolFeeSet, Attributes: map[string]string{
		"market":                  e.Market.Hex(),
		"previous_upfront_bps":    strconv.FormatUint(e.PreviousUpfrontBps, 10),
		"previous_settlement_bps": strconv.FormatUint(e.PreviousSettlementBps, 10),
		"upfront_bps":             strconv.FormatUint(e.UpfrontBps, 10),
		"settlement_bps":          strconv.FormatUint(e.SettlementBps, 10),
	}}
}

type ProtocolWalletChanged struct {
	Market   common.Address
	Previous common.Address
	Wallet   common.Address
}

func (ProtocolWalletChanged) EventType() string { return TypeProtocolWalletChanged }

func (e ProtocolWalletChanged) Event() *types.Event {
	return &types.Event{Type: TypeProtocolWalletChanged, Attributes: map[string]string{
		"market":   e.Market.Hex(),
		"previous": e.Previous.Hex(),
		"wallet":   e.Wallet.Hex(),
	}}
}

type ProxyAuthorizationChanged struct {
	Market  common.Address
	Proxy   common.Address
	Allowed bool
}

func (ProxyAuthorizationChanged) EventType() string { return TypeProxyAuthorizationChanged }

func (e ProxyAuthorizationChanged) Event() *types.Event {
	return &types.Event{Type: TypeProxyAuthorizationChanged, Attributes: map[string]string{
		"market":  e.Market.Hex(),
		"proxy":   e.Proxy.Hex(),
		"allowed": strconv.FormatBool(e.Allowed),
	}}
}

// OwnerProposed is raised by any two-step owned contract (markets and the
// controller) when the owner nominates a successor.
type OwnerProposed struct {
	Contract common.Address
	Owner    common.Address
	Proposed common.Address
}

func (OwnerProposed) EventType() string { return TypeOwnerProposed }

func (e OwnerProposed) Event() *types.Event {
	return &types.Event{Type: TypeOwnerProposed, Attributes: map[string]string{
		"contract": e.Contract.Hex(),
		"owner":    e.Owner.Hex(),
		"proposed": e.Proposed.Hex(),
	}}
}

type OwnershipTransferred struct {
	Contract common.Address
	Previous common.Address
	Owner    common.Address
}

func (OwnershipTransferred) EventType() string { return TypeOwnershipTransferred }

func (e OwnershipTransferred) Event() *types.Event {
	return &types.Event{Type: TypeOwnershipTransferred, Attributes: map[string]string{
		"contract": e.Contract.Hex(),
		"previous": e.Previous.Hex(),
		"owner":    e.Owner.Hex(),
	}}
}

type ContractsChanged struct {
	Controller        common.Address
	CollectionKeyHash [32]byte
	Previous          common.Address
	Contract          common.Address
}

func (ContractsChanged) EventType() string { return TypeContractsChanged }

func (e ContractsChanged) Event() *types.Event {
	return &types.Event{Type: TypeContractsChanged, Attributes: map[string]string{
		"controller":          e.Controller.Hex(),
		"collection_key_hash": hash(e.CollectionKeyHash),
		"previous":            e.Previous.Hex(),
		"contract":            e.Contract.Hex(),
	}}
}

type WhitelistChanged struct {
	Controller common.Address
	Contract   common.Address
	Enabled    bool
}

func (WhitelistChanged) EventType() string { return TypeWhitelistChanged }

func (e WhitelistChanged) Event() *types.Event {
	return &types.Event{Type: TypeWhitelistChanged, Attributes: map[string]string{
		"controller": e.Controller.Hex(),
		"contract":   e.Contract.Hex(),
		"enabled":    strconv.FormatBool(e.Enabled),
	}}
}

type TraitRootChanged struct {
	Controller        common.Address
	CollectionKeyHash [32]byte
	Root              [32]byte
}

func (TraitRootChanged) EventType() string { return TypeTraitRootChanged }

func (e TraitRootChanged) Event() *types.Event {
	return &types.Event{Type: TypeTraitRootChanged, Attributes: map[string]string{
		"controller":          e.Controller.Hex(),
		"collection_key_hash": hash(e.CollectionKeyHash),
		"root":                hash(e.Root),
	}}
}

type BrokerLockAdded struct {
	Controller common.Address
	Contract   common.Address
	TokenID    *big.Int
	Broker     common.Address
	Expiration uint64
}

func (BrokerLockAdded) EventType() string { return TypeBrokerLockAdded }

func (e BrokerLockAdded) Event() *types.Event {
	return &types.Event{Type: TypeBrokerLockAdded, Attributes: map[string]string{
		"controller": e.Controller.Hex(),
		"contract":   e.Contract.Hex(),
		"token_id":   amount(e.TokenID),
		"broker":     e.Broker.Hex(),
		"expiration": strconv.FormatUint(e.Expiration, 10),
	}}
}

type BrokerLockRemoved struct {
	Controller common.Address
	Contract   common.Address
	TokenID    *big.Int
	Broker     common.Address
}

func (BrokerLockRemoved) EventType() string { return TypeBrokerLockRemoved }

func (e BrokerLockRemoved) Event() *types.Event {
	return &types.Event{Type: TypeBrokerLockRemoved, Attributes: map[string]string{
		"controller": e.Controller.Hex(),
		"contract":   e.Contract.Hex(),
		"token_id":   amount(e.TokenID),
		"broker":     e.Broker.Hex(),
	}}
}

type MaxBrokerLockDurationChanged struct {
	Controller common.Address
	Previous   uint64
	Duration   uint64
}

func (MaxBrokerLockDurationChanged) EventType() string { return TypeMaxBrokerLockDurationChanged }

func (e MaxBrokerLockDurationChanged) Event() *types.Event {
	return &types.Event{Type: TypeMaxBrokerLockDurationChanged, Attributes: map[string]string{
		"controller": e.Controller.Hex(),
		"previous":   strconv.FormatUint(e.Previous, 10),
		"duration":   strconv.FormatUint(e.Duration, 10),
	}}
}
