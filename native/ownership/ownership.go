// Package ownership implements the two-step owner handover shared by lending
// markets and the collateral controller: the owner proposes a successor and
// the successor claims.
package ownership

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"p2pnfts/core/events"
)

var (
	ErrNotOwner         = errors.New("ownership: not owner")
	ErrNotProposedOwner = errors.New("ownership: not the proposed owner")
	ErrZeroAddress      = errors.New("ownership: address is zero")
	ErrNilState         = errors.New("ownership: state not configured")
)

const paramKey = "ownership"

// Store persists the ownership record. Both core/state stores satisfy it.
type Store interface {
	Param(name string, out interface{}) (bool, error)
	SetParam(name string, value interface{}) error
}

// Record is the persisted ownership state. Proposed is the zero address when
// no handover is pending.
type Record struct {
	Owner    common.Address
	Proposed common.Address
}

// Ownership guards a single contract address.
type Ownership struct {
	store    Store
	contract common.Address
}

func New(store Store, contract common.Address) *Ownership {
	return &Ownership{store: store, contract: contract}
}

// Init records owner when no owner has been stored yet.
func (o *Ownership) Init(owner common.Address) error {
	if owner == (common.Address{}) {
		return ErrZeroAddress
	}
	rec, ok, err := o.load()
	if err != nil {
		return err
	}
	if ok && rec.Owner != (common.Address{}) {
		return nil
	}
	return o.store.SetParam(paramKey, Record{Owner: owner})
}

func (o *Ownership) Record() (Record, error) {
	rec, _, err := o.load()
	return rec, err
}

func (o *Ownership) Owner() (common.Address, error) {
	rec, _, err := o.load()
	return rec.Owner, err
}

// RequireOwner fails with ErrNotOwner unless caller is the current owner.
func (o *Ownership) RequireOwner(caller common.Address) error {
	rec, _, err := o.load()
	if err != nil {
		return err
	}
	if rec.Owner == (common.Address{}) || rec.Owner != caller {
		return ErrNotOwner
	}
	return nil
}

// Propose nominates proposed as the next owner. A later proposal replaces an
// earlier one.
func (o *Ownership) Propose(caller, proposed common.Address) (events.OwnerProposed, error) {
	if err := o.RequireOwner(caller); err != nil {
		return events.OwnerProposed{}, err
	}
	if proposed == (common.Address{}) {
		return events.OwnerProposed{}, ErrZeroAddress
	}
	rec, _, err := o.load()
	if err != nil {
		return events.OwnerProposed{}, err
	}
	rec.Proposed = proposed
	if err := o.store.SetParam(paramKey, rec); err != nil {
		return events.OwnerProposed{}, err
	}
	return events.OwnerProposed{Contract: o.contract, Owner: rec.Owner, Proposed: proposed}, nil
}

// Claim completes a pending handover.
func (o *Ownership) Claim(caller common.Address) (events.OwnershipTransferred, error) {
	rec, _, err := o.load()
	if err != nil {
		return events.OwnershipTransferred{}, err
	}
	if rec.Proposed == (common.Address{}) || rec.Proposed != caller {
		return events.OwnershipTransferred{}, ErrNotProposedOwner
	}
	previous := rec.Owner
	rec = Record{Owner: caller}
	if err := o.store.SetParam(paramKey, rec); err != nil {
		return events.OwnershipTransferred{}, err
	}
	return events.OwnershipTransferred{Contract: o.contract, Previous: previous, Owner: caller}, nil
}

func (o *Ownership) load() (Record, bool, error) {
	if o == nil || o.store == nil {
		return Record{}, false, ErrNilState
	}
	var rec Record
	ok, err := o.store.Param(paramKey, &rec)
	return rec, ok, err
}
