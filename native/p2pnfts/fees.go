package p2pnfts

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var basisPoints = big.NewInt(10_000)

// ProtocolFee builds the protocol slot of a new loan. The upfront amount is
// floor(principal × upfrontBps / 10000).
func ProtocolFee(principal *big.Int, upfrontBps, settlementBps uint64, wallet common.Address) Fee {
	return Fee{
		Type:          FeeTypeProtocol,
		UpfrontAmount: bpsOf(principal, upfrontBps),
		SettlementBps: settlementBps,
		Wallet:        wallet,
	}
}

// SettlementAmount returns floor(interest × bps / 10000).
func SettlementAmount(interest *big.Int, bps uint64) *big.Int {
	return bpsOf(interest, bps)
}

// AccruedInterest returns the interest owed on loan at the given time. Flat
// loans owe the full interest from the start. Pro-rata loans accrue linearly
// between start and maturity with the elapsed time clamped to that window.
func AccruedInterest(loan *Loan, at uint64) *big.Int {
	if loan == nil || loan.Interest == nil {
		return new(big.Int)
	}
	if !loan.ProRata || loan.Maturity <= loan.StartTime {
		return new(big.Int).Set(loan.Interest)
	}
	switch {
	case at <= loan.StartTime:
		return new(big.Int)
	case at >= loan.Maturity:
		return new(big.Int).Set(loan.Interest)
	}
	elapsed := new(big.Int).SetUint64(at - loan.StartTime)
	duration := new(big.Int).SetUint64(loan.Maturity - loan.StartTime)
	out := new(big.Int).Mul(loan.Interest, elapsed)
	return out.Quo(out, duration)
}

// UpfrontFees is the total deducted from a new loan's principal for the
// protocol, origination and lender broker slots.
func UpfrontFees(fees [4]Fee) *big.Int {
	total := new(big.Int)
	for _, slot := range []int{slotProtocol, slotOrigination, slotLenderBroker} {
		if amt := fees[slot].UpfrontAmount; amt != nil {
			total.Add(total, amt)
		}
	}
	return total
}

// SettlementFees splits interest into the protocol, lender broker and
// borrower broker settlement amounts in that order. Zero amounts are kept.
func SettlementFees(loan *Loan, interest *big.Int) []FeePayment {
	out := make([]FeePayment, 0, 3)
	for _, slot := range []int{slotProtocol, slotLenderBroker, slotBorrowerBroker} {
		fee := loan.Fees[slot]
		out = append(out, FeePayment{
			Type:   fee.Type,
			Wallet: fee.Wallet,
			Amount: SettlementAmount(interest, fee.SettlementBps),
		})
	}
	return out
}

// totalPayments sums the amounts of a payment list.
func totalPayments(payments []FeePayment) *big.Int {
	total := new(big.Int)
	for _, p := range payments {
		if p.Amount != nil {
			total.Add(total, p.Amount)
		}
	}
	return total
}

func nonZeroPayments(payments []FeePayment) []FeePayment {
	out := make([]FeePayment, 0, len(payments))
	for _, p := range payments {
		if p.Amount != nil && p.Amount.Sign() > 0 {
			out = append(out, p)
		}
	}
	return out
}

// projectedInterest is what a loan built from offer would owe if it ran from
// start until end.
func projectedInterest(offer Offer, start, end uint64) *big.Int {
	interest := orZero(offer.Interest)
	if !offer.ProRata || offer.Duration == 0 {
		return interest
	}
	if end <= start {
		return new(big.Int)
	}
	interest.Mul(interest, new(big.Int).SetUint64(end-start))
	return interest.Quo(interest, new(big.Int).SetUint64(offer.Duration))
}

// MaxInterestDelta bounds the extra interest the borrower may owe by the old
// maturity after switching from loan to offer at time at. It is the larger of
// the new offer's flat interest (zero when pro-rata) and the new interest
// projected to the old maturity minus the old loan's remaining interest.
func MaxInterestDelta(loan *Loan, offer Offer, at uint64) *big.Int {
	flat := new(big.Int)
	if !offer.ProRata {
		flat = orZero(offer.Interest)
	}
	remaining := new(big.Int).Sub(orZero(loan.Interest), AccruedInterest(loan, at))
	projected := projectedInterest(offer, at, loan.Maturity)
	delta := projected.Sub(projected, remaining)
	if delta.Cmp(flat) > 0 {
		return delta
	}
	return flat
}

func bpsOf(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || bps == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Quo(out, basisPoints)
}
