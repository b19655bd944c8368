package p2pnfts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var loanArguments abi.Arguments

func init() {
	loanType, err := abi.NewType("tuple", "Loan", []abi.ArgumentMarshaling{
		{Name: "id", Type: "bytes32"},
		{Name: "offer_id", Type: "bytes32"},
		{Name: "amount", Type: "uint256"},
		{Name: "interest", Type: "uint256"},
		{Name: "payment_token", Type: "address"},
		{Name: "maturity", Type: "uint256"},
		{Name: "start_time", Type: "uint256"},
		{Name: "borrower", Type: "address"},
		{Name: "lender", Type: "address"},
		{Name: "collateral_contract", Type: "address"},
		{Name: "collateral_token_id", Type: "uint256"},
		{Name: "fees", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
			{Name: "type", Type: "uint256"},
			{Name: "upfront_amount", Type: "uint256"},
			{Name: "settlement_bps", Type: "uint256"},
			{Name: "wallet", Type: "address"},
		}},
		{Name: "pro_rata", Type: "bool"},
	})
	if err != nil {
		panic(fmt.Sprintf("p2pnfts: loan abi type: %v", err))
	}
	loanArguments = abi.Arguments{{Type: loanType}}
}

type abiFee struct {
	Type          *big.Int       `abi:"type"`
	UpfrontAmount *big.Int       `abi:"upfront_amount"`
	SettlementBps *big.Int       `abi:"settlement_bps"`
	Wallet        common.Address `abi:"wallet"`
}

type abiLoan struct {
	ID                 [32]byte       `abi:"id"`
	OfferID            [32]byte       `abi:"offer_id"`
	Amount             *big.Int       `abi:"amount"`
	Interest           *big.Int       `abi:"interest"`
	PaymentToken       common.Address `abi:"payment_token"`
	Maturity           *big.Int       `abi:"maturity"`
	StartTime          *big.Int       `abi:"start_time"`
	Borrower           common.Address `abi:"borrower"`
	Lender             common.Address `abi:"lender"`
	CollateralContract common.Address `abi:"collateral_contract"`
	CollateralTokenID  *big.Int       `abi:"collateral_token_id"`
	Fees               []abiFee       `abi:"fees"`
	ProRata            bool           `abi:"pro_rata"`
}

// Commitment returns keccak(abi.encode(loan)). It is the only loan data kept
// in state.
func (l *Loan) Commitment() ([32]byte, error) {
	if l == nil {
		return [32]byte{}, ErrInvalidLoan
	}
	record := abiLoan{
		ID:                 l.ID,
		OfferID:            l.OfferID,
		Amount:             orZero(l.Amount),
		Interest:           orZero(l.Interest),
		PaymentToken:       l.PaymentToken,
		Maturity:           new(big.Int).SetUint64(l.Maturity),
		StartTime:          new(big.Int).SetUint64(l.StartTime),
		Borrower:           l.Borrower,
		Lender:             l.Lender,
		CollateralContract: l.CollateralContract,
		CollateralTokenID:  orZero(l.CollateralTokenID),
		Fees:               make([]abiFee, len(l.Fees)),
		ProRata:            l.ProRata,
	}
	for _, v := range []*big.Int{record.Amount, record.Interest, record.CollateralTokenID} {
		if err := checkUint256(v); err != nil {
			return [32]byte{}, ErrInvalidLoan
		}
	}
	for i, fee := range l.Fees {
		upfront := orZero(fee.UpfrontAmount)
		if err := checkUint256(upfront); err != nil {
			return [32]byte{}, ErrInvalidLoan
		}
		record.Fees[i] = abiFee{
			Type:          big.NewInt(int64(fee.Type)),
			UpfrontAmount: upfront,
			SettlementBps: new(big.Int).SetUint64(fee.SettlementBps),
			Wallet:        fee.Wallet,
		}
	}
	encoded, err := loanArguments.Pack(record)
	if err != nil {
		return [32]byte{}, fmt.Errorf("p2pnfts: encode loan: %w", err)
	}
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(encoded))
	return out, nil
}

// LoanID derives the id of a new loan from the market, the parties and the
// market's loan nonce.
func LoanID(market, borrower, contract common.Address, tokenID *big.Int, start, nonce uint64) ([32]byte, error) {
	word, overflow := uint256.FromBig(orZero(tokenID))
	if overflow || (tokenID != nil && tokenID.Sign() < 0) {
		return [32]byte{}, errAmountRange
	}
	id := word.Bytes32()
	startWord := uint256.NewInt(start).Bytes32()
	nonceWord := uint256.NewInt(nonce).Bytes32()
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(market.Bytes(), borrower.Bytes(), contract.Bytes(), id[:], startWord[:], nonceWord[:]))
	return out, nil
}
