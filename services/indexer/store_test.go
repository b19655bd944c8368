package indexer

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"gorm.io/gorm"

	"p2pnfts/core/events"
	"p2pnfts/native/p2pnfts"
)

var (
	market   = common.HexToAddress("0xa11ce0")
	borrower = common.HexToAddress("0xb1")
	lender   = common.HexToAddress("0xc1")
	lender2  = common.HexToAddress("0xc2")
	usdc     = common.HexToAddress("0x20")
	bayc     = common.HexToAddress("0x721")
	wallet   = common.HexToAddress("0xf0")
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return New(db, nil)
}

func sampleLoan(id byte, lenderAddr common.Address, start uint64) *p2pnfts.Loan {
	return &p2pnfts.Loan{
		ID:                 [32]byte{id},
		OfferID:            [32]byte{0xee, id},
		Amount:             big.NewInt(1000),
		Interest:           big.NewInt(100),
		PaymentToken:       usdc,
		Maturity:           start + 86400,
		StartTime:          start,
		Borrower:           borrower,
		Lender:             lenderAddr,
		CollateralContract: bayc,
		CollateralTokenID:  big.NewInt(7),
		Fees: [4]p2pnfts.Fee{
			{Type: p2pnfts.FeeTypeProtocol, UpfrontAmount: big.NewInt(3), SettlementBps: 100, Wallet: wallet},
			{Type: p2pnfts.FeeTypeOrigination, UpfrontAmount: big.NewInt(10), Wallet: lenderAddr},
			{Type: p2pnfts.FeeTypeLenderBroker, UpfrontAmount: new(big.Int)},
			{Type: p2pnfts.FeeTypeBorrowerBroker, UpfrontAmount: new(big.Int)},
		},
		ProRata: true,
	}
}

func termsOf(loan *p2pnfts.Loan) events.LoanTerms {
	terms := events.LoanTerms{
		ID:                 loan.ID,
		Amount:             loan.Amount,
		Interest:           loan.Interest,
		PaymentToken:       loan.PaymentToken,
		Maturity:           loan.Maturity,
		StartTime:          loan.StartTime,
		Borrower:           loan.Borrower,
		Lender:             loan.Lender,
		CollateralContract: loan.CollateralContract,
		CollateralTokenID:  loan.CollateralTokenID,
		ProRata:            loan.ProRata,
	}
	for i, fee := range loan.Fees {
		terms.Fees[i] = events.FeeRecord{
			Type:          uint8(fee.Type),
			UpfrontAmount: fee.UpfrontAmount,
			SettlementBps: fee.SettlementBps,
			Wallet:        fee.Wallet,
		}
	}
	return terms
}

func TestRecordedLoanRebuildsCommitment(t *testing.T) {
	s := setupStore(t)
	loan := sampleLoan(1, lender, 1000)
	s.Emit(events.LoanCreated{Market: market, Loan: termsOf(loan)})
	require.NoError(t, s.AttachOffer(loan.ID, loan.OfferID))

	rec, err := s.Loan(loan.ID)
	require.NoError(t, err)
	require.Equal(t, market, rec.Market)
	require.Equal(t, StatusActive, rec.Status)

	want, err := loan.Commitment()
	require.NoError(t, err)
	got, err := rec.Loan.Commitment()
	require.NoError(t, err)
	require.Equal(t, want, got)

	_, err = s.Loan([32]byte{9})
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.AttachOffer([32]byte{9}, [32]byte{1}), ErrNotFound)
}

func TestLifecycleUpdatesStatus(t *testing.T) {
	s := setupStore(t)
	first := sampleLoan(1, lender, 1000)
	second := sampleLoan(2, lender, 2000)
	s.Emit(events.LoanCreated{Market: market, Loan: termsOf(first)})
	s.Emit(events.LoanCreated{Market: market, Loan: termsOf(second)})

	replacement := sampleLoan(3, lender2, 1500)
	s.Emit(events.LoanReplacedByLender{
		Market:         market,
		Loan:           termsOf(replacement),
		OriginalLoanID: first.ID,
		PaidPrincipal:  big.NewInt(1000),
		PaidInterest:   big.NewInt(10),
		OfferID:        replacement.OfferID,
	})
	s.Emit(events.LoanPaid{Market: market, ID: second.ID, Borrower: borrower, Lender: lender})
	s.Emit(events.LoanCollateralClaimed{Market: market, ID: replacement.ID, Borrower: borrower, Lender: lender2})

	rec, err := s.Loan(first.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReplaced, rec.Status)
	require.Equal(t, "0x03"+fmt.Sprintf("%062x", 0), rec.ReplacedBy)

	rec, err = s.Loan(second.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRepaid, rec.Status)

	rec, err = s.Loan(replacement.ID)
	require.NoError(t, err)
	require.Equal(t, StatusClaimed, rec.Status)
	require.Equal(t, replacement.OfferID, rec.Loan.OfferID)

	stored, err := s.Events(first.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, events.TypeLoanCreated, stored[0].Type)
	require.Equal(t, market.Hex(), stored[0].Market)
}

func TestLoansByParty(t *testing.T) {
	s := setupStore(t)
	s.Emit(events.LoanCreated{Market: market, Loan: termsOf(sampleLoan(1, lender, 1000))})
	s.Emit(events.LoanCreated{Market: market, Loan: termsOf(sampleLoan(2, lender2, 3000))})
	s.Emit(events.LoanCreated{Market: market, Loan: termsOf(sampleLoan(3, lender, 2000))})

	byBorrower, err := s.LoansByBorrower(borrower, 0)
	require.NoError(t, err)
	require.Len(t, byBorrower, 3)
	require.Equal(t, [32]byte{2}, byBorrower[0].Loan.ID)

	byLender, err := s.LoansByLender(lender, 1)
	require.NoError(t, err)
	require.Len(t, byLender, 1)
	require.Equal(t, [32]byte{3}, byLender[0].Loan.ID)

	none, err := s.LoansByLender(common.HexToAddress("0xdead"), 10)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestDuplicateCreationIsLoggedNotFatal(t *testing.T) {
	s := setupStore(t)
	loan := sampleLoan(1, lender, 1000)
	require.NoError(t, s.Record(events.LoanCreated{Market: market, Loan: termsOf(loan)}))
	require.Error(t, s.Record(events.LoanCreated{Market: market, Loan: termsOf(loan)}))
	s.Emit(events.LoanCreated{Market: market, Loan: termsOf(loan)})

	stored, err := s.Events(loan.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestExportLoans(t *testing.T) {
	s := setupStore(t)
	s.Emit(events.LoanCreated{Market: market, Loan: termsOf(sampleLoan(1, lender, 1000))})
	s.Emit(events.LoanCreated{Market: market, Loan: termsOf(sampleLoan(2, lender, 2000))})

	path := filepath.Join(t.TempDir(), "loans.parquet")
	n, err := s.ExportLoans(path)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Positive(t, info.Size())

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetLoan), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.Equal(t, int64(2), pr.GetNumRows())

	rows := make([]parquetLoan, 2)
	require.NoError(t, pr.Read(&rows))
	require.Equal(t, []int64{1000, 2000}, []int64{rows[0].StartTime, rows[1].StartTime})
	for _, row := range rows {
		require.Equal(t, string(StatusActive), row.Status)
		require.Equal(t, "1000", row.Amount)
		require.True(t, row.ProRata)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "")
	require.Error(t, err)

	s, err := Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
