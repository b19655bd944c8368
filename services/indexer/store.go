// Package indexer persists protocol events and the loan records they announce
// so callers can look loans up by id, borrower or lender.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"p2pnfts/core/events"
	"p2pnfts/native/p2pnfts"
)

var ErrNotFound = errors.New("indexer: loan not found")

const defaultLimit = 100

// Record is an indexed loan with its lifecycle status.
type Record struct {
	Market     common.Address
	Status     LoanStatus
	ReplacedBy string
	Loan       *p2pnfts.Loan
}

// Store writes events into a gorm database. It implements events.Emitter;
// write failures are logged and do not affect the emitting market.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to driver ("sqlite" or "postgres") at dsn and migrates the
// schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("indexer: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return New(db, nil), nil
}

// New wraps an already migrated database.
func New(db *gorm.DB, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, logger: log}
}

func (s *Store) SetLogger(log *slog.Logger) {
	if s != nil && log != nil {
		s.logger = log
	}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Emit(e events.Event) {
	if s == nil || e == nil {
		return
	}
	if err := s.Record(e); err != nil {
		s.logger.Error("indexer: record event", slog.String("type", e.EventType()), slog.Any("error", err))
	}
}

// Record stores e and applies its effect on the loan table in one
// transaction.
func (s *Store) Record(e events.Event) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		row := Event{ID: uuid.New(), Type: e.EventType()}
		if wire, ok := e.(events.Wire); ok {
			attrs := wire.Event().Attributes
			row.Market = attrs["market"]
			row.LoanID = attrs["id"]
			encoded, err := json.Marshal(attrs)
			if err != nil {
				return err
			}
			row.Attributes = string(encoded)
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}

		switch ev := e.(type) {
		case events.LoanCreated:
			return insertLoan(tx, ev.Market, ev.Loan, [32]byte{})
		case events.LoanReplacedByLender:
			if err := setStatus(tx, ev.OriginalLoanID, StatusReplaced, hexHash(ev.Loan.ID)); err != nil {
				return err
			}
			return insertLoan(tx, ev.Market, ev.Loan, ev.OfferID)
		case events.LoanPaid:
			return setStatus(tx, ev.ID, StatusRepaid, "")
		case events.LoanCollateralClaimed:
			return setStatus(tx, ev.ID, StatusClaimed, "")
		}
		return nil
	})
}

// AttachOffer records the offer a loan was opened from. Creation events do not
// carry it, so the market host supplies it once the loan is returned.
func (s *Store) AttachOffer(loanID, offerID [32]byte) error {
	res := s.db.Model(&Loan{}).Where("loan_id = ?", hexHash(loanID)).Update("offer_id", hexHash(offerID))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func insertLoan(tx *gorm.DB, market common.Address, terms events.LoanTerms, offerID [32]byte) error {
	fees, err := json.Marshal(terms.Fees)
	if err != nil {
		return err
	}
	row := Loan{
		ID:                 uuid.New(),
		LoanID:             hexHash(terms.ID),
		Market:             market.Hex(),
		Amount:             amount(terms.Amount),
		Interest:           amount(terms.Interest),
		PaymentToken:       terms.PaymentToken.Hex(),
		Maturity:           terms.Maturity,
		StartTime:          terms.StartTime,
		Borrower:           terms.Borrower.Hex(),
		Lender:             terms.Lender.Hex(),
		CollateralContract: terms.CollateralContract.Hex(),
		CollateralTokenID:  amount(terms.CollateralTokenID),
		ProRata:            terms.ProRata,
		Fees:               string(fees),
		Status:             StatusActive,
	}
	if offerID != ([32]byte{}) {
		row.OfferID = hexHash(offerID)
	}
	return tx.Create(&row).Error
}

func setStatus(tx *gorm.DB, id [32]byte, status LoanStatus, replacedBy string) error {
	updates := map[string]interface{}{"status": status}
	if replacedBy != "" {
		updates["replaced_by"] = replacedBy
	}
	return tx.Model(&Loan{}).Where("loan_id = ?", hexHash(id)).Updates(updates).Error
}

// Loan returns the indexed loan with the given id.
func (s *Store) Loan(id [32]byte) (*Record, error) {
	var row Loan
	err := s.db.Where("loan_id = ?", hexHash(id)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.record()
}

// LoansByBorrower lists the most recent loans of borrower, newest first.
func (s *Store) LoansByBorrower(borrower common.Address, limit int) ([]*Record, error) {
	return s.list("borrower = ?", borrower.Hex(), limit)
}

// LoansByLender lists the most recent loans funded by lender, newest first.
func (s *Store) LoansByLender(lender common.Address, limit int) ([]*Record, error) {
	return s.list("lender = ?", lender.Hex(), limit)
}

func (s *Store) list(query string, arg string, limit int) ([]*Record, error) {
	if limit <= 0 || limit > defaultLimit {
		limit = defaultLimit
	}
	var rows []Loan
	if err := s.db.Where(query, arg).Order("start_time desc").Order("created_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Events returns the stored events about one loan in insertion order.
func (s *Store) Events(loanID [32]byte) ([]Event, error) {
	var rows []Event
	err := s.db.Where("loan_id = ?", hexHash(loanID)).Order("created_at asc").Find(&rows).Error
	return rows, err
}

func (row Loan) record() (*Record, error) {
	loan := &p2pnfts.Loan{
		PaymentToken:       common.HexToAddress(row.PaymentToken),
		Maturity:           row.Maturity,
		StartTime:          row.StartTime,
		Borrower:           common.HexToAddress(row.Borrower),
		Lender:             common.HexToAddress(row.Lender),
		CollateralContract: common.HexToAddress(row.CollateralContract),
		ProRata:            row.ProRata,
	}
	var err error
	if loan.ID, err = parseHash(row.LoanID); err != nil {
		return nil, err
	}
	if row.OfferID != "" {
		if loan.OfferID, err = parseHash(row.OfferID); err != nil {
			return nil, err
		}
	}
	if loan.Amount, err = parseAmount(row.Amount); err != nil {
		return nil, err
	}
	if loan.Interest, err = parseAmount(row.Interest); err != nil {
		return nil, err
	}
	if loan.CollateralTokenID, err = parseAmount(row.CollateralTokenID); err != nil {
		return nil, err
	}
	var fees [4]events.FeeRecord
	if err := json.Unmarshal([]byte(row.Fees), &fees); err != nil {
		return nil, fmt.Errorf("indexer: decode fees of %s: %w", row.LoanID, err)
	}
	for i, fee := range fees {
		loan.Fees[i] = p2pnfts.Fee{
			Type:          p2pnfts.FeeType(fee.Type),
			UpfrontAmount: fee.UpfrontAmount,
			SettlementBps: fee.SettlementBps,
			Wallet:        fee.Wallet,
		}
		if loan.Fees[i].UpfrontAmount == nil {
			loan.Fees[i].UpfrontAmount = new(big.Int)
		}
	}
	return &Record{
		Market:     common.HexToAddress(row.Market),
		Status:     row.Status,
		ReplacedBy: row.ReplacedBy,
		Loan:       loan,
	}, nil
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("indexer: bad amount %q", raw)
	}
	return v, nil
}

func hexHash(h [32]byte) string { return hexutil.Encode(h[:]) }

func parseHash(raw string) ([32]byte, error) {
	var out [32]byte
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != len(out) {
		return out, fmt.Errorf("indexer: bad hash %q", raw)
	}
	copy(out[:], b)
	return out, nil
}
