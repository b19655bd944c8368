package indexer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LoanStatus tracks a loan across its lifecycle.
type LoanStatus string

const (
	StatusActive   LoanStatus = "ACTIVE"
	StatusRepaid   LoanStatus = "REPAID"
	StatusClaimed  LoanStatus = "CLAIMED"
	StatusReplaced LoanStatus = "REPLACED"
)

// Loan is the full record of a loan as announced by its creation or
// replacement event. Amounts are base-unit decimal strings.
type Loan struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey"`
	LoanID             string     `gorm:"size:66;uniqueIndex"`
	Market             string     `gorm:"size:42;index"`
	OfferID            string     `gorm:"size:66"`
	Amount             string     `gorm:"not null"`
	Interest           string     `gorm:"not null"`
	PaymentToken       string     `gorm:"size:42"`
	Maturity           uint64     `gorm:"index"`
	StartTime          uint64     `gorm:"not null"`
	Borrower           string     `gorm:"size:42;index"`
	Lender             string     `gorm:"size:42;index"`
	CollateralContract string     `gorm:"size:42;index"`
	CollateralTokenID  string     `gorm:"not null"`
	ProRata            bool       `gorm:"not null"`
	Fees               string     `gorm:"type:text"`
	Status             LoanStatus `gorm:"size:16;index"`
	ReplacedBy         string     `gorm:"size:66"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Event stores every protocol event in its flat attribute form.
type Event struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Type       string    `gorm:"size:64;index"`
	Market     string    `gorm:"size:42;index"`
	LoanID     string    `gorm:"size:66;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time
}

// AutoMigrate performs all schema migrations for the indexer.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Loan{},
		&Event{},
	)
}
