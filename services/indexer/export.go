package indexer

import (
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetLoan struct {
	LoanID             string `parquet:"name=loan_id, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Market             string `parquet:"name=market, type=UTF8, encoding=PLAIN_DICTIONARY"`
	OfferID            string `parquet:"name=offer_id, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Status             string `parquet:"name=status, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Amount             string `parquet:"name=amount, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Interest           string `parquet:"name=interest, type=UTF8, encoding=PLAIN_DICTIONARY"`
	PaymentToken       string `parquet:"name=payment_token, type=UTF8, encoding=PLAIN_DICTIONARY"`
	StartTime          int64  `parquet:"name=start_time, type=INT64"`
	Maturity           int64  `parquet:"name=maturity, type=INT64"`
	Borrower           string `parquet:"name=borrower, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Lender             string `parquet:"name=lender, type=UTF8, encoding=PLAIN_DICTIONARY"`
	CollateralContract string `parquet:"name=collateral_contract, type=UTF8, encoding=PLAIN_DICTIONARY"`
	CollateralTokenID  string `parquet:"name=collateral_token_id, type=UTF8, encoding=PLAIN_DICTIONARY"`
	ProRata            bool   `parquet:"name=pro_rata, type=BOOLEAN"`
	ReplacedBy         string `parquet:"name=replaced_by, type=UTF8, encoding=PLAIN_DICTIONARY"`
	UpdatedAt          string `parquet:"name=updated_at, type=UTF8, encoding=PLAIN_DICTIONARY"`
}

// ExportLoans writes the whole loan book to a snappy-compressed parquet file
// at path and returns the number of rows written.
func (s *Store) ExportLoans(path string) (int, error) {
	var rows []Loan
	if err := s.db.Order("start_time asc").Find(&rows).Error; err != nil {
		return 0, err
	}

	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("indexer: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetLoan), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("indexer: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetLoan{
			LoanID:             row.LoanID,
			Market:             row.Market,
			OfferID:            row.OfferID,
			Status:             string(row.Status),
			Amount:             row.Amount,
			Interest:           row.Interest,
			PaymentToken:       row.PaymentToken,
			StartTime:          int64(row.StartTime),
			Maturity:           int64(row.Maturity),
			Borrower:           row.Borrower,
			Lender:             row.Lender,
			CollateralContract: row.CollateralContract,
			CollateralTokenID:  row.CollateralTokenID,
			ProRata:            row.ProRata,
			ReplacedBy:         row.ReplacedBy,
			UpdatedAt:          row.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return 0, fmt.Errorf("indexer: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return 0, fmt.Errorf("indexer: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("indexer: close parquet file: %w", err)
	}
	return len(rows), nil
}
