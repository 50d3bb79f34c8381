package cashflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"spv-ledger/internal/domain/investor"
	"spv-ledger/internal/domain/loan"

	"github.com/shopspring/decimal"
)

// Cashflow is the immutable audit record of one distribution to one investor.
type Cashflow struct {
	ID          uint64             `gorm:"primaryKey;column:id" json:"id"`
	LoanID      uint64             `gorm:"not null;index" json:"loan_id"`
	InvestorID  uint64             `gorm:"not null;index" json:"investor_id"`
	Amount      decimal.Decimal    `gorm:"type:decimal(18,6);not null" json:"amount"`
	TxKey       string             `gorm:"size:160;not null;uniqueIndex:ux_cashflow_tx_key" json:"tx_key"`
	TxHash      string             `gorm:"size:66;index" json:"tx_hash"`
	BlockNumber uint64             `gorm:"not null;default:0" json:"block_number"`
	Description string             `gorm:"size:255" json:"description"`
	Loan        *loan.Loan         `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Investor    *investor.Investor `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt   time.Time          `gorm:"autoCreateTime" json:"created_at"`
}

func (Cashflow) TableName() string { return "cashflow_history" }

// Key derives the idempotency key for one recipient of one deposit log.
func Key(txHash string, logIndex uint, wallet string) string {
	return fmt.Sprintf("%s:%d:%s", strings.ToLower(txHash), logIndex, investor.NormalizeWallet(wallet))
}

type Repository interface {
	// Insert creates the row unless its TxKey already exists; created reports which.
	Insert(ctx context.Context, c *Cashflow) (created bool, err error)
	ListByLoan(ctx context.Context, loanID uint64) ([]Cashflow, error)
	ListByInvestor(ctx context.Context, investorID uint64) ([]Cashflow, error)
	DeleteByLoan(ctx context.Context, loanID uint64) error
}
