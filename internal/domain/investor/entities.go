package investor

import (
	"errors"
	"strings"
	"time"

	"spv-ledger/internal/domain/loan"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound           = errors.New("investor not found")
	ErrPositionNotFound   = errors.New("investor position not found")
	ErrDuplicateWallet    = errors.New("wallet address already registered")
	ErrInvalidWallet      = errors.New("invalid wallet address")
	ErrInvalidInvestor    = errors.New("invalid investor")
	ErrInsufficientSlices = errors.New("insufficient slices for transfer")
	ErrSliceOverflow      = errors.New("slices owned exceed loan total_slices")
	ErrInvalidSlices      = errors.New("slices must be greater than zero")
)

// NormalizeWallet lower-cases and trims an address; every lookup and write goes through it.
func NormalizeWallet(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

type Investor struct {
	ID            uint64    `gorm:"primaryKey;column:id" json:"id"`
	Name          string    `gorm:"size:255;not null" json:"name"`
	Email         *string   `gorm:"size:255" json:"email,omitempty"`
	WalletAddress string    `gorm:"size:42;not null;uniqueIndex:ux_investors_wallet" json:"wallet_address"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Investor) TableName() string { return "investors" }

// Position is one investor's holding in one loan.
type Position struct {
	ID              uint64          `gorm:"primaryKey;column:id" json:"id"`
	InvestorID      uint64          `gorm:"not null;uniqueIndex:ux_positions_investor_loan" json:"investor_id"`
	LoanID          uint64          `gorm:"not null;uniqueIndex:ux_positions_investor_loan;index" json:"loan_id"`
	SlicesOwned     decimal.Decimal `gorm:"type:decimal(18,6);not null;default:0" json:"slices_owned"`
	BalanceDue      decimal.Decimal `gorm:"type:decimal(18,6);not null;default:0" json:"balance_due"`
	TxHash          string          `gorm:"size:66" json:"tx_hash,omitempty"`
	LastBlockSynced uint64          `gorm:"not null;default:0" json:"last_block_synced"`
	Investor        *Investor       `gorm:"constraint:OnDelete:CASCADE" json:"investor,omitempty"`
	Loan            *loan.Loan      `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Position) TableName() string { return "investor_positions" }

// OwnershipPercent is slices_owned / total_slices * 100 rounded to 2dp.
func (p *Position) OwnershipPercent(totalSlices int) decimal.Decimal {
	if totalSlices <= 0 {
		return decimal.Zero
	}
	return p.SlicesOwned.Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(int64(totalSlices))).Round(2)
}

// Add credits slices. Negative amounts are rejected.
func (p *Position) Add(slices decimal.Decimal) error {
	if !slices.IsPositive() {
		return ErrInvalidSlices
	}
	p.SlicesOwned = p.SlicesOwned.Add(slices)
	return nil
}

// Remove debits slices; the balance never goes negative.
func (p *Position) Remove(slices decimal.Decimal) error {
	if !slices.IsPositive() {
		return ErrInvalidSlices
	}
	if p.SlicesOwned.LessThan(slices) {
		return ErrInsufficientSlices
	}
	p.SlicesOwned = p.SlicesOwned.Sub(slices)
	return nil
}
