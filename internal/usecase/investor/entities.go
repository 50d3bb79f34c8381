package investor

import (
	"time"

	"github.com/shopspring/decimal"
)

type AddInvestorInput struct {
	Name          string
	Email         string
	WalletAddress string
}

type InvestorDTO struct {
	ID            uint64    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email,omitempty"`
	WalletAddress string    `json:"wallet_address"`
	CreatedAt     time.Time `json:"created_at"`
}

type Holding struct {
	LoanID       string          `json:"loan_id"`
	Title        string          `json:"title"`
	TokenID      string          `json:"token_id,omitempty"`
	Status       string          `json:"status"`
	SlicesOwned  decimal.Decimal `json:"slices_owned"`
	TotalSlices  int             `json:"total_slices"`
	OwnershipPct decimal.Decimal `json:"ownership_percentage"`
	BalanceDue   decimal.Decimal `json:"balance_due"`
}

type CashflowDTO struct {
	LoanID      string          `json:"loan_id"`
	Amount      decimal.Decimal `json:"amount"`
	TxHash      string          `json:"tx_hash"`
	BlockNumber uint64          `json:"block_number"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Portfolio is everything one wallet holds and has been paid.
type Portfolio struct {
	Investor     InvestorDTO     `json:"investor"`
	Holdings     []Holding       `json:"holdings"`
	Cashflows    []CashflowDTO   `json:"cashflows"`
	TotalBalance decimal.Decimal `json:"total_balance_due"`
	TotalPaid    decimal.Decimal `json:"total_distributed"`
}
