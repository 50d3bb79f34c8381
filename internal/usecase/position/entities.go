package position

import (
	"time"

	"spv-ledger/internal/usecase/reconcile"

	"github.com/shopspring/decimal"
)

const (
	TrancheSenior = "senior"
	TrancheJunior = "junior"
)

type CreatePositionInput struct {
	LoanID     string
	InvestorID uint64
	Slices     decimal.Decimal
	// Tranche picks the token of a tranche loan; empty means senior.
	Tranche string
}

type Options struct {
	Stream      string
	Contract    string
	AdminPolicy reconcile.AdminPolicy
	LockTTL     time.Duration
}

type PositionDTO struct {
	LoanID          string          `json:"loan_id"`
	InvestorID      uint64          `json:"investor_id"`
	InvestorName    string          `json:"investor_name,omitempty"`
	WalletAddress   string          `json:"wallet_address"`
	TokenID         string          `json:"token_id,omitempty"`
	SlicesOwned     decimal.Decimal `json:"slices_owned"`
	OwnershipPct    decimal.Decimal `json:"ownership_percentage"`
	BalanceDue      decimal.Decimal `json:"balance_due"`
	TxHash          string          `json:"tx_hash,omitempty"`
	LastBlockSynced uint64          `json:"last_block_synced"`
}
