package distribution

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrTranchePrecheck = errors.New("tranche token pair failed on-chain pre-check")

type Options struct {
	// Stream is the sync stream whose processed-tx ledger records deposits.
	Stream string
	// Contract is used for loans that carry no token_contract of their own.
	Contract string
	LockTTL  time.Duration
}

type Share struct {
	InvestorID uint64          `json:"investor_id"`
	Wallet     string          `json:"wallet_address"`
	Slices     decimal.Decimal `json:"slices_owned"`
	Amount     decimal.Decimal `json:"amount"`
}

type Result struct {
	LoanID      string          `json:"loan_id"`
	TokenID     string          `json:"token_id"`
	TxHash      string          `json:"tx_hash"`
	BlockNumber uint64          `json:"block_number"`
	Amount      decimal.Decimal `json:"amount"`
	Units       string          `json:"amount_units"`
	Shares      []Share         `json:"shares"`
}
