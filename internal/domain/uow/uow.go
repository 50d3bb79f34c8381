package uow

import (
	"context"

	"spv-ledger/internal/domain/cashflow"
	"spv-ledger/internal/domain/investor"
	"spv-ledger/internal/domain/loan"
	"spv-ledger/internal/domain/syncstate"
)

// Repos are bound to one transaction.
type Repos struct {
	Loans     loan.Repository
	Specs     loan.SpecRepository
	Investors investor.Repository
	Positions investor.PositionRepository
	Cashflows cashflow.Repository
	Sync      syncstate.Repository
}

type UnitOfWork interface {
	// plain tx
	WithinTx(ctx context.Context, fn func(r Repos) error) error
	// convenience: lock loan first, then pass it in
	WithinLoanTx(ctx context.Context, loanID string, fn func(r Repos, l *loan.Loan) error) error
}
