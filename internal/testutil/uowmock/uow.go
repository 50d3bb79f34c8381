// Package uowmock provides unit-of-work doubles for usecase tests.
package uowmock

import (
	"context"
	"errors"

	"spv-ledger/internal/domain/loan"
	"spv-ledger/internal/domain/uow"

	"gorm.io/gorm"
)

var _ uow.UnitOfWork = (*UoW)(nil)

var errUnimplemented = errors.New("uowmock: method not implemented")

// UoW is function-backed; unset functions return errUnimplemented.
type UoW struct {
	WithinTxFn     func(ctx context.Context, fn func(r uow.Repos) error) error
	WithinLoanTxFn func(ctx context.Context, loanID string, fn func(r uow.Repos, l *loan.Loan) error) error

	// Commits and Rollbacks count Over transactions by outcome.
	Commits   int
	Rollbacks int
}

func New() *UoW { return &UoW{} }

func (m *UoW) WithWithinTx(fn func(context.Context, func(uow.Repos) error) error) *UoW {
	m.WithinTxFn = fn
	return m
}

func (m *UoW) WithWithinLoanTx(fn func(context.Context, string, func(uow.Repos, *loan.Loan) error) error) *UoW {
	m.WithinLoanTxFn = fn
	return m
}

// Over runs every transaction body directly against repos. WithinLoanTx
// hands the body the loan from loans whose LoanID matches, or fails with
// gorm.ErrRecordNotFound like the gorm implementation does.
func Over(repos uow.Repos, loans ...*loan.Loan) *UoW {
	m := &UoW{}
	m.WithinTxFn = func(_ context.Context, fn func(uow.Repos) error) error {
		return m.record(fn(repos))
	}
	m.WithinLoanTxFn = func(_ context.Context, loanID string, fn func(uow.Repos, *loan.Loan) error) error {
		for _, l := range loans {
			if l.LoanID == loanID {
				return m.record(fn(repos, l))
			}
		}
		return gorm.ErrRecordNotFound
	}
	return m
}

func (m *UoW) record(err error) error {
	if err != nil {
		m.Rollbacks++
	} else {
		m.Commits++
	}
	return err
}

func (m *UoW) WithinTx(ctx context.Context, fn func(r uow.Repos) error) error {
	if m.WithinTxFn != nil {
		return m.WithinTxFn(ctx, fn)
	}
	return errUnimplemented
}

func (m *UoW) WithinLoanTx(ctx context.Context, loanID string, fn func(r uow.Repos, l *loan.Loan) error) error {
	if m.WithinLoanTxFn != nil {
		return m.WithinLoanTxFn(ctx, loanID, fn)
	}
	return errUnimplemented
}
