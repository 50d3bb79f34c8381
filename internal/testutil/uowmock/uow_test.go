package uowmock

import (
	"context"
	"errors"
	"testing"

	"spv-ledger/internal/domain/loan"
	"spv-ledger/internal/domain/uow"
	"spv-ledger/internal/testutil/investormock"
	"spv-ledger/internal/testutil/loanmock"

	"gorm.io/gorm"
)

func TestUnsetFunctionsAreUnimplemented(t *testing.T) {
	m := New()
	if err := m.WithinTx(context.Background(), func(uow.Repos) error { return nil }); !errors.Is(err, errUnimplemented) {
		t.Fatalf("WithinTx: want errUnimplemented, got %v", err)
	}
	err := m.WithinLoanTx(context.Background(), "L-1", func(uow.Repos, *loan.Loan) error { return nil })
	if !errors.Is(err, errUnimplemented) {
		t.Fatalf("WithinLoanTx: want errUnimplemented, got %v", err)
	}
}

func TestFluentSettersForwardArguments(t *testing.T) {
	ctx := context.WithValue(context.Background(), struct{}{}, "tx")
	var gotID string
	m := New().
		WithWithinTx(func(got context.Context, fn func(uow.Repos) error) error {
			if got != ctx {
				t.Fatal("WithinTx: ctx not forwarded")
			}
			return fn(uow.Repos{})
		}).
		WithWithinLoanTx(func(_ context.Context, id string, fn func(uow.Repos, *loan.Loan) error) error {
			gotID = id
			return fn(uow.Repos{}, &loan.Loan{LoanID: id})
		})

	if err := m.WithinTx(ctx, func(uow.Repos) error { return nil }); err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	sentinel := errors.New("boom")
	if err := m.WithinLoanTx(ctx, "L-9", func(uow.Repos, *loan.Loan) error { return sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("WithinLoanTx: want sentinel, got %v", err)
	}
	if gotID != "L-9" {
		t.Fatalf("loan id = %q", gotID)
	}
}

func TestOver(t *testing.T) {
	loans := &loanmock.Repo{}
	invs := &investormock.Repo{}
	repos := uow.Repos{Loans: loans, Investors: invs}
	l1 := &loan.Loan{ID: 1, LoanID: "L-1"}
	m := Over(repos, l1)
	ctx := context.Background()

	err := m.WithinLoanTx(ctx, "L-1", func(r uow.Repos, l *loan.Loan) error {
		if r.Loans != loans || r.Investors != invs {
			t.Fatal("repos not forwarded")
		}
		if l != l1 {
			t.Fatal("wrong loan handed to body")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithinLoanTx: %v", err)
	}

	err = m.WithinLoanTx(ctx, "L-404", func(uow.Repos, *loan.Loan) error {
		t.Fatal("body must not run for an unknown loan")
		return nil
	})
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("unknown loan: want ErrRecordNotFound, got %v", err)
	}

	if err := m.WithinTx(ctx, func(uow.Repos) error { return errors.New("rollback") }); err == nil {
		t.Fatal("WithinTx must return the body error")
	}
	if m.Commits != 1 || m.Rollbacks != 1 {
		t.Fatalf("commits=%d rollbacks=%d, want 1/1", m.Commits, m.Rollbacks)
	}
}
