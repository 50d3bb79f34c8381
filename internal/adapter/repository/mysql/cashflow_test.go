package mysql

import (
	"context"
	"testing"

	cashflowDomain "spv-ledger/internal/domain/cashflow"
	"spv-ledger/internal/testutil/dbtest"

	"github.com/shopspring/decimal"
)

func TestCashflow_InsertIsIdempotentOnKey(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	loans := NewLoanRepository(db)
	investors := NewInvestorRepository(db)
	repo := NewCashflowRepository(db)

	l := makeLoan("L-CF")
	if err := loans.Create(ctx, l); err != nil {
		t.Fatalf("loan: %v", err)
	}
	inv := makeInvestor("A", "0xa1")
	if err := investors.Create(ctx, inv); err != nil {
		t.Fatalf("investor: %v", err)
	}

	key := cashflowDomain.Key("0xABC", 2, "0xA1")
	first := &cashflowDomain.Cashflow{LoanID: l.ID, InvestorID: inv.ID, Amount: decimal.RequireFromString("12.5"), TxKey: key, TxHash: "0xabc"}
	created, err := repo.Insert(ctx, first)
	if err != nil || !created {
		t.Fatalf("first Insert: created=%v err=%v", created, err)
	}

	again := &cashflowDomain.Cashflow{LoanID: l.ID, InvestorID: inv.ID, Amount: decimal.RequireFromString("99"), TxKey: key, TxHash: "0xabc"}
	created, err = repo.Insert(ctx, again)
	if err != nil {
		t.Fatalf("second Insert: %v", err)
	}
	if created {
		t.Fatalf("duplicate key must not create a row")
	}

	rows, err := repo.ListByLoan(ctx, l.ID)
	if err != nil || len(rows) != 1 {
		t.Fatalf("ListByLoan: %v len=%d", err, len(rows))
	}
	if !rows[0].Amount.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("original row overwritten: %s", rows[0].Amount)
	}

	other := &cashflowDomain.Cashflow{LoanID: l.ID, InvestorID: inv.ID, Amount: decimal.NewFromInt(1), TxKey: cashflowDomain.Key("0xabc", 3, "0xa1")}
	if created, err := repo.Insert(ctx, other); err != nil || !created {
		t.Fatalf("distinct key Insert: created=%v err=%v", created, err)
	}
	if byInv, _ := repo.ListByInvestor(ctx, inv.ID); len(byInv) != 2 {
		t.Fatalf("ListByInvestor len=%d, want 2", len(byInv))
	}

	if err := repo.DeleteByLoan(ctx, l.ID); err != nil {
		t.Fatalf("DeleteByLoan: %v", err)
	}
	if rows, _ := repo.ListByLoan(ctx, l.ID); len(rows) != 0 {
		t.Fatalf("rows left after DeleteByLoan: %d", len(rows))
	}
}
