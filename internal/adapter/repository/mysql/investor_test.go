package mysql

import (
	"context"
	"errors"
	"testing"

	investorDomain "spv-ledger/internal/domain/investor"
	"spv-ledger/internal/testutil/dbtest"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func makeInvestor(name, wallet string) *investorDomain.Investor {
	return &investorDomain.Investor{Name: name, WalletAddress: wallet}
}

func TestInvestor_CreateAndGet(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewInvestorRepository(db)
	ctx := context.Background()

	in := makeInvestor("Alice", " 0xABCDEF0000000000000000000000000000000001 ")
	if err := repo.Create(ctx, in); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if in.WalletAddress != "0xabcdef0000000000000000000000000000000001" {
		t.Fatalf("wallet not normalized: %q", in.WalletAddress)
	}

	got, err := repo.GetByWallet(ctx, "0xAbCdEf0000000000000000000000000000000001")
	if err != nil {
		t.Fatalf("GetByWallet: %v", err)
	}
	if got.ID != in.ID || got.Name != "Alice" {
		t.Errorf("unexpected investor: %+v", got)
	}

	byID, err := repo.GetByID(ctx, in.ID)
	if err != nil || byID.WalletAddress != in.WalletAddress {
		t.Fatalf("GetByID: %v %+v", err, byID)
	}
}

func TestInvestor_DuplicateWallet(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewInvestorRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, makeInvestor("A", "0xaa")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, makeInvestor("B", "0xAA")); err == nil {
		t.Fatalf("expected unique violation for same wallet in other case")
	}
}

func TestInvestor_NotFound(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewInvestorRepository(db)
	ctx := context.Background()

	if _, err := repo.GetByWallet(ctx, "0xnope"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound for GetByWallet, got %v", err)
	}
	if _, err := repo.GetByID(ctx, 42); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound for GetByID, got %v", err)
	}
}

func TestPositions_SaveSumAndList(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	loans := NewLoanRepository(db)
	investors := NewInvestorRepository(db)
	positions := NewPositionRepository(db)

	l := makeLoan("L-POS")
	if err := loans.Create(ctx, l); err != nil {
		t.Fatalf("loan: %v", err)
	}
	a, b := makeInvestor("A", "0xa1"), makeInvestor("B", "0xb1")
	for _, inv := range []*investorDomain.Investor{a, b} {
		if err := investors.Create(ctx, inv); err != nil {
			t.Fatalf("investor: %v", err)
		}
	}

	if sum, err := positions.SumSlices(ctx, l.ID); err != nil || !sum.IsZero() {
		t.Fatalf("empty SumSlices = %s, %v", sum, err)
	}

	if _, err := positions.GetForUpdate(ctx, a.ID, l.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected no position yet, got %v", err)
	}

	for inv, slices := range map[*investorDomain.Investor]int64{a: 60, b: 25} {
		p := &investorDomain.Position{InvestorID: inv.ID, LoanID: l.ID, SlicesOwned: decimal.NewFromInt(slices)}
		if err := positions.Save(ctx, p); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	pa, err := positions.GetForUpdate(ctx, a.ID, l.ID)
	if err != nil {
		t.Fatalf("GetForUpdate: %v", err)
	}
	if err := pa.Remove(decimal.NewFromInt(10)); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := positions.Save(ctx, pa); err != nil {
		t.Fatalf("Save update: %v", err)
	}

	sum, err := positions.SumSlices(ctx, l.ID)
	if err != nil {
		t.Fatalf("SumSlices: %v", err)
	}
	if !sum.Equal(decimal.NewFromInt(75)) {
		t.Fatalf("SumSlices = %s, want 75", sum)
	}

	byLoan, err := positions.ListByLoan(ctx, l.ID)
	if err != nil || len(byLoan) != 2 {
		t.Fatalf("ListByLoan: %v len=%d", err, len(byLoan))
	}
	if byLoan[0].Investor == nil || byLoan[0].Investor.WalletAddress == "" {
		t.Fatalf("ListByLoan should preload investor")
	}

	byInv, err := positions.ListByInvestor(ctx, b.ID)
	if err != nil || len(byInv) != 1 || byInv[0].Loan == nil || byInv[0].Loan.LoanID != "L-POS" {
		t.Fatalf("ListByInvestor: %v %+v", err, byInv)
	}

	if err := positions.DeleteByLoan(ctx, l.ID); err != nil {
		t.Fatalf("DeleteByLoan: %v", err)
	}
	if left, _ := positions.ListByLoan(ctx, l.ID); len(left) != 0 {
		t.Fatalf("positions left after DeleteByLoan: %d", len(left))
	}
}
