package investor

import (
	"context"
	"errors"
	"testing"

	"spv-ledger/internal/adapter/repository/mysql"
	"spv-ledger/internal/domain/cashflow"
	domain "spv-ledger/internal/domain/investor"
	"spv-ledger/internal/domain/loan"
	"spv-ledger/internal/testutil/dbtest"
	"spv-ledger/internal/testutil/investormock"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const wallet = "0x00000000000000000000000000000000000000A1"

func TestAdd(t *testing.T) {
	tests := []struct {
		name    string
		in      AddInvestorInput
		taken   bool
		wantErr error
	}{
		{name: "ok", in: AddInvestorInput{Name: "Alice", Email: "a@x.io", WalletAddress: wallet}},
		{name: "not hex", in: AddInvestorInput{Name: "Alice", WalletAddress: "0xnothex"}, wantErr: domain.ErrInvalidWallet},
		{name: "short", in: AddInvestorInput{Name: "Alice", WalletAddress: "0x1234"}, wantErr: domain.ErrInvalidWallet},
		{name: "no prefix", in: AddInvestorInput{Name: "Alice", WalletAddress: wallet[2:]}, wantErr: domain.ErrInvalidWallet},
		{name: "no name", in: AddInvestorInput{WalletAddress: wallet}, wantErr: domain.ErrInvalidInvestor},
		{name: "duplicate", in: AddInvestorInput{Name: "Alice", WalletAddress: wallet}, taken: true, wantErr: domain.ErrDuplicateWallet},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			created := false
			repo := &investormock.Repo{
				GetByWalletFn: func(context.Context, string) (*domain.Investor, error) {
					if tc.taken {
						return &domain.Investor{ID: 1}, nil
					}
					return nil, gorm.ErrRecordNotFound
				},
				CreateFn: func(_ context.Context, inv *domain.Investor) error {
					created = true
					inv.ID = 9
					return nil
				},
			}
			dto, err := NewUsecase(repo, nil, nil).Add(context.Background(), tc.in)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if tc.wantErr != nil {
				if created {
					t.Fatalf("rejected investor was created")
				}
				return
			}
			if dto.ID != 9 || dto.Email != "a@x.io" {
				t.Fatalf("unexpected dto %+v", dto)
			}
		})
	}
}

func TestList(t *testing.T) {
	repo := &investormock.Repo{ListFn: func(context.Context) ([]domain.Investor, error) {
		return []domain.Investor{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}}, nil
	}}
	got, err := NewUsecase(repo, nil, nil).List(context.Background())
	if err != nil || len(got) != 2 || got[1].Name != "B" {
		t.Fatalf("List = %+v, %v", got, err)
	}
}

func TestPortfolio(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	invs := mysql.NewInvestorRepository(db)
	positions := mysql.NewPositionRepository(db)
	flows := mysql.NewCashflowRepository(db)
	loans := mysql.NewLoanRepository(db)

	tok := "7"
	l := &loan.Loan{
		LoanID: "L-7", Title: "Solar", Principal: decimal.NewFromInt(1000), TermMonths: 12,
		TotalSlices: 100, UnitPrice: decimal.NewFromInt(10), Status: loan.StatusPerforming, TokenID: &tok, Tokenized: true,
	}
	require.NoError(t, loans.Create(ctx, l))
	inv := &domain.Investor{Name: "Alice", WalletAddress: wallet}
	require.NoError(t, invs.Create(ctx, inv))
	require.NoError(t, positions.Save(ctx, &domain.Position{
		InvestorID: inv.ID, LoanID: l.ID,
		SlicesOwned: decimal.NewFromInt(25), BalanceDue: decimal.RequireFromString("2.5"),
	}))
	for i, amt := range []string{"1.25", "1.25"} {
		_, err := flows.Insert(ctx, &cashflow.Cashflow{
			LoanID: l.ID, InvestorID: inv.ID, Amount: decimal.RequireFromString(amt),
			TxKey: cashflow.Key("0xaa", uint(i), wallet), TxHash: "0xaa", BlockNumber: 5,
		})
		require.NoError(t, err)
	}

	uc := NewUsecase(invs, positions, flows)
	// lookups are case-insensitive
	p, err := uc.Portfolio(ctx, wallet)
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.Investor.Name)
	require.Len(t, p.Holdings, 1)
	assert.Equal(t, "L-7", p.Holdings[0].LoanID)
	assert.Equal(t, "7", p.Holdings[0].TokenID)
	assert.True(t, p.Holdings[0].OwnershipPct.Equal(decimal.NewFromInt(25)))
	require.Len(t, p.Cashflows, 2)
	assert.Equal(t, "L-7", p.Cashflows[0].LoanID)
	assert.True(t, p.TotalBalance.Equal(decimal.RequireFromString("2.5")))
	assert.True(t, p.TotalPaid.Equal(decimal.RequireFromString("2.5")))

	_, err = uc.Portfolio(ctx, "0x00000000000000000000000000000000000000ff")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
