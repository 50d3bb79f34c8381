package position

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"spv-ledger/internal/adapter/repository/mysql"
	"spv-ledger/internal/domain/chain"
	"spv-ledger/internal/domain/investor"
	"spv-ledger/internal/domain/loan"
	"spv-ledger/internal/infrastructure/lock"
	"spv-ledger/internal/testutil/chainmock"
	"spv-ledger/internal/testutil/dbtest"
	"spv-ledger/internal/usecase/reconcile"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	stream   = "test"
	contract = "0x5fbdb2315678afecb367f032d93f642f64180aa3"
	admin    = "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
	alice    = "0x00000000000000000000000000000000000000a1"
	xferTx   = "0x00000000000000000000000000000000000000000000000000000000000000f1"
)

type fixture struct {
	db        *gorm.DB
	uc        *Usecase
	writer    *chainmock.Writer
	locker    *lock.LocalLocker
	loans     *mysql.LoanRepository
	investors *mysql.InvestorRepository
	positions *mysql.PositionRepository
	sync      *mysql.SyncStateRepository
	transfers int
}

func newFixture(t *testing.T, policy reconcile.AdminPolicy) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	f := &fixture{
		db:        db,
		locker:    lock.NewLocalLocker(),
		loans:     mysql.NewLoanRepository(db),
		investors: mysql.NewInvestorRepository(db),
		positions: mysql.NewPositionRepository(db),
		sync:      mysql.NewSyncStateRepository(db),
	}
	f.writer = &chainmock.Writer{
		AddressValue: admin,
		TransferTokenFn: func(_ context.Context, c, to string, tokenID, amount *big.Int) (*chain.Receipt, error) {
			f.transfers++
			return &chain.Receipt{TxHash: xferTx, BlockNumber: 30, Status: 1}, nil
		},
	}
	f.uc = NewUsecase(Deps{
		UoW:       mysql.NewGormUoW(db),
		Loans:     f.loans,
		Investors: f.investors,
		Positions: f.positions,
		Writer:    f.writer,
		Locker:    f.locker,
	}, Options{Stream: stream, Contract: contract, AdminPolicy: policy})
	return f
}

func (f *fixture) seedLoan(t *testing.T, tranche bool) *loan.Loan {
	t.Helper()
	tok := "42"
	l := &loan.Loan{
		LoanID: "L-1", Title: "t", Principal: decimal.NewFromInt(1000), TermMonths: 12,
		TotalSlices: 10, UnitPrice: decimal.NewFromInt(100), Status: loan.StatusPerforming,
		TokenID: &tok, TokenContract: contract, Tokenized: true,
	}
	if tranche {
		s, j := "4201", "4202"
		l.SeniorID, l.JuniorID = &s, &j
	}
	require.NoError(t, f.loans.Create(context.Background(), l))
	return l
}

func (f *fixture) seedInvestor(t *testing.T, wallet string) *investor.Investor {
	t.Helper()
	inv := &investor.Investor{Name: wallet[len(wallet)-2:], WalletAddress: wallet}
	require.NoError(t, f.investors.Create(context.Background(), inv))
	return inv
}

func slices(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func TestCreateInvestorPosition_TransfersThenBooks(t *testing.T) {
	f := newFixture(t, reconcile.AdminSkip)
	l := f.seedLoan(t, false)
	inv := f.seedInvestor(t, alice)
	var sentTo string
	var sentToken, sentAmount *big.Int
	f.writer.TransferTokenFn = func(_ context.Context, c, to string, tokenID, amount *big.Int) (*chain.Receipt, error) {
		sentTo, sentToken, sentAmount = to, tokenID, amount
		return &chain.Receipt{TxHash: xferTx, BlockNumber: 30, Status: 1}, nil
	}

	dto, err := f.uc.CreateInvestorPosition(context.Background(), CreatePositionInput{LoanID: "L-1", InvestorID: inv.ID, Slices: slices(4)})
	require.NoError(t, err)
	assert.Equal(t, alice, sentTo)
	assert.Equal(t, "42", sentToken.String())
	assert.Equal(t, int64(4), sentAmount.Int64())
	assert.Equal(t, alice, dto.WalletAddress)
	assert.True(t, dto.OwnershipPct.Equal(decimal.NewFromInt(40)), dto.OwnershipPct.String())

	p, err := f.positions.GetForUpdate(context.Background(), inv.ID, l.ID)
	require.NoError(t, err)
	assert.True(t, p.SlicesOwned.Equal(slices(4)))
	assert.Equal(t, xferTx, p.TxHash)
	assert.Equal(t, uint64(30), p.LastBlockSynced)

	done, err := f.sync.IsProcessed(context.Background(), stream, xferTx)
	require.NoError(t, err)
	assert.True(t, done, "transfer tx must be marked processed")

	// a second allocation accumulates
	_, err = f.uc.CreateInvestorPosition(context.Background(), CreatePositionInput{LoanID: "L-1", InvestorID: inv.ID, Slices: slices(2)})
	require.NoError(t, err)
	p, _ = f.positions.GetForUpdate(context.Background(), inv.ID, l.ID)
	assert.True(t, p.SlicesOwned.Equal(slices(6)))
}

func TestCreateInvestorPosition_ReconcileDoesNotReapply(t *testing.T) {
	f := newFixture(t, reconcile.AdminSkip)
	l := f.seedLoan(t, false)
	inv := f.seedInvestor(t, alice)
	_, err := f.uc.CreateInvestorPosition(context.Background(), CreatePositionInput{LoanID: "L-1", InvestorID: inv.ID, Slices: slices(3)})
	require.NoError(t, err)

	ev := chain.Event{
		Kind: chain.KindTransferSingle, Contract: contract, TxHash: xferTx, BlockNumber: 30,
		TransferSingle: &chain.TransferSingle{Operator: admin, From: admin, To: alice, TokenID: big.NewInt(42), Value: big.NewInt(3)},
	}
	rec := reconcile.NewUsecase(reconcile.Deps{
		UoW: mysql.NewGormUoW(f.db), Loans: f.loans, Sync: f.sync,
		Source: chainmock.Static(ev), Locker: f.locker,
	}, reconcile.Options{Contract: contract, AdminAddresses: []string{admin}})

	sum, err := rec.Reconcile(context.Background(), stream)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Replayed)
	assert.Equal(t, 0, sum.Applied)

	p, err := f.positions.GetForUpdate(context.Background(), inv.ID, l.ID)
	require.NoError(t, err)
	assert.True(t, p.SlicesOwned.Equal(slices(3)), p.SlicesOwned.String())
}

func TestCreateInvestorPosition_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		in      func(invID uint64) CreatePositionInput
		before  func(t *testing.T, f *fixture, invID uint64)
		wantErr error
	}{
		{
			name:    "zero slices",
			in:      func(id uint64) CreatePositionInput { return CreatePositionInput{LoanID: "L-1", InvestorID: id} },
			wantErr: investor.ErrInvalidSlices,
		},
		{
			name: "fractional slices",
			in: func(id uint64) CreatePositionInput {
				return CreatePositionInput{LoanID: "L-1", InvestorID: id, Slices: decimal.RequireFromString("1.5")}
			},
			wantErr: investor.ErrInvalidSlices,
		},
		{
			name:    "unknown loan",
			in:      func(id uint64) CreatePositionInput { return CreatePositionInput{LoanID: "nope", InvestorID: id, Slices: slices(1)} },
			wantErr: loan.ErrNotFound,
		},
		{
			name:    "unknown investor",
			in:      func(uint64) CreatePositionInput { return CreatePositionInput{LoanID: "L-1", InvestorID: 999, Slices: slices(1)} },
			wantErr: investor.ErrNotFound,
		},
		{
			name:    "exceeds total slices",
			in:      func(id uint64) CreatePositionInput { return CreatePositionInput{LoanID: "L-1", InvestorID: id, Slices: slices(11)} },
			wantErr: investor.ErrSliceOverflow,
		},
		{
			name: "junior on single token loan",
			in: func(id uint64) CreatePositionInput {
				return CreatePositionInput{LoanID: "L-1", InvestorID: id, Slices: slices(1), Tranche: TrancheJunior}
			},
			wantErr: loan.ErrInvalidTranche,
		},
		{
			name: "stream busy",
			in:   func(id uint64) CreatePositionInput { return CreatePositionInput{LoanID: "L-1", InvestorID: id, Slices: slices(1)} },
			before: func(t *testing.T, f *fixture, _ uint64) {
				release, ok, err := f.locker.TryAcquire(context.Background(), "sync:"+stream, time.Minute)
				require.NoError(t, err)
				require.True(t, ok)
				t.Cleanup(release)
			},
			wantErr: reconcile.ErrStreamBusy,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, reconcile.AdminSkip)
			f.seedLoan(t, false)
			inv := f.seedInvestor(t, alice)
			if tc.before != nil {
				tc.before(t, f, inv.ID)
			}
			_, err := f.uc.CreateInvestorPosition(context.Background(), tc.in(inv.ID))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if f.transfers != 0 {
				t.Fatalf("rejected allocation reached the chain")
			}
		})
	}
}

func TestCreateInvestorPosition_NotTokenized(t *testing.T) {
	f := newFixture(t, reconcile.AdminSkip)
	l := &loan.Loan{
		LoanID: "L-2", Principal: decimal.NewFromInt(10), TermMonths: 1, TotalSlices: 10,
		UnitPrice: decimal.NewFromInt(1), Status: loan.StatusPerforming,
	}
	require.NoError(t, f.loans.Create(context.Background(), l))
	inv := f.seedInvestor(t, alice)
	_, err := f.uc.CreateInvestorPosition(context.Background(), CreatePositionInput{LoanID: "L-2", InvestorID: inv.ID, Slices: slices(1)})
	assert.ErrorIs(t, err, loan.ErrNotTokenized)
}

func TestCreateInvestorPosition_ChainFailureBooksNothing(t *testing.T) {
	f := newFixture(t, reconcile.AdminSkip)
	l := f.seedLoan(t, false)
	inv := f.seedInvestor(t, alice)
	f.writer.TransferTokenFn = func(context.Context, string, string, *big.Int, *big.Int) (*chain.Receipt, error) {
		return nil, chain.ErrTxFailed
	}
	_, err := f.uc.CreateInvestorPosition(context.Background(), CreatePositionInput{LoanID: "L-1", InvestorID: inv.ID, Slices: slices(1)})
	assert.ErrorIs(t, err, chain.ErrTxFailed)
	_, err = f.positions.GetForUpdate(context.Background(), inv.ID, l.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestCreateInvestorPosition_TrancheJunior(t *testing.T) {
	f := newFixture(t, reconcile.AdminSkip)
	f.seedLoan(t, true)
	inv := f.seedInvestor(t, alice)
	var sent string
	f.writer.TransferTokenFn = func(_ context.Context, _, _ string, tokenID, _ *big.Int) (*chain.Receipt, error) {
		sent = tokenID.String()
		return &chain.Receipt{TxHash: xferTx, BlockNumber: 30, Status: 1}, nil
	}
	dto, err := f.uc.CreateInvestorPosition(context.Background(), CreatePositionInput{LoanID: "L-1", InvestorID: inv.ID, Slices: slices(1), Tranche: TrancheJunior})
	require.NoError(t, err)
	assert.Equal(t, "4202", sent)
	assert.Equal(t, "4202", dto.TokenID)
}

func TestCreateInvestorPosition_TrackPolicyDebitsAdmin(t *testing.T) {
	f := newFixture(t, reconcile.AdminTrack)
	l := f.seedLoan(t, false)
	adm := f.seedInvestor(t, admin)
	inv := f.seedInvestor(t, alice)
	require.NoError(t, f.positions.Save(context.Background(), &investor.Position{InvestorID: adm.ID, LoanID: l.ID, SlicesOwned: slices(10)}))

	_, err := f.uc.CreateInvestorPosition(context.Background(), CreatePositionInput{LoanID: "L-1", InvestorID: inv.ID, Slices: slices(7)})
	require.NoError(t, err)

	ap, err := f.positions.GetForUpdate(context.Background(), adm.ID, l.ID)
	require.NoError(t, err)
	assert.True(t, ap.SlicesOwned.Equal(slices(3)), ap.SlicesOwned.String())

	_, err = f.uc.CreateInvestorPosition(context.Background(), CreatePositionInput{LoanID: "L-1", InvestorID: inv.ID, Slices: slices(4)})
	assert.ErrorIs(t, err, investor.ErrInsufficientSlices)
}

func TestListByLoan(t *testing.T) {
	f := newFixture(t, reconcile.AdminSkip)
	f.seedLoan(t, false)
	inv := f.seedInvestor(t, alice)
	_, err := f.uc.CreateInvestorPosition(context.Background(), CreatePositionInput{LoanID: "L-1", InvestorID: inv.ID, Slices: slices(5)})
	require.NoError(t, err)

	ps, err := f.uc.ListByLoan(context.Background(), "L-1")
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, alice, ps[0].WalletAddress)
	assert.True(t, ps[0].OwnershipPct.Equal(decimal.NewFromInt(50)))

	_, err = f.uc.ListByLoan(context.Background(), "missing")
	assert.ErrorIs(t, err, loan.ErrNotFound)
}
