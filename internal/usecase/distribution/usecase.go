package distribution

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"spv-ledger/internal/domain/chain"
	"spv-ledger/internal/domain/investor"
	"spv-ledger/internal/domain/loan"
	"spv-ledger/internal/domain/syncstate"
	"spv-ledger/internal/domain/uow"
	"spv-ledger/internal/infrastructure/lock"
	"spv-ledger/internal/infrastructure/logger"
	"spv-ledger/internal/infrastructure/metrics"
	"spv-ledger/internal/usecase/reconcile"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Deps struct {
	UoW       uow.UnitOfWork
	Loans     loan.Repository
	Positions investor.PositionRepository
	Writer    chain.Writer
	Locker    lock.Locker
	Metrics   *metrics.Metrics
}

// Usecase pays yield to a loan's holders: the USDC deposit lands on-chain
// first, then the same split is booked locally in one transaction.
type Usecase struct {
	d    Deps
	opts Options
}

func NewUsecase(d Deps, opts Options) *Usecase {
	if opts.Stream == "" {
		opts.Stream = "default"
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	return &Usecase{d: d, opts: opts}
}

// DistributePayment distributes one month of interest.
func (u *Usecase) DistributePayment(ctx context.Context, loanID string) (*Result, error) {
	l, err := u.loan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	return u.Distribute(ctx, loanID, l.MonthlyInterest())
}

func (u *Usecase) Distribute(ctx context.Context, loanID string, total decimal.Decimal) (*Result, error) {
	release, ok, err := u.d.Locker.TryAcquire(ctx, syncstate.LockKey(u.opts.Stream), u.opts.LockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, reconcile.ErrStreamBusy
	}
	defer release()

	l, err := u.loan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	switch {
	case !l.Tokenized || l.DistributionTarget() == "":
		return nil, fmt.Errorf("%w: %s", loan.ErrNotTokenized, loanID)
	case l.TotalSlices <= 0:
		return nil, fmt.Errorf("%w: %s has no slices", loan.ErrInvalidTerms, loanID)
	}
	positions, err := u.d.Positions.ListByLoan(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	if !anyHeld(positions) {
		return nil, fmt.Errorf("%w: %s", loan.ErrNoPositions, loanID)
	}

	units := total.Shift(6).Truncate(0)
	if !units.IsPositive() {
		return nil, fmt.Errorf("%w: %s", loan.ErrZeroDistribution, total.String())
	}
	unitsInt := units.BigInt()

	contract := l.TokenContract
	if contract == "" {
		contract = u.opts.Contract
	}
	target, ok := new(big.Int).SetString(l.DistributionTarget(), 10)
	if !ok {
		return nil, fmt.Errorf("%w: token id %q", loan.ErrInvalidTerms, l.DistributionTarget())
	}
	if l.IsTranche() {
		if err := u.precheckTranche(ctx, contract, l, target); err != nil {
			u.d.Metrics.Distribution("precheck_failed")
			return nil, err
		}
	}

	// phase 1: nothing local changes unless the deposit is mined
	rcpt, err := u.d.Writer.DepositDividends(ctx, contract, target, unitsInt)
	if err != nil {
		u.d.Metrics.Distribution("chain_failed")
		return nil, fmt.Errorf("deposit dividends for %s: %w", loanID, err)
	}
	dep := reconcile.Deposit{TxHash: rcpt.TxHash, BlockNumber: rcpt.BlockNumber, Units: unitsInt}
	if ev, err := rcpt.First(chain.KindDividendsDeposited); err == nil {
		dep.LogIndex = ev.LogIndex
	} else {
		logger.Warnf("distribution: receipt carries no DividendsDeposited log", logger.Fields{"TxHash": rcpt.TxHash})
	}

	// phase 2
	res := &Result{
		LoanID:      l.LoanID,
		TokenID:     target.String(),
		TxHash:      rcpt.TxHash,
		BlockNumber: rcpt.BlockNumber,
		Amount:      decimal.NewFromBigInt(unitsInt, -6),
		Units:       unitsInt.String(),
		Shares:      []Share{},
	}
	err = u.d.UoW.WithinLoanTx(ctx, loanID, func(r uow.Repos, locked *loan.Loan) error {
		if _, err := r.Sync.MarkProcessed(ctx, u.opts.Stream, rcpt.TxHash, rcpt.BlockNumber); err != nil {
			return err
		}
		flows, err := reconcile.CreditDividends(ctx, r, locked, dep)
		if err != nil {
			return err
		}
		bySlices := map[uint64]decimal.Decimal{}
		wallets := map[uint64]string{}
		for _, p := range positions {
			bySlices[p.InvestorID] = p.SlicesOwned
			if p.Investor != nil {
				wallets[p.InvestorID] = p.Investor.WalletAddress
			}
		}
		for _, f := range flows {
			res.Shares = append(res.Shares, Share{
				InvestorID: f.InvestorID,
				Wallet:     wallets[f.InvestorID],
				Slices:     bySlices[f.InvestorID],
				Amount:     f.Amount,
			})
		}
		return nil
	})
	if err != nil {
		// the deposit is on-chain and its tx is not marked processed, so the
		// next reconcile run books it
		logger.Errorf("distribution: deposit mined but local booking failed", logger.Fields{
			"Loan": loanID, "TxHash": rcpt.TxHash, "Error": err.Error(),
		})
		u.d.Metrics.Distribution("booking_failed")
		return nil, fmt.Errorf("book deposit %s: %w", rcpt.TxHash, err)
	}

	u.d.Metrics.Distribution("ok")
	logger.Infof("distribution: yield distributed", logger.Fields{
		"Loan": loanID, "Amount": res.Amount.String(), "TxHash": res.TxHash, "Recipients": len(res.Shares),
	})
	return res, nil
}

// precheckTranche confirms the senior id is live and paired with the junior id.
func (u *Usecase) precheckTranche(ctx context.Context, contract string, l *loan.Loan, senior *big.Int) error {
	sib, err := u.d.Writer.Sibling(ctx, contract, senior)
	if err != nil {
		return fmt.Errorf("%w: sibling of %s: %v", ErrTranchePrecheck, senior, err)
	}
	if l.JuniorID == nil || sib.String() != *l.JuniorID {
		return fmt.Errorf("%w: sibling of %s is %s, loan records %v", ErrTranchePrecheck, senior, sib, l.JuniorID)
	}
	supply, err := u.d.Writer.TokenSupply(ctx, contract, senior)
	if err != nil {
		return fmt.Errorf("%w: supply of %s: %v", ErrTranchePrecheck, senior, err)
	}
	if supply.Sign() <= 0 {
		return fmt.Errorf("%w: senior token %s has no supply", ErrTranchePrecheck, senior)
	}
	return nil
}

func (u *Usecase) loan(ctx context.Context, loanID string) (*loan.Loan, error) {
	l, err := u.d.Loans.GetByLoanID(ctx, loanID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", loan.ErrNotFound, loanID)
	}
	return l, err
}

func anyHeld(ps []investor.Position) bool {
	for _, p := range ps {
		if p.SlicesOwned.IsPositive() {
			return true
		}
	}
	return false
}
