package position

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
	"spv-ledger/internal/usecase/reconcile"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Deps struct {
	UoW       uow.UnitOfWork
	Loans     loan.Repository
	Investors investor.Repository
	Positions investor.PositionRepository
	Writer    chain.Writer
	Locker    lock.Locker
}

// Usecase allocates slices to investors by transferring tokens out of the
// admin wallet and booking the same movement locally.
type Usecase struct {
	d    Deps
	opts Options
}

func NewUsecase(d Deps, opts Options) *Usecase {
	if opts.Stream == "" {
		opts.Stream = "default"
	}
	if opts.AdminPolicy == "" {
		opts.AdminPolicy = reconcile.AdminSkip
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	return &Usecase{d: d, opts: opts}
}

func (u *Usecase) CreateInvestorPosition(ctx context.Context, in CreatePositionInput) (*PositionDTO, error) {
	if !in.Slices.IsPositive() || !in.Slices.IsInteger() {
		return nil, fmt.Errorf("%w: got %s, want a whole number > 0", investor.ErrInvalidSlices, in.Slices.String())
	}

	// same lock as the reconciler: the transfer must not race a sync run
	release, ok, err := u.d.Locker.TryAcquire(ctx, syncstate.LockKey(u.opts.Stream), u.opts.LockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, reconcile.ErrStreamBusy
	}
	defer release()

	l, err := u.d.Loans.GetByLoanID(ctx, in.LoanID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", loan.ErrNotFound, in.LoanID)
	}
	if err != nil {
		return nil, err
	}
	tokenID, err := tokenFor(l, in.Tranche)
	if err != nil {
		return nil, err
	}
	inv, err := u.d.Investors.GetByID(ctx, in.InvestorID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id %d", investor.ErrNotFound, in.InvestorID)
	}
	if err != nil {
		return nil, err
	}
	if err := u.checkCapacity(ctx, l, in.Slices); err != nil {
		return nil, err
	}

	contract := l.TokenContract
	if contract == "" {
		contract = u.opts.Contract
	}
	rcpt, err := u.d.Writer.TransferToken(ctx, contract, inv.WalletAddress, tokenID, in.Slices.BigInt())
	if err != nil {
		return nil, fmt.Errorf("transfer %s slices of %s to %s: %w", in.Slices.String(), tokenID, inv.WalletAddress, err)
	}

	var out *investor.Position
	err = u.d.UoW.WithinLoanTx(ctx, in.LoanID, func(r uow.Repos, locked *loan.Loan) error {
		// the transfer is booked here, reconcile must never apply it again
		if _, err := r.Sync.MarkProcessed(ctx, u.opts.Stream, rcpt.TxHash, rcpt.BlockNumber); err != nil {
			return err
		}
		if u.opts.AdminPolicy == reconcile.AdminTrack {
			if err := u.debitAdmin(ctx, r, locked, in.Slices); err != nil {
				return err
			}
		}
		p, err := r.Positions.GetForUpdate(ctx, inv.ID, locked.ID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			p = &investor.Position{InvestorID: inv.ID, LoanID: locked.ID}
		} else if err != nil {
			return err
		}
		if err := p.Add(in.Slices); err != nil {
			return err
		}
		p.TxHash = rcpt.TxHash
		if rcpt.BlockNumber > p.LastBlockSynced {
			p.LastBlockSynced = rcpt.BlockNumber
		}
		if err := r.Positions.Save(ctx, p); err != nil {
			return err
		}
		sum, err := r.Positions.SumSlices(ctx, locked.ID)
		if err != nil {
			return err
		}
		if sum.GreaterThan(decimal.NewFromInt(int64(locked.TotalSlices))) {
			return fmt.Errorf("%w: loan %s holds %s of %d", investor.ErrSliceOverflow, locked.LoanID, sum.String(), locked.TotalSlices)
		}
		out = p
		return nil
	})
	if err != nil {
		logger.Errorf("position: transfer mined but not booked", logger.Fields{
			"Loan": in.LoanID, "Investor": inv.ID, "TxHash": rcpt.TxHash, "Error": err.Error(),
		})
		return nil, err
	}

	logger.Infof("position: slices allocated", logger.Fields{
		"Loan": in.LoanID, "Wallet": inv.WalletAddress, "Slices": in.Slices.String(), "TxHash": rcpt.TxHash,
	})
	out.Investor = inv
	return toDTO(l, out, tokenID.String()), nil
}

// ListByLoan returns every holder of a loan.
func (u *Usecase) ListByLoan(ctx context.Context, loanID string) ([]PositionDTO, error) {
	l, err := u.d.Loans.GetByLoanID(ctx, loanID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", loan.ErrNotFound, loanID)
	}
	if err != nil {
		return nil, err
	}
	ps, err := u.d.Positions.ListByLoan(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	out := make([]PositionDTO, 0, len(ps))
	for i := range ps {
		out = append(out, *toDTO(l, &ps[i], l.DistributionTarget()))
	}
	return out, nil
}

// checkCapacity rejects allocations the loan cannot cover. Under the track
// policy the admin wallet must hold the slices; otherwise the sum of booked
// positions plus the new slices must fit in total_slices.
func (u *Usecase) checkCapacity(ctx context.Context, l *loan.Loan, slices decimal.Decimal) error {
	if u.opts.AdminPolicy == reconcile.AdminTrack {
		admin, err := u.d.Investors.GetByWallet(ctx, u.d.Writer.Address())
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: admin wallet holds no slices of %s", investor.ErrInsufficientSlices, l.LoanID)
		}
		if err != nil {
			return err
		}
		ps, err := u.d.Positions.ListByLoan(ctx, l.ID)
		if err != nil {
			return err
		}
		for _, p := range ps {
			if p.InvestorID == admin.ID {
				if p.SlicesOwned.LessThan(slices) {
					break
				}
				return nil
			}
		}
		return fmt.Errorf("%w: admin wallet cannot cover %s slices of %s", investor.ErrInsufficientSlices, slices.String(), l.LoanID)
	}

	sum, err := u.d.Positions.SumSlices(ctx, l.ID)
	if err != nil {
		return err
	}
	if sum.Add(slices).GreaterThan(decimal.NewFromInt(int64(l.TotalSlices))) {
		return fmt.Errorf("%w: %s + %s exceeds %d for %s", investor.ErrSliceOverflow, sum.String(), slices.String(), l.TotalSlices, l.LoanID)
	}
	return nil
}

func (u *Usecase) debitAdmin(ctx context.Context, r uow.Repos, l *loan.Loan, slices decimal.Decimal) error {
	admin, err := r.Investors.GetByWallet(ctx, u.d.Writer.Address())
	if err != nil {
		return fmt.Errorf("%w: admin wallet: %v", investor.ErrInsufficientSlices, err)
	}
	p, err := r.Positions.GetForUpdate(ctx, admin.ID, l.ID)
	if err != nil {
		return fmt.Errorf("%w: admin position: %v", investor.ErrInsufficientSlices, err)
	}
	if err := p.Remove(slices); err != nil {
		return err
	}
	return r.Positions.Save(ctx, p)
}

func tokenFor(l *loan.Loan, tranche string) (*big.Int, error) {
	if !l.Tokenized || l.TokenID == nil {
		return nil, fmt.Errorf("%w: %s", loan.ErrNotTokenized, l.LoanID)
	}
	s := l.TokenIDString()
	switch {
	case l.IsTranche() && tranche == TrancheJunior:
		s = *l.JuniorID
	case l.IsTranche() && (tranche == "" || tranche == TrancheSenior):
		s = *l.SeniorID
	case tranche != "":
		return nil, fmt.Errorf("%w: %s is not a tranche loan, got tranche %q", loan.ErrInvalidTranche, l.LoanID, tranche)
	}
	id, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: token id %q", loan.ErrInvalidTerms, s)
	}
	return id, nil
}

func toDTO(l *loan.Loan, p *investor.Position, tokenID string) *PositionDTO {
	dto := &PositionDTO{
		LoanID:          l.LoanID,
		InvestorID:      p.InvestorID,
		TokenID:         tokenID,
		SlicesOwned:     p.SlicesOwned,
		OwnershipPct:    p.OwnershipPercent(l.TotalSlices),
		BalanceDue:      p.BalanceDue,
		TxHash:          p.TxHash,
		LastBlockSynced: p.LastBlockSynced,
	}
	if p.Investor != nil {
		dto.InvestorName = p.Investor.Name
		dto.WalletAddress = p.Investor.WalletAddress
	}
	return dto
}
