package investor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"spv-ledger/internal/domain/cashflow"
	domain "spv-ledger/internal/domain/investor"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Usecase struct {
	investors domain.Repository
	positions domain.PositionRepository
	cashflows cashflow.Repository
}

func NewUsecase(investors domain.Repository, positions domain.PositionRepository, cashflows cashflow.Repository) *Usecase {
	return &Usecase{investors: investors, positions: positions, cashflows: cashflows}
}

func (u *Usecase) Add(ctx context.Context, in AddInvestorInput) (*InvestorDTO, error) {
	wallet := strings.TrimSpace(in.WalletAddress)
	if !common.IsHexAddress(wallet) || !strings.HasPrefix(strings.ToLower(wallet), "0x") {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidWallet, in.WalletAddress)
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidInvestor)
	}
	_, err := u.investors.GetByWallet(ctx, wallet)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateWallet, domain.NormalizeWallet(wallet))
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	inv := &domain.Investor{Name: strings.TrimSpace(in.Name), WalletAddress: wallet}
	if e := strings.TrimSpace(in.Email); e != "" {
		inv.Email = &e
	}
	if err := u.investors.Create(ctx, inv); err != nil {
		return nil, err
	}
	return toDTO(inv), nil
}

func (u *Usecase) List(ctx context.Context) ([]InvestorDTO, error) {
	invs, err := u.investors.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]InvestorDTO, 0, len(invs))
	for i := range invs {
		out = append(out, *toDTO(&invs[i]))
	}
	return out, nil
}

// Portfolio lists a wallet's holdings and the yield credited to it.
func (u *Usecase) Portfolio(ctx context.Context, wallet string) (*Portfolio, error) {
	inv, err := u.investors.GetByWallet(ctx, wallet)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, domain.NormalizeWallet(wallet))
	}
	if err != nil {
		return nil, err
	}
	ps, err := u.positions.ListByInvestor(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	flows, err := u.cashflows.ListByInvestor(ctx, inv.ID)
	if err != nil {
		return nil, err
	}

	out := &Portfolio{
		Investor:     *toDTO(inv),
		Holdings:     make([]Holding, 0, len(ps)),
		Cashflows:    make([]CashflowDTO, 0, len(flows)),
		TotalBalance: decimal.Zero,
		TotalPaid:    decimal.Zero,
	}
	loanIDs := map[uint64]string{}
	for _, p := range ps {
		h := Holding{SlicesOwned: p.SlicesOwned, BalanceDue: p.BalanceDue}
		if p.Loan != nil {
			loanIDs[p.LoanID] = p.Loan.LoanID
			h.LoanID = p.Loan.LoanID
			h.Title = p.Loan.Title
			h.TokenID = p.Loan.DistributionTarget()
			h.Status = string(p.Loan.Status)
			h.TotalSlices = p.Loan.TotalSlices
			h.OwnershipPct = p.OwnershipPercent(p.Loan.TotalSlices)
		}
		out.Holdings = append(out.Holdings, h)
		out.TotalBalance = out.TotalBalance.Add(p.BalanceDue)
	}
	for _, f := range flows {
		out.Cashflows = append(out.Cashflows, CashflowDTO{
			LoanID:      loanIDs[f.LoanID],
			Amount:      f.Amount,
			TxHash:      f.TxHash,
			BlockNumber: f.BlockNumber,
			Description: f.Description,
			CreatedAt:   f.CreatedAt,
		})
		out.TotalPaid = out.TotalPaid.Add(f.Amount)
	}
	return out, nil
}

func toDTO(inv *domain.Investor) *InvestorDTO {
	dto := &InvestorDTO{
		ID:            inv.ID,
		Name:          inv.Name,
		WalletAddress: inv.WalletAddress,
		CreatedAt:     inv.CreatedAt,
	}
	if inv.Email != nil {
		dto.Email = *inv.Email
	}
	return dto
}
