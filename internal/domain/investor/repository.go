package investor

import (
	"context"

	"github.com/shopspring/decimal"
)

type Repository interface {
	Create(ctx context.Context, inv *Investor) error
	GetByID(ctx context.Context, id uint64) (*Investor, error)
	// wallet is normalized by the implementation
	GetByWallet(ctx context.Context, wallet string) (*Investor, error)
	List(ctx context.Context) ([]Investor, error)
}

type PositionRepository interface {
	// GetForUpdate returns the row-locked position, gorm.ErrRecordNotFound when absent.
	GetForUpdate(ctx context.Context, investorID, loanID uint64) (*Position, error)
	Save(ctx context.Context, p *Position) error
	ListByLoan(ctx context.Context, loanID uint64) ([]Position, error)
	ListByInvestor(ctx context.Context, investorID uint64) ([]Position, error)
	SumSlices(ctx context.Context, loanID uint64) (decimal.Decimal, error)
	DeleteByLoan(ctx context.Context, loanID uint64) error
}
