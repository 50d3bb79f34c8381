package investormock

import (
	"context"

	domain "spv-ledger/internal/domain/investor"
)

var _ domain.Repository = (*Repo)(nil)

// Repo is a function-backed mock that satisfies domain.Repository.
type Repo struct {
	CreateFn      func(ctx context.Context, inv *domain.Investor) error
	GetByIDFn     func(ctx context.Context, id uint64) (*domain.Investor, error)
	GetByWalletFn func(ctx context.Context, wallet string) (*domain.Investor, error)
	ListFn        func(ctx context.Context) ([]domain.Investor, error)
}

func (m *Repo) Create(ctx context.Context, inv *domain.Investor) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, inv)
	}
	return nil
}

func (m *Repo) GetByID(ctx context.Context, id uint64) (*domain.Investor, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	return nil, context.Canceled
}

func (m *Repo) GetByWallet(ctx context.Context, wallet string) (*domain.Investor, error) {
	if m.GetByWalletFn != nil {
		return m.GetByWalletFn(ctx, wallet)
	}
	return nil, context.Canceled
}

func (m *Repo) List(ctx context.Context) ([]domain.Investor, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx)
	}
	return nil, context.Canceled
}
