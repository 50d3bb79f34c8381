package loanmock

import (
	"context"

	domain "spv-ledger/internal/domain/loan"
)

var (
	_ domain.Repository     = (*Repo)(nil)
	_ domain.SpecRepository = (*SpecRepo)(nil)
)

// Repo is a function-backed mock that satisfies domain.Repository.
// Writes default to a no-op; reads default to context.Canceled.
type Repo struct {
	CreateFn               func(ctx context.Context, l *domain.Loan) error
	SaveFn                 func(ctx context.Context, l *domain.Loan) error
	GetByLoanIDFn          func(ctx context.Context, loanID string) (*domain.Loan, error)
	GetByLoanIDForUpdateFn func(ctx context.Context, loanID string) (*domain.Loan, error)
	GetByTokenIDFn         func(ctx context.Context, tokenID string) (*domain.Loan, error)
	ListFn                 func(ctx context.Context, limit, offset int) ([]domain.Loan, error)
	DeleteFn               func(ctx context.Context, id uint64) error
}

func (m *Repo) Create(ctx context.Context, l *domain.Loan) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, l)
	}
	return nil
}
func (m *Repo) GetByLoanID(ctx context.Context, loanID string) (*domain.Loan, error) {
	if m.GetByLoanIDFn != nil {
		return m.GetByLoanIDFn(ctx, loanID)
	}
	return nil, context.Canceled
}
func (m *Repo) Save(ctx context.Context, l *domain.Loan) error {
	if m.SaveFn != nil {
		return m.SaveFn(ctx, l)
	}
	return nil
}

func (m *Repo) GetByLoanIDForUpdate(ctx context.Context, loanID string) (*domain.Loan, error) {
	if m.GetByLoanIDForUpdateFn != nil {
		return m.GetByLoanIDForUpdateFn(ctx, loanID)
	}
	return nil, context.Canceled
}

func (m *Repo) GetByTokenID(ctx context.Context, tokenID string) (*domain.Loan, error) {
	if m.GetByTokenIDFn != nil {
		return m.GetByTokenIDFn(ctx, tokenID)
	}
	return nil, context.Canceled
}

func (m *Repo) List(ctx context.Context, limit, offset int) ([]domain.Loan, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, limit, offset)
	}
	return nil, context.Canceled
}

func (m *Repo) Delete(ctx context.Context, id uint64) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, id)
	}
	return nil
}

// SpecRepo is the function-backed domain.SpecRepository.
type SpecRepo struct {
	CreateSpecFn    func(ctx context.Context, s *domain.TokenizationSpec) error
	GetSpecByNameFn func(ctx context.Context, name string) (*domain.TokenizationSpec, error)
	ListSpecsFn     func(ctx context.Context) ([]domain.TokenizationSpec, error)
}

func (m *SpecRepo) CreateSpec(ctx context.Context, s *domain.TokenizationSpec) error {
	if m.CreateSpecFn != nil {
		return m.CreateSpecFn(ctx, s)
	}
	return nil
}

func (m *SpecRepo) GetSpecByName(ctx context.Context, name string) (*domain.TokenizationSpec, error) {
	if m.GetSpecByNameFn != nil {
		return m.GetSpecByNameFn(ctx, name)
	}
	return nil, context.Canceled
}

func (m *SpecRepo) ListSpecs(ctx context.Context) ([]domain.TokenizationSpec, error) {
	if m.ListSpecsFn != nil {
		return m.ListSpecsFn(ctx)
	}
	return nil, context.Canceled
}
