package loan

import "context"

type Repository interface {
	Create(ctx context.Context, l *Loan) error
	Save(ctx context.Context, l *Loan) error
	GetByLoanID(ctx context.Context, loanID string) (*Loan, error)
	// row-locked read, only meaningful inside a tx
	GetByLoanIDForUpdate(ctx context.Context, loanID string) (*Loan, error)
	// GetByTokenID matches the parent token id or either tranche id.
	GetByTokenID(ctx context.Context, tokenID string) (*Loan, error)
	List(ctx context.Context, limit, offset int) ([]Loan, error)
	Delete(ctx context.Context, id uint64) error
}

type SpecRepository interface {
	CreateSpec(ctx context.Context, s *TokenizationSpec) error
	GetSpecByName(ctx context.Context, name string) (*TokenizationSpec, error)
	ListSpecs(ctx context.Context) ([]TokenizationSpec, error)
}
