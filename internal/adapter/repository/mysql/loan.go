package mysql

import (
	"context"

	loanDomain "spv-ledger/internal/domain/loan"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LoanRepository struct{ db *gorm.DB }

func NewLoanRepository(db *gorm.DB) *LoanRepository { return &LoanRepository{db: db} }

func (r *LoanRepository) Create(ctx context.Context, l *loanDomain.Loan) error {
	return r.db.WithContext(ctx).Create(l).Error
}

func (r *LoanRepository) Save(ctx context.Context, l *loanDomain.Loan) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(l).Error
}

func (r *LoanRepository) GetByLoanID(ctx context.Context, loanID string) (*loanDomain.Loan, error) {
	var out loanDomain.Loan
	res := r.db.WithContext(ctx).Preload("TokenizationSpec").Where("loan_id = ?", loanID).First(&out)
	return &out, res.Error
}

func (r *LoanRepository) GetByLoanIDForUpdate(ctx context.Context, loanID string) (*loanDomain.Loan, error) {
	var out loanDomain.Loan
	res := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("loan_id = ?", loanID).
		First(&out)
	return &out, res.Error
}

func (r *LoanRepository) GetByTokenID(ctx context.Context, tokenID string) (*loanDomain.Loan, error) {
	var out loanDomain.Loan
	res := r.db.WithContext(ctx).
		Where("token_id = ? OR senior_id = ? OR junior_id = ?", tokenID, tokenID, tokenID).
		Order("id ASC").
		First(&out)
	return &out, res.Error
}

func (r *LoanRepository) List(ctx context.Context, limit, offset int) ([]loanDomain.Loan, error) {
	var out []loanDomain.Loan
	q := r.db.WithContext(ctx).Preload("TokenizationSpec").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	return out, q.Find(&out).Error
}

func (r *LoanRepository) Delete(ctx context.Context, id uint64) error {
	res := r.db.WithContext(ctx).Delete(&loanDomain.Loan{}, id)
	if res.Error == nil && res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return res.Error
}

type SpecRepository struct{ db *gorm.DB }

func NewSpecRepository(db *gorm.DB) *SpecRepository { return &SpecRepository{db: db} }

func (r *SpecRepository) CreateSpec(ctx context.Context, s *loanDomain.TokenizationSpec) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *SpecRepository) GetSpecByName(ctx context.Context, name string) (*loanDomain.TokenizationSpec, error) {
	var out loanDomain.TokenizationSpec
	res := r.db.WithContext(ctx).Where("name = ?", name).First(&out)
	return &out, res.Error
}

func (r *SpecRepository) ListSpecs(ctx context.Context) ([]loanDomain.TokenizationSpec, error) {
	var out []loanDomain.TokenizationSpec
	return out, r.db.WithContext(ctx).Order("name ASC").Find(&out).Error
}
