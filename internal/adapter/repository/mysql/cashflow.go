package mysql

import (
	"context"

	cashflowDomain "spv-ledger/internal/domain/cashflow"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CashflowRepository struct{ db *gorm.DB }

func NewCashflowRepository(db *gorm.DB) *CashflowRepository { return &CashflowRepository{db: db} }

// Insert relies on the unique tx_key index; a conflicting row is left untouched.
func (r *CashflowRepository) Insert(ctx context.Context, c *cashflowDomain.Cashflow) (bool, error) {
	res := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tx_key"}}, DoNothing: true}).
		Create(c)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *CashflowRepository) ListByLoan(ctx context.Context, loanID uint64) ([]cashflowDomain.Cashflow, error) {
	var out []cashflowDomain.Cashflow
	res := r.db.WithContext(ctx).Where("loan_id = ?", loanID).Order("id ASC").Find(&out)
	return out, res.Error
}

func (r *CashflowRepository) ListByInvestor(ctx context.Context, investorID uint64) ([]cashflowDomain.Cashflow, error) {
	var out []cashflowDomain.Cashflow
	res := r.db.WithContext(ctx).Where("investor_id = ?", investorID).Order("id DESC").Find(&out)
	return out, res.Error
}

func (r *CashflowRepository) DeleteByLoan(ctx context.Context, loanID uint64) error {
	return r.db.WithContext(ctx).Where("loan_id = ?", loanID).Delete(&cashflowDomain.Cashflow{}).Error
}
