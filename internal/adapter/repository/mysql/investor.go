package mysql

import (
	"context"

	investorDomain "spv-ledger/internal/domain/investor"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InvestorRepository struct{ db *gorm.DB }

func NewInvestorRepository(db *gorm.DB) *InvestorRepository { return &InvestorRepository{db: db} }

func (r *InvestorRepository) Create(ctx context.Context, inv *investorDomain.Investor) error {
	inv.WalletAddress = investorDomain.NormalizeWallet(inv.WalletAddress)
	return r.db.WithContext(ctx).Create(inv).Error
}

func (r *InvestorRepository) GetByID(ctx context.Context, id uint64) (*investorDomain.Investor, error) {
	var out investorDomain.Investor
	res := r.db.WithContext(ctx).First(&out, id)
	return &out, res.Error
}

func (r *InvestorRepository) GetByWallet(ctx context.Context, wallet string) (*investorDomain.Investor, error) {
	var out investorDomain.Investor
	res := r.db.WithContext(ctx).
		Where("wallet_address = ?", investorDomain.NormalizeWallet(wallet)).
		First(&out)
	return &out, res.Error
}

func (r *InvestorRepository) List(ctx context.Context) ([]investorDomain.Investor, error) {
	var out []investorDomain.Investor
	return out, r.db.WithContext(ctx).Order("id ASC").Find(&out).Error
}

type PositionRepository struct{ db *gorm.DB }

func NewPositionRepository(db *gorm.DB) *PositionRepository { return &PositionRepository{db: db} }

func (r *PositionRepository) GetForUpdate(ctx context.Context, investorID, loanID uint64) (*investorDomain.Position, error) {
	var out investorDomain.Position
	res := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("investor_id = ? AND loan_id = ?", investorID, loanID).
		First(&out)
	return &out, res.Error
}

func (r *PositionRepository) Save(ctx context.Context, p *investorDomain.Position) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(p).Error
}

func (r *PositionRepository) ListByLoan(ctx context.Context, loanID uint64) ([]investorDomain.Position, error) {
	var out []investorDomain.Position
	res := r.db.WithContext(ctx).
		Preload("Investor").
		Where("loan_id = ?", loanID).
		Order("id ASC").
		Find(&out)
	return out, res.Error
}

func (r *PositionRepository) ListByInvestor(ctx context.Context, investorID uint64) ([]investorDomain.Position, error) {
	var out []investorDomain.Position
	res := r.db.WithContext(ctx).
		Preload("Loan").
		Where("investor_id = ?", investorID).
		Order("id ASC").
		Find(&out)
	return out, res.Error
}

func (r *PositionRepository) SumSlices(ctx context.Context, loanID uint64) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	res := r.db.WithContext(ctx).
		Model(&investorDomain.Position{}).
		Select("SUM(slices_owned)").
		Where("loan_id = ?", loanID).
		Scan(&sum)
	if res.Error != nil || !sum.Valid {
		return decimal.Zero, res.Error
	}
	return sum.Decimal, nil
}

func (r *PositionRepository) DeleteByLoan(ctx context.Context, loanID uint64) error {
	return r.db.WithContext(ctx).Where("loan_id = ?", loanID).Delete(&investorDomain.Position{}).Error
}
