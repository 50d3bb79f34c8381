package loan

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("loan not found")
	ErrDuplicateLoanID   = errors.New("loan_id already exists")
	ErrAlreadyTokenized  = errors.New("loan already tokenized")
	ErrNotTokenized      = errors.New("loan is not tokenized")
	ErrTermsLocked       = errors.New("loan terms are locked after tokenization")
	ErrInvalidTerms      = errors.New("invalid loan terms")
	ErrInvalidTranche    = errors.New("invalid tokenization spec")
	ErrSpecNotFound      = errors.New("tokenization spec not found")
	ErrDuplicateSpec     = errors.New("tokenization spec name already exists")
	ErrNoPositions       = errors.New("loan has no investor positions")
	ErrZeroDistribution  = errors.New("distribution amount rounds to zero")
	ErrInvalidTransition = errors.New("loan not in a state that allows this operation")
)

type Status string

const (
	StatusPerforming Status = "performing"
	StatusLate       Status = "late"
	StatusMatured    Status = "matured"
	StatusDefaulted  Status = "defaulted"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPerforming, StatusLate, StatusMatured, StatusDefaulted:
		return true
	}
	return false
}

const (
	DefaultTotalSlices = 100
	// ProvisionalPrefix marks loans first seen on-chain with no local record.
	ProvisionalPrefix = "onchain-"
)

type Loan struct {
	ID                 uint64          `gorm:"primaryKey;column:id" json:"-"`
	LoanID             string          `gorm:"size:64;not null;uniqueIndex:ux_loans_loan_id" json:"loan_id"`
	Title              string          `gorm:"size:255" json:"title"`
	Borrower           string          `gorm:"size:255" json:"borrower"`
	Principal          decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"principal"`
	AnnualInterestRate decimal.Decimal `gorm:"type:decimal(6,2);not null;default:0" json:"annual_interest_rate"`
	TermMonths         int             `gorm:"not null;default:12" json:"term_months"`
	MonthlyPayment     decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"monthly_payment"`
	StartDate          *time.Time      `gorm:"type:date" json:"start_date,omitempty"`
	MaturityDate       *time.Time      `gorm:"type:date" json:"maturity_date,omitempty"`
	Status             Status          `gorm:"size:16;not null;default:'performing'" json:"status"`

	TokenContract string          `gorm:"size:64" json:"token_contract,omitempty"`
	TokenID       *string         `gorm:"size:80;uniqueIndex:ux_loans_token_id" json:"token_id,omitempty"`
	SeniorID      *string         `gorm:"size:80;index" json:"senior_id,omitempty"`
	JuniorID      *string         `gorm:"size:80;index" json:"junior_id,omitempty"`
	TotalSlices   int             `gorm:"not null;default:100" json:"total_slices"`
	UnitPrice     decimal.Decimal `gorm:"type:decimal(18,2);not null;default:1" json:"unit_price"`
	TxHash        string          `gorm:"size:66" json:"tx_hash,omitempty"`

	MetadataCID  string `gorm:"size:128" json:"metadata_cid,omitempty"`
	MetadataHash string `gorm:"size:66" json:"metadata_hash,omitempty"`
	Tokenized    bool   `gorm:"not null;default:false" json:"tokenized"`
	Synchronized bool   `gorm:"not null;default:false" json:"synchronized"`
	Provisional  bool   `gorm:"not null;default:false" json:"provisional"`

	TokenizationSpecID *uint64           `gorm:"index" json:"-"`
	TokenizationSpec   *TokenizationSpec `gorm:"constraint:OnDelete:SET NULL" json:"tokenization_spec,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Loan) TableName() string { return "loans" }

// IsTranche reports whether the loan was issued as a senior/junior pair.
func (l *Loan) IsTranche() bool { return l.SeniorID != nil && l.JuniorID != nil }

func (l *Loan) TokenIDString() string {
	if l.TokenID == nil {
		return ""
	}
	return *l.TokenID
}

// DistributionTarget is the token id dividends are deposited against.
func (l *Loan) DistributionTarget() string {
	if l.IsTranche() {
		return *l.SeniorID
	}
	return l.TokenIDString()
}

// MonthlyInterest = principal * (apr/100) / term_months.
func (l *Loan) MonthlyInterest() decimal.Decimal {
	if l.TermMonths <= 0 {
		return decimal.Zero
	}
	return l.Principal.
		Mul(l.AnnualInterestRate).
		Div(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(l.TermMonths))).
		Round(2)
}

func (l *Loan) IsMatured(now time.Time) bool {
	return l.MaturityDate != nil && !now.Before(*l.MaturityDate)
}

func (l *Loan) DaysRemaining(now time.Time) int {
	if l.MaturityDate == nil || l.IsMatured(now) {
		return 0
	}
	return int(math.Ceil(l.MaturityDate.Sub(now).Hours() / 24))
}

// ProgressPercentage is elapsed term as a percentage, clamped to [0,100].
func (l *Loan) ProgressPercentage(now time.Time) float64 {
	if l.StartDate == nil || l.MaturityDate == nil || !l.MaturityDate.After(*l.StartDate) {
		return 0
	}
	total := l.MaturityDate.Sub(*l.StartDate).Hours()
	done := now.Sub(*l.StartDate).Hours()
	pct := done / total * 100
	return math.Max(0, math.Min(100, math.Round(pct*100)/100))
}

// MetadataURL resolves the metadata cid against a public gateway base.
func (l *Loan) MetadataURL(gateway string) string {
	if l.MetadataCID == "" {
		return ""
	}
	return strings.TrimRight(gateway, "/") + "/ipfs/" + l.MetadataCID
}

// ValidateTerms checks the fields an admin supplies on add/edit.
func (l *Loan) ValidateTerms() error {
	switch {
	case strings.TrimSpace(l.LoanID) == "":
		return fmt.Errorf("%w: loan_id is required", ErrInvalidTerms)
	case !l.Principal.IsPositive():
		return fmt.Errorf("%w: principal must be > 0", ErrInvalidTerms)
	case l.AnnualInterestRate.IsNegative():
		return fmt.Errorf("%w: annual_interest_rate must be >= 0", ErrInvalidTerms)
	case l.TermMonths <= 0:
		return fmt.Errorf("%w: term_months must be > 0", ErrInvalidTerms)
	case l.TotalSlices <= 0:
		return fmt.Errorf("%w: total_slices must be > 0", ErrInvalidTerms)
	case !l.UnitPrice.IsPositive():
		return fmt.Errorf("%w: unit_price must be > 0", ErrInvalidTerms)
	case !l.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTerms, l.Status)
	case l.StartDate != nil && l.MaturityDate != nil && l.MaturityDate.Before(*l.StartDate):
		return fmt.Errorf("%w: maturity_date before start_date", ErrInvalidTerms)
	}
	return nil
}

// TokenizationSpec is a named senior/junior split used when issuing tranches.
type TokenizationSpec struct {
	ID              uint64          `gorm:"primaryKey;column:id" json:"id"`
	Name            string          `gorm:"size:128;not null;uniqueIndex" json:"name"`
	SeniorPct       decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"senior_pct"`
	JuniorPct       decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"junior_pct"`
	SeniorCouponPct decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0" json:"senior_coupon_pct"`
	CapMethod       string          `gorm:"size:32;not null;default:'principal_plus_coupon'" json:"cap_method"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (TokenizationSpec) TableName() string { return "tokenization_specs" }

const CapPrincipalPlusCoupon = "principal_plus_coupon"

var hundred = decimal.NewFromInt(100)

// Validate enforces each pct in (0,100] and senior+junior <= 100.
func (s *TokenizationSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTranche)
	}
	if err := checkPct("senior_pct", s.SeniorPct); err != nil {
		return err
	}
	if err := checkPct("junior_pct", s.JuniorPct); err != nil {
		return err
	}
	if s.SeniorPct.Add(s.JuniorPct).GreaterThan(hundred) {
		return fmt.Errorf("%w: senior_pct + junior_pct must be <= 100", ErrInvalidTranche)
	}
	if s.SeniorCouponPct.IsNegative() {
		return fmt.Errorf("%w: senior_coupon_pct must be >= 0", ErrInvalidTranche)
	}
	if s.CapMethod == "" {
		s.CapMethod = CapPrincipalPlusCoupon
	}
	return nil
}

// Slices splits total slices by the spec percentages (floor).
func (s *TokenizationSpec) Slices(total int) (senior, junior int64) {
	t := decimal.NewFromInt(int64(total))
	senior = t.Mul(s.SeniorPct).Div(hundred).IntPart()
	junior = t.Mul(s.JuniorPct).Div(hundred).IntPart()
	return senior, junior
}

func checkPct(label string, pct decimal.Decimal) error {
	if !pct.IsPositive() || pct.GreaterThan(hundred) {
		return fmt.Errorf("%w: %s must be in (0,100], got %s", ErrInvalidTranche, label, pct.String())
	}
	return nil
}
