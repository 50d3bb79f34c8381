package loan

import (
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type CreateLoanInput struct {
	LoanID             string
	Title              string
	Borrower           string
	Principal          decimal.Decimal
	AnnualInterestRate decimal.Decimal
	TermMonths         int
	MonthlyPayment     decimal.Decimal
	TotalSlices        int
	UnitPrice          decimal.Decimal
	Status             string
	StartDate          string // YYYY-MM-DD
	MaturityDate       string
}

// EditLoanInput carries only the fields to change. Once a loan is tokenized
// everything but Title and Status is locked.
type EditLoanInput struct {
	Title              *string
	Status             *string
	Borrower           *string
	Principal          *decimal.Decimal
	AnnualInterestRate *decimal.Decimal
	TermMonths         *int
	MonthlyPayment     *decimal.Decimal
	TotalSlices        *int
	UnitPrice          *decimal.Decimal
	StartDate          *string
	MaturityDate       *string
}

func (in EditLoanInput) touchesTerms() bool {
	return in.Borrower != nil || in.Principal != nil || in.AnnualInterestRate != nil ||
		in.TermMonths != nil || in.MonthlyPayment != nil || in.TotalSlices != nil ||
		in.UnitPrice != nil || in.StartDate != nil || in.MaturityDate != nil
}

type LoanDTO struct {
	LoanID             string          `json:"loan_id"`
	Title              string          `json:"title"`
	Borrower           string          `json:"borrower"`
	Principal          decimal.Decimal `json:"principal"`
	AnnualInterestRate decimal.Decimal `json:"annual_interest_rate"`
	TermMonths         int             `json:"term_months"`
	MonthlyPayment     decimal.Decimal `json:"monthly_payment"`
	MonthlyInterest    decimal.Decimal `json:"monthly_interest"`
	StartDate          string          `json:"start_date,omitempty"`
	MaturityDate       string          `json:"maturity_date,omitempty"`
	Status             string          `json:"status"`
	TotalSlices        int             `json:"total_slices"`
	UnitPrice          decimal.Decimal `json:"unit_price"`

	TokenContract    string `json:"token_contract,omitempty"`
	TokenID          string `json:"token_id,omitempty"`
	SeniorID         string `json:"senior_id,omitempty"`
	JuniorID         string `json:"junior_id,omitempty"`
	TokenizationSpec string `json:"tokenization_spec,omitempty"`
	TxHash           string `json:"tx_hash,omitempty"`
	MetadataCID      string `json:"metadata_cid,omitempty"`
	MetadataHash     string `json:"metadata_hash,omitempty"`
	MetadataURL      string `json:"metadata_url,omitempty"`
	Tokenized        bool   `json:"tokenized"`
	Synchronized     bool   `json:"synchronized"`
	Provisional      bool   `json:"provisional"`

	ProgressPercentage float64   `json:"progress_percentage"`
	DaysRemaining      int       `json:"days_remaining"`
	IsMatured          bool      `json:"is_matured"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type TokenizeResult struct {
	LoanID       string `json:"loan_id"`
	TokenID      string `json:"token_id"`
	SeniorID     string `json:"senior_id,omitempty"`
	JuniorID     string `json:"junior_id,omitempty"`
	SeniorSupply int64  `json:"senior_supply,omitempty"`
	JuniorSupply int64  `json:"junior_supply,omitempty"`
	SeniorCap    string `json:"senior_cap_units,omitempty"`
	MetadataCID  string `json:"metadata_cid"`
	MetadataHash string `json:"metadata_hash"`
	MetadataURI  string `json:"metadata_uri"`
	TxHash       string `json:"tx_hash"`
	BlockNumber  uint64 `json:"block_number"`
}

// IntegrityReport compares the stored document against the on-chain commitment.
type IntegrityReport struct {
	LoanID       string `json:"loan_id"`
	MetadataCID  string `json:"metadata_cid"`
	Expected     string `json:"expected_hash"`
	Computed     string `json:"computed_hash"`
	Synchronized bool   `json:"synchronized"`
}

type CreateSpecInput struct {
	Name            string
	SeniorPct       decimal.Decimal
	JuniorPct       decimal.Decimal
	SeniorCouponPct decimal.Decimal
	CapMethod       string
}
