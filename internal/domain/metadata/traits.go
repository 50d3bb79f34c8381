package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrMalformed     = errors.New("malformed metadata document")
	ErrMissingField  = errors.New("metadata missing required field")
	ErrInvalidField  = errors.New("metadata field has invalid value")
	ErrContentAbsent = errors.New("metadata content id is empty")
)

// Terms are the loan fields recovered from a fetched metadata document.
type Terms struct {
	LoanID         string
	Title          string
	Principal      decimal.Decimal
	APR            decimal.Decimal
	UnitPrice      decimal.Decimal
	TermMonths     int
	TotalSlices    int
	MonthlyPayment decimal.Decimal
	Borrower       string
	StartDate      *time.Time
	MaturityDate   *time.Time
	Tranche        *TrancheTerms
}

type TrancheTerms struct {
	SeniorPct   decimal.Decimal
	JuniorPct   decimal.Decimal
	SeniorYield decimal.Decimal
	CapMethod   string
}

var reSpace = regexp.MustCompile(`\s+`)

// NormalizeTrait collapses whitespace runs to "_" and lower-cases.
func NormalizeTrait(name string) string {
	return strings.ToLower(reSpace.ReplaceAllString(strings.TrimSpace(name), "_"))
}

type rawDoc struct {
	Name        *string `json:"name"`
	Description string  `json:"description"`
	Attributes  []struct {
		TraitType string          `json:"trait_type"`
		Value     json.RawMessage `json:"value"`
	} `json:"attributes"`
}

type traits map[string]json.RawMessage

func (t traits) text(key string) (string, bool, error) {
	raw, ok := t[key]
	if !ok || string(raw) == "null" {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), true, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true, nil
	}
	return "", false, fmt.Errorf("%w: %s", ErrInvalidField, key)
}

func (t traits) decimal(key string, def *decimal.Decimal) (decimal.Decimal, error) {
	s, ok, err := t.text(key)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok || s == "" {
		if def == nil {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrMissingField, key)
		}
		return *def, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s=%q", ErrInvalidField, key, s)
	}
	return v, nil
}

func (t traits) integer(key string, def *int) (int, error) {
	var d *decimal.Decimal
	if def != nil {
		v := decimal.NewFromInt(int64(*def))
		d = &v
	}
	v, err := t.decimal(key, d)
	if err != nil {
		return 0, err
	}
	if !v.Equal(v.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s=%s is not an integer", ErrInvalidField, key, v)
	}
	return int(v.IntPart()), nil
}

func (t traits) date(key string) (*time.Time, error) {
	s, ok, err := t.text(key)
	if err != nil || !ok || s == "" {
		return nil, err
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s=%q", ErrInvalidField, key, s)
	}
	return &d, nil
}

func ptr[T any](v T) *T { return &v }

// Decode parses a fetched document into Terms. Principal, Total Slices and a
// "Loan <id>" name are required; other traits fall back to defaults.
func Decode(raw []byte) (*Terms, error) {
	var err error
	var doc rawDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc.Name == nil || !strings.HasPrefix(*doc.Name, namePrefix) || strings.TrimSpace(strings.TrimPrefix(*doc.Name, namePrefix)) == "" {
		return nil, fmt.Errorf("%w: name", ErrMissingField)
	}

	t := traits{}
	for _, a := range doc.Attributes {
		t[NormalizeTrait(a.TraitType)] = a.Value
	}

	out := &Terms{
		LoanID: strings.TrimSpace(strings.TrimPrefix(*doc.Name, namePrefix)),
		Title:  titleFromDescription(doc.Description),
	}
	if out.Principal, err = t.decimal("principal", nil); err != nil {
		return nil, err
	}
	if out.TotalSlices, err = t.integer("total_slices", nil); err != nil {
		return nil, err
	}
	if out.TotalSlices <= 0 {
		return nil, fmt.Errorf("%w: total_slices must be > 0", ErrInvalidField)
	}
	if out.APR, err = t.decimal("apr", ptr(decimal.RequireFromString("5.00"))); err != nil {
		return nil, err
	}
	if out.UnitPrice, err = t.decimal("unit_price_usdc", ptr(decimal.NewFromInt(1))); err != nil {
		return nil, err
	}
	if out.TermMonths, err = t.integer("term_months", ptr(12)); err != nil {
		return nil, err
	}
	if out.MonthlyPayment, err = t.decimal("monthly_payment", ptr(decimal.Zero)); err != nil {
		return nil, err
	}
	if out.StartDate, err = t.date("start_date"); err != nil {
		return nil, err
	}
	if out.MaturityDate, err = t.date("maturity_date"); err != nil {
		return nil, err
	}
	borrower, ok, err := t.text("borrower")
	if err != nil {
		return nil, err
	}
	if !ok || borrower == "" {
		borrower = "Unknown"
	}
	out.Borrower = borrower

	if structure, _, _ := t.text("structure"); strings.EqualFold(structure, "tranche") {
		tr := &TrancheTerms{}
		if tr.SeniorPct, err = t.decimal("senior_%", nil); err != nil {
			return nil, err
		}
		if tr.JuniorPct, err = t.decimal("junior_%", nil); err != nil {
			return nil, err
		}
		if tr.SeniorYield, err = t.decimal("senior_yield", ptr(decimal.Zero)); err != nil {
			return nil, err
		}
		tr.CapMethod, _, _ = t.text("senior_cap_method")
		out.Tranche = tr
	}
	return out, nil
}

var reDescription = regexp.MustCompile(`^Private Credit RWA - \$[0-9.,]+\s*`)

// titleFromDescription strips the "Private Credit RWA - $<principal>" lead-in.
func titleFromDescription(desc string) string {
	return strings.TrimSpace(reDescription.ReplaceAllString(desc, ""))
}

// ContentID extracts the content id from an ipfs:// URI, a gateway URL or a bare id.
func ContentID(uri string) (string, error) {
	s := strings.TrimSpace(uri)
	s = strings.TrimPrefix(s, "ipfs://")
	if i := strings.Index(s, "/ipfs/"); i >= 0 {
		s = s[i+len("/ipfs/"):]
	}
	s = strings.TrimPrefix(s, "ipfs/")
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "/")
	if s == "" {
		return "", ErrContentAbsent
	}
	return s, nil
}
