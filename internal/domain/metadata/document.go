package metadata

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"spv-ledger/internal/domain/loan"

	"github.com/shopspring/decimal"
)

const (
	AssetClass = "Private Credit"
	namePrefix = "Loan "
	dateLayout = "2006-01-02"
)

type Attribute struct {
	TraitType   string `json:"trait_type"`
	Value       any    `json:"value"`
	DisplayType string `json:"display_type,omitempty"`
}

type Document struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	ExternalURL string      `json:"external_url,omitempty"`
	Attributes  []Attribute `json:"attributes"`
}

// Hash is a SHA-256 commitment over the canonical encoding of a document.
type Hash [32]byte

func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// ParseHash accepts 0x-prefixed or bare 64-char hex.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x"))
	if err != nil || len(b) != len(h) {
		return h, fmt.Errorf("invalid hash %q", s)
	}
	copy(h[:], b)
	return h, nil
}

func fixed2(v decimal.Decimal) string { return v.StringFixed(2) }

func isoDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

// Canonicalize builds the attribute document for a loan. Tranche attributes are
// appended, in fixed order, only when spec is non-nil.
func Canonicalize(l *loan.Loan, spec *loan.TokenizationSpec, externalURL string) Document {
	doc := Document{
		Name:        namePrefix + l.LoanID,
		Description: fmt.Sprintf("Private Credit RWA - $%s %s", fixed2(l.Principal), l.Title),
		ExternalURL: externalURL,
		Attributes: []Attribute{
			{TraitType: "Principal", Value: fixed2(l.Principal), DisplayType: "number"},
			{TraitType: "APR", Value: fixed2(l.AnnualInterestRate), DisplayType: "percentage"},
			{TraitType: "Unit Price USDC", Value: fixed2(l.UnitPrice), DisplayType: "number"},
			{TraitType: "Term Months", Value: l.TermMonths, DisplayType: "number"},
			{TraitType: "Total Slices", Value: l.TotalSlices, DisplayType: "number"},
			{TraitType: "Monthly Payment", Value: fixed2(l.MonthlyPayment), DisplayType: "number"},
			{TraitType: "Maturity Date", Value: isoDate(l.MaturityDate), DisplayType: "date"},
			{TraitType: "Start Date", Value: isoDate(l.StartDate), DisplayType: "date"},
			{TraitType: "Borrower", Value: l.Borrower, DisplayType: "string"},
			{TraitType: "Asset Class", Value: AssetClass},
		},
	}
	if spec != nil {
		doc.Attributes = append(doc.Attributes,
			Attribute{TraitType: "Structure", Value: "Tranche"},
			Attribute{TraitType: "Senior %", Value: fixed2(spec.SeniorPct), DisplayType: "percentage"},
			Attribute{TraitType: "Junior %", Value: fixed2(spec.JuniorPct), DisplayType: "percentage"},
			Attribute{TraitType: "Senior Yield", Value: spec.SeniorCouponPct.IntPart(), DisplayType: "number"},
			Attribute{TraitType: "Senior Cap Method", Value: spec.CapMethod, DisplayType: "string"},
		)
	}
	return doc
}

// Encode returns the canonical bytes of a document: sorted keys, no
// whitespace, no HTML escaping, numbers kept as their literal text.
func Encode(doc Document) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return CanonicalBytes(raw)
}

// CanonicalBytes re-encodes any JSON document into canonical form.
func CanonicalBytes(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformed)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// maps encode with sorted keys
	if err := enc.Encode(tree); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Commit hashes the canonical encoding of doc.
func Commit(doc Document) (Hash, error) {
	b, err := Encode(doc)
	if err != nil {
		return Hash{}, err
	}
	return sha256.Sum256(b), nil
}

// CommitBytes hashes the canonical form of a fetched raw document.
func CommitBytes(raw []byte) (Hash, error) {
	b, err := CanonicalBytes(raw)
	if err != nil {
		return Hash{}, err
	}
	return sha256.Sum256(b), nil
}

// Verify reports whether raw commits to expected. A malformed document or
// expected value never verifies.
func Verify(raw []byte, expected string) bool {
	want, err := ParseHash(expected)
	if err != nil {
		return false
	}
	got, err := CommitBytes(raw)
	if err != nil {
		return false
	}
	return got == want
}
