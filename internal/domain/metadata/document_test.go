package metadata

import (
	"testing"
	"time"

	"spv-ledger/internal/domain/loan"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleLoan() *loan.Loan {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	maturity := start.AddDate(1, 0, 0)
	return &loan.Loan{
		LoanID:             "L-100",
		Title:              "Working capital <Batch 1>",
		Borrower:           "Acme & Sons",
		Principal:          decimal.RequireFromString("50000"),
		AnnualInterestRate: decimal.RequireFromString("12.5"),
		TermMonths:         12,
		MonthlyPayment:     decimal.RequireFromString("4454.25"),
		TotalSlices:        100,
		UnitPrice:          decimal.RequireFromString("500"),
		StartDate:          &start,
		MaturityDate:       &maturity,
	}
}

func TestEncode_Deterministic(t *testing.T) {
	doc := Canonicalize(sampleLoan(), nil, "https://spv.example/loans/L-100")
	a, err := Encode(doc)
	require.NoError(t, err)
	b, err := Encode(Canonicalize(sampleLoan(), nil, "https://spv.example/loans/L-100"))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// no html escaping, no whitespace between tokens
	assert.Contains(t, string(a), `"Acme & Sons"`)
	assert.Contains(t, string(a), `<Batch 1>`)
	assert.NotContains(t, string(a), "\n")
	assert.NotContains(t, string(a), `": `)
}

func TestCommit_ChangesWithTerms(t *testing.T) {
	l := sampleLoan()
	h1, err := Commit(Canonicalize(l, nil, ""))
	require.NoError(t, err)

	l.Principal = decimal.RequireFromString("50000.01")
	h2, err := Commit(Canonicalize(l, nil, ""))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestCanonicalBytes_KeyOrderAndSpacingIrrelevant(t *testing.T) {
	a := []byte(`{"name":"Loan X","attributes":[{"value":"1.00","trait_type":"Principal"}]}`)
	b := []byte("{ \"attributes\" : [ {\"trait_type\":\"Principal\", \"value\":\"1.00\"} ],\n \"name\":\"Loan X\" }")
	ha, err := CommitBytes(a)
	require.NoError(t, err)
	hb, err := CommitBytes(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestCanonicalBytes_Malformed(t *testing.T) {
	_, err := CanonicalBytes([]byte(`{"name":`))
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = CanonicalBytes([]byte(`{} {}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestVerify(t *testing.T) {
	raw, err := Encode(Canonicalize(sampleLoan(), nil, ""))
	require.NoError(t, err)
	h, err := CommitBytes(raw)
	require.NoError(t, err)

	assert.True(t, Verify(raw, h.Hex()))
	assert.True(t, Verify(raw, h.Hex()[2:]))
	assert.False(t, Verify(raw, "0xdeadbeef"))
	assert.False(t, Verify([]byte("not json"), h.Hex()))

	tampered := append([]byte{}, raw...)
	tampered[len(tampered)-3] = 'X'
	assert.False(t, Verify(tampered, h.Hex()))
}

func TestCanonicalize_TrancheAttributesAppended(t *testing.T) {
	spec := &loan.TokenizationSpec{
		Name: "70-30", SeniorPct: decimal.RequireFromString("70"), JuniorPct: decimal.RequireFromString("30"),
		SeniorCouponPct: decimal.RequireFromString("8"), CapMethod: loan.CapPrincipalPlusCoupon,
	}
	plain := Canonicalize(sampleLoan(), nil, "")
	doc := Canonicalize(sampleLoan(), spec, "")
	require.Len(t, doc.Attributes, len(plain.Attributes)+5)

	var tail []string
	for _, a := range doc.Attributes[len(plain.Attributes):] {
		tail = append(tail, a.TraitType)
	}
	assert.Equal(t, []string{"Structure", "Senior %", "Junior %", "Senior Yield", "Senior Cap Method"}, tail)
}

func TestParseHash(t *testing.T) {
	_, err := ParseHash("0x1234")
	assert.Error(t, err)
	var h Hash
	h[0] = 0xab
	back, err := ParseHash(h.Hex())
	require.NoError(t, err)
	assert.Equal(t, h, back)
}
