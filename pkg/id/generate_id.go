package id

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"strings"
	"time"
)

// NewID32 returns exactly 32 hex characters (no separators/prefixes).
func NewID32() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

var thousand = big.NewInt(1000)

// NewTokenID returns a parent token id: unix millis * 1000 + three random digits.
func NewTokenID(now time.Time) *big.Int {
	n, err := rand.Int(rand.Reader, thousand)
	if err != nil {
		n = big.NewInt(now.UnixNano() % 1000)
	}
	out := new(big.Int).Mul(big.NewInt(now.UnixMilli()), thousand)
	return out.Add(out, n)
}

// TrancheIDs appends "01" and "02" to the decimal parent id.
func TrancheIDs(parent *big.Int) (senior, junior *big.Int) {
	senior, _ = new(big.Int).SetString(parent.String()+"01", 10)
	junior, _ = new(big.Int).SetString(parent.String()+"02", 10)
	return senior, junior
}

// TrancheParent reverses TrancheIDs. ok is false for ids that do not end in 01 or 02.
func TrancheParent(tokenID *big.Int) (parent *big.Int, ok bool) {
	s := tokenID.String()
	if len(s) < 3 || (!strings.HasSuffix(s, "01") && !strings.HasSuffix(s, "02")) {
		return nil, false
	}
	return new(big.Int).SetString(s[:len(s)-2], 10)
}
