package evm

import (
	"context"
	"math/big"

	"spv-ledger/internal/domain/chain"
)

// ReadOnlyWriter stands in for Writer when no key is configured. Reads go to
// the node; every transaction fails with chain.ErrReadOnly.
type ReadOnlyWriter struct {
	*Reader
}

var _ chain.Writer = (*ReadOnlyWriter)(nil)

func NewReadOnlyWriter(r *Reader) *ReadOnlyWriter { return &ReadOnlyWriter{Reader: r} }

func (w *ReadOnlyWriter) Address() string { return "" }

func (w *ReadOnlyWriter) CreateToken(context.Context, string, *big.Int, *big.Int, *big.Int, string, [32]byte) (*chain.Receipt, error) {
	return nil, chain.ErrReadOnly
}

func (w *ReadOnlyWriter) CreateTrancheToken(context.Context, string, chain.TrancheParams) (*chain.Receipt, error) {
	return nil, chain.ErrReadOnly
}

func (w *ReadOnlyWriter) DepositDividends(context.Context, string, *big.Int, *big.Int) (*chain.Receipt, error) {
	return nil, chain.ErrReadOnly
}

func (w *ReadOnlyWriter) TransferToken(context.Context, string, string, *big.Int, *big.Int) (*chain.Receipt, error) {
	return nil, chain.ErrReadOnly
}
