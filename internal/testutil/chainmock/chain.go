package chainmock

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"spv-ledger/internal/domain/chain"
)

var (
	_ chain.Source = (*Source)(nil)
	_ chain.Reader = (*Reader)(nil)
	_ chain.Writer = (*Writer)(nil)
)

var errUnimplemented = errors.New("chainmock: method not implemented")

// Source is a function-backed chain.Source.
type Source struct {
	EventsSinceFn func(ctx context.Context, contract string, fromBlock uint64) ([]chain.Event, error)
}

func (m *Source) EventsSince(ctx context.Context, contract string, fromBlock uint64) ([]chain.Event, error) {
	if m.EventsSinceFn != nil {
		return m.EventsSinceFn(ctx, contract, fromBlock)
	}
	return nil, errUnimplemented
}

// Static returns a Source that serves events with BlockNumber >= fromBlock.
func Static(events ...chain.Event) *Source {
	return &Source{EventsSinceFn: func(_ context.Context, _ string, from uint64) ([]chain.Event, error) {
		var out []chain.Event
		for _, ev := range events {
			if ev.BlockNumber >= from {
				out = append(out, ev)
			}
		}
		return out, nil
	}}
}

// Reader is a function-backed chain.Reader.
type Reader struct {
	BlockNumberFn func(ctx context.Context) (uint64, error)
	ReceiptFn     func(ctx context.Context, txHash string) (*chain.Receipt, error)
	TokenURIFn    func(ctx context.Context, contract string, tokenID *big.Int) (string, error)
}

func (m *Reader) BlockNumber(ctx context.Context) (uint64, error) {
	if m.BlockNumberFn != nil {
		return m.BlockNumberFn(ctx)
	}
	return 0, errUnimplemented
}

func (m *Reader) Receipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	if m.ReceiptFn != nil {
		return m.ReceiptFn(ctx, txHash)
	}
	return nil, errUnimplemented
}

func (m *Reader) TokenURI(ctx context.Context, contract string, tokenID *big.Int) (string, error) {
	if m.TokenURIFn != nil {
		return m.TokenURIFn(ctx, contract, tokenID)
	}
	return "", errUnimplemented
}

// Writer is a function-backed chain.Writer that also records deposit calls.
type Writer struct {
	AddressValue         string
	CreateTokenFn        func(ctx context.Context, contract string, tokenID, supply, priceUnits *big.Int, uri string, fingerprint [32]byte) (*chain.Receipt, error)
	CreateTrancheTokenFn func(ctx context.Context, contract string, p chain.TrancheParams) (*chain.Receipt, error)
	DepositDividendsFn   func(ctx context.Context, contract string, tokenID, amountUnits *big.Int) (*chain.Receipt, error)
	TransferTokenFn      func(ctx context.Context, contract, to string, tokenID, amount *big.Int) (*chain.Receipt, error)
	SiblingFn            func(ctx context.Context, contract string, tokenID *big.Int) (*big.Int, error)
	TokenSupplyFn        func(ctx context.Context, contract string, tokenID *big.Int) (*big.Int, error)

	mu       sync.Mutex
	Deposits []Deposit
}

type Deposit struct {
	TokenID *big.Int
	Amount  *big.Int
}

func (m *Writer) Address() string { return m.AddressValue }

func (m *Writer) CreateToken(ctx context.Context, contract string, tokenID, supply, priceUnits *big.Int, uri string, fingerprint [32]byte) (*chain.Receipt, error) {
	if m.CreateTokenFn != nil {
		return m.CreateTokenFn(ctx, contract, tokenID, supply, priceUnits, uri, fingerprint)
	}
	return nil, errUnimplemented
}

func (m *Writer) CreateTrancheToken(ctx context.Context, contract string, p chain.TrancheParams) (*chain.Receipt, error) {
	if m.CreateTrancheTokenFn != nil {
		return m.CreateTrancheTokenFn(ctx, contract, p)
	}
	return nil, errUnimplemented
}

func (m *Writer) DepositDividends(ctx context.Context, contract string, tokenID, amountUnits *big.Int) (*chain.Receipt, error) {
	m.mu.Lock()
	m.Deposits = append(m.Deposits, Deposit{TokenID: tokenID, Amount: amountUnits})
	m.mu.Unlock()
	if m.DepositDividendsFn != nil {
		return m.DepositDividendsFn(ctx, contract, tokenID, amountUnits)
	}
	return nil, errUnimplemented
}

func (m *Writer) TransferToken(ctx context.Context, contract, to string, tokenID, amount *big.Int) (*chain.Receipt, error) {
	if m.TransferTokenFn != nil {
		return m.TransferTokenFn(ctx, contract, to, tokenID, amount)
	}
	return nil, errUnimplemented
}

func (m *Writer) Sibling(ctx context.Context, contract string, tokenID *big.Int) (*big.Int, error) {
	if m.SiblingFn != nil {
		return m.SiblingFn(ctx, contract, tokenID)
	}
	return nil, errUnimplemented
}

func (m *Writer) TokenSupply(ctx context.Context, contract string, tokenID *big.Int) (*big.Int, error) {
	if m.TokenSupplyFn != nil {
		return m.TokenSupplyFn(ctx, contract, tokenID)
	}
	return nil, errUnimplemented
}

// DepositCount is safe to call concurrently with DepositDividends.
func (m *Writer) DepositCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Deposits)
}
