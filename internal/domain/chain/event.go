package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	ErrUnknownKind   = errors.New("unknown event kind")
	ErrTxFailed      = errors.New("transaction reverted")
	ErrEventNotFound = errors.New("event not found in receipt")
	ErrReadOnly      = errors.New("chain writes disabled: no signing key configured")
)

// ZeroAddress is the mint/burn counterparty of TransferSingle.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

type Kind int

const (
	KindTokenCreated Kind = iota + 1
	KindTransferSingle
	KindDividendsDeposited
)

func (k Kind) String() string {
	switch k {
	case KindTokenCreated:
		return "TokenCreated"
	case KindTransferSingle:
		return "TransferSingle"
	case KindDividendsDeposited:
		return "DividendsDeposited"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

type TokenCreated struct {
	TokenID     *big.Int
	Supply      *big.Int
	PriceUnits  *big.Int
	Fingerprint [32]byte
}

// FingerprintHex renders the on-chain metadata commitment as 0x-prefixed hex.
func (t *TokenCreated) FingerprintHex() string {
	return fmt.Sprintf("0x%x", t.Fingerprint[:])
}

type TransferSingle struct {
	Operator string
	From     string
	To       string
	TokenID  *big.Int
	Value    *big.Int
}

func (t *TransferSingle) IsMint() bool { return t.From == ZeroAddress }
func (t *TransferSingle) IsBurn() bool { return t.To == ZeroAddress }

type DividendsDeposited struct {
	Depositor string
	TokenID   *big.Int
	Amount    *big.Int
	// cumulative magnified dividend per share after this deposit
	PerShare *big.Int
}

// Event is a closed union: exactly one payload matching Kind is set.
// Addresses are lower-cased hex.
type Event struct {
	Kind        Kind
	Contract    string
	TxHash      string
	BlockNumber uint64
	LogIndex    uint

	TokenCreated       *TokenCreated
	TransferSingle     *TransferSingle
	DividendsDeposited *DividendsDeposited
}

// Validate checks the payload matches the kind.
func (e *Event) Validate() error {
	var ok bool
	switch e.Kind {
	case KindTokenCreated:
		ok = e.TokenCreated != nil && e.TransferSingle == nil && e.DividendsDeposited == nil
	case KindTransferSingle:
		ok = e.TransferSingle != nil && e.TokenCreated == nil && e.DividendsDeposited == nil
	case KindDividendsDeposited:
		ok = e.DividendsDeposited != nil && e.TokenCreated == nil && e.TransferSingle == nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, e.Kind)
	}
	if !ok {
		return fmt.Errorf("event %s in tx %s has mismatched payload", e.Kind, e.TxHash)
	}
	return nil
}

// TokenID returns the token id the event refers to.
func (e *Event) TokenID() *big.Int {
	switch e.Kind {
	case KindTokenCreated:
		return e.TokenCreated.TokenID
	case KindTransferSingle:
		return e.TransferSingle.TokenID
	case KindDividendsDeposited:
		return e.DividendsDeposited.TokenID
	}
	return nil
}

// Tx groups the contiguous events emitted by one on-chain transaction.
type Tx struct {
	Hash        string
	BlockNumber uint64
	Events      []Event
}

// GroupByTx folds an ordered event slice into per-transaction groups, keeping order.
func GroupByTx(events []Event) []Tx {
	var out []Tx
	for _, ev := range events {
		h := strings.ToLower(ev.TxHash)
		if n := len(out); n > 0 && out[n-1].Hash == h {
			out[n-1].Events = append(out[n-1].Events, ev)
			continue
		}
		out = append(out, Tx{Hash: h, BlockNumber: ev.BlockNumber, Events: []Event{ev}})
	}
	return out
}

type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Status      uint64
	Events      []Event
}

func (r *Receipt) Succeeded() bool { return r.Status == 1 }

// First returns the first event of kind k.
func (r *Receipt) First(k Kind) (*Event, error) {
	for i := range r.Events {
		if r.Events[i].Kind == k {
			return &r.Events[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s in %s", ErrEventNotFound, k, r.TxHash)
}

// Source lists decoded contract events from fromBlock (inclusive) to the head at call time.
type Source interface {
	EventsSince(ctx context.Context, contract string, fromBlock uint64) ([]Event, error)
}

type Reader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	Receipt(ctx context.Context, txHash string) (*Receipt, error)
	TokenURI(ctx context.Context, contract string, tokenID *big.Int) (string, error)
}

type TrancheParams struct {
	ParentID     *big.Int
	SeniorID     *big.Int
	JuniorID     *big.Int
	SeniorSupply *big.Int
	JuniorSupply *big.Int
	SeniorPrice  *big.Int
	JuniorPrice  *big.Int
	SeniorCap    *big.Int
	URI          string
	Fingerprint  [32]byte
}

// Writer is the signed write path. Every call waits for the receipt and fails on revert.
type Writer interface {
	Address() string
	CreateToken(ctx context.Context, contract string, tokenID, supply, priceUnits *big.Int, uri string, fingerprint [32]byte) (*Receipt, error)
	CreateTrancheToken(ctx context.Context, contract string, p TrancheParams) (*Receipt, error)
	DepositDividends(ctx context.Context, contract string, tokenID, amountUnits *big.Int) (*Receipt, error)
	TransferToken(ctx context.Context, contract, to string, tokenID, amount *big.Int) (*Receipt, error)
	Sibling(ctx context.Context, contract string, tokenID *big.Int) (*big.Int, error)
	TokenSupply(ctx context.Context, contract string, tokenID *big.Int) (*big.Int, error)
}
