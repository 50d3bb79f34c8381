package reconcile

import (
	"errors"
	"fmt"
	"time"

	"spv-ledger/internal/domain/chain"
	"spv-ledger/internal/domain/investor"
	"spv-ledger/internal/domain/metadata"
)

var (
	ErrStreamBusy  = errors.New("another run holds the stream lock")
	ErrUnknownLoan = errors.New("transfer references a token with no local loan")
	ErrTransient   = errors.New("transient upstream failure")
	// ErrProvisionalConflict: an on-chain-only loan cannot be folded into the local loan its metadata names.
	ErrProvisionalConflict = errors.New("provisional loan conflicts with local record")
)

// AdminPolicy decides how slices held by an admin wallet are booked.
type AdminPolicy string

const (
	// AdminSkip leaves admin holdings off the investor ledger.
	AdminSkip AdminPolicy = "skip"
	// AdminTrack books the admin wallet like any other holder.
	AdminTrack AdminPolicy = "track"
)

func (p AdminPolicy) Valid() bool { return p == AdminSkip || p == AdminTrack }

// DataErrorPolicy decides what a ledger inconsistency does to the run.
type DataErrorPolicy string

const (
	StopOnDataError DataErrorPolicy = "stop"
	// SkipOnDataError logs the failing transaction, marks it processed and moves on.
	SkipOnDataError DataErrorPolicy = "skip"
)

func (p DataErrorPolicy) Valid() bool { return p == StopOnDataError || p == SkipOnDataError }

type Options struct {
	Contract       string
	AdminAddresses []string
	AdminPolicy    AdminPolicy
	OnDataError    DataErrorPolicy
	LockTTL        time.Duration
	// RunBudget caps how long a run keeps starting transactions. It defaults
	// to, and never exceeds, half of LockTTL.
	RunBudget      time.Duration
}

// Summary reports one reconciliation run.
type Summary struct {
	Stream    string         `json:"stream"`
	FromBlock uint64         `json:"from_block"`
	LastBlock uint64         `json:"last_block"`
	Applied   int            `json:"transactions_applied"`
	Replayed  int            `json:"transactions_replayed"`
	Skipped   int            `json:"transactions_skipped"`
	Pending   int            `json:"transactions_pending"`
	Events    map[string]int `json:"events"`
	Duration  time.Duration  `json:"duration"`
}

type CursorStatus struct {
	Stream          string `json:"stream"`
	LastSyncedBlock uint64 `json:"last_synced_block"`
}

// transientError marks upstream failures that a later run may not hit.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }
func (e *transientError) Is(target error) bool {
	return target == ErrTransient
}

func transient(format string, args ...any) error {
	return &transientError{err: fmt.Errorf(format, args...)}
}

// IsTransient reports failures of the event source, the node or the content store.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, metadata.ErrContentUnavailable)
}

// IsDataError reports an inconsistency between the chain and the ledger that
// retrying will not fix.
func IsDataError(err error) bool {
	for _, target := range []error{
		ErrUnknownLoan,
		ErrProvisionalConflict,
		investor.ErrInsufficientSlices,
		investor.ErrSliceOverflow,
		investor.ErrInvalidSlices,
		metadata.ErrMalformed,
		metadata.ErrMissingField,
		metadata.ErrInvalidField,
		metadata.ErrContentAbsent,
		chain.ErrUnknownKind,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
