package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spv-ledger/internal/domain/chain"
	"spv-ledger/internal/domain/investor"
	"spv-ledger/internal/domain/loan"
	"spv-ledger/internal/domain/metadata"
	"spv-ledger/internal/domain/syncstate"
	"spv-ledger/internal/domain/uow"
	"spv-ledger/internal/infrastructure/lock"
	"spv-ledger/internal/infrastructure/logger"
	"spv-ledger/internal/infrastructure/metrics"

	"gorm.io/gorm"
)

const defaultLockTTL = 10 * time.Minute

type Deps struct {
	UoW     uow.UnitOfWork
	Loans   loan.Repository
	Sync    syncstate.Repository
	Source  chain.Source
	Reader  chain.Reader
	Store   metadata.Store
	Locker  lock.Locker
	Metrics *metrics.Metrics
}

// Usecase replays contract events into the off-chain ledger.
type Usecase struct {
	d      Deps
	opts   Options
	admins map[string]bool
	now    func() time.Time
}

func NewUsecase(d Deps, opts Options) *Usecase {
	if !opts.AdminPolicy.Valid() {
		opts.AdminPolicy = AdminSkip
	}
	if !opts.OnDataError.Valid() {
		opts.OnDataError = StopOnDataError
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	// the lock is never refreshed, so a run stops starting transactions well before it expires
	if opts.RunBudget <= 0 || opts.RunBudget > opts.LockTTL/2 {
		opts.RunBudget = opts.LockTTL / 2
	}
	admins := make(map[string]bool, len(opts.AdminAddresses))
	for _, a := range opts.AdminAddresses {
		if a = investor.NormalizeWallet(a); a != "" {
			admins[a] = true
		}
	}
	return &Usecase{d: d, opts: opts, admins: admins, now: time.Now}
}

func (u *Usecase) isAdmin(wallet string) bool { return u.admins[investor.NormalizeWallet(wallet)] }

func (u *Usecase) acquire(ctx context.Context, stream string) (func(), error) {
	release, ok, err := u.d.Locker.TryAcquire(ctx, syncstate.LockKey(stream), u.opts.LockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStreamBusy
	}
	return release, nil
}

// Reconcile applies every event after the stream cursor, one database
// transaction per on-chain transaction. On error the summary still reports
// what was applied before the failing transaction. A run that exceeds its
// budget stops between transactions and reports the rest as pending.
func (u *Usecase) Reconcile(ctx context.Context, stream string) (*Summary, error) {
	release, err := u.acquire(ctx, stream)
	if err != nil {
		return nil, err
	}
	defer release()

	started := time.Now()
	defer u.d.Metrics.ObserveSync(stream, started)

	last, err := u.d.Sync.LastSynced(ctx, stream)
	if err != nil {
		return nil, err
	}
	sum := &Summary{Stream: stream, FromBlock: last + 1, LastBlock: last, Events: map[string]int{}}
	defer func() { sum.Duration = time.Since(started) }()

	events, err := u.d.Source.EventsSince(ctx, u.opts.Contract, sum.FromBlock)
	if err != nil {
		u.d.Metrics.SyncError(stream, "transient")
		return sum, transient("read events from %d: %w", sum.FromBlock, err)
	}

	txs := chain.GroupByTx(events)
	pre := newPrefetched()
	deadline := u.now().Add(u.opts.RunBudget)
	for i, tx := range txs {
		if i > 0 && u.now().After(deadline) {
			sum.Pending = len(txs) - i
			logger.Warnf("reconcile: run budget spent, leaving transactions for the next run", logger.Fields{
				"Stream": stream, "Pending": sum.Pending, "Budget": u.opts.RunBudget.String(),
			})
			break
		}

		// leave the cursor short of a block that still has unapplied transactions
		target := tx.BlockNumber
		if i+1 < len(txs) && txs[i+1].BlockNumber == tx.BlockNumber && target > 0 {
			target--
		}

		if err := u.prefetch(ctx, tx, pre); err != nil {
			u.d.Metrics.SyncError(stream, "transient")
			return sum, err
		}

		replayed, err := u.applyTx(ctx, stream, tx, target, pre, sum.Events)
		switch {
		case err == nil && replayed:
			sum.Replayed++
			u.d.Metrics.TxOutcome(stream, "replayed")
		case err == nil:
			sum.Applied++
			u.d.Metrics.TxOutcome(stream, "applied")
		case IsDataError(err) && u.opts.OnDataError == SkipOnDataError:
			logger.Errorf("reconcile: skipping inconsistent tx", logger.Fields{
				"Stream": stream, "TxHash": tx.Hash, "Block": tx.BlockNumber, "Error": err.Error(),
			})
			if err := u.markSkipped(ctx, stream, tx, target); err != nil {
				return sum, err
			}
			sum.Skipped++
			u.d.Metrics.SyncError(stream, "data")
			u.d.Metrics.TxOutcome(stream, "skipped")
		default:
			class := "fatal"
			if IsDataError(err) {
				class = "data"
			} else if IsTransient(err) {
				class = "transient"
			}
			u.d.Metrics.SyncError(stream, class)
			return sum, fmt.Errorf("tx %s (block %d): %w", tx.Hash, tx.BlockNumber, err)
		}
		if target > sum.LastBlock {
			sum.LastBlock = target
		}
		u.d.Metrics.Cursor(stream, sum.LastBlock)
	}

	logger.Infof("reconcile: run complete", logger.Fields{
		"Stream": stream, "From": sum.FromBlock, "Last": sum.LastBlock,
		"Applied": sum.Applied, "Replayed": sum.Replayed, "Skipped": sum.Skipped, "Pending": sum.Pending,
	})
	return sum, nil
}

// applyTx runs one on-chain transaction atomically. replayed is true when the
// processed-tx ledger already had it.
func (u *Usecase) applyTx(ctx context.Context, stream string, tx chain.Tx, target uint64, pre *prefetched, counts map[string]int) (replayed bool, err error) {
	applied := map[string]int{}
	err = u.d.UoW.WithinTx(ctx, func(r uow.Repos) error {
		created, err := r.Sync.MarkProcessed(ctx, stream, tx.Hash, tx.BlockNumber)
		if err != nil {
			return err
		}
		if !created {
			replayed = true
			return r.Sync.Advance(ctx, stream, target)
		}
		for i := range tx.Events {
			ev := &tx.Events[i]
			if err := u.applyEvent(ctx, r, ev, pre); err != nil {
				return err
			}
			applied[ev.Kind.String()]++
		}
		return r.Sync.Advance(ctx, stream, target)
	})
	if err != nil {
		return false, err
	}
	for kind, n := range applied {
		counts[kind] += n
		for i := 0; i < n; i++ {
			u.d.Metrics.EventApplied(stream, kind)
		}
	}
	return replayed, nil
}

func (u *Usecase) markSkipped(ctx context.Context, stream string, tx chain.Tx, target uint64) error {
	return u.d.UoW.WithinTx(ctx, func(r uow.Repos) error {
		if _, err := r.Sync.MarkProcessed(ctx, stream, tx.Hash, tx.BlockNumber); err != nil {
			return err
		}
		return r.Sync.Advance(ctx, stream, target)
	})
}

func (u *Usecase) applyEvent(ctx context.Context, r uow.Repos, ev *chain.Event, pre *prefetched) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	switch ev.Kind {
	case chain.KindTokenCreated:
		return u.onTokenCreated(ctx, r, ev, pre)
	case chain.KindTransferSingle:
		if ev.TransferSingle.IsMint() {
			return u.onMint(ctx, r, ev, pre)
		}
		return u.onTransfer(ctx, r, ev)
	case chain.KindDividendsDeposited:
		return u.onDividends(ctx, r, ev)
	}
	return fmt.Errorf("%w: %s", chain.ErrUnknownKind, ev.Kind)
}

// Reset rewinds the stream cursor to 0. purgeProcessed also forgets which
// transactions were applied, so the next run re-applies everything.
func (u *Usecase) Reset(ctx context.Context, stream string, purgeProcessed bool) error {
	release, err := u.acquire(ctx, stream)
	if err != nil {
		return err
	}
	defer release()

	var purged int64
	err = u.d.UoW.WithinTx(ctx, func(r uow.Repos) error {
		if err := r.Sync.Reset(ctx, stream); err != nil {
			return err
		}
		if purgeProcessed {
			n, err := r.Sync.PurgeProcessed(ctx, stream)
			purged = n
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	u.d.Metrics.Cursor(stream, 0)
	logger.Warnf("reconcile: cursor reset", logger.Fields{"Stream": stream, "PurgedProcessed": purged})
	return nil
}

func (u *Usecase) Status(ctx context.Context, stream string) (*CursorStatus, error) {
	last, err := u.d.Sync.LastSynced(ctx, stream)
	if err != nil {
		return nil, err
	}
	return &CursorStatus{Stream: stream, LastSyncedBlock: last}, nil
}

// findLoan returns nil when no loan carries tokenID.
func findLoan(ctx context.Context, loans loan.Repository, tokenID string) (*loan.Loan, error) {
	l, err := loans.GetByTokenID(ctx, tokenID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return l, nil
}

func isNotFound(err error) bool { return errors.Is(err, gorm.ErrRecordNotFound) }
