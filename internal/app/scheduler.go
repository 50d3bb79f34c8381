package app

import (
	"context"
	"errors"
	"time"

	"spv-ledger/internal/infrastructure/logger"
	"spv-ledger/internal/usecase/reconcile"

	"github.com/go-co-op/gocron"
)

// Reconciler is the part of the reconcile usecase the scheduler drives.
type Reconciler interface {
	Reconcile(ctx context.Context, stream string) (*reconcile.Summary, error)
}

// StartReconcileJob runs one reconciliation of stream every interval until
// the returned scheduler is stopped. A run that finds the stream locked by
// another worker is skipped quietly.
func StartReconcileJob(rec Reconciler, stream string, interval, timeout time.Duration) (*gocron.Scheduler, error) {
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()

	_, err := scheduler.Every(interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		runReconcile(ctx, rec, stream)
	})
	if err != nil {
		return nil, err
	}
	scheduler.StartAsync()
	logger.Infof("scheduler: reconcile every %s", logger.Fields{"Stream": stream}, interval)
	return scheduler, nil
}

func runReconcile(ctx context.Context, rec Reconciler, stream string) {
	sum, err := rec.Reconcile(ctx, stream)
	switch {
	case errors.Is(err, reconcile.ErrStreamBusy):
		logger.Debugf("scheduler: stream busy, skipping run", logger.Fields{"Stream": stream})
	case err != nil:
		logger.Errorf("scheduler: reconcile failed: %v", logger.Fields{"Stream": stream}, err)
	case sum != nil && sum.Applied > 0:
		logger.Infof("scheduler: applied %d transactions up to block %d", logger.Fields{"Stream": stream}, sum.Applied, sum.LastBlock)
	}
}
