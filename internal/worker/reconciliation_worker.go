package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/stablecoin-gateway/internal/observability"
	"github.com/ayo6706/stablecoin-gateway/internal/service"
	"go.uber.org/zap"
)

const workerName = "reconciliation"

// Reconciler repairs ledger state that no running sweep will touch again.
type Reconciler interface {
	Run(ctx context.Context) error
}

var _ Reconciler = (*service.ReconciliationService)(nil)

// ReconciliationWorker fails abandoned deposit sweeps and checks ledger
// invariants on a fixed interval.
type ReconciliationWorker struct {
	reconciler Reconciler
	interval   time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewReconciliationWorker constructs a worker with a five minute interval.
func NewReconciliationWorker(reconciler Reconciler) *ReconciliationWorker {
	return &ReconciliationWorker{
		reconciler: reconciler,
		interval:   5 * time.Minute,
		stopCh:     make(chan struct{}),
	}
}

// WithInterval updates the run interval.
func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks and reconciles at the configured interval until ctx is done or
// Stop is called. The first pass runs immediately so that entries orphaned by
// a restart are settled at startup.
func (w *ReconciliationWorker) Start(ctx context.Context) {
	zap.L().Info("reconciliation worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("reconciliation worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("reconciliation worker stop signal received")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// Stop stops the running worker loop. It is safe to call more than once.
func (w *ReconciliationWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// RunOnce performs a single reconciliation pass.
func (w *ReconciliationWorker) RunOnce(ctx context.Context) {
	if err := w.reconciler.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		observability.IncrementWorkerRun(workerName, "failed")
		zap.L().Error("reconciliation run failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun(workerName, "success")
}
