package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/stablecoin-gateway/internal/domain"
	"github.com/ayo6706/stablecoin-gateway/internal/lock"
	"github.com/ayo6706/stablecoin-gateway/internal/observability"
	"github.com/ayo6706/stablecoin-gateway/internal/repository"
	"go.uber.org/zap"
)

const (
	ReasonSweepInterrupted = "sweep interrupted"

	reconcileBatchSize = 100
)

// ReconciliationService closes deposits orphaned by a restart and checks
// ledger invariants.
type ReconciliationService struct {
	store       QueryStore
	audit       *AuditService
	tasks       *TaskRegistry
	locker      lock.Locker
	staleWindow time.Duration
	now         func() time.Time
}

// NewReconciliationService creates a reconciliation service. Pending deposits
// older than staleWindow with no running sweep are failed.
func NewReconciliationService(store QueryStore, tasks *TaskRegistry, staleWindow time.Duration) *ReconciliationService {
	return &ReconciliationService{
		store:       store,
		audit:       NewAuditService(store),
		tasks:       tasks,
		staleWindow: staleWindow,
		now:         time.Now,
	}
}

// WithLocker makes the pass skip deposits whose sweep guard is held, which
// covers sweeps running on other instances.
func (s *ReconciliationService) WithLocker(l lock.Locker) *ReconciliationService {
	s.locker = l
	return s
}

// Run performs one reconciliation pass.
func (s *ReconciliationService) Run(ctx context.Context) error {
	closed, err := s.failStaleDeposits(ctx)
	if err != nil {
		return err
	}
	if closed > 0 {
		zap.L().Warn("stale pending deposits failed", zap.Int("count", closed))
	}

	missing, err := s.store.Queries().CountCompletedWithoutTxHash(ctx)
	if err != nil {
		return fmt.Errorf("count completed entries without tx hash: %w", err)
	}
	if missing > 0 {
		observability.IncrementLedgerInvariantViolation("completed_without_tx_hash")
		zap.L().Error("CRITICAL: completed ledger entries without tx hash", zap.Int64("count", missing))
		return nil
	}

	zap.L().Info("Ledger reconciled")
	return nil
}

func (s *ReconciliationService) failStaleDeposits(ctx context.Context) (int, error) {
	if s.staleWindow <= 0 {
		return 0, nil
	}
	stale, err := s.store.Queries().ListStalePendingDeposits(ctx, repository.ListStalePendingDepositsParams{
		CreatedBefore: s.now().Add(-s.staleWindow),
		Limit:         reconcileBatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("list stale pending deposits: %w", err)
	}

	closed := 0
	for _, entry := range stale {
		if s.tasks != nil && s.tasks.Running(entry.ID) {
			continue
		}
		release, held := s.guard(ctx, entry.CounterpartyAddress)
		if held {
			continue
		}
		notes := ReasonSweepInterrupted
		err := s.store.RunInTx(ctx, func(q repository.Querier) error {
			_, err := transitionLedgerEntry(ctx, q, s.audit, entry.ID, ledgerUpdate{
				Status: domain.LedgerStatusFailed,
				Notes:  &notes,
			}, nil, "reconciled_stale", nil)
			return err
		})
		release()
		if errors.Is(err, ErrNotPending) {
			continue
		}
		if err != nil {
			zap.L().Error("fail stale deposit", zap.String("entry_id", entry.ID.String()), zap.Error(err))
			continue
		}
		closed++
	}
	return closed, nil
}

// guard takes the sweep guard of address so no sweep can start while the entry
// is failed. held reports that a sweep, possibly on another instance, owns it;
// a lock error is treated the same way.
func (s *ReconciliationService) guard(ctx context.Context, address string) (release lock.Release, held bool) {
	noop := func() {}
	if s.locker == nil || address == "" {
		return noop, false
	}
	release, err := s.locker.TryAcquire(ctx, lock.SweepKey(address))
	if err != nil {
		if !errors.Is(err, lock.ErrNotAcquired) {
			zap.L().Warn("stale deposit guard unavailable", zap.String("address", address), zap.Error(err))
		}
		return noop, true
	}
	return release, false
}
