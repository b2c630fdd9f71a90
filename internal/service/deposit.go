package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/stablecoin-gateway/internal/domain"
	"github.com/ayo6706/stablecoin-gateway/internal/keygen"
	"github.com/ayo6706/stablecoin-gateway/internal/lock"
	"github.com/ayo6706/stablecoin-gateway/internal/models"
	"github.com/ayo6706/stablecoin-gateway/internal/operator"
	"github.com/ayo6706/stablecoin-gateway/internal/repository"
	"github.com/ayo6706/stablecoin-gateway/internal/sweep"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const outcomePersistTimeout = 10 * time.Second

// Sweeper runs one sweep pass.
type Sweeper interface {
	Sweep(ctx context.Context, req sweep.Request) sweep.Outcome
}

var _ Sweeper = (*sweep.Engine)(nil)

// DepositService assigns deposit addresses and launches sweeps.
type DepositService struct {
	store    QueryStore
	audit    *AuditService
	sweeper  Sweeper
	locker   lock.Locker
	creds    *operator.Holder
	tasks    *TaskRegistry
	currency string
}

func NewDepositService(store QueryStore, sweeper Sweeper, locker lock.Locker, creds *operator.Holder, tasks *TaskRegistry, currency string) *DepositService {
	if currency == "" {
		currency = domain.DefaultTokenSymbol
	}
	return &DepositService{
		store:    store,
		audit:    NewAuditService(store),
		sweeper:  sweeper,
		locker:   locker,
		creds:    creds,
		tasks:    tasks,
		currency: currency,
	}
}

// GenerateDepositAddress creates the single custodial address of ownerRef.
// The returned record never carries the private key.
func (s *DepositService) GenerateDepositAddress(ctx context.Context, ownerRef string, actorID *uuid.UUID) (models.DepositAddress, error) {
	ownerRef = strings.TrimSpace(ownerRef)
	if ownerRef == "" {
		return models.DepositAddress{}, ErrInvalidOwnerRef
	}

	_, err := s.store.Queries().GetDepositAddressByOwner(ctx, ownerRef)
	if err == nil {
		return models.DepositAddress{}, ErrDepositAddressExists
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.DepositAddress{}, fmt.Errorf("lookup deposit address: %w", err)
	}

	kp, err := keygen.Generate()
	if err != nil {
		return models.DepositAddress{}, fmt.Errorf("generate keypair: %w", err)
	}
	defer kp.Wipe()

	var created models.DepositAddress
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		rec, err := q.CreateDepositAddress(ctx, repository.CreateDepositAddressParams{
			OwnerRef:      ownerRef,
			Address:       kp.Address,
			PrivateKeyHex: kp.Hex(),
		})
		if err != nil {
			return err
		}
		created = rec
		return s.audit.Write(ctx, q, domain.AuditEntityDepositAddress, ownerRef, actorID, "created", "", rec.Address, nil)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return models.DepositAddress{}, ErrDepositAddressExists
		}
		return models.DepositAddress{}, fmt.Errorf("create deposit address: %w", err)
	}

	created.PrivateKeyHex = ""
	zap.L().Info("deposit address created", zap.String("owner_ref", ownerRef), zap.String("address", created.Address))
	return created, nil
}

// GetDepositAddress returns the address of ownerRef without its key.
func (s *DepositService) GetDepositAddress(ctx context.Context, ownerRef string) (models.DepositAddress, error) {
	rec, err := s.store.Queries().GetDepositAddressByOwner(ctx, strings.TrimSpace(ownerRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DepositAddress{}, ErrNoDepositAddress
		}
		return models.DepositAddress{}, fmt.Errorf("lookup deposit address: %w", err)
	}
	rec.PrivateKeyHex = ""
	return rec, nil
}

// StartDepositSweep records a pending deposit and sweeps the owner's address in
// the background. At most one sweep per address runs at a time; the ledger
// entry is updated when the sweep finishes. Missing operator credentials are
// returned as a *operator.ConfigurationError before any entry is created.
func (s *DepositService) StartDepositSweep(ctx context.Context, ownerRef string, actorID *uuid.UUID) (models.LedgerEntry, error) {
	ownerRef = strings.TrimSpace(ownerRef)
	if ownerRef == "" {
		return models.LedgerEntry{}, ErrInvalidOwnerRef
	}
	addr, err := s.store.Queries().GetDepositAddressByOwner(ctx, ownerRef)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.LedgerEntry{}, ErrNoDepositAddress
		}
		return models.LedgerEntry{}, fmt.Errorf("lookup deposit address: %w", err)
	}

	creds := s.creds.Load()
	if err := creds.RequireSweep(); err != nil {
		return models.LedgerEntry{}, err
	}

	release, err := s.locker.TryAcquire(ctx, lock.SweepKey(addr.Address))
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return models.LedgerEntry{}, ErrSweepInProgress
		}
		return models.LedgerEntry{}, fmt.Errorf("acquire sweep guard: %w", err)
	}

	var entry models.LedgerEntry
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		var err error
		entry, err = createLedgerEntry(ctx, q, s.audit, repository.CreateLedgerEntryParams{
			ID:                  uuid.New(),
			OwnerRef:            ownerRef,
			Kind:                domain.LedgerKindDeposit,
			Amount:              "0",
			Currency:            s.currency,
			Status:              domain.LedgerStatusPending,
			CounterpartyAddress: addr.Address,
		}, actorID, nil)
		return err
	})
	if err != nil {
		release()
		return models.LedgerEntry{}, err
	}

	req := sweep.Request{
		DepositAddress: addr.Address,
		DepositKey:     addr.PrivateKeyHex,
		Credentials:    creds,
	}
	started, err := s.tasks.Go(entry.ID, func(taskCtx context.Context) {
		defer release()
		outcome := s.sweeper.Sweep(taskCtx, req)
		s.recordOutcome(taskCtx, entry.ID, outcome)
	})
	if err != nil || !started {
		release()
		s.recordOutcome(ctx, entry.ID, sweep.Outcome{Reason: sweep.ReasonCancelled, Currency: s.currency})
		if err == nil {
			err = ErrSweepInProgress
		}
		return models.LedgerEntry{}, err
	}

	zap.L().Info("deposit sweep started",
		zap.String("entry_id", entry.ID.String()),
		zap.String("owner_ref", ownerRef),
		zap.String("address", addr.Address),
		zap.Uint64("credentials_version", req.Credentials.Version),
	)
	return entry, nil
}

// recordOutcome writes the terminal sweep result. It runs even after the
// sweep context was cancelled.
func (s *DepositService) recordOutcome(ctx context.Context, entryID uuid.UUID, outcome sweep.Outcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomePersistTimeout)
	defer cancel()

	upd := ledgerUpdate{Status: domain.LedgerStatusFailed}
	action := "sweep_failed"
	if outcome.Success {
		amount := outcome.Amount
		upd = ledgerUpdate{
			Status: domain.LedgerStatusCompleted,
			Amount: &amount,
			TxHash: stringPtr(outcome.TxHash.Hex()),
		}
		action = "sweep_completed"
	} else {
		upd.Notes = stringPtr(sweepFailureNotes(outcome))
	}

	metadata, err := json.Marshal(sweepMetadata(outcome))
	if err != nil {
		zap.L().Warn("marshal sweep metadata", zap.Error(err))
		metadata = nil
	}

	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		_, err := transitionLedgerEntry(ctx, q, s.audit, entryID, upd, nil, action, metadata)
		return err
	})
	if err != nil {
		zap.L().Error("persist sweep outcome failed",
			zap.String("entry_id", entryID.String()),
			zap.Bool("success", outcome.Success),
			zap.String("tx_hash", outcome.TxHash.Hex()),
			zap.Error(err),
		)
	}
}

// sweepFailureNotes is the operator-facing note of a failed sweep. The gas
// top-up hash is kept when gas was spent but no token moved.
func sweepFailureNotes(o sweep.Outcome) string {
	parts := []string{o.Reason}
	if o.TransferHash != (common.Hash{}) {
		parts = append(parts, "transfer "+o.TransferHash.Hex())
	}
	if o.GasSpentWithoutTransfer() {
		parts = append(parts, "gas top-up "+o.GasTopUpHash.Hex()+" spent without token transfer")
	}
	return strings.Join(parts, "; ")
}

func sweepMetadata(o sweep.Outcome) map[string]string {
	meta := map[string]string{
		"credentials_version": fmt.Sprintf("%d", o.CredentialsVersion),
		"observed_balance":    o.ObservedBalance.String(),
	}
	if o.FailedAt != "" {
		meta["failed_at"] = string(o.FailedAt)
	}
	for key, hash := range map[string]common.Hash{
		"transfer_tx":   o.TransferHash,
		"gas_top_up_tx": o.GasTopUpHash,
		"sweep_back_tx": o.SweepBackHash,
	} {
		if hash != (common.Hash{}) {
			meta[key] = hash.Hex()
		}
	}
	return meta
}
