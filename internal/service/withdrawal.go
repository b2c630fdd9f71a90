package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/stablecoin-gateway/internal/domain"
	"github.com/ayo6706/stablecoin-gateway/internal/lock"
	"github.com/ayo6706/stablecoin-gateway/internal/models"
	"github.com/ayo6706/stablecoin-gateway/internal/operator"
	"github.com/ayo6706/stablecoin-gateway/internal/repository"
	"github.com/ayo6706/stablecoin-gateway/internal/settlement"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Settler signs and broadcasts one withdrawal.
type Settler interface {
	Settle(ctx context.Context, entry models.LedgerEntry, creds operator.Snapshot) (common.Hash, error)
}

var _ Settler = (*settlement.Engine)(nil)

// WithdrawalService records withdrawal requests and settles them on admin
// approval.
type WithdrawalService struct {
	store    QueryStore
	audit    *AuditService
	settler  Settler
	locker   lock.Locker
	creds    *operator.Holder
	currency string
}

func NewWithdrawalService(store QueryStore, settler Settler, locker lock.Locker, creds *operator.Holder, currency string) *WithdrawalService {
	if currency == "" {
		currency = domain.DefaultTokenSymbol
	}
	return &WithdrawalService{
		store:    store,
		audit:    NewAuditService(store),
		settler:  settler,
		locker:   locker,
		creds:    creds,
		currency: currency,
	}
}

// RequestWithdrawal creates a pending withdrawal of amount to address.
func (s *WithdrawalService) RequestWithdrawal(ctx context.Context, ownerRef string, amount decimal.Decimal, address string, actorID *uuid.UUID) (models.LedgerEntry, error) {
	ownerRef = strings.TrimSpace(ownerRef)
	address = strings.TrimSpace(address)
	if ownerRef == "" {
		return models.LedgerEntry{}, ErrInvalidOwnerRef
	}
	if err := domain.ValidateAmount(amount); err != nil {
		return models.LedgerEntry{}, err
	}
	if !isStrictHexAddress(address) {
		return models.LedgerEntry{}, ErrInvalidAddress
	}

	var entry models.LedgerEntry
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		var err error
		entry, err = createLedgerEntry(ctx, q, s.audit, repository.CreateLedgerEntryParams{
			ID:                  uuid.New(),
			OwnerRef:            ownerRef,
			Kind:                domain.LedgerKindWithdrawal,
			Amount:              repository.DecimalParam(amount),
			Currency:            s.currency,
			Status:              domain.LedgerStatusPending,
			CounterpartyAddress: address,
		}, actorID, nil)
		return err
	})
	if err != nil {
		return models.LedgerEntry{}, err
	}
	zap.L().Info("withdrawal requested", zap.String("entry_id", entry.ID.String()), zap.String("owner_ref", ownerRef), zap.String("amount", amount.String()))
	return entry, nil
}

// SettleWithdrawal signs and broadcasts the withdrawal and persists the
// result. Attempts on the same entry are serialized, so a second call after a
// success fails with ErrNotPending without signing anything.
//
// A *settlement.SettlementError is returned when the transfer could not be
// confirmed. Entries whose transfer was rejected or not confirmed move to
// failed; configuration problems leave the entry pending for a later retry.
func (s *WithdrawalService) SettleWithdrawal(ctx context.Context, entryID uuid.UUID, actorID *uuid.UUID) (string, error) {
	release, err := s.locker.Acquire(ctx, lock.SettlementKey(entryID.String()))
	if err != nil {
		return "", fmt.Errorf("acquire settlement lock: %w", err)
	}
	defer release()

	entry, err := s.store.Queries().GetLedgerEntry(ctx, entryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrEntryNotFound
		}
		return "", fmt.Errorf("get ledger entry: %w", err)
	}
	if entry.Kind != domain.LedgerKindWithdrawal {
		return "", ErrNotWithdrawal
	}
	if entry.Status != domain.LedgerStatusPending {
		return "", ErrNotPending
	}

	creds := s.creds.Load()
	hash, settleErr := s.settler.Settle(ctx, entry, creds)
	if settleErr != nil {
		var se *settlement.SettlementError
		if !errors.As(settleErr, &se) {
			se = &settlement.SettlementError{Reason: settlement.ReasonBroadcastFailed, TxHash: hash, Err: settleErr}
		}
		if marksFailed(se.Reason) {
			notes := se.Reason
			if se.Broadcasted() {
				notes += "; transfer " + se.TxHash.Hex()
			}
			if err := s.finish(ctx, entryID, ledgerUpdate{Status: domain.LedgerStatusFailed, Notes: &notes}, actorID, "settlement_failed", settlementMetadata(creds, se.TxHash)); err != nil {
				zap.L().Error("persist settlement failure", zap.String("entry_id", entryID.String()), zap.Error(err))
			}
		}
		return "", se
	}

	txHash := hash.Hex()
	if err := s.finish(ctx, entryID, ledgerUpdate{Status: domain.LedgerStatusCompleted, TxHash: &txHash}, actorID, "settled", settlementMetadata(creds, hash)); err != nil {
		// The transfer is on chain; the ledger must be repaired by an operator.
		zap.L().Error("persist settled withdrawal failed", zap.String("entry_id", entryID.String()), zap.String("tx_hash", txHash), zap.Error(err))
		return txHash, fmt.Errorf("record settlement %s: %w", txHash, err)
	}
	zap.L().Info("withdrawal settled", zap.String("entry_id", entryID.String()), zap.String("tx_hash", txHash))
	return txHash, nil
}

// CancelWithdrawal moves a pending withdrawal to cancelled.
func (s *WithdrawalService) CancelWithdrawal(ctx context.Context, entryID uuid.UUID, reason string, actorID *uuid.UUID) (models.LedgerEntry, error) {
	release, err := s.locker.Acquire(ctx, lock.SettlementKey(entryID.String()))
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("acquire settlement lock: %w", err)
	}
	defer release()

	var out models.LedgerEntry
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		current, err := q.GetLedgerEntryForUpdate(ctx, entryID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrEntryNotFound
			}
			return fmt.Errorf("get ledger entry: %w", err)
		}
		if current.Kind != domain.LedgerKindWithdrawal {
			return ErrNotWithdrawal
		}
		upd := ledgerUpdate{Status: domain.LedgerStatusCancelled}
		if reason = strings.TrimSpace(reason); reason != "" {
			upd.Notes = &reason
		}
		out, err = transitionLedgerEntry(ctx, q, s.audit, entryID, upd, actorID, "cancelled", nil)
		return err
	})
	if err != nil {
		return models.LedgerEntry{}, err
	}
	return out, nil
}

func (s *WithdrawalService) finish(ctx context.Context, entryID uuid.UUID, upd ledgerUpdate, actorID *uuid.UUID, action string, metadata []byte) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomePersistTimeout)
	defer cancel()
	return s.store.RunInTx(ctx, func(q repository.Querier) error {
		_, err := transitionLedgerEntry(ctx, q, s.audit, entryID, upd, actorID, action, metadata)
		return err
	})
}

func marksFailed(reason string) bool {
	switch reason {
	case settlement.ReasonBroadcastFailed, settlement.ReasonNotConfirmed,
		settlement.ReasonInvalidAddress, settlement.ReasonInvalidAmount:
		return true
	}
	return false
}

func settlementMetadata(creds operator.Snapshot, hash common.Hash) []byte {
	meta := map[string]any{"credentials_version": creds.Version}
	if hash != (common.Hash{}) {
		meta["tx_hash"] = hash.Hex()
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return b
}

// isStrictHexAddress accepts only 0x followed by 40 hex digits.
func isStrictHexAddress(s string) bool {
	return len(s) == 42 && strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}
