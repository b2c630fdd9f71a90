package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/stablecoin-gateway/internal/domain"
	"github.com/ayo6706/stablecoin-gateway/internal/models"
	"github.com/ayo6706/stablecoin-gateway/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Every ledger entry starts pending and ends in exactly one terminal status.
var ledgerTransitions = map[string]map[string]struct{}{
	domain.LedgerStatusPending: {
		domain.LedgerStatusCompleted: {},
		domain.LedgerStatusFailed:    {},
		domain.LedgerStatusCancelled: {},
	},
	domain.LedgerStatusCompleted: {},
	domain.LedgerStatusFailed:    {},
	domain.LedgerStatusCancelled: {},
}

func canTransition(current, next string) bool {
	nextStates, ok := ledgerTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// ledgerUpdate is the terminal state written to an entry. Nil fields keep the
// stored value.
type ledgerUpdate struct {
	Status string
	Amount *decimal.Decimal
	TxHash *string
	Notes  *string
}

// transitionLedgerEntry locks the entry, validates the move and records it in
// the audit log. It must run inside a transaction.
func transitionLedgerEntry(ctx context.Context, q repository.Querier, audit *AuditService, entryID uuid.UUID, upd ledgerUpdate, actorID *uuid.UUID, action string, metadata []byte) (models.LedgerEntry, error) {
	current, err := q.GetLedgerEntryForUpdate(ctx, entryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.LedgerEntry{}, ErrEntryNotFound
		}
		return models.LedgerEntry{}, fmt.Errorf("get current ledger state: %w", err)
	}
	if !canTransition(current.Status, upd.Status) {
		return models.LedgerEntry{}, fmt.Errorf("%w: %s -> %s", ErrNotPending, current.Status, upd.Status)
	}

	params := repository.UpdateLedgerEntryStatusParams{
		ID:     entryID,
		Status: upd.Status,
		TxHash: upd.TxHash,
		Notes:  upd.Notes,
	}
	if upd.Amount != nil {
		params.Amount = stringPtr(repository.DecimalParam(*upd.Amount))
	}
	rows, err := q.UpdateLedgerEntryStatus(ctx, params)
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("update ledger state: %w", err)
	}
	if err := requireExactlyOne(rows, "update ledger state"); err != nil {
		return models.LedgerEntry{}, err
	}

	if err := audit.Write(ctx, q, domain.AuditEntityLedgerEntry, entryID.String(), actorID, action, current.Status, upd.Status, metadata); err != nil {
		return models.LedgerEntry{}, err
	}

	updated, err := q.GetLedgerEntry(ctx, entryID)
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("reload ledger entry: %w", err)
	}
	return updated, nil
}

// createLedgerEntry inserts a pending entry and its audit record.
func createLedgerEntry(ctx context.Context, q repository.Querier, audit *AuditService, params repository.CreateLedgerEntryParams, actorID *uuid.UUID, metadata []byte) (models.LedgerEntry, error) {
	entry, err := q.CreateLedgerEntry(ctx, params)
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("create ledger entry: %w", err)
	}
	if err := audit.Write(ctx, q, domain.AuditEntityLedgerEntry, entry.ID.String(), actorID, "created", "", entry.Status, metadata); err != nil {
		return models.LedgerEntry{}, err
	}
	return entry, nil
}
