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
)

const maxLedgerPageSize = 100

// LedgerService reads ledger entries.
type LedgerService struct {
	store QueryStore
	audit *AuditService
}

func NewLedgerService(store QueryStore) *LedgerService {
	return &LedgerService{store: store, audit: NewAuditService(store)}
}

func (s *LedgerService) Get(ctx context.Context, id uuid.UUID) (models.LedgerEntry, error) {
	entry, err := s.store.Queries().GetLedgerEntry(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.LedgerEntry{}, ErrEntryNotFound
		}
		return models.LedgerEntry{}, fmt.Errorf("get ledger entry: %w", err)
	}
	return entry, nil
}

// ListByOwner pages through the entries of ownerRef, newest first.
func (s *LedgerService) ListByOwner(ctx context.Context, ownerRef string, limit, offset int32) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > maxLedgerPageSize {
		limit = maxLedgerPageSize
	}
	if offset < 0 {
		offset = 0
	}
	entries, err := s.store.Queries().ListLedgerEntriesByOwner(ctx, repository.ListLedgerEntriesByOwnerParams{
		OwnerRef: ownerRef,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	return entries, nil
}

// History returns the state changes recorded for an entry.
func (s *LedgerService) History(ctx context.Context, id uuid.UUID) ([]models.AuditLog, error) {
	return s.audit.History(ctx, domain.AuditEntityLedgerEntry, id.String())
}
