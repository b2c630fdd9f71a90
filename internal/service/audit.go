package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/stablecoin-gateway/internal/models"
	"github.com/ayo6706/stablecoin-gateway/internal/repository"
	"github.com/google/uuid"
)

// AuditService writes immutable audit trail entries.
type AuditService struct {
	store QueryStore
}

func NewAuditService(store QueryStore) *AuditService {
	return &AuditService{store: store}
}

// Write stores a single immutable audit record using q, which is normally the
// querier of the transaction that made the change.
func (s *AuditService) Write(ctx context.Context, q repository.Querier, entityType, entityID string, actorID *uuid.UUID, action, prevState, nextState string, metadata []byte) error {
	if _, err := q.InsertAuditLog(ctx, repository.InsertAuditLogParams{
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actorID,
		Action:     action,
		PrevState:  textParam(prevState),
		NextState:  textParam(nextState),
		Metadata:   metadata,
	}); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// History returns the audit trail of one entity in insertion order.
func (s *AuditService) History(ctx context.Context, entityType, entityID string) ([]models.AuditLog, error) {
	rows, err := s.store.Queries().ListAuditLog(ctx, repository.ListAuditLogParams{
		EntityType: entityType,
		EntityID:   entityID,
	})
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	return rows, nil
}

func textParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
