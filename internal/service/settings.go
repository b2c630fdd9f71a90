package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ayo6706/stablecoin-gateway/internal/domain"
	"github.com/ayo6706/stablecoin-gateway/internal/operator"
	"github.com/ayo6706/stablecoin-gateway/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// SettingsService persists operator credentials and swaps them into the live
// holder. Readers never observe a partially applied update.
type SettingsService struct {
	store  QueryStore
	audit  *AuditService
	holder *operator.Holder
	mu     sync.Mutex
}

func NewSettingsService(store QueryStore, holder *operator.Holder) *SettingsService {
	return &SettingsService{store: store, audit: NewAuditService(store), holder: holder}
}

// Get returns the live credentials without private keys.
func (s *SettingsService) Get() operator.View {
	return s.holder.Load().Redact()
}

// Update validates next, stores it as a new version and installs it. Invalid
// input returns an *operator.ConfigurationError and changes nothing.
func (s *SettingsService) Update(ctx context.Context, next operator.Credentials, actorID *uuid.UUID) (operator.View, error) {
	normalized, err := next.Normalize()
	if err != nil {
		return operator.View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.holder.Load()
	version := current.Version + 1
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		if _, err := q.InsertOperatorSettings(ctx, repository.InsertOperatorSettingsParams{
			Version:             int64(version),
			TreasuryAddress:     normalized.TreasuryAddress,
			GasWalletAddress:    normalized.GasWalletAddress,
			GasWalletPrivateKey: normalized.GasWalletPrivateKey,
			SignerPrivateKey:    normalized.SignerPrivateKey,
			UpdatedBy:           actorID,
		}); err != nil {
			return err
		}
		metadata, err := json.Marshal(operator.Snapshot{Credentials: normalized, Version: version}.Redact())
		if err != nil {
			return fmt.Errorf("encode settings audit: %w", err)
		}
		return s.audit.Write(ctx, q, domain.AuditEntityOperatorSettings, fmt.Sprintf("%d", version), actorID, "updated",
			fmt.Sprintf("%d", current.Version), fmt.Sprintf("%d", version), metadata)
	})
	if err != nil {
		if isUniqueViolation(err) {
			if loadErr := s.loadPersisted(ctx); loadErr != nil {
				zap.L().Warn("reload operator settings", zap.Error(loadErr))
			}
			return operator.View{}, ErrSettingsConflict
		}
		return operator.View{}, fmt.Errorf("persist operator settings: %w", err)
	}

	snap, err := s.holder.Replace(normalized)
	if err != nil {
		return operator.View{}, err
	}
	zap.L().Info("operator settings updated", zap.Uint64("version", snap.Version))
	return snap.Redact(), nil
}

// LoadPersisted installs the newest stored settings if they are newer than the
// live ones. A database without settings keeps the configured credentials.
func (s *SettingsService) LoadPersisted(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadPersisted(ctx)
}

func (s *SettingsService) loadPersisted(ctx context.Context) error {
	rec, err := s.store.Queries().GetLatestOperatorSettings(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("load operator settings: %w", err)
	}
	restored, err := s.holder.Restore(operator.Snapshot{
		Credentials: operator.Credentials{
			TreasuryAddress:     rec.TreasuryAddress,
			GasWalletAddress:    rec.GasWalletAddress,
			GasWalletPrivateKey: rec.GasWalletPrivateKey,
			SignerPrivateKey:    rec.SignerPrivateKey,
		},
		Version:   uint64(rec.Version),
		UpdatedAt: rec.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("restore operator settings v%d: %w", rec.Version, err)
	}
	if restored {
		zap.L().Info("operator settings restored", zap.Int64("version", rec.Version))
	}
	return nil
}
