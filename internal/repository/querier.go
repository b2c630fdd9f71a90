package repository

import (
	"context"
	"time"

	"github.com/ayo6706/stablecoin-gateway/internal/models"
	"github.com/google/uuid"
)

// Querier is the data access contract shared by the Postgres and in-memory
// stores. Lookups that find nothing return pgx.ErrNoRows.
type Querier interface {
	CreateLedgerEntry(ctx context.Context, arg CreateLedgerEntryParams) (models.LedgerEntry, error)
	GetLedgerEntry(ctx context.Context, id uuid.UUID) (models.LedgerEntry, error)
	GetLedgerEntryForUpdate(ctx context.Context, id uuid.UUID) (models.LedgerEntry, error)
	UpdateLedgerEntryStatus(ctx context.Context, arg UpdateLedgerEntryStatusParams) (int64, error)
	ListLedgerEntriesByOwner(ctx context.Context, arg ListLedgerEntriesByOwnerParams) ([]models.LedgerEntry, error)
	ListStalePendingDeposits(ctx context.Context, arg ListStalePendingDepositsParams) ([]models.LedgerEntry, error)
	CountCompletedWithoutTxHash(ctx context.Context) (int64, error)

	CreateDepositAddress(ctx context.Context, arg CreateDepositAddressParams) (models.DepositAddress, error)
	GetDepositAddressByOwner(ctx context.Context, ownerRef string) (models.DepositAddress, error)

	InsertOperatorSettings(ctx context.Context, arg InsertOperatorSettingsParams) (models.OperatorSettings, error)
	GetLatestOperatorSettings(ctx context.Context) (models.OperatorSettings, error)

	InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (int64, error)
	ListAuditLog(ctx context.Context, arg ListAuditLogParams) ([]models.AuditLog, error)

	ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (models.IdempotencyKey, error)
	GetIdempotencyKey(ctx context.Context, key string) (models.IdempotencyKey, error)
	FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (models.IdempotencyKey, error)
}

var _ Querier = (*Queries)(nil)

type CreateLedgerEntryParams struct {
	ID                  uuid.UUID
	OwnerRef            string
	Kind                string
	Amount              string
	Currency            string
	Status              string
	CounterpartyAddress string
}

type UpdateLedgerEntryStatusParams struct {
	ID     uuid.UUID
	Status string
	// Nil pointers leave the column unchanged.
	Amount *string
	TxHash *string
	Notes  *string
}

type ListLedgerEntriesByOwnerParams struct {
	OwnerRef string
	Limit    int32
	Offset   int32
}

type ListStalePendingDepositsParams struct {
	CreatedBefore time.Time
	Limit         int32
}

type CreateDepositAddressParams struct {
	OwnerRef      string
	Address       string
	PrivateKeyHex string
}

type InsertOperatorSettingsParams struct {
	Version             int64
	TreasuryAddress     string
	GasWalletAddress    string
	GasWalletPrivateKey string
	SignerPrivateKey    string
	UpdatedBy           *uuid.UUID
}

type InsertAuditLogParams struct {
	EntityType string
	EntityID   string
	ActorID    *uuid.UUID
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
}

type ListAuditLogParams struct {
	EntityType string
	EntityID   string
}

type ReserveIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
}

type FinalizeIdempotencyKeyParams struct {
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	IdempotencyKey string
	RequestHash    string
}
