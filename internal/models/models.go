package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerEntry records one deposit or withdrawal and its settlement state.
type LedgerEntry struct {
	ID                  uuid.UUID       `json:"id"`
	OwnerRef            string          `json:"owner_ref"`
	Kind                string          `json:"kind"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	Status              string          `json:"status"`
	CounterpartyAddress string          `json:"counterparty_address,omitempty"`
	TxHash              *string         `json:"tx_hash,omitempty"`
	Notes               *string         `json:"notes,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// DepositAddress is the custodial address assigned to an owner. The private
// key never leaves the service layer.
type DepositAddress struct {
	OwnerRef      string    `json:"owner_ref"`
	Address       string    `json:"address"`
	PrivateKeyHex string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// OperatorSettings is a persisted version of the operator credentials.
type OperatorSettings struct {
	Version             int64
	TreasuryAddress     string
	GasWalletAddress    string
	GasWalletPrivateKey string
	SignerPrivateKey    string
	UpdatedBy           *uuid.UUID
	CreatedAt           time.Time
}

// AuditLog is an immutable record of a state change.
type AuditLog struct {
	ID         int64      `json:"id"`
	EntityType string     `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	Action     string     `json:"action"`
	PrevState  *string    `json:"prev_state,omitempty"`
	NextState  *string    `json:"next_state,omitempty"`
	Metadata   []byte     `json:"metadata,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IdempotencyKey is a stored response for a mutating request.
type IdempotencyKey struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
	CreatedAt      time.Time
}
