package repository

import (
	"context"

	"github.com/ayo6706/stablecoin-gateway/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

func scanLedgerEntry(row pgx.Row) (models.LedgerEntry, error) {
	var (
		i      models.LedgerEntry
		id     pgtype.UUID
		amount string
	)
	err := row.Scan(
		&id,
		&i.OwnerRef,
		&i.Kind,
		&amount,
		&i.Currency,
		&i.Status,
		&i.CounterpartyAddress,
		&i.TxHash,
		&i.Notes,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	if err != nil {
		return i, err
	}
	i.ID = FromPgUUID(id)
	i.Amount, err = parseDecimal(amount)
	return i, err
}

const createLedgerEntry = `-- name: CreateLedgerEntry :one
INSERT INTO ledger_entries (id, owner_ref, kind, amount, currency, status, counterparty_address, created_at, updated_at)
VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, NOW(), NOW())
RETURNING id, owner_ref, kind, amount::text, currency, status, counterparty_address, tx_hash, notes, created_at, updated_at
`

func (q *Queries) CreateLedgerEntry(ctx context.Context, arg CreateLedgerEntryParams) (models.LedgerEntry, error) {
	row := q.db.QueryRow(ctx, createLedgerEntry,
		ToPgUUID(arg.ID),
		arg.OwnerRef,
		arg.Kind,
		arg.Amount,
		arg.Currency,
		arg.Status,
		arg.CounterpartyAddress,
	)
	return scanLedgerEntry(row)
}

const getLedgerEntry = `-- name: GetLedgerEntry :one
SELECT id, owner_ref, kind, amount::text, currency, status, counterparty_address, tx_hash, notes, created_at, updated_at
FROM ledger_entries
WHERE id = $1
`

func (q *Queries) GetLedgerEntry(ctx context.Context, id uuid.UUID) (models.LedgerEntry, error) {
	return scanLedgerEntry(q.db.QueryRow(ctx, getLedgerEntry, ToPgUUID(id)))
}

const getLedgerEntryForUpdate = `-- name: GetLedgerEntryForUpdate :one
SELECT id, owner_ref, kind, amount::text, currency, status, counterparty_address, tx_hash, notes, created_at, updated_at
FROM ledger_entries
WHERE id = $1
FOR UPDATE
`

func (q *Queries) GetLedgerEntryForUpdate(ctx context.Context, id uuid.UUID) (models.LedgerEntry, error) {
	return scanLedgerEntry(q.db.QueryRow(ctx, getLedgerEntryForUpdate, ToPgUUID(id)))
}

const updateLedgerEntryStatus = `-- name: UpdateLedgerEntryStatus :execrows
UPDATE ledger_entries
SET status = $2,
    amount = COALESCE($3::numeric, amount),
    tx_hash = COALESCE($4, tx_hash),
    notes = COALESCE($5, notes),
    updated_at = NOW()
WHERE id = $1
`

func (q *Queries) UpdateLedgerEntryStatus(ctx context.Context, arg UpdateLedgerEntryStatusParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateLedgerEntryStatus,
		ToPgUUID(arg.ID),
		arg.Status,
		arg.Amount,
		arg.TxHash,
		arg.Notes,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listLedgerEntriesByOwner = `-- name: ListLedgerEntriesByOwner :many
SELECT id, owner_ref, kind, amount::text, currency, status, counterparty_address, tx_hash, notes, created_at, updated_at
FROM ledger_entries
WHERE owner_ref = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

func (q *Queries) ListLedgerEntriesByOwner(ctx context.Context, arg ListLedgerEntriesByOwnerParams) ([]models.LedgerEntry, error) {
	rows, err := q.db.Query(ctx, listLedgerEntriesByOwner, arg.OwnerRef, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return collectLedgerEntries(rows)
}

const listStalePendingDeposits = `-- name: ListStalePendingDeposits :many
SELECT id, owner_ref, kind, amount::text, currency, status, counterparty_address, tx_hash, notes, created_at, updated_at
FROM ledger_entries
WHERE kind = 'deposit' AND status = 'pending' AND created_at < $1
ORDER BY created_at ASC
LIMIT $2
`

func (q *Queries) ListStalePendingDeposits(ctx context.Context, arg ListStalePendingDepositsParams) ([]models.LedgerEntry, error) {
	rows, err := q.db.Query(ctx, listStalePendingDeposits, arg.CreatedBefore, arg.Limit)
	if err != nil {
		return nil, err
	}
	return collectLedgerEntries(rows)
}

const countCompletedWithoutTxHash = `-- name: CountCompletedWithoutTxHash :one
SELECT COUNT(*) FROM ledger_entries WHERE status = 'completed' AND (tx_hash IS NULL OR tx_hash = '')
`

func (q *Queries) CountCompletedWithoutTxHash(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countCompletedWithoutTxHash).Scan(&count)
	return count, err
}

func collectLedgerEntries(rows pgx.Rows) ([]models.LedgerEntry, error) {
	defer rows.Close()
	var items []models.LedgerEntry
	for rows.Next() {
		i, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
