package repository

import (
	"context"

	"github.com/ayo6706/stablecoin-gateway/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

func scanOperatorSettings(row pgx.Row) (models.OperatorSettings, error) {
	var (
		i         models.OperatorSettings
		updatedBy pgtype.UUID
	)
	err := row.Scan(
		&i.Version,
		&i.TreasuryAddress,
		&i.GasWalletAddress,
		&i.GasWalletPrivateKey,
		&i.SignerPrivateKey,
		&updatedBy,
		&i.CreatedAt,
	)
	i.UpdatedBy = fromPgUUIDPtr(updatedBy)
	return i, err
}

const insertOperatorSettings = `-- name: InsertOperatorSettings :one
INSERT INTO operator_settings (version, treasury_address, gas_wallet_address, gas_wallet_private_key, signer_private_key, updated_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())
RETURNING version, treasury_address, gas_wallet_address, gas_wallet_private_key, signer_private_key, updated_by, created_at
`

func (q *Queries) InsertOperatorSettings(ctx context.Context, arg InsertOperatorSettingsParams) (models.OperatorSettings, error) {
	row := q.db.QueryRow(ctx, insertOperatorSettings,
		arg.Version,
		arg.TreasuryAddress,
		arg.GasWalletAddress,
		arg.GasWalletPrivateKey,
		arg.SignerPrivateKey,
		toPgUUIDPtr(arg.UpdatedBy),
	)
	return scanOperatorSettings(row)
}

const getLatestOperatorSettings = `-- name: GetLatestOperatorSettings :one
SELECT version, treasury_address, gas_wallet_address, gas_wallet_private_key, signer_private_key, updated_by, created_at
FROM operator_settings
ORDER BY version DESC
LIMIT 1
`

func (q *Queries) GetLatestOperatorSettings(ctx context.Context) (models.OperatorSettings, error) {
	return scanOperatorSettings(q.db.QueryRow(ctx, getLatestOperatorSettings))
}
