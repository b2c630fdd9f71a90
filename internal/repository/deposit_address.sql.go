package repository

import (
	"context"

	"github.com/ayo6706/stablecoin-gateway/internal/models"
)

const createDepositAddress = `-- name: CreateDepositAddress :one
INSERT INTO deposit_addresses (owner_ref, address, private_key_hex, created_at)
VALUES ($1, LOWER($2), $3, NOW())
RETURNING owner_ref, address, private_key_hex, created_at
`

func (q *Queries) CreateDepositAddress(ctx context.Context, arg CreateDepositAddressParams) (models.DepositAddress, error) {
	row := q.db.QueryRow(ctx, createDepositAddress, arg.OwnerRef, arg.Address, arg.PrivateKeyHex)
	var i models.DepositAddress
	err := row.Scan(&i.OwnerRef, &i.Address, &i.PrivateKeyHex, &i.CreatedAt)
	return i, err
}

const getDepositAddressByOwner = `-- name: GetDepositAddressByOwner :one
SELECT owner_ref, address, private_key_hex, created_at
FROM deposit_addresses
WHERE owner_ref = $1
`

func (q *Queries) GetDepositAddressByOwner(ctx context.Context, ownerRef string) (models.DepositAddress, error) {
	row := q.db.QueryRow(ctx, getDepositAddressByOwner, ownerRef)
	var i models.DepositAddress
	err := row.Scan(&i.OwnerRef, &i.Address, &i.PrivateKeyHex, &i.CreatedAt)
	return i, err
}
