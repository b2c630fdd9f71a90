package service

import (
	"context"

	"github.com/ayo6706/stablecoin-gateway/internal/repository"
)

// QueryStore defines the minimal data access contract required by services.
// repository.Store and memory.Store both satisfy it.
type QueryStore interface {
	Queries() repository.Querier
	RunInTx(ctx context.Context, fn func(q repository.Querier) error) error
}
