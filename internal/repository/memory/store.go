// Package memory is an in-process implementation of the repository contract.
// It backs DATABASE_URL=memory deployments and unit tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/stablecoin-gateway/internal/domain"
	"github.com/ayo6706/stablecoin-gateway/internal/models"
	"github.com/ayo6706/stablecoin-gateway/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// Store serializes every transaction behind one mutex.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{state: newState(), now: time.Now}
}

// WithClock overrides the timestamp source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Queries returns a querier that locks per call.
func (s *Store) Queries() repository.Querier {
	return &autoQuerier{store: s}
}

// RunInTx runs fn with exclusive access and discards its writes on error.
// fn must use the querier it is given; calling Queries() inside fn deadlocks.
func (s *Store) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(&querier{st: s.state, now: s.now}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

type state struct {
	ledger       map[uuid.UUID]models.LedgerEntry
	addresses    map[string]models.DepositAddress
	addressOwner map[string]string
	settings     map[int64]models.OperatorSettings
	audit        []models.AuditLog
	idempotency  map[string]models.IdempotencyKey
}

func newState() *state {
	return &state{
		ledger:       make(map[uuid.UUID]models.LedgerEntry),
		addresses:    make(map[string]models.DepositAddress),
		addressOwner: make(map[string]string),
		settings:     make(map[int64]models.OperatorSettings),
		idempotency:  make(map[string]models.IdempotencyKey),
	}
}

// clone copies the maps. Records are values, and pointer fields are never
// mutated in place, so a shallow copy per record is enough.
func (st *state) clone() *state {
	out := newState()
	for k, v := range st.ledger {
		out.ledger[k] = v
	}
	for k, v := range st.addresses {
		out.addresses[k] = v
	}
	for k, v := range st.addressOwner {
		out.addressOwner[k] = v
	}
	for k, v := range st.settings {
		out.settings[k] = v
	}
	out.audit = append([]models.AuditLog(nil), st.audit...)
	for k, v := range st.idempotency {
		out.idempotency[k] = v
	}
	return out
}

type autoQuerier struct {
	store *Store
}

func (a *autoQuerier) with(fn func(q *querier) error) error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	return fn(&querier{st: a.store.state, now: a.store.now})
}

func (a *autoQuerier) CreateLedgerEntry(ctx context.Context, arg repository.CreateLedgerEntryParams) (out models.LedgerEntry, err error) {
	err = a.with(func(q *querier) error { out, err = q.CreateLedgerEntry(ctx, arg); return err })
	return out, err
}

func (a *autoQuerier) GetLedgerEntry(ctx context.Context, id uuid.UUID) (out models.LedgerEntry, err error) {
	err = a.with(func(q *querier) error { out, err = q.GetLedgerEntry(ctx, id); return err })
	return out, err
}

func (a *autoQuerier) GetLedgerEntryForUpdate(ctx context.Context, id uuid.UUID) (out models.LedgerEntry, err error) {
	err = a.with(func(q *querier) error { out, err = q.GetLedgerEntryForUpdate(ctx, id); return err })
	return out, err
}

func (a *autoQuerier) UpdateLedgerEntryStatus(ctx context.Context, arg repository.UpdateLedgerEntryStatusParams) (out int64, err error) {
	err = a.with(func(q *querier) error { out, err = q.UpdateLedgerEntryStatus(ctx, arg); return err })
	return out, err
}

func (a *autoQuerier) ListLedgerEntriesByOwner(ctx context.Context, arg repository.ListLedgerEntriesByOwnerParams) (out []models.LedgerEntry, err error) {
	err = a.with(func(q *querier) error { out, err = q.ListLedgerEntriesByOwner(ctx, arg); return err })
	return out, err
}

func (a *autoQuerier) ListStalePendingDeposits(ctx context.Context, arg repository.ListStalePendingDepositsParams) (out []models.LedgerEntry, err error) {
	err = a.with(func(q *querier) error { out, err = q.ListStalePendingDeposits(ctx, arg); return err })
	return out, err
}

func (a *autoQuerier) CountCompletedWithoutTxHash(ctx context.Context) (out int64, err error) {
	err = a.with(func(q *querier) error { out, err = q.CountCompletedWithoutTxHash(ctx); return err })
	return out, err
}

func (a *autoQuerier) CreateDepositAddress(ctx context.Context, arg repository.CreateDepositAddressParams) (out models.DepositAddress, err error) {
	err = a.with(func(q *querier) error { out, err = q.CreateDepositAddress(ctx, arg); return err })
	return out, err
}

func (a *autoQuerier) GetDepositAddressByOwner(ctx context.Context, ownerRef string) (out models.DepositAddress, err error) {
	err = a.with(func(q *querier) error { out, err = q.GetDepositAddressByOwner(ctx, ownerRef); return err })
	return out, err
}

func (a *autoQuerier) InsertOperatorSettings(ctx context.Context, arg repository.InsertOperatorSettingsParams) (out models.OperatorSettings, err error) {
	err = a.with(func(q *querier) error { out, err = q.InsertOperatorSettings(ctx, arg); return err })
	return out, err
}

func (a *autoQuerier) GetLatestOperatorSettings(ctx context.Context) (out models.OperatorSettings, err error) {
	err = a.with(func(q *querier) error { out, err = q.GetLatestOperatorSettings(ctx); return err })
	return out, err
}

func (a *autoQuerier) InsertAuditLog(ctx context.Context, arg repository.InsertAuditLogParams) (out int64, err error) {
	err = a.with(func(q *querier) error { out, err = q.InsertAuditLog(ctx, arg); return err })
	return out, err
}

func (a *autoQuerier) ListAuditLog(ctx context.Context, arg repository.ListAuditLogParams) (out []models.AuditLog, err error) {
	err = a.with(func(q *querier) error { out, err = q.ListAuditLog(ctx, arg); return err })
	return out, err
}

func (a *autoQuerier) ReserveIdempotencyKey(ctx context.Context, arg repository.ReserveIdempotencyKeyParams) (out models.IdempotencyKey, err error) {
	err = a.with(func(q *querier) error { out, err = q.ReserveIdempotencyKey(ctx, arg); return err })
	return out, err
}

func (a *autoQuerier) GetIdempotencyKey(ctx context.Context, key string) (out models.IdempotencyKey, err error) {
	err = a.with(func(q *querier) error { out, err = q.GetIdempotencyKey(ctx, key); return err })
	return out, err
}

func (a *autoQuerier) FinalizeIdempotencyKey(ctx context.Context, arg repository.FinalizeIdempotencyKeyParams) (out models.IdempotencyKey, err error) {
	err = a.with(func(q *querier) error { out, err = q.FinalizeIdempotencyKey(ctx, arg); return err })
	return out, err
}

// querier operates on state with the store mutex already held.
type querier struct {
	st  *state
	now func() time.Time
}

var (
	_ repository.Querier = (*querier)(nil)
	_ repository.Querier = (*autoQuerier)(nil)
)

func (q *querier) CreateLedgerEntry(_ context.Context, arg repository.CreateLedgerEntryParams) (models.LedgerEntry, error) {
	if _, ok := q.st.ledger[arg.ID]; ok {
		return models.LedgerEntry{}, duplicate("ledger_entries_pkey")
	}
	amount, err := decimal.NewFromString(arg.Amount)
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("parse numeric %q: %w", arg.Amount, err)
	}
	if amount.IsNegative() {
		return models.LedgerEntry{}, checkViolation("ledger_entries_amount_check")
	}
	ts := q.now().UTC()
	entry := models.LedgerEntry{
		ID:                  arg.ID,
		OwnerRef:            arg.OwnerRef,
		Kind:                arg.Kind,
		Amount:              amount,
		Currency:            arg.Currency,
		Status:              arg.Status,
		CounterpartyAddress: arg.CounterpartyAddress,
		CreatedAt:           ts,
		UpdatedAt:           ts,
	}
	q.st.ledger[entry.ID] = entry
	return entry, nil
}

func (q *querier) GetLedgerEntry(_ context.Context, id uuid.UUID) (models.LedgerEntry, error) {
	entry, ok := q.st.ledger[id]
	if !ok {
		return models.LedgerEntry{}, pgx.ErrNoRows
	}
	return entry, nil
}

func (q *querier) GetLedgerEntryForUpdate(ctx context.Context, id uuid.UUID) (models.LedgerEntry, error) {
	return q.GetLedgerEntry(ctx, id)
}

func (q *querier) UpdateLedgerEntryStatus(_ context.Context, arg repository.UpdateLedgerEntryStatusParams) (int64, error) {
	entry, ok := q.st.ledger[arg.ID]
	if !ok {
		return 0, nil
	}
	entry.Status = arg.Status
	if arg.Amount != nil {
		amount, err := decimal.NewFromString(*arg.Amount)
		if err != nil {
			return 0, fmt.Errorf("parse numeric %q: %w", *arg.Amount, err)
		}
		entry.Amount = amount
	}
	if arg.TxHash != nil {
		entry.TxHash = stringPtr(*arg.TxHash)
	}
	if arg.Notes != nil {
		entry.Notes = stringPtr(*arg.Notes)
	}
	if entry.Status == domain.LedgerStatusCompleted && entry.TxHash == nil {
		return 0, checkViolation("completed_has_tx_hash")
	}
	entry.UpdatedAt = q.now().UTC()
	q.st.ledger[arg.ID] = entry
	return 1, nil
}

func (q *querier) ListLedgerEntriesByOwner(_ context.Context, arg repository.ListLedgerEntriesByOwnerParams) ([]models.LedgerEntry, error) {
	var items []models.LedgerEntry
	for _, entry := range q.st.ledger {
		if entry.OwnerRef == arg.OwnerRef {
			items = append(items, entry)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return page(items, int(arg.Offset), int(arg.Limit)), nil
}

func (q *querier) ListStalePendingDeposits(_ context.Context, arg repository.ListStalePendingDepositsParams) ([]models.LedgerEntry, error) {
	var items []models.LedgerEntry
	for _, entry := range q.st.ledger {
		if entry.Kind == domain.LedgerKindDeposit &&
			entry.Status == domain.LedgerStatusPending &&
			entry.CreatedAt.Before(arg.CreatedBefore) {
			items = append(items, entry)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return page(items, 0, int(arg.Limit)), nil
}

func (q *querier) CountCompletedWithoutTxHash(context.Context) (int64, error) {
	var n int64
	for _, entry := range q.st.ledger {
		if entry.Status == domain.LedgerStatusCompleted && (entry.TxHash == nil || *entry.TxHash == "") {
			n++
		}
	}
	return n, nil
}

func (q *querier) CreateDepositAddress(_ context.Context, arg repository.CreateDepositAddressParams) (models.DepositAddress, error) {
	address := strings.ToLower(arg.Address)
	if _, ok := q.st.addresses[arg.OwnerRef]; ok {
		return models.DepositAddress{}, duplicate("deposit_addresses_pkey")
	}
	if _, ok := q.st.addressOwner[address]; ok {
		return models.DepositAddress{}, duplicate("deposit_addresses_address_key")
	}
	rec := models.DepositAddress{
		OwnerRef:      arg.OwnerRef,
		Address:       address,
		PrivateKeyHex: arg.PrivateKeyHex,
		CreatedAt:     q.now().UTC(),
	}
	q.st.addresses[arg.OwnerRef] = rec
	q.st.addressOwner[address] = arg.OwnerRef
	return rec, nil
}

func (q *querier) GetDepositAddressByOwner(_ context.Context, ownerRef string) (models.DepositAddress, error) {
	rec, ok := q.st.addresses[ownerRef]
	if !ok {
		return models.DepositAddress{}, pgx.ErrNoRows
	}
	return rec, nil
}

func (q *querier) InsertOperatorSettings(_ context.Context, arg repository.InsertOperatorSettingsParams) (models.OperatorSettings, error) {
	if _, ok := q.st.settings[arg.Version]; ok {
		return models.OperatorSettings{}, duplicate("operator_settings_pkey")
	}
	rec := models.OperatorSettings{
		Version:             arg.Version,
		TreasuryAddress:     arg.TreasuryAddress,
		GasWalletAddress:    arg.GasWalletAddress,
		GasWalletPrivateKey: arg.GasWalletPrivateKey,
		SignerPrivateKey:    arg.SignerPrivateKey,
		UpdatedBy:           arg.UpdatedBy,
		CreatedAt:           q.now().UTC(),
	}
	q.st.settings[arg.Version] = rec
	return rec, nil
}

func (q *querier) GetLatestOperatorSettings(context.Context) (models.OperatorSettings, error) {
	var (
		latest models.OperatorSettings
		found  bool
	)
	for version, rec := range q.st.settings {
		if !found || version > latest.Version {
			latest = rec
			found = true
		}
	}
	if !found {
		return models.OperatorSettings{}, pgx.ErrNoRows
	}
	return latest, nil
}

func (q *querier) InsertAuditLog(_ context.Context, arg repository.InsertAuditLogParams) (int64, error) {
	id := int64(len(q.st.audit) + 1)
	q.st.audit = append(q.st.audit, models.AuditLog{
		ID:         id,
		EntityType: arg.EntityType,
		EntityID:   arg.EntityID,
		ActorID:    arg.ActorID,
		Action:     arg.Action,
		PrevState:  arg.PrevState,
		NextState:  arg.NextState,
		Metadata:   append([]byte(nil), arg.Metadata...),
		CreatedAt:  q.now().UTC(),
	})
	return id, nil
}

func (q *querier) ListAuditLog(_ context.Context, arg repository.ListAuditLogParams) ([]models.AuditLog, error) {
	var items []models.AuditLog
	for _, rec := range q.st.audit {
		if rec.EntityType == arg.EntityType && rec.EntityID == arg.EntityID {
			items = append(items, rec)
		}
	}
	return items, nil
}

func (q *querier) ReserveIdempotencyKey(_ context.Context, arg repository.ReserveIdempotencyKeyParams) (models.IdempotencyKey, error) {
	if _, ok := q.st.idempotency[arg.IdempotencyKey]; ok {
		return models.IdempotencyKey{}, pgx.ErrNoRows
	}
	rec := models.IdempotencyKey{
		IdempotencyKey: arg.IdempotencyKey,
		RequestHash:    arg.RequestHash,
		Method:         arg.Method,
		Path:           arg.Path,
		ContentType:    "application/json",
		InProgress:     true,
		CreatedAt:      q.now().UTC(),
	}
	q.st.idempotency[arg.IdempotencyKey] = rec
	return rec, nil
}

func (q *querier) GetIdempotencyKey(_ context.Context, key string) (models.IdempotencyKey, error) {
	rec, ok := q.st.idempotency[key]
	if !ok {
		return models.IdempotencyKey{}, pgx.ErrNoRows
	}
	return rec, nil
}

func (q *querier) FinalizeIdempotencyKey(_ context.Context, arg repository.FinalizeIdempotencyKeyParams) (models.IdempotencyKey, error) {
	rec, ok := q.st.idempotency[arg.IdempotencyKey]
	if !ok || rec.RequestHash != arg.RequestHash {
		return models.IdempotencyKey{}, pgx.ErrNoRows
	}
	rec.ResponseStatus = arg.ResponseStatus
	rec.ResponseBody = append([]byte(nil), arg.ResponseBody...)
	rec.ContentType = arg.ContentType
	rec.InProgress = false
	q.st.idempotency[arg.IdempotencyKey] = rec
	return rec, nil
}

func page(items []models.LedgerEntry, offset, limit int) []models.LedgerEntry {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func duplicate(constraint string) error {
	return &pgconn.PgError{
		Code:           uniqueViolation,
		Message:        "duplicate key value violates unique constraint",
		ConstraintName: constraint,
	}
}

func checkViolation(constraint string) error {
	return &pgconn.PgError{
		Code:           "23514",
		Message:        "new row violates check constraint",
		ConstraintName: constraint,
	}
}

func stringPtr(v string) *string {
	return &v
}
