package service

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/stablecoin-gateway/internal/chain"
	"github.com/ayo6706/stablecoin-gateway/internal/domain"
	"github.com/ayo6706/stablecoin-gateway/internal/keygen"
	"github.com/ayo6706/stablecoin-gateway/internal/lock"
	"github.com/ayo6706/stablecoin-gateway/internal/models"
	"github.com/ayo6706/stablecoin-gateway/internal/operator"
	"github.com/ayo6706/stablecoin-gateway/internal/repository/memory"
	"github.com/ayo6706/stablecoin-gateway/internal/retry"
	"github.com/ayo6706/stablecoin-gateway/internal/settlement"
	"github.com/ayo6706/stablecoin-gateway/internal/sweep"
	"github.com/ayo6706/stablecoin-gateway/internal/txbuilder"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	testChainID  = big.NewInt(56)
	testContract = common.HexToAddress("0x55d398326f99059fF775485246999027B3197955")
	testTreasury = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
	testPayee    = "0x15d34aaf54267db7d7c367839aaf71a00a2c6a65"
)

func units(s string) *big.Int {
	v, ok := new(big.Int).SetString(decimal.RequireFromString(s).Shift(domain.TokenDecimals).String(), 10)
	if !ok {
		panic(s)
	}
	return v
}

// testEnv wires the services against the in-memory store and a simulated chain.
type testEnv struct {
	store       *memory.Store
	backend     *chain.MockBackend
	holder      *operator.Holder
	locker      *lock.Local
	tasks       *TaskRegistry
	deposits    *DepositService
	withdrawals *WithdrawalService
	ledger      *LedgerService
	settings    *SettingsService
	signer      keygen.Keypair
	gasWallet   keygen.Keypair
}

type envOption func(*envConfig)

type envConfig struct {
	sweeper Sweeper
	settler Settler
	creds   *operator.Credentials
}

func withSweeper(s Sweeper) envOption { return func(c *envConfig) { c.sweeper = s } }

func withSettler(s Settler) envOption { return func(c *envConfig) { c.settler = s } }

func withCredentials(creds operator.Credentials) envOption {
	return func(c *envConfig) { c.creds = &creds }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	var cfg envConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	signer, err := keygen.Generate()
	require.NoError(t, err)
	gasWallet, err := keygen.Generate()
	require.NoError(t, err)

	backend := chain.NewMockBackend(testChainID, testContract)
	backend.SetNative(common.HexToAddress(gasWallet.Address), units("1"))
	backend.SetNative(common.HexToAddress(signer.Address), units("1"))
	backend.SetToken(common.HexToAddress(signer.Address), units("1000"))
	client := chain.NewClient(backend, testContract)
	builder := txbuilder.New(testChainID, testContract)

	creds := operator.Credentials{
		TreasuryAddress:     testTreasury.Hex(),
		GasWalletAddress:    gasWallet.Address,
		GasWalletPrivateKey: gasWallet.Hex(),
		SignerPrivateKey:    signer.Hex(),
	}
	if cfg.creds != nil {
		creds = *cfg.creds
	}
	holder, err := operator.NewHolder(creds)
	require.NoError(t, err)

	poll := retry.Policy{Attempts: 3, Interval: time.Millisecond}
	locker := lock.NewLocal()
	if cfg.sweeper == nil {
		sweepCfg := sweep.DefaultConfig()
		sweepCfg.SettleDelay = 0
		sweepCfg.ReceiptPoll = poll
		cfg.sweeper = sweep.NewEngine(client, builder, locker, sweepCfg)
	}
	if cfg.settler == nil {
		settleCfg := settlement.DefaultConfig()
		settleCfg.ReceiptPoll = poll
		cfg.settler = settlement.NewEngine(client, builder, locker, settleCfg)
	}

	store := memory.NewStore()
	tasks := NewTaskRegistry()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tasks.Shutdown(ctx)
	})

	return &testEnv{
		store:       store,
		backend:     backend,
		holder:      holder,
		locker:      locker,
		tasks:       tasks,
		deposits:    NewDepositService(store, cfg.sweeper, locker, holder, tasks, domain.DefaultTokenSymbol),
		withdrawals: NewWithdrawalService(store, cfg.settler, locker, holder, domain.DefaultTokenSymbol),
		ledger:      NewLedgerService(store),
		settings:    NewSettingsService(store, holder),
		signer:      signer,
		gasWallet:   gasWallet,
	}
}

// waitEntry waits for the sweep of id and returns the stored entry.
func (e *testEnv) waitEntry(t *testing.T, id uuid.UUID) models.LedgerEntry {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.tasks.Wait(ctx, id))
	entry, err := e.ledger.Get(ctx, id)
	require.NoError(t, err)
	return entry
}

// depositAddress returns the generated address of owner and its stored key.
func (e *testEnv) depositAddress(t *testing.T, owner string) (common.Address, string) {
	t.Helper()
	ctx := context.Background()
	_, err := e.deposits.GenerateDepositAddress(ctx, owner, nil)
	require.NoError(t, err)
	rec, err := e.store.Queries().GetDepositAddressByOwner(ctx, owner)
	require.NoError(t, err)
	return common.HexToAddress(rec.Address), rec.PrivateKeyHex
}

// stubSweeper returns a fixed outcome, optionally blocking until released or
// cancelled.
type stubSweeper struct {
	outcome sweep.Outcome
	block   chan struct{}

	mu    sync.Mutex
	calls []sweep.Request
}

func (s *stubSweeper) Sweep(ctx context.Context, req sweep.Request) sweep.Outcome {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return sweep.Outcome{State: sweep.StateDone, Reason: sweep.ReasonCancelled}
		}
	}
	return s.outcome
}

func (s *stubSweeper) Calls() []sweep.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sweep.Request(nil), s.calls...)
}
