// Package sweep moves a deposit address's stablecoin balance to the treasury,
// pre-funding gas from the operator gas wallet when needed and returning left
// over gas afterwards.
package sweep

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ayo6706/stablecoin-gateway/internal/chain"
	"github.com/ayo6706/stablecoin-gateway/internal/domain"
	"github.com/ayo6706/stablecoin-gateway/internal/lock"
	"github.com/ayo6706/stablecoin-gateway/internal/observability"
	"github.com/ayo6706/stablecoin-gateway/internal/operator"
	"github.com/ayo6706/stablecoin-gateway/internal/retry"
	"github.com/ayo6706/stablecoin-gateway/internal/txbuilder"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ChainClient is the chain access a sweep needs.
type ChainClient interface {
	NativeBalance(ctx context.Context, address common.Address) decimal.Decimal
	TokenBalance(ctx context.Context, address common.Address) decimal.Decimal
	Nonce(ctx context.Context, address common.Address) (uint64, error)
	Broadcast(ctx context.Context, raw []byte) (common.Hash, error)
	WaitForReceipt(ctx context.Context, hash common.Hash, policy retry.Policy) (*chain.Receipt, error)
}

var _ ChainClient = (*chain.Client)(nil)

// Config holds the thresholds and gas parameters of a sweep.
type Config struct {
	Currency        string
	MinTokenBalance decimal.Decimal
	MinGasReserve   decimal.Decimal
	GasTopUpAmount  decimal.Decimal
	DustThreshold   decimal.Decimal
	TokenGas        txbuilder.GasParams
	NativeGas       txbuilder.GasParams
	SettleDelay     time.Duration
	ReceiptPoll     retry.Policy
}

// DefaultConfig mirrors the production constants for a BEP-20 stablecoin.
func DefaultConfig() Config {
	gasPrice := domain.GweiToWei(decimal.NewFromInt(3))
	return Config{
		Currency:        domain.DefaultTokenSymbol,
		MinTokenBalance: decimal.RequireFromString("0.00001"),
		MinGasReserve:   decimal.RequireFromString("0.005"),
		GasTopUpAmount:  decimal.RequireFromString("0.005"),
		DustThreshold:   decimal.RequireFromString("0.001"),
		TokenGas:        txbuilder.GasParams{Limit: 100000, Price: gasPrice},
		NativeGas:       txbuilder.GasParams{Limit: 21000, Price: gasPrice},
		SettleDelay:     15 * time.Second,
		ReceiptPoll:     retry.Policy{Attempts: 30, Interval: 2 * time.Second},
	}
}

// Request identifies the deposit address to sweep and the credentials to use.
// Credentials are captured by the caller once so a concurrent settings update
// cannot change them mid-sweep.
type Request struct {
	DepositAddress string
	DepositKey     string
	Credentials    operator.Snapshot
}

// Engine runs one sweep pass per call. It is safe for concurrent use as long as
// callers never sweep the same deposit address twice at once.
type Engine struct {
	chain   ChainClient
	builder *txbuilder.Builder
	locker  lock.Locker
	cfg     Config
	onState func(address string, from, to State)
}

func NewEngine(chainClient ChainClient, builder *txbuilder.Builder, locker lock.Locker, cfg Config) *Engine {
	return &Engine{chain: chainClient, builder: builder, locker: locker, cfg: cfg}
}

// WithTransitionHook registers fn to be called on every state change.
func (e *Engine) WithTransitionHook(fn func(address string, from, to State)) *Engine {
	e.onState = fn
	return e
}

// Config returns the engine thresholds.
func (e *Engine) Config() Config {
	return e.cfg
}

type run struct {
	engine    *Engine
	req       Request
	deposit   common.Address
	treasury  common.Address
	gasWallet common.Address
	state     State
	outcome   Outcome
	log       *zap.Logger
}

func (r *run) transition(next State) {
	if r.state == next {
		return
	}
	prev := r.state
	r.state = next
	r.log.Debug("sweep state transition", zap.String("from", string(prev)), zap.String("to", string(next)))
	if r.engine.onState != nil {
		r.engine.onState(r.req.DepositAddress, prev, next)
	}
}

func (r *run) fail(reason string) Outcome {
	return r.failAt(r.state, reason)
}

func (r *run) failAt(at State, reason string) Outcome {
	r.outcome.FailedAt = at
	r.outcome.Success = false
	r.outcome.Reason = reason
	r.transition(StateDone)
	r.outcome.State = StateDone
	observability.IncrementSweepOutcome("failure", reason)
	r.log.Warn("sweep failed", zap.String("reason", reason), zap.String("failed_at", string(r.outcome.FailedAt)))
	return r.outcome
}

func (r *run) succeed(amount decimal.Decimal, hash common.Hash) Outcome {
	r.outcome.Success = true
	r.outcome.Amount = amount
	r.outcome.TxHash = hash
	r.transition(StateDone)
	r.outcome.State = StateDone
	observability.IncrementSweepOutcome("success", "")
	r.log.Info("sweep completed", zap.String("amount", amount.String()), zap.String("tx_hash", hash.Hex()))
	return r.outcome
}

// Sweep executes Observing → [GasTopUp] → Transferring → VerifyingTransfer →
// SweepingGas → Done. Every failure is reported through the returned Outcome.
func (e *Engine) Sweep(ctx context.Context, req Request) Outcome {
	r := &run{
		engine: e,
		req:    req,
		state:  StateIdle,
		outcome: Outcome{
			Currency:           e.cfg.Currency,
			CredentialsVersion: req.Credentials.Version,
		},
		log: zap.L().With(zap.String("deposit_address", req.DepositAddress)),
	}
	r.transition(StateObserving)

	if err := req.Credentials.RequireSweep(); err != nil {
		r.log.Error("sweep credentials incomplete", zap.Error(err))
		return r.fail(ReasonNotConfigured)
	}
	if !common.IsHexAddress(req.DepositAddress) || req.DepositKey == "" {
		return r.fail(ReasonInvalidDeposit)
	}
	r.deposit = common.HexToAddress(req.DepositAddress)
	r.treasury = common.HexToAddress(req.Credentials.TreasuryAddress)
	r.gasWallet = common.HexToAddress(req.Credentials.GasWalletAddress)

	observed := e.chain.TokenBalance(ctx, r.deposit)
	r.outcome.ObservedBalance = observed
	if observed.LessThan(e.cfg.MinTokenBalance) {
		return r.fail(ReasonNoSignificantBalance)
	}

	native := e.chain.NativeBalance(ctx, r.deposit)
	if native.LessThan(e.cfg.MinGasReserve) {
		r.transition(StateGasTopUp)
		if err := e.topUpGas(ctx, r); err != nil {
			observability.IncrementGasTopUp("failed")
			r.log.Error("gas top-up failed", zap.Error(err))
			return r.fail(ReasonGasTopUpFailed)
		}
		observability.IncrementGasTopUp("success")
		if err := retry.Sleep(ctx, e.cfg.SettleDelay); err != nil {
			return r.fail(ReasonCancelled)
		}
		if funded := e.chain.NativeBalance(ctx, r.deposit); funded.LessThan(e.cfg.MinGasReserve) {
			observability.IncrementGasTopUp("not_received")
			r.log.Error("native balance still below reserve after top-up", zap.String("balance", funded.String()))
			return r.fail(ReasonGasTopUpFailed)
		}
	}

	r.transition(StateTransferring)
	fresh := e.chain.TokenBalance(ctx, r.deposit)
	amount := domain.TruncateAmount(decimal.Min(observed, fresh))
	if amount.LessThan(e.cfg.MinTokenBalance) {
		r.log.Warn("token balance dropped below threshold before transfer", zap.String("observed", observed.String()), zap.String("fresh", fresh.String()))
		e.sweepBack(ctx, r)
		return r.failAt(StateTransferring, ReasonTokenTransferFailed)
	}

	hash, err := e.transferToken(ctx, r, amount)
	if err != nil {
		r.log.Error("token transfer broadcast failed", zap.Error(err))
		e.sweepBack(ctx, r)
		return r.failAt(StateTransferring, ReasonTokenTransferFailed)
	}
	r.outcome.TransferHash = hash

	r.transition(StateVerifyingTransfer)
	// The receipt wait keeps the sweep-back from reusing the transfer nonce.
	if _, err := e.chain.WaitForReceipt(ctx, hash, e.cfg.ReceiptPoll); err != nil {
		r.log.Error("token transfer not confirmed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		return r.fail(ReasonVerificationFailed)
	}
	if err := retry.Sleep(ctx, e.cfg.SettleDelay); err != nil {
		return r.fail(ReasonCancelled)
	}
	if remaining := e.chain.TokenBalance(ctx, r.deposit); !remaining.LessThan(e.cfg.MinTokenBalance) {
		r.log.Error("token balance remains after transfer",
			zap.String("tx_hash", hash.Hex()), zap.String("remaining", remaining.String()))
		return r.fail(ReasonVerificationFailed)
	}

	e.sweepBack(ctx, r)
	return r.succeed(amount, hash)
}

func (e *Engine) topUpGas(ctx context.Context, r *run) error {
	release, err := e.locker.Acquire(ctx, lock.NonceKey(r.gasWallet.Hex()))
	if err != nil {
		return err
	}
	defer release()

	required := e.cfg.GasTopUpAmount.Add(domain.FromBaseUnits(e.cfg.NativeGas.Cost(), domain.NativeDecimals))
	available := e.chain.NativeBalance(ctx, r.gasWallet)
	if available.LessThan(required) {
		return errGasWalletUnderfunded
	}

	nonce, err := e.chain.Nonce(ctx, r.gasWallet)
	if err != nil {
		return err
	}
	raw, err := e.builder.NativeTransfer(r.deposit, domain.ToBaseUnits(e.cfg.GasTopUpAmount, domain.NativeDecimals), nonce, e.cfg.NativeGas)
	if err != nil {
		return err
	}
	signed, err := txbuilder.Sign(raw, r.req.Credentials.GasWalletPrivateKey)
	if err != nil {
		return err
	}
	hash, err := e.chain.Broadcast(ctx, signed.Raw)
	if err != nil {
		return err
	}
	r.outcome.GasTopUpHash = hash
	r.log.Info("gas top-up broadcast", zap.String("tx_hash", hash.Hex()), zap.Uint64("nonce", nonce))

	// The gas wallet nonce is read at the latest block, so the lock is held
	// until the top-up is mined.
	if _, err := e.chain.WaitForReceipt(ctx, hash, e.cfg.ReceiptPoll); err != nil {
		return err
	}
	return nil
}

func (e *Engine) transferToken(ctx context.Context, r *run, amount decimal.Decimal) (common.Hash, error) {
	nonce, err := e.chain.Nonce(ctx, r.deposit)
	if err != nil {
		return common.Hash{}, err
	}
	raw, err := e.builder.TokenTransfer(r.treasury, amount, nonce, e.cfg.TokenGas)
	if err != nil {
		return common.Hash{}, err
	}
	signed, err := txbuilder.Sign(raw, r.req.DepositKey)
	if err != nil {
		return common.Hash{}, err
	}
	return e.chain.Broadcast(ctx, signed.Raw)
}

// sweepBack returns leftover native gas to the gas wallet. Its errors are
// logged and never change the sweep outcome.
func (e *Engine) sweepBack(ctx context.Context, r *run) {
	r.transition(StateSweepingGas)

	balance := e.chain.NativeBalance(ctx, r.deposit)
	if balance.LessThanOrEqual(e.cfg.DustThreshold) {
		r.log.Debug("native balance below dust threshold, skipping sweep-back", zap.String("balance", balance.String()))
		return
	}
	value := new(big.Int).Sub(domain.ToBaseUnits(balance, domain.NativeDecimals), e.cfg.NativeGas.Cost())
	if value.Sign() <= 0 {
		return
	}

	nonce, err := e.chain.Nonce(ctx, r.deposit)
	if err != nil {
		r.log.Warn("sweep-back nonce lookup failed", zap.Error(err))
		return
	}
	raw, err := e.builder.NativeTransfer(r.gasWallet, value, nonce, e.cfg.NativeGas)
	if err != nil {
		r.log.Warn("sweep-back build failed", zap.Error(err))
		return
	}
	signed, err := txbuilder.Sign(raw, r.req.DepositKey)
	if err != nil {
		r.log.Warn("sweep-back sign failed", zap.Error(err))
		return
	}
	hash, err := e.chain.Broadcast(ctx, signed.Raw)
	if err != nil {
		var bErr *chain.BroadcastError
		if errors.As(err, &bErr) {
			r.log.Warn("sweep-back broadcast rejected", zap.String("message", bErr.Message))
			return
		}
		r.log.Warn("sweep-back broadcast failed", zap.Error(err))
		return
	}
	r.outcome.SweepBackHash = hash
	r.log.Info("gas swept back", zap.String("tx_hash", hash.Hex()), zap.String("value_wei", value.String()))
}
