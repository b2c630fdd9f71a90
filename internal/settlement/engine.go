// Package settlement signs and broadcasts withdrawal transfers from the
// operator signer wallet.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/stablecoin-gateway/internal/chain"
	"github.com/ayo6706/stablecoin-gateway/internal/domain"
	"github.com/ayo6706/stablecoin-gateway/internal/keygen"
	"github.com/ayo6706/stablecoin-gateway/internal/lock"
	"github.com/ayo6706/stablecoin-gateway/internal/models"
	"github.com/ayo6706/stablecoin-gateway/internal/observability"
	"github.com/ayo6706/stablecoin-gateway/internal/operator"
	"github.com/ayo6706/stablecoin-gateway/internal/retry"
	"github.com/ayo6706/stablecoin-gateway/internal/txbuilder"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	ReasonNotWithdrawal    = "ledger entry is not a withdrawal"
	ReasonNotPending       = "withdrawal is not pending"
	ReasonSignerMissing    = "withdrawal signer not configured"
	ReasonInvalidSignerKey = "withdrawal signer key is invalid"
	ReasonInvalidAddress   = "invalid destination address"
	ReasonInvalidAmount    = "invalid withdrawal amount"
	ReasonNonceUnavailable = "signer nonce unavailable"
	ReasonBroadcastFailed  = "broadcast rejected"
	ReasonNotConfirmed     = "transfer not confirmed"
)

// SettlementError carries a caller-safe Reason and the underlying cause.
// TxHash is set when a transaction was broadcast but not confirmed.
type SettlementError struct {
	Reason string
	TxHash common.Hash
	Err    error
}

func (e *SettlementError) Error() string {
	if e.Err == nil {
		return "settlement failed: " + e.Reason
	}
	return fmt.Sprintf("settlement failed: %s: %v", e.Reason, e.Err)
}

func (e *SettlementError) Unwrap() error { return e.Err }

// Broadcasted reports whether a transaction left the gateway.
func (e *SettlementError) Broadcasted() bool {
	return e.TxHash != (common.Hash{})
}

// ChainClient is the chain access a settlement needs.
type ChainClient interface {
	Nonce(ctx context.Context, address common.Address) (uint64, error)
	Broadcast(ctx context.Context, raw []byte) (common.Hash, error)
	WaitForReceipt(ctx context.Context, hash common.Hash, policy retry.Policy) (*chain.Receipt, error)
}

var _ ChainClient = (*chain.Client)(nil)

type Config struct {
	TokenGas    txbuilder.GasParams
	ReceiptPoll retry.Policy
}

func DefaultConfig() Config {
	return Config{
		TokenGas:    txbuilder.GasParams{Limit: 100000, Price: domain.GweiToWei(decimal.NewFromInt(3))},
		ReceiptPoll: retry.Policy{Attempts: 30, Interval: 2 * time.Second},
	}
}

// Engine settles one withdrawal per call. It never writes to the ledger.
type Engine struct {
	chain   ChainClient
	builder *txbuilder.Builder
	locker  lock.Locker
	cfg     Config
}

func NewEngine(chainClient ChainClient, builder *txbuilder.Builder, locker lock.Locker, cfg Config) *Engine {
	return &Engine{chain: chainClient, builder: builder, locker: locker, cfg: cfg}
}

// Settle transfers entry.Amount of the token to entry.CounterpartyAddress and
// waits for a successful receipt. All preconditions are checked before any key
// is used.
func (e *Engine) Settle(ctx context.Context, entry models.LedgerEntry, creds operator.Snapshot) (common.Hash, error) {
	hash, err := e.settle(ctx, entry, creds)
	if err != nil {
		observability.IncrementSettlement("failed")
		return hash, err
	}
	observability.IncrementSettlement("success")
	return hash, nil
}

func (e *Engine) settle(ctx context.Context, entry models.LedgerEntry, creds operator.Snapshot) (common.Hash, error) {
	log := zap.L().With(zap.String("entry_id", entry.ID.String()))

	if err := checkPreconditions(entry, creds); err != nil {
		return common.Hash{}, err
	}
	signer, err := keygen.AddressFromPrivateKey(creds.SignerPrivateKey)
	if err != nil {
		return common.Hash{}, &SettlementError{Reason: ReasonInvalidSignerKey}
	}
	signerAddr := common.HexToAddress(signer)

	// The signer nonce comes from the latest block, so the lock is held until
	// the transfer is confirmed or the poll budget runs out.
	release, err := e.locker.Acquire(ctx, lock.NonceKey(signer))
	if err != nil {
		return common.Hash{}, &SettlementError{Reason: ReasonNonceUnavailable, Err: err}
	}
	defer release()

	nonce, err := e.chain.Nonce(ctx, signerAddr)
	if err != nil {
		return common.Hash{}, &SettlementError{Reason: ReasonNonceUnavailable, Err: err}
	}
	raw, err := e.builder.TokenTransfer(common.HexToAddress(entry.CounterpartyAddress), entry.Amount, nonce, e.cfg.TokenGas)
	if err != nil {
		return common.Hash{}, &SettlementError{Reason: ReasonInvalidAmount, Err: err}
	}
	signed, err := txbuilder.Sign(raw, creds.SignerPrivateKey)
	if err != nil {
		var keyErr *txbuilder.InvalidKeyError
		if errors.As(err, &keyErr) {
			return common.Hash{}, &SettlementError{Reason: ReasonInvalidSignerKey, Err: err}
		}
		return common.Hash{}, &SettlementError{Reason: ReasonBroadcastFailed, Err: err}
	}

	hash, err := e.chain.Broadcast(ctx, signed.Raw)
	if err != nil {
		log.Error("withdrawal broadcast rejected", zap.Error(err))
		return common.Hash{}, &SettlementError{Reason: ReasonBroadcastFailed, Err: err}
	}
	log.Info("withdrawal broadcast", zap.String("tx_hash", hash.Hex()), zap.Uint64("nonce", nonce), zap.String("signer", signer))

	if _, err := e.chain.WaitForReceipt(ctx, hash, e.cfg.ReceiptPoll); err != nil {
		log.Error("withdrawal not confirmed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		return hash, &SettlementError{Reason: ReasonNotConfirmed, TxHash: hash, Err: err}
	}
	return hash, nil
}

func checkPreconditions(entry models.LedgerEntry, creds operator.Snapshot) error {
	switch {
	case entry.Kind != domain.LedgerKindWithdrawal:
		return &SettlementError{Reason: ReasonNotWithdrawal}
	case entry.Status != domain.LedgerStatusPending:
		return &SettlementError{Reason: ReasonNotPending}
	case creds.RequireSettlement() != nil:
		return &SettlementError{Reason: ReasonSignerMissing, Err: creds.RequireSettlement()}
	case !common.IsHexAddress(entry.CounterpartyAddress):
		return &SettlementError{Reason: ReasonInvalidAddress}
	case domain.ValidateAmount(entry.Amount) != nil:
		return &SettlementError{Reason: ReasonInvalidAmount}
	}
	return nil
}
