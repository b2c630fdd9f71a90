// Package chain talks to a single EVM JSON-RPC endpoint.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ayo6706/stablecoin-gateway/internal/domain"
	"github.com/ayo6706/stablecoin-gateway/internal/observability"
	"github.com/ayo6706/stablecoin-gateway/internal/retry"
	"github.com/ayo6706/stablecoin-gateway/internal/token"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Backend is the subset of *ethclient.Client the gateway uses.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Receipt is the confirmation summary of a mined transaction.
type Receipt struct {
	TxHash      common.Hash
	Success     bool
	BlockNumber *big.Int
	GasUsed     uint64
	Logs        []*types.Log
}

// Client reads balances and nonces, broadcasts raw transactions and polls for
// receipts. It never retries a broadcast.
type Client struct {
	backend Backend
	token   common.Address
}

// Dial connects to rpcURL.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return client, nil
}

func NewClient(backend Backend, tokenContract common.Address) *Client {
	return &Client{backend: backend, token: tokenContract}
}

// TokenContract returns the address of the stablecoin contract.
func (c *Client) TokenContract() common.Address {
	return c.token
}

// NativeBalance returns the native coin balance. Read failures are logged and
// reported as zero.
func (c *Client) NativeBalance(ctx context.Context, address common.Address) decimal.Decimal {
	wei, err := c.backend.BalanceAt(ctx, address, nil)
	if err != nil {
		observability.IncrementBalanceReadFailure("native")
		zap.L().Warn("native balance read failed, treating as zero", zap.String("address", address.Hex()), zap.Error(err))
		return decimal.Zero
	}
	return domain.FromBaseUnits(wei, domain.NativeDecimals)
}

// TokenBalance returns the stablecoin balance via balanceOf. Read failures are
// logged and reported as zero.
func (c *Client) TokenBalance(ctx context.Context, address common.Address) decimal.Decimal {
	balance, err := c.tokenBalance(ctx, address)
	if err != nil {
		observability.IncrementBalanceReadFailure("token")
		zap.L().Warn("token balance read failed, treating as zero", zap.String("address", address.Hex()), zap.Error(err))
		return decimal.Zero
	}
	return domain.FromBaseUnits(balance, domain.TokenDecimals)
}

func (c *Client) tokenBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	data, err := token.PackBalanceOf(address)
	if err != nil {
		return nil, err
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.token, Data: data}, nil)
	if err != nil {
		return nil, &RPCTransientError{Op: "eth_call", Err: err}
	}
	return token.UnpackBalanceOf(out)
}

// Nonce returns the transaction count of address at the latest block.
func (c *Client) Nonce(ctx context.Context, address common.Address) (uint64, error) {
	nonce, err := c.backend.NonceAt(ctx, address, nil)
	if err != nil {
		return 0, &RPCTransientError{Op: "eth_getTransactionCount", Err: err}
	}
	return nonce, nil
}

// Broadcast submits a signed, RLP-encoded transaction.
func (c *Client) Broadcast(ctx context.Context, raw []byte) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		observability.IncrementBroadcast("rejected")
		return common.Hash{}, &BroadcastError{Message: "malformed transaction", Err: err}
	}
	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		observability.IncrementBroadcast("rejected")
		return common.Hash{}, &BroadcastError{Message: err.Error(), Err: err}
	}
	observability.IncrementBroadcast("accepted")
	return tx.Hash(), nil
}

// Receipt returns nil while the transaction is not yet mined.
func (c *Client) Receipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	r, err := c.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, &RPCTransientError{Op: "eth_getTransactionReceipt", Err: err}
	}
	if r == nil {
		return nil, nil
	}
	return &Receipt{
		TxHash:      hash,
		Success:     r.Status == types.ReceiptStatusSuccessful,
		BlockNumber: r.BlockNumber,
		GasUsed:     r.GasUsed,
		Logs:        r.Logs,
	}, nil
}

// WaitForReceipt polls until the transaction is mined or the policy is
// exhausted. A reverted transaction is returned together with a
// VerificationError.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash, policy retry.Policy) (*Receipt, error) {
	var receipt *Receipt
	err := retry.Poll(ctx, policy, func(ctx context.Context) (bool, error) {
		r, err := c.Receipt(ctx, hash)
		if err != nil {
			zap.L().Warn("receipt poll failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
			return false, nil
		}
		receipt = r
		return r != nil, nil
	})
	if errors.Is(err, retry.ErrExhausted) {
		return nil, &VerificationError{TxHash: hash, Reason: ReasonReceiptTimeout}
	}
	if err != nil {
		return nil, err
	}
	if !receipt.Success {
		return receipt, &VerificationError{TxHash: hash, Reason: ReasonReverted}
	}
	return receipt, nil
}
