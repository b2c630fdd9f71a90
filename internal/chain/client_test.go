package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ayo6706/stablecoin-gateway/internal/keygen"
	"github.com/ayo6706/stablecoin-gateway/internal/retry"
	"github.com/ayo6706/stablecoin-gateway/internal/txbuilder"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testChainID  = big.NewInt(56)
	testContract = common.HexToAddress("0x55d398326f99059fF775485246999027B3197955")
	fastPoll     = retry.Policy{Attempts: 3, Interval: time.Millisecond}
)

func ether(s string) *big.Int {
	v, _ := new(big.Int).SetString(decimal.RequireFromString(s).Shift(18).String(), 10)
	return v
}

func newFunded(t *testing.T, backend *MockBackend, native string) keygen.Keypair {
	t.Helper()
	kp, err := keygen.Generate()
	require.NoError(t, err)
	backend.SetNative(common.HexToAddress(kp.Address), ether(native))
	return kp
}

func TestBalances(t *testing.T) {
	backend := NewMockBackend(testChainID, testContract)
	client := NewClient(backend, testContract)
	addr := common.HexToAddress("0x70997970c51812dc3a010c7d01b50e0d17dc79c8")

	backend.SetNative(addr, ether("0.01"))
	backend.SetToken(addr, ether("12.345678"))

	assert.Equal(t, "0.01", client.NativeBalance(context.Background(), addr).String())
	assert.Equal(t, "12.345678", client.TokenBalance(context.Background(), addr).String())
}

func TestBalanceFailuresReadAsZero(t *testing.T) {
	backend := NewMockBackend(testChainID, testContract)
	client := NewClient(backend, testContract)
	addr := common.HexToAddress("0x01")
	backend.SetNative(addr, ether("1"))
	backend.BalanceErr = errors.New("connection refused")

	assert.True(t, client.NativeBalance(context.Background(), addr).IsZero())
	assert.True(t, client.TokenBalance(context.Background(), addr).IsZero())
}

func TestTokenBalanceWrongContract(t *testing.T) {
	backend := NewMockBackend(testChainID, testContract)
	client := NewClient(backend, common.HexToAddress("0x02"))
	assert.True(t, client.TokenBalance(context.Background(), common.HexToAddress("0x01")).IsZero())
}

func TestBroadcastAndReceipt(t *testing.T) {
	ctx := context.Background()
	backend := NewMockBackend(testChainID, testContract)
	backend.ReceiptDelay = 1
	client := NewClient(backend, testContract)
	sender := newFunded(t, backend, "1")
	to := common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")

	nonce, err := client.Nonce(ctx, common.HexToAddress(sender.Address))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nonce)

	builder := txbuilder.New(testChainID, testContract)
	raw, err := builder.NativeTransfer(to, ether("0.5"), nonce, txbuilder.GasParams{Limit: 21000, Price: big.NewInt(3_000_000_000)})
	require.NoError(t, err)
	signed, err := txbuilder.Sign(raw, sender.Hex())
	require.NoError(t, err)

	hash, err := client.Broadcast(ctx, signed.Raw)
	require.NoError(t, err)
	assert.Equal(t, signed.Hash, hash)

	receipt, err := client.Receipt(ctx, hash)
	require.NoError(t, err)
	assert.Nil(t, receipt)

	receipt, err = client.WaitForReceipt(ctx, hash, fastPoll)
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.Equal(t, "0.5", client.NativeBalance(ctx, to).String())

	nonce, err = client.Nonce(ctx, common.HexToAddress(sender.Address))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)
}

func TestBroadcastRejected(t *testing.T) {
	backend := NewMockBackend(testChainID, testContract)
	client := NewClient(backend, testContract)
	sender, err := keygen.Generate()
	require.NoError(t, err)

	builder := txbuilder.New(testChainID, testContract)
	raw, err := builder.NativeTransfer(common.HexToAddress("0x01"), ether("1"), 0, txbuilder.GasParams{Limit: 21000, Price: big.NewInt(1)})
	require.NoError(t, err)
	signed, err := txbuilder.Sign(raw, sender.Hex())
	require.NoError(t, err)

	_, err = client.Broadcast(context.Background(), signed.Raw)
	var bErr *BroadcastError
	require.True(t, errors.As(err, &bErr))
	assert.Contains(t, bErr.Message, "insufficient funds")
	assert.Empty(t, backend.Sent())

	_, err = client.Broadcast(context.Background(), []byte{0x01, 0x02})
	require.True(t, errors.As(err, &bErr))
}

func TestWaitForReceiptTimeout(t *testing.T) {
	backend := NewMockBackend(testChainID, testContract)
	client := NewClient(backend, testContract)

	_, err := client.WaitForReceipt(context.Background(), common.HexToHash("0xabc"), fastPoll)
	var vErr *VerificationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, ReasonReceiptTimeout, vErr.Reason)
}

func TestWaitForReceiptReverted(t *testing.T) {
	ctx := context.Background()
	backend := NewMockBackend(testChainID, testContract)
	backend.RevertTokenTransfers = true
	client := NewClient(backend, testContract)
	sender := newFunded(t, backend, "1")

	builder := txbuilder.New(testChainID, testContract)
	raw, err := builder.TokenTransfer(common.HexToAddress("0x01"), decimal.NewFromInt(1), 0, txbuilder.GasParams{Limit: 100000, Price: big.NewInt(3_000_000_000)})
	require.NoError(t, err)
	signed, err := txbuilder.Sign(raw, sender.Hex())
	require.NoError(t, err)
	hash, err := client.Broadcast(ctx, signed.Raw)
	require.NoError(t, err)

	receipt, err := client.WaitForReceipt(ctx, hash, fastPoll)
	var vErr *VerificationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, ReasonReverted, vErr.Reason)
	require.NotNil(t, receipt)
	assert.False(t, receipt.Success)
}

func TestMockRejectsReplayedNonce(t *testing.T) {
	ctx := context.Background()
	backend := NewMockBackend(testChainID, testContract)
	sender := newFunded(t, backend, "1")

	builder := txbuilder.New(testChainID, testContract)
	gasParams := txbuilder.GasParams{Limit: 21000, Price: big.NewInt(1)}
	raw, err := builder.NativeTransfer(common.HexToAddress("0x01"), big.NewInt(1), 0, gasParams)
	require.NoError(t, err)
	signed, err := txbuilder.Sign(raw, sender.Hex())
	require.NoError(t, err)

	tx := new(types.Transaction)
	require.NoError(t, tx.UnmarshalBinary(signed.Raw))
	require.NoError(t, backend.SendTransaction(ctx, tx))
	assert.EqualError(t, backend.SendTransaction(ctx, tx), "nonce too low")

	from, err := backend.SenderOf(tx)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(sender.Address), from)
}
