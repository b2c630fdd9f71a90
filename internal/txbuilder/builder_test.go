package txbuilder

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ayo6706/stablecoin-gateway/internal/keygen"
	"github.com/ayo6706/stablecoin-gateway/internal/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	chainID  = big.NewInt(56)
	contract = common.HexToAddress("0x55d398326f99059fF775485246999027B3197955")
	treasury = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
	gas      = GasParams{Limit: 100000, Price: big.NewInt(3_000_000_000)}
)

func TestTokenTransferEncodesScaledAmount(t *testing.T) {
	b := New(chainID, contract)
	raw, err := b.TokenTransfer(treasury, decimal.RequireFromString("12.3456789"), 7, gas)
	require.NoError(t, err)

	assert.Equal(t, contract, raw.To)
	assert.Equal(t, uint64(7), raw.Nonce)
	assert.Zero(t, raw.Value.Sign())
	assert.Equal(t, int64(56), raw.ChainID.Int64())

	to, amount, err := token.UnpackTransfer(raw.Data)
	require.NoError(t, err)
	assert.Equal(t, treasury, to)
	// Truncated: half-up rounding would give 12.345679.
	assert.Equal(t, "12345678000000000000", amount.String())
}

func TestTokenTransferRejectsDust(t *testing.T) {
	b := New(chainID, contract)
	_, err := b.TokenTransfer(treasury, decimal.RequireFromString("0.0000001"), 0, gas)
	assert.ErrorIs(t, err, ErrNonPositiveAmount)
}

func TestNativeTransfer(t *testing.T) {
	b := New(chainID, contract)
	raw, err := b.NativeTransfer(treasury, big.NewInt(5_000_000_000_000_000), 1, GasParams{Limit: 21000, Price: gas.Price})
	require.NoError(t, err)
	assert.Equal(t, treasury, raw.To)
	assert.Empty(t, raw.Data)
	assert.Equal(t, uint64(21000), raw.GasLimit)

	_, err = b.NativeTransfer(treasury, big.NewInt(0), 1, gas)
	assert.ErrorIs(t, err, ErrNonPositiveAmount)
}

func TestSignRecoversSender(t *testing.T) {
	kp, err := keygen.Generate()
	require.NoError(t, err)

	b := New(chainID, contract)
	raw, err := b.TokenTransfer(treasury, decimal.NewFromInt(1), 0, gas)
	require.NoError(t, err)

	signed, err := Sign(raw, kp.Hex())
	require.NoError(t, err)
	assert.NotEmpty(t, signed.Raw)

	sender, err := Sender(signed, chainID)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(kp.Address), sender)

	tx := new(types.Transaction)
	require.NoError(t, tx.UnmarshalBinary(signed.Raw))
	assert.Equal(t, signed.Hash, tx.Hash())
	assert.Equal(t, uint8(types.LegacyTxType), tx.Type())
	assert.Equal(t, int64(56), tx.ChainId().Int64())
}

func TestSignRejectsMalformedKey(t *testing.T) {
	b := New(chainID, contract)
	raw, err := b.NativeTransfer(treasury, big.NewInt(1), 0, gas)
	require.NoError(t, err)

	_, err = Sign(raw, "0xdeadbeef")
	var keyErr *InvalidKeyError
	require.True(t, errors.As(err, &keyErr))
	assert.NotContains(t, err.Error(), "deadbeef")
}

func TestGasCost(t *testing.T) {
	assert.Equal(t, "300000000000000", gas.Cost().String())
}
