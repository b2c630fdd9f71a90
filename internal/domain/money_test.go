package domain

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTruncateAmount(t *testing.T) {
	assert.Equal(t, "12.345678", TruncateAmount(decimal.RequireFromString("12.3456789")).String())
	// 1.2345675 would round up to 1.234568 and exceed the balance.
	assert.Equal(t, "1.234567", TruncateAmount(decimal.RequireFromString("1.2345675")).String())
}

func TestValidateAmount(t *testing.T) {
	assert.NoError(t, ValidateAmount(decimal.RequireFromString("50")))
	assert.NoError(t, ValidateAmount(decimal.RequireFromString("0.000001")))
	assert.ErrorIs(t, ValidateAmount(decimal.Zero), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateAmount(decimal.RequireFromString("-1")), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateAmount(decimal.RequireFromString("0.0000001")), ErrInvalidAmount)
}

func TestToBaseUnits(t *testing.T) {
	wei := ToBaseUnits(decimal.RequireFromString("12.345678"), TokenDecimals)
	expected, _ := new(big.Int).SetString("12345678000000000000", 10)
	assert.Equal(t, 0, expected.Cmp(wei))

	assert.Equal(t, "12.345678", FromBaseUnits(wei, TokenDecimals).String())
	assert.True(t, FromBaseUnits(nil, TokenDecimals).IsZero())
}

func TestGasCost(t *testing.T) {
	price := GweiToWei(decimal.NewFromInt(3))
	assert.Equal(t, "3000000000", price.String())
	assert.Equal(t, "63000000000000", GasCost(21000, price).String())
	assert.Equal(t, "0.0003", FromBaseUnits(GasCost(100000, price), NativeDecimals).String())
}
