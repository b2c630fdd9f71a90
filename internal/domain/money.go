package domain

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("amount must be positive with at most 6 decimal places")

// TruncateAmount drops digits beyond AmountPrecision. It never rounds up, so a
// truncated balance is always spendable.
func TruncateAmount(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(AmountPrecision)
}

// ValidateAmount checks a user-supplied ledger amount.
func ValidateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return ErrInvalidAmount
	}
	if !d.Equal(TruncateAmount(d)) {
		return ErrInvalidAmount
	}
	return nil
}

// ToBaseUnits scales a decimal amount to the smallest on-chain unit.
// Fractions below one unit are discarded.
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).BigInt()
}

// FromBaseUnits converts an on-chain integer amount to a decimal.
func FromBaseUnits(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}

// GweiToWei converts a gas price expressed in gwei.
func GweiToWei(gwei decimal.Decimal) *big.Int {
	return ToBaseUnits(gwei, 9)
}

// GasCost returns gasLimit * gasPrice in wei.
func GasCost(gasLimit uint64, gasPrice *big.Int) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice)
}
