package service

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// NativeDecimals is the number of decimals of the chain's native currency.
const NativeDecimals = 18

// ParseAmount parses a positive decimal amount in native units.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}

// ToWei converts native units to the smallest unit without float loss.
// Amounts with more precision than the currency carries are rejected.
func ToWei(amount decimal.Decimal) (*big.Int, error) {
	wei := amount.Shift(NativeDecimals)
	if !wei.IsInteger() {
		return nil, fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidAmount, amount, NativeDecimals)
	}
	return wei.BigInt(), nil
}

// FromWei converts the smallest unit back to native units.
func FromWei(wei *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(wei, -NativeDecimals)
}
