// Package helpers provides small encoding and amount utilities shared by the
// swapcore packages.
package helpers

import (
	"fmt"
	"math/big"
	"strings"
)

// BitcoinDecimals is the number of decimals of BTC and L-BTC.
const BitcoinDecimals = 8

// FormatAmount formats an amount in smallest units as a decimal string.
// FormatAmount(100000000, 8) returns "1".
func FormatAmount(amount uint64, decimals uint8) string {
	if decimals == 0 {
		return fmt.Sprintf("%d", amount)
	}

	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(new(big.Int).SetUint64(amount), divisor, new(big.Int))
	if frac.Sign() == 0 {
		return whole.String()
	}

	fracStr := strings.TrimRight(fmt.Sprintf("%0*d", int(decimals), frac), "0")
	return whole.String() + "." + fracStr
}

// ParseAmount parses a decimal string into smallest units. Digits beyond
// the given precision are rejected rather than truncated. The result is
// unbounded so it also covers 18-decimal EVM amounts.
func ParseAmount(s string, decimals uint8) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty amount string")
	}

	wholeStr, fracStr, _ := strings.Cut(s, ".")
	if wholeStr == "" {
		wholeStr = "0"
	}
	for _, c := range wholeStr + fracStr {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("invalid character in amount: %c", c)
		}
	}
	if len(fracStr) > int(decimals) {
		return nil, fmt.Errorf("amount %s has more than %d decimals", s, decimals)
	}
	fracStr += strings.Repeat("0", int(decimals)-len(fracStr))

	amount, ok := new(big.Int).SetString(wholeStr+fracStr, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", s)
	}
	return amount, nil
}

// SatoshisToBTC converts satoshis to a coin string with 8 decimals.
func SatoshisToBTC(satoshis uint64) string {
	return FormatAmount(satoshis, BitcoinDecimals)
}
