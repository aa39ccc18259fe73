// Package units converts between human-readable ether amounts and wei.
package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned for malformed, negative or oversized amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	weiPerEther = decimal.New(params.Ether, 0)
	weiPerGwei  = decimal.New(params.GWei, 0)
)

// ParseEther parses a decimal ether amount such as "0.25" into wei.
// Amounts with more than 18 fractional digits are rejected rather than rounded.
func ParseEther(s string) (*big.Int, error) {
	return parseScaled(s, weiPerEther, 18)
}

// ParseGwei parses a decimal gwei amount into wei.
func ParseGwei(s string) (*big.Int, error) {
	return parseScaled(s, weiPerGwei, 9)
}

// ParseWei parses an integer wei amount.
func ParseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidAmount, s)
	}
	if err := check(v); err != nil {
		return nil, err
	}
	return v, nil
}

func parseScaled(s string, scale decimal.Decimal, maxDecimals int32) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	if -d.Exponent() > maxDecimals {
		// Trailing zeros do not count as precision.
		if !d.Equal(d.Truncate(maxDecimals)) {
			return nil, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidAmount, s, maxDecimals)
		}
	}
	v := d.Mul(scale).BigInt()
	if err := check(v); err != nil {
		return nil, err
	}
	return v, nil
}

func check(v *big.Int) error {
	if v.Sign() < 0 {
		return fmt.Errorf("%w: negative value %s", ErrInvalidAmount, v)
	}
	if !FitsUint256(v) {
		return fmt.Errorf("%w: %s overflows 256 bits", ErrInvalidAmount, v)
	}
	return nil
}

// FitsUint256 reports whether v can be carried in a transaction value field.
func FitsUint256(v *big.Int) bool {
	if v == nil || v.Sign() < 0 {
		return false
	}
	_, overflow := uint256.FromBig(v)
	return !overflow
}

// FormatEther renders wei as ether without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -18).String()
}

// FormatGwei renders wei as gwei without trailing zeros.
func FormatGwei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -9).String()
}
