package domain

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// etherDecimals is the fixed-point scale of wei amounts.
const etherDecimals = 18

// Ether is 1e18 wei.
var Ether = uint256.NewInt(1_000_000_000_000_000_000)

// Zero returns a fresh zero amount.
func Zero() *uint256.Int { return new(uint256.Int) }

// Add returns a+b or ErrOverflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Sub returns a-b or ErrOverflow when b > a.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// MulDiv returns x*y/d, failing with ErrOverflow when the product does not
// fit in 256 bits. d must be non-zero.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("muldiv: %w", ErrInvalidArgument)
	}
	p, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return p.Div(p, d), nil
}

// ParseAmount parses a base-10 wei amount. An empty string is zero.
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return Zero(), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, ErrInvalidArgument)
	}
	return v, nil
}

// FormatEther renders a wei amount as a decimal ether string.
func FormatEther(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return decimal.NewFromBigInt(x.ToBig(), -etherDecimals).String()
}

// AmountString renders a possibly-nil amount in base 10.
func AmountString(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}
