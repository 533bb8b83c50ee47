// Package core holds the budgeting engine: monetary arithmetic, accounting
// period resolution, account balance aggregation and year-end projection.
//
// Every monetary value is a shopspring decimal. Sums stay exact; rounding to
// Precision significant digits happens only when a value crosses the package
// boundary through ToNumber.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Precision is the number of significant digits kept when rounding monetary
// results. Rounding is half-up.
const Precision = 20

// Direction classifies a transaction amount. Amounts are stored as positive
// magnitudes; the direction decides the sign applied during aggregation.
type Direction string

const (
	// Income adds to an account balance.
	Income Direction = "income"
	// Expense subtracts from an account balance.
	Expense Direction = "expense"
	// Refund is a reversal of an expense: it adds to the balance but is
	// tracked against an expense item.
	Refund Direction = "refund"
)

// Amount is a tagged monetary amount: a positive magnitude plus the direction
// it moves money in. Keeping the sign out of the number makes the aggregation
// math independent from category classification.
type Amount struct {
	Magnitude decimal.Decimal
	Direction Direction
}

// Signed resolves the amount to a signed decimal: income and refunds are
// positive, expenses negative.
func (a Amount) Signed() decimal.Decimal {
	if a.Direction == Expense {
		return a.Magnitude.Neg()
	}
	return a.Magnitude
}

func (a Amount) Validate() error {
	if a.Magnitude.Sign() <= 0 {
		return ErrInvalidAmount
	}
	switch a.Direction {
	case Income, Expense, Refund:
		return nil
	default:
		return ErrInvalidDirection
	}
}

// ParseAmount converts a decimal string into an exact decimal value.
//
// It accepts both dot (12.34) and comma (12,34) separators. Signs are not
// allowed: direction is carried separately (see Amount). Zero and negative
// values are rejected.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' {
			return decimal.Zero, ErrInvalidAmount
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if d.Sign() <= 0 {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParseBalance converts a decimal string into an exact decimal value. Unlike
// ParseAmount it admits zero and a leading minus sign: anchor balances may
// legitimately be negative (an overdrawn account at year start).
func ParseBalance(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// RoundSignificant rounds d half-up to the given number of significant digits.
// Values that already fit are returned unchanged.
func RoundSignificant(d decimal.Decimal, digits int32) decimal.Decimal {
	nd := int32(d.NumDigits())
	if nd <= digits {
		return d
	}
	// Round at the decimal place that leaves `digits` significant digits.
	return d.Round(-d.Exponent() - (nd - digits))
}

// ToNumber converts a decimal to a plain float64 for the response boundary.
// Never feed the result back into balance math.
func ToNumber(d decimal.Decimal) float64 {
	f, _ := RoundSignificant(d, Precision).Float64()
	return f
}
