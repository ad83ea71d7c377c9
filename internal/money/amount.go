// Package money models monetary values as arbitrary-precision integers of
// the currency's minor unit (ore).
package money

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxDigits bounds an amount to what a NUMERIC(38,0) column holds.
const MaxDigits = 38

var (
	// ErrNotInteger is returned for fractional or exponent notation such as "1.5", "1.0" or "1e2".
	ErrNotInteger = errors.New("amount must be an integer number of minor units")
	// ErrOutOfRange is returned when an amount has more than MaxDigits digits.
	ErrOutOfRange = fmt.Errorf("amount must have at most %d digits", MaxDigits)
)

var (
	integerText = regexp.MustCompile(`^-?[0-9]+$`)
	maxAmount   = decimal.New(1, MaxDigits).Sub(decimal.New(1, 0))
)

// Amount is an integer amount of minor currency units. The zero value is 0.
type Amount struct {
	d decimal.Decimal
}

// Zero returns a zero amount.
func Zero() Amount {
	return Amount{}
}

// FromInt64 builds an amount from an int64.
func FromInt64(n int64) Amount {
	return Amount{d: decimal.NewFromInt(n)}
}

// Parse reads a base-10 integer such as "1500" or "-20". Decimal points and
// exponents are refused before any arithmetic happens.
func Parse(s string) (Amount, error) {
	if !integerText.MatchString(s) {
		if s != "" && strings.ContainsAny(s, ".eE") {
			return Amount{}, ErrNotInteger
		}
		return Amount{}, fmt.Errorf("parse amount %q: not a base-10 integer", s)
	}
	digits := strings.TrimLeft(strings.TrimPrefix(s, "-"), "0")
	if len(digits) > MaxDigits {
		return Amount{}, ErrOutOfRange
	}
	return Amount{d: decimal.RequireFromString(s)}, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d)} }

// Cmp returns -1, 0 or +1 comparing a to b.
func (a Amount) Cmp(b Amount) int { return a.d.Cmp(b.d) }

// Equal reports whether a and b hold the same value.
func (a Amount) Equal(b Amount) bool { return a.d.Equal(b.d) }

func (a Amount) Sign() int { return a.d.Sign() }
func (a Amount) IsPositive() bool { return a.d.Sign() > 0 }
func (a Amount) IsNegative() bool { return a.d.Sign() < 0 }
func (a Amount) IsZero() bool { return a.d.Sign() == 0 }
func (a Amount) LessThan(b Amount) bool { return a.d.LessThan(b.d) }

// InRange reports whether a fits in MaxDigits digits.
func (a Amount) InRange() bool { return a.d.Abs().Cmp(maxAmount) <= 0 }

// String renders the amount as a plain integer with no exponent.
func (a Amount) String() string {
	return a.d.StringFixed(0)
}

// MarshalJSON encodes the amount as a JSON string to avoid float precision loss.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a JSON string ("100") or a JSON integer (100).
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("empty amount")
	}
	raw := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
