// Package money pins prices to an exact, fixed-scale decimal representation
// so the engine never compares floating point prices. spec.md §6 forbids
// floats for price comparison; decimal.Decimal is backed by big.Int and an
// exponent, giving exact equality and ordering.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits prices are normalized to. The
// spec calls out "4 fractional digits" as an example scale; we adopt it as
// the fixed contract for the whole book so two prices with different
// textual representations (150.00 vs 150.0000) always compare equal.
const Scale = 4

// Price is an exact, fixed-scale, non-negative decimal amount.
type Price struct {
	d decimal.Decimal
}

var Zero = Price{d: decimal.Zero}

// NewPrice validates and normalizes a decimal to Scale. Rejects non-positive
// values per spec.md §4.1's edge cases.
func NewPrice(d decimal.Decimal) (Price, error) {
	if d.Sign() <= 0 {
		return Price{}, fmt.Errorf("price must be positive, got %s", d.String())
	}
	return Price{d: d.Round(Scale)}, nil
}

// ParsePrice parses a decimal string (the wire representation) into a Price.
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, fmt.Errorf("invalid price %q: %w", s, err)
	}
	return NewPrice(d)
}

func (p Price) Decimal() decimal.Decimal { return p.d }

func (p Price) String() string { return p.d.StringFixed(Scale) }

func (p Price) Equal(o Price) bool { return p.d.Equal(o.d) }

// Less reports whether p < o using exact decimal comparison.
func (p Price) Less(o Price) bool { return p.d.LessThan(o.d) }

// LessOrEqual reports whether p <= o.
func (p Price) LessOrEqual(o Price) bool { return p.d.LessThanOrEqual(o.d) }

// GreaterOrEqual reports whether p >= o.
func (p Price) GreaterOrEqual(o Price) bool { return p.d.GreaterThanOrEqual(o.d) }

// Compare returns -1, 0 or 1 as p is less than, equal to, or greater than o.
func (p Price) Compare(o Price) int { return p.d.Cmp(o.d) }

// Value implements database/sql/driver.Valuer so a Price can be written
// directly as a query parameter.
func (p Price) Value() (driver.Value, error) {
	return p.d.Value()
}

// Scan implements sql.Scanner so a Price can be a destination in Row.Scan.
func (p *Price) Scan(value interface{}) error {
	var d decimal.Decimal
	if err := d.Scan(value); err != nil {
		return err
	}
	p.d = d.Round(Scale)
	return nil
}
