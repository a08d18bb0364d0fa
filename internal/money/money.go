// Package money provides an exact, fixed-scale currency type. Engine code
// must never carry currency across a package boundary as a float; Money
// converts to float64 only at the final ratio/percentage computation.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places transactions are stored at.
const Scale = 2

// Money wraps a decimal.Decimal rounded to Scale places on every
// construction and arithmetic result.
type Money struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Money{d: decimal.Zero}

// New builds a Money from a string like "1234.56". Returns an error on
// malformed input; callers at system boundaries (HTTP bodies, CSV imports)
// should surface that as a validation error.
func New(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return Money{d: d.Round(Scale)}, nil
}

// FromFloat constructs Money from a float64. Reserved for boundary
// conversions (e.g. config-supplied thresholds); never round-trip ledger
// amounts through float64.
func FromFloat(f float64) Money {
	return Money{d: decimal.NewFromFloat(f).Round(Scale)}
}

// FromCents constructs Money from an integer minor-unit count.
func FromCents(cents int64) Money {
	return Money{d: decimal.New(cents, -int32(Scale))}
}

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d).Round(Scale)} }
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d).Round(Scale)} }

// MulInt multiplies by an integer factor (e.g. a transaction count).
func (m Money) MulInt(n int) Money {
	return Money{d: m.d.Mul(decimal.NewFromInt(int64(n))).Round(Scale)}
}

// MulFrac multiplies by a fraction (e.g. a period-completeness ratio).
func (m Money) MulFrac(frac float64) Money {
	return Money{d: m.d.Mul(decimal.NewFromFloat(frac)).Round(Scale)}
}

func (m Money) Neg() Money { return Money{d: m.d.Neg()} }

func (m Money) IsZero() bool     { return m.d.IsZero() }
func (m Money) IsPositive() bool { return m.d.IsPositive() }
func (m Money) IsNegative() bool { return m.d.IsNegative() }

func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }
func (m Money) LessThan(o Money) bool    { return m.d.LessThan(o.d) }
func (m Money) Equal(o Money) bool       { return m.d.Equal(o.d) }

// Float64 converts to a float64. This is the only sanctioned way out of
// Money; use it exclusively for the final percentage/ratio display value.
func (m Money) Float64() float64 {
	f, _ := m.d.Float64()
	return f
}

func (m Money) String() string { return m.d.StringFixed(Scale) }

// VariancePercent computes (current-baseline)/baseline*100 as a float,
// returning defined=false when baseline is zero so callers funnel every
// divide-by-zero case through one place instead of special-casing it.
func VariancePercent(current, baseline Money) (pct float64, defined bool) {
	if baseline.IsZero() {
		return 0, false
	}
	diff := current.Sub(baseline)
	ratio := diff.d.Div(baseline.d)
	f, _ := ratio.Float64()
	return f * 100, true
}

// SharePercent computes numerator/denominator*100 with a fixed
// zero-denominator convention: 0/0 -> 0%, n>0/0 -> 100%.
func SharePercent(numerator, denominator Money) float64 {
	if denominator.IsZero() {
		if numerator.IsZero() {
			return 0
		}
		return 100
	}
	f, _ := numerator.d.Div(denominator.d).Float64()
	return f * 100
}

// Value implements driver.Valuer so Money can be written directly by sqlx.
func (m Money) Value() (driver.Value, error) {
	return m.d.StringFixed(Scale), nil
}

// Scan implements sql.Scanner so Money can be read directly by sqlx from a
// numeric/decimal column.
func (m *Money) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		m.d = decimal.Zero
		return nil
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return fmt.Errorf("money: scan %q: %w", v, err)
		}
		m.d = d.Round(Scale)
		return nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("money: scan %q: %w", v, err)
		}
		m.d = d.Round(Scale)
		return nil
	case float64:
		m.d = decimal.NewFromFloat(v).Round(Scale)
		return nil
	default:
		return fmt.Errorf("money: unsupported scan type %T", src)
	}
}
