package pricing

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnits is the number of decimal places stored in Money.Amount.
const MinorUnits = 2

// DefaultCurrency is used when a label carries no currency code.
const DefaultCurrency = "KES"

// Money is an amount in minor units (cents) of an ISO 4217 currency.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// New returns Money with the given minor-unit amount.
func New(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: normalizeCurrency(currency)}
}

// FromMajor converts a whole amount in major units (e.g. 150 KES) to Money.
func FromMajor(major int64, currency string) Money {
	return New(major*100, currency)
}

// FromDecimal rounds d to minor units.
func FromDecimal(d decimal.Decimal, currency string) Money {
	return New(d.Shift(MinorUnits).Round(0).IntPart(), currency)
}

// Zero returns a zero amount in currency.
func Zero(currency string) Money {
	return New(0, currency)
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -MinorUnits)
}

// Mul multiplies the amount by a quantity, saturating at the int64 bounds.
func (m Money) Mul(quantity int) Money {
	return Money{Amount: mulAmount(m.Amount, int64(quantity)), Currency: m.Currency}
}

// Add sums two amounts. The currency of m is kept unless m has none.
func (m Money) Add(o Money) Money {
	currency := m.Currency
	if currency == "" {
		currency = o.Currency
	}
	return Money{Amount: addAmount(m.Amount, o.Amount), Currency: currency}
}

// Sub subtracts o from m.
func (m Money) Sub(o Money) Money {
	neg := -o.Amount
	if o.Amount == math.MinInt64 {
		neg = math.MaxInt64
	}
	return m.Add(Money{Amount: neg, Currency: o.Currency})
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Amount == 0
}

// String formats the amount for display, e.g. "KES 240.00".
func (m Money) String() string {
	if m.Currency == "" {
		return m.Decimal().StringFixed(MinorUnits)
	}
	return fmt.Sprintf("%s %s", m.Currency, m.Decimal().StringFixed(MinorUnits))
}

func addAmount(a, b int64) int64 {
	sum := a + b
	switch {
	case a > 0 && b > 0 && sum < 0:
		return math.MaxInt64
	case a < 0 && b < 0 && sum >= 0:
		return math.MinInt64
	}
	return sum
}

func mulAmount(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	p := a * b
	if p/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		if (a > 0) == (b > 0) {
			return math.MaxInt64
		}
		return math.MinInt64
	}
	return p
}

func normalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}
