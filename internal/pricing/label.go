package pricing

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidPrice is returned when a price label cannot be parsed strictly.
var ErrInvalidPrice = errors.New("invalid price")

var (
	// "KES 120/kg", "KES1,200", "85.50 / bunch", "60"
	labelPattern = regexp.MustCompile(`^\s*([A-Za-z]{3})?\s*([0-9][0-9,]*(?:\.[0-9]+)?)\s*(?:/\s*([A-Za-z][A-Za-z0-9 ]*?))?\s*$`)

	nonNumeric    = regexp.MustCompile(`[^0-9.]`)
	leadingNumber = regexp.MustCompile(`^(?:[0-9]+\.?[0-9]*|\.[0-9]+)`)
)

// Label is a parsed catalog price label.
type Label struct {
	Price Money
	Unit  string
}

// ParseLabel parses a display label such as "KES 120/kg" into a structured
// price and unit. defaultCurrency applies when the label has no code.
func ParseLabel(s, defaultCurrency string) (Label, error) {
	m := labelPattern.FindStringSubmatch(s)
	if m == nil {
		return Label{}, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}

	currency := m[1]
	if currency == "" {
		currency = defaultCurrency
	}

	amount, err := decimal.NewFromString(strings.ReplaceAll(m[2], ",", ""))
	if err != nil {
		return Label{}, fmt.Errorf("%w: %q: %v", ErrInvalidPrice, s, err)
	}

	return Label{
		Price: FromDecimal(amount, currency),
		Unit:  strings.TrimSpace(m[3]),
	}, nil
}

// ParseLenient extracts a numeric amount from any string by dropping every
// character that is not a digit or a decimal point and reading the longest
// leading number. Unparseable input yields zero.
func ParseLenient(s, currency string) Money {
	cleaned := nonNumeric.ReplaceAllString(s, "")
	num := leadingNumber.FindString(cleaned)
	num = strings.TrimSuffix(num, ".")
	if num == "" {
		return Zero(currency)
	}
	if strings.HasPrefix(num, ".") {
		num = "0" + num
	}

	amount, err := decimal.NewFromString(num)
	if err != nil {
		return Zero(currency)
	}
	return FromDecimal(amount, currency)
}

// FormatLabel renders a price and unit back into label form.
func FormatLabel(price Money, unit string) string {
	if unit == "" {
		return price.String()
	}
	return price.String() + "/" + unit
}
