package payroll

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var errNotAmount = errors.New("not a number")

// ParseAmount reads a money or quantity cell. Blank cells are zero; "$" and
// thousands separators are accepted. Formulas are rejected because cached
// values are not evaluated.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, nil
	}
	if strings.HasPrefix(s, "=") {
		return decimal.Zero, errors.New("formulas are not evaluated")
	}
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errNotAmount
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

// Cents rounds half away from zero to two decimals.
func Cents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Money renders an amount as "$1234.50".
func Money(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-$" + d.Neg().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}
