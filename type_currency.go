package folio

import (
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
)

// Currency is a quote currency: the currency prices are requested in and
// portfolios are valued in.
type Currency string

const (
	EUR Currency = "EUR"
	USD Currency = "USD"
)

// Currencies lists the supported quote currencies.
var Currencies = []Currency{EUR, USD}

// ParseCurrency parses a quote currency, case-insensitively.
func ParseCurrency(s string) (Currency, error) {
	switch c := Currency(strings.ToUpper(strings.TrimSpace(s))); c {
	case EUR, USD:
		return c, nil
	default:
		return "", invalid("currency", fmt.Sprintf("unsupported quote currency %q", s))
	}
}

func (c Currency) String() string { return string(c) }

// ValidateCurrency checks that code is a known ISO 4217 currency code.
func ValidateCurrency(code string) error {
	if code == "" {
		return invalid("currency", "currency is missing")
	}
	if money.GetCurrency(code) == nil {
		return invalid("currency", fmt.Sprintf("unknown currency %q", code))
	}
	return nil
}
