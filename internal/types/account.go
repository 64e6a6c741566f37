package types

import (
	"strings"

	"github.com/shopspring/decimal"
)

// QuoteCurrencies are the settlement currencies recognised in the account list
var QuoteCurrencies = []string{"USDT", "USD"}

// IsQuoteCurrency reports whether currency settles trades rather than being an asset
func IsQuoteCurrency(currency string) bool {
	c := upper(currency)
	for _, q := range QuoteCurrencies {
		if c == q {
			return true
		}
	}
	return false
}

// AccountBalance is one currency line of the exchange ledger
type AccountBalance struct {
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"balance"`
	Hold      decimal.Decimal `json:"hold"`
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
