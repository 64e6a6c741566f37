package portfolio

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ksred/novatrade/internal/types"
)

// StaleError marks data that can't be trusted for new entries
type StaleError struct {
	msg string
}

func (e *StaleError) Error() string { return e.msg }

func (e *StaleError) Stale() bool { return true }

// ErrStale is returned when the last reconciliation failed or none has succeeded yet
var ErrStale = &StaleError{msg: "portfolio snapshot is stale"}

// Snapshot is an immutable copy of the reconciled exchange balances
type Snapshot struct {
	Accounts      []types.AccountBalance     `json:"accounts"`
	QuoteCurrency string                     `json:"quote_currency"`
	Quote         decimal.Decimal            `json:"quote_balance"`
	Assets        map[string]decimal.Decimal `json:"assets"`
	SyncedAt      time.Time                  `json:"synced_at"`
	Stale         bool                       `json:"stale"`
	LastError     string                     `json:"last_error,omitempty"`
}

// FromBalances classifies exchange balances into the quote balance and assets.
// Zero balances never appear as assets.
func FromBalances(balances []types.AccountBalance, syncedAt time.Time) Snapshot {
	snap := Snapshot{
		Accounts: append([]types.AccountBalance(nil), balances...),
		Quote:    decimal.Zero,
		Assets:   make(map[string]decimal.Decimal),
		SyncedAt: syncedAt,
	}

	// quote currencies are listed in preference order
	for _, q := range types.QuoteCurrencies {
		found := false
		for _, b := range balances {
			if strings.EqualFold(b.Currency, q) {
				snap.QuoteCurrency = q
				snap.Quote = b.Available
				found = true
				break
			}
		}
		if found {
			break
		}
	}

	for _, b := range balances {
		if types.IsQuoteCurrency(b.Currency) || !b.Available.IsPositive() {
			continue
		}
		symbol := strings.ToUpper(b.Currency)
		snap.Assets[symbol] = snap.Assets[symbol].Add(b.Available)
	}
	return snap
}

// Usable returns ErrStale unless the snapshot reflects a successful sync
func (s Snapshot) Usable() error {
	if s.Stale || s.SyncedAt.IsZero() {
		return ErrStale
	}
	return nil
}

// Holds reports a nonzero balance of symbol
func (s Snapshot) Holds(symbol string) bool {
	return s.Assets[strings.ToUpper(symbol)].IsPositive()
}

// TotalValue is the quote balance plus every asset marked at prices.
// Assets without a price contribute nothing.
func (s Snapshot) TotalValue(prices map[string]float64) decimal.Decimal {
	total := s.Quote
	for symbol, amount := range s.Assets {
		if p, ok := prices[symbol]; ok {
			total = total.Add(amount.Mul(decimal.NewFromFloat(p)))
		}
	}
	return total
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Accounts = append([]types.AccountBalance(nil), s.Accounts...)
	out.Assets = make(map[string]decimal.Decimal, len(s.Assets))
	for k, v := range s.Assets {
		out.Assets[k] = v
	}
	return out
}
