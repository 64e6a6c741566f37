package trading

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ksred/novatrade/internal/portfolio"
	"github.com/ksred/novatrade/internal/types"
)

// Evaluate applies the entry rules to one signal against a portfolio view.
// prices holds the current market snapshot; a symbol without a price is unknown.
// It does no I/O.
func (p Policy) Evaluate(signal types.TradeSignal, snap portfolio.Snapshot, prices map[string]float64) Decision {
	d := Decision{Signal: signal}
	symbol := strings.ToUpper(signal.Symbol)

	switch {
	case signal.Action != types.ActionBuy:
		d.Reason = SkipNotBuy
	case !(signal.Confidence >= p.Threshold):
		// also catches a NaN confidence or threshold
		d.Reason = SkipLowConfidence
	case snap.Usable() != nil:
		d.Reason = SkipStalePortfolio
	case !known(prices, symbol):
		d.Reason = SkipUnknownSymbol
	case snap.Holds(symbol):
		d.Reason = SkipAlreadyHeld
	case snap.Quote.LessThan(p.Notional):
		d.Reason = SkipInsufficientQuote
	default:
		d.Act = true
	}
	return d
}

// commit deducts the notional and marks symbol held in a cycle-local view
func (p Policy) commit(view *portfolio.Snapshot, symbol string) {
	view.Quote = view.Quote.Sub(p.Notional)
	symbol = strings.ToUpper(symbol)
	if !view.Assets[symbol].IsPositive() {
		// actual units are unknown until the next sync
		view.Assets[symbol] = p.Notional
	}
}

// commitView copies snap so commits never reach the shared state
func commitView(snap portfolio.Snapshot) portfolio.Snapshot {
	view := snap
	view.Assets = make(map[string]decimal.Decimal, len(snap.Assets))
	for k, v := range snap.Assets {
		view.Assets[k] = v
	}
	return view
}

func known(prices map[string]float64, symbol string) bool {
	p, ok := prices[symbol]
	return ok && p > 0
}
