package trading

import (
	"github.com/shopspring/decimal"

	"github.com/ksred/novatrade/internal/types"
)

// Policy holds the risk parameters of automatic execution
type Policy struct {
	// Threshold is the minimum confidence (0-100) a BUY signal needs
	Threshold float64
	// Notional is the fixed quote-currency amount spent per trade
	Notional decimal.Decimal
}

type SkipReason string

const (
	SkipNotBuy            SkipReason = "action is not BUY"
	SkipLowConfidence     SkipReason = "confidence below threshold"
	SkipStalePortfolio    SkipReason = "portfolio snapshot is stale"
	SkipUnknownSymbol     SkipReason = "symbol not in market snapshot"
	SkipAlreadyHeld       SkipReason = "position already open"
	SkipInsufficientQuote SkipReason = "insufficient quote balance"
)

// Decision is the policy verdict for one signal. Reason is empty when Act is set.
type Decision struct {
	Signal types.TradeSignal `json:"signal"`
	Act    bool              `json:"act"`
	Reason SkipReason        `json:"reason,omitempty"`
}

// Attempt is one order placed during a cycle
type Attempt struct {
	Record types.TradeRecord
	Err    error
}

// Report summarizes one execution pass
type Report struct {
	Decisions []Decision
	Attempts  []Attempt
}

// Filled counts attempts the exchange accepted
func (r Report) Filled() int {
	n := 0
	for _, a := range r.Attempts {
		if a.Err == nil {
			n++
		}
	}
	return n
}

// ManualTradeRequest is the body of POST /api/trade
type ManualTradeRequest struct {
	Symbol    string          `json:"symbol" binding:"required"`
	Side      string          `json:"side" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	ProductID string          `json:"product_id"`
	Reason    string          `json:"reason"`
}
