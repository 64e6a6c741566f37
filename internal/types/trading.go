package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts BUY or SELL in any case
func ParseSide(s string) (Side, bool) {
	switch Side(upper(s)) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	}
	return "", false
}

// OrderRequest is a market order for a fixed notional. The size field is only
// reachable through the side-specific accessors so a BUY can never carry a base
// size and a SELL can never carry a quote size.
type OrderRequest struct {
	Symbol        string
	Side          Side
	ClientOrderID string
	// ProductID overrides the default "{symbol}-{quote}" product when set
	ProductID string

	size decimal.Decimal
}

// NewBuyOrder spends quoteSize of the quote currency on symbol
func NewBuyOrder(symbol string, quoteSize decimal.Decimal) OrderRequest {
	return OrderRequest{
		Symbol:        symbol,
		Side:          SideBuy,
		ClientOrderID: uuid.New().String(),
		size:          quoteSize,
	}
}

// NewSellOrder sells baseSize units of symbol
func NewSellOrder(symbol string, baseSize decimal.Decimal) OrderRequest {
	return OrderRequest{
		Symbol:        symbol,
		Side:          SideSell,
		ClientOrderID: uuid.New().String(),
		size:          baseSize,
	}
}

// QuoteSize is set for BUY orders only
func (o OrderRequest) QuoteSize() (decimal.Decimal, bool) {
	if o.Side != SideBuy {
		return decimal.Zero, false
	}
	return o.size, true
}

// BaseSize is set for SELL orders only
func (o OrderRequest) BaseSize() (decimal.Decimal, bool) {
	if o.Side != SideSell {
		return decimal.Zero, false
	}
	return o.size, true
}

// Size returns the notional regardless of side
func (o OrderRequest) Size() decimal.Decimal {
	return o.size
}

// OrderResult is the exchange's acknowledgement of an accepted order
type OrderResult struct {
	OrderID       string `json:"order_id"`
	ProductID     string `json:"product_id"`
	Side          Side   `json:"side"`
	ClientOrderID string `json:"client_order_id"`
}

type TradeSource string

const (
	SourceAuto   TradeSource = "AUTO"
	SourceManual TradeSource = "MANUAL"
)

type TradeOutcome string

const (
	OutcomeFilled TradeOutcome = "FILLED"
	OutcomeFailed TradeOutcome = "FAILED"
)

// TradeRecord is an append-only audit entry for one order attempt
type TradeRecord struct {
	ID             string       `gorm:"primaryKey" json:"id"`
	ClientOrderID  string       `gorm:"uniqueIndex" json:"client_order_id"`
	OrderID        string       `json:"order_id,omitempty"`
	Symbol         string       `gorm:"index" json:"symbol"`
	Side           Side         `json:"side"`
	Notional       string       `json:"notional"`
	EntryPrice     float64      `json:"entry_price,omitempty"`
	EstimatedUnits float64      `json:"estimated_units,omitempty"`
	Confidence     float64      `json:"confidence,omitempty"`
	Rationale      string       `json:"rationale"`
	Source         TradeSource  `json:"source"`
	Outcome        TradeOutcome `json:"outcome"`
	FailureReason  string       `json:"failure_reason,omitempty"`
	CreatedAt      time.Time    `gorm:"index" json:"timestamp"`
}
