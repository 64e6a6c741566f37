package types

import "time"

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell || a == ActionHold
}

type Sentiment string

const (
	SentimentBullish Sentiment = "BULLISH"
	SentimentBearish Sentiment = "BEARISH"
	SentimentNeutral Sentiment = "NEUTRAL"
)

// TradeSignal is one recommendation from the reasoning service
type TradeSignal struct {
	Symbol     string      `json:"symbol"`
	Action     Action      `json:"action"`
	Confidence float64     `json:"confidence"` // 0-100
	Reasoning  string      `json:"reasoning"`
	Target     float64     `json:"target"`
	StopLoss   *float64    `json:"stopLoss,omitempty"`
	EntryRange *[2]float64 `json:"entryRange,omitempty"`
}

// Analysis is the full output of one reasoning call
type Analysis struct {
	Timestamp       time.Time     `json:"timestamp"`
	MarketSentiment Sentiment     `json:"marketSentiment"`
	TopPick         string        `json:"topPick"`
	Signals         []TradeSignal `json:"signals"`
}

// Coin is the market snapshot entry for one tracked asset
type Coin struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	Change24h float64   `json:"change24h"`
	MarketCap float64   `json:"marketCap"`
	Volume24h float64   `json:"volume24h"`
	History   []float64 `json:"history"`
}
