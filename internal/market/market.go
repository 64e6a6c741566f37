// Package market keeps a simulated price snapshot for the tracked coins.
// Prices drift by at most 0.1% per refresh; nothing here feeds order sizing.
package market

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ksred/novatrade/internal/types"
	"github.com/ksred/novatrade/pkg/response"
)

const (
	historyLen = 20
	maxDrift   = 0.001
)

// DefaultCoins is the tracked universe with its starting prices
var DefaultCoins = []types.Coin{
	{ID: "1", Symbol: "BTC", Name: "Bitcoin", Price: 68420.50, Change24h: 1.2, MarketCap: 1300000000000, Volume24h: 35000000000},
	{ID: "2", Symbol: "ETH", Name: "Ethereum", Price: 2640.12, Change24h: -0.5, MarketCap: 310000000000, Volume24h: 15000000000},
	{ID: "3", Symbol: "SOL", Name: "Solana", Price: 145.88, Change24h: 5.4, MarketCap: 68000000000, Volume24h: 4000000000},
	{ID: "4", Symbol: "BNB", Name: "Binance Coin", Price: 590.30, Change24h: 0.8, MarketCap: 88000000000, Volume24h: 1200000000},
	{ID: "5", Symbol: "LINK", Name: "Chainlink", Price: 12.45, Change24h: 12.1, MarketCap: 7000000000, Volume24h: 800000000},
}

// Feed holds the current market snapshot
type Feed struct {
	mu    sync.RWMutex
	coins []types.Coin
	rng   *rand.Rand
}

// NewFeed seeds each coin's history with points around its starting price
func NewFeed(coins []types.Coin, seed int64) *Feed {
	rng := rand.New(rand.NewSource(seed))
	seeded := make([]types.Coin, len(coins))
	for i, c := range coins {
		c.Symbol = strings.ToUpper(c.Symbol)
		if len(c.History) == 0 {
			c.History = make([]float64, historyLen)
			for j := range c.History {
				c.History[j] = c.Price * (0.99 + rng.Float64()*0.02)
			}
		}
		seeded[i] = c
	}
	return &Feed{coins: seeded, rng: rng}
}

// Refresh moves every price by a random step of at most ±0.1% and appends
// the previous price to the rolling history
func (f *Feed) Refresh() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.coins {
		c := &f.coins[i]
		history := append(c.History, c.Price)
		if len(history) > historyLen {
			history = history[len(history)-historyLen:]
		}
		c.History = history
		c.Price = c.Price * (1 + (f.rng.Float64()*2*maxDrift - maxDrift))
	}
}

// Snapshot returns a deep copy of the coins
func (f *Feed) Snapshot() []types.Coin {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]types.Coin, len(f.coins))
	for i, c := range f.coins {
		c.History = append([]float64(nil), c.History...)
		out[i] = c
	}
	return out
}

// Prices maps symbol to the latest price
func (f *Feed) Prices() map[string]float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	prices := make(map[string]float64, len(f.coins))
	for _, c := range f.coins {
		prices[c.Symbol] = c.Price
	}
	return prices
}

// Start refreshes the snapshot every interval until ctx is done
func (f *Feed) Start(ctx context.Context, interval time.Duration) {
	logger := log.With().Str("component", "market_feed").Logger()
	logger.Info().Dur("interval", interval).Msg("starting market data refresh")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down market data refresh")
			return
		case <-ticker.C:
			f.Refresh()
		}
	}
}

// GinHandlers contains HTTP handlers for market data endpoints
type GinHandlers struct {
	feed *Feed
}

func NewGinHandlers(feed *Feed) *GinHandlers {
	return &GinHandlers{feed: feed}
}

func (h *GinHandlers) GetMarketHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, gin.H{"coins": h.feed.Snapshot()})
	}
}
