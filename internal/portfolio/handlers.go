package portfolio

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ksred/novatrade/internal/types"
	"github.com/ksred/novatrade/pkg/response"
)

// PriceSource provides the latest market price per symbol for valuation
type PriceSource interface {
	Prices() map[string]float64
}

// GinHandlers contains HTTP handlers for portfolio endpoints
type GinHandlers struct {
	state  *State
	prices PriceSource
}

func NewGinHandlers(state *State, prices PriceSource) *GinHandlers {
	return &GinHandlers{
		state:  state,
		prices: prices,
	}
}

// GetPortfolioHandler serves the last reconciled snapshot. A snapshot that was
// never synchronized is reported as unavailable; a stale one is still served
// with its stale flag set.
func (h *GinHandlers) GetPortfolioHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := h.state.Snapshot()
		if snap.SyncedAt.IsZero() {
			msg := "portfolio has not been synchronized yet"
			if snap.LastError != "" {
				msg = snap.LastError
			}
			response.Fail(c, http.StatusServiceUnavailable, response.ErrCodeStaleData, msg)
			return
		}

		var prices map[string]float64
		if h.prices != nil {
			prices = h.prices.Prices()
		}

		accounts := snap.Accounts
		if accounts == nil {
			accounts = []types.AccountBalance{}
		}
		response.Success(c, gin.H{
			"accounts":       accounts,
			"quote_currency": snap.QuoteCurrency,
			"quote_balance":  snap.Quote,
			"assets":         snap.Assets,
			"total_value":    snap.TotalValue(prices),
			"stale":          snap.Stale,
			"last_error":     snap.LastError,
			"synced_at":      snap.SyncedAt,
		})
	}
}
