package trading

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/novatrade/internal/exchange"
	"github.com/ksred/novatrade/internal/portfolio"
	"github.com/ksred/novatrade/internal/types"
	"github.com/ksred/novatrade/pkg/response"
)

// ErrInvalidTrade marks a manual trade request that fails validation
var ErrInvalidTrade = errors.New("invalid trade request")

// OrderPlacer submits market orders to the exchange
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, order types.OrderRequest) (*types.OrderResult, error)
}

// Syncer schedules an out-of-cycle portfolio reconciliation
type Syncer interface {
	TriggerSync()
}

// Service places orders for approved signals and manual trades and journals
// every attempt. Order placement is serialized across both paths.
type Service struct {
	placer  OrderPlacer
	journal *Journal
	syncer  Syncer
	policy  Policy
	now     func() time.Time

	execMu sync.Mutex
}

// NewService creates a trading service. syncer may be nil.
func NewService(placer OrderPlacer, journal *Journal, syncer Syncer, policy Policy) *Service {
	return &Service{
		placer:  placer,
		journal: journal,
		syncer:  syncer,
		policy:  policy,
		now:     time.Now,
	}
}

func (s *Service) Policy() Policy {
	return s.policy
}

// Execute evaluates signals one at a time against a cycle-local copy of snap
// and places a BUY for each approved one. A fill or an ambiguous failure
// commits the notional to the local view; a definitive rejection does not.
// Nothing is retried.
func (s *Service) Execute(ctx context.Context, signals []types.TradeSignal, snap portfolio.Snapshot, prices map[string]float64) Report {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	logger := log.With().Str("component", "executor").Logger()

	view := commitView(snap)
	report := Report{Decisions: make([]Decision, 0, len(signals))}

	for _, signal := range signals {
		d := s.policy.Evaluate(signal, view, prices)
		report.Decisions = append(report.Decisions, d)
		if !d.Act {
			logger.Debug().
				Str("symbol", signal.Symbol).
				Str("action", string(signal.Action)).
				Float64("confidence", signal.Confidence).
				Str("reason", string(d.Reason)).
				Msg("signal skipped")
			continue
		}

		symbol := strings.ToUpper(signal.Symbol)
		order := types.NewBuyOrder(symbol, s.policy.Notional)
		if snap.QuoteCurrency != "" {
			// spend the currency the balance guard checked
			order.ProductID = exchange.ProductID(symbol, snap.QuoteCurrency)
		}
		record := s.newRecord(order, types.SourceAuto, signal.Reasoning)
		record.Confidence = signal.Confidence
		record.EntryPrice = prices[symbol]
		record.EstimatedUnits = estimateUnits(s.policy.Notional, record.EntryPrice)

		result, err := s.place(ctx, order, &record)
		report.Attempts = append(report.Attempts, Attempt{Record: record, Err: err})

		if err == nil || exchange.IsAmbiguous(err) {
			s.policy.commit(&view, symbol)
		}
		if err != nil {
			logger.Warn().Err(err).
				Str("symbol", symbol).
				Str("client_order_id", order.ClientOrderID).
				Str("kind", string(exchange.KindOf(err))).
				Msg("automatic order failed")
			continue
		}

		logger.Info().
			Str("symbol", symbol).
			Str("order_id", result.OrderID).
			Str("notional", s.policy.Notional.String()).
			Float64("confidence", signal.Confidence).
			Msg("automatic order filled")
	}
	return report
}

// PlaceManual places a user-requested order outside the policy. A BUY amount
// is quote currency to spend, a SELL amount is base units to sell.
func (s *Service) PlaceManual(ctx context.Context, req ManualTradeRequest) (*types.OrderResult, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ErrInvalidTrade)
	}
	side, ok := types.ParseSide(req.Side)
	if !ok {
		return nil, fmt.Errorf("%w: side must be BUY or SELL", ErrInvalidTrade)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidTrade)
	}

	var order types.OrderRequest
	if side == types.SideBuy {
		order = types.NewBuyOrder(symbol, req.Amount)
	} else {
		order = types.NewSellOrder(symbol, req.Amount)
	}
	order.ProductID = strings.TrimSpace(req.ProductID)

	rationale := req.Reason
	if rationale == "" {
		rationale = "manual trade"
	}

	s.execMu.Lock()
	defer s.execMu.Unlock()

	record := s.newRecord(order, types.SourceManual, rationale)
	result, err := s.place(ctx, order, &record)
	if err != nil {
		log.Warn().Err(err).
			Str("component", "executor").
			Str("symbol", symbol).
			Str("side", string(side)).
			Msg("manual order failed")
		return nil, err
	}

	log.Info().
		Str("component", "executor").
		Str("symbol", symbol).
		Str("side", string(side)).
		Str("order_id", result.OrderID).
		Msg("manual order filled")
	return result, nil
}

// Trades lists journaled attempts, newest first
func (s *Service) Trades(symbol string, limit int) ([]types.TradeRecord, error) {
	return s.journal.List(symbol, limit)
}

// Trade looks up one journal entry by client order id; nil when unknown
func (s *Service) Trade(clientOrderID string) (*types.TradeRecord, error) {
	return s.journal.GetByClientOrderID(clientOrderID)
}

// place submits order, journals the outcome and triggers a resync on success
func (s *Service) place(ctx context.Context, order types.OrderRequest, record *types.TradeRecord) (*types.OrderResult, error) {
	result, err := s.placer.PlaceOrder(ctx, order)

	record.CreatedAt = s.now()
	if err != nil {
		record.Outcome = types.OutcomeFailed
		record.FailureReason = err.Error()
	} else {
		record.Outcome = types.OutcomeFilled
		record.OrderID = result.OrderID
	}

	if jerr := s.journal.Append(record); jerr != nil {
		log.Error().Err(jerr).
			Str("component", "executor").
			Str("client_order_id", record.ClientOrderID).
			Msg("failed to journal trade")
	}

	if err == nil && s.syncer != nil {
		s.syncer.TriggerSync()
	}
	return result, err
}

func (s *Service) newRecord(order types.OrderRequest, source types.TradeSource, rationale string) types.TradeRecord {
	return types.TradeRecord{
		ID:            uuid.New().String(),
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Notional:      order.Size().String(),
		Rationale:     rationale,
		Source:        source,
	}
}

func estimateUnits(notional decimal.Decimal, price float64) float64 {
	if price <= 0 {
		return 0
	}
	units, _ := notional.Div(decimal.NewFromFloat(price)).Float64()
	return units
}

// GinHandlers contains HTTP handlers for trading endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateTradeHandler handles POST /api/trade
// Request body: {symbol, side, amount, product_id?}
func (h *GinHandlers) CreateTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ManualTradeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.PlaceManual(c.Request.Context(), req)
		if errors.Is(err, ErrInvalidTrade) {
			response.BadRequest(c, err.Error())
			return
		}
		response.Handle(c, "order", order, err)
	}
}

// ListTradesHandler handles GET /api/trades?symbol=&limit=
func (h *GinHandlers) ListTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				response.BadRequest(c, "limit must be a non-negative integer")
				return
			}
			limit = n
		}

		trades, err := h.service.Trades(c.Query("symbol"), limit)
		if err != nil {
			response.InternalError(c, "failed to load trades")
			return
		}
		response.Success(c, gin.H{"trades": trades})
	}
}

// GetTradeHandler handles GET /api/trades/:client_order_id
func (h *GinHandlers) GetTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("client_order_id")
		trade, err := h.service.Trade(id)
		if err != nil {
			response.InternalError(c, "failed to load trade")
			return
		}
		if trade == nil {
			response.NotFound(c, "no trade with client order id "+id)
			return
		}
		response.Success(c, gin.H{"trade": trade})
	}
}
