// Package sandbox is an in-memory stand-in for the brokerage REST API. It
// verifies request tokens the way the real exchange does and fills market
// orders against local balances at fixed prices.
package sandbox

import (
	"crypto/ecdsa"
	"encoding/json"
	"math/rand"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/novatrade/internal/auth"
)

const (
	accountsPath = "/api/v3/brokerage/accounts"
	ordersPath   = "/api/v3/brokerage/orders"
)

// Order is a filled sandbox order
type Order struct {
	OrderID       string          `json:"order_id"`
	ClientOrderID string          `json:"client_order_id"`
	ProductID     string          `json:"product_id"`
	Side          string          `json:"side"`
	QuoteSize     decimal.Decimal `json:"quote_size"`
	BaseSize      decimal.Decimal `json:"base_size"`
	Price         decimal.Decimal `json:"price"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Exchange holds balances, prices and the replay cache
type Exchange struct {
	mu       sync.Mutex
	pub      *ecdsa.PublicKey
	host     string
	quote    string
	balances map[string]decimal.Decimal
	prices   map[string]decimal.Decimal
	nonces   map[string]time.Time
	orders   map[string]*Order // by client_order_id
	history  []*Order

	pageSize   int
	minLatency time.Duration
	maxLatency time.Duration
	failNext   int
	failStatus int

	accountCalls int
	orderCalls   int
}

// New creates a sandbox that accepts tokens signed by the key matching pub
func New(pub *ecdsa.PublicKey, host, quote string) *Exchange {
	return &Exchange{
		pub:      pub,
		host:     host,
		quote:    strings.ToUpper(quote),
		balances: make(map[string]decimal.Decimal),
		prices:   make(map[string]decimal.Decimal),
		nonces:   make(map[string]time.Time),
		orders:   make(map[string]*Order),
	}
}

func (e *Exchange) SetBalance(currency, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances[strings.ToUpper(currency)] = decimal.RequireFromString(value)
}

func (e *Exchange) Balance(currency string) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balances[strings.ToUpper(currency)]
}

func (e *Exchange) SetPrice(symbol, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[strings.ToUpper(symbol)] = decimal.RequireFromString(value)
}

// SetPageSize caps the number of accounts returned per page
func (e *Exchange) SetPageSize(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pageSize = n
}

// SetLatency delays every response by a random duration in [min, max]
func (e *Exchange) SetLatency(lo, hi time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.minLatency, e.maxLatency = lo, hi
}

// FailNext makes the next n requests answer with status
func (e *Exchange) FailNext(n, status int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNext, e.failStatus = n, status
}

// Orders returns filled orders in submission order
func (e *Exchange) Orders() []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Order, 0, len(e.history))
	for _, o := range e.history {
		out = append(out, *o)
	}
	return out
}

// Calls returns how many account and order requests reached the handlers
func (e *Exchange) Calls() (accounts, orders int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accountCalls, e.orderCalls
}

// Handler returns the HTTP surface of the sandbox
func (e *Exchange) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), e.simulateNetwork(), e.authenticate())
	router.GET(accountsPath, e.listAccounts)
	router.POST(ordersPath, e.createOrder)
	return router
}

func (e *Exchange) simulateNetwork() gin.HandlerFunc {
	return func(c *gin.Context) {
		e.mu.Lock()
		lo, hi := e.minLatency, e.maxLatency
		fail := e.failNext > 0
		status := e.failStatus
		if fail {
			e.failNext--
		}
		e.mu.Unlock()

		if hi > 0 {
			latency := lo
			if hi > lo {
				latency += time.Duration(rand.Int63n(int64(hi - lo)))
			}
			select {
			case <-time.After(latency):
			case <-c.Request.Context().Done():
				c.Abort()
				return
			}
		}

		if fail {
			c.AbortWithStatusJSON(status, gin.H{"error": "UNAVAILABLE", "message": "injected failure"})
			return
		}
		c.Next()
	}
}

func (e *Exchange) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		bearer := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
		if len(bearer) != 2 || !strings.EqualFold(bearer[0], "bearer") {
			unauthenticated(c, "missing bearer token")
			return
		}

		claims, nonce, err := auth.ValidateToken(bearer[1], e.pub)
		if err != nil {
			unauthenticated(c, "invalid token: "+err.Error())
			return
		}

		if claims.URI != auth.BuildURI(c.Request.Method, e.host, c.Request.URL.Path) {
			unauthenticated(c, "token uri does not match request")
			return
		}

		e.mu.Lock()
		_, replayed := e.nonces[nonce]
		if !replayed {
			e.nonces[nonce] = claims.ExpiresAt.Time
		}
		for n, exp := range e.nonces {
			if time.Now().After(exp) {
				delete(e.nonces, n)
			}
		}
		e.mu.Unlock()

		if replayed {
			unauthenticated(c, "token nonce already used")
			return
		}
		c.Next()
	}
}

func unauthenticated(c *gin.Context, msg string) {
	log.Debug().Str("component", "sandbox").Str("path", c.Request.URL.Path).Msg(msg)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHENTICATED", "message": msg})
}

func (e *Exchange) listAccounts(c *gin.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accountCalls++

	currencies := make([]string, 0, len(e.balances))
	for cur := range e.balances {
		currencies = append(currencies, cur)
	}
	sort.Strings(currencies)

	limit := len(currencies)
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l < limit {
		limit = l
	}
	if e.pageSize > 0 && e.pageSize < limit {
		limit = e.pageSize
	}
	start, _ := strconv.Atoi(c.Query("cursor"))
	if start > len(currencies) {
		start = len(currencies)
	}
	end := start + limit
	if end > len(currencies) {
		end = len(currencies)
	}

	accounts := make([]gin.H, 0, end-start)
	for _, cur := range currencies[start:end] {
		accounts = append(accounts, gin.H{
			"uuid":              uuid.NewSHA1(uuid.NameSpaceOID, []byte(cur)).String(),
			"currency":          cur,
			"available_balance": gin.H{"value": e.balances[cur].String(), "currency": cur},
			"hold":              gin.H{"value": "0", "currency": cur},
		})
	}

	hasNext := end < len(currencies)
	cursor := ""
	if hasNext {
		cursor = strconv.Itoa(end)
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts, "has_next": hasNext, "cursor": cursor, "size": len(accounts)})
}

type orderRequest struct {
	ClientOrderID      string `json:"client_order_id"`
	ProductID          string `json:"product_id"`
	Side               string `json:"side"`
	OrderConfiguration struct {
		MarketMarketIOC *struct {
			QuoteSize string `json:"quote_size"`
			BaseSize  string `json:"base_size"`
		} `json:"market_market_ioc"`
	} `json:"order_configuration"`
}

func (e *Exchange) createOrder(c *gin.Context) {
	var req orderRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		invalidArgument(c, "malformed order body")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.orderCalls++

	if req.ClientOrderID == "" {
		invalidArgument(c, "client_order_id is required")
		return
	}
	if existing, ok := e.orders[req.ClientOrderID]; ok {
		orderAccepted(c, existing)
		return
	}

	ioc := req.OrderConfiguration.MarketMarketIOC
	if ioc == nil {
		invalidArgument(c, "market_market_ioc configuration is required")
		return
	}
	if (ioc.QuoteSize == "") == (ioc.BaseSize == "") {
		invalidArgument(c, "exactly one of quote_size or base_size must be set")
		return
	}

	parts := strings.Split(strings.ToUpper(req.ProductID), "-")
	if len(parts) != 2 || parts[1] != e.quote {
		invalidArgument(c, "unknown product "+req.ProductID)
		return
	}
	base := parts[0]
	price, ok := e.prices[base]
	if !ok || !price.IsPositive() {
		invalidArgument(c, "no market for "+req.ProductID)
		return
	}

	order := &Order{
		OrderID:       uuid.New().String(),
		ClientOrderID: req.ClientOrderID,
		ProductID:     strings.ToUpper(req.ProductID),
		Side:          req.Side,
		Price:         price,
		CreatedAt:     time.Now(),
	}

	switch req.Side {
	case "BUY":
		if ioc.QuoteSize == "" {
			invalidArgument(c, "BUY orders take quote_size")
			return
		}
		quoteSize, err := decimal.NewFromString(ioc.QuoteSize)
		if err != nil || !quoteSize.IsPositive() {
			invalidArgument(c, "invalid quote_size")
			return
		}
		if e.balances[e.quote].LessThan(quoteSize) {
			insufficientFunds(c)
			return
		}
		order.QuoteSize = quoteSize
		order.BaseSize = quoteSize.Div(price)
		e.balances[e.quote] = e.balances[e.quote].Sub(quoteSize)
		e.balances[base] = e.balances[base].Add(order.BaseSize)
	case "SELL":
		if ioc.BaseSize == "" {
			invalidArgument(c, "SELL orders take base_size")
			return
		}
		baseSize, err := decimal.NewFromString(ioc.BaseSize)
		if err != nil || !baseSize.IsPositive() {
			invalidArgument(c, "invalid base_size")
			return
		}
		if e.balances[base].LessThan(baseSize) {
			insufficientFunds(c)
			return
		}
		order.BaseSize = baseSize
		order.QuoteSize = baseSize.Mul(price)
		e.balances[base] = e.balances[base].Sub(baseSize)
		e.balances[e.quote] = e.balances[e.quote].Add(order.QuoteSize)
	default:
		invalidArgument(c, "side must be BUY or SELL")
		return
	}

	e.orders[order.ClientOrderID] = order
	e.history = append(e.history, order)
	orderAccepted(c, order)
}

func orderAccepted(c *gin.Context, o *Order) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"success_response": gin.H{
			"order_id":        o.OrderID,
			"product_id":      o.ProductID,
			"side":            o.Side,
			"client_order_id": o.ClientOrderID,
		},
	})
}

func insufficientFunds(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": false,
		"error_response": gin.H{
			"error":   "INSUFFICIENT_FUND",
			"message": "Insufficient balance in source account",
		},
	})
}

func invalidArgument(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_ARGUMENT", "message": msg})
}
