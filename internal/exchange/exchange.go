package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/novatrade/internal/auth"
	"github.com/ksred/novatrade/internal/types"
)

const (
	AccountsPath = "/api/v3/brokerage/accounts"
	OrdersPath   = "/api/v3/brokerage/orders"

	// MaxTimeout bounds every exchange call
	MaxTimeout = 10 * time.Second

	accountsPageSize = 250
	maxAccountPages  = 20
)

// TokenSigner issues a single-use token for one method+path
type TokenSigner interface {
	Sign(method, path string) (*auth.SignedToken, error)
}

type Config struct {
	BaseURL       string
	QuoteCurrency string
	Timeout       time.Duration
}

// Gateway performs authenticated calls against the exchange. It never retries:
// a caller that wants another attempt builds a new OrderRequest.
type Gateway struct {
	client *resty.Client
	signer TokenSigner
	quote  string
}

// NewGateway creates a gateway for the given signer and endpoint settings
func NewGateway(signer TokenSigner, cfg Config) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 || timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	quote := strings.ToUpper(cfg.QuoteCurrency)
	if quote == "" {
		quote = "USDT"
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Gateway{
		client: client,
		signer: signer,
		quote:  quote,
	}
}

// QuoteCurrency is the currency product ids are denominated in
func (g *Gateway) QuoteCurrency() string {
	return g.quote
}

// ProductID derives the exchange product for a symbol
func ProductID(symbol, quote string) string {
	return strings.ToUpper(symbol) + "-" + strings.ToUpper(quote)
}

// FetchBalances lists every account with a nonzero available balance
func (g *Gateway) FetchBalances(ctx context.Context) ([]types.AccountBalance, error) {
	const op = "fetch_balances"
	logger := log.With().Str("component", "exchange").Str("op", op).Logger()

	var balances []types.AccountBalance
	cursor := ""
	complete := false
	for page := 0; page < maxAccountPages; page++ {
		req, err := g.newRequest(ctx, op, http.MethodGet, AccountsPath)
		if err != nil {
			return nil, err
		}
		req.SetQueryParam("limit", fmt.Sprint(accountsPageSize))
		if cursor != "" {
			req.SetQueryParam("cursor", cursor)
		}

		resp, err := req.Get(AccountsPath)
		if err := classify(op, resp, err); err != nil {
			logger.Error().Err(err).Int("page", page).Msg("failed to fetch accounts")
			return nil, err
		}

		var body accountsResponse
		if err := json.Unmarshal(resp.Body(), &body); err != nil || body.Accounts == nil {
			gerr := &GatewayError{Op: op, Kind: KindMalformed, Status: resp.StatusCode(), Message: "response has no accounts list", Err: err}
			logger.Error().Err(gerr).Msg("invalid accounts response")
			return nil, gerr
		}

		for _, a := range *body.Accounts {
			bal, err := decodeAccount(a)
			if err != nil {
				gerr := &GatewayError{Op: op, Kind: KindMalformed, Status: resp.StatusCode(), Message: err.Error()}
				logger.Error().Err(gerr).Str("currency", a.Currency).Msg("invalid account entry")
				return nil, gerr
			}
			if bal.Available.IsPositive() {
				balances = append(balances, bal)
			}
		}

		if !body.HasNext || body.Cursor == "" {
			complete = true
			break
		}
		cursor = body.Cursor
	}

	// a partial ledger would hide held assets, so it is an error
	if !complete {
		gerr := &GatewayError{Op: op, Kind: KindMalformed, Message: fmt.Sprintf("account listing exceeds %d pages", maxAccountPages)}
		logger.Error().Err(gerr).Msg("account listing truncated")
		return nil, gerr
	}

	logger.Debug().Int("nonzero_accounts", len(balances)).Msg("fetched balances")
	return balances, nil
}

func decodeAccount(a account) (types.AccountBalance, error) {
	if strings.TrimSpace(a.Currency) == "" {
		return types.AccountBalance{}, errors.New("account without currency")
	}
	if a.AvailableBalance == nil {
		return types.AccountBalance{}, fmt.Errorf("account %s has no available_balance", a.Currency)
	}
	available, err := decimal.NewFromString(a.AvailableBalance.Value)
	if err != nil {
		return types.AccountBalance{}, fmt.Errorf("account %s available_balance %q: %w", a.Currency, a.AvailableBalance.Value, err)
	}
	if available.IsNegative() {
		return types.AccountBalance{}, fmt.Errorf("account %s has negative available balance", a.Currency)
	}

	hold := decimal.Zero
	if a.Hold != nil && a.Hold.Value != "" {
		hold, err = decimal.NewFromString(a.Hold.Value)
		if err != nil {
			return types.AccountBalance{}, fmt.Errorf("account %s hold %q: %w", a.Currency, a.Hold.Value, err)
		}
	}

	return types.AccountBalance{
		Currency:  strings.ToUpper(a.Currency),
		Available: available,
		Hold:      hold,
	}, nil
}

// PlaceOrder submits a market immediate-or-cancel order
func (g *Gateway) PlaceOrder(ctx context.Context, order types.OrderRequest) (*types.OrderResult, error) {
	const op = "place_order"
	logger := log.With().
		Str("component", "exchange").
		Str("op", op).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Str("client_order_id", order.ClientOrderID).
		Logger()

	body, err := g.buildOrder(order)
	if err != nil {
		logger.Error().Err(err).Msg("refusing to submit order")
		return nil, err
	}

	req, err := g.newRequest(ctx, op, http.MethodPost, OrdersPath)
	if err != nil {
		return nil, err
	}

	logger.Info().Str("product_id", body.ProductID).Msg("submitting order")

	resp, err := req.SetBody(body).Post(OrdersPath)
	if err := classify(op, resp, err); err != nil {
		logger.Error().Err(err).Msg("order submission failed")
		return nil, err
	}

	var out createOrderResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil || out.Success == nil {
		gerr := &GatewayError{Op: op, Kind: KindMalformed, Status: resp.StatusCode(), Message: "order response has no success flag", Err: err}
		logger.Error().Err(gerr).Msg("invalid order response")
		return nil, gerr
	}

	if !*out.Success {
		gerr := &GatewayError{Op: op, Kind: KindRejected, Status: resp.StatusCode(), Message: out.failureMessage()}
		logger.Warn().Err(gerr).Msg("order rejected by exchange")
		return nil, gerr
	}

	result := &types.OrderResult{
		OrderID:       out.OrderID,
		ProductID:     body.ProductID,
		Side:          order.Side,
		ClientOrderID: order.ClientOrderID,
	}
	if s := out.SuccessResponse; s != nil {
		if s.OrderID != "" {
			result.OrderID = s.OrderID
		}
		if s.ProductID != "" {
			result.ProductID = s.ProductID
		}
	}
	if result.OrderID == "" {
		gerr := &GatewayError{Op: op, Kind: KindMalformed, Status: resp.StatusCode(), Message: "accepted order has no order_id"}
		logger.Error().Err(gerr).Msg("invalid order response")
		return nil, gerr
	}

	logger.Info().Str("order_id", result.OrderID).Msg("order accepted")
	return result, nil
}

func (g *Gateway) buildOrder(order types.OrderRequest) (*createOrderRequest, error) {
	const op = "place_order"
	invalid := func(msg string) error {
		return &GatewayError{Op: op, Kind: KindInvalidRequest, Message: msg}
	}

	if strings.TrimSpace(order.Symbol) == "" && order.ProductID == "" {
		return nil, invalid("order has no symbol")
	}
	if order.ClientOrderID == "" {
		return nil, invalid("order has no client_order_id")
	}

	var cfg marketIOC
	if size, ok := order.QuoteSize(); ok {
		cfg.QuoteSize = size.String()
	} else if size, ok := order.BaseSize(); ok {
		cfg.BaseSize = size.String()
	} else {
		return nil, invalid(fmt.Sprintf("unsupported side %q", order.Side))
	}
	if !order.Size().IsPositive() {
		return nil, invalid("order size must be positive")
	}

	productID := order.ProductID
	if productID == "" {
		productID = ProductID(order.Symbol, g.quote)
	}

	return &createOrderRequest{
		ClientOrderID:      order.ClientOrderID,
		ProductID:          productID,
		Side:               string(order.Side),
		OrderConfiguration: orderConfiguration{MarketMarketIOC: cfg},
	}, nil
}

// newRequest signs a fresh token for this exact call
func (g *Gateway) newRequest(ctx context.Context, op, method, path string) (*resty.Request, error) {
	token, err := g.signer.Sign(method, path)
	if err != nil {
		kind := KindConfiguration
		if errors.Is(err, auth.ErrTokenGeneration) {
			kind = KindTransient
		}
		return nil, &GatewayError{Op: op, Kind: kind, Message: err.Error(), Err: err}
	}
	return g.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token.Value), nil
}

// classify maps transport errors and non-2xx responses onto GatewayError
func classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		return &GatewayError{Op: op, Kind: KindTransient, Message: err.Error(), Err: err}
	}
	status := resp.StatusCode()
	if status >= 200 && status < 300 {
		return nil
	}

	msg := http.StatusText(status)
	var body errorBody
	if jsonErr := json.Unmarshal(resp.Body(), &body); jsonErr == nil {
		switch {
		case body.Message != "":
			msg = body.Message
		case body.Error != "":
			msg = body.Error
		}
	}

	kind := KindRejected
	if status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		kind = KindTransient
	}
	return &GatewayError{Op: op, Kind: kind, Status: status, Message: msg}
}

func (r createOrderResponse) failureMessage() string {
	if e := r.ErrorResponse; e != nil {
		for _, s := range []string{e.Message, e.ErrorDetails, e.NewOrderFailureReason, e.PreviewFailureReason, e.Error} {
			if s != "" {
				return s
			}
		}
	}
	if r.FailureReason != "" {
		return r.FailureReason
	}
	return "order rejected"
}
