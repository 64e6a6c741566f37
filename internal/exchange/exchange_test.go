package exchange_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/novatrade/internal/auth"
	"github.com/ksred/novatrade/internal/exchange"
	"github.com/ksred/novatrade/internal/exchange/sandbox"
	"github.com/ksred/novatrade/internal/types"
)

const host = "api.coinbase.com"

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	ex     *sandbox.Exchange
	server *httptest.Server
	gw     *exchange.Gateway
	pemKey string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, pemKey, err := sandbox.GenerateKey()
	require.NoError(t, err)

	ex := sandbox.New(&key.PublicKey, host, "USDT")
	ex.SetPrice("ETH", "2500")
	ex.SetPrice("BTC", "50000")

	server := httptest.NewServer(ex.Handler())
	t.Cleanup(server.Close)

	signer := auth.NewSigner("test-key", pemKey, host)
	gw := exchange.NewGateway(signer, exchange.Config{BaseURL: server.URL, QuoteCurrency: "USDT", Timeout: 2 * time.Second})
	return &fixture{ex: ex, server: server, gw: gw, pemKey: pemKey}
}

func TestFetchBalancesFiltersZeroAccounts(t *testing.T) {
	f := newFixture(t)
	f.ex.SetBalance("USDT", "500")
	f.ex.SetBalance("ETH", "0")
	f.ex.SetBalance("BTC", "0.25")

	balances, err := f.gw.FetchBalances(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 2)

	got := map[string]string{}
	for _, b := range balances {
		got[b.Currency] = b.Available.String()
	}
	assert.Equal(t, map[string]string{"USDT": "500", "BTC": "0.25"}, got)
}

func TestFetchBalancesFollowsCursor(t *testing.T) {
	f := newFixture(t)
	f.ex.SetPageSize(1)
	f.ex.SetBalance("USDT", "10")
	f.ex.SetBalance("ETH", "1")
	f.ex.SetBalance("SOL", "3")

	balances, err := f.gw.FetchBalances(context.Background())
	require.NoError(t, err)
	assert.Len(t, balances, 3)

	accounts, _ := f.ex.Calls()
	assert.Equal(t, 3, accounts)
}

func TestFetchBalancesRefusesTruncatedListing(t *testing.T) {
	f := newFixture(t)
	f.ex.SetPageSize(1)
	for i := 0; i < 25; i++ {
		f.ex.SetBalance(fmt.Sprintf("C%02d", i), "1")
	}
	f.ex.SetBalance("ZZZ", "2")

	balances, err := f.gw.FetchBalances(context.Background())
	assert.Nil(t, balances)
	require.Error(t, err)
	assert.Equal(t, exchange.KindMalformed, exchange.KindOf(err))
	assert.True(t, exchange.IsAmbiguous(err))
}

func TestPlaceBuyOrderFills(t *testing.T) {
	f := newFixture(t)
	f.ex.SetBalance("USDT", "500")

	order := types.NewBuyOrder("ETH", decimal.NewFromInt(100))
	result, err := f.gw.PlaceOrder(context.Background(), order)
	require.NoError(t, err)

	assert.NotEmpty(t, result.OrderID)
	assert.Equal(t, "ETH-USDT", result.ProductID)
	assert.Equal(t, order.ClientOrderID, result.ClientOrderID)
	assert.True(t, f.ex.Balance("USDT").Equal(decimal.NewFromInt(400)))
	assert.True(t, f.ex.Balance("ETH").Equal(decimal.RequireFromString("0.04")))
}

func TestPlaceSellOrderFills(t *testing.T) {
	f := newFixture(t)
	f.ex.SetBalance("BTC", "1")

	_, err := f.gw.PlaceOrder(context.Background(), types.NewSellOrder("BTC", decimal.RequireFromString("0.5")))
	require.NoError(t, err)
	assert.True(t, f.ex.Balance("USDT").Equal(decimal.NewFromInt(25000)))
}

func TestPlaceOrderInsufficientFundsIsRejected(t *testing.T) {
	f := newFixture(t)
	f.ex.SetBalance("USDT", "50")

	_, err := f.gw.PlaceOrder(context.Background(), types.NewBuyOrder("ETH", decimal.NewFromInt(100)))
	require.Error(t, err)
	assert.True(t, exchange.IsRejected(err))
	assert.Contains(t, err.Error(), "Insufficient balance")
}

func TestMissingCredentialsFailWithoutNetwork(t *testing.T) {
	f := newFixture(t)
	gw := exchange.NewGateway(auth.NewSigner("", "", host), exchange.Config{BaseURL: f.server.URL})

	_, err := gw.FetchBalances(context.Background())
	assert.True(t, exchange.IsConfiguration(err))
	assert.ErrorIs(t, err, auth.ErrMissingCredentials)

	_, err = gw.PlaceOrder(context.Background(), types.NewBuyOrder("ETH", decimal.NewFromInt(100)))
	assert.True(t, exchange.IsConfiguration(err))

	accounts, orders := f.ex.Calls()
	assert.Zero(t, accounts)
	assert.Zero(t, orders)
}

func TestServerErrorIsTransient(t *testing.T) {
	f := newFixture(t)
	f.ex.FailNext(1, http.StatusServiceUnavailable)

	_, err := f.gw.FetchBalances(context.Background())
	require.Error(t, err)
	assert.True(t, exchange.IsTransient(err))

	var gerr *exchange.GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, http.StatusServiceUnavailable, gerr.Status)
}

func TestTimeoutIsTransient(t *testing.T) {
	f := newFixture(t)
	f.ex.SetLatency(300*time.Millisecond, 300*time.Millisecond)

	signer := auth.NewSigner("test-key", f.pemKey, host)
	gw := exchange.NewGateway(signer, exchange.Config{BaseURL: f.server.URL, Timeout: 50 * time.Millisecond})

	_, err := gw.FetchBalances(context.Background())
	require.Error(t, err)
	assert.True(t, exchange.IsTransient(err))
	assert.True(t, exchange.IsAmbiguous(err))
}

func TestWrongTokenKeyIsRejected(t *testing.T) {
	f := newFixture(t)
	_, otherPEM, err := sandbox.GenerateKey()
	require.NoError(t, err)

	gw := exchange.NewGateway(auth.NewSigner("test-key", otherPEM, host), exchange.Config{BaseURL: f.server.URL})
	_, err = gw.FetchBalances(context.Background())
	require.Error(t, err)
	assert.True(t, exchange.IsRejected(err))
}

func TestMalformedResponses(t *testing.T) {
	cases := map[string]string{
		"no accounts list":    `{"has_next":false}`,
		"missing balance":     `{"accounts":[{"currency":"ETH"}]}`,
		"non numeric balance": `{"accounts":[{"currency":"ETH","available_balance":{"value":"lots"}}]}`,
		"negative balance":    `{"accounts":[{"currency":"ETH","available_balance":{"value":"-1"}}]}`,
		"not json":            `<html>oops</html>`,
	}
	_, pemKey, err := sandbox.GenerateKey()
	require.NoError(t, err)

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(body))
			}))
			defer server.Close()

			gw := exchange.NewGateway(auth.NewSigner("k", pemKey, host), exchange.Config{BaseURL: server.URL})
			_, err := gw.FetchBalances(context.Background())
			require.Error(t, err)
			assert.Equal(t, exchange.KindMalformed, exchange.KindOf(err))
		})
	}
}

func TestOrderBodyCarriesOneSizeField(t *testing.T) {
	_, pemKey, err := sandbox.GenerateKey()
	require.NoError(t, err)

	var captured []map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Authorization"), "Bearer ")
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		captured = append(captured, body)
		_, _ = w.Write([]byte(`{"success":true,"success_response":{"order_id":"abc"}}`))
	}))
	defer server.Close()

	gw := exchange.NewGateway(auth.NewSigner("k", pemKey, host), exchange.Config{BaseURL: server.URL, QuoteCurrency: "USDT"})
	_, err = gw.PlaceOrder(context.Background(), types.NewBuyOrder("sol", decimal.NewFromInt(100)))
	require.NoError(t, err)
	_, err = gw.PlaceOrder(context.Background(), types.NewSellOrder("SOL", decimal.RequireFromString("1.5")))
	require.NoError(t, err)

	require.Len(t, captured, 2)
	ioc := func(i int) map[string]interface{} {
		cfg := captured[i]["order_configuration"].(map[string]interface{})
		return cfg["market_market_ioc"].(map[string]interface{})
	}

	assert.Equal(t, "SOL-USDT", captured[0]["product_id"])
	assert.Equal(t, "BUY", captured[0]["side"])
	assert.Equal(t, "100", ioc(0)["quote_size"])
	assert.NotContains(t, ioc(0), "base_size")

	assert.Equal(t, "SELL", captured[1]["side"])
	assert.Equal(t, "1.5", ioc(1)["base_size"])
	assert.NotContains(t, ioc(1), "quote_size")

	assert.NotEqual(t, captured[0]["client_order_id"], captured[1]["client_order_id"])
}

func TestPlaceOrderRefusesInvalidRequests(t *testing.T) {
	f := newFixture(t)

	_, err := f.gw.PlaceOrder(context.Background(), types.NewBuyOrder("ETH", decimal.Zero))
	assert.Equal(t, exchange.KindInvalidRequest, exchange.KindOf(err))

	_, err = f.gw.PlaceOrder(context.Background(), types.OrderRequest{Symbol: "ETH", Side: "HOLD", ClientOrderID: "x"})
	assert.Equal(t, exchange.KindInvalidRequest, exchange.KindOf(err))

	_, orders := f.ex.Calls()
	assert.Zero(t, orders)
}
