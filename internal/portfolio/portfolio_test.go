package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/novatrade/internal/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func bal(currency, available string) types.AccountBalance {
	return types.AccountBalance{Currency: currency, Available: decimal.RequireFromString(available), Hold: decimal.Zero}
}

type fakeFetcher struct {
	mu       sync.Mutex
	balances []types.AccountBalance
	err      error
	calls    atomic.Int32
	block    chan struct{}
}

func (f *fakeFetcher) FetchBalances(ctx context.Context) ([]types.AccountBalance, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances, f.err
}

func (f *fakeFetcher) set(balances []types.AccountBalance, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances, f.err = balances, err
}

func TestFromBalancesClassifiesQuoteAndAssets(t *testing.T) {
	snap := FromBalances([]types.AccountBalance{
		bal("ETH", "0.5"),
		bal("USD", "20"),
		bal("USDT", "500"),
		bal("SOL", "0"),
	}, time.Now())

	assert.Equal(t, "USDT", snap.QuoteCurrency)
	assert.True(t, snap.Quote.Equal(decimal.NewFromInt(500)))
	assert.Len(t, snap.Assets, 1)
	assert.True(t, snap.Holds("eth"))
	assert.False(t, snap.Holds("SOL"))
	assert.False(t, snap.Holds("USD"))
	assert.NoError(t, snap.Usable())
}

func TestFromBalancesWithoutQuoteAccount(t *testing.T) {
	snap := FromBalances([]types.AccountBalance{bal("BTC", "1")}, time.Now())
	assert.Empty(t, snap.QuoteCurrency)
	assert.True(t, snap.Quote.IsZero())
}

func TestTotalValue(t *testing.T) {
	snap := FromBalances([]types.AccountBalance{bal("USDT", "100"), bal("ETH", "2"), bal("DOGE", "10")}, time.Now())
	total := snap.TotalValue(map[string]float64{"ETH": 1500})
	assert.True(t, total.Equal(decimal.NewFromInt(3100)), total.String())
}

func TestNewStateIsStale(t *testing.T) {
	state := NewState()
	assert.ErrorIs(t, state.Snapshot().Usable(), ErrStale)
}

func TestSyncReplacesSnapshot(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.set([]types.AccountBalance{bal("USDT", "500"), bal("ETH", "1")}, nil)
	r := NewReconciler(NewState(), fetcher, time.Minute)

	ran, err := r.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)

	fetcher.set([]types.AccountBalance{bal("USDT", "400")}, nil)
	_, err = r.Sync(context.Background())
	require.NoError(t, err)

	snap := r.State().Snapshot()
	assert.NoError(t, snap.Usable())
	assert.False(t, snap.Holds("ETH"), "snapshot must be replaced, not merged")
	assert.True(t, snap.Quote.Equal(decimal.NewFromInt(400)))
}

func TestSyncFailureKeepsBalancesAndMarksStale(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.set([]types.AccountBalance{bal("USDT", "500")}, nil)
	r := NewReconciler(NewState(), fetcher, time.Minute)
	_, err := r.Sync(context.Background())
	require.NoError(t, err)

	fetcher.set(nil, errors.New("timeout"))
	_, err = r.Sync(context.Background())
	require.Error(t, err)

	snap := r.State().Snapshot()
	assert.True(t, snap.Stale)
	assert.ErrorIs(t, snap.Usable(), ErrStale)
	assert.True(t, snap.Quote.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, "timeout", snap.LastError)

	fetcher.set([]types.AccountBalance{bal("USDT", "450")}, nil)
	_, err = r.Sync(context.Background())
	require.NoError(t, err)
	assert.NoError(t, r.State().Snapshot().Usable())
}

func TestConcurrentSyncsAreCoalesced(t *testing.T) {
	fetcher := &fakeFetcher{block: make(chan struct{})}
	fetcher.set([]types.AccountBalance{bal("USDT", "1")}, nil)
	r := NewReconciler(NewState(), fetcher, time.Minute)

	done := make(chan bool)
	go func() {
		ran, _ := r.Sync(context.Background())
		done <- ran
	}()
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	ran, err := r.Sync(context.Background())
	assert.NoError(t, err)
	assert.False(t, ran)

	r.TriggerSync()
	close(fetcher.block)
	assert.True(t, <-done)

	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, fetcher.calls.Load(), int32(2))
}

func TestSnapshotIsACopy(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.set([]types.AccountBalance{bal("ETH", "1")}, nil)
	r := NewReconciler(NewState(), fetcher, time.Minute)
	_, err := r.Sync(context.Background())
	require.NoError(t, err)

	snap := r.State().Snapshot()
	delete(snap.Assets, "ETH")
	assert.True(t, r.State().Snapshot().Holds("ETH"))
}

func TestStartSyncsImmediatelyAndStops(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.set([]types.AccountBalance{bal("USDT", "1")}, nil)
	r := NewReconciler(NewState(), fetcher, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool { return fetcher.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}

type staticPrices map[string]float64

func (p staticPrices) Prices() map[string]float64 { return p }

func TestGetPortfolioHandler(t *testing.T) {
	state := NewState()
	h := NewGinHandlers(state, staticPrices{"ETH": 2000})

	router := gin.New()
	router.GET("/api/portfolio", h.GetPortfolioHandler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/portfolio", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	state.replace(FromBalances([]types.AccountBalance{bal("USDT", "100"), bal("ETH", "0.5")}, time.Now()))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/portfolio", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success  bool `json:"success"`
		Accounts []struct {
			Currency string `json:"currency"`
			Balance  string `json:"balance"`
			Hold     string `json:"hold"`
		} `json:"accounts"`
		TotalValue string `json:"total_value"`
		Stale      bool   `json:"stale"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Len(t, body.Accounts, 2)
	assert.Equal(t, "USDT", body.Accounts[0].Currency)
	assert.Equal(t, "100", body.Accounts[0].Balance)
	assert.Equal(t, "1100", body.TotalValue)
	assert.False(t, body.Stale)
}
