package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/novatrade/internal/database"
	"github.com/ksred/novatrade/internal/exchange"
	"github.com/ksred/novatrade/internal/market"
	"github.com/ksred/novatrade/internal/portfolio"
	"github.com/ksred/novatrade/internal/reasoning"
	"github.com/ksred/novatrade/internal/trading"
	"github.com/ksred/novatrade/internal/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubAnalyzer struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
	signals []types.TradeSignal
}

func (a *stubAnalyzer) Analyze(ctx context.Context, _ []types.Coin) (*types.Analysis, error) {
	a.calls.Add(1)
	if a.release != nil {
		select {
		case <-a.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.err != nil {
		return nil, a.err
	}
	return &types.Analysis{Timestamp: time.Now(), MarketSentiment: types.SentimentBullish, TopPick: "ETH", Signals: a.signals}, nil
}

type stubExecutor struct {
	calls atomic.Int32
}

func (e *stubExecutor) Execute(context.Context, []types.TradeSignal, portfolio.Snapshot, map[string]float64) trading.Report {
	e.calls.Add(1)
	return trading.Report{}
}

type stubFetcher struct {
	err      error
	balances []types.AccountBalance
}

func (f *stubFetcher) FetchBalances(context.Context) ([]types.AccountBalance, error) {
	return f.balances, f.err
}

type recordingPlacer struct {
	mu     sync.Mutex
	orders []types.OrderRequest
}

func (p *recordingPlacer) PlaceOrder(_ context.Context, order types.OrderRequest) (*types.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, order)
	return &types.OrderResult{OrderID: uuid.NewString(), ClientOrderID: order.ClientOrderID, Side: order.Side}, nil
}

func (p *recordingPlacer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}

var cfg = Config{MarketInterval: time.Hour, PortfolioInterval: time.Hour, DecisionInterval: time.Hour}

func newScheduler(analyzer Analyzer, executor Executor, fetcher portfolio.BalanceFetcher, c Config) *Scheduler {
	feed := market.NewFeed(market.DefaultCoins, 1)
	reconciler := portfolio.NewReconciler(portfolio.NewState(), fetcher, c.PortfolioInterval)
	return New(feed, reconciler, analyzer, executor, NewActivityLog(DefaultActivitySize), c)
}

func healthyFetcher() *stubFetcher {
	return &stubFetcher{balances: []types.AccountBalance{{Currency: "USDT", Available: decimal.NewFromInt(1000)}}}
}

func TestOverlappingCyclesProduceOneSetOfCalls(t *testing.T) {
	analyzer := &stubAnalyzer{release: make(chan struct{})}
	executor := &stubExecutor{}
	s := newScheduler(analyzer, executor, healthyFetcher(), cfg)

	done := make(chan bool)
	go func() { done <- s.RunDecisionCycle(context.Background()) }()
	require.Eventually(t, s.Analyzing, time.Second, time.Millisecond)

	assert.False(t, s.RunDecisionCycle(context.Background()))
	assert.False(t, s.RunDecisionCycle(context.Background()))

	close(analyzer.release)
	assert.True(t, <-done)

	assert.Equal(t, int32(1), analyzer.calls.Load())
	assert.Equal(t, int32(1), executor.calls.Load())
	assert.Equal(t, int64(2), s.Status().CyclesSkipped)
	assert.False(t, s.Analyzing())
}

func TestStartBotTwiceIsNoop(t *testing.T) {
	analyzer := &stubAnalyzer{}
	s := newScheduler(analyzer, &stubExecutor{}, healthyFetcher(), cfg)

	assert.True(t, s.StartBot())
	assert.False(t, s.StartBot())
	assert.True(t, s.Running())

	// start fires one cycle immediately
	require.Eventually(t, func() bool { return analyzer.calls.Load() == 1 }, time.Second, time.Millisecond)

	assert.True(t, s.StopBot())
	assert.False(t, s.StopBot())
	assert.False(t, s.Running())
}

func TestStopLetsInFlightCycleFinish(t *testing.T) {
	analyzer := &stubAnalyzer{release: make(chan struct{})}
	executor := &stubExecutor{}
	c := cfg
	c.DecisionInterval = 10 * time.Millisecond
	s := newScheduler(analyzer, executor, healthyFetcher(), c)

	require.True(t, s.StartBot())
	require.Eventually(t, s.Analyzing, time.Second, time.Millisecond)
	require.True(t, s.StopBot())

	close(analyzer.release)
	require.Eventually(t, func() bool { return executor.calls.Load() == 1 }, time.Second, time.Millisecond)

	// no further ticks after stop
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), analyzer.calls.Load())
	assert.Equal(t, int32(1), executor.calls.Load())
}

func TestStoppedLoopStartsNoCycle(t *testing.T) {
	analyzer := &stubAnalyzer{}
	c := cfg
	c.DecisionInterval = time.Millisecond
	s := newScheduler(analyzer, &stubExecutor{}, healthyFetcher(), c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 100; i++ {
		s.decisionLoop(ctx)
	}

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, analyzer.calls.Load())
}

func TestStalePortfolioSuppressesBuys(t *testing.T) {
	fetcher := &stubFetcher{err: &exchange.GatewayError{Op: "fetch_balances", Kind: exchange.KindTransient, Message: "timeout"}}
	analyzer := &stubAnalyzer{signals: []types.TradeSignal{
		{Symbol: "ETH", Action: types.ActionBuy, Confidence: 99},
		{Symbol: "BTC", Action: types.ActionBuy, Confidence: 95},
	}}

	db, err := database.NewDatabase("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	placer := &recordingPlacer{}
	svc := trading.NewService(placer, trading.NewJournal(db), nil, trading.Policy{Threshold: 80, Notional: decimal.NewFromInt(100)})

	s := newScheduler(analyzer, svc, fetcher, cfg)
	_, err = s.reconciler.Sync(context.Background())
	require.Error(t, err)
	require.True(t, s.reconciler.State().Snapshot().Stale)

	assert.True(t, s.RunDecisionCycle(context.Background()))
	assert.Zero(t, placer.count())

	// a fresh sync makes the same signals actionable again
	fetcher.err = nil
	fetcher.balances = healthyFetcher().balances
	_, err = s.reconciler.Sync(context.Background())
	require.NoError(t, err)

	assert.True(t, s.RunDecisionCycle(context.Background()))
	assert.Equal(t, 2, placer.count())
}

func TestReasoningFailuresAreNotFatal(t *testing.T) {
	cases := []struct {
		err   error
		level Level
	}{
		{reasoning.ErrNotConfigured, LevelWarning},
		{fmt.Errorf("%w: status 500", reasoning.ErrUnavailable), LevelError},
		{errors.New("boom"), LevelError},
	}
	for _, tc := range cases {
		executor := &stubExecutor{}
		s := newScheduler(&stubAnalyzer{err: tc.err}, executor, healthyFetcher(), cfg)

		assert.True(t, s.RunDecisionCycle(context.Background()))
		assert.Zero(t, executor.calls.Load())
		assert.Nil(t, s.LastAnalysis())
		assert.Equal(t, tc.level, s.Activity().Entries()[0].Level)
	}
}

func TestCycleKeepsLastAnalysis(t *testing.T) {
	s := newScheduler(&stubAnalyzer{}, &stubExecutor{}, healthyFetcher(), cfg)
	require.True(t, s.RunDecisionCycle(context.Background()))

	analysis := s.LastAnalysis()
	require.NotNil(t, analysis)
	assert.Equal(t, "ETH", analysis.TopPick)
}

func TestStartRunsLoopsUntilCancelled(t *testing.T) {
	c := Config{MarketInterval: 5 * time.Millisecond, PortfolioInterval: 5 * time.Millisecond, DecisionInterval: time.Hour}
	s := newScheduler(&stubAnalyzer{}, &stubExecutor{}, healthyFetcher(), c)
	before := s.feed.Snapshot()[0].Price

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return !s.reconciler.State().Snapshot().Stale
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return s.feed.Snapshot()[0].Price != before
	}, time.Second, time.Millisecond)

	require.True(t, s.StartBot())
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.False(t, s.Running())
}

func TestActivityLogIsBounded(t *testing.T) {
	l := NewActivityLog(DefaultActivitySize)
	for i := 0; i < 60; i++ {
		l.Add(LevelInfo, fmt.Sprintf("event %d", i))
	}

	entries := l.Entries()
	require.Len(t, entries, DefaultActivitySize)
	assert.Equal(t, "event 59", entries[0].Message)
	assert.Equal(t, "event 10", entries[len(entries)-1].Message)
}

func TestBotHandlers(t *testing.T) {
	s := newScheduler(&stubAnalyzer{}, &stubExecutor{}, healthyFetcher(), cfg)
	h := NewGinHandlers(s)
	router := gin.New()
	router.GET("/api/bot", h.GetBotHandler())
	router.POST("/api/bot/start", h.StartBotHandler())
	router.POST("/api/bot/stop", h.StopBotHandler())
	router.GET("/api/logs", h.GetLogsHandler())
	router.GET("/api/analysis", h.GetAnalysisHandler())

	call := func(method, path string) map[string]interface{} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		require.Equal(t, http.StatusOK, w.Code)
		var out map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
		return out
	}

	out := call(http.MethodPost, "/api/bot/start")
	assert.Equal(t, true, out["changed"])
	assert.Equal(t, true, out["bot"].(map[string]interface{})["running"])

	out = call(http.MethodPost, "/api/bot/start")
	assert.Equal(t, false, out["changed"])

	out = call(http.MethodPost, "/api/bot/stop")
	assert.Equal(t, true, out["changed"])
	assert.Equal(t, false, out["bot"].(map[string]interface{})["running"])

	out = call(http.MethodGet, "/api/logs")
	assert.NotEmpty(t, out["logs"])

	call(http.MethodGet, "/api/analysis")
}
