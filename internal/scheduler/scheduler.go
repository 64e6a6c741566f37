package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ksred/novatrade/internal/market"
	"github.com/ksred/novatrade/internal/portfolio"
	"github.com/ksred/novatrade/internal/reasoning"
	"github.com/ksred/novatrade/internal/trading"
	"github.com/ksred/novatrade/internal/types"
)

// Analyzer produces trading signals for a market snapshot
type Analyzer interface {
	Analyze(ctx context.Context, coins []types.Coin) (*types.Analysis, error)
}

// Executor acts on the signals of one decision cycle
type Executor interface {
	Execute(ctx context.Context, signals []types.TradeSignal, snap portfolio.Snapshot, prices map[string]float64) trading.Report
}

type Config struct {
	MarketInterval    time.Duration
	PortfolioInterval time.Duration
	DecisionInterval  time.Duration
	// AutoStart starts the bot as soon as the loops are running
	AutoStart bool
}

// Scheduler owns the market refresh, portfolio sync and decision loops.
// The decision loop only runs while the bot is started.
type Scheduler struct {
	feed       *market.Feed
	reconciler *portfolio.Reconciler
	analyzer   Analyzer
	executor   Executor
	activity   *ActivityLog
	cfg        Config

	// analyzing guards the decision cycle; a tick that finds it set is dropped
	analyzing atomic.Bool
	cyclesRun atomic.Int64
	skipped   atomic.Int64

	mu           sync.Mutex
	base         context.Context
	botCancel    context.CancelFunc
	botStarted   time.Time
	lastAnalysis *types.Analysis
	lastCycleAt  time.Time
}

func New(feed *market.Feed, reconciler *portfolio.Reconciler, analyzer Analyzer, executor Executor, activity *ActivityLog, cfg Config) *Scheduler {
	if activity == nil {
		activity = NewActivityLog(DefaultActivitySize)
	}
	return &Scheduler{
		feed:       feed,
		reconciler: reconciler,
		analyzer:   analyzer,
		executor:   executor,
		activity:   activity,
		cfg:        cfg,
		base:       context.Background(),
	}
}

// Start runs the market and portfolio loops until ctx ends. Decision cycles
// started later run under ctx, so stopping the bot never aborts one midway.
func (s *Scheduler) Start(ctx context.Context) {
	logger := log.With().Str("component", "scheduler").Logger()
	logger.Info().
		Dur("market_interval", s.cfg.MarketInterval).
		Dur("portfolio_interval", s.cfg.PortfolioInterval).
		Dur("decision_interval", s.cfg.DecisionInterval).
		Msg("starting scheduler")

	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	if s.cfg.AutoStart {
		s.StartBot()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.feed.Start(ctx, s.cfg.MarketInterval)
	}()
	go func() {
		defer wg.Done()
		s.reconciler.Start(ctx)
	}()

	<-ctx.Done()
	s.StopBot()
	wg.Wait()
	logger.Info().Msg("shutting down scheduler")
}

// StartBot moves the bot to running and fires one cycle right away.
// It reports false if the bot was already running.
func (s *Scheduler) StartBot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.botCancel != nil {
		return false
	}

	ctx, cancel := context.WithCancel(s.base)
	s.botCancel = cancel
	s.botStarted = time.Now()

	log.Info().Str("component", "scheduler").Dur("interval", s.cfg.DecisionInterval).Msg("bot started")
	s.activity.Add(LevelInfo, "Bot started. Monitoring market for high-confidence setups.")

	go s.decisionLoop(ctx)
	return true
}

// StopBot cancels future ticks; an in-flight cycle finishes
func (s *Scheduler) StopBot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.botCancel == nil {
		return false
	}
	s.botCancel()
	s.botCancel = nil

	log.Info().Str("component", "scheduler").Msg("bot stopped")
	s.activity.Add(LevelWarning, "Bot stopped.")
	return true
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.botCancel != nil
}

// Analyzing reports whether a decision cycle is in flight
func (s *Scheduler) Analyzing() bool {
	return s.analyzing.Load()
}

func (s *Scheduler) LastAnalysis() *types.Analysis {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAnalysis
}

func (s *Scheduler) Activity() *ActivityLog {
	return s.activity
}

// Status is the bot state reported to the dashboard
type Status struct {
	Running          bool      `json:"running"`
	Analyzing        bool      `json:"analyzing"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	LastCycleAt      time.Time `json:"last_cycle_at,omitempty"`
	CyclesRun        int64     `json:"cycles_run"`
	CyclesSkipped    int64     `json:"cycles_skipped"`
	DecisionInterval string    `json:"decision_interval"`
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:          s.botCancel != nil,
		Analyzing:        s.analyzing.Load(),
		LastCycleAt:      s.lastCycleAt,
		CyclesRun:        s.cyclesRun.Load(),
		CyclesSkipped:    s.skipped.Load(),
		DecisionInterval: s.cfg.DecisionInterval.String(),
	}
	if st.Running {
		st.StartedAt = s.botStarted
	}
	return st
}

func (s *Scheduler) decisionLoop(ctx context.Context) {
	logger := log.With().Str("component", "decision_loop").Logger()

	s.mu.Lock()
	base := s.base
	s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	go s.RunDecisionCycle(base)

	ticker := time.NewTicker(s.cfg.DecisionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("decision loop stopped")
			return
		case <-ticker.C:
			// select picks randomly when a stop and a tick are both ready
			if ctx.Err() != nil {
				logger.Debug().Msg("decision loop stopped")
				return
			}
			go s.RunDecisionCycle(base)
		}
	}
}

// RunDecisionCycle fetches signals and executes them. It returns false
// without doing anything when another cycle is still in flight.
func (s *Scheduler) RunDecisionCycle(ctx context.Context) bool {
	logger := log.With().Str("component", "decision_cycle").Logger()

	if !s.analyzing.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		logger.Debug().Msg("previous cycle still running, tick skipped")
		return false
	}
	defer s.analyzing.Store(false)

	s.cyclesRun.Add(1)
	s.mu.Lock()
	s.lastCycleAt = time.Now()
	s.mu.Unlock()

	coins := s.feed.Snapshot()
	if len(coins) == 0 {
		logger.Warn().Msg("market snapshot empty, cycle skipped")
		return true
	}

	s.activity.Add(LevelInfo, "Scanning market conditions...")

	analysis, err := s.analyzer.Analyze(ctx, coins)
	if err != nil {
		if errors.Is(err, reasoning.ErrNotConfigured) {
			logger.Warn().Err(err).Msg("reasoning service not configured, no signals this cycle")
			s.activity.Add(LevelWarning, "Reasoning service key missing. Configure it to enable signals.")
		} else {
			logger.Error().Err(err).Msg("analysis failed, no signals this cycle")
			s.activity.Add(LevelError, "Market analysis failed. Retrying next cycle.")
		}
		return true
	}

	s.mu.Lock()
	s.lastAnalysis = analysis
	s.mu.Unlock()

	s.activity.Add(LevelInfo, fmt.Sprintf("Analysis complete. Sentiment: %s, top pick: %s.", analysis.MarketSentiment, analysis.TopPick))

	snap := s.reconciler.State().Snapshot()
	if err := snap.Usable(); err != nil {
		logger.Warn().Err(err).Msg("portfolio is stale, BUY signals will be skipped")
		s.activity.Add(LevelWarning, "Portfolio is out of date. New entries paused until the next successful sync.")
	}

	report := s.executor.Execute(ctx, analysis.Signals, snap, s.feed.Prices())
	for _, a := range report.Attempts {
		r := a.Record
		if a.Err != nil {
			s.activity.Add(LevelError, fmt.Sprintf("Order failed for %s: %v", r.Symbol, a.Err))
			continue
		}
		s.activity.Add(LevelSuccess, fmt.Sprintf("Executed BUY %s for %s %s at %.2f. Confidence %.0f%%.",
			r.Symbol, r.Notional, snap.QuoteCurrency, r.EntryPrice, r.Confidence))
	}

	logger.Info().
		Int("signals", len(analysis.Signals)).
		Int("orders", len(report.Attempts)).
		Int("filled", report.Filled()).
		Msg("decision cycle complete")
	return true
}
