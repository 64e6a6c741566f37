package portfolio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ksred/novatrade/internal/types"
)

// State owns the shared snapshot. Readers get copies; only the Reconciler writes.
type State struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewState starts stale: nothing has been reconciled yet
func NewState() *State {
	return &State{snap: Snapshot{Stale: true}.clone()}
}

// Snapshot returns a copy of the current snapshot
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.clone()
}

func (s *State) replace(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

// markStale keeps the last balances and raises the stale flag
func (s *State) markStale(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Stale = true
	s.snap.LastError = err.Error()
}

// BalanceFetcher is the part of the exchange gateway reconciliation needs
type BalanceFetcher interface {
	FetchBalances(ctx context.Context) ([]types.AccountBalance, error)
}

// Reconciler refreshes State from the exchange. At most one sync runs at a
// time; a trigger that arrives while one is in flight is dropped.
type Reconciler struct {
	state    *State
	fetcher  BalanceFetcher
	interval time.Duration
	inFlight atomic.Bool
	now      func() time.Time

	// base is the context async triggers run under, set by Start
	baseMu sync.Mutex
	base   context.Context
}

func NewReconciler(state *State, fetcher BalanceFetcher, interval time.Duration) *Reconciler {
	return &Reconciler{
		state:    state,
		fetcher:  fetcher,
		interval: interval,
		now:      time.Now,
		base:     context.Background(),
	}
}

// State returns the state this reconciler writes
func (r *Reconciler) State() *State {
	return r.state
}

// Sync fetches balances and replaces the snapshot. It reports false without
// error when another sync was already running.
func (r *Reconciler) Sync(ctx context.Context) (bool, error) {
	if !r.inFlight.CompareAndSwap(false, true) {
		log.Debug().Str("component", "reconciler").Msg("sync already in flight, trigger ignored")
		return false, nil
	}
	defer r.inFlight.Store(false)

	logger := log.With().Str("component", "reconciler").Logger()

	balances, err := r.fetcher.FetchBalances(ctx)
	if err != nil {
		r.state.markStale(err)
		logger.Warn().Err(err).Msg("portfolio sync failed, snapshot marked stale")
		return true, err
	}

	snap := FromBalances(balances, r.now())
	r.state.replace(snap)

	logger.Debug().
		Str("quote_currency", snap.QuoteCurrency).
		Str("quote_balance", snap.Quote.String()).
		Int("assets", len(snap.Assets)).
		Msg("portfolio synchronized")
	return true, nil
}

// TriggerSync starts a sync in the background, coalesced with any in flight
func (r *Reconciler) TriggerSync() {
	r.baseMu.Lock()
	ctx := r.base
	r.baseMu.Unlock()

	go func() {
		_, _ = r.Sync(ctx)
	}()
}

// Start runs one sync immediately and then one per interval until ctx ends
func (r *Reconciler) Start(ctx context.Context) {
	logger := log.With().Str("component", "reconciler").Logger()
	logger.Info().Dur("interval", r.interval).Msg("starting portfolio reconciliation")

	r.baseMu.Lock()
	r.base = ctx
	r.baseMu.Unlock()

	_, _ = r.Sync(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down portfolio reconciliation")
			return
		case <-ticker.C:
			// each tick runs off the loop so a slow exchange can't hold it up
			go func() {
				_, _ = r.Sync(ctx)
			}()
		}
	}
}
