// Copyright 2023-2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package data

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/quantdb/qdb-api/calendar"
	"github.com/quantdb/qdb-api/observability/opentelemetry"
)

// Config assembles a Manager. Zero-valued fields get defaults.
type Config struct {
	Store    Store
	Calendar *calendar.Calendar
	Fetcher  Fetcher
	Cache    *TTLCache
	Metrics  *Metrics

	Retry       RetryPolicy
	MaxUpstream int // concurrent upstream fetches; default 8
	MaxQueue    int // waiters allowed behind the fetch slots; default 32
	Clock       func() time.Time
}

// Manager is the historical series engine. It answers bar requests from
// the durable store, consulting the trading calendar to decide which
// sub-windows genuinely need an upstream fetch, and collapses concurrent
// fetches of the same series into one.
type Manager struct {
	store   Store
	cal     *calendar.Calendar
	fetcher Fetcher
	cache   *TTLCache
	metrics *Metrics

	registry *AssetRegistry
	coverage *CoverageIndex
	retry    RetryPolicy
	clock    func() time.Time

	sem          chan struct{}
	queueWaiters int64
	maxQueue     int64

	flightLocker sync.Mutex
	flights      map[string]*flight
}

// flight is one in-progress series hydration; followers whose window is
// contained in it wait for done instead of fetching
type flight struct {
	window DateRange
	done   chan struct{}
}

// NewManager assembles the engine
func NewManager(cfg Config) *Manager {
	if cfg.MaxUpstream <= 0 {
		cfg.MaxUpstream = 8
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = 32
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	return &Manager{
		store:    cfg.Store,
		cal:      cfg.Calendar,
		fetcher:  cfg.Fetcher,
		cache:    cfg.Cache,
		metrics:  cfg.Metrics,
		registry: NewAssetRegistry(cfg.Store, cfg.Fetcher),
		coverage: NewCoverageIndex(cfg.Store),
		retry:    cfg.Retry,
		clock:    cfg.Clock,
		sem:      make(chan struct{}, cfg.MaxUpstream),
		maxQueue: int64(cfg.MaxQueue),
		flights:  make(map[string]*flight),
	}
}

// Registry exposes the asset registry
func (m *Manager) Registry() *AssetRegistry { return m.registry }

// CoverageIndex exposes the coverage index
func (m *Manager) CoverageIndex() *CoverageIndex { return m.coverage }

// Metrics exposes the counter set
func (m *Manager) Metrics() *Metrics { return m.metrics }

// Store exposes the durable bar store
func (m *Manager) Store() Store { return m.store }

// Calendar exposes the trading calendar
func (m *Manager) Calendar() *calendar.Calendar { return m.cal }

// Cache exposes the TTL cache
func (m *Manager) Cache() *TTLCache { return m.cache }

// Fetcher exposes the upstream provider
func (m *Manager) Fetcher() Fetcher { return m.fetcher }

// GetHistory returns daily bars for symbol over the inclusive window,
// fetching only the trading days not already stored. Bars come back
// ascending by date; non-trading days are simply absent. A nil error
// means the window is as complete as upstream can make it.
func (m *Manager) GetHistory(ctx context.Context, symbol string, window DateRange, adjust AdjustMode) ([]*Bar, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "manager.GetHistory")
	defer span.End()

	assetID, market, err := m.registry.Resolve(ctx, symbol)
	if err != nil {
		return nil, err
	}

	native := calendar.NativeSymbol(symbol)
	return m.getSeries(ctx, seriesRequest{
		assetID: assetID,
		symbol:  native,
		market:  market,
		variant: EquityVariant(adjust),
		window:  window,
		fetch: func(ctx context.Context, fetchWindow DateRange) ([]*Bar, error) {
			return m.fetcher.FetchBars(ctx, native, market, fetchWindow.Begin, fetchWindow.End, adjust)
		},
	})
}

// GetIndexSeries returns index bars at the requested period. Index series
// are stored alongside equity series under a period-scoped variant.
// forceRefresh refetches the whole window from upstream even when the
// store already covers it.
func (m *Manager) GetIndexSeries(ctx context.Context, symbol string, window DateRange, period Period, forceRefresh bool) ([]*Bar, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "manager.GetIndexSeries")
	defer span.End()

	assetID, market, err := m.registry.ResolveTyped(ctx, symbol, "index")
	if err != nil {
		return nil, err
	}

	native := calendar.NativeSymbol(symbol)
	return m.getSeries(ctx, seriesRequest{
		assetID: assetID,
		symbol:  native,
		market:  market,
		variant: IndexVariant(period),
		window:  window,
		// weekly and monthly bars do not land on every trading day, so
		// gap planning below daily granularity is skipped for them
		sparse: period != PeriodDaily,
		force:  forceRefresh,
		fetch: func(ctx context.Context, fetchWindow DateRange) ([]*Bar, error) {
			return m.fetcher.FetchIndexBars(ctx, native, period, fetchWindow.Begin, fetchWindow.End)
		},
	})
}

type seriesRequest struct {
	assetID int64
	symbol  string
	market  calendar.Market
	variant Variant
	window  DateRange
	sparse  bool
	force   bool
	fetch   func(context.Context, DateRange) ([]*Bar, error)
}

func (m *Manager) getSeries(ctx context.Context, req seriesRequest) ([]*Bar, error) {
	start := m.clock()
	defer func() {
		m.metrics.RecordRequest(m.clock().Sub(start))
	}()

	if err := req.window.Valid(); err != nil {
		return nil, err
	}

	// windows never extend past today; future dates clamp silently
	today := m.cal.Today(req.market)
	if req.window.End.After(today) {
		req.window.End = today
	}
	if req.window.Begin.After(req.window.End) {
		return []*Bar{}, nil
	}

	if m.cal.FallbackMode() {
		m.metrics.RecordDegraded()
	}

	fingerprint := fmt.Sprintf("%d|%s", req.assetID, req.variant)

	for {
		release, followed, err := m.joinFlight(ctx, fingerprint, req.window)
		if err != nil {
			return nil, err
		}
		if followed {
			// leader hydrated a superset window; re-plan against the store
			continue
		}

		bars, err := m.hydrate(ctx, req)
		release()
		return bars, err
	}
}

// joinFlight either registers the caller as the hydration leader for the
// series (followed=false) or waits out an in-flight hydration whose
// window covers this request (followed=true)
func (m *Manager) joinFlight(ctx context.Context, fingerprint string, window DateRange) (release func(), followed bool, err error) {
	for {
		m.flightLocker.Lock()
		inflight, ok := m.flights[fingerprint]
		if !ok {
			f := &flight{window: window, done: make(chan struct{})}
			m.flights[fingerprint] = f
			m.flightLocker.Unlock()
			return func() {
				m.flightLocker.Lock()
				delete(m.flights, fingerprint)
				m.flightLocker.Unlock()
				close(f.done)
			}, false, nil
		}
		covered := inflight.window.Contains(window)
		m.flightLocker.Unlock()

		if covered {
			m.metrics.RecordDedup()
		}
		select {
		case <-inflight.done:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
		if covered {
			return nil, true, nil
		}
		// disjoint window; try again for leadership
	}
}

// hydrate brings the stored series up to date for the request window and
// reads it back
func (m *Manager) hydrate(ctx context.Context, req seriesRequest) ([]*Bar, error) {
	subLog := log.With().Str("Symbol", req.symbol).Str("Variant", string(req.variant)).Logger()

	tradingDays, err := m.cal.TradingDays(req.market, req.window.Begin, req.window.End)
	if err != nil {
		return nil, err
	}
	if len(tradingDays) == 0 {
		return []*Bar{}, nil
	}

	stored, err := m.store.ReadBars(ctx, req.assetID, req.variant, req.window.Begin, req.window.End)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(stored))
	if !req.force {
		for _, bar := range stored {
			present[bar.Date.Format(calendar.DateFormat)] = true
		}
	}

	now := m.clock()
	today := m.cal.Today(req.market)
	marketOpen := m.cal.IsMarketOpen(req.market, now)

	var plan GapPlan
	if req.sparse {
		// sub-daily completeness is unknowable for weekly/monthly bars;
		// refetch the whole window only when nothing is stored or the
		// window reaches today
		if len(stored) == 0 || req.force || req.window.ContainsDay(today) {
			plan.TradingDays = tradingDays
			plan.Runs = []Run{{Window: req.window, Days: tradingDays, Present: len(stored) > 0 && !req.force}}
		}
	} else {
		plan = ResolveGaps(tradingDays, present, today, marketOpen)
	}

	m.metrics.RecordHits(int64(plan.PresentCount))
	m.metrics.RecordMisses(int64(len(tradingDays) - plan.PresentCount))

	var failures []DateRange
	var cause error
	fetched := false

	for _, run := range plan.Runs {
		if m.skipRun(ctx, req, run) {
			continue
		}

		bars, err := m.fetchRun(ctx, req, run)
		if err != nil {
			if errors.Is(err, ErrOverloaded) || errors.Is(err, context.Canceled) {
				return nil, err
			}
			subLog.Warn().Err(err).Object("Window", run.Window).Msg("upstream fetch failed")
			if !run.Present {
				failures = append(failures, run.Window)
			}
			cause = err
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			continue
		}
		fetched = true

		if len(bars) == 0 && !run.Hot && !run.Present {
			// upstream has nothing for a fully historical window:
			// remember so repeats skip the round-trip
			m.cache.Put(ctx, Key{
				Kind: KindNoData, Market: req.market, Symbol: req.symbol,
				Extra: string(req.variant) + "|" + run.Window.String(),
			}, true)
			continue
		}

		clipped := clipBars(bars, req.window)
		if err := m.store.UpsertBars(ctx, req.assetID, req.variant, clipped); err != nil {
			return nil, err
		}
		m.metrics.RecordBarsStored(int64(len(clipped)))

		if run.Hot {
			m.cache.Put(ctx, Key{
				Kind: KindHotHistoryGuard, Market: req.market,
				Symbol: req.symbol, Extra: string(req.variant),
			}, true)
		}
	}

	// an expired request deadline must not keep the caller from the bars
	// the store already holds; bookkeeping and the read-back below run
	// detached from it
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}

	if fetched {
		if _, err := m.coverage.Update(ctx, req.assetID, req.variant); err != nil {
			subLog.Warn().Err(err).Msg("could not update coverage after hydration")
		}
	} else {
		m.coverage.Touch(ctx, req.assetID, req.variant)
	}

	result, err := m.store.ReadBars(ctx, req.assetID, req.variant, req.window.Begin, req.window.End)
	if err != nil {
		return nil, err
	}
	m.metrics.RecordBarsServed(int64(len(result)))

	if len(failures) > 0 {
		if errors.Is(cause, context.DeadlineExceeded) {
			return result, &TimeoutError{MissingRanges: failures}
		}
		return result, &PartialDataError{MissingRanges: failures, Cause: cause}
	}
	return result, nil
}

// skipRun applies the negative-coverage recall and the hot-run guard
func (m *Manager) skipRun(ctx context.Context, req seriesRequest, run Run) bool {
	if req.force {
		return false
	}
	if run.Hot {
		if run.Present {
			_, guarded := m.cache.Get(ctx, Key{
				Kind: KindHotHistoryGuard, Market: req.market,
				Symbol: req.symbol, Extra: string(req.variant),
			})
			return guarded
		}
		return false
	}
	if run.Present {
		return true
	}
	_, noData := m.cache.Get(ctx, Key{
		Kind: KindNoData, Market: req.market, Symbol: req.symbol,
		Extra: string(req.variant) + "|" + run.Window.String(),
	})
	return noData
}

// fetchRun performs one upstream fetch under the concurrency limiter and
// the retry policy
func (m *Manager) fetchRun(ctx context.Context, req seriesRequest, run Run) ([]*Bar, error) {
	if err := m.acquireSlot(ctx); err != nil {
		return nil, err
	}
	defer func() { <-m.sem }()

	var bars []*Bar
	err := m.retry.Do(ctx, func(ctx context.Context) error {
		start := m.clock()
		fetched, err := req.fetch(ctx, run.Window)
		m.metrics.RecordUpstreamCall(m.clock().Sub(start))
		if err != nil {
			var upstream *UpstreamError
			if errors.As(err, &upstream) {
				m.metrics.RecordUpstreamError(upstream.Code)
			}
			return err
		}
		bars = fetched
		return nil
	})
	return bars, err
}

// acquireSlot takes an upstream fetch slot, failing fast with
// ErrOverloaded when the wait queue is full
func (m *Manager) acquireSlot(ctx context.Context) error {
	select {
	case m.sem <- struct{}{}:
		return nil
	default:
	}

	if atomic.AddInt64(&m.queueWaiters, 1) > m.maxQueue {
		atomic.AddInt64(&m.queueWaiters, -1)
		return ErrOverloaded
	}
	defer atomic.AddInt64(&m.queueWaiters, -1)

	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// clipBars drops bars outside the request window; upstream windows are
// widened for hot runs and providers occasionally overshoot
func clipBars(bars []*Bar, window DateRange) []*Bar {
	clipped := make([]*Bar, 0, len(bars))
	for _, bar := range bars {
		if window.ContainsDay(bar.Date) {
			clipped = append(clipped, bar)
		}
	}
	return clipped
}
