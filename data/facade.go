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
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/quantdb/qdb-api/calendar"
	"github.com/quantdb/qdb-api/common"
)

// batchConcurrency bounds how many symbols a batch call works in parallel
const batchConcurrency = 4

// recentDaysWindow builds the window holding exactly the most recent n
// trading days of market, ending today. ok is false when the calendar has
// no trading days in the lookback.
func (m *Manager) recentDaysWindow(market calendar.Market, days int) (window DateRange, ok bool, err error) {
	today := m.cal.Today(market)
	// look back far enough in calendar days to contain n trading days
	lookback := today.AddDate(0, 0, -(days*2 + 14))
	tradingDays, err := m.cal.TradingDays(market, lookback, today)
	if err != nil {
		return DateRange{}, false, err
	}
	if len(tradingDays) == 0 {
		return DateRange{}, false, nil
	}
	if len(tradingDays) > days {
		tradingDays = tradingDays[len(tradingDays)-days:]
	}
	return DateRange{Begin: tradingDays[0], End: today}, true, nil
}

// GetHistoryDays returns the most recent n trading days of bars for
// symbol, ending today
func (m *Manager) GetHistoryDays(ctx context.Context, symbol string, days int, adjust AdjustMode) ([]*Bar, error) {
	if days <= 0 {
		return nil, ErrInvalidDateRange
	}

	market, err := calendar.InferMarket(symbol)
	if err != nil {
		return nil, err
	}

	window, ok, err := m.recentDaysWindow(market, days)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []*Bar{}, nil
	}
	return m.GetHistory(ctx, symbol, window, adjust)
}

// BatchResult pairs one symbol's bars with its error; batch calls always
// return an entry per requested symbol
type BatchResult struct {
	Bars []*Bar
	Err  error
}

// GetHistoryBatch runs GetHistory for each symbol with bounded
// parallelism. Per-symbol failures land in the result map, not the
// returned error; only context cancellation aborts the batch.
func (m *Manager) GetHistoryBatch(ctx context.Context, symbols []string, window DateRange, adjust AdjustMode) (map[string]BatchResult, error) {
	results := make(map[string]BatchResult, len(symbols))
	var locker sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			bars, err := m.GetHistory(ctx, symbol, window, adjust)
			locker.Lock()
			results[symbol] = BatchResult{Bars: bars, Err: err}
			locker.Unlock()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// GetHistoryDaysBatch runs GetHistoryDays for each symbol with bounded
// parallelism, so mixed-market batches each get exactly the most recent
// n trading days of their own market
func (m *Manager) GetHistoryDaysBatch(ctx context.Context, symbols []string, days int, adjust AdjustMode) (map[string]BatchResult, error) {
	results := make(map[string]BatchResult, len(symbols))
	var locker sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			bars, err := m.GetHistoryDays(ctx, symbol, days, adjust)
			locker.Lock()
			results[symbol] = BatchResult{Bars: bars, Err: err}
			locker.Unlock()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// GetIndexSeriesDays returns the most recent n trading days of index bars
func (m *Manager) GetIndexSeriesDays(ctx context.Context, symbol string, days int, period Period, forceRefresh bool) ([]*Bar, error) {
	if days <= 0 {
		return nil, ErrInvalidDateRange
	}

	window, ok, err := m.recentDaysWindow(calendar.MarketCNA, days)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []*Bar{}, nil
	}
	return m.GetIndexSeries(ctx, symbol, window, period, forceRefresh)
}

// GetQuote returns a realtime snapshot, served from the TTL cache unless
// forceRefresh is set or the cached copy aged out
func (m *Manager) GetQuote(ctx context.Context, symbol string, forceRefresh bool) (*Quote, error) {
	_, market, err := m.registry.Resolve(ctx, symbol)
	if err != nil {
		return nil, err
	}
	native := calendar.NativeSymbol(symbol)

	key := Key{Kind: KindQuote, Market: market, Symbol: native}
	if !forceRefresh {
		cached := &Quote{}
		if m.cache.GetInto(ctx, key, cached) {
			cached.Cached = true
			return cached, nil
		}
	}

	if err := m.acquireSlot(ctx); err != nil {
		return nil, err
	}
	defer func() { <-m.sem }()

	var quote *Quote
	err = m.retry.Do(ctx, func(ctx context.Context) error {
		start := m.clock()
		fetched, err := m.fetcher.FetchQuote(ctx, native, market)
		m.metrics.RecordUpstreamCall(m.clock().Sub(start))
		if err != nil {
			return err
		}
		quote = fetched
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.cache.Put(ctx, key, quote)
	return quote, nil
}

// QuoteResult pairs one symbol's quote with its error
type QuoteResult struct {
	Quote *Quote
	Err   error
}

// GetQuoteBatch fetches quotes for several symbols with bounded
// parallelism; per-symbol failures land in the result map
func (m *Manager) GetQuoteBatch(ctx context.Context, symbols []string, forceRefresh bool) (map[string]QuoteResult, error) {
	results := make(map[string]QuoteResult, len(symbols))
	var locker sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			quote, err := m.GetQuote(ctx, symbol, forceRefresh)
			locker.Lock()
			results[symbol] = QuoteResult{Quote: quote, Err: err}
			locker.Unlock()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// GetStockList enumerates listed symbols for a market, cached for a day
func (m *Manager) GetStockList(ctx context.Context, market calendar.Market, forceRefresh bool) ([]*AssetSummary, error) {
	key := Key{Kind: KindStockList, Market: market, Symbol: "*"}
	if !forceRefresh {
		var cached []*AssetSummary
		if m.cache.GetInto(ctx, key, &cached) {
			return cached, nil
		}
	}

	list, err := m.fetcher.FetchStockList(ctx, market)
	if err != nil {
		return nil, err
	}
	m.cache.Put(ctx, key, list)
	return list, nil
}

// GetIndexList enumerates indexes for a category, cached for a day
func (m *Manager) GetIndexList(ctx context.Context, category string, forceRefresh bool) ([]*IndexSummary, error) {
	key := Key{Kind: KindIndexList, Market: calendar.MarketCNA, Symbol: "*", Extra: category}
	if !forceRefresh {
		var cached []*IndexSummary
		if m.cache.GetInto(ctx, key, &cached) {
			return cached, nil
		}
	}

	list, err := m.fetcher.FetchIndexList(ctx, category)
	if err != nil {
		return nil, err
	}
	m.cache.Put(ctx, key, list)
	return list, nil
}

// GetIndexQuote returns the spot row for one index, served from the
// cached index list
func (m *Manager) GetIndexQuote(ctx context.Context, symbol string, forceRefresh bool) (*IndexSummary, error) {
	native := calendar.NativeSymbol(symbol)
	list, err := m.GetIndexList(ctx, "", forceRefresh)
	if err != nil {
		return nil, err
	}
	for _, idx := range list {
		if idx.Symbol == native {
			return idx, nil
		}
	}
	return nil, ErrNotFound
}

// GetAssetInfo returns the descriptive record for a symbol, refreshed
// daily by the registry
func (m *Manager) GetAssetInfo(ctx context.Context, symbol string) (*Asset, error) {
	return m.registry.Describe(ctx, symbol)
}

// GetFinancialSummary returns headline fundamentals, cached for a day
func (m *Manager) GetFinancialSummary(ctx context.Context, symbol string) (*FinancialSummary, error) {
	_, market, err := m.registry.Resolve(ctx, symbol)
	if err != nil {
		return nil, err
	}
	native := calendar.NativeSymbol(symbol)

	key := Key{Kind: KindFinancialSummary, Market: market, Symbol: native}
	cached := &FinancialSummary{}
	if m.cache.GetInto(ctx, key, cached) {
		return cached, nil
	}

	summary, err := m.fetcher.FetchFinancialSummary(ctx, native)
	if err != nil {
		return nil, err
	}
	m.cache.Put(ctx, key, summary)
	return summary, nil
}

// CacheStats reports the state of the cache tiers
type CacheStats struct {
	CacheDir    string          `json:"cache_dir"`
	SizeBytes   int64           `json:"size_bytes"`
	Initialized bool            `json:"initialized"`
	Status      string          `json:"status"`
	TTLEntries  int             `json:"ttl_entries"`
	Degraded    bool            `json:"degraded"`
	Counters    MetricsSnapshot `json:"counters"`
}

// Stats snapshots the cache state for the stats endpoint and CLI
func (m *Manager) Stats(_ context.Context) CacheStats {
	stats := CacheStats{
		CacheDir:    common.CacheDir(),
		Initialized: true,
		Status:      "ok",
		TTLEntries:  m.cache.Len(),
		Degraded:    m.cal.FallbackMode(),
		Counters:    m.metrics.Snapshot(),
	}
	if m.cal.FallbackMode() {
		stats.Status = "degraded"
	}
	stats.SizeBytes = common.DirSize(stats.CacheDir)
	return stats
}

// ClearCache removes cached bars, coverage, and TTL entries. With a
// symbol only that asset is cleared; without one the whole store is
// purged. The calendar snapshot is never touched.
func (m *Manager) ClearCache(ctx context.Context, symbol string) error {
	if symbol == "" {
		log.Info().Msg("purging bar store and ttl cache")
		if err := m.store.Purge(ctx); err != nil {
			return err
		}
		m.cache.InvalidatePrefix("")
		m.registry.ForgetAll()
		m.coverage.ForgetAll()
		return nil
	}

	assetID, _, err := m.registry.Resolve(ctx, symbol)
	if err != nil {
		return err
	}
	native := calendar.NativeSymbol(symbol)

	log.Info().Str("Symbol", native).Msg("clearing cached data for symbol")
	if err := m.store.DeleteAsset(ctx, assetID); err != nil {
		return err
	}
	m.cache.InvalidateSymbol(native)
	m.registry.Forget(native)
	for _, adjust := range []AdjustMode{AdjustNone, AdjustQfq, AdjustHfq} {
		m.coverage.Forget(assetID, EquityVariant(adjust))
	}
	for _, period := range []Period{PeriodDaily, PeriodWeekly, PeriodMonthly} {
		m.coverage.Forget(assetID, IndexVariant(period))
	}
	return nil
}

// WarmCalendar refreshes the trading calendar snapshot if it is stale;
// called at startup and nightly by the scheduler
func (m *Manager) WarmCalendar(ctx context.Context) error {
	return m.cal.RefreshIfStale(ctx)
}

// SweepCoverage re-verifies the persisted coverage summaries against the
// bar rows, rebuilding any that drifted; called by the scheduler
func (m *Manager) SweepCoverage(ctx context.Context, assetID int64, variants []Variant) error {
	for _, variant := range variants {
		if err := m.coverage.Verify(ctx, assetID, variant); err != nil {
			if err != ErrCoverageCorrupt {
				return err
			}
			log.Warn().Int64("AssetID", assetID).Str("Variant", string(variant)).
				Msg("coverage summary drifted from bar rows; rebuilding")
			if _, err := m.coverage.Rebuild(ctx, assetID, variant); err != nil {
				return err
			}
		}
	}
	return nil
}

// SweepAllCoverage runs SweepCoverage over every series the coverage
// index has seen since startup; scheduled hourly by serve
func (m *Manager) SweepAllCoverage(ctx context.Context) error {
	var firstErr error
	for _, rec := range m.coverage.Tracked() {
		if err := m.SweepCoverage(ctx, rec.AssetID, []Variant{rec.Variant}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
