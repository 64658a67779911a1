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

// Package calendar is the source of truth for whether a date is a trading
// day in a given market. Trading day sets are built from a primary source,
// persisted as a versioned snapshot under the cache directory, and rebuilt
// when stale. When the primary source is unreachable the calendar may fall
// back to weekday enumeration; callers can detect this via FallbackMode.
package calendar

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Market identifies a trading venue family
type Market string

const (
	MarketCNA Market = "CN_A"
	MarketHK  Market = "HK"
)

// DateFormat is the canonical YYYYMMDD day key used throughout quantdb
const DateFormat = "20060102"

const (
	// SnapshotDepthYears is how far back a rebuilt snapshot reaches
	SnapshotDepthYears = 5
	// SnapshotHorizonYears is how far forward a rebuilt snapshot reaches
	SnapshotHorizonYears = 3
	// SnapshotMaxAge forces a rebuild when the snapshot is older than this
	SnapshotMaxAge = 30 * 24 * time.Hour
)

var (
	ErrUnknownMarket = errors.New("unknown market")
	ErrUnavailable   = errors.New("calendar unavailable")
	ErrInconsistency = errors.New("calendar snapshot inconsistency")
	ErrInvalidRange  = errors.New("begin must not be after end")
)

// Markets returns the set of registered markets
func Markets() []Market {
	return []Market{MarketCNA, MarketHK}
}

// Timezone returns the reference timezone for the market
func (m Market) Timezone() *time.Location {
	var name string
	switch m {
	case MarketCNA:
		name = "Asia/Shanghai"
	case MarketHK:
		name = "Asia/Hong_Kong"
	default:
		name = "Asia/Shanghai"
	}
	tz, err := time.LoadLocation(name)
	if err != nil {
		log.Panic().Err(err).Str("Timezone", name).Msg("could not load market timezone")
	}
	return tz
}

func (m Market) known() bool {
	switch m {
	case MarketCNA, MarketHK:
		return true
	}
	return false
}

// Day truncates t to midnight in the market's timezone
func (m Market) Day(t time.Time) time.Time {
	tz := m.Timezone()
	local := t.In(tz)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tz)
}

// Calendar answers trading-day queries for all registered markets
type Calendar struct {
	path          string
	source        Source
	allowFallback bool
	clock         func() time.Time

	locker   sync.RWMutex
	snapshot *Snapshot
	fallback bool
}

// Option configures a Calendar
type Option func(*Calendar)

// WithFallback permits weekday enumeration when the primary source is
// unreachable and no valid snapshot exists
func WithFallback() Option {
	return func(c *Calendar) { c.allowFallback = true }
}

// WithClock overrides the time source; tests use this to pin "today"
func WithClock(clock func() time.Time) Option {
	return func(c *Calendar) { c.clock = clock }
}

// New creates a Calendar that persists its snapshot at path and rebuilds it
// from source. An existing snapshot file is loaded (and upgraded) eagerly;
// a stale or missing snapshot is rebuilt on the first Refresh.
func New(path string, source Source, opts ...Option) *Calendar {
	cal := &Calendar{
		path:   path,
		source: source,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(cal)
	}

	snap, err := loadSnapshot(path)
	if err != nil {
		log.Debug().Err(err).Str("Path", path).Msg("no usable calendar snapshot on disk")
	} else {
		cal.snapshot = snap
	}

	return cal
}

// Refresh rebuilds the snapshot for the given markets (all registered
// markets when none are named). Rebuild is idempotent: refreshing an
// up-to-date snapshot is a no-op unless force is requested via a stale
// snapshot. A newer snapshot must not remove trading days an older one
// declared; such a conflict keeps the union of days and returns
// ErrInconsistency.
func (cal *Calendar) Refresh(ctx context.Context, markets ...Market) error {
	if len(markets) == 0 {
		markets = Markets()
	}

	now := cal.clock()
	begin := now.AddDate(-SnapshotDepthYears, 0, 0)
	end := now.AddDate(SnapshotHorizonYears, 0, 0)

	cal.locker.Lock()
	defer cal.locker.Unlock()

	next := cal.snapshot.clone()
	var inconsistent bool

	for _, market := range markets {
		if !market.known() {
			return ErrUnknownMarket
		}

		subLog := log.With().Str("Market", string(market)).Logger()

		days, err := cal.source.TradingDays(ctx, market, begin, end)
		if err != nil {
			subLog.Error().Stack().Err(err).Msg("primary calendar source failed")
			if cal.snapshot.has(market) {
				// keep serving the persisted snapshot
				continue
			}
			if !cal.allowFallback {
				return ErrUnavailable
			}
			subLog.Warn().Msg("no snapshot available; falling back to weekday enumeration")
			days, err = weekdays(market, begin, end)
			if err != nil {
				return ErrUnavailable
			}
			cal.fallback = true
		} else {
			cal.fallback = false
		}

		keys := make([]string, 0, len(days))
		for _, d := range days {
			keys = append(keys, market.Day(d).Format(DateFormat))
		}
		sort.Strings(keys)

		if removed := next.merge(market, keys, cal.source.Name(), now); removed > 0 {
			subLog.Error().Int("RemovedDays", removed).Msg("new snapshot dropped previously declared trading days; keeping union")
			inconsistent = true
		}
	}

	next.GeneratedAt = now
	next.Version = currentSnapshotVersion()
	cal.snapshot = next

	if err := saveSnapshot(cal.path, next); err != nil {
		log.Error().Stack().Err(err).Str("Path", cal.path).Msg("could not persist calendar snapshot")
	}

	if inconsistent {
		return ErrInconsistency
	}
	return nil
}

// RefreshIfStale rebuilds the snapshot only when it is missing, older than
// SnapshotMaxAge, from a previous calendar year, or written by a different
// code version.
func (cal *Calendar) RefreshIfStale(ctx context.Context) error {
	cal.locker.RLock()
	stale := cal.snapshot.stale(cal.clock())
	cal.locker.RUnlock()

	if !stale {
		return nil
	}
	return cal.Refresh(ctx)
}

// FallbackMode reports whether the calendar is serving weekday-enumerated
// days because the primary source was unreachable
func (cal *Calendar) FallbackMode() bool {
	cal.locker.RLock()
	defer cal.locker.RUnlock()
	return cal.fallback
}

// IsTradingDay reports whether date is a trading day in the market
func (cal *Calendar) IsTradingDay(market Market, date time.Time) (bool, error) {
	if !market.known() {
		return false, ErrUnknownMarket
	}

	key := market.Day(date).Format(DateFormat)

	cal.locker.RLock()
	defer cal.locker.RUnlock()

	if !cal.snapshot.has(market) {
		if !cal.allowFallback {
			return false, ErrUnavailable
		}
		// best-effort: weekdays trade
		wd := market.Day(date).Weekday()
		return wd != time.Saturday && wd != time.Sunday, nil
	}

	return cal.snapshot.contains(market, key), nil
}

// TradingDays returns the ordered, inclusive list of trading days in
// [begin, end]; empty when no trading day lies in the interval
func (cal *Calendar) TradingDays(market Market, begin, end time.Time) ([]time.Time, error) {
	if !market.known() {
		return nil, ErrUnknownMarket
	}

	beginDay := market.Day(begin)
	endDay := market.Day(end)
	if beginDay.After(endDay) {
		return nil, ErrInvalidRange
	}

	cal.locker.RLock()
	defer cal.locker.RUnlock()

	if !cal.snapshot.has(market) {
		if !cal.allowFallback {
			return nil, ErrUnavailable
		}
		return weekdays(market, beginDay, endDay)
	}

	keys := cal.snapshot.rangeKeys(market, beginDay.Format(DateFormat), endDay.Format(DateFormat))
	tz := market.Timezone()
	days := make([]time.Time, 0, len(keys))
	for _, key := range keys {
		d, err := time.ParseInLocation(DateFormat, key, tz)
		if err != nil {
			log.Error().Stack().Err(err).Str("Day", key).Msg("corrupt day key in calendar snapshot")
			continue
		}
		days = append(days, d)
	}

	return days, nil
}

// Today returns the current date in the market's timezone
func (cal *Calendar) Today(market Market) time.Time {
	return market.Day(cal.clock())
}

// weekdays enumerates Monday-Friday dates, the declared best-effort policy
// when no snapshot is available
func weekdays(market Market, begin, end time.Time) ([]time.Time, error) {
	if begin.After(end) {
		return nil, ErrInvalidRange
	}

	days := make([]time.Time, 0, 252)
	for d := market.Day(begin); !d.After(market.Day(end)); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		days = append(days, d)
	}
	return days, nil
}
