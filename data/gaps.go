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
	"time"

	"github.com/quantdb/qdb-api/calendar"
)

// Run is one upstream sub-window of a gap plan. Days are the trading days
// the run spans; Present means every day is already stored (hot runs are
// planned even when present, because today's bar updates intraday).
type Run struct {
	Window  DateRange
	Days    []time.Time
	Hot     bool
	Present bool
}

// GapPlan is the minimal upstream fetch plan for one request window
type GapPlan struct {
	Runs         []Run
	TradingDays  []time.Time
	PresentCount int
}

// Empty reports whether nothing needs to be fetched
func (p GapPlan) Empty() bool {
	return len(p.Runs) == 0
}

// MissingRanges lists the sub-windows of runs that are not yet stored
func (p GapPlan) MissingRanges() []DateRange {
	ranges := make([]DateRange, 0, len(p.Runs))
	for _, run := range p.Runs {
		if !run.Present {
			ranges = append(ranges, run.Window)
		}
	}
	return ranges
}

// ResolveGaps reduces a request window to the minimum upstream fetch plan.
// tradingDays is the ordered trading-day set T of the window; present
// holds the YYYYMMDD keys of stored bars (from a single range scan, not
// per-day lookups). Missing days are partitioned into maximal runs under
// the successor relation of T: two dates are neighbors iff no trading day
// lies strictly between them.
//
// When the window's latest date equals today and the market is open, the
// run touching today is marked hot; a hot run is planned even when all of
// its days are present and is expanded by one trading day on each side to
// absorb off-by-one upstream quirks. Runs touching today are never merged
// into earlier cold runs.
func ResolveGaps(tradingDays []time.Time, present map[string]bool, today time.Time, marketOpen bool) GapPlan {
	plan := GapPlan{TradingDays: tradingDays}
	if len(tradingDays) == 0 {
		return plan
	}

	todayKey := today.Format(calendar.DateFormat)
	lastKey := tradingDays[len(tradingDays)-1].Format(calendar.DateFormat)
	hotWindow := marketOpen && lastKey == todayKey

	var current []int
	flush := func(idxs []int) {
		if len(idxs) == 0 {
			return
		}
		days := make([]time.Time, 0, len(idxs))
		for _, i := range idxs {
			days = append(days, tradingDays[i])
		}
		run := Run{
			Window: DateRange{Begin: days[0], End: days[len(days)-1]},
			Days:   days,
		}
		if hotWindow && run.Window.End.Format(calendar.DateFormat) == todayKey {
			run.Hot = true
		}
		plan.Runs = append(plan.Runs, run)
	}

	for i, day := range tradingDays {
		if present[day.Format(calendar.DateFormat)] {
			plan.PresentCount++
			flush(current)
			current = nil
			continue
		}
		current = append(current, i)
	}
	flush(current)

	if hotWindow && (len(plan.Runs) == 0 || !plan.Runs[len(plan.Runs)-1].Hot) {
		// today's bar is stored but subject to intraday updates
		last := tradingDays[len(tradingDays)-1]
		plan.Runs = append(plan.Runs, Run{
			Window:  DateRange{Begin: last, End: last},
			Days:    []time.Time{last},
			Hot:     true,
			Present: true,
		})
	}

	for i := range plan.Runs {
		if plan.Runs[i].Hot {
			expandHotRun(&plan.Runs[i], tradingDays)
		}
	}

	return plan
}

// expandHotRun widens a hot run by at most one trading day on each side,
// bounded by the request window
func expandHotRun(run *Run, tradingDays []time.Time) {
	firstKey := run.Days[0].Format(calendar.DateFormat)
	lastKey := run.Days[len(run.Days)-1].Format(calendar.DateFormat)

	for i, day := range tradingDays {
		if day.Format(calendar.DateFormat) == firstKey && i > 0 {
			run.Window.Begin = tradingDays[i-1]
			run.Days = append([]time.Time{tradingDays[i-1]}, run.Days...)
		}
		if day.Format(calendar.DateFormat) == lastKey && i < len(tradingDays)-1 {
			run.Window.End = tradingDays[i+1]
			run.Days = append(run.Days, tradingDays[i+1])
		}
	}
}
