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

package calendar_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/quantdb/qdb-api/calendar"
)

type failingSource struct{}

func (failingSource) Name() string {
	return "failing"
}

func (failingSource) TradingDays(_ context.Context, _ calendar.Market, _, _ time.Time) ([]time.Time, error) {
	return nil, errors.New("source unreachable")
}

type countingSource struct {
	inner calendar.Source
	calls int
}

func (s *countingSource) Name() string {
	return s.inner.Name()
}

func (s *countingSource) TradingDays(ctx context.Context, market calendar.Market, begin, end time.Time) ([]time.Time, error) {
	s.calls++
	return s.inner.TradingDays(ctx, market, begin, end)
}

var _ = Describe("Calendar", func() {
	var (
		ctx      context.Context
		tz       *time.Location
		now      time.Time
		days     []time.Time
		snapPath string
	)

	day := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 0, 0, 0, 0, tz)
	}

	newStatic := func() *calendar.StaticSource {
		return &calendar.StaticSource{Days: map[calendar.Market][]time.Time{
			calendar.MarketCNA: days,
			calendar.MarketHK:  days,
		}}
	}

	BeforeEach(func() {
		ctx = context.Background()
		tz = calendar.MarketCNA.Timezone()
		now = time.Date(2024, 6, 14, 10, 0, 0, 0, tz)
		snapPath = filepath.Join(GinkgoT().TempDir(), calendar.SnapshotFileName)

		days = []time.Time{
			day(2024, 6, 3), day(2024, 6, 4), day(2024, 6, 5), day(2024, 6, 6), day(2024, 6, 7),
			day(2024, 6, 11), day(2024, 6, 12), day(2024, 6, 13), day(2024, 6, 14),
			day(2024, 6, 17), day(2024, 6, 18), day(2024, 6, 19), day(2024, 6, 20), day(2024, 6, 21),
		}
	})

	Describe("when refreshed from a healthy source", func() {
		var cal *calendar.Calendar

		BeforeEach(func() {
			cal = calendar.New(snapPath, newStatic(), calendar.WithClock(func() time.Time { return now }))
			Expect(cal.Refresh(ctx)).To(Succeed())
		})

		It("recognizes trading days", func() {
			trading, err := cal.IsTradingDay(calendar.MarketCNA, day(2024, 6, 14))
			Expect(err).To(BeNil())
			Expect(trading).To(BeTrue())
		})

		It("rejects a holiday that the source omitted", func() {
			// 2024-06-10 is the dragon boat festival
			trading, err := cal.IsTradingDay(calendar.MarketCNA, day(2024, 6, 10))
			Expect(err).To(BeNil())
			Expect(trading).To(BeFalse())
		})

		It("rejects weekends", func() {
			trading, err := cal.IsTradingDay(calendar.MarketCNA, day(2024, 6, 15))
			Expect(err).To(BeNil())
			Expect(trading).To(BeFalse())
		})

		It("lists trading days in order over an inclusive window", func() {
			got, err := cal.TradingDays(calendar.MarketCNA, day(2024, 6, 7), day(2024, 6, 17))
			Expect(err).To(BeNil())

			formatted := make([]string, 0, len(got))
			for _, d := range got {
				formatted = append(formatted, d.Format(calendar.DateFormat))
			}
			Expect(formatted).To(Equal([]string{
				"20240607", "20240611", "20240612", "20240613", "20240614", "20240617",
			}))
		})

		It("returns an empty list when no trading day falls in the window", func() {
			got, err := cal.TradingDays(calendar.MarketCNA, day(2024, 6, 8), day(2024, 6, 9))
			Expect(err).To(BeNil())
			Expect(got).To(BeEmpty())
		})

		It("rejects inverted windows", func() {
			_, err := cal.TradingDays(calendar.MarketCNA, day(2024, 6, 17), day(2024, 6, 7))
			Expect(err).To(MatchError(calendar.ErrInvalidRange))
		})

		It("rejects unknown markets", func() {
			_, err := cal.TradingDays(calendar.Market("NASDAQ"), day(2024, 6, 7), day(2024, 6, 17))
			Expect(err).To(MatchError(calendar.ErrUnknownMarket))

			_, err = cal.IsTradingDay(calendar.Market("NASDAQ"), day(2024, 6, 14))
			Expect(err).To(MatchError(calendar.ErrUnknownMarket))
		})

		It("reports today in the market's timezone", func() {
			Expect(cal.Today(calendar.MarketCNA)).To(BeTemporally("==", day(2024, 6, 14)))
		})

		It("does not report fallback mode", func() {
			Expect(cal.FallbackMode()).To(BeFalse())
		})
	})

	Describe("market open hours", func() {
		var cal *calendar.Calendar

		BeforeEach(func() {
			cal = calendar.New(snapPath, newStatic(), calendar.WithClock(func() time.Time { return now }))
			Expect(cal.Refresh(ctx)).To(Succeed())
		})

		It("is open during the morning session", func() {
			Expect(cal.IsMarketOpen(calendar.MarketCNA, time.Date(2024, 6, 14, 10, 0, 0, 0, tz))).To(BeTrue())
		})

		It("is closed over the lunch break", func() {
			Expect(cal.IsMarketOpen(calendar.MarketCNA, time.Date(2024, 6, 14, 12, 30, 0, 0, tz))).To(BeFalse())
		})

		It("reopens at the afternoon bell", func() {
			Expect(cal.IsMarketOpen(calendar.MarketCNA, time.Date(2024, 6, 14, 13, 0, 0, 0, tz))).To(BeTrue())
		})

		It("is closed after the close", func() {
			Expect(cal.IsMarketOpen(calendar.MarketCNA, time.Date(2024, 6, 14, 15, 1, 0, 0, tz))).To(BeFalse())
		})

		It("is closed on non-trading days", func() {
			Expect(cal.IsMarketOpen(calendar.MarketCNA, time.Date(2024, 6, 15, 10, 0, 0, 0, tz))).To(BeFalse())
		})

		It("keeps hong kong trading through 16:00", func() {
			hkTZ := calendar.MarketHK.Timezone()
			Expect(cal.IsMarketOpen(calendar.MarketHK, time.Date(2024, 6, 14, 15, 30, 0, 0, hkTZ))).To(BeTrue())
			Expect(cal.IsMarketOpen(calendar.MarketHK, time.Date(2024, 6, 14, 12, 30, 0, 0, hkTZ))).To(BeFalse())
		})
	})

	Describe("when the primary source is unreachable", func() {
		It("fails without fallback and no snapshot", func() {
			cal := calendar.New(snapPath, failingSource{}, calendar.WithClock(func() time.Time { return now }))
			Expect(cal.Refresh(ctx)).To(MatchError(calendar.ErrUnavailable))

			_, err := cal.IsTradingDay(calendar.MarketCNA, day(2024, 6, 14))
			Expect(err).To(MatchError(calendar.ErrUnavailable))
		})

		It("enumerates weekdays when fallback is permitted", func() {
			cal := calendar.New(snapPath, failingSource{}, calendar.WithFallback(),
				calendar.WithClock(func() time.Time { return now }))
			Expect(cal.Refresh(ctx)).To(Succeed())
			Expect(cal.FallbackMode()).To(BeTrue())

			// the holiday is indistinguishable from a weekday in fallback
			trading, err := cal.IsTradingDay(calendar.MarketCNA, day(2024, 6, 10))
			Expect(err).To(BeNil())
			Expect(trading).To(BeTrue())

			trading, err = cal.IsTradingDay(calendar.MarketCNA, day(2024, 6, 15))
			Expect(err).To(BeNil())
			Expect(trading).To(BeFalse())
		})

		It("keeps serving the persisted snapshot", func() {
			cal := calendar.New(snapPath, newStatic(), calendar.WithClock(func() time.Time { return now }))
			Expect(cal.Refresh(ctx)).To(Succeed())

			broken := calendar.New(snapPath, failingSource{}, calendar.WithClock(func() time.Time { return now }))
			Expect(broken.Refresh(ctx)).To(Succeed())

			trading, err := broken.IsTradingDay(calendar.MarketCNA, day(2024, 6, 14))
			Expect(err).To(BeNil())
			Expect(trading).To(BeTrue())
			Expect(broken.FallbackMode()).To(BeFalse())
		})
	})

	Describe("snapshot monotonicity", func() {
		It("keeps the union when a rebuild drops declared days", func() {
			source := newStatic()
			cal := calendar.New(snapPath, source, calendar.WithClock(func() time.Time { return now }))
			Expect(cal.Refresh(ctx)).To(Succeed())

			// the rebuilt source no longer mentions 2024-06-13
			pruned := make([]time.Time, 0, len(days))
			for _, d := range days {
				if d.Equal(day(2024, 6, 13)) {
					continue
				}
				pruned = append(pruned, d)
			}
			source.Days[calendar.MarketCNA] = pruned

			Expect(cal.Refresh(ctx)).To(MatchError(calendar.ErrInconsistency))

			trading, err := cal.IsTradingDay(calendar.MarketCNA, day(2024, 6, 13))
			Expect(err).To(BeNil())
			Expect(trading).To(BeTrue())
		})

		It("treats new trading days as a normal update", func() {
			source := newStatic()
			cal := calendar.New(snapPath, source, calendar.WithClock(func() time.Time { return now }))
			Expect(cal.Refresh(ctx)).To(Succeed())

			source.Days[calendar.MarketCNA] = append(source.Days[calendar.MarketCNA], day(2024, 6, 24))
			Expect(cal.Refresh(ctx)).To(Succeed())

			trading, err := cal.IsTradingDay(calendar.MarketCNA, day(2024, 6, 24))
			Expect(err).To(BeNil())
			Expect(trading).To(BeTrue())
		})
	})

	Describe("snapshot persistence", func() {
		It("loads the persisted snapshot eagerly", func() {
			cal := calendar.New(snapPath, newStatic(), calendar.WithClock(func() time.Time { return now }))
			Expect(cal.Refresh(ctx)).To(Succeed())

			// no Refresh: the day set must come straight off disk
			reloaded := calendar.New(snapPath, failingSource{}, calendar.WithClock(func() time.Time { return now }))
			trading, err := reloaded.IsTradingDay(calendar.MarketCNA, day(2024, 6, 14))
			Expect(err).To(BeNil())
			Expect(trading).To(BeTrue())
		})

		It("upgrades a v1 snapshot transparently", func() {
			v1 := []byte(`{"CN_A": ["20240613", "20240614", "20240617"]}`)
			Expect(os.WriteFile(snapPath, v1, 0600)).To(Succeed())

			cal := calendar.New(snapPath, failingSource{}, calendar.WithClock(func() time.Time { return now }))
			trading, err := cal.IsTradingDay(calendar.MarketCNA, day(2024, 6, 14))
			Expect(err).To(BeNil())
			Expect(trading).To(BeTrue())

			got, err := cal.TradingDays(calendar.MarketCNA, day(2024, 6, 13), day(2024, 6, 17))
			Expect(err).To(BeNil())
			Expect(got).To(HaveLen(3))
		})
	})

	Describe("staleness policy", func() {
		It("skips the source when the snapshot is fresh", func() {
			source := &countingSource{inner: newStatic()}
			cal := calendar.New(snapPath, source, calendar.WithClock(func() time.Time { return now }))
			Expect(cal.Refresh(ctx)).To(Succeed())
			Expect(source.calls).To(Equal(2))

			Expect(cal.RefreshIfStale(ctx)).To(Succeed())
			Expect(source.calls).To(Equal(2))
		})

		It("rebuilds when the snapshot outlives its max age", func() {
			source := &countingSource{inner: newStatic()}
			cal := calendar.New(snapPath, source, calendar.WithClock(func() time.Time { return now }))
			Expect(cal.Refresh(ctx)).To(Succeed())
			before := source.calls

			now = now.AddDate(0, 0, 35)
			Expect(cal.RefreshIfStale(ctx)).To(Succeed())
			Expect(source.calls).To(BeNumerically(">", before))
		})

		It("rebuilds across a year boundary even when recent", func() {
			source := &countingSource{inner: newStatic()}
			now = time.Date(2024, 12, 20, 10, 0, 0, 0, tz)
			cal := calendar.New(snapPath, source, calendar.WithClock(func() time.Time { return now }))
			Expect(cal.Refresh(ctx)).To(Succeed())
			before := source.calls

			now = time.Date(2025, 1, 2, 10, 0, 0, 0, tz)
			Expect(cal.RefreshIfStale(ctx)).To(Succeed())
			Expect(source.calls).To(BeNumerically(">", before))
		})
	})
})
