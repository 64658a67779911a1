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

package data_test

import (
	"context"
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/quantdb/qdb-api/calendar"
	"github.com/quantdb/qdb-api/data"
)

func fp(v float64) *float64 {
	return &v
}

func utcDay(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seedBars(days ...time.Time) []*data.Bar {
	bars := make([]*data.Bar, 0, len(days))
	for i, d := range days {
		px := 100.0 + float64(i)
		bars = append(bars, &data.Bar{
			Date:   d,
			Open:   fp(px),
			High:   fp(px + 1),
			Low:    fp(px - 1),
			Close:  fp(px + 0.5),
			Volume: fp(1000),
		})
	}
	return bars
}

var _ = Describe("SqliteStore", func() {
	var (
		ctx   context.Context
		store *data.SqliteStore
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		store, err = data.OpenSqliteStore(ctx, GinkgoT().TempDir())
		Expect(err).To(BeNil())
		DeferCleanup(func() { Expect(store.Close()).To(Succeed()) })
	})

	Describe("asset resolution", func() {
		It("allocates a stable id on first sight", func() {
			id1, err := store.ResolveAsset(ctx, "600519", "CN_A", "stock")
			Expect(err).To(BeNil())
			Expect(id1).To(BeNumerically(">", 0))

			id2, err := store.ResolveAsset(ctx, "600519", "CN_A", "stock")
			Expect(err).To(BeNil())
			Expect(id2).To(Equal(id1))
		})

		It("allocates distinct ids per symbol", func() {
			id1, err := store.ResolveAsset(ctx, "600519", "CN_A", "stock")
			Expect(err).To(BeNil())
			id2, err := store.ResolveAsset(ctx, "000001", "CN_A", "stock")
			Expect(err).To(BeNil())
			Expect(id2).ToNot(Equal(id1))
		})

		It("reports unknown symbols", func() {
			_, err := store.GetAsset(ctx, "999999")
			Expect(err).To(MatchError(data.ErrNotFound))
		})

		It("round-trips descriptive fields", func() {
			id, err := store.ResolveAsset(ctx, "600519", "CN_A", "stock")
			Expect(err).To(BeNil())

			updatedAt := time.Date(2024, 6, 14, 8, 0, 0, 0, time.UTC)
			Expect(store.UpdateAsset(ctx, &data.Asset{
				ID:         id,
				Symbol:     "600519",
				Name:       "贵州茅台",
				Exchange:   "SSE",
				Currency:   "CNY",
				Industry:   "白酒",
				ListDate:   "20010827",
				PE:         fp(30.5),
				DataSource: "akshare",
				UpdatedAt:  updatedAt,
			})).To(Succeed())

			asset, err := store.GetAsset(ctx, "600519")
			Expect(err).To(BeNil())
			Expect(asset.ID).To(Equal(id))
			Expect(asset.Name).To(Equal("贵州茅台"))
			Expect(asset.Market).To(Equal(calendar.MarketCNA))
			Expect(asset.Exchange).To(Equal("SSE"))
			Expect(asset.Industry).To(Equal("白酒"))
			Expect(asset.ListDate).To(Equal("20010827"))
			Expect(asset.PE).To(HaveValue(Equal(30.5)))
			Expect(asset.PB).To(BeNil())
			Expect(asset.DataSource).To(Equal("akshare"))
		})
	})

	Describe("bar storage", func() {
		var assetID int64

		BeforeEach(func() {
			var err error
			assetID, err = store.ResolveAsset(ctx, "600519", "CN_A", "stock")
			Expect(err).To(BeNil())
		})

		It("reads back an inclusive window in date order", func() {
			bars := seedBars(utcDay(2024, 6, 5), utcDay(2024, 6, 3), utcDay(2024, 6, 4))
			Expect(store.UpsertBars(ctx, assetID, data.Variant("none"), bars)).To(Succeed())

			got, err := store.ReadBars(ctx, assetID, data.Variant("none"),
				utcDay(2024, 6, 3), utcDay(2024, 6, 5))
			Expect(err).To(BeNil())
			Expect(got).To(HaveLen(3))
			Expect(got[0].Date.Format(calendar.DateFormat)).To(Equal("20240603"))
			Expect(got[1].Date.Format(calendar.DateFormat)).To(Equal("20240604"))
			Expect(got[2].Date.Format(calendar.DateFormat)).To(Equal("20240605"))

			got, err = store.ReadBars(ctx, assetID, data.Variant("none"),
				utcDay(2024, 6, 4), utcDay(2024, 6, 4))
			Expect(err).To(BeNil())
			Expect(got).To(HaveLen(1))
		})

		It("replaces non-key fields on conflict", func() {
			day := utcDay(2024, 6, 3)
			Expect(store.UpsertBars(ctx, assetID, data.Variant("none"), seedBars(day))).To(Succeed())

			Expect(store.UpsertBars(ctx, assetID, data.Variant("none"), []*data.Bar{{
				Date:  day,
				Close: fp(123.45),
			}})).To(Succeed())

			got, err := store.ReadBars(ctx, assetID, data.Variant("none"), day, day)
			Expect(err).To(BeNil())
			Expect(got).To(HaveLen(1))
			Expect(got[0].Close).To(HaveValue(Equal(123.45)))
			Expect(got[0].Open).To(BeNil())
		})

		It("keeps variants separate", func() {
			day := utcDay(2024, 6, 3)
			Expect(store.UpsertBars(ctx, assetID, data.Variant("none"), seedBars(day))).To(Succeed())

			got, err := store.ReadBars(ctx, assetID, data.Variant("qfq"), day, day)
			Expect(err).To(BeNil())
			Expect(got).To(BeEmpty())
		})

		It("preserves null columns", func() {
			day := utcDay(2024, 6, 3)
			Expect(store.UpsertBars(ctx, assetID, data.Variant("none"), []*data.Bar{{Date: day}})).To(Succeed())

			got, err := store.ReadBars(ctx, assetID, data.Variant("none"), day, day)
			Expect(err).To(BeNil())
			Expect(got).To(HaveLen(1))
			Expect(got[0].Open).To(BeNil())
			Expect(got[0].Volume).To(BeNil())
		})

		It("rejects non-finite values before writing any row", func() {
			bars := seedBars(utcDay(2024, 6, 3), utcDay(2024, 6, 4))
			bars[1].Close = fp(math.NaN())

			Expect(store.UpsertBars(ctx, assetID, data.Variant("none"), bars)).
				To(MatchError(data.ErrSchemaViolation))

			got, err := store.ReadBars(ctx, assetID, data.Variant("none"),
				utcDay(2024, 6, 3), utcDay(2024, 6, 4))
			Expect(err).To(BeNil())
			Expect(got).To(BeEmpty())
		})

		It("rejects bars without a date", func() {
			Expect(store.UpsertBars(ctx, assetID, data.Variant("none"), []*data.Bar{{}})).
				To(MatchError(data.ErrSchemaViolation))
		})

		It("deletes a window of bars", func() {
			Expect(store.UpsertBars(ctx, assetID, data.Variant("none"),
				seedBars(utcDay(2024, 6, 3), utcDay(2024, 6, 4), utcDay(2024, 6, 5)))).To(Succeed())

			begin := utcDay(2024, 6, 4)
			Expect(store.DeleteBars(ctx, assetID, data.Variant("none"), &begin, nil)).To(Succeed())

			got, err := store.ReadBars(ctx, assetID, data.Variant("none"),
				utcDay(2024, 6, 3), utcDay(2024, 6, 5))
			Expect(err).To(BeNil())
			Expect(got).To(HaveLen(1))
		})

		It("deletes all bars with nil bounds", func() {
			Expect(store.UpsertBars(ctx, assetID, data.Variant("none"),
				seedBars(utcDay(2024, 6, 3), utcDay(2024, 6, 4)))).To(Succeed())
			Expect(store.DeleteBars(ctx, assetID, data.Variant("none"), nil, nil)).To(Succeed())

			got, err := store.ReadBars(ctx, assetID, data.Variant("none"),
				utcDay(2024, 6, 3), utcDay(2024, 6, 4))
			Expect(err).To(BeNil())
			Expect(got).To(BeEmpty())
		})
	})

	Describe("coverage", func() {
		var assetID int64

		BeforeEach(func() {
			var err error
			assetID, err = store.ResolveAsset(ctx, "600519", "CN_A", "stock")
			Expect(err).To(BeNil())
		})

		It("recomputes the summary from the bar rows", func() {
			Expect(store.UpsertBars(ctx, assetID, data.Variant("none"),
				seedBars(utcDay(2024, 6, 3), utcDay(2024, 6, 4), utcDay(2024, 6, 5)))).To(Succeed())

			rec, err := store.Coverage(ctx, assetID, data.Variant("none"))
			Expect(err).To(BeNil())
			Expect(rec).ToNot(BeNil())
			Expect(rec.BarCount).To(Equal(int64(3)))
			Expect(rec.Earliest).To(Equal(utcDay(2024, 6, 3)))
			Expect(rec.Latest).To(Equal(utcDay(2024, 6, 5)))
		})

		It("returns nil for an empty series", func() {
			rec, err := store.Coverage(ctx, assetID, data.Variant("none"))
			Expect(err).To(BeNil())
			Expect(rec).To(BeNil())
		})

		It("round-trips the persisted record", func() {
			_, err := store.ReadCoverage(ctx, assetID, data.Variant("none"))
			Expect(err).To(MatchError(data.ErrNotFound))

			now := time.Date(2024, 6, 14, 8, 0, 0, 0, time.UTC)
			Expect(store.WriteCoverage(ctx, &data.CoverageRecord{
				AssetID:          assetID,
				Variant:          data.Variant("none"),
				Earliest:         utcDay(2024, 6, 3),
				Latest:           utcDay(2024, 6, 5),
				BarCount:         3,
				FirstRequestedAt: now,
				LastAccessedAt:   now,
				LastUpdatedAt:    now,
			})).To(Succeed())

			rec, err := store.ReadCoverage(ctx, assetID, data.Variant("none"))
			Expect(err).To(BeNil())
			Expect(rec.BarCount).To(Equal(int64(3)))
			Expect(rec.Earliest).To(Equal(utcDay(2024, 6, 3)))
			Expect(rec.Latest).To(Equal(utcDay(2024, 6, 5)))
		})

		It("preserves first-requested across rewrites", func() {
			first := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
			later := time.Date(2024, 6, 14, 8, 0, 0, 0, time.UTC)

			Expect(store.WriteCoverage(ctx, &data.CoverageRecord{
				AssetID: assetID, Variant: data.Variant("none"),
				BarCount: 1, FirstRequestedAt: first,
			})).To(Succeed())
			Expect(store.WriteCoverage(ctx, &data.CoverageRecord{
				AssetID: assetID, Variant: data.Variant("none"),
				BarCount: 2, FirstRequestedAt: later,
			})).To(Succeed())

			rec, err := store.ReadCoverage(ctx, assetID, data.Variant("none"))
			Expect(err).To(BeNil())
			Expect(rec.BarCount).To(Equal(int64(2)))
			Expect(rec.FirstRequestedAt.Equal(first)).To(BeTrue())
		})
	})

	Describe("deletion", func() {
		It("removes an asset with its bars and coverage", func() {
			assetID, err := store.ResolveAsset(ctx, "600519", "CN_A", "stock")
			Expect(err).To(BeNil())
			Expect(store.UpsertBars(ctx, assetID, data.Variant("none"), seedBars(utcDay(2024, 6, 3)))).To(Succeed())
			Expect(store.WriteCoverage(ctx, &data.CoverageRecord{
				AssetID: assetID, Variant: data.Variant("none"), BarCount: 1,
			})).To(Succeed())

			Expect(store.DeleteAsset(ctx, assetID)).To(Succeed())

			_, err = store.GetAsset(ctx, "600519")
			Expect(err).To(MatchError(data.ErrNotFound))
			_, err = store.ReadCoverage(ctx, assetID, data.Variant("none"))
			Expect(err).To(MatchError(data.ErrNotFound))
			bars, err := store.ReadBars(ctx, assetID, data.Variant("none"),
				utcDay(2024, 6, 3), utcDay(2024, 6, 3))
			Expect(err).To(BeNil())
			Expect(bars).To(BeEmpty())
		})

		It("purges every row", func() {
			for _, symbol := range []string{"600519", "000001"} {
				assetID, err := store.ResolveAsset(ctx, symbol, "CN_A", "stock")
				Expect(err).To(BeNil())
				Expect(store.UpsertBars(ctx, assetID, data.Variant("none"), seedBars(utcDay(2024, 6, 3)))).To(Succeed())
			}

			Expect(store.Purge(ctx)).To(Succeed())

			_, err := store.GetAsset(ctx, "600519")
			Expect(err).To(MatchError(data.ErrNotFound))
			_, err = store.GetAsset(ctx, "000001")
			Expect(err).To(MatchError(data.ErrNotFound))
		})
	})
})
