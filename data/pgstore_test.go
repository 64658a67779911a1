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
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"

	"github.com/quantdb/qdb-api/calendar"
	"github.com/quantdb/qdb-api/data"
	"github.com/quantdb/qdb-api/data/database"
	"github.com/quantdb/qdb-api/pgxmockhelper"
)

var _ = Describe("PgStore", func() {
	var (
		ctx    context.Context
		dbPool pgxmock.PgxConnIface
		pg     *data.PgStore
	)

	BeforeEach(func() {
		var err error
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)
		pg = data.NewPgStore()
		ctx = context.Background()
	})

	AfterEach(func() {
		dbPool.ExpectClose()
		Expect(dbPool.Close(ctx)).To(Succeed())
	})

	Describe("EnsureSchema", func() {
		It("applies the schema in one transaction", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectExec("CREATE TABLE IF NOT EXISTS assets").
				WillReturnResult(pgconn.CommandTag("CREATE TABLE"))
			dbPool.ExpectCommit()

			Expect(pg.EnsureSchema(ctx)).To(Succeed())
		})
	})

	Describe("ResolveAsset", func() {
		It("returns the id from the upsert", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectQuery("INSERT INTO assets").
				WithArgs("600519", "CN_A", "stock").
				WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))
			dbPool.ExpectCommit()

			id, err := pg.ResolveAsset(ctx, "600519", "CN_A", "stock")
			Expect(err).To(BeNil())
			Expect(id).To(Equal(int64(42)))
		})
	})

	Describe("GetAsset", func() {
		It("maps the asset row", func() {
			updatedAt := time.Date(2024, 6, 14, 2, 0, 0, 0, time.UTC)
			dbPool.ExpectBegin()
			dbPool.ExpectQuery("SELECT id, symbol, name, market").
				WithArgs("600519").
				WillReturnRows(pgxmock.NewRows([]string{
					"id", "symbol", "name", "market", "exchange", "currency",
					"asset_type", "industry", "list_date", "pe", "pb", "roe",
					"data_source", "updated_at",
				}).AddRow(int64(42), "600519", "贵州茅台", calendar.MarketCNA, "SSE",
					"CNY", "stock", "白酒", "20010827", fp(30.5), nil, nil,
					"akshare", &updatedAt))
			dbPool.ExpectCommit()

			asset, err := pg.GetAsset(ctx, "600519")
			Expect(err).To(BeNil())
			Expect(asset.ID).To(Equal(int64(42)))
			Expect(asset.Name).To(Equal("贵州茅台"))
			Expect(asset.Market).To(Equal(calendar.MarketCNA))
			Expect(asset.PE).To(HaveValue(Equal(30.5)))
			Expect(asset.PB).To(BeNil())
			Expect(asset.UpdatedAt).To(BeTemporally("==", updatedAt))
		})

		It("translates no rows into ErrNotFound", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectQuery("SELECT id, symbol, name, market").
				WithArgs("999999").
				WillReturnError(pgx.ErrNoRows)

			_, err := pg.GetAsset(ctx, "999999")
			Expect(err).To(MatchError(data.ErrNotFound))
		})
	})

	Describe("UpdateAsset", func() {
		It("writes the descriptive columns", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectExec("UPDATE assets SET").
				WillReturnResult(pgconn.CommandTag("UPDATE 1"))
			dbPool.ExpectCommit()

			Expect(pg.UpdateAsset(ctx, &data.Asset{
				ID:         42,
				Symbol:     "600519",
				Name:       "贵州茅台",
				DataSource: "akshare",
				UpdatedAt:  time.Now(),
			})).To(Succeed())
		})
	})

	Describe("ReadBars", func() {
		It("serves the fixture window in order", func() {
			begin := utcDay(2024, 6, 3)
			end := utcDay(2024, 6, 7)
			pgxmockhelper.MockReadBars(dbPool, "testdata/bars_600519.csv", begin, end)

			bars, err := pg.ReadBars(ctx, 42, data.Variant("none"), begin, end)
			Expect(err).To(BeNil())
			Expect(bars).To(HaveLen(5))
			Expect(bars[0].Date.Format(calendar.DateFormat)).To(Equal("20240603"))
			Expect(bars[0].Open).To(HaveValue(Equal(1700.0)))
			Expect(bars[4].Close).To(HaveValue(Equal(1716.2)))
		})

		It("keeps suspended-day columns null", func() {
			begin := utcDay(2024, 6, 3)
			end := utcDay(2024, 6, 7)
			pgxmockhelper.MockReadBars(dbPool, "testdata/bars_600519.csv", begin, end)

			bars, err := pg.ReadBars(ctx, 42, data.Variant("none"), begin, end)
			Expect(err).To(BeNil())
			Expect(bars[2].Date.Format(calendar.DateFormat)).To(Equal("20240605"))
			Expect(bars[2].Open).To(BeNil())
			Expect(bars[2].Volume).To(BeNil())
		})

		It("clips the fixture to the requested range", func() {
			begin := utcDay(2024, 6, 4)
			end := utcDay(2024, 6, 6)
			pgxmockhelper.MockReadBars(dbPool, "testdata/bars_600519.csv", begin, end)

			bars, err := pg.ReadBars(ctx, 42, data.Variant("none"), begin, end)
			Expect(err).To(BeNil())
			Expect(bars).To(HaveLen(3))
			Expect(bars[0].Date.Format(calendar.DateFormat)).To(Equal("20240604"))
			Expect(bars[2].Date.Format(calendar.DateFormat)).To(Equal("20240606"))
		})
	})

	Describe("UpsertBars", func() {
		It("inserts each bar inside one transaction", func() {
			bars := seedBars(utcDay(2024, 6, 3), utcDay(2024, 6, 4))

			dbPool.ExpectBegin()
			for range bars {
				dbPool.ExpectExec("INSERT INTO bars").
					WillReturnResult(pgconn.CommandTag("INSERT 0 1"))
			}
			dbPool.ExpectCommit()

			Expect(pg.UpsertBars(ctx, 42, data.Variant("none"), bars)).To(Succeed())
		})

		It("does not open a transaction for an empty batch", func() {
			Expect(pg.UpsertBars(ctx, 42, data.Variant("none"), nil)).To(Succeed())
			Expect(dbPool.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("DeleteBars", func() {
		It("applies the begin bound", func() {
			begin := utcDay(2024, 6, 5)

			dbPool.ExpectBegin()
			dbPool.ExpectExec("DELETE FROM bars").
				WithArgs(int64(42), "none", begin).
				WillReturnResult(pgconn.CommandTag("DELETE 2"))
			dbPool.ExpectCommit()

			Expect(pg.DeleteBars(ctx, 42, data.Variant("none"), &begin, nil)).To(Succeed())
		})
	})

	Describe("DeleteAsset", func() {
		It("removes bars, coverage, and the asset row", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectExec("DELETE FROM bars").
				WillReturnResult(pgconn.CommandTag("DELETE 5"))
			dbPool.ExpectExec("DELETE FROM coverage").
				WillReturnResult(pgconn.CommandTag("DELETE 1"))
			dbPool.ExpectExec("DELETE FROM assets").
				WillReturnResult(pgconn.CommandTag("DELETE 1"))
			dbPool.ExpectCommit()

			Expect(pg.DeleteAsset(ctx, 42)).To(Succeed())
		})
	})

	Describe("Coverage", func() {
		It("summarizes the stored rows", func() {
			earliest := utcDay(2024, 6, 3)
			latest := utcDay(2024, 6, 7)

			dbPool.ExpectBegin()
			dbPool.ExpectQuery("SELECT MIN").
				WithArgs(int64(42), "none").
				WillReturnRows(pgxmock.NewRows([]string{"min", "max", "count"}).
					AddRow(&earliest, &latest, int64(5)))
			dbPool.ExpectCommit()

			rec, err := pg.Coverage(ctx, 42, data.Variant("none"))
			Expect(err).To(BeNil())
			Expect(rec.BarCount).To(Equal(int64(5)))
			Expect(rec.Earliest).To(BeTemporally("==", earliest))
			Expect(rec.Latest).To(BeTemporally("==", latest))
		})

		It("returns nil when no rows are stored", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectQuery("SELECT MIN").
				WithArgs(int64(42), "none").
				WillReturnRows(pgxmock.NewRows([]string{"min", "max", "count"}).
					AddRow(nil, nil, int64(0)))
			dbPool.ExpectCommit()

			rec, err := pg.Coverage(ctx, 42, data.Variant("none"))
			Expect(err).To(BeNil())
			Expect(rec).To(BeNil())
		})
	})

	Describe("coverage summaries", func() {
		It("round-trips the persisted record", func() {
			requested := time.Date(2024, 6, 3, 1, 0, 0, 0, time.UTC)
			earliest := utcDay(2024, 6, 3)
			latest := utcDay(2024, 6, 7)

			dbPool.ExpectBegin()
			dbPool.ExpectQuery("SELECT earliest, latest, bar_count").
				WithArgs(int64(42), "none").
				WillReturnRows(pgxmock.NewRows([]string{
					"earliest", "latest", "bar_count",
					"first_requested_at", "last_accessed_at", "last_updated_at",
				}).AddRow(&earliest, &latest, int64(5), &requested, &requested, &requested))
			dbPool.ExpectCommit()

			rec, err := pg.ReadCoverage(ctx, 42, data.Variant("none"))
			Expect(err).To(BeNil())
			Expect(rec.BarCount).To(Equal(int64(5)))
			Expect(rec.Earliest).To(BeTemporally("==", earliest))
			Expect(rec.FirstRequestedAt).To(BeTemporally("==", requested))
		})

		It("translates a missing summary into ErrNotFound", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectQuery("SELECT earliest, latest, bar_count").
				WithArgs(int64(42), "none").
				WillReturnError(pgx.ErrNoRows)

			_, err := pg.ReadCoverage(ctx, 42, data.Variant("none"))
			Expect(err).To(MatchError(data.ErrNotFound))
		})

		It("upserts the summary row", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectExec("INSERT INTO coverage").
				WillReturnResult(pgconn.CommandTag("INSERT 0 1"))
			dbPool.ExpectCommit()

			Expect(pg.WriteCoverage(ctx, &data.CoverageRecord{
				AssetID:  42,
				Variant:  data.Variant("none"),
				Earliest: utcDay(2024, 6, 3),
				Latest:   utcDay(2024, 6, 7),
				BarCount: 5,
			})).To(Succeed())
		})
	})
})
