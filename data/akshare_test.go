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
	"errors"
	"time"

	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/viper"

	"github.com/quantdb/qdb-api/calendar"
	"github.com/quantdb/qdb-api/data"
)

var _ = Describe("AKShareFetcher", func() {
	var (
		ctx     context.Context
		fetcher *data.AKShareFetcher
		begin   time.Time
		end     time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		begin = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
		end = time.Date(2024, 6, 7, 0, 0, 0, 0, time.UTC)

		viper.Set("akshare.url", "http://aktools.test")
		DeferCleanup(func() { viper.Set("akshare.url", "") })

		fetcher = data.NewAKShareFetcher()

		httpmock.Activate()
		DeferCleanup(httpmock.DeactivateAndReset)
	})

	Describe("FetchBars", func() {
		It("normalizes the native history columns", func() {
			httpmock.RegisterResponder("GET",
				"http://aktools.test/api/public/stock_zh_a_hist?adjust=&end_date=20240607&period=daily&start_date=20240603&symbol=600519",
				httpmock.NewStringResponder(200, `[
					{"日期": "2024-06-03", "开盘": 1690.0, "收盘": 1700.5, "最高": 1712.0, "最低": 1688.8,
					 "成交量": 24683, "成交额": 4190000000.0, "振幅": 1.37, "涨跌幅": 0.62, "涨跌额": 10.5, "换手率": 0.2},
					{"日期": "2024-06-04", "开盘": "", "收盘": "", "成交量": ""}
				]`))

			bars, err := fetcher.FetchBars(ctx, "600519", calendar.MarketCNA, begin, end, data.AdjustNone)
			Expect(err).To(BeNil())
			Expect(bars).To(HaveLen(2))

			Expect(bars[0].Date.Format(calendar.DateFormat)).To(Equal("20240603"))
			Expect(bars[0].Open).To(HaveValue(Equal(1690.0)))
			Expect(bars[0].Close).To(HaveValue(Equal(1700.5)))
			Expect(bars[0].High).To(HaveValue(Equal(1712.0)))
			Expect(bars[0].Low).To(HaveValue(Equal(1688.8)))
			Expect(bars[0].Volume).To(HaveValue(Equal(24683.0)))
			Expect(bars[0].PctChange).To(HaveValue(Equal(0.62)))
			Expect(bars[0].TurnoverRate).To(HaveValue(Equal(0.2)))

			// suspended day: columns come back as empty strings
			Expect(bars[1].Open).To(BeNil())
			Expect(bars[1].Close).To(BeNil())
			Expect(bars[1].Volume).To(BeNil())
		})

		It("passes the adjust mode through", func() {
			httpmock.RegisterResponder("GET",
				"http://aktools.test/api/public/stock_zh_a_hist?adjust=qfq&end_date=20240607&period=daily&start_date=20240603&symbol=600519",
				httpmock.NewStringResponder(200, `[{"日期": "2024-06-03", "收盘": 1700.5}]`))

			bars, err := fetcher.FetchBars(ctx, "600519", calendar.MarketCNA, begin, end, data.AdjustQfq)
			Expect(err).To(BeNil())
			Expect(bars).To(HaveLen(1))
		})

		It("uses the hong kong history interface for HK symbols", func() {
			httpmock.RegisterResponder("GET",
				"http://aktools.test/api/public/stock_hk_hist?adjust=&end_date=20240607&period=daily&start_date=20240603&symbol=00700",
				httpmock.NewStringResponder(200, `[{"日期": "2024-06-03", "收盘": 371.2}]`))

			bars, err := fetcher.FetchBars(ctx, "00700", calendar.MarketHK, begin, end, data.AdjustNone)
			Expect(err).To(BeNil())
			Expect(bars).To(HaveLen(1))
			Expect(bars[0].Close).To(HaveValue(Equal(371.2)))
		})

		It("rejects rows without a date column", func() {
			httpmock.RegisterResponder("GET",
				"http://aktools.test/api/public/stock_zh_a_hist?adjust=&end_date=20240607&period=daily&start_date=20240603&symbol=600519",
				httpmock.NewStringResponder(200, `[{"收盘": 1700.5}]`))

			_, err := fetcher.FetchBars(ctx, "600519", calendar.MarketCNA, begin, end, data.AdjustNone)
			var upstream *data.UpstreamError
			Expect(errors.As(err, &upstream)).To(BeTrue())
			Expect(upstream.Code).To(Equal(data.UpstreamSchemaChanged))
		})
	})

	DescribeTable("upstream failure classification",
		func(status int, body string, code string, retryable bool) {
			httpmock.RegisterResponder("GET",
				"http://aktools.test/api/public/stock_zh_a_hist?adjust=&end_date=20240607&period=daily&start_date=20240603&symbol=600519",
				httpmock.NewStringResponder(status, body))

			_, err := fetcher.FetchBars(ctx, "600519", calendar.MarketCNA, begin, end, data.AdjustNone)
			var upstream *data.UpstreamError
			Expect(errors.As(err, &upstream)).To(BeTrue())
			Expect(upstream.Code).To(Equal(code))
			Expect(upstream.Retryable).To(Equal(retryable))
		},
		Entry("rate limiting", 429, "too many requests", data.UpstreamRateLimited, true),
		Entry("unknown interface", 404, "not found", data.UpstreamNotFound, false),
		Entry("auth rejection", 403, "forbidden", data.UpstreamAuthError, false),
		Entry("server failure", 500, "internal error", data.UpstreamNetworkError, true),
		Entry("unparseable body", 200, "<html>proxy error</html>", data.UpstreamSchemaChanged, false),
	)

	Describe("FetchAssetInfo", func() {
		It("builds the record from item/value pairs", func() {
			httpmock.RegisterResponder("GET",
				"http://aktools.test/api/public/stock_individual_info_em?symbol=600519",
				httpmock.NewStringResponder(200, `[
					{"item": "股票简称", "value": "贵州茅台"},
					{"item": "行业", "value": "白酒"},
					{"item": "上市时间", "value": 20010827}
				]`))

			asset, err := fetcher.FetchAssetInfo(ctx, "600519", calendar.MarketCNA)
			Expect(err).To(BeNil())
			Expect(asset.Name).To(Equal("贵州茅台"))
			Expect(asset.Industry).To(Equal("白酒"))
			Expect(asset.ListDate).To(Equal("20010827"))
			Expect(asset.Exchange).To(Equal("SSE"))
			Expect(asset.Currency).To(Equal("CNY"))
			Expect(asset.DataSource).To(Equal("akshare"))
		})

		It("derives the exchange from the symbol prefix", func() {
			httpmock.RegisterResponder("GET",
				"http://aktools.test/api/public/stock_individual_info_em?symbol=000001",
				httpmock.NewStringResponder(200, `[{"item": "股票简称", "value": "平安银行"}]`))

			asset, err := fetcher.FetchAssetInfo(ctx, "000001", calendar.MarketCNA)
			Expect(err).To(BeNil())
			Expect(asset.Exchange).To(Equal("SZSE"))
		})

		It("serves a minimal record for hong kong symbols without a call", func() {
			asset, err := fetcher.FetchAssetInfo(ctx, "00700", calendar.MarketHK)
			Expect(err).To(BeNil())
			Expect(asset.Exchange).To(Equal("HKEX"))
			Expect(asset.Currency).To(Equal("HKD"))
			Expect(httpmock.GetTotalCallCount()).To(Equal(0))
		})

		It("treats a missing name as a schema change", func() {
			httpmock.RegisterResponder("GET",
				"http://aktools.test/api/public/stock_individual_info_em?symbol=600519",
				httpmock.NewStringResponder(200, `[{"item": "行业", "value": "白酒"}]`))

			_, err := fetcher.FetchAssetInfo(ctx, "600519", calendar.MarketCNA)
			var upstream *data.UpstreamError
			Expect(errors.As(err, &upstream)).To(BeTrue())
			Expect(upstream.Code).To(Equal(data.UpstreamSchemaChanged))
		})
	})

	Describe("FetchQuote", func() {
		It("reads the bid/ask item table", func() {
			httpmock.RegisterResponder("GET",
				"http://aktools.test/api/public/stock_bid_ask_em?symbol=600519",
				httpmock.NewStringResponder(200, `[
					{"item": "最新", "value": 1700.5},
					{"item": "今开", "value": 1690.0},
					{"item": "最高", "value": 1712.0},
					{"item": "最低", "value": 1688.8},
					{"item": "昨收", "value": 1690.0},
					{"item": "涨跌", "value": 10.5},
					{"item": "涨幅", "value": 0.62},
					{"item": "总手", "value": 24683},
					{"item": "金额", "value": 4190000000.0}
				]`))

			quote, err := fetcher.FetchQuote(ctx, "600519", calendar.MarketCNA)
			Expect(err).To(BeNil())
			Expect(quote.Symbol).To(Equal("600519"))
			Expect(quote.Price).To(HaveValue(Equal(1700.5)))
			Expect(quote.PrevClose).To(HaveValue(Equal(1690.0)))
			Expect(quote.PctChange).To(HaveValue(Equal(0.62)))
			Expect(quote.Source).To(Equal("akshare"))
		})

		It("scans the spot table for hong kong symbols", func() {
			httpmock.RegisterResponder("GET",
				"http://aktools.test/api/public/stock_hk_spot_em",
				httpmock.NewStringResponder(200, `[
					{"代码": "00001", "名称": "长和", "最新价": 41.2},
					{"代码": "00700", "名称": "腾讯控股", "最新价": 371.2, "昨收": 370.0}
				]`))

			quote, err := fetcher.FetchQuote(ctx, "00700", calendar.MarketHK)
			Expect(err).To(BeNil())
			Expect(quote.Price).To(HaveValue(Equal(371.2)))
			Expect(quote.PrevClose).To(HaveValue(Equal(370.0)))
		})

		It("reports symbols missing from the spot table", func() {
			httpmock.RegisterResponder("GET",
				"http://aktools.test/api/public/stock_hk_spot_em",
				httpmock.NewStringResponder(200, `[{"代码": "00001", "名称": "长和"}]`))

			_, err := fetcher.FetchQuote(ctx, "09999", calendar.MarketHK)
			var upstream *data.UpstreamError
			Expect(errors.As(err, &upstream)).To(BeTrue())
			Expect(upstream.Code).To(Equal(data.UpstreamNotFound))
		})
	})

	Describe("FetchStockList", func() {
		It("lists a-share code/name pairs", func() {
			httpmock.RegisterResponder("GET",
				"http://aktools.test/api/public/stock_info_a_code_name",
				httpmock.NewStringResponder(200, `[
					{"code": "600519", "name": "贵州茅台"},
					{"code": "000001", "name": "平安银行"}
				]`))

			list, err := fetcher.FetchStockList(ctx, calendar.MarketCNA)
			Expect(err).To(BeNil())
			Expect(list).To(HaveLen(2))
			Expect(list[0].Symbol).To(Equal("600519"))
			Expect(list[0].Market).To(Equal(calendar.MarketCNA))
		})

		It("treats an empty list as a schema change", func() {
			httpmock.RegisterResponder("GET",
				"http://aktools.test/api/public/stock_info_a_code_name",
				httpmock.NewStringResponder(200, `[]`))

			_, err := fetcher.FetchStockList(ctx, calendar.MarketCNA)
			var upstream *data.UpstreamError
			Expect(errors.As(err, &upstream)).To(BeTrue())
			Expect(upstream.Code).To(Equal(data.UpstreamSchemaChanged))
		})
	})

	Describe("FetchIndexList", func() {
		It("defaults to the major index category", func() {
			httpmock.RegisterResponder("GET",
				"http://aktools.test/api/public/stock_zh_index_spot_em?symbol=%E6%B2%AA%E6%B7%B1%E9%87%8D%E8%A6%81%E6%8C%87%E6%95%B0",
				httpmock.NewStringResponder(200, `[
					{"代码": "000300", "名称": "沪深300", "最新价": 3520.2, "涨跌幅": -0.21}
				]`))

			list, err := fetcher.FetchIndexList(ctx, "")
			Expect(err).To(BeNil())
			Expect(list).To(HaveLen(1))
			Expect(list[0].Symbol).To(Equal("000300"))
			Expect(list[0].Category).To(Equal("沪深重要指数"))
			Expect(list[0].Price).To(HaveValue(Equal(3520.2)))
			Expect(list[0].PctChange).To(HaveValue(Equal(-0.21)))
		})
	})

	Describe("FetchIndexBars", func() {
		It("requests the index history at the given period", func() {
			httpmock.RegisterResponder("GET",
				"http://aktools.test/api/public/index_zh_a_hist?end_date=20240607&period=weekly&start_date=20240603&symbol=000300",
				httpmock.NewStringResponder(200, `[{"日期": "2024-06-07", "收盘": 3520.2}]`))

			bars, err := fetcher.FetchIndexBars(ctx, "000300", data.PeriodWeekly, begin, end)
			Expect(err).To(BeNil())
			Expect(bars).To(HaveLen(1))
			Expect(bars[0].Close).To(HaveValue(Equal(3520.2)))
		})
	})

	Describe("FetchFinancialSummary", func() {
		It("picks the newest report column", func() {
			httpmock.RegisterResponder("GET",
				"http://aktools.test/api/public/stock_financial_abstract?symbol=600519",
				httpmock.NewStringResponder(200, `[
					{"选项": "常用指标", "指标": "归母净利润", "20240331": 240.65, "20231231": 747.34},
					{"选项": "常用指标", "指标": "营业总收入", "20240331": 464.85, "20231231": 1505.60}
				]`))

			summary, err := fetcher.FetchFinancialSummary(ctx, "600519")
			Expect(err).To(BeNil())
			Expect(summary.ReportDate).To(Equal("20240331"))
			Expect(summary.Values).To(HaveKeyWithValue("归母净利润", 240.65))
			Expect(summary.Values).To(HaveKeyWithValue("营业总收入", 464.85))
		})

		It("reports symbols without financials", func() {
			httpmock.RegisterResponder("GET",
				"http://aktools.test/api/public/stock_financial_abstract?symbol=600519",
				httpmock.NewStringResponder(200, `[]`))

			_, err := fetcher.FetchFinancialSummary(ctx, "600519")
			var upstream *data.UpstreamError
			Expect(errors.As(err, &upstream)).To(BeTrue())
			Expect(upstream.Code).To(Equal(data.UpstreamNotFound))
		})
	})
})
