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
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/quantdb/qdb-api/calendar"
)

// AKShareFetcher talks to a local AKTools service, which re-exposes the
// AKShare python library over HTTP. Responses come back as arrays of
// objects keyed by AKShare's native (Chinese) column names; this fetcher
// owns all of the normalization.
type AKShareFetcher struct {
	baseURL string
	client  *http.Client
}

// NewAKShareFetcher creates a fetcher against the akshare.url config key,
// falling back to the default local AKTools address
func NewAKShareFetcher() *AKShareFetcher {
	baseURL := viper.GetString("akshare.url")
	if baseURL == "" {
		baseURL = calendar.DefaultAKToolsURL
	}
	return &AKShareFetcher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (f *AKShareFetcher) Name() string {
	return "akshare"
}

// get performs one AKTools call and decodes the row array, mapping HTTP
// failures onto the upstream error taxonomy
func (f *AKShareFetcher) get(ctx context.Context, endpoint string, params url.Values) ([]map[string]interface{}, error) {
	reqURL := fmt.Sprintf("%s/api/public/%s", f.baseURL, endpoint)
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewUpstreamError(UpstreamNetworkError, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, NewUpstreamError(UpstreamRateLimited, fmt.Errorf("akshare: %s", resp.Status))
	case resp.StatusCode == http.StatusNotFound:
		return nil, NewUpstreamError(UpstreamNotFound, fmt.Errorf("akshare: %s", resp.Status))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, NewUpstreamError(UpstreamAuthError, fmt.Errorf("akshare: %s", resp.Status))
	case resp.StatusCode >= 400:
		return nil, NewUpstreamError(UpstreamNetworkError, fmt.Errorf("akshare: %s", resp.Status))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewUpstreamError(UpstreamNetworkError, err)
	}

	var rows []map[string]interface{}
	if err := json.Unmarshal(body, &rows); err != nil {
		log.Warn().Err(err).Str("Endpoint", endpoint).Msg("could not decode akshare response")
		return nil, NewUpstreamError(UpstreamSchemaChanged, err)
	}
	return rows, nil
}

// rowFloat extracts a numeric column; nil when the column is absent or
// not a number (suspended days carry empty strings)
func rowFloat(row map[string]interface{}, key string) *float64 {
	v, ok := row[key]
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case float64:
		return &n
	case string:
		if parsed, err := strconv.ParseFloat(n, 64); err == nil {
			return &parsed
		}
	}
	return nil
}

func rowString(row map[string]interface{}, key string) string {
	if v, ok := row[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		if n, ok := v.(float64); ok {
			return strconv.FormatFloat(n, 'f', -1, 64)
		}
	}
	return ""
}

// barFromRow normalizes one AKShare history row; date column absence is
// a schema violation since every other field keys off it
func barFromRow(row map[string]interface{}, market calendar.Market) (*Bar, error) {
	dateStr := rowString(row, "日期")
	if dateStr == "" {
		dateStr = rowString(row, "date")
	}
	if dateStr == "" {
		return nil, NewUpstreamError(UpstreamSchemaChanged, fmt.Errorf("history row missing date column"))
	}
	date, err := ParseDate(dateStr, market)
	if err != nil {
		return nil, NewUpstreamError(UpstreamSchemaChanged, err)
	}
	return &Bar{
		Date:         date,
		Open:         rowFloat(row, "开盘"),
		Close:        rowFloat(row, "收盘"),
		High:         rowFloat(row, "最高"),
		Low:          rowFloat(row, "最低"),
		Volume:       rowFloat(row, "成交量"),
		Turnover:     rowFloat(row, "成交额"),
		Amplitude:    rowFloat(row, "振幅"),
		PctChange:    rowFloat(row, "涨跌幅"),
		Change:       rowFloat(row, "涨跌额"),
		TurnoverRate: rowFloat(row, "换手率"),
	}, nil
}

// FetchBars returns daily bars for [begin, end]
func (f *AKShareFetcher) FetchBars(ctx context.Context, symbol string, market calendar.Market, begin, end time.Time, adjust AdjustMode) ([]*Bar, error) {
	endpoint := "stock_zh_a_hist"
	if market == calendar.MarketHK {
		endpoint = "stock_hk_hist"
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("period", "daily")
	params.Set("start_date", begin.Format(calendar.DateFormat))
	params.Set("end_date", end.Format(calendar.DateFormat))
	if adjust == AdjustNone {
		params.Set("adjust", "")
	} else {
		params.Set("adjust", string(adjust))
	}

	rows, err := f.get(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}

	bars := make([]*Bar, 0, len(rows))
	for _, row := range rows {
		bar, err := barFromRow(row, market)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// FetchAssetInfo returns the descriptive record; AKShare serves it as
// item/value pairs
func (f *AKShareFetcher) FetchAssetInfo(ctx context.Context, symbol string, market calendar.Market) (*Asset, error) {
	if market == calendar.MarketHK {
		// no per-symbol info endpoint for HK; serve a minimal record
		return &Asset{
			Symbol:     symbol,
			Name:       "Stock " + symbol,
			Market:     market,
			Exchange:   "HKEX",
			Currency:   "HKD",
			AssetType:  "stock",
			DataSource: f.Name(),
		}, nil
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	rows, err := f.get(ctx, "stock_individual_info_em", params)
	if err != nil {
		return nil, err
	}

	items := make(map[string]string, len(rows))
	for _, row := range rows {
		items[rowString(row, "item")] = rowString(row, "value")
	}

	asset := &Asset{
		Symbol:     symbol,
		Name:       items["股票简称"],
		Market:     market,
		Currency:   "CNY",
		AssetType:  "stock",
		Industry:   items["行业"],
		ListDate:   items["上市时间"],
		DataSource: f.Name(),
	}
	switch symbol[0] {
	case '6':
		asset.Exchange = "SSE"
	case '0', '3':
		asset.Exchange = "SZSE"
	case '4', '8':
		asset.Exchange = "BSE"
	}
	if asset.Name == "" {
		return nil, NewUpstreamError(UpstreamSchemaChanged, fmt.Errorf("asset info missing name"))
	}
	return asset, nil
}

// FetchQuote returns a realtime snapshot from the spot table
func (f *AKShareFetcher) FetchQuote(ctx context.Context, symbol string, market calendar.Market) (*Quote, error) {
	endpoint := "stock_bid_ask_em"
	params := url.Values{}
	params.Set("symbol", symbol)
	if market == calendar.MarketHK {
		endpoint = "stock_hk_spot_em"
		params = url.Values{}
	}

	rows, err := f.get(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}

	if market == calendar.MarketHK {
		for _, row := range rows {
			if rowString(row, "代码") == symbol {
				return &Quote{
					Symbol:    symbol,
					Price:     rowFloat(row, "最新价"),
					Open:      rowFloat(row, "今开"),
					High:      rowFloat(row, "最高"),
					Low:       rowFloat(row, "最低"),
					PrevClose: rowFloat(row, "昨收"),
					Change:    rowFloat(row, "涨跌额"),
					PctChange: rowFloat(row, "涨跌幅"),
					Volume:    rowFloat(row, "成交量"),
					Turnover:  rowFloat(row, "成交额"),
					Timestamp: time.Now(),
					Source:    f.Name(),
				}, nil
			}
		}
		return nil, NewUpstreamError(UpstreamNotFound, fmt.Errorf("symbol %s not in spot table", symbol))
	}

	// bid/ask endpoint returns item/value pairs
	items := make(map[string]*float64, len(rows))
	for _, row := range rows {
		items[rowString(row, "item")] = rowFloat(row, "value")
	}
	if len(items) == 0 {
		return nil, NewUpstreamError(UpstreamNotFound, fmt.Errorf("no quote for symbol %s", symbol))
	}
	return &Quote{
		Symbol:    symbol,
		Price:     items["最新"],
		Open:      items["今开"],
		High:      items["最高"],
		Low:       items["最低"],
		PrevClose: items["昨收"],
		Change:    items["涨跌"],
		PctChange: items["涨幅"],
		Volume:    items["总手"],
		Turnover:  items["金额"],
		Timestamp: time.Now(),
		Source:    f.Name(),
	}, nil
}

// FetchStockList enumerates listed symbols for a market
func (f *AKShareFetcher) FetchStockList(ctx context.Context, market calendar.Market) ([]*AssetSummary, error) {
	endpoint := "stock_info_a_code_name"
	codeKey, nameKey := "code", "name"
	if market == calendar.MarketHK {
		endpoint = "stock_hk_spot_em"
		codeKey, nameKey = "代码", "名称"
	}

	rows, err := f.get(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}

	list := make([]*AssetSummary, 0, len(rows))
	for _, row := range rows {
		code := rowString(row, codeKey)
		if code == "" {
			continue
		}
		summary := &AssetSummary{Symbol: code, Name: rowString(row, nameKey), Market: market}
		if market == calendar.MarketHK {
			summary.Price = rowFloat(row, "最新价")
		}
		list = append(list, summary)
	}
	if len(list) == 0 {
		return nil, NewUpstreamError(UpstreamSchemaChanged, fmt.Errorf("empty stock list from %s", endpoint))
	}
	return list, nil
}

// FetchIndexList enumerates indexes, optionally filtered by category
func (f *AKShareFetcher) FetchIndexList(ctx context.Context, category string) ([]*IndexSummary, error) {
	params := url.Values{}
	if category == "" {
		category = "沪深重要指数"
	}
	params.Set("symbol", category)

	rows, err := f.get(ctx, "stock_zh_index_spot_em", params)
	if err != nil {
		return nil, err
	}

	list := make([]*IndexSummary, 0, len(rows))
	for _, row := range rows {
		code := rowString(row, "代码")
		if code == "" {
			continue
		}
		list = append(list, &IndexSummary{
			Symbol:    code,
			Name:      rowString(row, "名称"),
			Category:  category,
			Price:     rowFloat(row, "最新价"),
			Change:    rowFloat(row, "涨跌额"),
			PctChange: rowFloat(row, "涨跌幅"),
			Volume:    rowFloat(row, "成交量"),
			Turnover:  rowFloat(row, "成交额"),
		})
	}
	return list, nil
}

// FetchIndexBars returns index bars at the requested period
func (f *AKShareFetcher) FetchIndexBars(ctx context.Context, indexSymbol string, period Period, begin, end time.Time) ([]*Bar, error) {
	params := url.Values{}
	params.Set("symbol", indexSymbol)
	params.Set("period", string(period))
	params.Set("start_date", begin.Format(calendar.DateFormat))
	params.Set("end_date", end.Format(calendar.DateFormat))

	rows, err := f.get(ctx, "index_zh_a_hist", params)
	if err != nil {
		return nil, err
	}

	bars := make([]*Bar, 0, len(rows))
	for _, row := range rows {
		bar, err := barFromRow(row, calendar.MarketCNA)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// FetchFinancialSummary returns headline fundamentals; AKShare serves a
// wide table of indicator rows by report period
func (f *AKShareFetcher) FetchFinancialSummary(ctx context.Context, symbol string) (*FinancialSummary, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	rows, err := f.get(ctx, "stock_financial_abstract", params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, NewUpstreamError(UpstreamNotFound, fmt.Errorf("no financials for symbol %s", symbol))
	}

	// each row is one indicator; columns are report dates, newest first
	// after the two label columns
	summary := &FinancialSummary{Symbol: symbol, Values: make(map[string]float64)}
	for _, row := range rows {
		indicator := rowString(row, "指标")
		if indicator == "" {
			continue
		}
		for key := range row {
			if key == "选项" || key == "指标" {
				continue
			}
			if key > summary.ReportDate {
				summary.ReportDate = key
			}
		}
	}
	if summary.ReportDate == "" {
		return nil, NewUpstreamError(UpstreamSchemaChanged, fmt.Errorf("financial abstract has no report columns"))
	}
	for _, row := range rows {
		indicator := rowString(row, "指标")
		if indicator == "" {
			continue
		}
		if v := rowFloat(row, summary.ReportDate); v != nil {
			summary.Values[indicator] = *v
		}
	}
	return summary, nil
}
