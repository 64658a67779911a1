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

package calendar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Source produces the raw trading-day list for a market. The calendar owns
// persistence and staleness; sources only fetch.
type Source interface {
	TradingDays(ctx context.Context, market Market, begin, end time.Time) ([]time.Time, error)
	Name() string
}

// AKShareSource reads trading dates from an AKTools endpoint (the HTTP
// bridge in front of AKShare). The date history interface returns every
// exchange trading date; the source filters to [begin, end].
type AKShareSource struct {
	baseURL string
	client  *http.Client
}

// DefaultAKToolsURL is where a local AKTools deployment listens
const DefaultAKToolsURL = "http://127.0.0.1:8080"

// NewAKShareSource creates the primary calendar source. An empty baseURL
// uses DefaultAKToolsURL.
func NewAKShareSource(baseURL string) *AKShareSource {
	if baseURL == "" {
		baseURL = DefaultAKToolsURL
	}
	return &AKShareSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *AKShareSource) Name() string {
	return "akshare"
}

func (s *AKShareSource) endpoint(market Market) string {
	switch market {
	case MarketHK:
		return fmt.Sprintf("%s/api/public/stock_hk_trade_date", s.baseURL)
	default:
		return fmt.Sprintf("%s/api/public/tool_trade_date_hist_sina", s.baseURL)
	}
}

func (s *AKShareSource) TradingDays(ctx context.Context, market Market, begin, end time.Time) ([]time.Time, error) {
	subLog := log.With().Str("Market", string(market)).Time("Begin", begin).Time("End", end).Logger()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint(market), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("calendar source request failed")
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		subLog.Error().Int("HTTPResponseStatusCode", resp.StatusCode).Msg("calendar source returned invalid response code")
		return nil, fmt.Errorf("calendar source returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		TradeDate string `json:"trade_date"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		subLog.Error().Err(err).Msg("could not unmarshal calendar source response")
		return nil, err
	}

	tz := market.Timezone()
	beginDay := market.Day(begin)
	endDay := market.Day(end)

	days := make([]time.Time, 0, len(rows))
	for _, row := range rows {
		d, err := time.ParseInLocation("2006-01-02", row.TradeDate, tz)
		if err != nil {
			// some interfaces emit compact dates
			d, err = time.ParseInLocation(DateFormat, row.TradeDate, tz)
			if err != nil {
				subLog.Warn().Str("TradeDate", row.TradeDate).Msg("skipping unparseable trade date")
				continue
			}
		}
		if d.Before(beginDay) || d.After(endDay) {
			continue
		}
		days = append(days, d)
	}

	if len(days) == 0 {
		return nil, fmt.Errorf("calendar source returned no trading days in range")
	}
	return days, nil
}

// StaticSource serves a fixed day list; used by tests and as a seed when
// operating fully offline
type StaticSource struct {
	Days map[Market][]time.Time
}

func (s *StaticSource) Name() string {
	return "static"
}

func (s *StaticSource) TradingDays(_ context.Context, market Market, begin, end time.Time) ([]time.Time, error) {
	days, ok := s.Days[market]
	if !ok {
		return nil, fmt.Errorf("no static days for market %s", market)
	}

	beginDay := market.Day(begin)
	endDay := market.Day(end)
	res := make([]time.Time, 0, len(days))
	for _, d := range days {
		d = market.Day(d)
		if d.Before(beginDay) || d.After(endDay) {
			continue
		}
		res = append(res, d)
	}
	return res, nil
}
