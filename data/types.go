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

// Package data implements the quantdb cache engine: the historical series
// manager, the gap resolver, the TTL cache, the asset registry, and the
// durable bar store backends.
package data

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantdb/qdb-api/calendar"
)

// AdjustMode selects the price adjustment convention of a series
type AdjustMode string

const (
	AdjustNone AdjustMode = "none"
	AdjustQfq  AdjustMode = "qfq"
	AdjustHfq  AdjustMode = "hfq"
)

// ParseAdjustMode normalizes user input; empty means none
func ParseAdjustMode(s string) (AdjustMode, error) {
	switch AdjustMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", AdjustNone:
		return AdjustNone, nil
	case AdjustQfq:
		return AdjustQfq, nil
	case AdjustHfq:
		return AdjustHfq, nil
	}
	return "", ErrInvalidAdjustMode
}

// Period selects the bar interval of an index series
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// ParsePeriod normalizes user input; empty means daily
func ParsePeriod(s string) (Period, error) {
	switch Period(strings.ToLower(strings.TrimSpace(s))) {
	case "", PeriodDaily:
		return PeriodDaily, nil
	case PeriodWeekly:
		return PeriodWeekly, nil
	case PeriodMonthly:
		return PeriodMonthly, nil
	}
	return "", ErrInvalidPeriod
}

// Variant tags independent bar series of the same asset inside the store.
// Equity series are keyed by adjust mode; index series by period. Series
// with different variants never share bars.
type Variant string

// EquityVariant maps an adjust mode to its storage variant
func EquityVariant(adjust AdjustMode) Variant {
	return Variant(adjust)
}

// IndexVariant maps an index period to its storage variant
func IndexVariant(period Period) Variant {
	return Variant("idx_" + string(period))
}

// Bar is one trading-day record for one asset. All numeric fields are
// nullable: upstream providers omit columns for suspended days and young
// listings.
type Bar struct {
	AssetID      int64      `json:"-"`
	Date         time.Time  `json:"date"`
	Open         *float64   `json:"open"`
	High         *float64   `json:"high"`
	Low          *float64   `json:"low"`
	Close        *float64   `json:"close"`
	Volume       *float64   `json:"volume"`
	Turnover     *float64   `json:"turnover"`
	Amplitude    *float64   `json:"amplitude"`
	PctChange    *float64   `json:"pct_change"`
	Change       *float64   `json:"change"`
	TurnoverRate *float64   `json:"turnover_rate"`
	AdjClose     *float64   `json:"adjusted_close,omitempty"`
}

// Asset is the descriptive record for a symbol
type Asset struct {
	ID         int64           `json:"-"`
	Symbol     string          `json:"symbol"`
	Name       string          `json:"name"`
	Market     calendar.Market `json:"market"`
	Exchange   string          `json:"exchange"`
	Currency   string          `json:"currency"`
	AssetType  string          `json:"asset_type"`
	Industry   string          `json:"industry,omitempty"`
	ListDate   string          `json:"list_date,omitempty"`
	PE         *float64        `json:"pe,omitempty"`
	PB         *float64        `json:"pb,omitempty"`
	ROE        *float64        `json:"roe,omitempty"`
	DataSource string          `json:"data_source"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// AssetSummary is one row of a market's stock list
type AssetSummary struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name"`
	Market calendar.Market `json:"market"`
	Price  *float64        `json:"price,omitempty"`
}

// IndexSummary is one row of an index list
type IndexSummary struct {
	Symbol    string   `json:"symbol"`
	Name      string   `json:"name"`
	Category  string   `json:"category"`
	Price     *float64 `json:"price,omitempty"`
	Change    *float64 `json:"change,omitempty"`
	PctChange *float64 `json:"pct_change,omitempty"`
	Volume    *float64 `json:"volume,omitempty"`
	Turnover  *float64 `json:"turnover,omitempty"`
}

// Quote is a realtime snapshot for one symbol
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     *float64  `json:"price"`
	Open      *float64  `json:"open"`
	High      *float64  `json:"high"`
	Low       *float64  `json:"low"`
	PrevClose *float64  `json:"prev_close"`
	Change    *float64  `json:"change"`
	PctChange *float64  `json:"pct_change"`
	Volume    *float64  `json:"volume"`
	Turnover  *float64  `json:"turnover"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Cached    bool      `json:"cached"`
}

// FinancialSummary carries the headline fundamentals for one symbol
type FinancialSummary struct {
	Symbol     string             `json:"symbol"`
	ReportDate string             `json:"report_date"`
	Values     map[string]float64 `json:"values"`
}

// CoverageRecord summarizes the persisted bars of one series
type CoverageRecord struct {
	AssetID          int64
	Variant          Variant
	Earliest         time.Time
	Latest           time.Time
	BarCount         int64
	FirstRequestedAt time.Time
	LastAccessedAt   time.Time
	LastUpdatedAt    time.Time
}

// DateRange is an inclusive day interval
type DateRange struct {
	Begin time.Time `json:"begin"`
	End   time.Time `json:"end"`
}

// Valid checks ordering of the range bounds
func (r DateRange) Valid() error {
	if r.Begin.After(r.End) {
		return ErrInvalidDateRange
	}
	return nil
}

// Contains returns true if the range completely contains other
func (r DateRange) Contains(other DateRange) bool {
	return !other.Begin.Before(r.Begin) && !other.End.After(r.End)
}

// ContainsDay returns true if d falls inside the range
func (r DateRange) ContainsDay(d time.Time) bool {
	return !d.Before(r.Begin) && !d.After(r.End)
}

func (r DateRange) String() string {
	return fmt.Sprintf("[%s, %s]", r.Begin.Format(calendar.DateFormat), r.End.Format(calendar.DateFormat))
}

// MarshalZerologObject implements the log marshaller interface for zerolog
func (r DateRange) MarshalZerologObject(e *zerolog.Event) {
	e.Str("Begin", r.Begin.Format(calendar.DateFormat)).Str("End", r.End.Format(calendar.DateFormat))
}
