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
	"time"

	"github.com/quantdb/qdb-api/calendar"
)

// Fetcher abstracts the upstream data provider. It is the only component
// permitted to perform network I/O. Implementations normalize column
// names, numeric types, and date formats before returning; failures are
// reported as *UpstreamError.
type Fetcher interface {
	// FetchBars returns daily bars for [begin, end], ascending by date
	FetchBars(ctx context.Context, symbol string, market calendar.Market, begin, end time.Time, adjust AdjustMode) ([]*Bar, error)

	// FetchAssetInfo returns the descriptive record for a symbol; fields
	// the provider does not know are left zero
	FetchAssetInfo(ctx context.Context, symbol string, market calendar.Market) (*Asset, error)

	// FetchQuote returns a realtime snapshot
	FetchQuote(ctx context.Context, symbol string, market calendar.Market) (*Quote, error)

	// FetchStockList enumerates listed symbols for a market
	FetchStockList(ctx context.Context, market calendar.Market) ([]*AssetSummary, error)

	// FetchIndexList enumerates indexes, optionally filtered by category
	FetchIndexList(ctx context.Context, category string) ([]*IndexSummary, error)

	// FetchIndexBars returns index bars at the requested period
	FetchIndexBars(ctx context.Context, indexSymbol string, period Period, begin, end time.Time) ([]*Bar, error)

	// FetchFinancialSummary returns headline fundamentals for a symbol
	FetchFinancialSummary(ctx context.Context, symbol string) (*FinancialSummary, error)

	// Name identifies the provider in logs and source tags
	Name() string
}
