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

package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/quantdb/qdb-api/data"
	"github.com/quantdb/qdb-api/handler"
)

// SetupRoutes wires the API surface
func SetupRoutes(app *fiber.App, manager *data.Manager) {
	app.Get("/healthz", handler.Ping)

	api := app.Group("/v1")
	api.Get("/ping", handler.Ping)

	// historical series
	api.Get("/history", handler.GetHistoryBatch(manager))
	api.Get("/history/:symbol", handler.GetHistory(manager))

	// realtime quotes
	api.Get("/quote", handler.GetQuoteBatch(manager))
	api.Get("/quote/:symbol", handler.GetQuote(manager))

	// asset catalog
	api.Get("/stocks", handler.GetStockList(manager))
	api.Get("/assets/:symbol", handler.GetAssetInfo(manager))
	api.Get("/financials/:symbol", handler.GetFinancialSummary(manager))

	// indexes
	api.Get("/indexes", handler.GetIndexList(manager))
	api.Get("/index/:symbol/history", handler.GetIndexSeries(manager))
	api.Get("/index/:symbol/quote", handler.GetIndexQuote(manager))

	// calendar
	api.Get("/calendar/:market", handler.GetTradingDays(manager))

	// cache administration
	api.Get("/stats", handler.GetStats(manager))
	api.Delete("/cache", handler.ClearCache(manager))
}
