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

package handler

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/quantdb/qdb-api/calendar"
	"github.com/quantdb/qdb-api/data"
)

// forceRefresh reads the force_refresh query flag
func forceRefresh(c *fiber.Ctx) bool {
	v, err := strconv.ParseBool(c.Query("force_refresh", "false"))
	return err == nil && v
}

// GetQuote serves GET /v1/quote/:symbol
func GetQuote(manager *data.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		force := forceRefresh(c)
		quote, err := manager.GetQuote(c.UserContext(), c.Params("symbol"), force)
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(quote)
	}
}

// GetQuoteBatch serves GET /v1/quote with symbols=a,b,c
func GetQuoteBatch(manager *data.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		symbolsParam := c.Query("symbols")
		if symbolsParam == "" {
			return sendError(c, calendar.ErrUnrecognizedSymbol)
		}
		force := forceRefresh(c)

		results, err := manager.GetQuoteBatch(c.UserContext(), strings.Split(symbolsParam, ","), force)
		if err != nil {
			return sendError(c, err)
		}

		payload := make(map[string]any, len(results))
		for symbol, result := range results {
			if result.Err != nil {
				payload[symbol] = ErrorResponse{
					Status:  "error",
					Kind:    data.ErrorKind(result.Err),
					Message: result.Err.Error(),
				}
				continue
			}
			payload[symbol] = result.Quote
		}
		return c.JSON(payload)
	}
}

// GetStockList serves GET /v1/stocks
func GetStockList(manager *data.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		market := calendar.Market(c.Query("market", string(calendar.MarketCNA)))
		list, err := manager.GetStockList(c.UserContext(), market, forceRefresh(c))
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(fiber.Map{"market": market, "count": len(list), "stocks": list})
	}
}

// GetAssetInfo serves GET /v1/assets/:symbol
func GetAssetInfo(manager *data.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		asset, err := manager.GetAssetInfo(c.UserContext(), c.Params("symbol"))
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(asset)
	}
}

// GetIndexList serves GET /v1/indexes
func GetIndexList(manager *data.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		category := c.Query("category")
		list, err := manager.GetIndexList(c.UserContext(), category, forceRefresh(c))
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(fiber.Map{"category": category, "count": len(list), "indexes": list})
	}
}

// GetIndexQuote serves GET /v1/index/:symbol/quote
func GetIndexQuote(manager *data.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		quote, err := manager.GetIndexQuote(c.UserContext(), c.Params("symbol"), forceRefresh(c))
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(quote)
	}
}

// GetFinancialSummary serves GET /v1/financials/:symbol
func GetFinancialSummary(manager *data.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		summary, err := manager.GetFinancialSummary(c.UserContext(), c.Params("symbol"))
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(summary)
	}
}

// GetTradingDays serves GET /v1/calendar/:market
func GetTradingDays(manager *data.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		market := calendar.Market(c.Params("market"))
		window, _, err := parseWindow(c, market)
		if err != nil {
			return sendError(c, err)
		}

		days, err := manager.Calendar().TradingDays(market, window.Begin, window.End)
		if err != nil {
			return sendError(c, err)
		}

		formatted := make([]string, 0, len(days))
		for _, day := range days {
			formatted = append(formatted, day.Format(calendar.DateFormat))
		}
		return c.JSON(fiber.Map{
			"market":       market,
			"trading_days": formatted,
			"fallback":     manager.Calendar().FallbackMode(),
		})
	}
}
