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
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/quantdb/qdb-api/calendar"
	"github.com/quantdb/qdb-api/data"
)

// HistoryResponse carries one symbol's bars plus any missing sub-windows
type HistoryResponse struct {
	Symbol        string           `json:"symbol"`
	Adjust        string           `json:"adjust"`
	Bars          []*data.Bar      `json:"bars"`
	MissingRanges []data.DateRange `json:"missing_ranges,omitempty"`
	Partial       bool             `json:"partial,omitempty"`
}

// parseWindow reads start/end query params; days takes precedence when set
func parseWindow(c *fiber.Ctx, market calendar.Market) (data.DateRange, int, error) {
	if daysStr := c.Query("days"); daysStr != "" {
		days, err := strconv.Atoi(daysStr)
		if err != nil || days <= 0 {
			return data.DateRange{}, 0, data.ErrInvalidDateRange
		}
		return data.DateRange{}, days, nil
	}

	startStr := c.Query("start")
	endStr := c.Query("end")
	if startStr == "" || endStr == "" {
		return data.DateRange{}, 0, data.ErrInvalidDateRange
	}

	begin, err := data.ParseDate(startStr, market)
	if err != nil {
		return data.DateRange{}, 0, err
	}
	end, err := data.ParseDate(endStr, market)
	if err != nil {
		return data.DateRange{}, 0, err
	}

	window := data.DateRange{Begin: begin, End: end}
	return window, 0, window.Valid()
}

// GetHistory serves GET /v1/history/:symbol
func GetHistory(manager *data.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		symbol := c.Params("symbol")

		adjust, err := data.ParseAdjustMode(c.Query("adjust"))
		if err != nil {
			return sendError(c, err)
		}

		market, err := calendar.InferMarket(symbol)
		if err != nil {
			return sendError(c, err)
		}

		window, days, err := parseWindow(c, market)
		if err != nil {
			return sendError(c, err)
		}

		var bars []*data.Bar
		if days > 0 {
			bars, err = manager.GetHistoryDays(c.UserContext(), symbol, days, adjust)
		} else {
			bars, err = manager.GetHistory(c.UserContext(), symbol, window, adjust)
		}

		resp := HistoryResponse{
			Symbol: calendar.NativeSymbol(symbol),
			Adjust: string(adjust),
			Bars:   bars,
		}

		var partial *data.PartialDataError
		var timeout *data.TimeoutError
		switch {
		case err == nil:
			return c.JSON(resp)
		case errors.As(err, &partial):
			resp.Partial = true
			resp.MissingRanges = partial.MissingRanges
			return c.Status(fiber.StatusPartialContent).JSON(resp)
		case errors.As(err, &timeout):
			resp.Partial = true
			resp.MissingRanges = timeout.MissingRanges
			return c.Status(fiber.StatusPartialContent).JSON(resp)
		}
		return sendError(c, err)
	}
}

// GetHistoryBatch serves GET /v1/history with symbols=a,b,c
func GetHistoryBatch(manager *data.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		symbolsParam := c.Query("symbols")
		if symbolsParam == "" {
			return sendError(c, data.ErrInvalidDateRange)
		}
		symbols := strings.Split(symbolsParam, ",")

		adjust, err := data.ParseAdjustMode(c.Query("adjust"))
		if err != nil {
			return sendError(c, err)
		}

		market, err := calendar.InferMarket(symbols[0])
		if err != nil {
			return sendError(c, err)
		}
		window, days, err := parseWindow(c, market)
		if err != nil {
			return sendError(c, err)
		}

		var results map[string]data.BatchResult
		if days > 0 {
			results, err = manager.GetHistoryDaysBatch(c.UserContext(), symbols, days, adjust)
		} else {
			results, err = manager.GetHistoryBatch(c.UserContext(), symbols, window, adjust)
		}
		if err != nil {
			return sendError(c, err)
		}

		payload := make(map[string]HistoryResponse, len(results))
		for symbol, result := range results {
			entry := HistoryResponse{
				Symbol: calendar.NativeSymbol(symbol),
				Adjust: string(adjust),
				Bars:   result.Bars,
			}
			var partial *data.PartialDataError
			if errors.As(result.Err, &partial) {
				entry.Partial = true
				entry.MissingRanges = partial.MissingRanges
			}
			payload[symbol] = entry
		}
		return c.JSON(payload)
	}
}

// GetIndexSeries serves GET /v1/index/:symbol/history
func GetIndexSeries(manager *data.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		symbol := c.Params("symbol")

		period, err := data.ParsePeriod(c.Query("period"))
		if err != nil {
			return sendError(c, err)
		}

		window, days, err := parseWindow(c, calendar.MarketCNA)
		if err != nil {
			return sendError(c, err)
		}

		var bars []*data.Bar
		if days > 0 {
			bars, err = manager.GetIndexSeriesDays(c.UserContext(), symbol, days, period, forceRefresh(c))
		} else {
			bars, err = manager.GetIndexSeries(c.UserContext(), symbol, window, period, forceRefresh(c))
		}
		if err != nil {
			var partial *data.PartialDataError
			if !errors.As(err, &partial) {
				return sendError(c, err)
			}
		}

		return c.JSON(fiber.Map{
			"symbol": calendar.NativeSymbol(symbol),
			"period": string(period),
			"bars":   bars,
		})
	}
}
