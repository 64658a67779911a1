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

// Package handler exposes the cache engine over HTTP. Handlers translate
// query parameters into engine calls and engine errors into stable error
// kinds with appropriate status codes; no caching logic lives here.
package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/quantdb/qdb-api/data"
)

// ErrorResponse is the JSON error envelope
type ErrorResponse struct {
	Status  string `json:"status"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// statusForKind maps an engine error kind to an HTTP status code
func statusForKind(kind string) int {
	switch kind {
	case "UnrecognizedSymbol", "InvalidDateRange", "InvalidAdjustMode", "InvalidPeriod", "UnknownMarket":
		return fiber.StatusBadRequest
	case "Unavailable":
		return fiber.StatusNotFound
	case "Overloaded", "CalendarUnavailable", "CalendarInconsistency":
		return fiber.StatusServiceUnavailable
	case "Timeout":
		return fiber.StatusGatewayTimeout
	case "UpstreamError":
		return fiber.StatusBadGateway
	case "Canceled":
		return fiber.StatusRequestTimeout
	}
	return fiber.StatusInternalServerError
}

// sendError writes the error envelope for err
func sendError(c *fiber.Ctx, err error) error {
	kind := data.ErrorKind(err)
	return c.Status(statusForKind(kind)).JSON(ErrorResponse{
		Status:  "error",
		Kind:    kind,
		Message: err.Error(),
	})
}

// PingResponse reports service liveness
type PingResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Time    string `json:"time"`
}

// Ping implements the health check
func Ping(c *fiber.Ctx) error {
	now, _ := time.Now().MarshalText()
	return c.JSON(PingResponse{
		Status:  "success",
		Message: "API is alive",
		Time:    string(now),
	})
}
