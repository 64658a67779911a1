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
	"github.com/gofiber/fiber/v2"

	"github.com/quantdb/qdb-api/data"
)

// GetStats serves GET /v1/stats
func GetStats(manager *data.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(manager.Stats(c.UserContext()))
	}
}

// ClearCache serves DELETE /v1/cache with an optional symbol query param
func ClearCache(manager *data.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		symbol := c.Query("symbol")
		if err := manager.ClearCache(c.UserContext(), symbol); err != nil {
			return sendError(c, err)
		}
		return c.JSON(fiber.Map{"status": "success", "symbol": symbol})
	}
}
