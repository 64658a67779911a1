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
	"strings"
	"time"

	"github.com/quantdb/qdb-api/calendar"
)

// ParseDate coerces a user supplied date into a market-local midnight.
// Accepted forms: YYYYMMDD and YYYY-MM-DD.
func ParseDate(s string, market calendar.Market) (time.Time, error) {
	s = strings.TrimSpace(s)
	tz := market.Timezone()

	if t, err := time.ParseInLocation(calendar.DateFormat, s, tz); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, tz); err == nil {
		return t, nil
	}
	return time.Time{}, ErrInvalidDateRange
}

// FormatDate renders a date in the canonical YYYYMMDD form
func FormatDate(t time.Time) string {
	return t.Format(calendar.DateFormat)
}

// sameDay compares two dates at day granularity in the market timezone
func sameDay(market calendar.Market, a, b time.Time) bool {
	return market.Day(a).Equal(market.Day(b))
}
