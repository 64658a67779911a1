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

import "time"

// Session is one continuous trading window expressed as HHMM integers in
// the market's local time
type Session struct {
	Open  int
	Close int
}

// MarketHours is the ordered session list for a market day
type MarketHours struct {
	Sessions []Session
}

var marketHours = map[Market]MarketHours{
	MarketCNA: {Sessions: []Session{{Open: 930, Close: 1130}, {Open: 1300, Close: 1500}}},
	MarketHK:  {Sessions: []Session{{Open: 930, Close: 1200}, {Open: 1300, Close: 1600}}},
}

// Hours returns the session schedule for the market
func Hours(market Market) MarketHours {
	if h, ok := marketHours[market]; ok {
		return h
	}
	return marketHours[MarketCNA]
}

// IsMarketOpen reports whether t falls inside a trading session on a
// trading day. A calendar error (unknown market, no snapshot without
// fallback) reports closed; freshness callers then use off-hours TTLs.
func (cal *Calendar) IsMarketOpen(market Market, t time.Time) bool {
	trading, err := cal.IsTradingDay(market, t)
	if err != nil || !trading {
		return false
	}

	local := t.In(market.Timezone())
	timeOfDay := local.Hour()*100 + local.Minute()

	for _, session := range Hours(market).Sessions {
		if timeOfDay >= session.Open && timeOfDay <= session.Close {
			return true
		}
	}
	return false
}
