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

package calendar_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/quantdb/qdb-api/calendar"
)

var _ = DescribeTable("inferring the market from a symbol",
	func(symbol string, expected calendar.Market, expectErr bool) {
		market, err := calendar.InferMarket(symbol)
		if expectErr {
			Expect(err).To(MatchError(calendar.ErrUnrecognizedSymbol))
			return
		}
		Expect(err).To(BeNil())
		Expect(market).To(Equal(expected))
	},
	Entry("6-digit shanghai code", "600519", calendar.MarketCNA, false),
	Entry("6-digit shenzhen code", "000001", calendar.MarketCNA, false),
	Entry("6-digit beijing code", "830799", calendar.MarketCNA, false),
	Entry("5-digit hong kong code", "00700", calendar.MarketHK, false),
	Entry("HK. prefixed code", "HK.00700", calendar.MarketHK, false),
	Entry("lowercase hk. prefix", "hk.00700", calendar.MarketHK, false),
	Entry("surrounding whitespace", " 600519 ", calendar.MarketCNA, false),
	Entry("empty string", "", calendar.Market(""), true),
	Entry("us-style ticker", "AAPL", calendar.Market(""), true),
	Entry("4 digits", "0700", calendar.Market(""), true),
	Entry("7 digits", "6005190", calendar.Market(""), true),
	Entry("HK. prefix with letters", "HK.MSFT", calendar.Market(""), true),
)

var _ = DescribeTable("converting to the native upstream symbol",
	func(symbol string, expected string) {
		Expect(calendar.NativeSymbol(symbol)).To(Equal(expected))
	},
	Entry("plain a-share code passes through", "600519", "600519"),
	Entry("plain hk code passes through", "00700", "00700"),
	Entry("HK. prefix is stripped", "HK.00700", "00700"),
	Entry("lowercase prefix is stripped", "hk.00700", "00700"),
	Entry("whitespace is trimmed", " 600519", "600519"),
)
