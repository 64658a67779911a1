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

import (
	"errors"
	"strings"
)

var ErrUnrecognizedSymbol = errors.New("unrecognized symbol")

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// InferMarket derives the market from a symbol's shape:
// 6 digits -> CN_A, 5 digits -> HK, "HK." prefix -> HK
func InferMarket(symbol string) (Market, error) {
	symbol = strings.TrimSpace(symbol)

	if strings.HasPrefix(strings.ToUpper(symbol), "HK.") {
		rest := symbol[3:]
		if allDigits(rest) {
			return MarketHK, nil
		}
		return "", ErrUnrecognizedSymbol
	}

	switch {
	case len(symbol) == 6 && allDigits(symbol):
		return MarketCNA, nil
	case len(symbol) == 5 && allDigits(symbol):
		return MarketHK, nil
	}

	return "", ErrUnrecognizedSymbol
}

// NativeSymbol strips the optional HK. prefix, returning the code the
// upstream provider expects
func NativeSymbol(symbol string) string {
	symbol = strings.TrimSpace(symbol)
	if strings.HasPrefix(strings.ToUpper(symbol), "HK.") {
		return symbol[3:]
	}
	return symbol
}
