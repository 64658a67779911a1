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

package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quantdb/qdb-api/calendar"
	"github.com/quantdb/qdb-api/common"
	"github.com/quantdb/qdb-api/data"
)

var calendarMarket string
var calendarStart string
var calendarEnd string

func init() {
	calendarCmd.Flags().StringVar(&calendarMarket, "market", string(calendar.MarketCNA), "Market to query")
	calendarCmd.Flags().StringVar(&calendarStart, "start", "", "Range start (YYYYMMDD); with --end prints trading days")
	calendarCmd.Flags().StringVar(&calendarEnd, "end", "", "Range end (YYYYMMDD)")
	rootCmd.AddCommand(calendarCmd)
}

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Refresh the trading calendar snapshot and optionally list trading days",
	Run: func(_ *cobra.Command, _ []string) {
		ctx := context.Background()
		common.SetupLogging()

		if dir := viper.GetString("cache.dir"); dir != "" {
			common.SetCacheDir(dir)
		}

		cal := newCalendar(common.CacheDir())
		if err := cal.Refresh(ctx); err != nil {
			log.Fatal().Err(err).Msg("could not refresh trading calendar")
		}
		log.Info().Msg("trading calendar refreshed")

		if calendarStart == "" || calendarEnd == "" {
			return
		}

		market := calendar.Market(calendarMarket)
		begin, err := data.ParseDate(calendarStart, market)
		if err != nil {
			log.Fatal().Err(err).Str("Start", calendarStart).Msg("invalid start date")
		}
		end, err := data.ParseDate(calendarEnd, market)
		if err != nil {
			log.Fatal().Err(err).Str("End", calendarEnd).Msg("invalid end date")
		}

		days, err := cal.TradingDays(market, begin, end)
		if err != nil {
			log.Fatal().Err(err).Msg("could not list trading days")
		}
		for _, day := range days {
			fmt.Println(day.Format(calendar.DateFormat))
		}
	},
}
