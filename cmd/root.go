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
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quantdb/qdb-api/common"
)

var Profile bool
var Trace bool

func bindEnv(key, env string) {
	if err := viper.BindEnv(key, env); err != nil {
		log.Panic().Err(err).Str("Key", key).Msg("could not bind environment variable")
	}
}

func bindFlag(key, flag string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		log.Panic().Err(err).Str("Key", key).Msg("could not bind flag")
	}
}

func init() {
	// Cache
	bindEnv("cache.dir", "QDB_CACHE_DIR")
	rootCmd.PersistentFlags().String("cache-dir", "", "Cache directory (default ~/.quantdb_cache)")
	bindFlag("cache.dir", "cache-dir")

	bindEnv("cache.ttl", "QDB_CACHE_TTL")
	rootCmd.PersistentFlags().Int("cache-ttl", 0, "Uniform TTL override in seconds for all cached object kinds")
	bindFlag("cache.ttl", "cache-ttl")

	bindEnv("cache.redis", "REDIS_URL")
	rootCmd.PersistentFlags().String("redis-url", "", "Redis connection string for the second cache tier")
	bindFlag("cache.redis", "redis-url")

	// Database
	bindEnv("database.url", "DATABASE_URL")
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string; when empty the embedded store is used")
	bindFlag("database.url", "database-url")

	// Upstream
	bindEnv("akshare.url", "AKTOOLS_URL")
	rootCmd.PersistentFlags().String("akshare-url", "", "AKTools service address")
	bindFlag("akshare.url", "akshare-url")

	// Calendar
	bindEnv("calendar.fallback", "QDB_CALENDAR_FALLBACK")
	rootCmd.PersistentFlags().Bool("calendar-fallback", true, "Serve weekday approximations when the trading calendar is unavailable")
	bindFlag("calendar.fallback", "calendar-fallback")

	// Logging configuration
	bindEnv("log.level", "QDB_LOG_LEVEL")
	rootCmd.PersistentFlags().String("log-level", "info", "Logging level")
	bindFlag("log.level", "log-level")

	bindEnv("log.output", "QDB_LOG_OUTPUT")
	rootCmd.PersistentFlags().String("log-output", "stdout", "Write logs to specified output one of: file path, `stdout`, or `stderr`")
	bindFlag("log.output", "log-output")

	bindEnv("log.pretty", "QDB_LOG_PRETTY")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "Print human readable logs instead of json")
	bindFlag("log.pretty", "log-pretty")

	// Tracing
	bindEnv("otlp.endpoint", "OTLP_ENDPOINT")
	rootCmd.PersistentFlags().String("otlp-endpoint", "", "OTLP trace collector endpoint")
	bindFlag("otlp.endpoint", "otlp-endpoint")

	rootCmd.PersistentFlags().BoolVar(&Profile, "cpu-profile", false, "Run pprof and save in profile.out")
	rootCmd.PersistentFlags().BoolVar(&Trace, "trace", false, "Trace program execution and save in trace.out")
}

var rootCmd = &cobra.Command{
	Use:     "qdbapi",
	Version: common.CurrentVersion.String(),
	Short:   "quantdb is a caching middleware for Chinese equity market data",
	Long: `A bounded-staleness cache between application code and the AKShare data
provider. Historical bars are stored durably and only the trading days
missing from the store are fetched upstream.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
