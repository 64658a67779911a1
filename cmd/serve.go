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
	"os"
	"os/signal"
	"runtime/pprof"
	"runtime/trace"
	"syscall"

	"github.com/go-co-op/gocron"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quantdb/qdb-api/calendar"
	"github.com/quantdb/qdb-api/data/database"
	"github.com/quantdb/qdb-api/middleware"
	"github.com/quantdb/qdb-api/observability/opentelemetry"
	"github.com/quantdb/qdb-api/router"
)

func init() {
	bindEnv("server.port", "PORT")
	serveCmd.Flags().IntP("port", "p", 3000, "Port to run application server on")
	if err := viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port")); err != nil {
		log.Panic().Err(err).Msg("could not bind server.port")
	}

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the quantdb API server",
	Long:  `Run the HTTP server that exposes the cache engine`,
	Run: func(_ *cobra.Command, _ []string) {
		if Profile {
			f, err := os.Create("profile.out")
			if err != nil {
				log.Panic().Err(err).Msg("could not create profile.out")
			}
			if err := pprof.StartCPUProfile(f); err != nil {
				log.Panic().Err(err).Msg("could not start cpu profile")
			}
			defer pprof.StopCPUProfile()
		}

		if Trace {
			f, err := os.Create("trace.out")
			if err != nil {
				log.Panic().Err(err).Msg("failed to create trace output file")
			}
			defer func() {
				if err := f.Close(); err != nil {
					log.Panic().Err(err).Msg("failed to close trace file")
				}
			}()
			if err := trace.Start(f); err != nil {
				log.Panic().Err(err).Msg("failed to start trace")
			}
			defer trace.Stop()
		}

		ctx := context.Background()

		manager, cleanup, err := setupManager(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("could not initialize cache engine")
		}
		defer cleanup()

		traceShutdown, err := opentelemetry.Setup()
		if err != nil {
			log.Fatal().Err(err).Msg("could not initialize tracing")
		}
		defer func() {
			if err := traceShutdown(ctx); err != nil {
				log.Error().Err(err).Msg("could not shutdown tracing")
			}
		}()

		manager.Cache().StartSweeper()

		app := fiber.New()

		// shutdown cleanly on interrupt
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-quit
			log.Info().Str("Signal", sig.String()).Msg("shutting down")
			if err := app.Shutdown(); err != nil {
				log.Fatal().Err(err).Msg("could not shutdown fiber")
			}
		}()

		app.Use(cors.New(cors.Config{
			AllowOrigins: "*",
			AllowHeaders: "*",
			AllowMethods: "GET,DELETE,HEAD",
		}))
		app.Use(middleware.NewLogger())

		router.SetupRoutes(app, manager)

		// background maintenance: nightly calendar refresh after Shanghai
		// midnight, an hourly coverage sweep, and an hourly transaction-leak
		// report for the pg backend
		scheduler := gocron.NewScheduler(calendar.MarketCNA.Timezone())
		if _, err := scheduler.Every(1).Day().At("05:00").Do(func() {
			if err := manager.WarmCalendar(context.Background()); err != nil {
				log.Error().Err(err).Msg("nightly calendar refresh failed")
			}
		}); err != nil {
			log.Error().Stack().Err(err).Msg("could not schedule calendar refresh")
		}
		if _, err := scheduler.Every(1).Hours().Do(func() {
			if err := manager.SweepAllCoverage(context.Background()); err != nil {
				log.Error().Err(err).Msg("coverage sweep failed")
			}
		}); err != nil {
			log.Error().Stack().Err(err).Msg("could not schedule coverage sweep")
		}
		if viper.GetString("database.url") != "" {
			if _, err := scheduler.Every(1).Hours().Do(database.LogOpenTransactions); err != nil {
				log.Error().Stack().Err(err).Msg("could not schedule transaction report")
			}
		}
		scheduler.StartAsync()
		defer scheduler.Stop()

		log.Info().Str("Port", viper.GetString("server.port")).Msg("starting server")
		if err := app.Listen(":" + viper.GetString("server.port")); err != nil {
			log.Fatal().Err(err).Msg("server exited with error")
		}
	},
}
