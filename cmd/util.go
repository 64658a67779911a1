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
	"path/filepath"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/quantdb/qdb-api/calendar"
	"github.com/quantdb/qdb-api/common"
	"github.com/quantdb/qdb-api/data"
)

// ttlCacheSize bounds the local LRU tier of the TTL cache
const ttlCacheSize = 4096

// setupManager assembles the cache engine shared by the CLI commands.
// The returned cleanup closes the store.
func setupManager(ctx context.Context) (*data.Manager, func(), error) {
	common.SetupLogging()

	if dir := viper.GetString("cache.dir"); dir != "" {
		common.SetCacheDir(dir)
	}
	cacheDir := common.CacheDir()

	store, err := data.OpenStore(ctx, cacheDir)
	if err != nil {
		return nil, nil, err
	}

	cal := newCalendar(cacheDir)
	if err := cal.RefreshIfStale(ctx); err != nil {
		log.Warn().Err(err).Msg("could not refresh trading calendar; continuing with snapshot")
	}

	opts := []data.TTLCacheOption{}
	if redisURL := viper.GetString("cache.redis"); redisURL != "" {
		redisOpts, err := redis.ParseURL(redisURL)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		opts = append(opts, data.WithRedis(redis.NewClient(redisOpts)))
	}

	cache, err := data.NewTTLCache(ttlCacheSize, cal.IsMarketOpen, opts...)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	manager := data.NewManager(data.Config{
		Store:    store,
		Calendar: cal,
		Fetcher:  data.NewAKShareFetcher(),
		Cache:    cache,
		Metrics:  data.NewMetrics(),
	})

	cleanup := func() {
		cache.StopSweeper()
		if err := store.Close(); err != nil {
			log.Error().Stack().Err(err).Msg("could not close store")
		}
	}
	return manager, cleanup, nil
}

func newCalendar(cacheDir string) *calendar.Calendar {
	snapshotPath := filepath.Join(cacheDir, calendar.SnapshotFileName)
	source := calendar.NewAKShareSource(viper.GetString("akshare.url"))

	opts := []calendar.Option{}
	if viper.GetBool("calendar.fallback") {
		opts = append(opts, calendar.WithFallback())
	}
	return calendar.New(snapshotPath, source, opts...)
}
