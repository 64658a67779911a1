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
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/quantdb/qdb-api/data/database"
)

// Store is the durable row store for assets, bars, and coverage records.
// Two backends exist: the embedded sqlite file (default) and PostgreSQL
// (selected when database.url is configured). Within one process the
// store provides read-your-writes; batch upserts are atomic; reads are
// consistent snapshots of a single asset's range. No cross-asset
// transactional semantics are provided.
type Store interface {
	// ResolveAsset returns the stable asset id for symbol, allocating one
	// on first sight. Concurrent racing resolves converge on one id.
	ResolveAsset(ctx context.Context, symbol, market, assetType string) (int64, error)

	// GetAsset returns the descriptive record; ErrNotFound when the
	// symbol has never been resolved
	GetAsset(ctx context.Context, symbol string) (*Asset, error)

	// UpdateAsset persists refreshed descriptive fields
	UpdateAsset(ctx context.Context, asset *Asset) error

	// ReadBars returns the series' bars in [begin, end] ascending by date
	ReadBars(ctx context.Context, assetID int64, variant Variant, begin, end time.Time) ([]*Bar, error)

	// UpsertBars writes a batch atomically; conflicts on (asset, variant,
	// date) replace all non-key fields. Idempotent.
	UpsertBars(ctx context.Context, assetID int64, variant Variant, bars []*Bar) error

	// DeleteBars tombstones bars within the window; nil bounds delete all
	DeleteBars(ctx context.Context, assetID int64, variant Variant, begin, end *time.Time) error

	// DeleteAsset removes the asset row, its bars across all variants,
	// and its coverage rows
	DeleteAsset(ctx context.Context, assetID int64) error

	// Purge removes every asset, bar, and coverage row
	Purge(ctx context.Context) error

	// Coverage recomputes (earliest, latest, count) from the bar rows;
	// nil when the series has no bars
	Coverage(ctx context.Context, assetID int64, variant Variant) (*CoverageRecord, error)

	// ReadCoverage / WriteCoverage access the persisted coverage summary
	ReadCoverage(ctx context.Context, assetID int64, variant Variant) (*CoverageRecord, error)
	WriteCoverage(ctx context.Context, rec *CoverageRecord) error

	Close() error
}

// OpenStore selects a backend from configuration: PostgreSQL when
// database.url is set, otherwise the embedded sqlite file under cacheDir
func OpenStore(ctx context.Context, cacheDir string) (Store, error) {
	if url := viper.GetString("database.url"); url != "" {
		log.Info().Msg("using postgresql bar store")
		if err := database.Connect(ctx); err != nil {
			return nil, err
		}
		store := NewPgStore()
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}

	log.Info().Str("CacheDir", cacheDir).Msg("using embedded sqlite bar store")
	return OpenSqliteStore(ctx, cacheDir)
}

// validateBars rejects batches that violate the bar schema before any row
// is written
func validateBars(bars []*Bar) error {
	for _, bar := range bars {
		if bar == nil || bar.Date.IsZero() {
			return ErrSchemaViolation
		}
		for _, v := range []*float64{bar.Open, bar.High, bar.Low, bar.Close, bar.Volume,
			bar.Turnover, bar.Amplitude, bar.PctChange, bar.Change, bar.TurnoverRate, bar.AdjClose} {
			if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
				return ErrSchemaViolation
			}
		}
	}
	return nil
}
