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
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"

	"github.com/quantdb/qdb-api/data/database"
)

// PgStore implements Store over a PostgreSQL pool. Deployments that share
// one cache between several processes use this backend instead of the
// per-host sqlite file.
type PgStore struct{}

// NewPgStore returns the PostgreSQL-backed store; database.Connect (or
// database.SetPool in tests) must have been called first
func NewPgStore() *PgStore {
	return &PgStore{}
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS assets (
	id BIGSERIAL PRIMARY KEY,
	symbol TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	market TEXT NOT NULL,
	exchange TEXT NOT NULL DEFAULT '',
	currency TEXT NOT NULL DEFAULT '',
	asset_type TEXT NOT NULL DEFAULT 'stock',
	industry TEXT NOT NULL DEFAULT '',
	list_date TEXT NOT NULL DEFAULT '',
	pe DOUBLE PRECISION,
	pb DOUBLE PRECISION,
	roe DOUBLE PRECISION,
	data_source TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS bars (
	asset_id BIGINT NOT NULL,
	variant TEXT NOT NULL,
	trade_date DATE NOT NULL,
	open DOUBLE PRECISION,
	high DOUBLE PRECISION,
	low DOUBLE PRECISION,
	close DOUBLE PRECISION,
	volume DOUBLE PRECISION,
	turnover DOUBLE PRECISION,
	amplitude DOUBLE PRECISION,
	pct_change DOUBLE PRECISION,
	change DOUBLE PRECISION,
	turnover_rate DOUBLE PRECISION,
	adj_close DOUBLE PRECISION,
	PRIMARY KEY (asset_id, variant, trade_date)
);

CREATE INDEX IF NOT EXISTS idx_bars_trade_date ON bars (trade_date);

CREATE TABLE IF NOT EXISTS coverage (
	asset_id BIGINT NOT NULL,
	variant TEXT NOT NULL,
	earliest DATE,
	latest DATE,
	bar_count BIGINT NOT NULL DEFAULT 0,
	first_requested_at TIMESTAMPTZ,
	last_accessed_at TIMESTAMPTZ,
	last_updated_at TIMESTAMPTZ,
	PRIMARY KEY (asset_id, variant)
);
`

// EnsureSchema creates the store tables if they do not already exist
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	trx, err := database.Trx(ctx)
	if err != nil {
		return err
	}
	if _, err := trx.Exec(ctx, pgSchema); err != nil {
		log.Error().Stack().Err(err).Msg("could not apply store schema")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}
	return trx.Commit(ctx)
}

func (s *PgStore) Close() error {
	return nil
}

func (s *PgStore) ResolveAsset(ctx context.Context, symbol, market, assetType string) (int64, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return 0, err
	}
	defer trx.Rollback(ctx)

	var id int64
	err = trx.QueryRow(ctx,
		`INSERT INTO assets (symbol, market, asset_type) VALUES ($1, $2, $3)
		 ON CONFLICT (symbol) DO UPDATE SET market = excluded.market
		 RETURNING id`, symbol, market, assetType).Scan(&id)
	if err != nil {
		log.Error().Stack().Err(err).Str("Symbol", symbol).Msg("could not resolve asset id")
		return 0, err
	}
	return id, trx.Commit(ctx)
}

func (s *PgStore) GetAsset(ctx context.Context, symbol string) (*Asset, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		return nil, err
	}
	defer trx.Rollback(ctx)

	asset := &Asset{}
	var updatedAt *time.Time
	err = trx.QueryRow(ctx,
		`SELECT id, symbol, name, market, exchange, currency, asset_type, industry,
		        list_date, pe, pb, roe, data_source, updated_at
		 FROM assets WHERE symbol = $1`, symbol).Scan(
		&asset.ID, &asset.Symbol, &asset.Name, &asset.Market, &asset.Exchange,
		&asset.Currency, &asset.AssetType, &asset.Industry, &asset.ListDate,
		&asset.PE, &asset.PB, &asset.ROE, &asset.DataSource, &updatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Error().Stack().Err(err).Str("Symbol", symbol).Msg("could not read asset")
		return nil, err
	}
	if updatedAt != nil {
		asset.UpdatedAt = *updatedAt
	}
	return asset, trx.Commit(ctx)
}

func (s *PgStore) UpdateAsset(ctx context.Context, asset *Asset) error {
	trx, err := database.Trx(ctx)
	if err != nil {
		return err
	}
	defer trx.Rollback(ctx)

	if _, err := trx.Exec(ctx,
		`UPDATE assets SET name = $1, exchange = $2, currency = $3, industry = $4,
		        list_date = $5, pe = $6, pb = $7, roe = $8, data_source = $9, updated_at = $10
		 WHERE id = $11`,
		asset.Name, asset.Exchange, asset.Currency, asset.Industry, asset.ListDate,
		asset.PE, asset.PB, asset.ROE, asset.DataSource, asset.UpdatedAt, asset.ID); err != nil {
		log.Error().Stack().Err(err).Str("Symbol", asset.Symbol).Msg("could not update asset")
		return err
	}
	return trx.Commit(ctx)
}

func (s *PgStore) ReadBars(ctx context.Context, assetID int64, variant Variant, begin, end time.Time) ([]*Bar, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		return nil, err
	}
	defer trx.Rollback(ctx)

	rows, err := trx.Query(ctx,
		`SELECT trade_date, open, high, low, close, volume, turnover, amplitude,
		        pct_change, change, turnover_rate, adj_close
		 FROM bars
		 WHERE asset_id = $1 AND variant = $2 AND trade_date BETWEEN $3 AND $4
		 ORDER BY trade_date`, assetID, string(variant), begin, end)
	if err != nil {
		log.Error().Stack().Err(err).Int64("AssetID", assetID).Msg("could not read bars")
		return nil, err
	}

	bars := make([]*Bar, 0, 64)
	for rows.Next() {
		bar := &Bar{}
		if err := rows.Scan(&bar.Date, &bar.Open, &bar.High, &bar.Low, &bar.Close,
			&bar.Volume, &bar.Turnover, &bar.Amplitude, &bar.PctChange, &bar.Change,
			&bar.TurnoverRate, &bar.AdjClose); err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bars, trx.Commit(ctx)
}

func (s *PgStore) UpsertBars(ctx context.Context, assetID int64, variant Variant, bars []*Bar) error {
	if err := validateBars(bars); err != nil {
		return err
	}
	if len(bars) == 0 {
		return nil
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		return err
	}
	defer trx.Rollback(ctx)

	for _, bar := range bars {
		if _, err := trx.Exec(ctx,
			`INSERT INTO bars (asset_id, variant, trade_date, open, high, low, close, volume,
			        turnover, amplitude, pct_change, change, turnover_rate, adj_close)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			 ON CONFLICT (asset_id, variant, trade_date) DO UPDATE SET
			        open = excluded.open, high = excluded.high, low = excluded.low,
			        close = excluded.close, volume = excluded.volume,
			        turnover = excluded.turnover, amplitude = excluded.amplitude,
			        pct_change = excluded.pct_change, change = excluded.change,
			        turnover_rate = excluded.turnover_rate, adj_close = excluded.adj_close`,
			assetID, string(variant), bar.Date, bar.Open, bar.High, bar.Low, bar.Close,
			bar.Volume, bar.Turnover, bar.Amplitude, bar.PctChange, bar.Change,
			bar.TurnoverRate, bar.AdjClose); err != nil {
			log.Error().Stack().Err(err).Int64("AssetID", assetID).Msg("could not upsert bar")
			return err
		}
	}
	return trx.Commit(ctx)
}

func (s *PgStore) DeleteBars(ctx context.Context, assetID int64, variant Variant, begin, end *time.Time) error {
	trx, err := database.Trx(ctx)
	if err != nil {
		return err
	}
	defer trx.Rollback(ctx)

	query := `DELETE FROM bars WHERE asset_id = $1 AND variant = $2`
	args := []interface{}{assetID, string(variant)}
	if begin != nil {
		args = append(args, *begin)
		query += ` AND trade_date >= $3`
	}
	if end != nil {
		args = append(args, *end)
		switch len(args) {
		case 3:
			query += ` AND trade_date <= $3`
		case 4:
			query += ` AND trade_date <= $4`
		}
	}
	if _, err := trx.Exec(ctx, query, args...); err != nil {
		log.Error().Stack().Err(err).Int64("AssetID", assetID).Msg("could not delete bars")
		return err
	}
	return trx.Commit(ctx)
}

func (s *PgStore) DeleteAsset(ctx context.Context, assetID int64) error {
	trx, err := database.Trx(ctx)
	if err != nil {
		return err
	}
	defer trx.Rollback(ctx)

	for _, query := range []string{
		`DELETE FROM bars WHERE asset_id = $1`,
		`DELETE FROM coverage WHERE asset_id = $1`,
		`DELETE FROM assets WHERE id = $1`,
	} {
		if _, err := trx.Exec(ctx, query, assetID); err != nil {
			log.Error().Stack().Err(err).Int64("AssetID", assetID).Msg("could not delete asset")
			return err
		}
	}
	return trx.Commit(ctx)
}

func (s *PgStore) Purge(ctx context.Context) error {
	trx, err := database.Trx(ctx)
	if err != nil {
		return err
	}
	defer trx.Rollback(ctx)
	for _, query := range []string{
		`DELETE FROM bars`, `DELETE FROM coverage`, `DELETE FROM assets`,
	} {
		if _, err := trx.Exec(ctx, query); err != nil {
			log.Error().Stack().Err(err).Msg("could not purge store")
			return err
		}
	}
	return trx.Commit(ctx)
}

func (s *PgStore) Coverage(ctx context.Context, assetID int64, variant Variant) (*CoverageRecord, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		return nil, err
	}
	defer trx.Rollback(ctx)

	var earliest, latest *time.Time
	var count int64
	err = trx.QueryRow(ctx,
		`SELECT MIN(trade_date), MAX(trade_date), COUNT(*) FROM bars
		 WHERE asset_id = $1 AND variant = $2`, assetID, string(variant)).
		Scan(&earliest, &latest, &count)
	if err != nil {
		log.Error().Stack().Err(err).Int64("AssetID", assetID).Msg("could not compute coverage")
		return nil, err
	}
	if err := trx.Commit(ctx); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	if earliest == nil || latest == nil {
		return nil, ErrCoverageCorrupt
	}
	return &CoverageRecord{
		AssetID:  assetID,
		Variant:  variant,
		Earliest: *earliest,
		Latest:   *latest,
		BarCount: count,
	}, nil
}

func (s *PgStore) ReadCoverage(ctx context.Context, assetID int64, variant Variant) (*CoverageRecord, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		return nil, err
	}
	defer trx.Rollback(ctx)

	rec := &CoverageRecord{AssetID: assetID, Variant: variant}
	var earliest, latest, firstRequested, lastAccessed, lastUpdated *time.Time
	err = trx.QueryRow(ctx,
		`SELECT earliest, latest, bar_count, first_requested_at, last_accessed_at, last_updated_at
		 FROM coverage WHERE asset_id = $1 AND variant = $2`, assetID, string(variant)).
		Scan(&earliest, &latest, &rec.BarCount, &firstRequested, &lastAccessed, &lastUpdated)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Error().Stack().Err(err).Int64("AssetID", assetID).Msg("could not read coverage")
		return nil, err
	}
	if earliest != nil {
		rec.Earliest = *earliest
	}
	if latest != nil {
		rec.Latest = *latest
	}
	if firstRequested != nil {
		rec.FirstRequestedAt = *firstRequested
	}
	if lastAccessed != nil {
		rec.LastAccessedAt = *lastAccessed
	}
	if lastUpdated != nil {
		rec.LastUpdatedAt = *lastUpdated
	}
	return rec, trx.Commit(ctx)
}

func (s *PgStore) WriteCoverage(ctx context.Context, rec *CoverageRecord) error {
	trx, err := database.Trx(ctx)
	if err != nil {
		return err
	}
	defer trx.Rollback(ctx)

	var earliest, latest *time.Time
	if !rec.Earliest.IsZero() {
		earliest = &rec.Earliest
	}
	if !rec.Latest.IsZero() {
		latest = &rec.Latest
	}
	if _, err := trx.Exec(ctx,
		`INSERT INTO coverage (asset_id, variant, earliest, latest, bar_count,
		        first_requested_at, last_accessed_at, last_updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (asset_id, variant) DO UPDATE SET
		        earliest = excluded.earliest, latest = excluded.latest,
		        bar_count = excluded.bar_count,
		        last_accessed_at = excluded.last_accessed_at,
		        last_updated_at = excluded.last_updated_at`,
		rec.AssetID, string(rec.Variant), earliest, latest, rec.BarCount,
		rec.FirstRequestedAt, rec.LastAccessedAt, rec.LastUpdatedAt); err != nil {
		log.Error().Stack().Err(err).Int64("AssetID", rec.AssetID).Msg("could not write coverage")
		return err
	}
	return trx.Commit(ctx)
}
