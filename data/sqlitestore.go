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
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantdb/qdb-api/calendar"
	"github.com/quantdb/qdb-api/data/database"
)

// SqliteStore implements Store over the embedded sqlite file. Dates are
// stored as YYYYMMDD text so lexicographic order matches chronological
// order and range scans use the primary key directly.
type SqliteStore struct {
	db *sql.DB
}

// OpenSqliteStore opens the embedded database under cacheDir
func OpenSqliteStore(ctx context.Context, cacheDir string) (*SqliteStore, error) {
	db, err := database.OpenSqlite(ctx, cacheDir)
	if err != nil {
		return nil, err
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) ResolveAsset(ctx context.Context, symbol, market, assetType string) (int64, error) {
	// INSERT OR IGNORE followed by SELECT so concurrent racing resolves
	// converge on one id
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO assets (symbol, market, asset_type) VALUES (?, ?, ?)`,
		symbol, market, assetType); err != nil {
		log.Error().Stack().Err(err).Str("Symbol", symbol).Msg("could not insert asset")
		return 0, err
	}

	var id int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT id FROM assets WHERE symbol = ?`, symbol).Scan(&id); err != nil {
		log.Error().Stack().Err(err).Str("Symbol", symbol).Msg("could not resolve asset id")
		return 0, err
	}
	return id, nil
}

func (s *SqliteStore) GetAsset(ctx context.Context, symbol string) (*Asset, error) {
	asset := &Asset{}
	var updatedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, symbol, name, market, exchange, currency, asset_type, industry,
		        list_date, pe, pb, roe, data_source, updated_at
		 FROM assets WHERE symbol = ?`, symbol).Scan(
		&asset.ID, &asset.Symbol, &asset.Name, &asset.Market, &asset.Exchange,
		&asset.Currency, &asset.AssetType, &asset.Industry, &asset.ListDate,
		&asset.PE, &asset.PB, &asset.ROE, &asset.DataSource, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Error().Stack().Err(err).Str("Symbol", symbol).Msg("could not read asset")
		return nil, err
	}
	if updatedAt.Valid {
		asset.UpdatedAt = updatedAt.Time
	}
	return asset, nil
}

func (s *SqliteStore) UpdateAsset(ctx context.Context, asset *Asset) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE assets SET name = ?, exchange = ?, currency = ?, industry = ?,
		        list_date = ?, pe = ?, pb = ?, roe = ?, data_source = ?, updated_at = ?
		 WHERE id = ?`,
		asset.Name, asset.Exchange, asset.Currency, asset.Industry, asset.ListDate,
		asset.PE, asset.PB, asset.ROE, asset.DataSource, asset.UpdatedAt, asset.ID)
	if err != nil {
		log.Error().Stack().Err(err).Str("Symbol", asset.Symbol).Msg("could not update asset")
	}
	return err
}

func (s *SqliteStore) ReadBars(ctx context.Context, assetID int64, variant Variant, begin, end time.Time) ([]*Bar, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT trade_date, open, high, low, close, volume, turnover, amplitude,
		        pct_change, change, turnover_rate, adj_close
		 FROM bars
		 WHERE asset_id = ? AND variant = ? AND trade_date BETWEEN ? AND ?
		 ORDER BY trade_date`,
		assetID, string(variant), begin.Format(calendar.DateFormat), end.Format(calendar.DateFormat))
	if err != nil {
		log.Error().Stack().Err(err).Int64("AssetID", assetID).Msg("could not read bars")
		return nil, err
	}
	defer rows.Close()

	bars := make([]*Bar, 0, 64)
	for rows.Next() {
		bar := &Bar{}
		var tradeDate string
		if err := rows.Scan(&tradeDate, &bar.Open, &bar.High, &bar.Low, &bar.Close,
			&bar.Volume, &bar.Turnover, &bar.Amplitude, &bar.PctChange, &bar.Change,
			&bar.TurnoverRate, &bar.AdjClose); err != nil {
			return nil, err
		}
		if bar.Date, err = time.Parse(calendar.DateFormat, tradeDate); err != nil {
			log.Error().Stack().Err(err).Str("TradeDate", tradeDate).Msg("corrupt trade date in bar store")
			return nil, ErrSchemaViolation
		}
		bars = append(bars, bar)
	}
	return bars, rows.Err()
}

func (s *SqliteStore) UpsertBars(ctx context.Context, assetID int64, variant Variant, bars []*Bar) error {
	if err := validateBars(bars); err != nil {
		return err
	}
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO bars (asset_id, variant, trade_date, open, high, low, close, volume,
		        turnover, amplitude, pct_change, change, turnover_rate, adj_close)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (asset_id, variant, trade_date) DO UPDATE SET
		        open = excluded.open, high = excluded.high, low = excluded.low,
		        close = excluded.close, volume = excluded.volume,
		        turnover = excluded.turnover, amplitude = excluded.amplitude,
		        pct_change = excluded.pct_change, change = excluded.change,
		        turnover_rate = excluded.turnover_rate, adj_close = excluded.adj_close`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, bar := range bars {
		if _, err := stmt.ExecContext(ctx, assetID, string(variant),
			bar.Date.Format(calendar.DateFormat), bar.Open, bar.High, bar.Low, bar.Close,
			bar.Volume, bar.Turnover, bar.Amplitude, bar.PctChange, bar.Change,
			bar.TurnoverRate, bar.AdjClose); err != nil {
			log.Error().Stack().Err(err).Int64("AssetID", assetID).Msg("could not upsert bar")
			return err
		}
	}
	return tx.Commit()
}

func (s *SqliteStore) DeleteBars(ctx context.Context, assetID int64, variant Variant, begin, end *time.Time) error {
	query := `DELETE FROM bars WHERE asset_id = ? AND variant = ?`
	args := []interface{}{assetID, string(variant)}
	if begin != nil {
		query += ` AND trade_date >= ?`
		args = append(args, begin.Format(calendar.DateFormat))
	}
	if end != nil {
		query += ` AND trade_date <= ?`
		args = append(args, end.Format(calendar.DateFormat))
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		log.Error().Stack().Err(err).Int64("AssetID", assetID).Msg("could not delete bars")
		return err
	}
	return nil
}

func (s *SqliteStore) DeleteAsset(ctx context.Context, assetID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, query := range []string{
		`DELETE FROM bars WHERE asset_id = ?`,
		`DELETE FROM coverage WHERE asset_id = ?`,
		`DELETE FROM assets WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, query, assetID); err != nil {
			log.Error().Stack().Err(err).Int64("AssetID", assetID).Msg("could not delete asset")
			return err
		}
	}
	return tx.Commit()
}

func (s *SqliteStore) Purge(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, query := range []string{
		`DELETE FROM bars`, `DELETE FROM coverage`, `DELETE FROM assets`,
	} {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			log.Error().Stack().Err(err).Msg("could not purge store")
			return err
		}
	}
	return tx.Commit()
}

func (s *SqliteStore) Coverage(ctx context.Context, assetID int64, variant Variant) (*CoverageRecord, error) {
	var earliest, latest sql.NullString
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(trade_date), MAX(trade_date), COUNT(*) FROM bars
		 WHERE asset_id = ? AND variant = ?`, assetID, string(variant)).
		Scan(&earliest, &latest, &count)
	if err != nil {
		log.Error().Stack().Err(err).Int64("AssetID", assetID).Msg("could not compute coverage")
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	rec := &CoverageRecord{AssetID: assetID, Variant: variant, BarCount: count}
	if rec.Earliest, err = time.Parse(calendar.DateFormat, earliest.String); err != nil {
		return nil, ErrCoverageCorrupt
	}
	if rec.Latest, err = time.Parse(calendar.DateFormat, latest.String); err != nil {
		return nil, ErrCoverageCorrupt
	}
	return rec, nil
}

func (s *SqliteStore) ReadCoverage(ctx context.Context, assetID int64, variant Variant) (*CoverageRecord, error) {
	rec := &CoverageRecord{AssetID: assetID, Variant: variant}
	var earliest, latest sql.NullString
	var firstRequested, lastAccessed, lastUpdated sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT earliest, latest, bar_count, first_requested_at, last_accessed_at, last_updated_at
		 FROM coverage WHERE asset_id = ? AND variant = ?`, assetID, string(variant)).
		Scan(&earliest, &latest, &rec.BarCount, &firstRequested, &lastAccessed, &lastUpdated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Error().Stack().Err(err).Int64("AssetID", assetID).Msg("could not read coverage")
		return nil, err
	}

	if earliest.Valid && earliest.String != "" {
		if rec.Earliest, err = time.Parse(calendar.DateFormat, earliest.String); err != nil {
			return nil, ErrCoverageCorrupt
		}
	}
	if latest.Valid && latest.String != "" {
		if rec.Latest, err = time.Parse(calendar.DateFormat, latest.String); err != nil {
			return nil, ErrCoverageCorrupt
		}
	}
	if firstRequested.Valid {
		rec.FirstRequestedAt = firstRequested.Time
	}
	if lastAccessed.Valid {
		rec.LastAccessedAt = lastAccessed.Time
	}
	if lastUpdated.Valid {
		rec.LastUpdatedAt = lastUpdated.Time
	}
	return rec, nil
}

func (s *SqliteStore) WriteCoverage(ctx context.Context, rec *CoverageRecord) error {
	earliest, latest := "", ""
	if !rec.Earliest.IsZero() {
		earliest = rec.Earliest.Format(calendar.DateFormat)
	}
	if !rec.Latest.IsZero() {
		latest = rec.Latest.Format(calendar.DateFormat)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO coverage (asset_id, variant, earliest, latest, bar_count,
		        first_requested_at, last_accessed_at, last_updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (asset_id, variant) DO UPDATE SET
		        earliest = excluded.earliest, latest = excluded.latest,
		        bar_count = excluded.bar_count,
		        last_accessed_at = excluded.last_accessed_at,
		        last_updated_at = excluded.last_updated_at`,
		rec.AssetID, string(rec.Variant), earliest, latest, rec.BarCount,
		rec.FirstRequestedAt, rec.LastAccessedAt, rec.LastUpdatedAt)
	if err != nil {
		log.Error().Stack().Err(err).Int64("AssetID", rec.AssetID).Msg("could not write coverage")
	}
	return err
}
