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

package database

import (
	"context"
	"database/sql"
	"path/filepath"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // embedded sqlite driver
)

// SqliteFileName is the embedded database file under the cache dir
const SqliteFileName = "quantdb.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS assets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	market TEXT NOT NULL,
	exchange TEXT NOT NULL DEFAULT '',
	currency TEXT NOT NULL DEFAULT '',
	asset_type TEXT NOT NULL DEFAULT 'stock',
	industry TEXT NOT NULL DEFAULT '',
	list_date TEXT NOT NULL DEFAULT '',
	pe REAL,
	pb REAL,
	roe REAL,
	data_source TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS bars (
	asset_id INTEGER NOT NULL,
	variant TEXT NOT NULL,
	trade_date TEXT NOT NULL,
	open REAL,
	high REAL,
	low REAL,
	close REAL,
	volume REAL,
	turnover REAL,
	amplitude REAL,
	pct_change REAL,
	change REAL,
	turnover_rate REAL,
	adj_close REAL,
	PRIMARY KEY (asset_id, variant, trade_date)
);

CREATE INDEX IF NOT EXISTS idx_bars_trade_date ON bars (trade_date);

CREATE TABLE IF NOT EXISTS coverage (
	asset_id INTEGER NOT NULL,
	variant TEXT NOT NULL,
	earliest TEXT,
	latest TEXT,
	bar_count INTEGER NOT NULL DEFAULT 0,
	first_requested_at TIMESTAMP,
	last_accessed_at TIMESTAMP,
	last_updated_at TIMESTAMP,
	PRIMARY KEY (asset_id, variant)
);
`

// OpenSqlite opens (creating if necessary) the embedded database under
// dir and applies the schema. The handle is safe for concurrent use;
// sqlite serializes writers internally.
func OpenSqlite(ctx context.Context, dir string) (*sql.DB, error) {
	path := filepath.Join(dir, SqliteFileName)
	subLog := log.With().Str("Path", path).Logger()

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not open sqlite database")
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not ping sqlite database")
		db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not apply sqlite schema")
		db.Close()
		return nil, err
	}

	return db, nil
}
