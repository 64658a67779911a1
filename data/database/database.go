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

// Package database manages connections for the bar store backends: the
// pgx pool for the PostgreSQL backend and the embedded sqlite handle.
package database

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// PgxIface is the subset of the pgx pool the store uses; pgxmock
// implements it for tests
type PgxIface interface {
	Begin(context.Context) (pgx.Tx, error)
}

var (
	pool       PgxIface
	poolLocker sync.Mutex

	openTransactions map[string]string
)

// SetPool installs the pool; tests inject a pgxmock connection here
func SetPool(myPool PgxIface) {
	poolLocker.Lock()
	defer poolLocker.Unlock()
	openTransactions = make(map[string]string)
	pool = myPool
}

// Connect establishes the PostgreSQL pool from the database.url config key
func Connect(ctx context.Context) error {
	myPool, err := pgxpool.Connect(ctx, viper.GetString("database.url"))
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not connect to pool")
		return err
	}
	if err = myPool.Ping(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not ping database server")
		return err
	}
	SetPool(myPool)
	return nil
}

// Trx begins a tracked transaction
func Trx(ctx context.Context) (pgx.Tx, error) {
	trx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}

	_, file, lineno, ok := runtime.Caller(1)
	caller := fmt.Sprintf("[%v] %s:%d", ok, file, lineno)

	return newTrackedTx(trx, caller), nil
}

// LogOpenTransactions writes an INFO log for each open transaction; used
// to find transaction leaks during development
func LogOpenTransactions() {
	poolLocker.Lock()
	defer poolLocker.Unlock()
	for k, v := range openTransactions {
		log.Info().Str("TrxId", k).Str("Caller", v).Msg("open transaction")
	}
}
