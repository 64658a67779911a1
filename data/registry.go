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
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/quantdb/qdb-api/calendar"
)

// assetInfoMaxAge is how long a stored asset description stays fresh
const assetInfoMaxAge = 24 * time.Hour

// AssetRegistry maps symbols to stable asset ids and keeps descriptive
// records fresh. Ids are allocated by the store on first sight and never
// reused; the in-memory map only short-circuits repeat resolutions.
type AssetRegistry struct {
	store   Store
	fetcher Fetcher
	clock   func() time.Time

	idLocker sync.RWMutex
	ids      map[string]int64

	describeGroup singleflight.Group
}

// NewAssetRegistry creates a registry over store; fetcher may be nil, in
// which case Describe serves defaults for unknown symbols
func NewAssetRegistry(store Store, fetcher Fetcher) *AssetRegistry {
	return &AssetRegistry{
		store:   store,
		fetcher: fetcher,
		clock:   time.Now,
		ids:     make(map[string]int64),
	}
}

// Resolve returns the stable id for symbol, inferring its market from
// the symbol shape and allocating an id on first sight
func (r *AssetRegistry) Resolve(ctx context.Context, symbol string) (int64, calendar.Market, error) {
	return r.ResolveTyped(ctx, symbol, "stock")
}

// ResolveTyped resolves with an explicit asset type; index series are
// registered under the same symbol namespace as stocks
func (r *AssetRegistry) ResolveTyped(ctx context.Context, symbol, assetType string) (int64, calendar.Market, error) {
	market, err := calendar.InferMarket(symbol)
	if err != nil {
		return 0, "", err
	}
	native := calendar.NativeSymbol(symbol)

	r.idLocker.RLock()
	id, ok := r.ids[native]
	r.idLocker.RUnlock()
	if ok {
		return id, market, nil
	}

	id, err = r.store.ResolveAsset(ctx, native, string(market), assetType)
	if err != nil {
		return 0, "", err
	}

	r.idLocker.Lock()
	r.ids[native] = id
	r.idLocker.Unlock()
	return id, market, nil
}

// Describe returns the descriptive record for symbol, refreshing from
// upstream when the stored record is older than a day. When upstream
// cannot serve the description a synthesized default record is returned
// rather than an error; callers can tell by its DataSource field.
func (r *AssetRegistry) Describe(ctx context.Context, symbol string) (*Asset, error) {
	if _, _, err := r.Resolve(ctx, symbol); err != nil {
		return nil, err
	}
	native := calendar.NativeSymbol(symbol)

	asset, err := r.store.GetAsset(ctx, native)
	if err != nil && err != ErrNotFound {
		return nil, err
	}
	if asset != nil && r.clock().Sub(asset.UpdatedAt) < assetInfoMaxAge {
		return asset, nil
	}

	// collapse concurrent refreshes of the same symbol
	v, err, _ := r.describeGroup.Do(native, func() (interface{}, error) {
		return r.refresh(ctx, native)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Asset), nil
}

// Forget drops one symbol's cached id mapping
func (r *AssetRegistry) Forget(symbol string) {
	r.idLocker.Lock()
	delete(r.ids, calendar.NativeSymbol(symbol))
	r.idLocker.Unlock()
}

// ForgetAll drops every cached id mapping; used after a full purge
func (r *AssetRegistry) ForgetAll() {
	r.idLocker.Lock()
	r.ids = make(map[string]int64)
	r.idLocker.Unlock()
}

func (r *AssetRegistry) refresh(ctx context.Context, symbol string) (*Asset, error) {
	stored, err := r.store.GetAsset(ctx, symbol)
	if err != nil && err != ErrNotFound {
		return nil, err
	}

	market, err := calendar.InferMarket(symbol)
	if err != nil {
		return nil, err
	}

	var fetched *Asset
	if r.fetcher != nil {
		fetched, err = r.fetcher.FetchAssetInfo(ctx, symbol, market)
		if err != nil {
			log.Warn().Err(err).Str("Symbol", symbol).Msg("could not refresh asset info from upstream")
		}
	}

	if fetched == nil {
		if stored != nil {
			// stale beats synthesized
			return stored, nil
		}
		fetched = &Asset{
			Symbol:     symbol,
			Name:       "Stock " + symbol,
			Market:     market,
			AssetType:  "stock",
			DataSource: "default",
		}
	}

	fetched.Symbol = symbol
	fetched.UpdatedAt = r.clock()
	if stored != nil {
		fetched.ID = stored.ID
	} else {
		id, _, err := r.Resolve(ctx, symbol)
		if err != nil {
			return nil, err
		}
		fetched.ID = id
	}

	if err := r.store.UpdateAsset(ctx, fetched); err != nil {
		return nil, err
	}
	return fetched, nil
}
