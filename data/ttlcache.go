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
	"encoding/hex"
	"reflect"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"github.com/zeebo/blake3"

	"github.com/quantdb/qdb-api/calendar"
	"github.com/quantdb/qdb-api/common"
)

// Kind classifies TTL cache entries; each kind has its own freshness policy
type Kind string

const (
	KindQuote            Kind = "quote"
	KindStockList        Kind = "stock_list"
	KindIndexList        Kind = "index_list"
	KindFinancialSummary Kind = "financial_summary"
	KindHotHistoryGuard  Kind = "hot_history_guard"
	KindNoData           Kind = "no_data"
	KindAssetInfo        Kind = "asset_info"
)

// ttlPolicy holds the during-hours and off-hours lifetimes of a kind
type ttlPolicy struct {
	open   time.Duration
	closed time.Duration
}

var ttlPolicies = map[Kind]ttlPolicy{
	KindQuote:            {open: 5 * time.Minute, closed: 60 * time.Minute},
	KindStockList:        {open: 24 * time.Hour, closed: 24 * time.Hour},
	KindIndexList:        {open: 24 * time.Hour, closed: 24 * time.Hour},
	KindFinancialSummary: {open: 24 * time.Hour, closed: 24 * time.Hour},
	KindHotHistoryGuard:  {open: 60 * time.Second, closed: 30 * time.Minute},
	KindNoData:           {open: 7 * 24 * time.Hour, closed: 7 * 24 * time.Hour},
	KindAssetInfo:        {open: 24 * time.Hour, closed: 24 * time.Hour},
}

// Key is a structured TTL cache key
type Key struct {
	Kind   Kind
	Market calendar.Market
	Symbol string
	Extra  string
}

func (k Key) String() string {
	parts := []string{string(k.Kind), string(k.Market), k.Symbol}
	if k.Extra != "" {
		parts = append(parts, k.Extra)
	}
	return strings.Join(parts, "|")
}

// redisKey hashes the structured key for the redis tier
func (k Key) redisKey() string {
	sum := blake3.Sum256([]byte(k.String()))
	return "qdb:" + hex.EncodeToString(sum[:16])
}

type ttlEntry struct {
	payload    any
	insertedAt time.Time
	expiresAt  time.Time
	source     string
}

// TTLCache is a keyed store for objects whose correctness is a function of
// freshness only. Reads are lock-free via the LRU's own synchronization;
// expired entries are dropped lazily on read and by a periodic sweep.
// When cache.redis is configured a second redis tier backs the local one
// with lz4-compressed JSON payloads.
type TTLCache struct {
	local      *lru.Cache
	rdb        *redis.Client
	sweeper    *cron.Cron
	clock      func() time.Time
	marketOpen func(calendar.Market, time.Time) bool
	override   time.Duration
}

// TTLCacheOption configures a TTLCache
type TTLCacheOption func(*TTLCache)

// WithClock pins the cache's notion of now; used by tests
func WithClock(clock func() time.Time) TTLCacheOption {
	return func(c *TTLCache) { c.clock = clock }
}

// WithRedis adds the redis second tier
func WithRedis(rdb *redis.Client) TTLCacheOption {
	return func(c *TTLCache) { c.rdb = rdb }
}

// NewTTLCache creates the cache. size bounds the local LRU tier.
// marketOpen decides which TTL column applies; when nil all kinds use the
// off-hours value. A non-zero cache.ttl config value (QDB_CACHE_TTL,
// seconds) overrides every kind's TTL uniformly.
func NewTTLCache(size int, marketOpen func(calendar.Market, time.Time) bool, opts ...TTLCacheOption) (*TTLCache, error) {
	local, err := lru.New(size)
	if err != nil {
		return nil, err
	}

	cache := &TTLCache{
		local:      local,
		clock:      time.Now,
		marketOpen: marketOpen,
	}
	if secs := viper.GetInt("cache.ttl"); secs > 0 {
		cache.override = time.Duration(secs) * time.Second
	}
	for _, opt := range opts {
		opt(cache)
	}

	return cache, nil
}

// StartSweeper begins the periodic expired-entry scan. The scan is bounded
// by the LRU size.
func (cache *TTLCache) StartSweeper() {
	if cache.sweeper != nil {
		return
	}
	cache.sweeper = cron.New()
	if _, err := cache.sweeper.AddFunc("@every 5m", cache.sweep); err != nil {
		log.Error().Stack().Err(err).Msg("could not schedule ttl cache sweeper")
		return
	}
	cache.sweeper.Start()
}

// StopSweeper halts the periodic scan
func (cache *TTLCache) StopSweeper() {
	if cache.sweeper != nil {
		cache.sweeper.Stop()
		cache.sweeper = nil
	}
}

// TTL resolves the lifetime for a kind at time now
func (cache *TTLCache) TTL(kind Kind, market calendar.Market, now time.Time) time.Duration {
	if cache.override > 0 {
		return cache.override
	}

	policy, ok := ttlPolicies[kind]
	if !ok {
		return time.Hour
	}
	if cache.marketOpen != nil && cache.marketOpen(market, now) {
		return policy.open
	}
	return policy.closed
}

// Get returns the payload for key, or miss. Entries past their expiry are
// treated as absent and dropped.
func (cache *TTLCache) Get(ctx context.Context, key Key) (any, bool) {
	now := cache.clock()

	if v, ok := cache.local.Get(key.String()); ok {
		entry := v.(*ttlEntry)
		if now.Before(entry.expiresAt) {
			return entry.payload, true
		}
		cache.local.Remove(key.String())
	}

	if cache.rdb != nil {
		raw, err := cache.rdb.Get(ctx, key.redisKey()).Bytes()
		if err == nil {
			var payload any
			if err := common.Decode(raw, &payload); err == nil {
				return payload, true
			}
			log.Warn().Err(err).Str("Key", key.String()).Msg("could not decode redis cache payload")
		}
	}

	return nil, false
}

// GetInto is the typed variant of Get: it copies the payload for key into
// dest, which must be a non-nil pointer. Redis tier payloads are decoded
// straight into dest so callers get their concrete type back regardless of
// which tier served the hit.
func (cache *TTLCache) GetInto(ctx context.Context, key Key, dest any) bool {
	now := cache.clock()

	if v, ok := cache.local.Get(key.String()); ok {
		entry := v.(*ttlEntry)
		if now.Before(entry.expiresAt) && assignPayload(entry.payload, dest) {
			return true
		}
		if !now.Before(entry.expiresAt) {
			cache.local.Remove(key.String())
		}
	}

	if cache.rdb != nil {
		raw, err := cache.rdb.Get(ctx, key.redisKey()).Bytes()
		if err == nil {
			if err := common.Decode(raw, dest); err == nil {
				return true
			}
			log.Warn().Err(err).Str("Key", key.String()).Msg("could not decode redis cache payload")
		}
	}

	return false
}

// assignPayload copies payload into the pointer dest when the types line up
func assignPayload(payload, dest any) bool {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return false
	}
	pv := reflect.ValueOf(payload)
	if !pv.IsValid() {
		return false
	}
	if pv.Kind() == reflect.Ptr {
		if pv.IsNil() {
			return false
		}
		if pv.Elem().Type().AssignableTo(dv.Elem().Type()) {
			dv.Elem().Set(pv.Elem())
			return true
		}
	}
	if pv.Type().AssignableTo(dv.Elem().Type()) {
		dv.Elem().Set(pv)
		return true
	}
	return false
}

// Put stores payload under key. ttlOverride, when positive, replaces the
// kind policy for this entry only.
func (cache *TTLCache) Put(ctx context.Context, key Key, payload any, ttlOverride ...time.Duration) {
	now := cache.clock()

	ttl := cache.TTL(key.Kind, key.Market, now)
	if len(ttlOverride) > 0 && ttlOverride[0] > 0 {
		ttl = ttlOverride[0]
	}

	cache.local.Add(key.String(), &ttlEntry{
		payload:    payload,
		insertedAt: now,
		expiresAt:  now.Add(ttl),
		source:     "local",
	})

	if cache.rdb != nil {
		raw, err := common.Encode(payload)
		if err != nil {
			log.Warn().Err(err).Str("Key", key.String()).Msg("could not encode redis cache payload")
			return
		}
		if err := cache.rdb.Set(ctx, key.redisKey(), raw, ttl).Err(); err != nil {
			log.Warn().Err(err).Str("Key", key.String()).Msg("redis cache write failed")
		}
	}
}

// Invalidate removes a single key
func (cache *TTLCache) Invalidate(ctx context.Context, key Key) {
	cache.local.Remove(key.String())
	if cache.rdb != nil {
		if err := cache.rdb.Del(ctx, key.redisKey()).Err(); err != nil {
			log.Warn().Err(err).Str("Key", key.String()).Msg("redis cache delete failed")
		}
	}
}

// InvalidatePrefix removes every local entry whose structured key starts
// with prefix. The redis tier is keyed by hash, so prefix invalidation
// only covers the local tier; redis entries age out by TTL.
func (cache *TTLCache) InvalidatePrefix(prefix string) {
	for _, k := range cache.local.Keys() {
		if strings.HasPrefix(k.(string), prefix) {
			cache.local.Remove(k)
		}
	}
}

// InvalidateSymbol removes every entry of any kind for a symbol
func (cache *TTLCache) InvalidateSymbol(symbol string) {
	for _, k := range cache.local.Keys() {
		parts := strings.Split(k.(string), "|")
		if len(parts) >= 3 && parts[2] == symbol {
			cache.local.Remove(k)
		}
	}
}

// Len returns the number of live entries in the local tier
func (cache *TTLCache) Len() int {
	return cache.local.Len()
}

func (cache *TTLCache) sweep() {
	now := cache.clock()
	removed := 0
	for _, k := range cache.local.Keys() {
		if v, ok := cache.local.Peek(k); ok {
			if !now.Before(v.(*ttlEntry).expiresAt) {
				cache.local.Remove(k)
				removed++
			}
		}
	}
	if removed > 0 {
		log.Debug().Int("Removed", removed).Msg("ttl cache sweep")
	}
}
