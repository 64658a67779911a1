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
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// CoverageIndex tracks which (asset, variant) windows are already stored.
// It is a cache over the persisted coverage rows: readers consult the
// in-memory map, writers update both tiers after every upsert. Because
// records are recomputed from the bar rows themselves the index can
// always be rebuilt after corruption.
type CoverageIndex struct {
	store  Store
	clock  func() time.Time
	locker sync.RWMutex
	recs   map[string]*CoverageRecord
}

// NewCoverageIndex creates an index over store
func NewCoverageIndex(store Store) *CoverageIndex {
	return &CoverageIndex{
		store: store,
		clock: time.Now,
		recs:  make(map[string]*CoverageRecord),
	}
}

func coverageKey(assetID int64, variant Variant) string {
	return fmt.Sprintf("%d|%s", assetID, variant)
}

// Get returns the coverage record, loading it from the store on first
// access. A nil record with nil error means the series has never been
// stored.
func (idx *CoverageIndex) Get(ctx context.Context, assetID int64, variant Variant) (*CoverageRecord, error) {
	key := coverageKey(assetID, variant)

	idx.locker.RLock()
	rec, ok := idx.recs[key]
	idx.locker.RUnlock()
	if ok {
		return rec, nil
	}

	rec, err := idx.store.ReadCoverage(ctx, assetID, variant)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	idx.locker.Lock()
	idx.recs[key] = rec
	idx.locker.Unlock()
	return rec, nil
}

// Update recomputes the record from the bar rows after an upsert and
// persists it. first-requested is preserved from any prior record.
func (idx *CoverageIndex) Update(ctx context.Context, assetID int64, variant Variant) (*CoverageRecord, error) {
	rec, err := idx.store.Coverage(ctx, assetID, variant)
	if err != nil {
		return nil, err
	}

	now := idx.clock()
	key := coverageKey(assetID, variant)

	if rec == nil {
		// series emptied (purge); drop both tiers
		idx.locker.Lock()
		delete(idx.recs, key)
		idx.locker.Unlock()
		return nil, nil
	}

	rec.LastUpdatedAt = now
	rec.LastAccessedAt = now
	rec.FirstRequestedAt = now

	idx.locker.RLock()
	prev := idx.recs[key]
	idx.locker.RUnlock()
	if prev != nil && !prev.FirstRequestedAt.IsZero() {
		rec.FirstRequestedAt = prev.FirstRequestedAt
	} else if old, err := idx.store.ReadCoverage(ctx, assetID, variant); err == nil && !old.FirstRequestedAt.IsZero() {
		rec.FirstRequestedAt = old.FirstRequestedAt
	}

	if err := idx.store.WriteCoverage(ctx, rec); err != nil {
		return nil, err
	}

	idx.locker.Lock()
	idx.recs[key] = rec
	idx.locker.Unlock()
	return rec, nil
}

// Touch records an access without changing the window
func (idx *CoverageIndex) Touch(ctx context.Context, assetID int64, variant Variant) {
	key := coverageKey(assetID, variant)

	idx.locker.Lock()
	rec, ok := idx.recs[key]
	var snapshot CoverageRecord
	if ok {
		rec.LastAccessedAt = idx.clock()
		snapshot = *rec
	}
	idx.locker.Unlock()
	if !ok {
		return
	}

	// persist a copy; rec stays owned by the map and may be mutated by a
	// concurrent Update while the write is in flight
	if err := idx.store.WriteCoverage(ctx, &snapshot); err != nil {
		log.Warn().Err(err).Int64("AssetID", assetID).Msg("could not persist coverage access time")
	}
}

// Verify checks the persisted record against a fresh recompute; a
// mismatch means the summary drifted from the bar rows
func (idx *CoverageIndex) Verify(ctx context.Context, assetID int64, variant Variant) error {
	stored, err := idx.store.ReadCoverage(ctx, assetID, variant)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	actual, err := idx.store.Coverage(ctx, assetID, variant)
	if err != nil {
		return err
	}
	if actual == nil {
		if stored.BarCount != 0 {
			return ErrCoverageCorrupt
		}
		return nil
	}
	if stored.BarCount != actual.BarCount ||
		!stored.Earliest.Equal(actual.Earliest) || !stored.Latest.Equal(actual.Latest) {
		return ErrCoverageCorrupt
	}
	return nil
}

// Rebuild recomputes and persists the record from the bar rows,
// discarding whatever the summary previously claimed
func (idx *CoverageIndex) Rebuild(ctx context.Context, assetID int64, variant Variant) (*CoverageRecord, error) {
	idx.locker.Lock()
	delete(idx.recs, coverageKey(assetID, variant))
	idx.locker.Unlock()
	return idx.Update(ctx, assetID, variant)
}

// Tracked returns the (asset, variant) pairs the index has seen since
// startup; the scheduled sweep walks these
func (idx *CoverageIndex) Tracked() []*CoverageRecord {
	idx.locker.RLock()
	defer idx.locker.RUnlock()
	tracked := make([]*CoverageRecord, 0, len(idx.recs))
	for _, rec := range idx.recs {
		tracked = append(tracked, rec)
	}
	return tracked
}

// Forget drops the in-memory entry; the next Get reloads from the store
func (idx *CoverageIndex) Forget(assetID int64, variant Variant) {
	idx.locker.Lock()
	delete(idx.recs, coverageKey(assetID, variant))
	idx.locker.Unlock()
}

// ForgetAll drops every in-memory entry; used after a full purge
func (idx *CoverageIndex) ForgetAll() {
	idx.locker.Lock()
	idx.recs = make(map[string]*CoverageRecord)
	idx.locker.Unlock()
}
