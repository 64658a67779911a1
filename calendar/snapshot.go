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

package calendar

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/quantdb/qdb-api/common"
)

// snapshotFormatVersion is the on-disk format. v1 was a bare
// map[market][]day JSON document without metadata; v2 wraps the day sets
// with generation metadata and is lz4 compressed.
const snapshotFormatVersion = 2

// SnapshotFileName is the calendar snapshot file under the cache dir
const SnapshotFileName = "calendar.json.lz4"

// MarketDays holds the persisted day set for one market
type MarketDays struct {
	Days       []string  `json:"days"`
	LastUpdate time.Time `json:"last_update"`
	Source     string    `json:"source"`
}

// Snapshot is the persisted form of the per-market trading-day sets
type Snapshot struct {
	Format      int                    `json:"format"`
	Version     string                 `json:"version"`
	GeneratedAt time.Time              `json:"generated_at"`
	Markets     map[Market]*MarketDays `json:"markets"`

	index map[Market]map[string]bool
}

func currentSnapshotVersion() string {
	return "qdb-" + common.CurrentVersion.String()
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		Format:  snapshotFormatVersion,
		Markets: make(map[Market]*MarketDays),
		index:   make(map[Market]map[string]bool),
	}
}

func (s *Snapshot) clone() *Snapshot {
	next := newSnapshot()
	if s == nil {
		return next
	}
	next.Version = s.Version
	next.GeneratedAt = s.GeneratedAt
	for market, md := range s.Markets {
		days := make([]string, len(md.Days))
		copy(days, md.Days)
		next.Markets[market] = &MarketDays{Days: days, LastUpdate: md.LastUpdate, Source: md.Source}
	}
	next.reindex()
	return next
}

func (s *Snapshot) reindex() {
	s.index = make(map[Market]map[string]bool, len(s.Markets))
	for market, md := range s.Markets {
		set := make(map[string]bool, len(md.Days))
		for _, d := range md.Days {
			set[d] = true
		}
		s.index[market] = set
	}
}

func (s *Snapshot) has(market Market) bool {
	if s == nil {
		return false
	}
	md, ok := s.Markets[market]
	return ok && len(md.Days) > 0
}

func (s *Snapshot) contains(market Market, key string) bool {
	if s == nil {
		return false
	}
	return s.index[market][key]
}

// rangeKeys returns the sorted day keys within [beginKey, endKey]
func (s *Snapshot) rangeKeys(market Market, beginKey, endKey string) []string {
	if s == nil {
		return nil
	}
	md, ok := s.Markets[market]
	if !ok {
		return nil
	}

	lo := sort.SearchStrings(md.Days, beginKey)
	hi := sort.Search(len(md.Days), func(i int) bool { return md.Days[i] > endKey })
	if lo >= hi {
		return nil
	}
	return md.Days[lo:hi]
}

// merge replaces the market's day set with keys but never drops a day the
// previous set declared (snapshot monotonicity). Returns how many days the
// incoming set tried to remove.
func (s *Snapshot) merge(market Market, keys []string, source string, now time.Time) int {
	prev := s.Markets[market]
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}

	removed := 0
	if prev != nil {
		for _, k := range prev.Days {
			if !set[k] {
				set[k] = true
				removed++
			}
		}
	}

	union := make([]string, 0, len(set))
	for k := range set {
		union = append(union, k)
	}
	sort.Strings(union)

	s.Markets[market] = &MarketDays{Days: union, LastUpdate: now, Source: source}
	s.index[market] = set
	return removed
}

// stale reports whether the snapshot must be rebuilt: missing, older than
// SnapshotMaxAge, generated in a previous calendar year, or written by a
// different code version
func (s *Snapshot) stale(now time.Time) bool {
	if s == nil || len(s.Markets) == 0 {
		return true
	}
	if now.Sub(s.GeneratedAt) > SnapshotMaxAge {
		return true
	}
	if s.GeneratedAt.Year() != now.Year() {
		return true
	}
	if s.Version != currentSnapshotVersion() {
		return true
	}
	return false
}

func loadSnapshot(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	snap := newSnapshot()
	if err := common.Decode(raw, snap); err == nil && snap.Format == snapshotFormatVersion {
		snap.reindex()
		return snap, nil
	}

	// v1: uncompressed JSON of market -> [days]; upgrade transparently
	var v1 map[Market][]string
	if err := json.Unmarshal(raw, &v1); err != nil {
		return nil, fmt.Errorf("unrecognized calendar snapshot format: %w", err)
	}

	log.Info().Str("Path", path).Msg("upgrading v1 calendar snapshot")
	for market, days := range v1 {
		sort.Strings(days)
		snap.Markets[market] = &MarketDays{Days: days}
	}
	snap.Format = snapshotFormatVersion
	snap.reindex()
	return snap, nil
}

func saveSnapshot(path string, snap *Snapshot) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}

	raw, err := common.Encode(snap)
	if err != nil {
		return err
	}

	// single writer; write-then-rename keeps concurrent readers consistent
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
