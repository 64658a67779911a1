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
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is the in-process counter set. Counters are updated with atomics
// on the hot path; snapshots are eventually consistent.
type Metrics struct {
	hits          int64
	misses        int64
	upstreamCalls int64
	inflightDedup int64
	barsStored    int64
	barsServed    int64
	degraded      int64
	requests      int64

	requestNanos  int64
	upstreamNanos int64

	errLocker      sync.Mutex
	upstreamErrors map[string]int64
}

// MetricsSnapshot is a read-only copy of the counters
type MetricsSnapshot struct {
	Hits                  int64            `json:"hits"`
	Misses                int64            `json:"misses"`
	UpstreamCalls         int64            `json:"upstream_calls"`
	UpstreamErrors        map[string]int64 `json:"upstream_errors"`
	UpstreamInflightDedup int64            `json:"upstream_inflight_dedup"`
	BarsStored            int64            `json:"bars_stored"`
	BarsServed            int64            `json:"bars_served"`
	Degraded              int64            `json:"degraded"`
	Requests              int64            `json:"requests"`
	RequestLatencyMs      int64            `json:"request_latency_ms_total"`
	UpstreamLatencyMs     int64            `json:"upstream_latency_ms_total"`
	HitRatio              float64          `json:"hit_ratio"`
}

// NewMetrics creates an empty counter set
func NewMetrics() *Metrics {
	return &Metrics{upstreamErrors: make(map[string]int64)}
}

func (m *Metrics) RecordHits(n int64)    { atomic.AddInt64(&m.hits, n) }
func (m *Metrics) RecordMisses(n int64)  { atomic.AddInt64(&m.misses, n) }
func (m *Metrics) RecordDedup()          { atomic.AddInt64(&m.inflightDedup, 1) }
func (m *Metrics) RecordDegraded()       { atomic.AddInt64(&m.degraded, 1) }
func (m *Metrics) RecordBarsStored(n int64) { atomic.AddInt64(&m.barsStored, n) }
func (m *Metrics) RecordBarsServed(n int64) { atomic.AddInt64(&m.barsServed, n) }

// RecordRequest accounts one engine request and its end-to-end latency
func (m *Metrics) RecordRequest(elapsed time.Duration) {
	atomic.AddInt64(&m.requests, 1)
	atomic.AddInt64(&m.requestNanos, int64(elapsed))
}

// RecordUpstreamCall accounts one fetch and its latency
func (m *Metrics) RecordUpstreamCall(elapsed time.Duration) {
	atomic.AddInt64(&m.upstreamCalls, 1)
	atomic.AddInt64(&m.upstreamNanos, int64(elapsed))
}

// RecordUpstreamError accounts one upstream failure by error class
func (m *Metrics) RecordUpstreamError(code string) {
	m.errLocker.Lock()
	m.upstreamErrors[code]++
	m.errLocker.Unlock()
}

// Snapshot copies the counters; the copy is internally consistent enough
// for reporting but individual counters may lag in-flight updates
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Hits:                  atomic.LoadInt64(&m.hits),
		Misses:                atomic.LoadInt64(&m.misses),
		UpstreamCalls:         atomic.LoadInt64(&m.upstreamCalls),
		UpstreamInflightDedup: atomic.LoadInt64(&m.inflightDedup),
		BarsStored:            atomic.LoadInt64(&m.barsStored),
		BarsServed:            atomic.LoadInt64(&m.barsServed),
		Degraded:              atomic.LoadInt64(&m.degraded),
		Requests:              atomic.LoadInt64(&m.requests),
		RequestLatencyMs:      atomic.LoadInt64(&m.requestNanos) / int64(time.Millisecond),
		UpstreamLatencyMs:     atomic.LoadInt64(&m.upstreamNanos) / int64(time.Millisecond),
		UpstreamErrors:        make(map[string]int64),
	}

	m.errLocker.Lock()
	for code, n := range m.upstreamErrors {
		snap.UpstreamErrors[code] = n
	}
	m.errLocker.Unlock()

	if total := snap.Hits + snap.Misses; total > 0 {
		snap.HitRatio = float64(snap.Hits) / float64(total)
	}
	return snap
}
