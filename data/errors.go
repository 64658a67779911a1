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
	"errors"
	"fmt"

	"github.com/quantdb/qdb-api/calendar"
)

var (
	ErrNotFound          = errors.New("asset not found")
	ErrInvalidDateRange  = errors.New("invalid date range")
	ErrInvalidAdjustMode = errors.New("invalid adjust mode")
	ErrInvalidPeriod     = errors.New("invalid period")
	ErrUnavailable       = errors.New("no data available upstream or in cache")
	ErrOverloaded        = errors.New("upstream request queue is full")
	ErrSchemaViolation   = errors.New("bar violates schema constraints")
	ErrCoverageCorrupt   = errors.New("coverage index disagrees with bar store")
	ErrClosed            = errors.New("store is closed")
)

// Upstream error classes surfaced by fetcher implementations
const (
	UpstreamRateLimited   = "rate_limited"
	UpstreamNotFound      = "not_found"
	UpstreamNetworkError  = "network_error"
	UpstreamSchemaChanged = "schema_changed"
	UpstreamAuthError     = "auth_error"
)

// UpstreamError wraps a provider failure with its class and retry hint
type UpstreamError struct {
	Code      string
	Retryable bool
	Err       error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream error (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("upstream error (%s)", e.Code)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewUpstreamError classifies a provider failure. rate_limited and
// network_error are retryable; everything else is not.
func NewUpstreamError(code string, err error) *UpstreamError {
	return &UpstreamError{
		Code:      code,
		Retryable: code == UpstreamRateLimited || code == UpstreamNetworkError,
		Err:       err,
	}
}

// PartialDataError reports a request that was answered from cache with one
// or more sub-windows still missing after upstream retries were exhausted
type PartialDataError struct {
	MissingRanges []DateRange
	Cause         error
}

func (e *PartialDataError) Error() string {
	return fmt.Sprintf("partial data: %d missing range(s): %v", len(e.MissingRanges), e.Cause)
}

func (e *PartialDataError) Unwrap() error {
	return e.Cause
}

// TimeoutError reports a request deadline expiring with sub-windows still
// missing; cached bars for the window were returned alongside
type TimeoutError struct {
	MissingRanges []DateRange
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("deadline exceeded with %d missing range(s)", len(e.MissingRanges))
}

// ErrorKind maps an error to the stable identifier exposed across the
// facade boundary; errors never cross it as exceptions
func ErrorKind(err error) string {
	var upstream *UpstreamError
	var partial *PartialDataError
	var timeout *TimeoutError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, calendar.ErrUnrecognizedSymbol):
		return "UnrecognizedSymbol"
	case errors.Is(err, ErrInvalidDateRange), errors.Is(err, calendar.ErrInvalidRange):
		return "InvalidDateRange"
	case errors.Is(err, ErrInvalidAdjustMode):
		return "InvalidAdjustMode"
	case errors.Is(err, ErrInvalidPeriod):
		return "InvalidPeriod"
	case errors.As(err, &partial):
		return "PartialData"
	case errors.As(err, &timeout):
		return "Timeout"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.Is(err, ErrOverloaded):
		return "Overloaded"
	case errors.Is(err, calendar.ErrUnavailable):
		return "CalendarUnavailable"
	case errors.Is(err, calendar.ErrUnknownMarket):
		return "UnknownMarket"
	case errors.Is(err, calendar.ErrInconsistency):
		return "CalendarInconsistency"
	case errors.Is(err, ErrSchemaViolation):
		return "SchemaViolation"
	case errors.Is(err, ErrCoverageCorrupt):
		return "CoverageCorruption"
	case errors.As(err, &upstream):
		return "UpstreamError"
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrNotFound):
		return "Unavailable"
	}
	return "Unavailable"
}
