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
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryPolicy is the single retry/backoff policy shared by every upstream
// call site
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Cap         time.Duration
	Jitter      float64
	RetryOn     func(error) bool
}

// DefaultRetryPolicy retries retryable upstream errors up to 3 attempts
// with exponential backoff from 250ms capped at 2s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		Cap:         2 * time.Second,
		Jitter:      0.25,
		RetryOn: func(err error) bool {
			var upstream *UpstreamError
			if errors.As(err, &upstream) {
				return upstream.Retryable
			}
			return false
		},
	}
}

// Do runs op until it succeeds, fails non-retryably, exhausts the attempt
// budget, or the context is done
func (p RetryPolicy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.BaseDelay
	var err error

	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if p.RetryOn == nil || !p.RetryOn(err) || attempt == attempts {
			return err
		}

		sleep := delay
		if p.Jitter > 0 {
			sleep += time.Duration(rand.Float64() * p.Jitter * float64(delay))
		}
		log.Debug().Err(err).Int("Attempt", attempt).Dur("Backoff", sleep).Msg("retrying upstream call")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		delay *= 2
		if p.Cap > 0 && delay > p.Cap {
			delay = p.Cap
		}
	}

	return err
}
