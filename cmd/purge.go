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

package cmd

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var purgeSymbol string

func init() {
	purgeCmd.Flags().StringVar(&purgeSymbol, "symbol", "", "Only purge cached data for the specified symbol")
	rootCmd.AddCommand(purgeCmd)
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete cached bars and metadata; the calendar snapshot is kept",
	Run: func(_ *cobra.Command, _ []string) {
		ctx := context.Background()

		manager, cleanup, err := setupManager(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("could not initialize cache engine")
		}
		defer cleanup()

		if err := manager.ClearCache(ctx, purgeSymbol); err != nil {
			log.Fatal().Err(err).Str("Symbol", purgeSymbol).Msg("could not purge cache")
		}
		log.Info().Str("Symbol", purgeSymbol).Msg("cache purged")
	},
}
