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
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cache statistics",
	Run: func(_ *cobra.Command, _ []string) {
		ctx := context.Background()

		manager, cleanup, err := setupManager(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("could not initialize cache engine")
		}
		defer cleanup()

		out, err := json.MarshalIndent(manager.Stats(ctx), "", "  ")
		if err != nil {
			log.Fatal().Err(err).Msg("could not marshal stats")
		}
		fmt.Println(string(out))
	},
}
