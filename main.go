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

package main

import (
	"errors"

	"github.com/spf13/viper"

	"github.com/quantdb/qdb-api/cmd"
)

func configureViper() {
	viper.SetConfigName("quantdb")
	viper.SetConfigType("toml")
	viper.AddConfigPath("/etc/quantdb/")
	viper.AddConfigPath("$HOME/.config/quantdb")
	viper.AddConfigPath(".")

	// the config file is optional; env vars and flags cover everything
	var notFound viper.ConfigFileNotFoundError
	if err := viper.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
		panic(err)
	}
}

func main() {
	configureViper()
	cmd.Execute()
}
