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

package common

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// DefaultCacheDirName is created under the user's home directory when no
// cache dir has been configured
const DefaultCacheDirName = ".quantdb_cache"

// CacheDir resolves the cache directory. Resolution order: explicit
// SetCacheDir / cache.dir config key (bound to QDB_CACHE_DIR), then
// ~/.quantdb_cache. The directory is created if it does not exist.
func CacheDir() string {
	dir := viper.GetString("cache.dir")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Warn().Err(err).Msg("could not resolve home directory; using cwd for cache")
			home = "."
		}
		dir = filepath.Join(home, DefaultCacheDirName)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		log.Error().Stack().Err(err).Str("Dir", dir).Msg("could not create cache directory")
	}

	return dir
}

// SetCacheDir overrides the cache directory for the running process
func SetCacheDir(path string) {
	viper.Set("cache.dir", path)
}

// DirSize walks the cache directory and totals the size of regular files
func DirSize(path string) int64 {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			size += info.Size()
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("Path", path).Msg("could not measure cache directory")
	}
	return size
}
