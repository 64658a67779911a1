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
	"bytes"
	"io"

	"github.com/goccy/go-json"
	"github.com/pierrec/lz4/v4"
)

// Encode marshals v to JSON and compresses the result with lz4. Used for the
// calendar snapshot file and for payloads stored in the redis cache tier.
func Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	w := &bytes.Buffer{}
	zw := lz4.NewWriter(w)
	if _, err := io.Copy(zw, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Decode decompresses an lz4 frame and unmarshals the contained JSON into v
func Decode(data []byte, v any) error {
	w := &bytes.Buffer{}
	zr := lz4.NewReader(bytes.NewReader(data))
	if _, err := io.Copy(w, zr); err != nil {
		return err
	}
	return json.Unmarshal(w.Bytes(), v)
}
