// Copyright (c) 2022 The rcproxy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License"): you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations
// under the License.

package toolkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_StringToBytes(t *testing.T) {
	s := "hello reactor"
	b := StringToBytes(s)
	assert.Equal(t, []byte(s), b)
	assert.Equal(t, len(s), len(b))
}

func Test_BytesToString(t *testing.T) {
	b := []byte("round trip")
	s := BytesToString(b)
	assert.Equal(t, "round trip", s)
}

func Test_RoundTrip(t *testing.T) {
	orig := "the quick brown fox"
	assert.Equal(t, orig, BytesToString(StringToBytes(orig)))
}
