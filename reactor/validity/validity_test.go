// Copyright (c) 2022 The rcproxy Authors
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

package validity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Registry_RegisterLookup(t *testing.T) {
	r := New()
	h := r.Register("conn-1")

	v, ok := r.Lookup(h)
	assert.True(t, ok)
	assert.Equal(t, "conn-1", v)
	assert.Equal(t, 1, r.Len())
}

func Test_Registry_ReleaseInvalidatesHandle(t *testing.T) {
	r := New()
	h := r.Register("conn-1")
	r.Release(h)

	_, ok := r.Lookup(h)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func Test_Registry_RecycledSlotBumpsGeneration(t *testing.T) {
	r := New()
	h1 := r.Register("conn-1")
	r.Release(h1)

	h2 := r.Register("conn-2")
	assert.Equal(t, h1.Index, h2.Index, "freed slot should be reused")
	assert.NotEqual(t, h1.Generation, h2.Generation)

	_, ok := r.Lookup(h1)
	assert.False(t, ok, "stale handle must not resolve to the new occupant")

	v, ok := r.Lookup(h2)
	assert.True(t, ok)
	assert.Equal(t, "conn-2", v)
}

func Test_Registry_DoubleReleaseIsNoop(t *testing.T) {
	r := New()
	h := r.Register("conn-1")
	r.Release(h)
	r.Release(h)
	assert.Equal(t, 0, r.Len())
}

func Test_Handle_ZeroValueIsInvalid(t *testing.T) {
	var h Handle
	assert.True(t, h.IsZero())

	r := New()
	_, ok := r.Lookup(h)
	assert.False(t, ok)
}
