// Copyright (c) 2022 The rcproxy Authors
// Copyright (c) 2019 Andy Pan
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

//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

package io

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Writev_ConcatenatesPackets(t *testing.T) {
	r, w, err := os.Pipe()
	require.Nil(t, err)
	defer r.Close()
	defer w.Close()

	n, err := Writev(int(w.Fd()), [][]byte{[]byte("foo"), []byte("bar"), []byte("baz")})
	require.Nil(t, err)
	assert.Equal(t, 9, n)
	w.Close()

	out, err := ioutil.ReadAll(r)
	require.Nil(t, err)
	assert.Equal(t, "foobarbaz", string(out))
}

func Test_Writev_SkipsEmptyPackets(t *testing.T) {
	r, w, err := os.Pipe()
	require.Nil(t, err)
	defer r.Close()
	defer w.Close()

	n, err := Writev(int(w.Fd()), [][]byte{nil, []byte("x"), {}})
	require.Nil(t, err)
	assert.Equal(t, 1, n)
}

func Test_Writev_AllEmptyIsNoop(t *testing.T) {
	n, err := Writev(-1, [][]byte{nil, {}})
	assert.Nil(t, err)
	assert.Equal(t, 0, n)
}
