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

package elastic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_RingBuffer_WriteRead(t *testing.T) {
	var rb RingBuffer
	n, err := rb.Write([]byte("hello"))
	assert.Equal(t, 5, n)
	assert.Nil(t, err)
	assert.Equal(t, 5, rb.Buffered())

	out := make([]byte, 3)
	n, err = rb.Read(out)
	assert.Nil(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "hel", string(out))
	assert.Equal(t, 2, rb.Buffered())
}

func Test_RingBuffer_Peek(t *testing.T) {
	var rb RingBuffer
	_, _ = rb.Write([]byte("abcdef"))

	head, tail := rb.Peek(3)
	assert.Equal(t, "abc", string(head))
	assert.Empty(t, tail)
	assert.Equal(t, 6, rb.Buffered(), "Peek must not consume")

	all, _ := rb.Peek(-1)
	assert.Equal(t, "abcdef", string(all))
}

func Test_RingBuffer_Discard(t *testing.T) {
	var rb RingBuffer
	_, _ = rb.Write([]byte("abcdef"))

	n, err := rb.Discard(4)
	assert.Nil(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 2, rb.Buffered())

	n, err = rb.Discard(100)
	assert.Nil(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, rb.IsEmpty())
}

func Test_RingBuffer_CompactsAfterDraining(t *testing.T) {
	var rb RingBuffer
	_, _ = rb.Write([]byte("0123456789"))
	_, _ = rb.Discard(9)
	_, _ = rb.Write([]byte("X"))

	head, _ := rb.Peek(-1)
	assert.Equal(t, "9X", string(head))
}

func Test_RingBuffer_ReadEmptyReturnsEOF(t *testing.T) {
	var rb RingBuffer
	n, err := rb.Read(make([]byte, 4))
	assert.Equal(t, 0, n)
	assert.NotNil(t, err)
}
