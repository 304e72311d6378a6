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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Buffer_WriteAndPeek(t *testing.T) {
	b, err := New(1024)
	assert.Nil(t, err)

	_, _ = b.Write([]byte("foo"))
	_, _ = b.Write([]byte("bar"))
	assert.Equal(t, 6, b.Buffered())

	chunks := b.Peek(-1)
	assert.Equal(t, 2, len(chunks))
	assert.Equal(t, "foo", string(chunks[0]))
	assert.Equal(t, "bar", string(chunks[1]))
	assert.Equal(t, 6, b.Buffered(), "Peek must not remove packets")
}

func Test_Buffer_PeekPartialPacket(t *testing.T) {
	b, _ := New(1024)
	_, _ = b.Write([]byte("abcde"))
	_, _ = b.Write([]byte("fghij"))

	chunks := b.Peek(7)
	assert.Equal(t, 2, len(chunks))
	assert.Equal(t, "abcde", string(chunks[0]))
	assert.Equal(t, "fg", string(chunks[1]))
}

func Test_Buffer_DiscardAcrossPackets(t *testing.T) {
	b, _ := New(1024)
	_, _ = b.Write([]byte("abcde"))
	_, _ = b.Write([]byte("fghij"))

	n, err := b.Discard(7)
	assert.Nil(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, 3, b.Buffered())

	rest := b.Peek(-1)
	assert.Equal(t, 1, len(rest))
	assert.Equal(t, "hij", string(rest[0]))
}

func Test_Buffer_ReadFrom(t *testing.T) {
	b, _ := New(1024)
	n, err := b.ReadFrom(bytes.NewBufferString("streamed"))
	assert.Nil(t, err)
	assert.Equal(t, int64(8), n)
	assert.Equal(t, 8, b.Buffered())
}

func Test_Buffer_Release(t *testing.T) {
	b, _ := New(1024)
	_, _ = b.Write([]byte("data"))
	b.Release()
	assert.True(t, b.IsEmpty())
	assert.Equal(t, 0, b.Buffered())
}
