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

// Package byteslice is the pooled scratch buffer the reactor loop reads
// socket data into before handing it to a protocol's OnData. Reusing
// these buffers across read() calls keeps the hot path allocation-free.
package byteslice

import "github.com/valyala/bytebufferpool"

var pool bytebufferpool.Pool

// Get returns a buffer whose length is exactly cap, ready to read into.
func Get(cap int) *bytebufferpool.ByteBuffer {
	b := pool.Get()
	if c := cap - len(b.B); c > 0 {
		b.B = append(b.B, make([]byte, c)...)
	}
	b.B = b.B[:cap]
	return b
}

// Put returns b to the pool for reuse.
func Put(b *bytebufferpool.ByteBuffer) {
	pool.Put(b)
}
