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

// Package elastic holds the two buffer shapes a Conn needs: Buffer, a
// list of discrete outbound packets that grows without bound (spoken to
// by writev), and RingBuffer, a single growable run of leftover inbound
// bytes. Keeping outbound packets as discrete entries rather than one
// flat byte stream is what lets Peek hand back an iovec for a single
// writev(2) call instead of a copy.
package elastic

import "io"

// Buffer is an outbound packet queue. maxCap is only stored and reported
// by Cap; Buffer itself never refuses a Write.
type Buffer struct {
	maxCap  int
	packets [][]byte
	size    int
}

// New returns an empty Buffer advertising maxCap as its soft capacity.
func New(maxCap int) (*Buffer, error) {
	return &Buffer{maxCap: maxCap}, nil
}

// Cap reports the soft capacity Buffer was created with.
func (b *Buffer) Cap() int {
	return b.maxCap
}

// Write appends p as one packet.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	b.packets = append(b.packets, buf)
	b.size += len(buf)
	return len(p), nil
}

// Writev appends each of bs as its own packet.
func (b *Buffer) Writev(bs [][]byte) (int, error) {
	n := 0
	for _, p := range bs {
		m, _ := b.Write(p)
		n += m
	}
	return n, nil
}

// ReadFrom drains r until EOF, appending everything read as packets.
func (b *Buffer) ReadFrom(r io.Reader) (int64, error) {
	var total int64
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			_, _ = b.Write(chunk[:n])
			total += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
	}
}

// IsEmpty reports whether Buffer holds no bytes.
func (b *Buffer) IsEmpty() bool {
	return b.size == 0
}

// Buffered reports the total bytes currently queued.
func (b *Buffer) Buffered() int {
	return b.size
}

// Peek returns the packets covering up to maxBytes bytes without
// removing them. maxBytes <= 0 means "all of it".
func (b *Buffer) Peek(maxBytes int) [][]byte {
	if maxBytes <= 0 || maxBytes >= b.size {
		return b.packets
	}
	var out [][]byte
	remain := maxBytes
	for _, p := range b.packets {
		if remain <= 0 {
			break
		}
		if len(p) <= remain {
			out = append(out, p)
			remain -= len(p)
		} else {
			out = append(out, p[:remain])
			remain = 0
		}
	}
	return out
}

// Discard removes n bytes from the front of the queue, possibly spanning
// several packets, and reports how many bytes were actually removed.
func (b *Buffer) Discard(n int) (int, error) {
	discarded := 0
	for n > 0 && len(b.packets) > 0 {
		p := b.packets[0]
		if len(p) <= n {
			discarded += len(p)
			n -= len(p)
			b.size -= len(p)
			b.packets = b.packets[1:]
		} else {
			discarded += n
			b.packets[0] = p[n:]
			b.size -= n
			n = 0
		}
	}
	return discarded, nil
}

// Release empties the Buffer, dropping every pending packet.
func (b *Buffer) Release() {
	b.packets = nil
	b.size = 0
}
