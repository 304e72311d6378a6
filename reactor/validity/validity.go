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

// Package validity answers "is this Conn still the Conn I think it is?"
// without ever dereferencing a freed pointer. A slot's Generation bumps
// every time it is recycled, so a stale Handle captured before a close
// and reuse is detected and rejected rather than silently aliasing a
// fresh connection. The registry itself is a process-wide concurrent map
// so any goroutine — a housekeeping scan, a cross-loop Trigger callback —
// can validate a Handle without touching the owning reactor's loop.
package validity

import (
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
)

// Handle is an opaque, copyable reference to a registry slot. The zero
// Handle is never valid.
type Handle struct {
	Index      uint32
	Generation uint32
}

func (h Handle) key() uint64 {
	return uint64(h.Generation)<<32 | uint64(h.Index)
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool {
	return h.Index == 0 && h.Generation == 0
}

type slot struct {
	mu         sync.Mutex
	generation uint32
	value      interface{}
	free       bool
}

// Registry is a generational slab: Register hands out a Handle, Lookup
// returns the stored value only while the Handle's generation still
// matches, and Release recycles the slot for a future Register, bumping
// its generation so old Handles become permanently stale.
type Registry struct {
	mu     sync.Mutex
	slots  []*slot
	freeAt []uint32
	index  *hashmap.HashMap
	seq    uint64
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{index: hashmap.New()}
}

// Register stores value and returns a fresh Handle for it.
func (r *Registry) Register(value interface{}) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	var idx uint32
	if n := len(r.freeAt); n > 0 {
		idx = r.freeAt[n-1]
		r.freeAt = r.freeAt[:n-1]
		s := r.slots[idx]
		s.mu.Lock()
		s.value = value
		s.free = false
		gen := s.generation
		s.mu.Unlock()
		h := Handle{Index: idx, Generation: gen}
		r.index.Set(h.key(), value)
		return h
	}

	idx = uint32(len(r.slots))
	s := &slot{generation: 1, value: value}
	r.slots = append(r.slots, s)
	h := Handle{Index: idx, Generation: s.generation}
	r.index.Set(h.key(), value)
	return h
}

// Lookup returns the value registered under h, or (nil, false) if h is
// stale (its slot was released and possibly recycled since).
func (r *Registry) Lookup(h Handle) (interface{}, bool) {
	if h.IsZero() {
		return nil, false
	}
	v, ok := r.index.Get(h.key())
	return v, ok
}

// Release invalidates h: future Lookups for it fail, and its slot becomes
// eligible for reuse under a new Handle with a bumped generation.
func (r *Registry) Release(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(h.Index) >= len(r.slots) {
		return
	}
	s := r.slots[h.Index]
	s.mu.Lock()
	if s.generation != h.Generation || s.free {
		s.mu.Unlock()
		return
	}
	s.free = true
	s.value = nil
	s.generation++
	s.mu.Unlock()

	r.index.Del(h.key())
	r.freeAt = append(r.freeAt, h.Index)
}

// Len reports how many handles are currently live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots) - len(r.freeAt)
}

// nextSeq is reserved for callers that want a process-unique tiebreaker
// alongside a Handle (e.g. stable iteration order); Handle alone suffices
// for validity checks.
func (r *Registry) nextSeq() uint64 {
	return atomic.AddUint64(&r.seq, 1)
}
