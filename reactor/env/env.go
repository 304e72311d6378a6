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

// Package env implements the typed, named resource map attached to every
// Conn (and one process-wide instance for udata with no owning Conn).
// Entries are visited in insertion order going forward (Walk) but torn
// down last-in-first-out, so a resource that captured an earlier one as
// a dependency is always released before its dependency is.
package env

import "sync"

// Key names an entry. Type lets unrelated subsystems share the Name
// namespace without colliding (mirroring a facil.io convention where the
// type tag is usually a pointer-sized constant identifying the owning
// module).
type Key struct {
	Type int64
	Name string
}

// OnClose is invoked once when an entry is replaced or removed, with the
// udata it was Set with. It never runs on the caller's own goroutine;
// the owning Store schedules it on the reactor's user queue so it can
// block without stalling whatever triggered the teardown.
type OnClose func(udata interface{})

type entry struct {
	key     Key
	udata   interface{}
	onClose OnClose
}

// Store is a per-Conn (or process-wide) map from Key to udata, ordered
// by insertion. It is not safe for concurrent use by more than one
// goroutine at a time unless the caller holds the owning Conn's task
// lock, matching every other piece of per-Conn state.
type Store struct {
	enqueue func(func())

	mu      sync.Mutex
	entries []entry
	index   map[Key]int
}

// NewStore returns an empty Store. enqueue is used to run every on_close
// callback asynchronously, off the caller's goroutine; the reactor
// passes its user queue.
func NewStore(enqueue func(func())) *Store {
	return &Store{enqueue: enqueue, index: make(map[Key]int)}
}

// Set stores udata under key, with onClose to run on replacement or
// removal. If key already holds an entry, the old entry's onClose is
// handed to the enqueue func, with its old udata, before Set returns.
func (s *Store) Set(key Key, udata interface{}, onClose OnClose) {
	s.mu.Lock()
	if i, ok := s.index[key]; ok {
		old := s.entries[i]
		s.entries[i] = entry{key: key, udata: udata, onClose: onClose}
		s.mu.Unlock()
		s.fireClose(old)
		return
	}
	s.index[key] = len(s.entries)
	s.entries = append(s.entries, entry{key: key, udata: udata, onClose: onClose})
	s.mu.Unlock()
}

// Get returns the udata stored under key, if any.
func (s *Store) Get(key Key) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[key]
	if !ok {
		return nil, false
	}
	return s.entries[i].udata, true
}

// Unset removes key without invoking its onClose, reporting whether an
// entry existed.
func (s *Store) Unset(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(key) != nil
}

// Remove removes key and, if one existed, runs its onClose
// asynchronously. It reports whether an entry existed.
func (s *Store) Remove(key Key) bool {
	s.mu.Lock()
	removed := s.remove(key)
	s.mu.Unlock()
	if removed == nil {
		return false
	}
	s.fireClose(*removed)
	return true
}

// remove must be called with s.mu held. It returns the removed entry, or
// nil if key was not present.
func (s *Store) remove(key Key) *entry {
	i, ok := s.index[key]
	if !ok {
		return nil
	}
	removed := s.entries[i]
	delete(s.index, key)
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	for n, e := range s.entries[i:] {
		s.index[e.key] = i + n
	}
	return &removed
}

func (s *Store) fireClose(e entry) {
	if e.onClose == nil {
		return
	}
	s.enqueue(func() { e.onClose(e.udata) })
}

// Walk visits every entry in insertion order, stopping early if fn
// returns false.
func (s *Store) Walk(fn func(key Key, udata interface{}) bool) {
	s.mu.Lock()
	snapshot := make([]entry, len(s.entries))
	copy(snapshot, s.entries)
	s.mu.Unlock()

	for _, e := range snapshot {
		if !fn(e.key, e.udata) {
			return
		}
	}
}

// TeardownAll releases every entry, scheduling their onClose callbacks
// as a single user-queue task that runs them in reverse insertion order
// (LIFO), so ordering holds even though the callbacks run asynchronously
// relative to this call. Store is empty once TeardownAll returns.
func (s *Store) TeardownAll() {
	s.mu.Lock()
	snapshot := make([]entry, len(s.entries))
	copy(snapshot, s.entries)
	s.entries = nil
	s.index = make(map[Key]int)
	s.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}
	s.enqueue(func() {
		for i := len(snapshot) - 1; i >= 0; i-- {
			e := snapshot[i]
			if e.onClose != nil {
				e.onClose(e.udata)
			}
		}
	})
}

// Len reports the number of entries currently stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
