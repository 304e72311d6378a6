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

package env

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// syncQueue runs tasks synchronously but records the order they were
// handed in, standing in for the reactor's user queue in tests.
type syncQueue struct {
	mu  sync.Mutex
	ran []string
}

func (q *syncQueue) push(tag string) func() {
	return func() {
		q.mu.Lock()
		q.ran = append(q.ran, tag)
		q.mu.Unlock()
	}
}

func (q *syncQueue) enqueue(fn func()) {
	fn()
}

func Test_Store_SetGet(t *testing.T) {
	q := &syncQueue{}
	s := NewStore(q.enqueue)
	s.Set(Key{Type: 1, Name: "a"}, 1, nil)
	s.Set(Key{Type: 1, Name: "b"}, "two", nil)

	v, ok := s.Get(Key{Type: 1, Name: "a"})
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = s.Get(Key{Type: 1, Name: "b"})
	assert.True(t, ok)
	assert.Equal(t, "two", v)

	_, ok = s.Get(Key{Type: 1, Name: "missing"})
	assert.False(t, ok)
	assert.Equal(t, 2, s.Len())
}

func Test_Store_DistinctTypesDoNotCollide(t *testing.T) {
	q := &syncQueue{}
	s := NewStore(q.enqueue)
	s.Set(Key{Type: 1, Name: "a"}, "one", nil)
	s.Set(Key{Type: 2, Name: "a"}, "two", nil)

	v, _ := s.Get(Key{Type: 1, Name: "a"})
	assert.Equal(t, "one", v)
	v, _ = s.Get(Key{Type: 2, Name: "a"})
	assert.Equal(t, "two", v)
	assert.Equal(t, 2, s.Len())
}

func Test_Store_SetOverwriteFiresOldOnCloseAsync(t *testing.T) {
	var ran []interface{}
	s := NewStore(func(fn func()) { fn() })
	k := Key{Type: 1, Name: "a"}
	s.Set(k, 1, func(udata interface{}) { ran = append(ran, udata) })
	s.Set(k, 2, nil)

	assert.Equal(t, 1, s.Len())
	v, _ := s.Get(k)
	assert.Equal(t, 2, v)
	assert.Equal(t, []interface{}{1}, ran)
}

func Test_Store_UnsetDoesNotInvokeOnClose(t *testing.T) {
	closed := false
	s := NewStore(func(fn func()) { fn() })
	k := Key{Type: 1, Name: "a"}
	s.Set(k, 1, func(interface{}) { closed = true })

	assert.True(t, s.Unset(k))
	assert.False(t, closed)
	_, ok := s.Get(k)
	assert.False(t, ok)
	assert.False(t, s.Unset(k))
}

func Test_Store_RemoveInvokesOnClose(t *testing.T) {
	var got interface{}
	s := NewStore(func(fn func()) { fn() })
	k := Key{Type: 1, Name: "a"}
	s.Set(k, "payload", func(udata interface{}) { got = udata })

	assert.True(t, s.Remove(k))
	assert.Equal(t, "payload", got)
	_, ok := s.Get(k)
	assert.False(t, ok)
	assert.False(t, s.Remove(k))
}

func Test_Store_WalkInsertionOrder(t *testing.T) {
	q := &syncQueue{}
	s := NewStore(q.enqueue)
	s.Set(Key{Name: "first"}, 1, nil)
	s.Set(Key{Name: "second"}, 2, nil)
	s.Set(Key{Name: "third"}, 3, nil)

	var names []string
	s.Walk(func(key Key, value interface{}) bool {
		names = append(names, key.Name)
		return true
	})
	assert.Equal(t, []string{"first", "second", "third"}, names)
}

func Test_Store_WalkStopsEarly(t *testing.T) {
	q := &syncQueue{}
	s := NewStore(q.enqueue)
	s.Set(Key{Name: "a"}, 1, nil)
	s.Set(Key{Name: "b"}, 2, nil)
	s.Set(Key{Name: "c"}, 3, nil)

	var seen int
	s.Walk(func(key Key, value interface{}) bool {
		seen++
		return key.Name != "b"
	})
	assert.Equal(t, 2, seen)
}

func Test_Store_TeardownAllIsLIFOAndAsync(t *testing.T) {
	var order []string
	var enqueued []func()
	s := NewStore(func(fn func()) { enqueued = append(enqueued, fn) })

	s.Set(Key{Name: "a"}, "a", func(interface{}) { order = append(order, "a") })
	s.Set(Key{Name: "b"}, "b", func(interface{}) { order = append(order, "b") })
	s.Set(Key{Name: "c"}, "c", func(interface{}) { order = append(order, "c") })

	s.TeardownAll()
	assert.Equal(t, 0, s.Len())
	assert.Nil(t, order, "on_close must not run synchronously with TeardownAll")
	assert.Len(t, enqueued, 1, "LIFO order is only guaranteed within a single queued task")

	enqueued[0]()
	assert.Equal(t, []string{"c", "b", "a"}, order)
}

func Test_Store_TeardownAllSkipsNilOnClose(t *testing.T) {
	s := NewStore(func(fn func()) { fn() })
	s.Set(Key{Name: "borrowed"}, 1, nil)
	closed := false
	s.Set(Key{Name: "owned"}, 2, func(interface{}) { closed = true })

	s.TeardownAll()
	assert.True(t, closed)
}

func Test_Store_TeardownAllOnEmptyStoreDoesNotEnqueue(t *testing.T) {
	calls := 0
	s := NewStore(func(fn func()) { calls++; fn() })
	s.TeardownAll()
	assert.Equal(t, 0, calls)
}
