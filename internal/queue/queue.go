// Copyright (c) 2022 The rcproxy Authors
// Copyright (c) 2021 Andy Pan
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

// Package queue implements the reactor's two task FIFOs: the io-core queue
// (reactor-thread-only, never blocks) and the user queue (multi-producer
// multi-consumer, may block in user code). Both are lock-protected
// linked-list FIFOs, not wait-free.
package queue

import "sync"

// TaskFunc is the payload every queued task carries: a function plus its
// two opaque arguments.
type TaskFunc func(arg1, arg2 interface{}) error

// Task is a single queued unit of work.
type Task struct {
	Run        TaskFunc
	Arg1, Arg2 interface{}
	next       *Task
}

var taskPool = sync.Pool{New: func() interface{} { return new(Task) }}

// GetTask returns a pooled Task, zeroed of any prior payload.
func GetTask() *Task {
	t := taskPool.Get().(*Task)
	t.Run, t.Arg1, t.Arg2, t.next = nil, nil, nil, nil
	return t
}

// PutTask returns t to the pool. Callers must not touch t afterward.
func PutTask(t *Task) {
	t.Run, t.Arg1, t.Arg2, t.next = nil, nil, nil, nil
	taskPool.Put(t)
}

// Queue is an MPMC FIFO of *Task, safe for concurrent Enqueue/Dequeue.
type Queue struct {
	mu         sync.Mutex
	head, tail *Task
	n          int
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends t to the tail of the queue.
func (q *Queue) Enqueue(t *Task) {
	q.mu.Lock()
	t.next = nil
	if q.tail == nil {
		q.head, q.tail = t, t
	} else {
		q.tail.next = t
		q.tail = t
	}
	q.n++
	q.mu.Unlock()
}

// Dequeue removes and returns the head of the queue, or nil if empty.
func (q *Queue) Dequeue() *Task {
	q.mu.Lock()
	t := q.head
	if t != nil {
		q.head = t.next
		if q.head == nil {
			q.tail = nil
		}
		q.n--
	}
	q.mu.Unlock()
	if t != nil {
		t.next = nil
	}
	return t
}

// IsEmpty reports whether the queue currently holds no tasks.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	empty := q.head == nil
	q.mu.Unlock()
	return empty
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	n := q.n
	q.mu.Unlock()
	return n
}
