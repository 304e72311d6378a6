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

// Package netpoll wraps the OS-specific readiness backend (epoll on Linux,
// kqueue on BSD/Darwin, poll(2) everywhere else) behind one interface, and
// carries the task-trigger mechanism the reactor thread uses to run
// io-core/user-queue work without leaving the single polling goroutine.
package netpoll

import "fioreactor/internal/queue"

// IOEvent is a normalized readiness signal, decoupled from any backend's
// native event representation (epoll bitmask, kqueue filter, poll revents).
type IOEvent int

const (
	// EventRead reports the fd is readable (or a passive listener has a
	// pending connection).
	EventRead IOEvent = 1 << iota
	// EventWrite reports the fd is writable.
	EventWrite
	// EventErr reports the fd hit EOF or an error condition; poller
	// implementations fold EPOLLHUP/EPOLLERR/EV_EOF/EV_ERROR into this.
	EventErr
)

// PollAttachment pairs a file descriptor with the callback the poller
// invokes when that fd becomes ready. The validity of the Conn behind
// Callback is the caller's responsibility, not the poller's.
type PollAttachment struct {
	FD       int
	Callback func(fd int, ev IOEvent) error
}

// InitPollEventsCap is the initial capacity of a poller's event buffer.
const InitPollEventsCap = 128

// MaxAsyncTasksAtOneTime bounds how many low-priority queued tasks a single
// wakeup drains, so a task storm cannot starve readiness polling.
const MaxAsyncTasksAtOneTime = 256

// PollTickMs bounds how long a single wait blocks, so housekeeping still
// runs on an otherwise idle loop.
const PollTickMs = 1000

// Poller is the behavior every backend (epoll, kqueue, poll) provides to
// the reactor's event loop.
type Poller interface {
	// Polling blocks the calling goroutine until Close is called or a
	// callback returns a shutdown error. trick runs once per wakeup
	// before readiness is consulted; housekeeping runs once per wakeup
	// after events are dispatched, with the number of fd events that
	// wakeup delivered (0 on a PollTickMs timeout or an interrupted wait).
	Polling(trick func(), housekeeping func(n int)) error
	// Close releases the backend's kernel resources.
	Close() error
	// AddRead registers fd for read readiness only.
	AddRead(pa *PollAttachment) error
	// AddWrite registers fd for write readiness only.
	AddWrite(pa *PollAttachment) error
	// AddReadWrite registers fd for both read and write readiness.
	AddReadWrite(pa *PollAttachment) error
	// ModRead demotes fd to read-only readiness.
	ModRead(pa *PollAttachment) error
	// ModReadWrite promotes fd to read+write readiness.
	ModReadWrite(pa *PollAttachment) error
	// Delete deregisters fd from the backend entirely.
	Delete(fd int) error
	// Trigger enqueues fn onto the low-priority task queue and wakes
	// Polling; use for work that can tolerate some delay (flushing
	// output, deferred close).
	Trigger(fn queue.TaskFunc, arg1, arg2 interface{}) error
	// UrgentTrigger is like Trigger but uses the high-priority queue;
	// use sparingly, for work that must run before the next readiness
	// batch (e.g. waking all loops for shutdown).
	UrgentTrigger(fn queue.TaskFunc, arg1, arg2 interface{}) error
}
