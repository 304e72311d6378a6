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

//go:build freebsd || dragonfly || darwin
// +build freebsd dragonfly darwin

package netpoll

import (
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"fioreactor/internal/queue"
	"fioreactor/pkg/errors"
	"fioreactor/pkg/logging"
)

// kqueuePoller implements Poller on top of kqueue(2). Task-queue wakeups
// ride a user-triggered EVFILT_USER note rather than a pipe, the BSD
// analogue of epoll's eventfd wakeup.
type kqueuePoller struct {
	fd          int
	wakeupCall  int32
	asyncQueue  *queue.Queue
	urgentQueue *queue.Queue

	mu          sync.RWMutex
	attachments map[int]*PollAttachment
}

var wakeNote = []unix.Kevent_t{{
	Ident:  0,
	Filter: unix.EVFILT_USER,
	Fflags: unix.NOTE_TRIGGER,
}}

// OpenPoller instantiates a kqueue-backed Poller.
func OpenPoller() (Poller, error) {
	p := new(kqueuePoller)
	var err error
	if p.fd, err = unix.Kqueue(); err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	if _, err = unix.Kevent(p.fd, []unix.Kevent_t{{
		Ident:  0,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}, nil, nil); err != nil {
		_ = unix.Close(p.fd)
		return nil, os.NewSyscallError("kevent add|clear", err)
	}
	p.asyncQueue = queue.New()
	p.urgentQueue = queue.New()
	p.attachments = make(map[int]*PollAttachment)
	return p, nil
}

func (p *kqueuePoller) Close() error {
	return os.NewSyscallError("close", unix.Close(p.fd))
}

func (p *kqueuePoller) wake() error {
	if atomic.CompareAndSwapInt32(&p.wakeupCall, 0, 1) {
		if _, err := unix.Kevent(p.fd, wakeNote, nil, nil); err != nil && err != unix.EAGAIN {
			return os.NewSyscallError("kevent trigger", err)
		}
	}
	return nil
}

func (p *kqueuePoller) Trigger(fn queue.TaskFunc, arg1, arg2 interface{}) error {
	t := queue.GetTask()
	t.Run, t.Arg1, t.Arg2 = fn, arg1, arg2
	p.asyncQueue.Enqueue(t)
	return p.wake()
}

func (p *kqueuePoller) UrgentTrigger(fn queue.TaskFunc, arg1, arg2 interface{}) error {
	t := queue.GetTask()
	t.Run, t.Arg1, t.Arg2 = fn, arg1, arg2
	p.urgentQueue.Enqueue(t)
	return p.wake()
}

func (p *kqueuePoller) runQueues() error {
	t := p.urgentQueue.Dequeue()
	for ; t != nil; t = p.urgentQueue.Dequeue() {
		err := t.Run(t.Arg1, t.Arg2)
		queue.PutTask(t)
		if err == errors.ErrEngineShutdown {
			return err
		} else if err != nil {
			logging.Warnf("error occurs in urgent task: %v", err)
		}
	}
	for i := 0; i < MaxAsyncTasksAtOneTime; i++ {
		t = p.asyncQueue.Dequeue()
		if t == nil {
			break
		}
		err := t.Run(t.Arg1, t.Arg2)
		queue.PutTask(t)
		if err == errors.ErrEngineShutdown {
			return err
		} else if err != nil {
			logging.Warnf("error occurs in async task: %v", err)
		}
	}
	atomic.StoreInt32(&p.wakeupCall, 0)
	if !p.asyncQueue.IsEmpty() || !p.urgentQueue.IsEmpty() {
		return p.wake()
	}
	return nil
}

func (p *kqueuePoller) attachmentFor(fd int) *PollAttachment {
	p.mu.RLock()
	pa := p.attachments[fd]
	p.mu.RUnlock()
	return pa
}

// Polling blocks, dispatching readiness events and draining task queues
// until a callback or task returns an engine-shutdown error.
func (p *kqueuePoller) Polling(trick func(), housekeeping func(n int)) error {
	el := newKqueueEventList(InitPollEventsCap)
	for {
		trick()
		n, err := unix.Kevent(p.fd, nil, el.events, &unix.Timespec{Sec: PollTickMs / 1000})
		if n == 0 || (n < 0 && err == unix.EINTR) {
			runtime.Gosched()
			housekeeping(0)
			continue
		} else if err != nil {
			logging.Errorf("error occurs in kevent wait: %v", os.NewSyscallError("kevent wait", err))
			return err
		}

		var woke bool
		dispatched := 0
		for i := 0; i < n; i++ {
			ev := &el.events[i]
			if ev.Ident == 0 {
				woke = true
				continue
			}
			fd := int(ev.Ident)
			pa := p.attachmentFor(fd)
			if pa == nil {
				continue
			}
			var revent IOEvent
			if ev.Flags&(unix.EV_EOF|unix.EV_ERROR) != 0 {
				revent |= EventErr
			}
			switch ev.Filter {
			case unix.EVFILT_READ:
				revent |= EventRead
			case unix.EVFILT_WRITE:
				revent |= EventWrite
			}
			dispatched++
			switch err = pa.Callback(fd, revent); err {
			case nil:
			case errors.ErrAcceptSocket, errors.ErrEngineShutdown:
				return err
			default:
				logging.Warnf("error occurs in event loop: %v", err)
			}
		}

		if woke {
			if err = p.runQueues(); err == errors.ErrEngineShutdown {
				return err
			}
		}

		if n == el.size() {
			el.expand()
		} else if n < el.size()>>1 {
			el.shrink()
		}
		housekeeping(dispatched)
	}
}

func (p *kqueuePoller) register(pa *PollAttachment, filter int16, flags uint16) error {
	p.mu.Lock()
	p.attachments[pa.FD] = pa
	p.mu.Unlock()
	ev := unix.Kevent_t{Ident: uint64(pa.FD), Filter: filter, Flags: flags}
	_, err := unix.Kevent(p.fd, []unix.Kevent_t{ev}, nil, nil)
	return os.NewSyscallError("kevent add", err)
}

func (p *kqueuePoller) AddRead(pa *PollAttachment) error {
	return p.register(pa, unix.EVFILT_READ, unix.EV_ADD)
}

func (p *kqueuePoller) AddWrite(pa *PollAttachment) error {
	return p.register(pa, unix.EVFILT_WRITE, unix.EV_ADD)
}

func (p *kqueuePoller) AddReadWrite(pa *PollAttachment) error {
	p.mu.Lock()
	p.attachments[pa.FD] = pa
	p.mu.Unlock()
	evs := []unix.Kevent_t{
		{Ident: uint64(pa.FD), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD},
		{Ident: uint64(pa.FD), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD},
	}
	_, err := unix.Kevent(p.fd, evs, nil, nil)
	return os.NewSyscallError("kevent add", err)
}

func (p *kqueuePoller) ModRead(pa *PollAttachment) error {
	ev := unix.Kevent_t{Ident: uint64(pa.FD), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE}
	_, err := unix.Kevent(p.fd, []unix.Kevent_t{ev}, nil, nil)
	if err != nil && err != unix.ENOENT {
		return os.NewSyscallError("kevent delete", err)
	}
	return nil
}

func (p *kqueuePoller) ModReadWrite(pa *PollAttachment) error {
	return p.register(pa, unix.EVFILT_WRITE, unix.EV_ADD)
}

func (p *kqueuePoller) Delete(fd int) error {
	p.mu.Lock()
	delete(p.attachments, fd)
	p.mu.Unlock()
	evs := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	_, err := unix.Kevent(p.fd, evs, nil, nil)
	if err != nil && err != unix.ENOENT {
		return os.NewSyscallError("kevent delete", err)
	}
	return nil
}
