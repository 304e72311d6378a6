// Copyright (c) 2022 The rcproxy Authors
// Copyright (c) 2019 Andy Pan
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

// epollPoller implements Poller on top of epoll(7). Wakeups to drain the
// task queues ride an eventfd(2), the Linux analogue of kqueue's
// EVFILT_USER note. epoll_event carries no room for a 64-bit pointer
// alongside its fd, so attachments are kept in a side map instead.
type epollPoller struct {
	fd          int
	wakeFD      int
	wakeupCall  int32
	asyncQueue  *queue.Queue
	urgentQueue *queue.Queue

	mu          sync.RWMutex
	attachments map[int]*PollAttachment
}

// OpenPoller instantiates an epoll-backed Poller.
func OpenPoller() (Poller, error) {
	p := new(epollPoller)
	var err error
	if p.fd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	if p.wakeFD, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC); err != nil {
		_ = unix.Close(p.fd)
		return nil, os.NewSyscallError("eventfd", err)
	}
	if err = unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, p.wakeFD, &unix.EpollEvent{
		Fd:     int32(p.wakeFD),
		Events: unix.EPOLLIN,
	}); err != nil {
		_ = unix.Close(p.wakeFD)
		_ = unix.Close(p.fd)
		return nil, os.NewSyscallError("epoll_ctl add wake fd", err)
	}
	p.asyncQueue = queue.New()
	p.urgentQueue = queue.New()
	p.attachments = make(map[int]*PollAttachment)
	return p, nil
}

func (p *epollPoller) Close() error {
	_ = unix.Close(p.wakeFD)
	return os.NewSyscallError("close", unix.Close(p.fd))
}

func (p *epollPoller) wake() error {
	if atomic.CompareAndSwapInt32(&p.wakeupCall, 0, 1) {
		var buf [8]byte
		buf[0] = 1
		if _, err := unix.Write(p.wakeFD, buf[:]); err != nil && err != unix.EAGAIN {
			return os.NewSyscallError("eventfd write", err)
		}
	}
	return nil
}

func (p *epollPoller) Trigger(fn queue.TaskFunc, arg1, arg2 interface{}) error {
	t := queue.GetTask()
	t.Run, t.Arg1, t.Arg2 = fn, arg1, arg2
	p.asyncQueue.Enqueue(t)
	return p.wake()
}

func (p *epollPoller) UrgentTrigger(fn queue.TaskFunc, arg1, arg2 interface{}) error {
	t := queue.GetTask()
	t.Run, t.Arg1, t.Arg2 = fn, arg1, arg2
	p.urgentQueue.Enqueue(t)
	return p.wake()
}

func (p *epollPoller) runQueues() error {
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

func (p *epollPoller) attachmentFor(fd int) *PollAttachment {
	p.mu.RLock()
	pa := p.attachments[fd]
	p.mu.RUnlock()
	return pa
}

// Polling blocks, dispatching readiness events and draining task queues
// until a callback or task returns an engine-shutdown error.
func (p *epollPoller) Polling(trick func(), housekeeping func(n int)) error {
	el := newEpollEventList(InitPollEventsCap)
	for {
		trick()
		n, err := unix.EpollWait(p.fd, el.events, PollTickMs)
		if n == 0 || (n < 0 && err == unix.EINTR) {
			runtime.Gosched()
			housekeeping(0)
			continue
		} else if err != nil {
			logging.Errorf("error occurs in epoll_wait: %v", os.NewSyscallError("epoll_wait", err))
			return err
		}

		var woke bool
		dispatched := 0
		for i := 0; i < n; i++ {
			ev := &el.events[i]
			fd := int(ev.Fd)
			if fd == p.wakeFD {
				var buf [8]byte
				_, _ = unix.Read(p.wakeFD, buf[:])
				woke = true
				continue
			}
			pa := p.attachmentFor(fd)
			if pa == nil {
				continue
			}
			var revent IOEvent
			if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
				revent |= EventErr
			}
			if ev.Events&unix.EPOLLIN != 0 {
				revent |= EventRead
			}
			if ev.Events&unix.EPOLLOUT != 0 {
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

func (p *epollPoller) addEvent(pa *PollAttachment, op int, events uint32) error {
	p.mu.Lock()
	p.attachments[pa.FD] = pa
	p.mu.Unlock()
	ev := unix.EpollEvent{Fd: int32(pa.FD), Events: events}
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(p.fd, op, pa.FD, &ev))
}

func (p *epollPoller) AddRead(pa *PollAttachment) error {
	return p.addEvent(pa, unix.EPOLL_CTL_ADD, unix.EPOLLIN)
}

func (p *epollPoller) AddWrite(pa *PollAttachment) error {
	return p.addEvent(pa, unix.EPOLL_CTL_ADD, unix.EPOLLOUT)
}

func (p *epollPoller) AddReadWrite(pa *PollAttachment) error {
	return p.addEvent(pa, unix.EPOLL_CTL_ADD, unix.EPOLLIN|unix.EPOLLOUT)
}

func (p *epollPoller) ModRead(pa *PollAttachment) error {
	return p.addEvent(pa, unix.EPOLL_CTL_MOD, unix.EPOLLIN)
}

func (p *epollPoller) ModReadWrite(pa *PollAttachment) error {
	return p.addEvent(pa, unix.EPOLL_CTL_MOD, unix.EPOLLIN|unix.EPOLLOUT)
}

func (p *epollPoller) Delete(fd int) error {
	p.mu.Lock()
	delete(p.attachments, fd)
	p.mu.Unlock()
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && err != unix.ENOENT {
		return os.NewSyscallError("epoll_ctl del", err)
	}
	return nil
}
