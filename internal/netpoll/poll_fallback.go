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

//go:build netbsd || openbsd || solaris
// +build netbsd openbsd solaris

// This file backs the reactor with poll(2) on POSIX systems that have
// neither epoll nor kqueue. It trades O(n) readiness scanning for running
// everywhere a Go unix target does.
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

type pollPoller struct {
	wakeR, wakeW int
	wakeupCall   int32
	asyncQueue   *queue.Queue
	urgentQueue  *queue.Queue

	mu          sync.RWMutex
	attachments map[int]*PollAttachment
}

// OpenPoller instantiates a poll(2)-backed Poller.
func OpenPoller() (Poller, error) {
	p := new(pollPoller)
	fds, err := unixPipe2()
	if err != nil {
		return nil, err
	}
	p.wakeR, p.wakeW = fds[0], fds[1]
	p.asyncQueue = queue.New()
	p.urgentQueue = queue.New()
	p.attachments = make(map[int]*PollAttachment)
	return p, nil
}

func unixPipe2() ([2]int, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return fds, os.NewSyscallError("pipe2", err)
	}
	return fds, nil
}

func (p *pollPoller) Close() error {
	_ = unix.Close(p.wakeR)
	return os.NewSyscallError("close", unix.Close(p.wakeW))
}

func (p *pollPoller) wake() error {
	if atomic.CompareAndSwapInt32(&p.wakeupCall, 0, 1) {
		if _, err := unix.Write(p.wakeW, []byte{1}); err != nil && err != unix.EAGAIN {
			return os.NewSyscallError("pipe write", err)
		}
	}
	return nil
}

func (p *pollPoller) Trigger(fn queue.TaskFunc, arg1, arg2 interface{}) error {
	t := queue.GetTask()
	t.Run, t.Arg1, t.Arg2 = fn, arg1, arg2
	p.asyncQueue.Enqueue(t)
	return p.wake()
}

func (p *pollPoller) UrgentTrigger(fn queue.TaskFunc, arg1, arg2 interface{}) error {
	t := queue.GetTask()
	t.Run, t.Arg1, t.Arg2 = fn, arg1, arg2
	p.urgentQueue.Enqueue(t)
	return p.wake()
}

func (p *pollPoller) runQueues() error {
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

func (p *pollPoller) snapshot() []unix.PollFd {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pfds := make([]unix.PollFd, 0, len(p.attachments)+1)
	pfds = append(pfds, unix.PollFd{Fd: int32(p.wakeR), Events: unix.POLLIN})
	for fd := range p.attachments {
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN | unix.POLLOUT})
	}
	return pfds
}

// Polling blocks, dispatching readiness events and draining task queues
// until a callback or task returns an engine-shutdown error.
func (p *pollPoller) Polling(trick func(), housekeeping func(n int)) error {
	for {
		trick()
		pfds := p.snapshot()
		n, err := unix.Poll(pfds, PollTickMs)
		if n == 0 || (n < 0 && err == unix.EINTR) {
			runtime.Gosched()
			housekeeping(0)
			continue
		} else if err != nil {
			logging.Errorf("error occurs in poll: %v", os.NewSyscallError("poll", err))
			return err
		}

		var woke bool
		dispatched := 0
		for i := range pfds {
			pfd := &pfds[i]
			if pfd.Revents == 0 {
				continue
			}
			if int(pfd.Fd) == p.wakeR {
				var buf [64]byte
				_, _ = unix.Read(p.wakeR, buf[:])
				woke = true
				continue
			}
			p.mu.RLock()
			pa := p.attachments[int(pfd.Fd)]
			p.mu.RUnlock()
			if pa == nil {
				continue
			}
			var revent IOEvent
			if pfd.Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
				revent |= EventErr
			}
			if pfd.Revents&unix.POLLIN != 0 {
				revent |= EventRead
			}
			if pfd.Revents&unix.POLLOUT != 0 {
				revent |= EventWrite
			}
			dispatched++
			switch err = pa.Callback(int(pfd.Fd), revent); err {
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
		housekeeping(dispatched)
	}
}

func (p *pollPoller) add(pa *PollAttachment) error {
	p.mu.Lock()
	p.attachments[pa.FD] = pa
	p.mu.Unlock()
	return nil
}

func (p *pollPoller) AddRead(pa *PollAttachment) error      { return p.add(pa) }
func (p *pollPoller) AddWrite(pa *PollAttachment) error     { return p.add(pa) }
func (p *pollPoller) AddReadWrite(pa *PollAttachment) error { return p.add(pa) }
func (p *pollPoller) ModRead(pa *PollAttachment) error      { return p.add(pa) }
func (p *pollPoller) ModReadWrite(pa *PollAttachment) error { return p.add(pa) }

func (p *pollPoller) Delete(fd int) error {
	p.mu.Lock()
	delete(p.attachments, fd)
	p.mu.Unlock()
	return nil
}
