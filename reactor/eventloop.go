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

//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

package reactor

import (
	"context"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"

	ioutil "fioreactor/internal/io"
	"fioreactor/internal/netpoll"
	"fioreactor/pkg/logging"
	"fioreactor/pkg/pool/byteslice"
)

var bgCtx = context.Background()

// dispatch is the poll callback bound to every accepted/attached Conn. It
// runs on the single reactor goroutine and must never block.
func (r *Reactor) dispatch(fd int, ev netpoll.IOEvent) error {
	r.mu.RLock()
	c := r.connsByFD[fd]
	r.mu.RUnlock()
	if c == nil {
		return nil
	}

	if ev&netpoll.EventErr != 0 {
		r.closeConn(c, os.NewSyscallError("poll", unix.ECONNRESET))
		return nil
	}

	if ev&netpoll.EventWrite != 0 {
		if err := r.drainOut(c); err != nil {
			r.closeConn(c, err)
			return nil
		}
	}

	if ev&netpoll.EventRead != 0 {
		if err := r.readInto(c); err != nil {
			r.closeConn(c, err)
			return nil
		}
	}

	return nil
}

// readInto pulls as much as is immediately available off fd into c's
// inbound stream, then schedules OnData under the Conn's task lock,
// unless c is currently throttled.
func (r *Reactor) readInto(c *Conn) error {
	buf := byteslice.Get(r.opts.ReadBufferCap)
	defer byteslice.Put(buf)

	for {
		n, err := unix.Read(c.fd, buf.B)
		if n > 0 {
			_, _ = c.in.Write(buf.B[:n])
		}
		if n == 0 {
			return os.NewSyscallError("read", unix.ECONNRESET)
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR || err == unix.EWOULDBLOCK {
				break
			}
			return os.NewSyscallError("read", err)
		}
		if n < len(buf.B) {
			break
		}
	}

	if c.in.Buffered() == 0 {
		return nil
	}
	c.Touch()
	r.scheduleOnData(c)
	return nil
}

// scheduleOnData runs OnData under c's task lock, unless c is suspended
// or c's outbound queue is at or over the throttle limit. A suspended
// Conn is left for Resume to wake; a throttled one is marked so
// drainOut/maybeUnthrottle can re-trigger it once the queue falls back
// below the limit.
func (r *Reactor) scheduleOnData(c *Conn) {
	if c.IsSuspended() {
		return
	}
	if c.OutboundBuffered() >= r.opts.ThrottleLimit {
		atomic.StoreInt32(&c.throttled, 1)
		return
	}
	r.runTask(c, func() {
		action := c.Protocol().OnData(c)
		r.applyAction(c, action)
	})
}

// runTask invokes fn under c's non-blocking task lock; on contention it
// reschedules fn onto the io-core queue rather than blocking the reactor
// goroutine. It raises c's refcount for the lifetime of the (possibly
// rescheduled) task and lowers it once fn has actually run.
func (r *Reactor) runTask(c *Conn, fn func()) {
	r.retainRef(c)
	r.runTaskRef(c, fn)
}

func (r *Reactor) runTaskRef(c *Conn, fn func()) {
	if !c.tryLockTask() {
		r.stats.TaskLockBusy.Inc()
		_ = r.poller.Trigger(func(arg1, _ interface{}) error {
			r.runTaskRef(arg1.(*Conn), fn)
			return nil
		}, c, nil)
		return
	}
	defer r.releaseRef(c)
	defer c.unlockTask()
	fn()
}

// enqueueUser hands fn to the worker pool backing the user queue; unlike
// runTask it may block in user code without affecting the reactor loop.
// It raises c's refcount until fn has actually run.
func (r *Reactor) enqueueUser(c *Conn, fn func()) {
	if !r.isRunning() {
		return
	}
	r.retainRef(c)
	r.pushUserRef(c, fn)
}

func (r *Reactor) pushUserRef(c *Conn, fn func()) {
	wrapped := func() {
		if !c.tryLockTask() {
			r.pushUserRef(c, fn)
			return
		}
		defer r.releaseRef(c)
		defer c.unlockTask()
		fn()
	}
	select {
	case r.userQueue <- wrapped:
	default:
		logging.Warnf("user queue full, dropping task for fd %d", c.fd)
		r.releaseRef(c)
	}
}

// applyAction interprets a Protocol callback's returned Action.
func (r *Reactor) applyAction(c *Conn, action Action) {
	switch action {
	case CloseConn:
		r.requestClose(c)
	case ShutdownReactor:
		go func() { _ = r.Stop(bgCtx) }()
	}
}

// scheduleDrain arranges for c's outbound stream to be written out via the
// io-core queue, which runs on the reactor goroutine.
func (r *Reactor) scheduleDrain(c *Conn) {
	r.retainRef(c)
	if err := r.poller.Trigger(func(arg1, _ interface{}) error {
		conn := arg1.(*Conn)
		defer r.releaseRef(conn)
		if err := r.drainOut(conn); err != nil {
			r.closeConn(conn, err)
		}
		return nil
	}, c, nil); err != nil {
		r.releaseRef(c)
	}
}

const drainChunk = 64 * 1024

// drainOut writes as much of c's outbound stream as the socket will
// currently accept. On EAGAIN/EWOULDBLOCK it re-arms write readiness and
// returns nil; once the stream empties it finishes a Close that was
// requested while data was still queued, or else posts OnReady to the
// io-core queue.
func (r *Reactor) drainOut(c *Conn) error {
	if !c.IsOpened() {
		return nil
	}
	c.outMu.Lock()
	defer c.outMu.Unlock()

	for !c.out.IsEmpty() {
		chunks := c.out.Peek(drainChunk)

		if c.tls == nil || c.tls.Write == nil {
			want := 0
			for _, p := range chunks {
				want += len(p)
			}
			n, err := ioutil.Writev(c.fd, chunks)
			if n > 0 {
				_, _ = c.out.Discard(n)
			}
			if err != nil {
				if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
					_ = r.poller.ModReadWrite(c.pollAttachment())
					r.maybeUnthrottle(c)
					return nil
				}
				return os.NewSyscallError("writev", err)
			}
			if n < want {
				_ = r.poller.ModReadWrite(c.pollAttachment())
				r.maybeUnthrottle(c)
				return nil
			}
			continue
		}

		drained := true
		for _, p := range chunks {
			if len(p) == 0 {
				continue
			}
			n, err := c.tls.Write(c, p)
			if n > 0 {
				_, _ = c.out.Discard(n)
			}
			if err != nil {
				if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
					_ = r.poller.ModReadWrite(c.pollAttachment())
					r.maybeUnthrottle(c)
					return nil
				}
				return os.NewSyscallError("write", err)
			}
			if n < len(p) {
				_ = r.poller.ModReadWrite(c.pollAttachment())
				drained = false
				break
			}
		}
		if !drained {
			r.maybeUnthrottle(c)
			return nil
		}
	}

	_ = r.poller.ModRead(c.pollAttachment())
	r.maybeUnthrottle(c)

	if atomic.CompareAndSwapInt32(&c.closeReq, 1, 0) {
		r.closeConnLocked(c, nil)
		return nil
	}

	// c.outMu is still held here, so OnReady is posted to the io-core
	// queue instead of run in place; a callback that writes takes outMu.
	r.retainRef(c)
	if err := r.poller.Trigger(func(arg1, _ interface{}) error {
		r.runTaskRef(arg1.(*Conn), func() {
			action := c.Protocol().OnReady(c)
			r.applyAction(c, action)
		})
		return nil
	}, c, nil); err != nil {
		r.releaseRef(c)
	}
	return nil
}

// maybeUnthrottle re-triggers OnData for c if it was throttled and its
// outbound queue has shrunk back below the throttle limit. Must be
// called with c.outMu held; OnData is therefore posted to the io-core
// queue and runs after the caller releases the lock.
func (r *Reactor) maybeUnthrottle(c *Conn) {
	if c.out.Buffered() >= r.opts.ThrottleLimit {
		return
	}
	if atomic.CompareAndSwapInt32(&c.throttled, 1, 0) && !c.IsSuspended() && c.in.Buffered() > 0 {
		r.retainRef(c)
		if err := r.poller.Trigger(func(arg1, _ interface{}) error {
			r.runTaskRef(arg1.(*Conn), func() {
				action := c.Protocol().OnData(c)
				r.applyAction(c, action)
			})
			return nil
		}, c, nil); err != nil {
			r.releaseRef(c)
		}
	}
}

// closeConn transitions c to Closed exactly once: it deregisters the fd
// from the poller, tears its env down LIFO, closes the fd, and invokes
// OnClose.
func (r *Reactor) closeConn(c *Conn, err error) {
	c.outMu.Lock()
	r.closeConnLocked(c, err)
	c.outMu.Unlock()
}

// closeConnLocked is closeConn with c.outMu already held. The fd is
// deregistered and closed immediately, but OnClose and the validity
// release are deferred to releaseRef: they only run once every task
// still holding a reference to c (dup'd or in flight) has let go.
func (r *Reactor) closeConnLocked(c *Conn, err error) {
	c.closedOnce.Do(func() {
		atomic.StoreUint32(&c.state, uint32(StateClosed))
		c.closeErr = err

		_ = r.poller.Delete(c.fd)

		r.mu.Lock()
		if grp, ok := r.protoGroups[c.protocol]; ok && c.protoElem != nil {
			grp.Remove(c.protoElem)
		}
		delete(r.connsByFD, c.fd)
		envStore, hadEnv := r.envByConn[c]
		delete(r.envByConn, c)
		total := len(r.connsByFD)
		r.mu.Unlock()

		r.stats.CurrConnections.WithLabelValues(r.role).Set(float64(total))
		reason := "clean"
		if err != nil {
			reason = "error"
		}
		r.stats.ConnCloseTotal.WithLabelValues(reason).Inc()

		if hadEnv {
			envStore.TeardownAll()
		}

		_ = unix.Close(c.fd)
		r.releaseRef(c)
	})
}
