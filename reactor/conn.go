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
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"fioreactor/internal/netpoll"
	"fioreactor/internal/socket"
	"fioreactor/pkg/buffer/elastic"
	"fioreactor/pkg/errors"
	"fioreactor/reactor/env"
	"fioreactor/reactor/validity"
)

// connState is Conn.state; transitions only ever move forward except for
// the reversible Open<->Suspended pair.
type connState uint32

const (
	StateOpen connState = iota
	StateSuspended
	StateClosing
	StateClosed
)

// Conn is the reactor-owned handle for one network connection.
type Conn struct {
	r *Reactor

	fd    int
	state uint32 // connState, atomic

	protoMu  sync.RWMutex
	protocol Protocol
	protoElem *list.Element

	udata atomic.Value

	outMu sync.Mutex
	out   *elastic.Buffer
	in    elastic.RingBuffer

	activeMs  int64 // atomic, ms since epoch
	timeoutS  int64
	taskLock  int32 // atomic 0/1
	refcount  int32 // atomic; Conn finalizes only once this reaches 0 and state is Closed
	closeReq  int32 // atomic 0/1: close() requested, waiting for out to drain
	throttled int32 // atomic 0/1: OutboundBuffered() was >= opts.ThrottleLimit as of the last check

	handle validity.Handle

	localAddr, remoteAddr string

	tls *TLSHook

	closeErr error
	closedOnce sync.Once
}

func (c *Conn) pollAttachment() *netpoll.PollAttachment {
	return &netpoll.PollAttachment{FD: c.fd, Callback: c.r.dispatch}
}

// Fd returns the underlying file descriptor, or -1 once closed.
func (c *Conn) Fd() int {
	if connState(atomic.LoadUint32(&c.state)) == StateClosed {
		return -1
	}
	return c.fd
}

// DupFD returns a duplicate of the underlying file descriptor. The
// caller owns the returned fd and must close it.
func (c *Conn) DupFD() (int, error) {
	nfd, err := unix.Dup(c.fd)
	if err != nil {
		return -1, err
	}
	return nfd, nil
}

// Dup pins the Conn alive by raising its refcount. It has no effect on
// any externally observable state; pair it with a matching Undup. Use
// this to hold a reference to a Conn from a task that outlives the
// callback that captured it.
func (c *Conn) Dup() {
	atomic.AddInt32(&c.refcount, 1)
}

// Undup releases a reference taken by Dup. If this was the Conn's last
// reference and it is already Closed, the Conn is finalized: its
// validity handle is released and OnClose runs.
func (c *Conn) Undup() {
	c.r.releaseRef(c)
}

// SetReadBuffer sets SO_RCVBUF on the underlying socket.
func (c *Conn) SetReadBuffer(bytes int) error {
	return socket.SetRecvBuffer(c.fd, bytes)
}

// SetWriteBuffer sets SO_SNDBUF on the underlying socket.
func (c *Conn) SetWriteBuffer(bytes int) error {
	return socket.SetSendBuffer(c.fd, bytes)
}

// SetLinger sets SO_LINGER on the underlying socket.
func (c *Conn) SetLinger(sec int) error {
	return socket.SetLinger(c.fd, sec)
}

// SetKeepAlivePeriod enables TCP keep-alive probing at the given period.
func (c *Conn) SetKeepAlivePeriod(d time.Duration) error {
	if err := socket.SetKeepAlivePeriod(c.fd, int(d/time.Second)); err != nil {
		return err
	}
	return nil
}

// IsOpened reports whether the Conn is in the Open or Suspended state.
func (c *Conn) IsOpened() bool {
	s := connState(atomic.LoadUint32(&c.state))
	return s == StateOpen || s == StateSuspended
}

// Suspend moves an Open Conn to Suspended: on_data stops being scheduled
// for it until Resume. It reports whether the transition happened (it is
// a no-op from any state other than Open).
func (c *Conn) Suspend() bool {
	return atomic.CompareAndSwapUint32(&c.state, uint32(StateOpen), uint32(StateSuspended))
}

// Resume moves a Suspended Conn back to Open, re-arming on_data
// scheduling, and re-checks the inbound buffer in case bytes arrived
// while suspended. It reports whether the transition happened.
func (c *Conn) Resume() bool {
	if !atomic.CompareAndSwapUint32(&c.state, uint32(StateSuspended), uint32(StateOpen)) {
		return false
	}
	c.r.wakeSuspended(c)
	return true
}

// IsSuspended reports whether the Conn is currently Suspended.
func (c *Conn) IsSuspended() bool {
	return connState(atomic.LoadUint32(&c.state)) == StateSuspended
}

// LocalAddr is the connection's local socket address.
func (c *Conn) LocalAddr() string { return c.localAddr }

// RemoteAddr is the connection's remote peer address.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// Protocol returns the Conn's currently attached protocol.
func (c *Conn) Protocol() Protocol {
	c.protoMu.RLock()
	defer c.protoMu.RUnlock()
	return c.protocol
}

// SetProtocol replaces the Conn's protocol. A callback currently
// executing keeps the protocol pointer it started with.
func (c *Conn) SetProtocol(p Protocol) {
	c.protoMu.Lock()
	c.protocol = p
	c.protoMu.Unlock()
	if d := p.Timeout(); d > 0 {
		atomic.StoreInt64(&c.timeoutS, int64(d/time.Second))
	}
}

// Udata returns the opaque user value attached to the Conn.
func (c *Conn) Udata() interface{} {
	return c.udata.Load()
}

// SetUdata replaces the opaque user value attached to the Conn.
func (c *Conn) SetUdata(v interface{}) {
	c.udata.Store(v)
}

// EnvSet stores udata under (typ, name) in the Conn's env, running
// onClose on replacement or on teardown. See Reactor.EnvSet.
func (c *Conn) EnvSet(typ int64, name string, udata interface{}, onClose env.OnClose) {
	c.r.EnvSet(c, typ, name, udata, onClose)
}

// EnvUnset removes (typ, name) from the Conn's env without invoking its
// onClose, reporting whether an entry existed.
func (c *Conn) EnvUnset(typ int64, name string) bool {
	return c.r.EnvUnset(c, typ, name)
}

// EnvRemove removes (typ, name) from the Conn's env and invokes its
// onClose, reporting whether an entry existed.
func (c *Conn) EnvRemove(typ int64, name string) bool {
	return c.r.EnvRemove(c, typ, name)
}

// Handle returns the Conn's validity handle, stable for its lifetime.
func (c *Conn) Handle() validity.Handle {
	return c.handle
}

// Touch refreshes the inactivity clock, as if a read or write had just
// happened.
func (c *Conn) Touch() {
	atomic.StoreInt64(&c.activeMs, nowMs())
}

// IsBusy is a best-effort, racy probe of whether a callback currently
// holds the task lock.
func (c *Conn) IsBusy() bool {
	return atomic.LoadInt32(&c.taskLock) == 1
}

func (c *Conn) tryLockTask() bool {
	return atomic.CompareAndSwapInt32(&c.taskLock, 0, 1)
}

func (c *Conn) unlockTask() {
	atomic.StoreInt32(&c.taskLock, 0)
}

// Read copies buffered inbound bytes into p, consuming them.
func (c *Conn) Read(p []byte) (int, error) {
	return c.in.Read(p)
}

// Peek returns up to n bytes of buffered inbound data without consuming
// it. n <= 0 means everything buffered.
func (c *Conn) Peek(n int) ([]byte, error) {
	head, _ := c.in.Peek(n)
	return head, nil
}

// Discard drops n bytes of buffered inbound data.
func (c *Conn) Discard(n int) (int, error) {
	return c.in.Discard(n)
}

// Next returns the next n bytes of inbound data, consuming them.
func (c *Conn) Next(n int) ([]byte, error) {
	head, err := c.Peek(n)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, len(head))
	copy(buf, head)
	_, _ = c.Discard(len(head))
	return buf, nil
}

// InboundBuffered reports how many unread inbound bytes remain.
func (c *Conn) InboundBuffered() int {
	return c.in.Buffered()
}

// Write enqueues p on the outbound stream. It does not block on the
// network; the reactor drains the stream on its own thread.
func (c *Conn) Write(p []byte) (int, error) {
	if !c.IsOpened() {
		return 0, errors.ErrConnClosed
	}
	c.outMu.Lock()
	n, _ := c.out.Write(p)
	c.outMu.Unlock()
	c.r.scheduleDrain(c)
	return n, nil
}

// Writev enqueues each of bs as its own outbound packet.
func (c *Conn) Writev(bs [][]byte) (int, error) {
	if !c.IsOpened() {
		return 0, errors.ErrConnClosed
	}
	c.outMu.Lock()
	n, _ := c.out.Writev(bs)
	c.outMu.Unlock()
	c.r.scheduleDrain(c)
	return n, nil
}

// OutboundBuffered reports how many outbound bytes are still queued.
func (c *Conn) OutboundBuffered() int {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	return c.out.Buffered()
}

// Flush attempts to drain the outbound stream immediately rather than
// waiting for the next writable event.
func (c *Conn) Flush() error {
	return c.r.drainOut(c)
}

// Close closes the Conn at once if its outbound stream is empty;
// otherwise it marks a close request and the Conn is closed once the
// stream has drained. It is a no-op if the Conn is no longer open.
func (c *Conn) Close() error {
	if !c.IsOpened() {
		return nil
	}
	c.outMu.Lock()
	empty := c.out.IsEmpty()
	c.outMu.Unlock()
	if empty {
		c.r.closeConn(c, nil)
		return nil
	}
	atomic.StoreInt32(&c.closeReq, 1)
	return nil
}

// CloseNow transitions the Conn directly to Closed, discarding any
// pending outbound data.
func (c *Conn) CloseNow() error {
	if connState(atomic.LoadUint32(&c.state)) == StateClosed {
		return nil
	}
	c.outMu.Lock()
	c.out.Release()
	c.outMu.Unlock()
	c.r.closeConn(c, nil)
	return nil
}
