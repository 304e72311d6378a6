// Copyright (c) 2022 The rcproxy Authors
// Copyright (c) 2019 Andy Pan
// Copyright (c) 2018 Joshua J Baker
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

// Package reactor is the public surface: a single-threaded event loop per
// process driving a poller, an outbound stream per connection, and a
// Protocol dispatch scheduler serialized by a per-connection task lock.
package reactor

import (
	"container/list"
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petar/GoLLRB/llrb"

	"fioreactor/internal/netpoll"
	"fioreactor/pkg/buffer/elastic"
	"fioreactor/pkg/errors"
	"fioreactor/pkg/logging"
	"fioreactor/pkg/metrics"
	"fioreactor/reactor/env"
	"fioreactor/reactor/signalring"
	"fioreactor/reactor/statecb"
	"fioreactor/reactor/validity"
	"fioreactor/supervisor"
)

// Action tells the reactor what to do after a Protocol callback returns.
type Action int

const (
	// None takes no special action.
	None Action = iota
	// CloseConn closes the Conn the callback ran against.
	CloseConn
	// ShutdownReactor begins a graceful shutdown of the whole reactor.
	ShutdownReactor
)

// TLSHook lets a Conn route its bytes through a TLS implementation
// instead of raw read(2)/write(2); the reactor never performs
// cryptography itself.
type TLSHook struct {
	Read  func(c *Conn, p []byte) (int, error)
	Write func(c *Conn, p []byte) (int, error)
}

// Protocol is the user-supplied callback table bound to a Conn.
type Protocol interface {
	// OnData fires when the Conn has readable bytes buffered.
	OnData(c *Conn) Action
	// OnReady fires once the outbound stream has fully drained.
	OnReady(c *Conn) Action
	// OnClose fires exactly once, after state is Closed and env teardown
	// has completed. err is the triggering error, if any.
	OnClose(c *Conn, err error)
	// OnShutdown fires once during a graceful shutdown; returning true
	// keeps the Conn open past shutdown.
	OnShutdown(c *Conn) bool
	// OnTimeout fires when the Conn has been inactive for Timeout().
	OnTimeout(c *Conn) Action
	// Timeout reports the inactivity window; zero uses the reactor's
	// configured default.
	Timeout() time.Duration
}

// OnOpenFunc attaches a Protocol to a freshly accepted or attached fd.
type OnOpenFunc func(r *Reactor, fd int, udata interface{}) (Protocol, error)

// OnFinishFunc is stored with a Listen's listener. The reactor does not
// invoke it: no code path closes a listener, Stop included.
type OnFinishFunc func(err error)

type deadlineItem struct {
	deadline int64
	seq      uint64
	conn     *Conn
}

func (d *deadlineItem) Less(than llrb.Item) bool {
	o := than.(*deadlineItem)
	if d.deadline != o.deadline {
		return d.deadline < o.deadline
	}
	return d.seq < o.seq
}

// Reactor is one process's event loop: a poller, the Conns registered
// against it, and the task queues feeding Protocol callbacks.
type Reactor struct {
	opts *Options

	poller   netpoll.Poller
	validity *validity.Registry
	state    *statecb.Registry
	signals  *signalring.Ring
	stats    *metrics.Stats
	role     string

	mu          sync.RWMutex
	connsByFD   map[int]*Conn
	protoGroups map[Protocol]*list.List
	envByConn   map[*Conn]*env.Store
	procEnv     *env.Store
	listeners   []*listener

	timeoutMu   sync.Mutex
	timeoutTree *llrb.LLRB
	timeoutSeq  uint64

	userQueue chan func()
	workerWG  sync.WaitGroup

	once       sync.Once
	running    int32
	inShutdown int32
	lastTickMs int64
	wasIdle    int32

	loopDone chan struct{}
}

func nowMs() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// Start opens the poller, launches the user-queue workers, and begins
// running the single reactor loop in a background goroutine.
func Start(opts ...Option) (*Reactor, error) {
	o := loadOptions(opts...)

	p, err := netpoll.OpenPoller()
	if err != nil {
		return nil, err
	}

	role := "worker"
	if _, isWorker := supervisor.WorkerID(); !isWorker {
		role = "master"
	}

	r := &Reactor{
		opts:        o,
		poller:      p,
		validity:    validity.New(),
		state:       statecb.NewRegistry(),
		signals:     signalring.New(),
		stats:       metrics.New(o.MetricsNamespace),
		role:        role,
		connsByFD:   make(map[int]*Conn),
		protoGroups: make(map[Protocol]*list.List),
		envByConn:   make(map[*Conn]*env.Store),
		timeoutTree: llrb.New(),
		userQueue:   make(chan func(), 4096),
		loopDone:    make(chan struct{}),
	}
	r.procEnv = env.NewStore(r.runUser)
	atomic.StoreInt32(&r.running, 1)

	threads := o.Threads
	if threads <= 0 {
		threads = numWorkerThreads()
	}
	for i := 0; i < threads; i++ {
		r.workerWG.Add(1)
		go r.runUserWorker()
	}

	_ = r.state.Run(statecb.PhasePostStart)

	go func() {
		defer close(r.loopDone)
		if err := r.poller.Polling(r.trick, r.housekeeping); err != nil && err != errors.ErrEngineShutdown {
			logging.Errorf("reactor loop exited with error: %v", err)
		}
	}()

	return r, nil
}

func numWorkerThreads() int {
	cores := runtime.NumCPU()
	if cores > 3 {
		cores--
	}
	if cores < 1 {
		cores = 1
	}
	return cores
}

func (r *Reactor) runUserWorker() {
	defer r.workerWG.Done()
	for fn := range r.userQueue {
		fn()
	}
}

func (r *Reactor) trick() {
	atomic.StoreInt64(&r.lastTickMs, nowMs())
}

// housekeeping runs once per poller wakeup: drains the signal ring,
// fires ON_IDLE on the first idle cycle, and scans for timed-out Conns.
// n is the number of events the poller dispatched this cycle (0 on a
// plain tick timeout).
func (r *Reactor) housekeeping(n int) {
	for _, sig := range r.signals.Review() {
		r.handleSignal(sig)
	}
	fired := r.scanTimeouts()

	if n == 0 && fired == 0 {
		if atomic.CompareAndSwapInt32(&r.wasIdle, 0, 1) {
			_ = r.state.Run(statecb.PhaseOnIdle)
		}
	} else {
		atomic.StoreInt32(&r.wasIdle, 0)
	}

	r.timeoutMu.Lock()
	treeSize := r.timeoutTree.Len()
	r.timeoutMu.Unlock()
	r.stats.TimeoutTreeSize.WithLabelValues(r.role).Set(float64(treeSize))
	r.stats.UserQueueDepth.WithLabelValues(r.role).Set(float64(len(r.userQueue)))
}

func (r *Reactor) handleSignal(sig signalring.Signal) {
	switch sig {
	case signalring.SIGINT, signalring.SIGTERM:
		go func() { _ = r.Stop(context.Background()) }()
	case signalring.SIGUSR1:
		logging.Info("received SIGUSR1: graceful restart requested")
	case signalring.SIGCHLD:
		if r.opts.ReapChildren {
			for supervisor.ReapOnce() {
			}
			_ = r.state.Run(statecb.PhaseOnWorkerRespawn)
		}
	}
}

// isRunning reports whether the reactor loop is still accepting new work.
func (r *Reactor) isRunning() bool {
	return atomic.LoadInt32(&r.running) == 1
}

// Stop gracefully shuts the reactor down: every live Conn's OnShutdown
// is invoked once, Conns that return false are closed once their
// outbound stream drains (bounded by ShutdownTimeout), and the poller is
// closed once every loop has exited.
func (r *Reactor) Stop(ctx context.Context) error {
	var err error
	r.once.Do(func() {
		atomic.StoreInt32(&r.running, 0)

		r.mu.RLock()
		conns := make([]*Conn, 0, len(r.connsByFD))
		for _, c := range r.connsByFD {
			conns = append(conns, c)
		}
		r.mu.RUnlock()

		_ = r.state.Run(statecb.PhaseOnShutdown)

		deadline := time.Now().Add(r.opts.ShutdownTimeout)
		for _, c := range conns {
			keep := c.Protocol().OnShutdown(c)
			if !keep {
				r.requestClose(c)
			}
		}

		for time.Now().Before(deadline) {
			if r.liveConnCount() == 0 {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}

		r.mu.RLock()
		remaining := make([]*Conn, 0, len(r.connsByFD))
		for _, c := range r.connsByFD {
			remaining = append(remaining, c)
		}
		r.mu.RUnlock()
		for _, c := range remaining {
			_ = c.CloseNow()
		}

		if triggerErr := r.poller.UrgentTrigger(func(_, _ interface{}) error {
			return errors.ErrEngineShutdown
		}, nil, nil); triggerErr != nil {
			logging.Errorf("failed to trigger reactor shutdown: %v", triggerErr)
		}

		select {
		case <-r.loopDone:
		case <-ctx.Done():
			err = ctx.Err()
		}

		// Process-wide env entries fire at AT_EXIT; schedule their
		// on_close calls onto the user queue before it closes so they
		// still run on a worker, not synchronously here.
		r.procEnv.TeardownAll()
		close(r.userQueue)
		r.workerWG.Wait()
		r.signals.Stop()
		_ = r.poller.Close()
		_ = r.state.Run(statecb.PhaseOnFinish)
		atomic.StoreInt32(&r.inShutdown, 1)
	})
	return err
}

func (r *Reactor) liveConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connsByFD)
}

func (r *Reactor) requestClose(c *Conn) {
	_ = c.Close()
}

// IsRunning reports whether Stop has not yet been called.
func (r *Reactor) IsRunning() bool {
	return r.isRunning()
}

// IsInShutdown reports whether Stop has completed.
func (r *Reactor) IsInShutdown() bool {
	return atomic.LoadInt32(&r.inShutdown) == 1
}

// LastTick returns the millisecond timestamp of the loop's most recent
// wakeup.
func (r *Reactor) LastTick() int64 {
	return atomic.LoadInt64(&r.lastTickMs)
}

// StateCallbacks exposes the reactor's lifecycle hook registry so
// embedding binaries can register PRE_START/BEFORE_FORK/... hooks.
func (r *Reactor) StateCallbacks() *statecb.Registry {
	return r.state
}

// connEnv returns (allocating if needed) the per-Conn env store.
func (r *Reactor) connEnv(c *Conn) *env.Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.envByConn[c]
	if !ok {
		s = env.NewStore(r.runUser)
		r.envByConn[c] = s
	}
	return s
}

// envFor resolves which store an env op targets: c's own store, or the
// process-wide store when c is nil.
func (r *Reactor) envFor(c *Conn) *env.Store {
	if c == nil {
		return r.procEnv
	}
	return r.connEnv(c)
}

// EnvSet inserts or replaces udata under (typ, name) in c's env, or in
// the process-wide env if c is nil. Replacing an existing entry invokes
// its old onClose once, asynchronously on the user queue.
func (r *Reactor) EnvSet(c *Conn, typ int64, name string, udata interface{}, onClose env.OnClose) {
	r.envFor(c).Set(env.Key{Type: typ, Name: name}, udata, onClose)
}

// EnvUnset removes (typ, name) without invoking its onClose, reporting
// whether an entry existed.
func (r *Reactor) EnvUnset(c *Conn, typ int64, name string) bool {
	return r.envFor(c).Unset(env.Key{Type: typ, Name: name})
}

// EnvRemove removes (typ, name) and invokes its onClose asynchronously,
// reporting whether an entry existed.
func (r *Reactor) EnvRemove(c *Conn, typ int64, name string) bool {
	return r.envFor(c).Remove(env.Key{Type: typ, Name: name})
}

// Defer schedules fn to run once on the reactor's own thread (the
// io-core queue): never blocking, never running concurrently with the
// poller's own dispatch.
func (r *Reactor) Defer(fn func(u1, u2 interface{}) error, u1, u2 interface{}) error {
	return r.poller.Trigger(fn, u1, u2)
}

// DeferIO schedules fn to run on the user queue under c's task lock,
// the way on_timeout callbacks are delivered, raising c's refcount for
// the duration so c cannot be finalized out from under fn.
func (r *Reactor) DeferIO(c *Conn, fn func(c *Conn, udata interface{}), udata interface{}) {
	r.enqueueUser(c, func() { fn(c, udata) })
}

// retainRef raises c's refcount; pair with releaseRef. Every task
// scheduled against c (runTask, enqueueUser, scheduleDrain) raises the
// count before it may run and lowers it on completion, so a Conn whose
// last task is still in flight is never finalized underneath it.
func (r *Reactor) retainRef(c *Conn) {
	atomic.AddInt32(&c.refcount, 1)
}

// releaseRef lowers c's refcount. Once it reaches zero, c is finalized:
// its validity handle is released and OnClose runs. Finalization only
// happens on the release that brings the count to exactly zero while c
// is Closed; closeConnLocked drops the Conn's initial reference.
func (r *Reactor) releaseRef(c *Conn) {
	if atomic.AddInt32(&c.refcount, -1) != 0 {
		return
	}
	if connState(atomic.LoadUint32(&c.state)) != StateClosed {
		return
	}
	r.validity.Release(c.handle)
	c.Protocol().OnClose(c, c.closeErr)
}

// wakeSuspended re-checks a Conn that just left Suspended in case bytes
// arrived (and were buffered) while on_data scheduling was paused.
func (r *Reactor) wakeSuspended(c *Conn) {
	if c.InboundBuffered() == 0 {
		return
	}
	c.Touch()
	r.runTask(c, func() {
		action := c.Protocol().OnData(c)
		r.applyAction(c, action)
	})
}

// runUser pushes fn onto the user queue without any per-Conn task-lock
// discipline; used for env on_close callbacks, which are not tied to any
// single callback invocation.
func (r *Reactor) runUser(fn func()) {
	select {
	case r.userQueue <- fn:
	default:
		logging.Warnf("user queue full, dropping env on_close task")
	}
}

// Listen binds url and accepts connections on it, invoking onOpen for
// each newly accepted fd to obtain the Protocol to attach.
func (r *Reactor) Listen(url string, onOpen OnOpenFunc, udata interface{}, onFinish OnFinishFunc, masterOnly bool) error {
	network, address := parseProtoAddr(url)
	ln, err := initListener(network, address, r.opts)
	if err != nil {
		return err
	}
	ln.onOpen = onOpen
	ln.udata = udata
	ln.onFinish = onFinish
	ln.masterOnly = masterOnly

	ln.pollAttachment = &netpoll.PollAttachment{FD: ln.fd, Callback: r.acceptCallback(ln)}
	if err = r.poller.AddRead(ln.pollAttachment); err != nil {
		ln.close()
		return err
	}

	r.mu.Lock()
	r.listeners = append(r.listeners, ln)
	r.mu.Unlock()
	return nil
}

// AttachFD binds an already-open, non-listening fd to protocol p,
// registering it with the reactor's poller for both read and write
// readiness (an accepted connection is registered for read only).
func AttachFD(r *Reactor, fd int, p Protocol, udata interface{}, tls *TLSHook) (*Conn, error) {
	c := r.newConn(fd, p, udata, tls, "", "")
	if err := r.poller.AddReadWrite(c.pollAttachment()); err != nil {
		return nil, err
	}
	r.registerConn(c)
	return c, nil
}

func (r *Reactor) newConn(fd int, p Protocol, udata interface{}, tls *TLSHook, local, remote string) *Conn {
	out, _ := elastic.New(r.opts.WriteBufferCap)
	c := &Conn{
		r:           r,
		fd:          fd,
		out:         out,
		protocol:    p,
		localAddr:   local,
		remoteAddr:  remote,
		tls:         tls,
		refcount:    1,
	}
	c.udata.Store(udata)
	atomic.StoreUint32(&c.state, uint32(StateOpen))
	atomic.StoreInt64(&c.activeMs, nowMs())
	timeout := p.Timeout()
	if timeout <= 0 {
		timeout = r.opts.DefaultTimeout
	}
	atomic.StoreInt64(&c.timeoutS, int64(timeout/time.Second))
	c.handle = r.validity.Register(c)
	return c
}

func (r *Reactor) registerConn(c *Conn) {
	r.mu.Lock()
	r.connsByFD[c.fd] = c
	grp, ok := r.protoGroups[c.protocol]
	if !ok {
		grp = list.New()
		r.protoGroups[c.protocol] = grp
	}
	c.protoElem = grp.PushBack(c)
	total := len(r.connsByFD)
	r.mu.Unlock()

	r.stats.TotalConnections.WithLabelValues(r.role).Inc()
	r.stats.CurrConnections.WithLabelValues(r.role).Set(float64(total))

	r.scheduleTimeout(c)
}

func (r *Reactor) scheduleTimeout(c *Conn) {
	r.timeoutMu.Lock()
	r.timeoutSeq++
	item := &deadlineItem{
		deadline: atomic.LoadInt64(&c.activeMs) + atomic.LoadInt64(&c.timeoutS)*1000,
		seq:      r.timeoutSeq,
		conn:     c,
	}
	r.timeoutTree.ReplaceOrInsert(item)
	r.timeoutMu.Unlock()
}

// scanTimeouts pops every tree entry whose scheduled deadline has
// elapsed. A popped entry only actually fires on_timeout if the Conn's
// active_ms (refreshed by every read/write/touch since the entry was
// scheduled) confirms the inactivity window truly elapsed; otherwise the
// entry is stale and is simply rescheduled against the Conn's current
// active_ms. Either way the reinserted entry's window is computed from
// now_ms, not from the fired entry's own (already-past) deadline, so a
// silent Conn fires on_timeout at most once per window instead of on
// every housekeeping tick thereafter. It returns how many Conns actually
// fired, for idle-cycle detection.
func (r *Reactor) scanTimeouts() int {
	now := nowMs()
	r.timeoutMu.Lock()
	var fired []*Conn
	for {
		min := r.timeoutTree.Min()
		if min == nil {
			break
		}
		item := min.(*deadlineItem)
		if item.deadline > now {
			break
		}
		r.timeoutTree.DeleteMin()
		conn := item.conn
		if !conn.IsOpened() {
			continue
		}
		if _, ok := r.validity.Lookup(conn.handle); !ok {
			continue
		}

		timeoutMs := atomic.LoadInt64(&conn.timeoutS) * 1000
		actualDeadline := atomic.LoadInt64(&conn.activeMs) + timeoutMs
		var nextDeadline int64
		if actualDeadline > now {
			// Touched since this entry was scheduled: not actually due.
			nextDeadline = actualDeadline
		} else {
			nextDeadline = now + timeoutMs
			fired = append(fired, conn)
		}
		r.timeoutSeq++
		r.timeoutTree.ReplaceOrInsert(&deadlineItem{
			deadline: nextDeadline,
			seq:      r.timeoutSeq,
			conn:     conn,
		})
	}
	r.timeoutMu.Unlock()

	for _, c := range fired {
		conn := c
		r.stats.TimeoutsFired.WithLabelValues(r.role).Inc()
		r.enqueueUser(conn, func() {
			action := conn.Protocol().OnTimeout(conn)
			r.applyAction(conn, action)
		})
	}
	return len(fired)
}
