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

package reactor

import "time"

// Option is a function that sets up an Options field.
type Option func(opts *Options)

func loadOptions(options ...Option) *Options {
	opts := &Options{
		ReadBufferCap:    64 * 1024,
		WriteBufferCap:   64 * 1024,
		ThrottleLimit:    1024 * 1024,
		DefaultTimeout:   600 * time.Second,
		ShutdownTimeout:  5 * time.Second,
		Threads:          0,
		Workers:          0,
		MetricsNamespace: "fioreactor",
	}
	for _, option := range options {
		option(opts)
	}
	if opts.DefaultTimeout <= 0 || opts.DefaultTimeout > 600*time.Second {
		opts.DefaultTimeout = 600 * time.Second
	}
	return opts
}

// Options configures a Reactor.
type Options struct {
	// ReadBufferCap is the size of the buffer passed to each read() call;
	// a readable event keeps reading until the socket has no more data.
	ReadBufferCap int

	// WriteBufferCap is the soft capacity the outbound stream is created
	// with and reports from Cap. It does not limit writes or drive
	// throttling; ThrottleLimit does that.
	WriteBufferCap int

	// ThrottleLimit is the outbound queue size (bytes) at or above which
	// on_data delivery is paused for that Conn ("throttling").
	ThrottleLimit int

	// DefaultTimeout is used for a Conn whose protocol reports a zero
	// Timeout(), capped at 600s.
	DefaultTimeout time.Duration

	// ShutdownTimeout bounds how long the shutdown cycle waits for
	// Conns to drain before forcing them Closed.
	ShutdownTimeout time.Duration

	// TCPKeepAlive sets up the SO_KEEPALIVE socket option with a period;
	// zero disables keep-alive probes.
	TCPKeepAlive time.Duration

	// SocketRecvBuffer sets the socket receive buffer in bytes.
	SocketRecvBuffer int

	// SocketSendBuffer sets the socket send buffer in bytes.
	SocketSendBuffer int

	// Threads is the number of user-queue worker goroutines per worker
	// process. 0 means auto-detect: the core count, minus one when there
	// are more than three cores.
	Threads int

	// Workers is stored but not read by the reactor or the supervisor;
	// the worker count is the n given to supervisor.NewMaster. No
	// auto-detect or CPU-fraction handling is applied to it.
	Workers int

	// ReapChildren makes the reactor reap exited child processes when
	// SIGCHLD arrives and then run the PhaseOnWorkerRespawn hooks. It
	// restarts nothing itself; respawning is done by supervisor.Master.
	ReapChildren bool

	// MetricsNamespace prefixes every Prometheus collector this reactor
	// registers.
	MetricsNamespace string
}

// WithMetricsNamespace sets the Prometheus collector namespace prefix.
func WithMetricsNamespace(ns string) Option {
	return func(opts *Options) { opts.MetricsNamespace = ns }
}

// WithReadBufferCap sets the per-read buffer size.
func WithReadBufferCap(n int) Option {
	return func(opts *Options) { opts.ReadBufferCap = n }
}

// WithWriteBufferCap sets the outbound stream's soft capacity.
func WithWriteBufferCap(n int) Option {
	return func(opts *Options) { opts.WriteBufferCap = n }
}

// WithThrottleLimit sets the outbound queue size at or above which
// on_data delivery is paused.
func WithThrottleLimit(n int) Option {
	return func(opts *Options) { opts.ThrottleLimit = n }
}

// WithDefaultTimeout sets the inactivity timeout used when a protocol's
// Timeout() returns zero.
func WithDefaultTimeout(d time.Duration) Option {
	return func(opts *Options) { opts.DefaultTimeout = d }
}

// WithShutdownTimeout bounds the graceful-shutdown drain window.
func WithShutdownTimeout(d time.Duration) Option {
	return func(opts *Options) { opts.ShutdownTimeout = d }
}

// WithTCPKeepAlive sets up the SO_KEEPALIVE socket option with duration.
func WithTCPKeepAlive(d time.Duration) Option {
	return func(opts *Options) { opts.TCPKeepAlive = d }
}

// WithSocketRecvBuffer sets the socket receive buffer in bytes.
func WithSocketRecvBuffer(n int) Option {
	return func(opts *Options) { opts.SocketRecvBuffer = n }
}

// WithSocketSendBuffer sets the socket send buffer in bytes.
func WithSocketSendBuffer(n int) Option {
	return func(opts *Options) { opts.SocketSendBuffer = n }
}

// WithThreads sets the number of user-queue worker goroutines per
// worker process.
func WithThreads(n int) Option {
	return func(opts *Options) { opts.Threads = n }
}

// WithWorkers sets Options.Workers, which nothing reads.
func WithWorkers(n int) Option {
	return func(opts *Options) { opts.Workers = n }
}

// WithReapChildren enables child reaping and the PhaseOnWorkerRespawn
// hooks on SIGCHLD.
func WithReapChildren(reap bool) Option {
	return func(opts *Options) { opts.ReapChildren = reap }
}
