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

package errors

import "errors"

var (
	// ErrEngineShutdown occurs when the reactor is going to be shut down.
	ErrEngineShutdown = errors.New("reactor is going to be shut down")
	// ErrEngineInShutdown occurs when attempting to shut the reactor down more than once.
	ErrEngineInShutdown = errors.New("reactor is already in shutdown")
	// ErrAcceptSocket occurs when the acceptor does not accept the new connection properly.
	ErrAcceptSocket = errors.New("accept a new connection error")
	// ErrUnsupportedProtocol occurs when trying to listen on a scheme that is not supported.
	ErrUnsupportedProtocol = errors.New("only tcp/tcp4/tcp6/unix are supported")
	// ErrUnsupportedOp occurs when calling a method that has not been implemented yet.
	ErrUnsupportedOp = errors.New("unsupported operation")
	// ErrNegativeSize occurs when trying to pass a negative size to a buffer.
	ErrNegativeSize = errors.New("negative size is invalid")

	// ErrConnClosed occurs when an operation targets a Conn that is already Closed.
	ErrConnClosed = errors.New("connection is closed")
	// ErrConnClosing occurs when attach/write is attempted on a Conn mid-close.
	ErrConnClosing = errors.New("connection is closing")
	// ErrInvalidHandle occurs when a validity.Handle's generation no longer matches the slab.
	ErrInvalidHandle = errors.New("connection handle is stale")
	// ErrPollerInit occurs when the poller backend fails to initialize (epoll_create/kqueue).
	ErrPollerInit = errors.New("failed to initialize poller backend")
	// ErrTaskLockBusy occurs when a non-blocking task-lock acquisition fails; callers reschedule.
	ErrTaskLockBusy = errors.New("task lock is held by another callback")
	// ErrNoWorkers occurs when a supervisor is started with zero configured workers in
	// multi-process mode.
	ErrNoWorkers = errors.New("no worker processes configured")
	// ErrAlreadyRunning occurs when Start is called on a reactor that is already running.
	ErrAlreadyRunning = errors.New("reactor is already running")
)
