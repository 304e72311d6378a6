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

//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

package reactor

import (
	"os"
	"time"

	"golang.org/x/sys/unix"

	"fioreactor/internal/netpoll"
	"fioreactor/internal/socket"
	"fioreactor/pkg/logging"
)

// acceptCallback returns the poll callback bound to ln's listening fd: it
// accepts as many pending connections as are ready, hands each new fd to
// ln.onOpen to obtain the Protocol to attach, and then constructs the Conn.
func (r *Reactor) acceptCallback(ln *listener) func(fd int, ev netpoll.IOEvent) error {
	return func(_ int, _ netpoll.IOEvent) error {
		for {
			nfd, sa, err := unix.Accept(ln.fd)
			if err != nil {
				if err == unix.EAGAIN {
					return nil
				}
				logging.Errorf("accept() on %s failed: %v", ln.address, err)
				return os.NewSyscallError("accept", err)
			}
			if err = os.NewSyscallError("fcntl nonblock", unix.SetNonblock(nfd, true)); err != nil {
				logging.Error(err)
				_ = unix.Close(nfd)
				continue
			}

			remoteAddr := socket.SockaddrToTCPOrUnixAddr(sa)
			if r.opts.TCPKeepAlive > 0 && ln.network == "tcp" {
				if err = socket.SetKeepAlivePeriod(nfd, int(r.opts.TCPKeepAlive/time.Second)); err != nil {
					logging.Error(err)
				}
			}

			if ln.onOpen == nil {
				_ = unix.Close(nfd)
				continue
			}
			p, err := ln.onOpen(r, nfd, ln.udata)
			if err != nil {
				logging.Errorf("onOpen rejected fd %d: %v", nfd, err)
				_ = unix.Close(nfd)
				continue
			}

			localAddr := ""
			if ln.addr != nil {
				localAddr = ln.addr.String()
			}
			remote := ""
			if remoteAddr != nil {
				remote = remoteAddr.String()
			}
			c := r.newConn(nfd, p, ln.udata, nil, localAddr, remote)
			if err = r.poller.AddRead(c.pollAttachment()); err != nil {
				logging.Errorf("failed to register accepted fd %d: %v", nfd, err)
				continue
			}
			r.registerConn(c)
		}
	}
}
