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
	"net"
	"os"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"fioreactor/internal/netpoll"
	"fioreactor/internal/socket"
	"fioreactor/pkg/errors"
	"fioreactor/pkg/logging"
)

type listener struct {
	once             sync.Once
	fd               int
	addr             net.Addr
	address, network string
	sockOpts         []socket.Option
	pollAttachment   *netpoll.PollAttachment

	onOpen     OnOpenFunc
	onFinish   OnFinishFunc
	udata      interface{}
	masterOnly bool
}

func (ln *listener) normalize() (err error) {
	switch ln.network {
	case "tcp", "tcp4", "tcp6":
		ln.fd, ln.addr, err = socket.TCPSocket(ln.network, ln.address, true, ln.sockOpts...)
		ln.network = "tcp"
	case "unix":
		ln.fd, ln.addr, err = socket.UnixSocket(ln.address, ln.sockOpts...)
	default:
		err = errors.ErrUnsupportedProtocol
	}
	return
}

func (ln *listener) close() {
	ln.once.Do(func() {
		if ln.fd > 0 {
			if err := unix.Close(ln.fd); err != nil {
				logging.Error(os.NewSyscallError("close", err))
			}
		}
	})
}

func initListener(network, address string, opts *Options) (l *listener, err error) {
	var sockOpts []socket.Option
	sockOpts = append(sockOpts, socket.Option{SetSockOpt: socket.SetReuseAddr, Opt: 1})
	if network != "unix" {
		sockOpts = append(sockOpts, socket.Option{SetSockOpt: socket.SetNoDelay, Opt: 1})
	}
	if opts.SocketRecvBuffer > 0 {
		sockOpts = append(sockOpts, socket.Option{SetSockOpt: socket.SetRecvBuffer, Opt: opts.SocketRecvBuffer})
	}
	if opts.SocketSendBuffer > 0 {
		sockOpts = append(sockOpts, socket.Option{SetSockOpt: socket.SetSendBuffer, Opt: opts.SocketSendBuffer})
	}
	l = &listener{network: network, address: address, sockOpts: sockOpts}
	err = l.normalize()
	return
}

// parseProtoAddr splits a `scheme://host:port` URL into network and
// address, defaulting to tcp when no scheme is present.
func parseProtoAddr(addr string) (network, address string) {
	network = "tcp"
	address = strings.ToLower(addr)
	if strings.Contains(address, "://") {
		pair := strings.SplitN(address, "://", 2)
		network = pair[0]
		address = pair[1]
	}
	return
}
