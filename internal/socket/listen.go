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

package socket

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// ListenBacklog is the backlog passed to listen(2); the OS caps it at
// /proc/sys/net/core/somaxconn on Linux.
const ListenBacklog = 1024

// TCPSocket builds a non-blocking, close-on-exec listening socket bound to
// address (host:port) for the given network ("tcp", "tcp4", "tcp6").
func TCPSocket(network, address string, passive bool, opts ...Option) (fd int, addr net.Addr, err error) {
	var tcpAddr *net.TCPAddr
	if tcpAddr, err = net.ResolveTCPAddr(network, address); err != nil {
		return
	}

	domain := unix.AF_INET
	sa, zoneID := tcpAddrToSockaddr(tcpAddr)
	if tcpAddr.IP != nil && tcpAddr.IP.To4() == nil {
		domain = unix.AF_INET6
	}
	_ = zoneID

	if fd, err = unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP); err != nil {
		err = os.NewSyscallError("socket", err)
		return
	}
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
		}
	}()

	for _, opt := range opts {
		if err = opt.SetSockOpt(fd, opt.Opt); err != nil {
			return
		}
	}

	if err = os.NewSyscallError("fcntl nonblock", unix.SetNonblock(fd, true)); err != nil {
		return
	}

	if !passive {
		err = os.NewSyscallError("connect", unix.Connect(fd, sa))
		addr = tcpAddr
		return
	}

	if err = os.NewSyscallError("bind", unix.Bind(fd, sa)); err != nil {
		return
	}
	if err = os.NewSyscallError("listen", unix.Listen(fd, ListenBacklog)); err != nil {
		return
	}
	addr = tcpAddr
	return
}

// UnixSocket builds a non-blocking Unix-domain listening socket at path.
func UnixSocket(path string, opts ...Option) (fd int, addr net.Addr, err error) {
	_ = os.Remove(path)

	if fd, err = unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0); err != nil {
		err = os.NewSyscallError("socket", err)
		return
	}
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
		}
	}()

	for _, opt := range opts {
		if err = opt.SetSockOpt(fd, opt.Opt); err != nil {
			return
		}
	}

	if err = os.NewSyscallError("fcntl nonblock", unix.SetNonblock(fd, true)); err != nil {
		return
	}
	if err = os.NewSyscallError("bind", unix.Bind(fd, &unix.SockaddrUnix{Name: path})); err != nil {
		return
	}
	if err = os.NewSyscallError("listen", unix.Listen(fd, ListenBacklog)); err != nil {
		return
	}
	addr = &net.UnixAddr{Name: path, Net: "unix"}
	return
}

func tcpAddrToSockaddr(a *net.TCPAddr) (unix.Sockaddr, uint32) {
	if ip4 := a.IP.To4(); ip4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = a.Port
		copy(sa.Addr[:], ip4)
		return &sa, 0
	}
	var sa unix.SockaddrInet6
	sa.Port = a.Port
	copy(sa.Addr[:], a.IP.To16())
	var zoneID uint32
	if a.Zone != "" {
		if iface, err := net.InterfaceByName(a.Zone); err == nil {
			zoneID = uint32(iface.Index)
		}
	}
	sa.ZoneId = zoneID
	return &sa, zoneID
}
