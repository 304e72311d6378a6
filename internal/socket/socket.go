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

// Package socket wraps the raw socket(2)/setsockopt(2) calls the listener
// and acceptor need: building a non-blocking listening fd from a URL's
// host:port, and tuning buffer/keepalive/linger options on accepted and
// dialed connections.
package socket

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// SetSockOpt applies a single setsockopt-style option to fd.
type SetSockOpt func(fd int, opt int) error

// Option pairs a setter with its value so a slice of Option can be applied
// uniformly while building a listener.
type Option struct {
	SetSockOpt SetSockOpt
	Opt        int
}

// SetReuseAddr sets SO_REUSEADDR (and SO_REUSEPORT where available) so a
// respawned worker can rebind the same port immediately.
func SetReuseAddr(fd int, _ int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	return os.NewSyscallError("setsockopt", setReusePort(fd))
}

// SetNoDelay toggles TCP_NODELAY, disabling Nagle's algorithm for TCP
// connections.
func SetNoDelay(fd int, opt int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, opt))
}

// SetRecvBuffer sets SO_RCVBUF.
func SetRecvBuffer(fd int, bytes int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, bytes))
}

// SetSendBuffer sets SO_SNDBUF.
func SetSendBuffer(fd int, bytes int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, bytes))
}

// SetLinger sets SO_LINGER; sec < 0 leaves the OS default (finish sending in
// the background), sec == 0 discards unsent data on close.
func SetLinger(fd int, sec int) error {
	if sec < 0 {
		return nil
	}
	return os.NewSyscallError("setsockopt", unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{
		Onoff:  1,
		Linger: int32(sec),
	}))
}

// SetKeepAlivePeriod enables SO_KEEPALIVE and tunes the per-platform probe
// interval sockopt (best effort — unsupported platforms just enable it).
func SetKeepAlivePeriod(fd int, secs int) error {
	if secs <= 0 {
		return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 0))
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	return os.NewSyscallError("setsockopt", setKeepAliveInterval(fd, secs))
}

// SockaddrToTCPOrUnixAddr converts a raw unix.Sockaddr (as returned from
// accept(2)) into a net.Addr without allocating through the standard
// library's net package internals.
func SockaddrToTCPOrUnixAddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append([]byte(nil), sa.Addr[:]...), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append([]byte(nil), sa.Addr[:]...), Port: sa.Port, Zone: zoneName(sa.ZoneId)}
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Name: sa.Name, Net: "unix"}
	default:
		return nil
	}
}

func zoneName(id uint32) string {
	if id == 0 {
		return ""
	}
	if iface, err := net.InterfaceByIndex(int(id)); err == nil {
		return iface.Name
	}
	return ""
}
