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

// Package echo is the reactor's minimal reference protocol: it writes
// back whatever bytes it reads. It exists to exercise every Protocol
// callback with the smallest possible logic, the way a gnet or evio demo
// binary exercises EventHandler.
package echo

import (
	"time"

	"fioreactor/pkg/logging"
	"fioreactor/reactor"
)

// Timeout is how long an idle echo connection is kept open before
// OnTimeout closes it.
var Timeout = 60 * time.Second

// Protocol echoes every buffered read back to its sender.
type Protocol struct{}

// Shared is the stateless singleton every echo connection attaches.
var Shared = &Protocol{}

// OnOpen is a reactor.OnOpenFunc that attaches Shared to every accepted
// connection.
func OnOpen(r *reactor.Reactor, fd int, udata interface{}) (reactor.Protocol, error) {
	return Shared, nil
}

// OnData reads everything buffered and writes it straight back out.
func (p *Protocol) OnData(c *reactor.Conn) reactor.Action {
	n := c.InboundBuffered()
	if n == 0 {
		return reactor.None
	}
	buf, err := c.Next(n)
	if err != nil {
		return reactor.CloseConn
	}
	if _, err = c.Write(buf); err != nil {
		return reactor.CloseConn
	}
	return reactor.None
}

// OnReady is a no-op: echo has nothing queued beyond what OnData wrote.
func (p *Protocol) OnReady(c *reactor.Conn) reactor.Action {
	return reactor.None
}

// OnClose logs the closing reason.
func (p *Protocol) OnClose(c *reactor.Conn, err error) {
	if err != nil {
		logging.Debugf("echo conn %s closed: %v", c.RemoteAddr(), err)
	}
}

// OnShutdown lets every echo connection close during a graceful
// shutdown rather than outlive it.
func (p *Protocol) OnShutdown(c *reactor.Conn) bool {
	return false
}

// OnTimeout closes a connection that has sat idle past Timeout.
func (p *Protocol) OnTimeout(c *reactor.Conn) reactor.Action {
	return reactor.CloseConn
}

// Timeout reports the idle window before OnTimeout fires.
func (p *Protocol) Timeout() time.Duration {
	return Timeout
}
