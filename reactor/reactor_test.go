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

package reactor_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fioreactor/reactor"
)

// echoProtocol writes back whatever it reads, the smallest Protocol that
// still exercises the full read/write path through the reactor loop.
type echoProtocol struct{}

func (echoProtocol) OnData(c *reactor.Conn) reactor.Action {
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

func (echoProtocol) OnReady(c *reactor.Conn) reactor.Action   { return reactor.None }
func (echoProtocol) OnClose(c *reactor.Conn, err error)       {}
func (echoProtocol) OnShutdown(c *reactor.Conn) bool          { return false }
func (echoProtocol) OnTimeout(c *reactor.Conn) reactor.Action { return reactor.CloseConn }
func (echoProtocol) Timeout() time.Duration                   { return time.Minute }

var sharedEcho = echoProtocol{}

func onOpenEcho(r *reactor.Reactor, fd int, udata interface{}) (reactor.Protocol, error) {
	return sharedEcho, nil
}

func Test_Reactor_EchoesOverTCP(t *testing.T) {
	r, err := reactor.Start(reactor.WithMetricsNamespace("fioreactor_test_echo"))
	require.Nil(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Stop(ctx)
	}()

	addr := "tcp://127.0.0.1:19736"
	require.Nil(t, r.Listen(addr, onOpenEcho, nil, nil, false))

	var conn net.Conn
	require.Eventually(t, func() bool {
		conn, err = net.DialTimeout("tcp", "127.0.0.1:19736", 50*time.Millisecond)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer conn.Close()

	_, err = conn.Write([]byte("hello reactor"))
	require.Nil(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	out := make([]byte, len("hello reactor"))
	_, err = readFull(conn, out)
	require.Nil(t, err)
	assert.Equal(t, "hello reactor", string(out))
}

func Test_Reactor_StopIsIdempotent(t *testing.T) {
	r, err := reactor.Start(reactor.WithMetricsNamespace("fioreactor_test_stop"))
	require.Nil(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Nil(t, r.Stop(ctx))
	assert.Nil(t, r.Stop(ctx))
	assert.True(t, r.IsInShutdown())
	assert.False(t, r.IsRunning())
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
