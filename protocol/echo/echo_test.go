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

package echo_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fioreactor/protocol/echo"
	"fioreactor/reactor"
)

func Test_Echo_RoundTripsMultipleWrites(t *testing.T) {
	r, err := reactor.Start(reactor.WithMetricsNamespace("fioreactor_test_protocol_echo"))
	require.Nil(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Stop(ctx)
	}()

	require.Nil(t, r.Listen("tcp://127.0.0.1:19737", echo.OnOpen, nil, nil, false))

	var conn net.Conn
	require.Eventually(t, func() bool {
		conn, err = net.DialTimeout("tcp", "127.0.0.1:19737", 50*time.Millisecond)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

	for _, msg := range []string{"first", "second", "third"} {
		_, err = conn.Write([]byte(msg))
		require.Nil(t, err)

		out := make([]byte, len(msg))
		total := 0
		for total < len(out) {
			n, rerr := conn.Read(out[total:])
			total += n
			require.Nil(t, rerr)
		}
		assert.Equal(t, msg, string(out))
	}
}

func Test_Echo_TimeoutDefaultsToSixtySeconds(t *testing.T) {
	p := &echo.Protocol{}
	assert.Equal(t, 60*time.Second, p.Timeout())
}
