// Copyright (c) 2022 The rcproxy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License"): you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations
// under the License.

// Command echo runs a single-process reactor with the echo protocol
// attached to one TCP listener. It takes no config file and no
// supervisor: it is the smallest binary that exercises Start/Listen/Stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fioreactor/pkg/logging"
	"fioreactor/protocol/echo"
	"fioreactor/reactor"
)

func main() {
	addr := flag.String("addr", "tcp://:9000", "listen address")
	flag.Parse()

	if err := logging.InitializeLogger(logging.WithPath("log"), logging.WithLogLevel("info")); err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	r, err := reactor.Start()
	if err != nil {
		logging.Errorf("failed to start reactor: %v", err)
		os.Exit(1)
	}

	if err = r.Listen(*addr, echo.OnOpen, nil, nil, false); err != nil {
		logging.Errorf("failed to listen on %s: %v", *addr, err)
		os.Exit(1)
	}
	logging.Infof("echo reactor listening on %s", *addr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = r.Stop(ctx); err != nil {
		logging.Errorf("reactor shutdown error: %v", err)
	}
}
