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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"fioreactor/admin"
	"fioreactor/config"
	"fioreactor/pkg/logging"
	"fioreactor/protocol/echo"
	"fioreactor/reactor"
	"fioreactor/supervisor"
)

var (
	configPath      = flag.String("p", "conf", "Config file path")
	basicConfigFile = flag.String("c", "fioreactor.yaml", "Basic config filename")
	version         = flag.Bool("v", false, "Show version")
	help            = flag.Bool("h", false, "Show usage info")
)

var (
	CommitSHA string
	Tag       string
	BuildTime string
)

func init() {
	if len(Tag) < 1 {
		Tag = "unknown"
	}
	if len(CommitSHA) < 1 {
		CommitSHA = "unknown"
	}
	if len(BuildTime) < 1 {
		BuildTime = "unknown"
	}
}

const banner string = `
___________________________________________  ___  __
___  __ \_  ____/__  __ \__  __ \_  __ \_  |/ / \/ /
__  /_/ /  /    __  /_/ /_  /_/ /  / / /_    /__  /
_  _, _// /___  _  ____/_  _, _// /_/ /_    | _  /
/_/ |_| \____/  /_/     /_/ |_| \____/ /_/|_| /_/

`

func parseCli() {
	flag.Parse()
	if *version {
		fmt.Printf("version: %s\ncommit: %s\ntime: %s\n", Tag, CommitSHA, BuildTime)
		os.Exit(0)
	}
	if *help {
		flag.Usage()
		os.Exit(0)
	}
}

func main() {
	parseCli()

	cfg, err := config.LoadConfig(path.Join(*configPath, *basicConfigFile))
	if err != nil {
		fmt.Printf("parse config file err: %v\n", err)
		os.Exit(1)
	}

	if err = logging.InitializeLogger(
		logging.WithPath(cfg.LogPath),
		logging.WithExpireDay(cfg.LogExpireDay),
		logging.WithLogLevel(cfg.LogLevel),
	); err != nil {
		fmt.Printf("failed to initialize logger, err: %s\n", err)
		os.Exit(1)
	}

	if id, isWorker := supervisor.WorkerID(); !isWorker {
		runMaster(cfg)
	} else {
		runWorker(cfg, id)
	}
}

func runMaster(cfg *config.Config) {
	fmt.Print(banner)
	fmt.Printf("fioreactor version: %s\n", Tag)
	logging.Infof("fioreactor master started, pid: %d, version: %s", os.Getpid(), Tag)

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	m := supervisor.NewMaster(workers)
	m.OnAfterForkInMaster(func(workerID, pid int) {
		logging.Infof("spawned worker %d, pid %d", workerID, pid)
	})
	m.OnWorkerDone(func(workerID int, err error) {
		logging.Warnf("worker %d exited: %v", workerID, err)
	})
	m.OnRespawn(func(workerID int) {
		logging.Warnf("respawning worker %d", workerID)
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logging.Info("master received shutdown signal, stopping workers")
		m.Stop(syscall.SIGTERM)
	}()

	if err := m.Run(); err != nil {
		logging.Errorf("supervisor exited with error: %v", err)
	}
	logging.Infof("fioreactor master shutdown, pid: %d", os.Getpid())
}

func runWorker(cfg *config.Config, workerID int) {
	logging.Infof("fioreactor worker %d started, pid: %d", workerID, os.Getpid())

	r, err := reactor.Start(
		reactor.WithThreads(cfg.Threads),
		reactor.WithDefaultTimeout(cfg.DefaultTimeout()),
		reactor.WithShutdownTimeout(cfg.ShutdownTimeout()),
		reactor.WithThrottleLimit(cfg.ThrottleLimitBytes),
		reactor.WithReapChildren(cfg.ReapChildren),
		reactor.WithMetricsNamespace(cfg.MetricsNamespace),
	)
	if err != nil {
		logging.Errorf("failed to start reactor: %v", err)
		os.Exit(1)
	}

	if err = r.Listen(cfg.ListenAddr, echo.OnOpen, nil, nil, false); err != nil {
		logging.Errorf("failed to listen on %s: %v", cfg.ListenAddr, err)
		os.Exit(1)
	}

	var adminSrv *admin.Server
	if cfg.AdminPort > 0 {
		adminSrv = admin.Start(cfg.AdminPort, r)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logging.Infof("worker %d shutting down", workerID)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout()+time.Second)
	defer cancel()
	if err = r.Stop(ctx); err != nil {
		logging.Errorf("reactor shutdown error: %v", err)
	}
	if adminSrv != nil {
		_ = adminSrv.Stop(2 * time.Second)
	}
	logging.Infof("fioreactor worker %d shutdown, pid: %d", workerID, os.Getpid())
}
