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

// Package admin is the reactor's HTTP admin surface: health, pprof
// profiles, and the Prometheus scrape endpoint, all on one port separate
// from any protocol listener the reactor itself owns.
package admin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fioreactor/pkg/logging"
	"fioreactor/reactor"
)

// Server is the admin HTTP listener.
type Server struct {
	httpSrv *http.Server
}

// Start launches the admin server on port in a background goroutine. r
// is consulted for /healthz and /debug/reactor.
func Start(port int, r *reactor.Reactor) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		if r.IsRunning() {
			c.String(http.StatusOK, "ok")
			return
		}
		c.String(http.StatusServiceUnavailable, "shutting down")
	})
	engine.GET("/debug/reactor", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"running":     r.IsRunning(),
			"in_shutdown": r.IsInShutdown(),
			"last_tick":   r.LastTick(),
		})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(engine)

	s := &Server{httpSrv: &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: engine}}
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorf("admin server exited: %v", err)
		}
	}()
	return s
}

// Stop shuts the admin server down within timeout.
func (s *Server) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}
