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

// Package metrics exposes the reactor's internal counters as Prometheus
// collectors: live connections, queue depth, timeouts fired, and
// worker respawns, broken out per process role (master/worker).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Stats is the set of collectors one reactor process registers.
type Stats struct {
	CurrConnections  *prometheus.GaugeVec
	TotalConnections *prometheus.CounterVec
	ConnCloseTotal   *prometheus.CounterVec

	IOCoreQueueDepth *prometheus.GaugeVec
	UserQueueDepth   *prometheus.GaugeVec

	TimeoutsFired   *prometheus.CounterVec
	TimeoutTreeSize *prometheus.GaugeVec

	WorkerRespawns prometheus.Counter
	TaskLockBusy   prometheus.Counter
}

// New builds and registers a Stats under namespace. Call once per
// process; registering twice against the default registry panics, matching
// prometheus.MustRegister's own behavior.
func New(namespace string) *Stats {
	s := &Stats{
		CurrConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "curr_connections",
			Help:      "connections currently attached to the reactor",
		}, []string{"role"}),
		TotalConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "total_connections",
			Help:      "connections accepted or attached since start",
		}, []string{"role"}),
		ConnCloseTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conn_close_total",
			Help:      "connections closed, by triggering reason",
		}, []string{"reason"}),
		IOCoreQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "io_core_queue_depth",
			Help:      "pending tasks on the reactor-thread-only queue",
		}, []string{"role"}),
		UserQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "user_queue_depth",
			Help:      "pending tasks on the blocking-allowed user queue",
		}, []string{"role"}),
		TimeoutsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timeouts_fired_total",
			Help:      "OnTimeout invocations fired by housekeeping",
		}, []string{"role"}),
		TimeoutTreeSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "timeout_tree_size",
			Help:      "entries currently held in the deadline-ordered tree",
		}, []string{"role"}),
		WorkerRespawns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_respawns_total",
			Help:      "crashed workers the supervisor has respawned",
		}),
		TaskLockBusy: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_lock_busy_total",
			Help:      "task-lock acquisitions that found the lock held and rescheduled",
		}),
	}
	prometheus.MustRegister(
		s.CurrConnections, s.TotalConnections, s.ConnCloseTotal,
		s.IOCoreQueueDepth, s.UserQueueDepth,
		s.TimeoutsFired, s.TimeoutTreeSize,
		s.WorkerRespawns, s.TaskLockBusy,
	)
	return s
}
