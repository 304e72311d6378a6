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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func Test_Stats_CountersIncrement(t *testing.T) {
	s := New("fioreactor_metrics_test")

	s.TotalConnections.WithLabelValues("worker").Inc()
	s.TotalConnections.WithLabelValues("worker").Inc()
	assert.Equal(t, float64(2), testutil.ToFloat64(s.TotalConnections.WithLabelValues("worker")))

	s.CurrConnections.WithLabelValues("worker").Set(5)
	assert.Equal(t, float64(5), testutil.ToFloat64(s.CurrConnections.WithLabelValues("worker")))

	s.WorkerRespawns.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(s.WorkerRespawns))
}

func Test_Stats_ConnCloseReasonsAreIndependent(t *testing.T) {
	s := New("fioreactor_metrics_test_close")

	s.ConnCloseTotal.WithLabelValues("clean").Inc()
	s.ConnCloseTotal.WithLabelValues("error").Inc()
	s.ConnCloseTotal.WithLabelValues("error").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(s.ConnCloseTotal.WithLabelValues("clean")))
	assert.Equal(t, float64(2), testutil.ToFloat64(s.ConnCloseTotal.WithLabelValues("error")))
}
