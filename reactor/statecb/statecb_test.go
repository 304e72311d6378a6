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

package statecb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Registry_RunsInPriorityOrder(t *testing.T) {
	r := NewRegistry()
	var order []int

	r.On(PhasePostStart, 5, func(interface{}) error {
		order = append(order, 5)
		return nil
	}, nil)
	r.On(PhasePostStart, 1, func(interface{}) error {
		order = append(order, 1)
		return nil
	}, nil)
	r.On(PhasePostStart, 3, func(interface{}) error {
		order = append(order, 3)
		return nil
	}, nil)

	err := r.Run(PhasePostStart)
	assert.Nil(t, err)
	assert.Equal(t, []int{1, 3, 5}, order)
}

func Test_Registry_StopsAtFirstError(t *testing.T) {
	r := NewRegistry()
	ran := false

	r.On(PhaseOnShutdown, 0, func(interface{}) error {
		return errors.New("boom")
	}, nil)
	r.On(PhaseOnShutdown, 1, func(interface{}) error {
		ran = true
		return nil
	}, nil)

	err := r.Run(PhaseOnShutdown)
	assert.EqualError(t, err, "boom")
	assert.False(t, ran)
}

func Test_Registry_DedupesIdenticalRegistration(t *testing.T) {
	r := NewRegistry()
	fn := func(interface{}) error { return nil }

	r.On(PhaseOnIdle, 0, fn, "udata")
	r.On(PhaseOnIdle, 0, fn, "udata")
	assert.Equal(t, 1, r.Count(PhaseOnIdle))
}

func Test_Registry_SameFnDifferentUdataBothRegister(t *testing.T) {
	r := NewRegistry()
	fn := func(interface{}) error { return nil }

	r.On(PhaseOnWorkerStart, 0, fn, "a")
	r.On(PhaseOnWorkerStart, 0, fn, "b")
	assert.Equal(t, 2, r.Count(PhaseOnWorkerStart))
}

func Test_Registry_PhasesAreIndependent(t *testing.T) {
	r := NewRegistry()
	r.On(PhasePreStart, 0, func(interface{}) error { return nil }, nil)
	assert.Equal(t, 1, r.Count(PhasePreStart))
	assert.Equal(t, 0, r.Count(PhaseOnFinish))
}

func Test_Phase_String(t *testing.T) {
	assert.Equal(t, "pre_start", PhasePreStart.String())
	assert.Equal(t, "on_worker_respawn", PhaseOnWorkerRespawn.String())
}
