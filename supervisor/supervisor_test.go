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

package supervisor

import (
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

// spawn/Run re-exec os.Args[0] verbatim, which under `go test` is the test
// binary itself; exercising them here would recursively re-run this whole
// package's test suite. These tests stick to the parts that don't fork.

func Test_WorkerID_AbsentByDefault(t *testing.T) {
	os.Unsetenv(WorkerIDEnv)
	id, isWorker := WorkerID()
	assert.False(t, isWorker)
	assert.Equal(t, -1, id)
}

func Test_WorkerID_ReadsEnv(t *testing.T) {
	os.Setenv(WorkerIDEnv, "3")
	defer os.Unsetenv(WorkerIDEnv)

	id, isWorker := WorkerID()
	assert.True(t, isWorker)
	assert.Equal(t, 3, id)
}

func Test_WorkerID_RejectsGarbage(t *testing.T) {
	os.Setenv(WorkerIDEnv, "not-a-number")
	defer os.Unsetenv(WorkerIDEnv)

	_, isWorker := WorkerID()
	assert.False(t, isWorker)
}

func Test_NewMaster_FloorsToOne(t *testing.T) {
	m := NewMaster(0)
	assert.Equal(t, 1, m.n)

	m = NewMaster(-5)
	assert.Equal(t, 1, m.n)
}

func Test_Master_StopWithNoWorkersReturnsImmediately(t *testing.T) {
	m := NewMaster(2)
	m.Stop(syscall.SIGTERM)
	assert.True(t, m.stopping)
}

func Test_ReapOnce_NothingToReap(t *testing.T) {
	assert.False(t, ReapOnce())
}
