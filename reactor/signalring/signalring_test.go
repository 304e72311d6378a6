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

package signalring

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_Ring_ReviewDrainsOnce(t *testing.T) {
	r := New()
	defer r.Stop()

	_ = syscall.Kill(syscall.Getpid(), syscall.SIGUSR1)
	assert.Eventually(t, func() bool {
		fired := r.Review()
		for _, s := range fired {
			if s == SIGUSR1 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// already drained, a second Review should not see it again
	fired := r.Review()
	for _, s := range fired {
		assert.NotEqual(t, SIGUSR1, s)
	}
}

func Test_Ring_ReviewEmptyWhenNothingFired(t *testing.T) {
	r := New()
	defer r.Stop()

	assert.Empty(t, r.Review())
}
