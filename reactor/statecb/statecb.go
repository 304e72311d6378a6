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

// Package statecb is the reactor-wide lifecycle hook registry. Hooks are
// keyed by Phase and registered with a content hash of their closure's
// identity and argument so the same hook registered twice (a common
// mistake when a protocol's Init runs more than once per process) is
// deduplicated rather than invoked twice per phase.
package statecb

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"fioreactor/internal/toolkit"
)

// Phase names a point in the process/worker/connection lifecycle a hook
// can be registered against.
type Phase int

const (
	PhasePreStart Phase = iota
	PhasePostStart
	PhaseBeforeFork
	PhaseAfterForkInMaster
	PhaseAfterForkInChild
	PhaseEnterChild
	PhaseOnIdle
	PhaseOnReady
	PhaseOnData
	PhaseOnShutdown
	PhaseOnWorkerStart
	PhaseOnWorkerDone
	PhaseOnWorkerRespawn
	PhaseOnFinish
	PhaseOnIOCoreDone
	PhaseOnUserDone
	PhaseOnStateDone
	numPhases
)

func (p Phase) String() string {
	switch p {
	case PhasePreStart:
		return "pre_start"
	case PhasePostStart:
		return "post_start"
	case PhaseBeforeFork:
		return "before_fork"
	case PhaseAfterForkInMaster:
		return "after_fork_in_master"
	case PhaseAfterForkInChild:
		return "after_fork_in_child"
	case PhaseEnterChild:
		return "enter_child"
	case PhaseOnIdle:
		return "on_idle"
	case PhaseOnReady:
		return "on_ready"
	case PhaseOnData:
		return "on_data"
	case PhaseOnShutdown:
		return "on_shutdown"
	case PhaseOnWorkerStart:
		return "on_worker_start"
	case PhaseOnWorkerDone:
		return "on_worker_done"
	case PhaseOnWorkerRespawn:
		return "on_worker_respawn"
	case PhaseOnFinish:
		return "on_finish"
	case PhaseOnIOCoreDone:
		return "on_io_core_done"
	case PhaseOnUserDone:
		return "on_user_done"
	case PhaseOnStateDone:
		return "on_state_done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Callback is a registered lifecycle hook. It receives the opaque udata
// the caller registered it with.
type Callback func(udata interface{}) error

type registration struct {
	priority int
	fn       Callback
	udata    interface{}
}

// Registry holds the hooks registered for every Phase, run in ascending
// priority order (ties broken by registration order) and deduplicated by
// content hash of (fn identity, udata) per Phase.
type Registry struct {
	mu    sync.Mutex
	hooks [numPhases][]registration
	seen  [numPhases]map[uint64]struct{}
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.seen {
		r.seen[i] = make(map[uint64]struct{})
	}
	return r
}

func contentHash(fn Callback, udata interface{}) uint64 {
	h := xxhash.New()
	var ptrBuf [8]byte
	binary.LittleEndian.PutUint64(ptrBuf[:], uint64(reflect.ValueOf(fn).Pointer()))
	_, _ = h.Write(ptrBuf[:])
	_, _ = h.Write(toolkit.StringToBytes(fmt.Sprintf("%v", udata)))
	return h.Sum64()
}

// On registers fn to run during phase at priority (lower runs first). A
// hook with the same function identity and udata already registered for
// this phase is ignored.
func (r *Registry) On(phase Phase, priority int, fn Callback, udata interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := contentHash(fn, udata)
	if _, dup := r.seen[phase][key]; dup {
		return
	}
	r.seen[phase][key] = struct{}{}
	r.hooks[phase] = append(r.hooks[phase], registration{priority: priority, fn: fn, udata: udata})
	sort.SliceStable(r.hooks[phase], func(i, j int) bool {
		return r.hooks[phase][i].priority < r.hooks[phase][j].priority
	})
}

// Run invokes every hook registered for phase, in priority order,
// stopping at and returning the first error.
func (r *Registry) Run(phase Phase) error {
	r.mu.Lock()
	snapshot := make([]registration, len(r.hooks[phase]))
	copy(snapshot, r.hooks[phase])
	r.mu.Unlock()

	for _, reg := range snapshot {
		if err := reg.fn(reg.udata); err != nil {
			return err
		}
	}
	return nil
}

// Count reports how many hooks are registered for phase.
func (r *Registry) Count(phase Phase) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hooks[phase])
}
