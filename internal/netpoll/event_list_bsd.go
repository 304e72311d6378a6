// Copyright (c) 2022 The rcproxy Authors
// Copyright (c) 2021 Andy Pan
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

//go:build freebsd || dragonfly || darwin
// +build freebsd dragonfly darwin

package netpoll

import "golang.org/x/sys/unix"

// kqueueEventList is a growable buffer of kevent_t structs, mirroring
// epollEventList's grow/shrink policy.
type kqueueEventList struct {
	events []unix.Kevent_t
}

func newKqueueEventList(cap int) *kqueueEventList {
	return &kqueueEventList{events: make([]unix.Kevent_t, cap)}
}

func (el *kqueueEventList) size() int {
	return len(el.events)
}

func (el *kqueueEventList) expand() {
	el.events = make([]unix.Kevent_t, len(el.events)*2)
}

func (el *kqueueEventList) shrink() {
	if len(el.events) > InitPollEventsCap {
		el.events = make([]unix.Kevent_t, len(el.events)/2)
	}
}
