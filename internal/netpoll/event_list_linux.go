// Copyright (c) 2022 The rcproxy Authors
// Copyright (c) 2019 Andy Pan
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

package netpoll

import "golang.org/x/sys/unix"

// epollEventList is a growable buffer of epoll_event structs, expanded or
// shrunk to track the actual readiness fan-out so a quiet reactor doesn't
// hold onto a buffer sized for its busiest moment forever.
type epollEventList struct {
	events []unix.EpollEvent
}

func newEpollEventList(cap int) *epollEventList {
	return &epollEventList{events: make([]unix.EpollEvent, cap)}
}

func (el *epollEventList) size() int {
	return len(el.events)
}

func (el *epollEventList) expand() {
	el.events = make([]unix.EpollEvent, len(el.events)*2)
}

func (el *epollEventList) shrink() {
	if len(el.events) > InitPollEventsCap {
		el.events = make([]unix.EpollEvent, len(el.events)/2)
	}
}
