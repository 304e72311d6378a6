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

//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

// Package io wraps the gather-write syscall the reactor's drain path
// needs: writev(2) for flushing several outbound packets in one syscall.
// There is no readv(2) wrapper; reads use plain read(2).
package io

import "golang.org/x/sys/unix"

// Writev writes the concatenation of bs to fd using a single writev(2)
// syscall, returning the total number of bytes written.
func Writev(fd int, bs [][]byte) (int, error) {
	iovs := make([][]byte, 0, len(bs))
	for _, b := range bs {
		if len(b) > 0 {
			iovs = append(iovs, b)
		}
	}
	if len(iovs) == 0 {
		return 0, nil
	}
	return unix.Writev(fd, iovs)
}
