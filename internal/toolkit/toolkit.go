// Copyright (c) 2022 The rcproxy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License"): you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations
// under the License.

// Package toolkit holds small zero-copy conversions shared by the reactor
// packages.
package toolkit

import (
	"reflect"
	"unsafe"
)

// StringToBytes reinterprets s as a []byte without copying. The returned
// slice must never be mutated or retained past the lifetime of s.
func StringToBytes(s string) []byte {
	sh := (*reflect.StringHeader)(unsafe.Pointer(&s))
	bh := reflect.SliceHeader{Data: sh.Data, Len: sh.Len, Cap: sh.Len}
	return *(*[]byte)(unsafe.Pointer(&bh))
}

// BytesToString reinterprets b as a string without copying. The caller must
// not mutate b afterward.
func BytesToString(b []byte) string {
	return *(*string)(unsafe.Pointer(&b))
}
