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

package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Queue_FIFOOrder(t *testing.T) {
	q := New()
	var order []int
	for i := 0; i < 3; i++ {
		n := i
		task := GetTask()
		task.Run = func(arg1, arg2 interface{}) error {
			order = append(order, n)
			return nil
		}
		q.Enqueue(task)
	}

	for i := 0; i < 3; i++ {
		task := q.Dequeue()
		assert.NotNil(t, task)
		_ = task.Run(nil, nil)
		PutTask(task)
	}
	assert.Equal(t, []int{0, 1, 2}, order)
	assert.True(t, q.IsEmpty())
}

func Test_Queue_DequeueEmptyReturnsNil(t *testing.T) {
	q := New()
	assert.Nil(t, q.Dequeue())
	assert.True(t, q.IsEmpty())
	assert.Equal(t, 0, q.Len())
}

func Test_Queue_LenTracksDepth(t *testing.T) {
	q := New()
	q.Enqueue(GetTask())
	q.Enqueue(GetTask())
	assert.Equal(t, 2, q.Len())

	q.Dequeue()
	assert.Equal(t, 1, q.Len())
}

func Test_Queue_EnqueueFromOtherGoroutine(t *testing.T) {
	q := New()
	var wg sync.WaitGroup
	const n = 200

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			q.Enqueue(GetTask())
		}
	}()
	wg.Wait()
	assert.Equal(t, n, q.Len())

	dequeued := 0
	for q.Dequeue() != nil {
		dequeued++
	}
	assert.Equal(t, n, dequeued)
}
