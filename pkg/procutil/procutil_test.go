// Copyright 2025 Kadir Pekel
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//     http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package procutil

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestAbortGroupFiresAllHandlersOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := NewAbortGroup(ctx)

	var calls int32
	g.On(func() { atomic.AddInt32(&calls, 1) })
	g.On(func() { atomic.AddInt32(&calls, 1) })

	cancel()
	time.Sleep(20 * time.Millisecond)

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 handler calls, got %d", got)
	}

	// registering after fire must not panic and must not invoke again
	g.On(func() { atomic.AddInt32(&calls, 1) })
	time.Sleep(10 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("handler registered after fire should not run, got %d", got)
	}
}

func TestAbortGroupDetachSuppressesHandlers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := NewAbortGroup(ctx)
	var called int32
	g.On(func() { atomic.AddInt32(&called, 1) })

	g.Detach()
	cancel()
	time.Sleep(20 * time.Millisecond)

	if atomic.LoadInt32(&called) != 0 {
		t.Fatalf("detached group must not invoke handlers")
	}
}

func TestKillProcessGroupStopsEarlyWhenDead(t *testing.T) {
	start := time.Now()
	var dead atomic.Bool
	go func() {
		time.Sleep(15 * time.Millisecond)
		dead.Store(true)
	}()
	KillProcessGroup(1<<30, func() bool { return !dead.Load() })
	if time.Since(start) >= KillProcessGroupDelay {
		t.Fatalf("expected early return once isAlive reports false")
	}
}
