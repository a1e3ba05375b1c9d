// Copyright 2017 Google Inc.
// Copyright 2020 Acnodal Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package timerwheel

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleOnceCoalesces(t *testing.T) {
	s := New()
	defer s.Stop()

	var calls int32
	done := make(chan struct{})

	for i := 0; i < 10; i++ {
		s.ScheduleOnce("recount", func() {
			atomic.AddInt32(&calls, 1)
			close(done)
		})
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}

	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestTimerCancelIdempotent(t *testing.T) {
	s := New()
	defer s.Stop()

	fired := make(chan struct{}, 1)
	timer := s.AfterFunc(10*time.Millisecond, func() { fired <- struct{}{} })

	if !timer.Cancel() {
		t.Fatal("first Cancel should succeed")
	}
	if timer.Cancel() {
		t.Fatal("second Cancel should be a no-op")
	}

	select {
	case <-fired:
		t.Fatal("canceled timer fired")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPeriodicFiresRepeatedly(t *testing.T) {
	s := New()
	defer s.Stop()

	var calls int32
	p := s.NewPeriodic(5*time.Millisecond, func() {
		atomic.AddInt32(&calls, 1)
	})
	defer p.Cancel()

	time.Sleep(40 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got < 3 {
		t.Fatalf("calls = %d, want >= 3", got)
	}
}
