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

// Package timerwheel implements the event loop described in spec §5:
// one dispatch goroutine runs every timer callback and posted
// background task to completion before starting the next. Packet
// handlers are not routed through it (they run on the packet I/O
// goroutine), so the membership and OLSR engines guard their own state
// with mutexes that timer callbacks also take.
package timerwheel

import (
	"sync"
	"time"
)

// Scheduler is the event loop. Timer callbacks and background tasks
// posted via Post/ScheduleOnce all run on the same goroutine, in the
// order they're posted.
type Scheduler struct {
	work chan func()
	done chan struct{}

	mu      sync.Mutex
	pending map[string]struct{}
}

// New starts a Scheduler's dispatch goroutine.
func New() *Scheduler {
	s := &Scheduler{
		work:    make(chan func(), 1024),
		done:    make(chan struct{}),
		pending: map[string]struct{}{},
	}
	go s.run()
	return s
}

func (s *Scheduler) run() {
	for {
		select {
		case f := <-s.work:
			f()
		case <-s.done:
			return
		}
	}
}

// Stop terminates the dispatch goroutine. Pending work is discarded.
func (s *Scheduler) Stop() {
	close(s.done)
}

// Post enqueues f to run on the dispatch goroutine. Post never blocks
// the caller on f's execution; it only blocks if the work queue is
// full, which under normal operation it is not.
func (s *Scheduler) Post(f func()) {
	select {
	case s.work <- f:
	case <-s.done:
	}
}

// ScheduleOnce coalesces every call sharing key into a single posted
// invocation of f: this is how the MPR recount and route-update
// dedupe-scheduling in spec §5 are implemented. If a call with the
// same key is already queued (but hasn't run yet), this call is a
// no-op; once the queued call runs, the key is free again and a
// subsequent ScheduleOnce(key, ...) will queue a fresh invocation.
func (s *Scheduler) ScheduleOnce(key string, f func()) {
	s.mu.Lock()
	if _, already := s.pending[key]; already {
		s.mu.Unlock()
		return
	}
	s.pending[key] = struct{}{}
	s.mu.Unlock()

	s.Post(func() {
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
		f()
	})
}

// Timer is a cancelable, reschedulable oneoff timer whose callback
// runs on the Scheduler's dispatch goroutine.
type Timer struct {
	sched *Scheduler

	mu       sync.Mutex
	timer    *time.Timer
	active   bool
	deadline time.Time
}

// AfterFunc arms a timer that posts f to the scheduler after d
// elapses.
func (s *Scheduler) AfterFunc(d time.Duration, f func()) *Timer {
	t := &Timer{sched: s, active: true, deadline: time.Now().Add(d)}
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		if !t.active {
			t.mu.Unlock()
			return
		}
		t.active = false
		t.mu.Unlock()
		s.Post(f)
	})
	return t
}

// Cancel disarms the timer. It is idempotent: calling it more than
// once, or after the timer has already fired, is safe and returns
// false on every call after the first successful one.
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return false
	}
	t.active = false
	t.timer.Stop()
	return true
}

// Reset rearms the timer for d from now, reactivating it if it had
// fired or been canceled.
func (t *Timer) Reset(d time.Duration) {
	t.mu.Lock()
	t.active = true
	t.deadline = time.Now().Add(d)
	t.mu.Unlock()
	t.timer.Reset(d)
}

// Active reports whether the timer is still armed (spec §3.2 invariant
// (i) and §3.3's link-type derivation both need to ask this).
func (t *Timer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Remaining reports how long until the timer next fires, or 0 if it
// has already fired or been canceled. Used wherever RFC-mandated
// lower-bound logic needs to compare against another timer's live
// value instead of a fixed duration (e.g. RFC 3376 Table 6.4.1's
// BLOCK_OLD_SOURCES case, which lower-bounds new sources to the
// Group Timer's current remaining value).
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return 0
	}
	if d := time.Until(t.deadline); d > 0 {
		return d
	}
	return 0
}

// Periodic arms a timer that calls f every interval until canceled. f
// runs once per tick on the Scheduler's dispatch goroutine; unlike
// AfterFunc, a Periodic keeps rearming itself.
type Periodic struct {
	t *Timer

	mu       sync.Mutex
	canceled bool
}

// NewPeriodic starts a periodic timer.
func (s *Scheduler) NewPeriodic(interval time.Duration, f func()) *Periodic {
	p := &Periodic{}
	var arm func()
	arm = func() {
		f()
		p.mu.Lock()
		defer p.mu.Unlock()
		if !p.canceled {
			p.t.Reset(interval)
		}
	}
	p.t = s.AfterFunc(interval, arm)
	return p
}

// Cancel stops the periodic timer; it will not fire again.
func (p *Periodic) Cancel() {
	p.mu.Lock()
	p.canceled = true
	p.mu.Unlock()
	p.t.Cancel()
}
