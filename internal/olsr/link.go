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

package olsr

import (
	"time"

	"groupmesh.io/internal/netutil"
	"groupmesh.io/internal/timerwheel"
)

// LogicalLink is one (local face, neighbor interface address) pair
// discovered via HELLO (RFC 3626 §4.2.1, spec §3.2). Its type is
// derived from three absolute deadlines rather than three independent
// timers: touch moves asymExpiry on every HELLO and symExpiry only
// when the HELLO lists this node, so deriving the type by comparing
// "now" against symExpiry, then asymExpiry, then timeoutExpiry in that
// order gives SYM precedence over ASYM even when two deadlines land
// in the same recompute tick — there is no dependence on which of
// several independent timers happens to fire first.
type LogicalLink struct {
	Face              *Face
	NeighborIfaceAddr netutil.Address

	symExpiry     time.Time
	asymExpiry    time.Time
	timeoutExpiry time.Time

	linkType LinkType
	recomp   *timerwheel.Timer
	sched    *timerwheel.Scheduler

	// lock/unlock guard the owning Neighborhood's state. recompute runs
	// either synchronously from touch (caller already holds the lock) or
	// from the recomp timer's own goroutine (which does not), so rearm
	// wraps that second path with lock/unlock itself.
	lock   func()
	unlock func()

	onChange func(*LogicalLink, LinkType)
	onRemove func(*LogicalLink)
}

func newLogicalLink(sched *timerwheel.Scheduler, face *Face, neighborAddr netutil.Address, lock, unlock func(), onChange func(*LogicalLink, LinkType), onRemove func(*LogicalLink)) *LogicalLink {
	return &LogicalLink{
		Face:              face,
		NeighborIfaceAddr: neighborAddr,
		sched:             sched,
		linkType:          LinkAsymmetric,
		lock:              lock,
		unlock:            unlock,
		onChange:          onChange,
		onRemove:          onRemove,
	}
}

// Type reports the link's current direction classification.
func (l *LogicalLink) Type() LinkType { return l.linkType }

// touch records a fresh HELLO: asym is always refreshed (the packet
// was heard); sym is refreshed only when the neighbor's own HELLO
// listed this node, and validity bounds how long the link entry
// survives without any further HELLO at all (RFC 3626 §6.2, Table 1).
func (l *LogicalLink) touch(heardSym bool, htime, validity time.Duration, now time.Time) {
	l.asymExpiry = now.Add(htime)
	if heardSym {
		l.symExpiry = now.Add(htime)
	}
	deadline := now.Add(validity)
	if deadline.After(l.timeoutExpiry) {
		l.timeoutExpiry = deadline
	}
	l.recompute(now)
}

func (l *LogicalLink) recompute(now time.Time) {
	prev := l.linkType
	l.linkType = l.deriveType(now)

	if !now.Before(l.timeoutExpiry) {
		if l.recomp != nil {
			l.recomp.Cancel()
		}
		l.onRemove(l)
		return
	}

	if l.linkType != prev {
		l.onChange(l, prev)
	}
	l.rearm(now)
}

// deriveType implements the precedence described on LogicalLink: SYM
// wins if its deadline hasn't passed, else ASYM, else the link is
// considered LOST until timeoutExpiry finally removes it.
func (l *LogicalLink) deriveType(now time.Time) LinkType {
	if now.Before(l.symExpiry) {
		return LinkSymmetric
	}
	if now.Before(l.asymExpiry) {
		return LinkAsymmetric
	}
	return LinkLost
}

func (l *LogicalLink) rearm(now time.Time) {
	next := l.timeoutExpiry
	if l.symExpiry.After(now) && l.symExpiry.Before(next) {
		next = l.symExpiry
	}
	if l.asymExpiry.After(now) && l.asymExpiry.Before(next) {
		next = l.asymExpiry
	}

	d := next.Sub(now)
	if d <= 0 {
		d = time.Millisecond
	}
	if l.recomp != nil {
		l.recomp.Reset(d)
		return
	}
	l.recomp = l.sched.AfterFunc(d, func() {
		l.lock()
		defer l.unlock()
		l.recompute(time.Now())
	})
}

// cancel stops the recompute timer without invoking onRemove, for use
// when the owning Neighbor itself is being torn down.
func (l *LogicalLink) cancel() {
	if l.recomp != nil {
		l.recomp.Cancel()
	}
}
