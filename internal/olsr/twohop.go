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

	"groupmesh.io/internal/timerwheel"
)

// TwoHopLink is one path from a symmetric one-hop neighbor to a
// two-hop neighbor, as reported in that neighbor's HELLO (RFC 3626
// §8.1). isStrict is false when TwoHop turns out to be a neighbor
// already symmetric at one hop (this node's own addresses are never
// recorded as two-hop neighbors at all): RFC
// 3626 §8.3.1's MPR computation only ever needs to cover the "strict"
// two-hop set N2, so non-strict links are kept (for incremental
// bookkeeping if the neighbor set changes again) but excluded from
// coverage counting.
type TwoHopLink struct {
	Neighbor NeighborID
	TwoHop   NeighborID
	isStrict bool

	expiry time.Time
	timer  *timerwheel.Timer
}

// TwoHopNeighbor aggregates every path to one two-hop address, one per
// reporting one-hop neighbor.
type TwoHopNeighbor struct {
	MainAddr NeighborID
	via      map[string]*TwoHopLink // keyed by Neighbor.MainAddr.String()
}

func newTwoHopNeighbor(addr NeighborID) *TwoHopNeighbor {
	return &TwoHopNeighbor{MainAddr: addr, via: map[string]*TwoHopLink{}}
}

// strictNeighbors returns the set of one-hop neighbor addresses this
// two-hop neighbor is strictly reachable through.
func (t *TwoHopNeighbor) strictNeighbors() []NeighborID {
	var out []NeighborID
	for _, l := range t.via {
		if l.isStrict {
			out = append(out, l.Neighbor)
		}
	}
	return out
}

func (t *TwoHopNeighbor) isEmpty() bool { return len(t.via) == 0 }

// touch (re)arms the link's validity timer. onExpire runs on the
// scheduler's dispatch goroutine and is responsible for its own
// locking, same as LogicalLink's recomp timer.
func (l *TwoHopLink) touch(sched *timerwheel.Scheduler, validity time.Duration, now time.Time, onExpire func()) {
	l.expiry = now.Add(validity)
	d := l.expiry.Sub(now)
	if d <= 0 {
		d = time.Millisecond
	}
	if l.timer != nil {
		l.timer.Reset(d)
		return
	}
	l.timer = sched.AfterFunc(d, onExpire)
}

func (l *TwoHopLink) cancel() {
	if l.timer != nil {
		l.timer.Cancel()
	}
}
