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
	"sync"
	"time"

	gokitlog "github.com/go-kit/kit/log"

	"groupmesh.io/internal/netutil"
	"groupmesh.io/internal/timerwheel"
)

// Neighborhood owns the one-hop Neighbor set and the two-hop
// TwoHopNeighbor set it is derived from HELLO messages (RFC 3626
// §7/§8, spec §4.2-§4.3). A HELLO carries its sender's main address in
// the message header (Originator) and, in each Link Code group, the
// interface addresses the sender currently has link state for; this
// engine treats every address in those groups as a main address in
// its own right, the common case for single-interface mesh nodes
// (recorded as an Open Question decision: a full MID-based
// interface-to-main-address resolution table is not implemented).
type Neighborhood struct {
	logger gokitlog.Logger
	sched  *timerwheel.Scheduler
	faces  *FaceManager
	opts   *Options

	mu        sync.Mutex
	neighbors map[string]*Neighbor
	twoHop    map[string]*TwoHopNeighbor

	// onChange fires, coalesced via the scheduler, whenever the
	// neighbor or two-hop set changes shape: the MPR set and the TC
	// advertisement both depend on it.
	onChange func()
}

// NewNeighborhood constructs an empty Neighborhood.
func NewNeighborhood(logger gokitlog.Logger, sched *timerwheel.Scheduler, faces *FaceManager, opts *Options, onChange func()) *Neighborhood {
	return &Neighborhood{
		logger:    logger,
		sched:     sched,
		faces:     faces,
		opts:      opts,
		neighbors: map[string]*Neighbor{},
		twoHop:    map[string]*TwoHopNeighbor{},
		onChange:  onChange,
	}
}

// Neighbors returns a snapshot of every known one-hop neighbor.
func (nh *Neighborhood) Neighbors() []*Neighbor {
	nh.mu.Lock()
	defer nh.mu.Unlock()
	out := make([]*Neighbor, 0, len(nh.neighbors))
	for _, n := range nh.neighbors {
		out = append(out, n)
	}
	return out
}

// SymmetricNeighbors returns every neighbor with at least one
// symmetric link.
func (nh *Neighborhood) SymmetricNeighbors() []*Neighbor {
	nh.mu.Lock()
	defer nh.mu.Unlock()
	var out []*Neighbor
	for _, n := range nh.neighbors {
		if n.isSymmetric() {
			out = append(out, n)
		}
	}
	return out
}

// TwoHopNeighbors returns a snapshot of every known two-hop neighbor.
func (nh *Neighborhood) TwoHopNeighbors() []*TwoHopNeighbor {
	nh.mu.Lock()
	defer nh.mu.Unlock()
	out := make([]*TwoHopNeighbor, 0, len(nh.twoHop))
	for _, t := range nh.twoHop {
		out = append(out, t)
	}
	return out
}

// SetMPRSet records the outcome of the last MPR computation (mpr.go)
// on each Neighbor, so HELLO/TC emission can read it back.
func (nh *Neighborhood) SetMPRSet(selected map[string]bool) {
	nh.mu.Lock()
	defer nh.mu.Unlock()
	for key, n := range nh.neighbors {
		n.isMPR = selected[key]
	}
	RecordMPRCount(len(selected))
}

// OnHello ingests one received HELLO, updating the LogicalLink for
// (face, src), the owning Neighbor, and any two-hop neighbors it
// reports (spec §4.2 "HELLO processing").
func (nh *Neighborhood) OnHello(face *Face, src netutil.Address, vtime time.Duration, msg *HelloBody, now time.Time) {
	nh.mu.Lock()
	defer nh.mu.Unlock()

	neighborMain := src
	n, ok := nh.neighbors[neighborMain.String()]
	if !ok {
		n = newNeighbor(neighborMain)
		nh.neighbors[neighborMain.String()] = n
	}
	n.Willingness = msg.Willingness

	heardSym := false
	isSelector := false
	for _, g := range msg.Groups {
		if g.NeighborType == NeighborNotNeighbor {
			continue
		}
		if containsAddr(g.Addresses, face.LocalAddr) {
			heardSym = true
			if g.NeighborType == NeighborMPR {
				isSelector = true
			}
		}
	}
	if isSelector {
		n.touchMPRSelector(nh.sched, vtime, func() {
			nh.mu.Lock()
			defer nh.mu.Unlock()
			nh.onMPRSelectorExpire(n)
		})
	} else {
		n.clearMPRSelector()
	}

	key := linkKey(face.Index, src)
	link, ok := n.links[key]
	if !ok {
		link = newLogicalLink(nh.sched, face, src, nh.mu.Lock, nh.mu.Unlock,
			func(l *LogicalLink, prev LinkType) { nh.onLinkChange(n, l, prev) },
			func(l *LogicalLink) { nh.onLinkRemove(n, l) },
		)
		n.links[key] = link
	}
	link.touch(heardSym, msg.HTime, vtime, now)

	if link.Type() == LinkSymmetric {
		nh.absorbTwoHop(n, msg, vtime, now)
	}

	nh.scheduleRecompute()
}

// absorbTwoHop records every neighbor the sender itself considers
// symmetric or MPR, other than this node's own addresses, as a two-hop
// neighbor reachable via n (RFC 3626 §8.1, only valid while the link
// to n is symmetric).
func (nh *Neighborhood) absorbTwoHop(n *Neighbor, msg *HelloBody, vtime time.Duration, now time.Time) {
	for _, g := range msg.Groups {
		if g.NeighborType != NeighborSymmetric && g.NeighborType != NeighborMPR {
			continue
		}
		for _, addr := range g.Addresses {
			if nh.isOwnAddressLocked(addr) {
				continue
			}
			nh.touchTwoHopLink(n, addr, vtime, now)
		}
	}
}

func (nh *Neighborhood) touchTwoHopLink(n *Neighbor, twoHopAddr netutil.Address, vtime time.Duration, now time.Time) {
	t, ok := nh.twoHop[twoHopAddr.String()]
	if !ok {
		t = newTwoHopNeighbor(twoHopAddr)
		nh.twoHop[twoHopAddr.String()] = t
	}

	viaKey := n.MainAddr.String()
	l, ok := t.via[viaKey]
	if !ok {
		l = &TwoHopLink{Neighbor: n.MainAddr, TwoHop: twoHopAddr}
		t.via[viaKey] = l
	}
	l.isStrict = !nh.isOwnAddressLocked(twoHopAddr) && !nh.isSymmetricNeighborLocked(twoHopAddr)

	l.touch(nh.sched, vtime, now, func() {
		nh.mu.Lock()
		defer nh.mu.Unlock()
		nh.onTwoHopLinkExpire(t, viaKey)
	})
}

func (nh *Neighborhood) onTwoHopLinkExpire(t *TwoHopNeighbor, viaKey string) {
	delete(t.via, viaKey)
	if t.isEmpty() {
		delete(nh.twoHop, t.MainAddr.String())
	}
	nh.scheduleRecompute()
}

// onMPRSelectorExpire fires when a neighbor's MPR-selector status
// lapses without an explicit revocation (its HELLOs simply stopped
// naming this node as MPR, spec §4.3 step 3). The TC Running/Finishing
// decision depends on whether any selector remains.
func (nh *Neighborhood) onMPRSelectorExpire(n *Neighbor) {
	n.clearMPRSelector()
	nh.scheduleRecompute()
}

func (nh *Neighborhood) onLinkChange(n *Neighbor, l *LogicalLink, prev LinkType) {
	nh.logger.Log("op", "link-change", "neighbor", n.MainAddr, "face", l.Face.Name, "from", prev, "to", l.Type())
	nh.scheduleRecompute()
}

func (nh *Neighborhood) onLinkRemove(n *Neighbor, l *LogicalLink) {
	key := linkKey(l.Face.Index, l.NeighborIfaceAddr)
	delete(n.links, key)
	if len(n.links) == 0 {
		n.clearMPRSelector()
		delete(nh.neighbors, n.MainAddr.String())
		nh.removeTwoHopVia(n.MainAddr)
	}
	nh.scheduleRecompute()
}

// removeTwoHopVia discards every two-hop path that ran through a
// one-hop neighbor that has just been removed entirely.
func (nh *Neighborhood) removeTwoHopVia(neighborMain netutil.Address) {
	viaKey := neighborMain.String()
	for addr, t := range nh.twoHop {
		if l, ok := t.via[viaKey]; ok {
			l.cancel()
			delete(t.via, viaKey)
			if t.isEmpty() {
				delete(nh.twoHop, addr)
			}
		}
	}
}

func (nh *Neighborhood) isOwnAddressLocked(addr netutil.Address) bool {
	for _, f := range nh.faces.Faces() {
		if f.LocalAddr.Equal(addr) {
			return true
		}
	}
	return false
}

func (nh *Neighborhood) isSymmetricNeighborLocked(addr netutil.Address) bool {
	n, ok := nh.neighbors[addr.String()]
	return ok && n.isSymmetric()
}

func (nh *Neighborhood) scheduleRecompute() {
	count := 0
	for _, n := range nh.neighbors {
		if n.isSymmetric() {
			count++
		}
	}
	RecordNeighborCount(count)

	if nh.onChange != nil {
		nh.sched.ScheduleOnce("olsr-neighborhood-recompute", nh.onChange)
	}
}

func containsAddr(addrs []netutil.Address, target netutil.Address) bool {
	for _, a := range addrs {
		if a.Equal(target) {
			return true
		}
	}
	return false
}
