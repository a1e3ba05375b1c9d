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
	"strconv"
	"time"

	"groupmesh.io/internal/netutil"
	"groupmesh.io/internal/timerwheel"
)

// Neighbor is a one-hop neighbor known by its OLSR main address,
// possibly reachable over several LogicalLinks (one per local face /
// neighbor interface address pair, RFC 3626 §8.1). Its symmetric
// status is the best (most-connected) status across all its links.
type Neighbor struct {
	MainAddr    NeighborID
	Willingness Willingness

	links map[string]*LogicalLink

	// isMPR is true while this neighbor is selected as one of this
	// node's Multi-Point Relays (spec §4.4).
	isMPR bool
	// isMPRSelector is true while this neighbor has, per its own most
	// recent HELLO, selected this node as one of its MPRs (spec §4.7
	// "default forwarding rule" keys off this). It carries its own
	// expiry timer, armed to that HELLO's Validity Time (spec §4.3 step
	// 3): if the selecting neighbor's HELLOs simply stop arriving rather
	// than explicitly revoking the selection, the flag still clears
	// promptly instead of living as long as the underlying link's own
	// (typically much longer) hold timer.
	isMPRSelector    bool
	mprSelectorTimer *timerwheel.Timer
}

func newNeighbor(addr NeighborID) *Neighbor {
	return &Neighbor{MainAddr: addr, Willingness: WillDefault, links: map[string]*LogicalLink{}}
}

func linkKey(faceIndex int, neighborIfaceAddr netutil.Address) string {
	return neighborIfaceAddr.String() + "@" + strconv.Itoa(faceIndex)
}

// status is the best LinkType across every link to this neighbor:
// SYM beats ASYM beats LOST/absent.
func (n *Neighbor) status() LinkType {
	best := LinkLost
	for _, l := range n.links {
		if l.Type() == LinkSymmetric {
			return LinkSymmetric
		}
		if l.Type() == LinkAsymmetric {
			best = LinkAsymmetric
		}
	}
	return best
}

// isSymmetric reports whether any link to this neighbor is currently
// symmetric.
func (n *Neighbor) isSymmetric() bool {
	return n.status() == LinkSymmetric
}

// touchMPRSelector (re)arms the MPR-selector expiry timer to vtime and
// marks this neighbor as currently selecting this node as an MPR.
// onExpire runs on the scheduler's dispatch goroutine and is
// responsible for its own locking, same as TwoHopLink.touch's
// convention.
func (n *Neighbor) touchMPRSelector(sched *timerwheel.Scheduler, vtime time.Duration, onExpire func()) {
	n.isMPRSelector = true
	if n.mprSelectorTimer != nil {
		n.mprSelectorTimer.Reset(vtime)
		return
	}
	n.mprSelectorTimer = sched.AfterFunc(vtime, onExpire)
}

// clearMPRSelector cancels the expiry timer, if any, and marks this
// neighbor as no longer selecting this node as an MPR.
func (n *Neighbor) clearMPRSelector() {
	n.isMPRSelector = false
	if n.mprSelectorTimer != nil {
		n.mprSelectorTimer.Cancel()
		n.mprSelectorTimer = nil
	}
}
