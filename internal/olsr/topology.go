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
	"context"
	"sync"
	"time"

	gokitlog "github.com/go-kit/kit/log"

	"groupmesh.io/internal/collab"
	"groupmesh.io/internal/netutil"
	"groupmesh.io/internal/timerwheel"
)

// tcEntry is one RFC 3626 §9.3 topology tuple: origin advertised
// neighbor as an MPR selector as of some ANSN, valid until expiry.
type tcEntry struct {
	origin   netutil.Address
	neighbor netutil.Address
	expiry   time.Time
	timer    *timerwheel.Timer
}

// TopologyManager holds the topology table built from received TC
// messages and the MID table built from received MID messages, and
// walks the topology table into the flat edge list pushed to the
// external route manager (spec §4.6 "topology push"). The MID table
// is recorded but not consulted when building edges.
type TopologyManager struct {
	logger gokitlog.Logger
	sched  *timerwheel.Scheduler
	routes collab.RouteManager

	mu    sync.Mutex
	ansn  map[string]uint16
	links map[string]map[string]*tcEntry // origin -> neighbor -> entry
	mid   map[string][]netutil.Address   // main addr -> other interface addrs
}

// NewTopologyManager constructs an empty TopologyManager.
func NewTopologyManager(logger gokitlog.Logger, sched *timerwheel.Scheduler, routes collab.RouteManager) *TopologyManager {
	return &TopologyManager{
		logger: logger,
		sched:  sched,
		routes: routes,
		ansn:   map[string]uint16{},
		links:  map[string]map[string]*tcEntry{},
		mid:    map[string][]netutil.Address{},
	}
}

// seqNewer reports whether a is a newer 16-bit sequence number than b,
// under RFC 3626 §18.8's half-range wraparound rule.
func seqNewer(a, b uint16) bool {
	if a == b {
		return false
	}
	if a > b {
		return a-b <= 0x7fff
	}
	return b-a > 0x7fff
}

// OnTC ingests a received TC message. It returns false when the
// message is stale (an equal or older ANSN than one already recorded
// for this origin) and must not be reforwarded.
func (tm *TopologyManager) OnTC(origin netutil.Address, ansn uint16, neighbors []netutil.Address, vtime time.Duration, now time.Time) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	originKey := origin.String()
	if last, ok := tm.ansn[originKey]; ok && !seqNewer(ansn, last) {
		return false
	}
	tm.ansn[originKey] = ansn

	existing := tm.links[originKey]
	if existing == nil {
		existing = map[string]*tcEntry{}
		tm.links[originKey] = existing
	}

	keep := map[string]bool{}
	for _, neighbor := range neighbors {
		neighborKey := neighbor.String()
		keep[neighborKey] = true
		tm.touchLink(existing, origin, originKey, neighbor, neighborKey, vtime, now)
	}
	for neighborKey, e := range existing {
		if !keep[neighborKey] {
			e.timer.Cancel()
			delete(existing, neighborKey)
		}
	}
	if len(existing) == 0 {
		delete(tm.links, originKey)
	}

	tm.pushEdgesLocked()
	return true
}

func (tm *TopologyManager) touchLink(existing map[string]*tcEntry, origin netutil.Address, originKey string, neighbor netutil.Address, neighborKey string, vtime time.Duration, now time.Time) {
	e, ok := existing[neighborKey]
	if !ok {
		e = &tcEntry{origin: origin, neighbor: neighbor}
		existing[neighborKey] = e
	}
	e.expiry = now.Add(vtime)
	d := vtime
	if d <= 0 {
		d = time.Millisecond
	}
	if e.timer != nil {
		e.timer.Reset(d)
		return
	}
	e.timer = tm.sched.AfterFunc(d, func() {
		tm.mu.Lock()
		defer tm.mu.Unlock()
		tm.onLinkExpire(originKey, neighborKey)
	})
}

func (tm *TopologyManager) onLinkExpire(originKey, neighborKey string) {
	if m, ok := tm.links[originKey]; ok {
		delete(m, neighborKey)
		if len(m) == 0 {
			delete(tm.links, originKey)
			delete(tm.ansn, originKey)
		}
	}
	tm.pushEdgesLocked()
}

// OnMID ingests a received MID message: the addresses of other
// interfaces belonging to origin's main address (RFC 3626 §5).
func (tm *TopologyManager) OnMID(origin netutil.Address, addrs []netutil.Address, vtime time.Duration, now time.Time) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.mid[origin.String()] = addrs
	// MID entries have no expiry timer: an origin's list is replaced by
	// its next MID and otherwise kept indefinitely, so vtime and now are
	// not used.
	_ = vtime
	_ = now
}

// Edges walks the topology table into the flat (origin, neighbor)
// edge list RFC 3626 routing-table computation (§10) would otherwise
// compute Dijkstra over; this engine leaves shortest-path computation
// to the external route manager and only supplies the edge set.
func (tm *TopologyManager) Edges() []collab.Edge {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.edgesLocked()
}

func (tm *TopologyManager) edgesLocked() []collab.Edge {
	var edges []collab.Edge
	for _, neighbors := range tm.links {
		for _, e := range neighbors {
			edges = append(edges, collab.Edge{Origin: e.origin, Dest: e.neighbor, Distance: 1})
		}
	}
	return edges
}

func (tm *TopologyManager) pushEdgesLocked() {
	edges := tm.edgesLocked()
	RecordTopologyEdges(len(edges))
	if tm.routes == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := collab.WithRetry(ctx, func(ctx context.Context) error {
			return tm.routes.UpdateEdges(ctx, edges)
		}); err != nil {
			tm.logger.Log("op", "pushEdges", "error", err)
		}
	}()
}
