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
	"testing"
	"time"

	gokitlog "github.com/go-kit/kit/log"

	"groupmesh.io/internal/collab"
	"groupmesh.io/internal/netutil"
	"groupmesh.io/internal/timerwheel"
)

func newTestTcEmitter(t *testing.T) (*TcEmitter, *Neighborhood, *fakeBus, *Face) {
	sched := timerwheel.New()
	t.Cleanup(sched.Stop)

	bus := &fakeBus{}
	faces := NewFaceManager(gokitlog.NewNopLogger(), bus)
	f := faces.AddFace(collab.InterfaceInfo{Name: "eth0", Index: 1, PrimaryAddr: addr("10.0.0.1")})

	opts := DefaultOptions()
	opts.TCInterval.Set(time.Hour) // keep the periodic from firing during the test
	nh := NewNeighborhood(gokitlog.NewNopLogger(), sched, faces, &opts, nil)
	tc := NewTcEmitter(gokitlog.NewNopLogger(), sched, faces, nh, &opts, addr("10.0.0.1"))
	return tc, nh, bus, f
}

func waitForCount(t *testing.T, bus *fakeBus, want int) {
	deadline := time.Now().Add(time.Second)
	for bus.count() != want {
		if time.Now().After(deadline) {
			t.Fatalf("sent = %d after timeout, want %d", bus.count(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTcEmitterStaysStoppedWithoutSelectors(t *testing.T) {
	tc, _, bus, _ := newTestTcEmitter(t)
	tc.OnNeighborhoodChange()

	time.Sleep(20 * time.Millisecond)
	if bus.count() != 0 {
		t.Fatalf("sent = %d, want 0 with no MPR selectors", bus.count())
	}
	if tc.state != tcStopped {
		t.Fatalf("state = %v, want stopped", tc.state)
	}
}

func TestTcEmitterStartsOnFirstSelector(t *testing.T) {
	tc, nh, bus, f := newTestTcEmitter(t)
	now := time.Now()
	makeSelector(nh, f, addr("10.0.0.9"), now)

	tc.OnNeighborhoodChange()
	waitForCount(t, bus, 1)

	tc.mu.Lock()
	state := tc.state
	tc.mu.Unlock()
	if state != tcRunning {
		t.Fatalf("state = %v, want running", state)
	}
}

func TestTcEmitterFinishesThenStopsWhenSelectorsEmpty(t *testing.T) {
	tc, nh, bus, f := newTestTcEmitter(t)
	now := time.Now()
	makeSelector(nh, f, addr("10.0.0.9"), now)
	tc.OnNeighborhoodChange()
	waitForCount(t, bus, 1)

	// The neighbor stops selecting us: no more symmetric MPR selectors.
	nh.mu.Lock()
	for _, n := range nh.neighbors {
		n.isMPRSelector = false
	}
	nh.mu.Unlock()

	tc.OnNeighborhoodChange()
	tc.mu.Lock()
	if tc.state != tcFinishing {
		tc.mu.Unlock()
		t.Fatalf("state = %v, want finishing", tc.state)
	}
	tc.mu.Unlock()

	// fire() is invoked manually here (matching how startLocked's
	// immediate goroutine and the periodic both call it) to drive the
	// finishing countdown without waiting on TCInterval.
	tc.fire()
	tc.fire()
	tc.fire()

	tc.mu.Lock()
	state := tc.state
	tc.mu.Unlock()
	if state != tcStopped {
		t.Fatalf("state after finishingRounds fires = %v, want stopped", state)
	}
}

func TestTcEmitterResumesRunningIfSelectorReturnsWhileFinishing(t *testing.T) {
	tc, nh, bus, f := newTestTcEmitter(t)
	now := time.Now()
	makeSelector(nh, f, addr("10.0.0.9"), now)
	tc.OnNeighborhoodChange()
	waitForCount(t, bus, 1)

	nh.mu.Lock()
	for _, n := range nh.neighbors {
		n.isMPRSelector = false
	}
	nh.mu.Unlock()
	tc.OnNeighborhoodChange()

	nh.mu.Lock()
	for _, n := range nh.neighbors {
		n.isMPRSelector = true
	}
	nh.mu.Unlock()
	tc.OnNeighborhoodChange()

	tc.mu.Lock()
	state := tc.state
	tc.mu.Unlock()
	if state != tcRunning {
		t.Fatalf("state = %v, want running again", state)
	}
}

// addOwnMPR adds a symmetric neighbor this node has itself selected as
// an MPR (not one that selected this node), for testing TC_REDUNDANCY
// MPRS_INOUT's extra advertisement.
func addOwnMPR(nh *Neighborhood, mainAddr netutil.Address) {
	nh.mu.Lock()
	defer nh.mu.Unlock()
	n := newNeighbor(mainAddr)
	n.links["x"] = &LogicalLink{linkType: LinkSymmetric}
	n.isMPR = true
	nh.neighbors[mainAddr.String()] = n
}

func TestAdvertisedNeighborsDefaultsToSelectorsOnly(t *testing.T) {
	tc, nh, _, f := newTestTcEmitter(t)
	now := time.Now()
	makeSelector(nh, f, addr("10.0.0.9"), now)
	addOwnMPR(nh, addr("10.0.0.8"))

	addrs := tc.advertisedNeighbors()
	if len(addrs) != 1 || !addrs[0].Equal(addr("10.0.0.9")) {
		t.Fatalf("advertisedNeighbors() = %v, want only the selector under MPRS_IN", addrs)
	}
}

func TestAdvertisedNeighborsMPRSInOutAddsOwnMPRs(t *testing.T) {
	tc, nh, _, f := newTestTcEmitter(t)
	now := time.Now()
	makeSelector(nh, f, addr("10.0.0.9"), now)
	addOwnMPR(nh, addr("10.0.0.8"))

	tc.opts.TCRedundancy.Set(TCRedundancyMPRSInOut)

	addrs := tc.advertisedNeighbors()
	if len(addrs) != 2 {
		t.Fatalf("advertisedNeighbors() = %v, want selector + own MPR under MPRS_INOUT", addrs)
	}
}

func TestAdvertisedNeighborsAllIncludesEverySymmetricNeighbor(t *testing.T) {
	tc, nh, _, f := newTestTcEmitter(t)
	now := time.Now()
	makeSelector(nh, f, addr("10.0.0.9"), now)
	// Neither a selector nor this node's own MPR, just symmetric.
	addOwnMPR(nh, addr("10.0.0.7"))
	nh.mu.Lock()
	nh.neighbors[addr("10.0.0.7").String()].isMPR = false
	nh.mu.Unlock()

	tc.opts.TCRedundancy.Set(TCRedundancyAll)

	addrs := tc.advertisedNeighbors()
	if len(addrs) != 2 {
		t.Fatalf("advertisedNeighbors() = %v, want every symmetric neighbor under ALL", addrs)
	}
}
