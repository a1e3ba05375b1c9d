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

	"groupmesh.io/internal/netutil"
	"groupmesh.io/internal/timerwheel"
)

// tcState is the TC origination state machine of RFC 3626 §9.2: a
// node only sends TC while it has at least one MPR selector, but
// keeps sending a few more TCs (empty under the default MPRS_IN
// redundancy) after its selector set empties so downstream nodes age
// the stale topology entries out promptly instead of waiting the full
// TOP_HOLD_TIME.
type tcState int

const (
	tcStopped tcState = iota
	tcRunning
	tcFinishing
)

// finishingRounds is how many TCs are sent while winding down.
const finishingRounds = 3

// TcEmitter originates Topology Control messages advertising this
// node's MPR selector set (spec §4.6 "TC origination").
type TcEmitter struct {
	logger   gokitlog.Logger
	sched    *timerwheel.Scheduler
	faces    *FaceManager
	nh       *Neighborhood
	opts     *Options
	mainAddr netutil.Address

	mu            sync.Mutex
	state         tcState
	periodic      *timerwheel.Periodic
	finishingLeft int
	ansn          uint16
}

// NewTcEmitter constructs a TcEmitter.
func NewTcEmitter(logger gokitlog.Logger, sched *timerwheel.Scheduler, faces *FaceManager, nh *Neighborhood, opts *Options, mainAddr netutil.Address) *TcEmitter {
	return &TcEmitter{logger: logger, sched: sched, faces: faces, nh: nh, opts: opts, mainAddr: mainAddr}
}

// hasMPRSelectors reports whether this node has at least one MPR
// selector. This drives the tcState machine (RFC 3626 §9.2) and is
// deliberately independent of TC_REDUNDANCY: what a running emitter's
// TC body advertises never changes whether it is Running at all.
func (t *TcEmitter) hasMPRSelectors() bool {
	for _, n := range t.nh.SymmetricNeighbors() {
		if n.isMPRSelector {
			return true
		}
	}
	return false
}

// advertisedNeighbors returns the neighbor addresses a TC body should
// carry, per the configured TC_REDUNDANCY (RFC 3626 §9.1/§18.6):
// MPRS_IN is just the MPR selector set; MPRS_INOUT additionally
// includes this node's own MPR set; ALL includes every symmetric
// neighbor regardless of MPR status.
func (t *TcEmitter) advertisedNeighbors() []netutil.Address {
	redundancy := t.opts.TCRedundancy.Get()

	var out []netutil.Address
	for _, n := range t.nh.SymmetricNeighbors() {
		switch redundancy {
		case TCRedundancyAll:
			out = append(out, n.MainAddr)
		case TCRedundancyMPRSInOut:
			if n.isMPRSelector || n.isMPR {
				out = append(out, n.MainAddr)
			}
		default: // TCRedundancyMPRSIn
			if n.isMPRSelector {
				out = append(out, n.MainAddr)
			}
		}
	}
	return out
}

// OnNeighborhoodChange reevaluates the TC state machine; call this
// whenever the neighbor/MPR set may have changed.
func (t *TcEmitter) OnNeighborhoodChange() {
	t.mu.Lock()
	defer t.mu.Unlock()

	hasSelectors := t.hasMPRSelectors()
	switch t.state {
	case tcStopped:
		if hasSelectors {
			t.state = tcRunning
			t.startLocked()
		}
	case tcRunning:
		if !hasSelectors {
			t.state = tcFinishing
			t.finishingLeft = finishingRounds
		}
	case tcFinishing:
		if hasSelectors {
			t.state = tcRunning
		}
	}
}

func (t *TcEmitter) startLocked() {
	if t.periodic != nil {
		return
	}
	t.periodic = t.sched.NewPeriodic(t.opts.TCInterval.Get(), t.fire)
	go t.fire()
}

func (t *TcEmitter) fire() {
	t.mu.Lock()
	selectors := t.advertisedNeighbors()

	if t.state == tcFinishing {
		t.finishingLeft--
		if t.finishingLeft <= 0 {
			if t.periodic != nil {
				t.periodic.Cancel()
				t.periodic = nil
			}
			t.state = tcStopped
		}
	}

	t.ansn++
	ansn := t.ansn
	faces := t.faces.Faces()
	vtime := t.opts.TopHoldTime.Get()
	t.mu.Unlock()

	for _, f := range faces {
		for _, chunk := range chunkTCNeighbors(selectors, maxMessageBodySize(f.MTU)) {
			payload := encodeTC(t.mainAddr, f.nextSeqNum(), vtime, 255, ansn, chunk)
			packet := encodePacket(f.nextSeqNum(), payload)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err := t.faces.Send(ctx, f, olsrBroadcast, packet)
			cancel()
			if err != nil {
				t.logger.Log("op", "sendTC", "face", f.Name, "error", err)
				continue
			}
			RecordTCSent(f.Name)
		}
	}
}

// chunkTCNeighbors splits the MPR selector list across as many TC
// bodies as needed to stay under maxBody (spec §5 "MTU splitting");
// every chunk carries the same ANSN, per RFC 3626 §9.1's allowance for
// one originator/ANSN pair to span multiple messages.
func chunkTCNeighbors(neighbors []netutil.Address, maxBody int) [][]netutil.Address {
	const fixedFields = 4 // ansn(2) + reserved(2)
	perMsg := (maxBody - fixedFields) / 4
	if perMsg < 1 {
		perMsg = 1
	}
	if len(neighbors) == 0 {
		return [][]netutil.Address{nil}
	}

	var chunks [][]netutil.Address
	for len(neighbors) > 0 {
		n := perMsg
		if n > len(neighbors) {
			n = len(neighbors)
		}
		chunks = append(chunks, neighbors[:n])
		neighbors = neighbors[n:]
	}
	return chunks
}
