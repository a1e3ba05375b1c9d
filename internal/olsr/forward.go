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
	"fmt"
	"sync"
	"time"

	"groupmesh.io/internal/netutil"
	"groupmesh.io/internal/timerwheel"
)

type dupEntry struct {
	timer *timerwheel.Timer
}

// Forwarder implements RFC 3626 §3.4.1's default forwarding
// algorithm: a message is relayed at most once (tracked by
// (originator, seqnum) for DupHoldTime) and only when it arrived from
// a neighbor that has selected this node as one of its MPRs (spec §4.7
// "default forwarding rule").
type Forwarder struct {
	sched *timerwheel.Scheduler
	faces *FaceManager
	nh    *Neighborhood
	opts  *Options

	mu   sync.Mutex
	seen map[string]*dupEntry
}

// NewForwarder constructs a Forwarder.
func NewForwarder(sched *timerwheel.Scheduler, faces *FaceManager, nh *Neighborhood, opts *Options) *Forwarder {
	return &Forwarder{sched: sched, faces: faces, nh: nh, opts: opts, seen: map[string]*dupEntry{}}
}

func dupKey(origin netutil.Address, seqNum uint16) string {
	return fmt.Sprintf("%s:%d", origin, seqNum)
}

// Forward relays raw (one already-decoded OLSR message, header
// through body) to every face but arrivalFace, if the default
// forwarding conditions hold. prevHop is the interface address of
// whichever neighbor handed us this message.
func (fw *Forwarder) Forward(arrivalFace *Face, prevHop netutil.Address, msg *Message, raw []byte) {
	if msg.TTL <= 1 {
		return
	}

	key := dupKey(msg.Originator, msg.SeqNum)
	fw.mu.Lock()
	if _, dup := fw.seen[key]; dup {
		fw.mu.Unlock()
		return
	}
	fw.touchSeenLocked(key)
	fw.mu.Unlock()

	if !fw.isMPRSelector(prevHop) {
		return
	}

	fwd := append([]byte(nil), raw...)
	fwd[8] = msg.TTL - 1
	fwd[9] = msg.HopCount + 1
	packet := encodePacket(arrivalFace.nextSeqNum(), fwd)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	fw.faces.Flood(ctx, olsrBroadcast, packet, arrivalFace)
	RecordMessageForwarded(arrivalFace.Name)
}

func (fw *Forwarder) touchSeenLocked(key string) {
	d := fw.opts.DupHoldTime.Get()
	fw.seen[key] = &dupEntry{timer: fw.sched.AfterFunc(d, func() {
		fw.mu.Lock()
		defer fw.mu.Unlock()
		delete(fw.seen, key)
	})}
}

func (fw *Forwarder) isMPRSelector(addr netutil.Address) bool {
	for _, n := range fw.nh.SymmetricNeighbors() {
		if n.MainAddr.Equal(addr) {
			return n.isMPRSelector
		}
	}
	return false
}
