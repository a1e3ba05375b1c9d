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

func newTestForwarder(t *testing.T) (*Forwarder, *Neighborhood, *FaceManager, *fakeBus, *Face, *Face) {
	sched := timerwheel.New()
	t.Cleanup(sched.Stop)

	bus := &fakeBus{}
	faces := NewFaceManager(gokitlog.NewNopLogger(), bus)
	f1 := faces.AddFace(collab.InterfaceInfo{Name: "eth0", Index: 1, PrimaryAddr: addr("10.0.0.1")})
	f2 := faces.AddFace(collab.InterfaceInfo{Name: "eth1", Index: 2, PrimaryAddr: addr("10.0.1.1")})

	opts := DefaultOptions()
	nh := NewNeighborhood(gokitlog.NewNopLogger(), sched, faces, &opts, nil)
	fw := NewForwarder(sched, faces, nh, &opts)
	return fw, nh, faces, bus, f1, f2
}

// makeSelector makes prevHop a symmetric neighbor that has selected us
// as one of its MPRs, the condition the default forwarding rule keys
// off (spec §4.7).
func makeSelector(nh *Neighborhood, f *Face, prevHop netutil.Address, now time.Time) {
	hello := &HelloBody{
		HTime:       2 * time.Second,
		Willingness: WillDefault,
		Groups: []HelloLinkGroup{
			{LinkType: LinkSymmetric, NeighborType: NeighborMPR, Addresses: []netutil.Address{f.LocalAddr}},
		},
	}
	nh.OnHello(f, prevHop, 6*time.Second, hello, now)
}

func tcMessage(t *testing.T, origin netutil.Address, ttl uint8, neighbors []netutil.Address) *Message {
	payload := encodeTC(origin, 1, 15*time.Second, ttl, 9, neighbors)
	packet := encodePacket(1, payload)
	msgs, err := decodePacket(packet)
	if err != nil {
		t.Fatalf("decodePacket: %v", err)
	}
	return msgs[0]
}

func TestForwardRelaysWhenPrevHopIsSelector(t *testing.T) {
	fw, nh, _, bus, f1, f2 := newTestForwarder(t)
	now := time.Now()
	prevHop := addr("10.0.0.9")
	makeSelector(nh, f1, prevHop, now)

	msg := tcMessage(t, addr("10.0.2.1"), 255, []netutil.Address{addr("10.0.2.2")})
	fw.Forward(f1, prevHop, msg, msg.Raw)

	if bus.count() != 1 {
		t.Fatalf("sent = %d, want 1 (only out f2, not the arrival face)", bus.count())
	}
	if bus.sent[0].ifName != f2.Name {
		t.Fatalf("forwarded out %q, want %q", bus.sent[0].ifName, f2.Name)
	}
}

func TestForwardDropsWhenPrevHopIsNotSelector(t *testing.T) {
	fw, _, _, bus, f1, _ := newTestForwarder(t)
	prevHop := addr("10.0.0.9") // never reported us as its MPR

	msg := tcMessage(t, addr("10.0.2.1"), 255, []netutil.Address{addr("10.0.2.2")})
	fw.Forward(f1, prevHop, msg, msg.Raw)

	if bus.count() != 0 {
		t.Fatalf("sent = %d, want 0", bus.count())
	}
}

func TestForwardDropsWhenTTLExhausted(t *testing.T) {
	fw, nh, _, bus, f1, _ := newTestForwarder(t)
	now := time.Now()
	prevHop := addr("10.0.0.9")
	makeSelector(nh, f1, prevHop, now)

	msg := tcMessage(t, addr("10.0.2.1"), 1, []netutil.Address{addr("10.0.2.2")})
	fw.Forward(f1, prevHop, msg, msg.Raw)

	if bus.count() != 0 {
		t.Fatalf("sent = %d, want 0 (TTL already at 1)", bus.count())
	}
}

func TestForwardDropsDuplicateWithinHoldTime(t *testing.T) {
	fw, nh, _, bus, f1, _ := newTestForwarder(t)
	now := time.Now()
	prevHop := addr("10.0.0.9")
	makeSelector(nh, f1, prevHop, now)

	msg := tcMessage(t, addr("10.0.2.1"), 255, []netutil.Address{addr("10.0.2.2")})
	fw.Forward(f1, prevHop, msg, msg.Raw)
	fw.Forward(f1, prevHop, msg, msg.Raw)

	if bus.count() != 1 {
		t.Fatalf("sent = %d, want 1 (second delivery is a duplicate)", bus.count())
	}
}

func TestForwardDecrementsTTLAndBumpsHopCount(t *testing.T) {
	fw, nh, _, bus, f1, _ := newTestForwarder(t)
	now := time.Now()
	prevHop := addr("10.0.0.9")
	makeSelector(nh, f1, prevHop, now)

	msg := tcMessage(t, addr("10.0.2.1"), 255, []netutil.Address{addr("10.0.2.2")})
	startHop := msg.HopCount
	fw.Forward(f1, prevHop, msg, msg.Raw)

	if bus.count() != 1 {
		t.Fatalf("sent = %d, want 1", bus.count())
	}
	relayed, _, err := decodeMessage(bus.sent[0].payload[4:])
	if err != nil {
		t.Fatalf("decodeMessage(relayed): %v", err)
	}
	if relayed.TTL != 254 {
		t.Fatalf("relayed TTL = %d, want 254", relayed.TTL)
	}
	if relayed.HopCount != startHop+1 {
		t.Fatalf("relayed hop count = %d, want %d", relayed.HopCount, startHop+1)
	}
}
