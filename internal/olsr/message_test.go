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

	"groupmesh.io/internal/netutil"
)

func TestHelloRoundTrip(t *testing.T) {
	groups := []HelloLinkGroup{
		{LinkType: LinkSymmetric, NeighborType: NeighborMPR, Addresses: []netutil.Address{addr("10.0.0.2"), addr("10.0.0.3")}},
		{LinkType: LinkAsymmetric, NeighborType: NeighborNotNeighbor, Addresses: []netutil.Address{addr("10.0.0.4")}},
	}

	payload := encodeHello(addr("10.0.0.1"), 7, 6*time.Second, 2*time.Second, WillDefault, groups)
	packet := encodePacket(42, payload)

	msgs, err := decodePacket(packet)
	if err != nil {
		t.Fatalf("decodePacket: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Type != msgTypeHello {
		t.Fatalf("type = %d, want hello", m.Type)
	}
	if !m.Originator.Equal(addr("10.0.0.1")) {
		t.Fatalf("originator = %v", m.Originator)
	}
	if m.SeqNum != 7 {
		t.Fatalf("seqnum = %d, want 7", m.SeqNum)
	}
	if m.Hello == nil || len(m.Hello.Groups) != 2 {
		t.Fatalf("hello groups = %v", m.Hello)
	}
	if m.Hello.Willingness != WillDefault {
		t.Fatalf("willingness = %d", m.Hello.Willingness)
	}

	var sawSym, sawAsym bool
	for _, g := range m.Hello.Groups {
		if g.LinkType == LinkSymmetric {
			sawSym = true
			if g.NeighborType != NeighborMPR || len(g.Addresses) != 2 {
				t.Fatalf("sym group = %+v", g)
			}
		}
		if g.LinkType == LinkAsymmetric {
			sawAsym = true
			if g.NeighborType != NeighborNotNeighbor || len(g.Addresses) != 1 {
				t.Fatalf("asym group = %+v", g)
			}
		}
	}
	if !sawSym || !sawAsym {
		t.Fatalf("missing expected link groups: sym=%v asym=%v", sawSym, sawAsym)
	}
}

func TestTCRoundTrip(t *testing.T) {
	neighbors := []netutil.Address{addr("10.0.0.2"), addr("10.0.0.3")}
	payload := encodeTC(addr("10.0.0.1"), 3, 15*time.Second, 255, 9, neighbors)
	packet := encodePacket(1, payload)

	msgs, err := decodePacket(packet)
	if err != nil {
		t.Fatalf("decodePacket: %v", err)
	}
	if len(msgs) != 1 || msgs[0].TC == nil {
		t.Fatalf("msgs = %+v", msgs)
	}
	tc := msgs[0].TC
	if tc.ANSN != 9 {
		t.Fatalf("ansn = %d, want 9", tc.ANSN)
	}
	if len(tc.Neighbors) != 2 {
		t.Fatalf("neighbors = %v", tc.Neighbors)
	}
}

func TestDecodePacketRejectsShortHeader(t *testing.T) {
	if _, err := decodePacket([]byte{0, 1}); err == nil {
		t.Fatal("expected error on truncated packet header")
	}
}

func TestDecodePacketRejectsOversizedLength(t *testing.T) {
	buf := make([]byte, 4)
	buf[0] = 0xff
	buf[1] = 0xff
	if _, err := decodePacket(buf); err == nil {
		t.Fatal("expected error on length exceeding datagram")
	}
}

func TestSeqNewerHandlesWraparound(t *testing.T) {
	cases := []struct {
		a, b uint16
		want bool
	}{
		{5, 3, true},
		{3, 5, false},
		{3, 3, false},
		{1, 65530, true},    // wrapped forward
		{65530, 1, false},
	}
	for _, c := range cases {
		if got := seqNewer(c.a, c.b); got != c.want {
			t.Errorf("seqNewer(%d, %d) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestVTimeRoundTripIsMonotonic(t *testing.T) {
	// decode(encode(v)) must never exceed v: a receiver should never be
	// told a link is valid for longer than the sender asked for.
	for _, d := range []time.Duration{1 * time.Second, 2 * time.Second, 6 * time.Second, 30 * time.Second} {
		code := encodeVTime(d)
		got := decodeVTime(code)
		if got > d {
			t.Errorf("decodeVTime(encodeVTime(%v)) = %v, want <= %v", d, got, d)
		}
	}
}
