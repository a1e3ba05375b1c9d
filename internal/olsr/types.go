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

// Package olsr implements the RFC 3626 Optimized Link State Routing
// mesh engine: HELLO-based one/two-hop neighbor discovery, Multi-Point
// Relay (MPR) selection, Topology Control (TC) flooding through MPRs,
// and the edge list pushed to an external route manager.
package olsr

import "groupmesh.io/internal/netutil"

// LinkType is the direction of reachability a face has observed on a
// logical link, derived from the neighbor lists carried in its own and
// its neighbor's HELLO messages (spec §4.3, RFC 3626 §6.1.1).
type LinkType int

const (
	LinkUnspecified LinkType = iota
	LinkAsymmetric
	LinkSymmetric
	LinkLost
	LinkMPR // symmetric and additionally selected as this node's MPR
)

func (t LinkType) String() string {
	switch t {
	case LinkAsymmetric:
		return "ASYM"
	case LinkSymmetric:
		return "SYM"
	case LinkLost:
		return "LOST"
	case LinkMPR:
		return "MPR"
	default:
		return "UNSPEC"
	}
}

// NeighborType is the per-neighbor classification carried in an
// outgoing HELLO's neighbor-address list (RFC 3626 §6.1, derived from
// the best LinkType across all links to that neighbor).
type NeighborType int

const (
	NeighborNotNeighbor NeighborType = iota
	NeighborSymmetric
	NeighborMPR
)

// Willingness is the RFC 3626 §18.8 advertised forwarding willingness,
// ranging WillNever..WillAlways. The engine defaults every local face
// to WillDefault.
type Willingness uint8

const (
	WillNever   Willingness = 0
	WillLow     Willingness = 1
	WillDefault Willingness = 3
	WillHigh    Willingness = 6
	WillAlways  Willingness = 7
)

// NeighborID identifies a one-hop neighbor by its OLSR main address
// (RFC 3626 §3, the address it uses to originate TC messages).
type NeighborID = netutil.Address

// TCRedundancy selects which neighbors a TC message advertises (RFC
// 3626 §9.1 / §18.6). It never affects whether TC origination is
// Running or Stopped (§9.2's "has at least one MPR selector" test is
// independent of it); it only affects the body a running emitter
// writes.
type TCRedundancy uint8

const (
	// TCRedundancyMPRSIn advertises only the MPR selector set: the
	// smallest body that still lets every other node compute full
	// topology, and the RFC's default.
	TCRedundancyMPRSIn TCRedundancy = iota
	// TCRedundancyMPRSInOut additionally advertises this node's own MPR
	// set, trading message size for extra route redundancy.
	TCRedundancyMPRSInOut
	// TCRedundancyAll advertises every symmetric neighbor regardless of
	// MPR status.
	TCRedundancyAll
)

func (r TCRedundancy) String() string {
	switch r {
	case TCRedundancyMPRSIn:
		return "mprs-in"
	case TCRedundancyMPRSInOut:
		return "mprs-inout"
	case TCRedundancyAll:
		return "all"
	default:
		return "unknown"
	}
}
