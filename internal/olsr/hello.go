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
	"net"
	"sync"
	"time"

	gokitlog "github.com/go-kit/kit/log"

	"groupmesh.io/internal/netutil"
	"groupmesh.io/internal/timerwheel"
)

// olsrBroadcast is the destination address HELLO/TC/MID are sent to:
// OLSR has no assigned multicast group, so implementations broadcast
// on the local subnet (RFC 3626 makes no mandate; this matches common
// deployments such as olsrd's default).
var olsrBroadcast = netutil.NewAddress(net.IPv4bcast)

// HelloEmitter periodically originates a HELLO on every face,
// describing this node's current view of its one-hop links (RFC 3626
// §6.1, spec §4.2 "HELLO generation").
type HelloEmitter struct {
	logger   gokitlog.Logger
	sched    *timerwheel.Scheduler
	faces    *FaceManager
	nh       *Neighborhood
	opts     *Options
	mainAddr netutil.Address

	mu        sync.Mutex
	periodics map[int]*timerwheel.Periodic
}

// NewHelloEmitter constructs a HelloEmitter. mainAddr is the node's
// main address (RFC 3626 §3), used as every originated message's
// Originator field regardless of which face sends it.
func NewHelloEmitter(logger gokitlog.Logger, sched *timerwheel.Scheduler, faces *FaceManager, nh *Neighborhood, opts *Options, mainAddr netutil.Address) *HelloEmitter {
	return &HelloEmitter{
		logger:    logger,
		sched:     sched,
		faces:     faces,
		nh:        nh,
		opts:      opts,
		mainAddr:  mainAddr,
		periodics: map[int]*timerwheel.Periodic{},
	}
}

// Start begins periodic HELLO origination on f.
func (h *HelloEmitter) Start(f *Face) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.periodics[f.Index]; ok {
		return
	}
	h.periodics[f.Index] = h.sched.NewPeriodic(h.opts.HelloInterval.Get(), func() {
		h.send(f)
	})
}

// Stop halts HELLO origination on f.
func (h *HelloEmitter) Stop(f *Face) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.periodics[f.Index]; ok {
		p.Cancel()
		delete(h.periodics, f.Index)
	}
}

func (h *HelloEmitter) send(f *Face) {
	groups := h.buildGroups()

	for _, chunk := range chunkHelloGroups(groups, maxMessageBodySize(f.MTU)) {
		payload := encodeHello(h.mainAddr, f.nextSeqNum(), h.opts.NeighbHoldTime.Get(), h.opts.HelloInterval.Get(), f.Willingness, chunk)
		packet := encodePacket(f.nextSeqNum(), payload)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := h.faces.Send(ctx, f, olsrBroadcast, packet)
		cancel()
		if err != nil {
			h.logger.Log("op", "sendHello", "face", f.Name, "error", err)
			continue
		}
		RecordHelloSent(f.Name)
	}
}

// maxMessageBodySize bounds an outgoing message body so the resulting
// packet never exceeds the face's MTU, leaving room for the 4-octet
// packet header and 12-octet message header.
func maxMessageBodySize(mtu int) int {
	const overhead = 4 + 12
	size := mtu - overhead
	if size < 64 {
		size = 64
	}
	return size
}

// chunkHelloGroups splits groups across as many HELLO bodies as needed
// to stay under maxBody, splitting a single oversized group's address
// list across synthetic sub-groups rather than ever truncating it
// (spec §5 buffer discipline, "MTU splitting").
func chunkHelloGroups(groups []HelloLinkGroup, maxBody int) [][]HelloLinkGroup {
	const fixedFields = 4 // reserved(2) + htime(1) + willingness(1)
	const groupHeader = 4
	maxAddrsPerGroup := (maxBody - fixedFields - groupHeader) / 4
	if maxAddrsPerGroup < 1 {
		maxAddrsPerGroup = 1
	}

	var split []HelloLinkGroup
	for _, g := range groups {
		for len(g.Addresses) > maxAddrsPerGroup {
			split = append(split, HelloLinkGroup{LinkType: g.LinkType, NeighborType: g.NeighborType, Addresses: g.Addresses[:maxAddrsPerGroup]})
			g.Addresses = g.Addresses[maxAddrsPerGroup:]
		}
		split = append(split, g)
	}

	var chunks [][]HelloLinkGroup
	var cur []HelloLinkGroup
	used := fixedFields
	for _, g := range split {
		size := groupHeader + len(g.Addresses)*4
		if len(cur) > 0 && used+size > maxBody {
			chunks = append(chunks, cur)
			cur = nil
			used = fixedFields
		}
		cur = append(cur, g)
		used += size
	}
	if len(cur) > 0 || len(chunks) == 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}

// buildGroups classifies every known neighbor by its current
// (LinkType, NeighborType) pair. All faces report the same neighbor
// list regardless of which face discovered each neighbor.
type linkNeighborPair struct {
	link     LinkType
	neighbor NeighborType
}

func (h *HelloEmitter) buildGroups() []HelloLinkGroup {
	byPair := map[linkNeighborPair][]netutil.Address{}
	for _, n := range h.nh.Neighbors() {
		lt := n.status()
		if lt == LinkLost {
			continue
		}
		nt := NeighborNotNeighbor
		if n.isSymmetric() {
			nt = NeighborSymmetric
			if n.isMPR {
				nt = NeighborMPR
			}
		}
		pair := linkNeighborPair{link: lt, neighbor: nt}
		byPair[pair] = append(byPair[pair], n.MainAddr)
	}

	var groups []HelloLinkGroup
	for pair, addrs := range byPair {
		groups = append(groups, HelloLinkGroup{LinkType: pair.link, NeighborType: pair.neighbor, Addresses: addrs})
	}
	return groups
}
