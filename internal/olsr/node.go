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

// Node is the node-wide OLSR engine: it owns every Face the mesh
// floods on, the Neighborhood (one/two-hop discovery and MPR
// selection), the TopologyManager (TC/MID databases and the edge push
// to the route manager), and the HELLO/TC emitters and default
// forwarding rule that ride on top of them (spec §3.4/§4 "node-wide
// state").
type Node struct {
	logger    gokitlog.Logger
	scheduler *timerwheel.Scheduler
	ifaces    collab.InterfaceManager
	opts      *Options

	faces     *FaceManager
	nh        *Neighborhood
	topo      *TopologyManager
	forwarder *Forwarder

	mu       sync.Mutex
	mainAddr netutil.Address
	hello    *HelloEmitter
	tc       *TcEmitter
	midPer   *timerwheel.Periodic
}

// NewNode builds an OLSR node from its collaborators.
func NewNode(logger gokitlog.Logger, scheduler *timerwheel.Scheduler, bus collab.PacketBus, ifaces collab.InterfaceManager, routes collab.RouteManager) *Node {
	opts := DefaultOptions()
	n := &Node{
		logger:    logger,
		scheduler: scheduler,
		ifaces:    ifaces,
		opts:      &opts,
		faces:     NewFaceManager(logger, bus),
		topo:      NewTopologyManager(logger, scheduler, routes),
	}
	n.nh = NewNeighborhood(logger, scheduler, n.faces, &opts, n.onNeighborhoodChange)
	n.forwarder = NewForwarder(scheduler, n.faces, n.nh, &opts)
	return n
}

func (n *Node) onNeighborhoodChange() {
	selected := computeMPR(n.nh.Neighbors(), n.nh.TwoHopNeighbors(), int(n.opts.MPRCoverage.Get()))
	n.nh.SetMPRSet(selected)

	n.mu.Lock()
	tc := n.tc
	n.mu.Unlock()
	if tc != nil {
		tc.OnNeighborhoodChange()
	}
}

// AddFace brings up a face for info, starting HELLO origination on it
// and, on the first face this node ever sees, adopting its address as
// the node's main address (RFC 3626 §3).
func (n *Node) AddFace(ctx context.Context, info collab.InterfaceInfo) *Face {
	f := n.faces.AddFace(info)
	f.Willingness = n.opts.Willingness.Get()

	n.mu.Lock()
	if n.mainAddr.IsZero() {
		n.mainAddr = info.PrimaryAddr
	}
	if n.hello == nil {
		n.hello = NewHelloEmitter(n.logger, n.scheduler, n.faces, n.nh, n.opts, n.mainAddr)
		n.tc = NewTcEmitter(n.logger, n.scheduler, n.faces, n.nh, n.opts, n.mainAddr)
	}
	if n.midPer == nil {
		n.midPer = n.scheduler.NewPeriodic(n.opts.MIDInterval.Get(), n.sendMID)
	}
	hello := n.hello
	n.mu.Unlock()

	hello.Start(f)
	return f
}

// RemoveFace tears down the face for ifIndex.
func (n *Node) RemoveFace(ifIndex int) {
	f := n.faces.Face(ifIndex)
	if f == nil {
		return
	}
	n.mu.Lock()
	hello := n.hello
	n.mu.Unlock()
	if hello != nil {
		hello.Stop(f)
	}
	n.faces.RemoveFace(ifIndex)
}

func (n *Node) faceByName(name string) *Face {
	for _, f := range n.faces.Faces() {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// sendMID originates a Multiple Interface Declaration listing every
// face address but the main one (RFC 3626 §5.2, a no-op on a
// single-interface node).
func (n *Node) sendMID() {
	n.mu.Lock()
	mainAddr := n.mainAddr
	n.mu.Unlock()

	var others []netutil.Address
	faces := n.faces.Faces()
	for _, f := range faces {
		if !f.LocalAddr.Equal(mainAddr) {
			others = append(others, f.LocalAddr)
		}
	}
	if len(others) == 0 {
		return
	}

	for _, f := range faces {
		payload := encodeMID(mainAddr, f.nextSeqNum(), n.opts.MIDHoldTime.Get(), others)
		packet := encodePacket(f.nextSeqNum(), payload)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := n.faces.Send(ctx, f, olsrBroadcast, packet); err != nil {
			n.logger.Log("op", "sendMID", "face", f.Name, "error", err)
		}
		cancel()
	}
}

// Recv is the PacketBus-facing entry point: decodes an inbound
// datagram into its messages and dispatches each to the owning
// subsystem, then applies the default forwarding rule.
func (n *Node) Recv(meta collab.PacketMeta, payload []byte) {
	f := n.faceByName(meta.IfName)
	if f == nil {
		return
	}

	msgs, err := decodePacket(payload)
	if err != nil {
		RecordProtoError(f.Name)
		n.logger.Log("op", "Recv", "face", f.Name, "error", err)
		return
	}

	now := time.Now()
	for _, msg := range msgs {
		n.dispatch(f, meta.Src, msg, now)
	}
}

func (n *Node) dispatch(f *Face, src netutil.Address, msg *Message, now time.Time) {
	switch msg.Type {
	case msgTypeHello:
		if msg.Hello == nil {
			return
		}
		n.nh.OnHello(f, src, msg.VTime, msg.Hello, now)
		return // HELLO is never relayed: it is only ever meaningful one hop away

	case msgTypeTC:
		if msg.TC == nil {
			return
		}
		if n.topo.OnTC(msg.Originator, msg.TC.ANSN, msg.TC.Neighbors, msg.VTime, now) {
			n.forwarder.Forward(f, src, msg, msg.Raw)
		}

	case msgTypeMID:
		if msg.MID == nil {
			return
		}
		n.topo.OnMID(msg.Originator, msg.MID.Addresses, msg.VTime, now)
		n.forwarder.Forward(f, src, msg, msg.Raw)

	default:
		// Unknown message types are not processed locally but are still
		// relayed under the default forwarding rule.
		n.forwarder.Forward(f, src, msg, msg.Raw)
	}
}

// ServeInterfaceEvents consumes InterfaceManager events, bringing
// faces up and down as interfaces change.
func (n *Node) ServeInterfaceEvents(ctx context.Context) {
	ch := make(chan collab.InterfaceEvent, 32)
	n.ifaces.Subscribe(ch)
	defer n.ifaces.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			switch ev.Kind {
			case collab.InterfaceUp, collab.InterfaceAddrChanged:
				if ev.Info.AdminUp && !ev.Info.PrimaryAddr.IsZero() {
					n.AddFace(ctx, ev.Info)
				}
			case collab.InterfaceDown:
				n.RemoveFace(ev.Info.Index)
			}
		}
	}
}
