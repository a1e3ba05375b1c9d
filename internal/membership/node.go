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

package membership

import (
	"context"
	"sync"

	gokitlog "github.com/go-kit/kit/log"

	"groupmesh.io/internal/collab"
	"groupmesh.io/internal/timerwheel"
)

// MembershipNode is the node-wide group-membership engine: it owns one
// MembershipVif per admin-up downstream interface and routes inbound
// packets to the right one by interface name (spec §3.4 "Node-wide
// state").
type MembershipNode struct {
	logger    gokitlog.Logger
	scheduler *timerwheel.Scheduler
	bus       collab.PacketBus
	members   collab.MulticastGroupMembership
	ifaces    collab.InterfaceManager
	observers *ObserverRegistry

	mu   sync.Mutex
	vifs map[int]*MembershipVif
}

// NewMembershipNode builds a node from its collaborators. The protocol
// version is not fixed here: each AddVif / ServeInterfaceEvents call
// names the version for the vifs it creates (cmd/groupmeshd passes
// IGMPv3 or MLDv2 according to its -family flag).
func NewMembershipNode(logger gokitlog.Logger, scheduler *timerwheel.Scheduler, bus collab.PacketBus, members collab.MulticastGroupMembership, ifaces collab.InterfaceManager) *MembershipNode {
	return &MembershipNode{
		logger:    logger,
		scheduler: scheduler,
		bus:       bus,
		members:   members,
		ifaces:    ifaces,
		observers: NewObserverRegistry(),
		vifs:      map[int]*MembershipVif{},
	}
}

// Observers exposes the node's ObserverRegistry so upstream routing
// (or a test) can subscribe to JOIN/PRUNE events.
func (n *MembershipNode) Observers() *ObserverRegistry { return n.observers }

// AddVif creates and starts a vif for the given interface, running the
// given protocol version. If a vif already exists for the interface
// index, that vif is returned unchanged.
func (n *MembershipNode) AddVif(ctx context.Context, info collab.InterfaceInfo, version Version) *MembershipVif {
	n.mu.Lock()
	defer n.mu.Unlock()

	if v, ok := n.vifs[info.Index]; ok {
		return v
	}
	v := newMembershipVif(n, info.Name, info.Index, version, info.PrimaryAddr, info.Subnet)
	n.vifs[info.Index] = v
	v.Start(ctx)
	return v
}

// RemoveVif stops and discards the vif for ifIndex, if any.
func (n *MembershipNode) RemoveVif(ifIndex int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	v, ok := n.vifs[ifIndex]
	if !ok {
		return
	}
	v.Stop()
	delete(n.vifs, ifIndex)
}

func (n *MembershipNode) vifByIndex(idx int) *MembershipVif {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.vifs[idx]
}

func (n *MembershipNode) vifByName(name string) *MembershipVif {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, v := range n.vifs {
		if v.ifName == name {
			return v
		}
	}
	return nil
}

// Recv is the PacketBus-facing entry point: Serve's handler callback
// calls this for every inbound datagram, and Recv resolves the owning
// vif by interface name before handing the packet to it (spec §6.2
// recv_protocol_message).
func (n *MembershipNode) Recv(meta collab.PacketMeta, payload []byte) {
	v := n.vifByName(meta.IfName)
	if v == nil {
		return
	}
	v.HandlePacket(meta, payload)
}

// ServeInterfaceEvents consumes InterfaceManager events, bringing vifs
// up and down as interfaces change (spec §3.4 pending-up/pending-down
// transitions).
func (n *MembershipNode) ServeInterfaceEvents(ctx context.Context, version Version) {
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
					n.AddVif(ctx, ev.Info, version)
				}
			case collab.InterfaceDown:
				n.RemoveVif(ev.Info.Index)
			}
		}
	}
}
