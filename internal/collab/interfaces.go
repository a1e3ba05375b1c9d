// Copyright 2017 Google Inc.
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

// Package collab holds the external-collaborator interfaces described
// in spec §6: the forwarding engine, the packet bus, the interface
// manager, and the route manager. Both engines depend only on these
// interfaces, never on a concrete transport, so the RFC state machines
// can be driven from tests without a kernel or a NIC.
package collab

import (
	"context"
	"net"

	"groupmesh.io/internal/netutil"
)

// PacketMeta carries the per-packet metadata that accompanies every
// inbound datagram over the RPC surface in spec §6.2
// (recv_protocol_message). TTL and TOS use -1 as the "not supplied"
// sentinel matching spec §3.1's negative-TimeVal convention.
type PacketMeta struct {
	IfName      string
	Src, Dst    netutil.Address
	TTL         int
	TOS         int
	RouterAlert bool
	IPControl   bool
}

// PacketBus is the RPC surface of spec §6.2 used to exchange raw
// protocol messages with the kernel/forwarding plane. recv is driven
// by the collaborator calling into the engine (see
// membership.MembershipNode.Recv / olsr.Node.Recv); send is the engine
// calling out.
type PacketBus interface {
	// SendProtocolMessage transmits payload from src to dst on ifName,
	// with the given TTL/hop-limit, TOS, and Router-Alert option.
	SendProtocolMessage(ctx context.Context, ifName string, src, dst netutil.Address, ttl, tos int, routerAlert bool, payload []byte) error
}

// MulticastGroupMembership is the forwarding-engine collaborator
// surface for join_multicast_group / leave_multicast_group and
// add_membership / delete_membership (spec §6.2).
type MulticastGroupMembership interface {
	JoinMulticastGroup(ctx context.Context, ifName string, group netutil.Address) error
	LeaveMulticastGroup(ctx context.Context, ifName string, group netutil.Address) error

	// AddMembership/DeleteMembership notify upstream multicast routing
	// that (source, group) forwarding state on ifName must change; this
	// is the engine -> upstream-routing half of the notification
	// contract in spec §4.1.
	AddMembership(ctx context.Context, ifName string, src, group netutil.Address) error
	DeleteMembership(ctx context.Context, ifName string, src, group netutil.Address) error
}

// InterfaceInfo is a snapshot of one interface as reported by the
// external interface manager (spec §1, out of scope: "Interface/
// address discovery").
type InterfaceInfo struct {
	Name        string
	Index       int
	AdminUp     bool
	PrimaryAddr netutil.Address
	Subnet      *net.IPNet
	MTU         int
}

// InterfaceEventKind distinguishes the events an InterfaceManager can
// report.
type InterfaceEventKind int

const (
	InterfaceUp InterfaceEventKind = iota
	InterfaceDown
	InterfaceAddrChanged
)

// InterfaceEvent is delivered to an InterfaceManager subscriber.
type InterfaceEvent struct {
	Kind InterfaceEventKind
	Info InterfaceInfo
}

// InterfaceManager discovers and watches the interfaces a vif/Face can
// run on. A MembershipVif or OLSR Face only transitions from
// pending-up to up once this collaborator reports the interface and
// its primary address are available (spec §3.4).
type InterfaceManager interface {
	Interfaces(ctx context.Context) ([]InterfaceInfo, error)
	Subscribe(ch chan<- InterfaceEvent)
	Unsubscribe(ch chan<- InterfaceEvent)
}

// Edge is one directed edge fed to the route manager's SPT computation
// (spec §4.6, "push to route manager").
type Edge struct {
	Origin, Dest netutil.Address
	Distance     int
}

// RouteManager is the external collaborator that owns SPT computation
// and route installation (spec §1, out of scope).
type RouteManager interface {
	UpdateEdges(ctx context.Context, edges []Edge) error
}
