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
	"net"
	"sync"

	gokitlog "github.com/go-kit/kit/log"

	"groupmesh.io/internal/collab"
	"groupmesh.io/internal/netutil"
	"groupmesh.io/internal/timerwheel"
)

// fakeBus records every packet SendProtocolMessage is asked to send,
// so tests can assert on queries without a real socket.
type fakeBus struct {
	mu   sync.Mutex
	sent []fakeSent
}

type fakeSent struct {
	ifName      string
	dst         netutil.Address
	payload     []byte
}

func (b *fakeBus) SendProtocolMessage(ctx context.Context, ifName string, src, dst netutil.Address, ttl, tos int, routerAlert bool, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, fakeSent{ifName: ifName, dst: dst, payload: payload})
	return nil
}

func (b *fakeBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

// fakeMembership records AddMembership/DeleteMembership calls, the
// engine -> upstream-routing half of the notification contract.
type fakeMembership struct {
	mu     sync.Mutex
	events []Event
}

func (m *fakeMembership) JoinMulticastGroup(ctx context.Context, ifName string, group netutil.Address) error {
	return nil
}
func (m *fakeMembership) LeaveMulticastGroup(ctx context.Context, ifName string, group netutil.Address) error {
	return nil
}

func (m *fakeMembership) AddMembership(ctx context.Context, ifName string, src, group netutil.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Event{Kind: EventJoin, Source: src, Group: group})
	return nil
}

func (m *fakeMembership) DeleteMembership(ctx context.Context, ifName string, src, group netutil.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Event{Kind: EventPrune, Source: src, Group: group})
	return nil
}

func (m *fakeMembership) snapshot() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

type fakeIfaces struct{}

func (fakeIfaces) Interfaces(ctx context.Context) ([]collab.InterfaceInfo, error) { return nil, nil }
func (fakeIfaces) Subscribe(ch chan<- collab.InterfaceEvent)                      {}
func (fakeIfaces) Unsubscribe(ch chan<- collab.InterfaceEvent)                    {}

func newTestVif(t interface{ Cleanup(func()) }, version Version) (*MembershipVif, *fakeBus, *fakeMembership) {
	sched := timerwheel.New()
	t.Cleanup(sched.Stop)

	bus := &fakeBus{}
	members := &fakeMembership{}
	node := NewMembershipNode(gokitlog.NewNopLogger(), sched, bus, members, fakeIfaces{})

	_, subnet, _ := net.ParseCIDR("192.168.1.0/24")
	if version.Family() == netutil.IPv6 {
		_, subnet, _ = net.ParseCIDR("2001:db8::/64")
	}

	primary := netutil.NewAddress(net.IPv4(192, 168, 1, 1))
	if version.Family() == netutil.IPv6 {
		primary = netutil.NewAddress(net.ParseIP("2001:db8::1"))
	}

	v := node.AddVif(context.Background(), collab.InterfaceInfo{
		Name:        "eth0",
		Index:       1,
		AdminUp:     true,
		PrimaryAddr: primary,
		Subnet:      subnet,
		MTU:         1500,
	}, version)

	return v, bus, members
}
