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

	gokitlog "github.com/go-kit/kit/log"

	"groupmesh.io/internal/collab"
	"groupmesh.io/internal/netutil"
	"groupmesh.io/internal/timerwheel"
)

// fakeBus records every packet SendProtocolMessage is asked to send.
type fakeBus struct {
	mu   sync.Mutex
	sent []fakeSent
}

type fakeSent struct {
	ifName  string
	dst     netutil.Address
	payload []byte
}

func (b *fakeBus) SendProtocolMessage(ctx context.Context, ifName string, src, dst netutil.Address, ttl, tos int, routerAlert bool, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, fakeSent{ifName: ifName, dst: dst, payload: append([]byte(nil), payload...)})
	return nil
}

func (b *fakeBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

// fakeRoutes records every edge set pushed by the topology manager.
type fakeRoutes struct {
	mu    sync.Mutex
	edges [][]collab.Edge
}

func (r *fakeRoutes) UpdateEdges(ctx context.Context, edges []collab.Edge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edges = append(r.edges, append([]collab.Edge(nil), edges...))
	return nil
}

func (r *fakeRoutes) last() []collab.Edge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.edges) == 0 {
		return nil
	}
	return r.edges[len(r.edges)-1]
}

type fakeIfaces struct{}

func (fakeIfaces) Interfaces(ctx context.Context) ([]collab.InterfaceInfo, error) { return nil, nil }
func (fakeIfaces) Subscribe(ch chan<- collab.InterfaceEvent)                      {}
func (fakeIfaces) Unsubscribe(ch chan<- collab.InterfaceEvent)                    {}

func addr(s string) netutil.Address { return netutil.NewAddress(net.ParseIP(s)) }

func newTestNode(t interface{ Cleanup(func()) }) (*Node, *fakeBus, *fakeRoutes, *Face) {
	sched := timerwheel.New()
	t.Cleanup(sched.Stop)

	bus := &fakeBus{}
	routes := &fakeRoutes{}
	n := NewNode(gokitlog.NewNopLogger(), sched, bus, fakeIfaces{}, routes)

	_, subnet, _ := net.ParseCIDR("10.0.0.0/24")
	f := n.AddFace(context.Background(), collab.InterfaceInfo{
		Name:        "eth0",
		Index:       1,
		AdminUp:     true,
		PrimaryAddr: addr("10.0.0.1"),
		Subnet:      subnet,
		MTU:         1500,
	})

	return n, bus, routes, f
}
