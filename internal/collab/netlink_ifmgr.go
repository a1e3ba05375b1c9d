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

package collab

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/apparentlymart/go-cidr/cidr"
	gokitlog "github.com/go-kit/kit/log"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netlink/nl"

	"groupmesh.io/internal/netutil"
)

// NetlinkInterfaceManager is the concrete InterfaceManager collaborator
// backed by the host's netlink socket, grounded on
// internal/local/network.go's use of netlink.LinkByName/AddrList.
type NetlinkInterfaceManager struct {
	logger gokitlog.Logger
	family netutil.Family

	mu   sync.Mutex
	subs map[chan<- InterfaceEvent]struct{}

	linkUpdates chan netlink.LinkUpdate
	addrUpdates chan netlink.AddrUpdate
	done        chan struct{}
}

// NewNetlinkInterfaceManager starts watching link and address changes
// for the given address family.
func NewNetlinkInterfaceManager(l gokitlog.Logger, family netutil.Family) (*NetlinkInterfaceManager, error) {
	m := &NetlinkInterfaceManager{
		logger:      l,
		family:      family,
		subs:        map[chan<- InterfaceEvent]struct{}{},
		linkUpdates: make(chan netlink.LinkUpdate, 64),
		addrUpdates: make(chan netlink.AddrUpdate, 64),
		done:        make(chan struct{}),
	}

	if err := netlink.LinkSubscribe(m.linkUpdates, m.done); err != nil {
		return nil, fmt.Errorf("subscribing to link updates: %w", err)
	}
	if err := netlink.AddrSubscribe(m.addrUpdates, m.done); err != nil {
		return nil, fmt.Errorf("subscribing to address updates: %w", err)
	}

	go m.watch()

	return m, nil
}

func nlFamily(f netutil.Family) int {
	if f == netutil.IPv6 {
		return nl.FAMILY_V6
	}
	return nl.FAMILY_V4
}

// Interfaces implements InterfaceManager.
func (m *NetlinkInterfaceManager) Interfaces(ctx context.Context) ([]InterfaceInfo, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("listing links: %w", err)
	}

	var out []InterfaceInfo
	for _, link := range links {
		info, ok, err := m.describe(link)
		if err != nil {
			m.logger.Log("op", "Interfaces", "interface", link.Attrs().Name, "error", err, "msg", "failed to read interface addresses")
			continue
		}
		if ok {
			out = append(out, info)
		}
	}
	return out, nil
}

func (m *NetlinkInterfaceManager) describe(link netlink.Link) (InterfaceInfo, bool, error) {
	attrs := link.Attrs()

	addrs, err := netlink.AddrList(link, nlFamily(m.family))
	if err != nil {
		return InterfaceInfo{}, false, err
	}
	if len(addrs) == 0 {
		return InterfaceInfo{}, false, nil
	}

	primary := addrs[0]
	_, network, err := cidr.Subnet(&net.IPNet{IP: primary.IP.Mask(primary.Mask), Mask: primary.Mask}, 0, 0)
	if err != nil {
		network = &net.IPNet{IP: primary.IP.Mask(primary.Mask), Mask: primary.Mask}
	}

	return InterfaceInfo{
		Name:        attrs.Name,
		Index:       attrs.Index,
		AdminUp:     attrs.Flags&net.FlagUp != 0,
		PrimaryAddr: netutil.NewAddress(primary.IP),
		Subnet:      network,
		MTU:         attrs.MTU,
	}, true, nil
}

// Subscribe implements InterfaceManager.
func (m *NetlinkInterfaceManager) Subscribe(ch chan<- InterfaceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[ch] = struct{}{}
}

// Unsubscribe implements InterfaceManager.
func (m *NetlinkInterfaceManager) Unsubscribe(ch chan<- InterfaceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, ch)
}

// Close stops watching netlink updates.
func (m *NetlinkInterfaceManager) Close() {
	close(m.done)
}

func (m *NetlinkInterfaceManager) watch() {
	for {
		select {
		case u, ok := <-m.linkUpdates:
			if !ok {
				return
			}
			kind := InterfaceDown
			if u.Link.Attrs().Flags&net.FlagUp != 0 {
				kind = InterfaceUp
			}
			info, found, err := m.describe(u.Link)
			if err != nil || !found {
				continue
			}
			m.broadcast(InterfaceEvent{Kind: kind, Info: info})

		case u, ok := <-m.addrUpdates:
			if !ok {
				return
			}
			link, err := netlink.LinkByIndex(u.LinkIndex)
			if err != nil {
				continue
			}
			info, found, err := m.describe(link)
			if err != nil || !found {
				continue
			}
			m.broadcast(InterfaceEvent{Kind: InterfaceAddrChanged, Info: info})

		case <-m.done:
			return
		}
	}
}

func (m *NetlinkInterfaceManager) broadcast(ev InterfaceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
			m.logger.Log("op", "broadcast", "msg", "subscriber channel full, dropping interface event")
		}
	}
}
